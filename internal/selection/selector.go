// Package selection decides which tickers carry enough history to enter
// the panel.
package selection

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	appconfig "cseflow/config"
	"cseflow/internal/metrics"
	"cseflow/logger"
	"cseflow/models"
	"cseflow/writer"
)

// ErrNoTickers marks a selection in which no ticker is included.
var ErrNoTickers = errors.New("no tickers selected")

// Criteria are the inclusion thresholds. A zero MinStart or MinSpanDays
// disables that rule.
type Criteria struct {
	MinRows     int
	MinStart    time.Time
	MinSpanDays int
}

// CriteriaFromConfig parses the selection section of the config.
func CriteriaFromConfig(cfg appconfig.SelectionConfig) (Criteria, error) {
	start, err := models.ParseDate(cfg.MinStart)
	if err != nil {
		return Criteria{}, fmt.Errorf("selection.min_start: %w", err)
	}
	return Criteria{MinRows: cfg.MinRows, MinStart: start, MinSpanDays: cfg.MinSpanDays}, nil
}

// Include applies the rules to one entry. The span rule is skipped when
// either date is unknown.
func (c Criteria) Include(e models.SelectionEntry) bool {
	if e.Rows < c.MinRows {
		return false
	}
	if !c.MinStart.IsZero() && (e.StartDate.IsZero() || e.StartDate.After(c.MinStart)) {
		return false
	}
	if c.MinSpanDays > 0 {
		if span := e.SpanDays(); span >= 0 && span < c.MinSpanDays {
			return false
		}
	}
	return true
}

// Select builds the selection for every has_data manifest entry, ordered by
// row count descending then ticker.
func Select(entries []models.ManifestEntry, c Criteria) []models.SelectionEntry {
	out := make([]models.SelectionEntry, 0, len(entries))
	for _, e := range entries {
		if e.Status != models.StatusHasData {
			continue
		}
		s := models.SelectionEntry{
			Ticker:       e.Ticker,
			RelativePath: e.RelativePath,
			Rows:         e.Rows,
			StartDate:    e.StartDate,
			EndDate:      e.EndDate,
		}
		s.Include = c.Include(s)
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rows != out[j].Rows {
			return out[i].Rows > out[j].Rows
		}
		return out[i].Ticker < out[j].Ticker
	})
	return out
}

// Included returns the tickers flagged for inclusion, in selection order.
func Included(entries []models.SelectionEntry) []string {
	var tickers []string
	for _, e := range entries {
		if e.Include {
			tickers = append(tickers, e.Ticker)
		}
	}
	return tickers
}

type Selector struct {
	config  *appconfig.Config
	metrics *metrics.Pipeline
	log     *logger.Log
}

func NewSelector(cfg *appconfig.Config, m *metrics.Pipeline) *Selector {
	return &Selector{config: cfg, metrics: m, log: logger.GetLogger()}
}

// Run reads the manifest, applies c and overwrites the selection file.
func (s *Selector) Run(ctx context.Context, c Criteria) ([]models.SelectionEntry, error) {
	started := time.Now()
	defer s.metrics.ObserveStage("select", started)

	if _, err := os.Stat(s.config.Paths.Manifest); err != nil {
		return nil, fmt.Errorf("manifest not found: %s: %w", s.config.Paths.Manifest, err)
	}
	manifest, err := writer.ReadManifest(s.config.Paths.Manifest)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	selected := Select(manifest, c)
	if err := writer.WriteSelection(s.config.Paths.TickersFile, selected); err != nil {
		return nil, fmt.Errorf("failed to write selection: %w", err)
	}

	included := 0
	for _, e := range selected {
		s.metrics.TickerSelected(e.Include)
		if e.Include {
			included++
		}
	}
	log := s.log.WithComponent("selector").WithFields(logger.Fields{
		"output":        s.config.Paths.TickersFile,
		"tickers":       len(selected),
		"included":      included,
		"min_rows":      c.MinRows,
		"min_start":     models.FormatDate(c.MinStart),
		"min_span_days": c.MinSpanDays,
	})
	if included == 0 {
		log.Warn("selection includes no tickers")
	} else {
		log.Info("wrote ticker selection")
	}
	return selected, nil
}
