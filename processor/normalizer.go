package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	appconfig "cseflow/config"
	"cseflow/internal/metrics"
	"cseflow/internal/symbols"
	"cseflow/logger"
	"cseflow/models"
	"cseflow/writer"
)

// NormalizeSummary reports what one normalizer pass produced.
type NormalizeSummary struct {
	Written int
	Rows    int
	Empty   int
	Skipped int
}

// Normalizer turns has_data raw dumps into canonical per-ticker CSVs.
type Normalizer struct {
	config  *appconfig.Config
	metrics *metrics.Pipeline
	log     *logger.Log
}

func NewNormalizer(cfg *appconfig.Config, m *metrics.Pipeline) *Normalizer {
	return &Normalizer{config: cfg, metrics: m, log: logger.GetLogger()}
}

// RunFromManifest normalizes the entries listed in the configured manifest.
func (n *Normalizer) RunFromManifest(ctx context.Context) (NormalizeSummary, error) {
	entries, err := writer.ReadManifest(n.config.Paths.Manifest)
	if err != nil {
		return NormalizeSummary{}, fmt.Errorf("failed to read manifest: %w", err)
	}
	return n.Run(ctx, entries)
}

// Run writes <normalized_dir>/<ticker>.csv for every has_data entry.
// Unreadable or unparseable dumps and tickers without surviving rows are
// reported and skipped; only write failures abort the pass.
func (n *Normalizer) Run(ctx context.Context, entries []models.ManifestEntry) (NormalizeSummary, error) {
	started := time.Now()
	defer n.metrics.ObserveStage("normalize", started)

	var summary NormalizeSummary
	if err := os.MkdirAll(n.config.Paths.NormalizedDir, 0o755); err != nil {
		return summary, fmt.Errorf("failed to create normalized dir: %w", err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if e.Status != models.StatusHasData {
			continue
		}
		log := n.log.WithComponent("normalizer").WithFields(logger.Fields{
			"ticker": e.Ticker,
			"path":   e.RelativePath,
		})

		rawPath := filepath.Join(n.config.Paths.RawDir, filepath.FromSlash(e.RelativePath))
		outPath := filepath.Join(n.config.Paths.NormalizedDir, symbols.Filename(e.Ticker, ".csv"))

		rows, err := NormalizeFile(e.Ticker, rawPath)
		if err != nil {
			log.WithError(err).Warn("skipping raw file")
			summary.Skipped++
			continue
		}
		if len(rows) == 0 {
			log.Warn("no rows survived normalization")
			summary.Empty++
			if err := os.Remove(outPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				return summary, fmt.Errorf("failed to remove stale %s: %w", outPath, err)
			}
			continue
		}

		if err := writer.WriteCanonicalCSV(outPath, rows, n.config.Writer.CSV.FloatPrecision); err != nil {
			return summary, err
		}
		summary.Written++
		summary.Rows += len(rows)
		n.metrics.RowsNormalized(len(rows))
		log.WithFields(logger.Fields{"rows": len(rows), "output": outPath}).Debug("wrote normalized file")
	}

	metrics.ReportStage(n.log, "normalizer", metrics.StageStats{
		Inputs:  int64(summary.Written + summary.Empty + summary.Skipped),
		Outputs: int64(summary.Written),
		Rows:    int64(summary.Rows),
		Skipped: int64(summary.Skipped),
	})
	logger.LogDataFlowEntry(n.log.WithComponent("normalizer"), n.config.Paths.RawDir, n.config.Paths.NormalizedDir, summary.Rows, "canonical_csv")
	return summary, nil
}

// ErrNoRecordList is returned when a dump parses but holds no record list.
var ErrNoRecordList = errors.New("no record list in document")

// NormalizeFile re-reads a raw dump and returns its canonical rows.
func NormalizeFile(ticker, path string) ([]models.PriceRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", path, err)
	}
	records, ok := RecordList(doc)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRecordList, path)
	}
	return NormalizeRecords(ticker, records), nil
}

// NormalizeRecords maps raw records to canonical rows, drops rows without a
// trade date or a numeric close, and orders the result by trade date.
// Non-object records are ignored.
func NormalizeRecords(ticker string, records []interface{}) []models.PriceRow {
	rows := make([]models.PriceRow, 0, len(records))
	for _, r := range records {
		rec, ok := r.(*Object)
		if !ok {
			continue
		}
		row := BuildRow(ticker, rec)
		if row.TradeDate.IsZero() || !row.Close.Valid {
			continue
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].TradeDate.Before(rows[j].TradeDate)
	})
	return rows
}
