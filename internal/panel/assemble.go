// Package panel builds the long price panel from the selected tickers and
// derives the returns table from it.
package panel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	appconfig "cseflow/config"
	"cseflow/internal/metadata"
	"cseflow/internal/metrics"
	"cseflow/internal/selection"
	"cseflow/internal/symbols"
	"cseflow/logger"
	"cseflow/models"
	"cseflow/writer"
)

// ErrNoData is returned when a build would produce an empty table.
var ErrNoData = errors.New("no rows assembled")

// Result describes one written artifact.
type Result struct {
	Path    string
	Rows    int
	Tickers int
	Size    int64
}

// Builder runs the assemble and returns stages.
type Builder struct {
	config  *appconfig.Config
	metrics *metrics.Pipeline
	ledger  *metadata.Ledger
	log     *logger.Log
}

// NewBuilder returns a Builder. ledger may be nil, in which case builds are
// not recorded.
func NewBuilder(cfg *appconfig.Config, m *metrics.Pipeline, ledger *metadata.Ledger) *Builder {
	return &Builder{config: cfg, metrics: m, ledger: ledger, log: logger.GetLogger()}
}

// Assemble concatenates the canonical CSVs of every included ticker into the
// panel file. Missing or unreadable ticker files are skipped with a warning.
func (b *Builder) Assemble(ctx context.Context) (Result, error) {
	started := time.Now()
	defer b.metrics.ObserveStage("assemble", started)
	log := b.log.WithComponent("assembler")

	sel, err := writer.ReadSelection(b.config.Paths.TickersFile)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read selection: %w", err)
	}
	tickers := selection.Included(sel)
	if len(tickers) == 0 {
		return Result{}, fmt.Errorf("%w: %w", ErrNoData, selection.ErrNoTickers)
	}

	var (
		rows    []models.PriceRow
		used    int
		skipped int
	)
	for _, ticker := range tickers {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		tlog := log.WithFields(logger.Fields{"ticker": ticker})
		path := filepath.Join(b.config.Paths.NormalizedDir, symbols.Filename(ticker, ".csv"))
		if _, err := os.Stat(path); err != nil {
			tlog.WithError(err).Warn("normalized file missing, skipping ticker")
			skipped++
			continue
		}
		part, bad, err := writer.ReadCanonicalCSV(path)
		if err != nil {
			tlog.WithError(err).Warn("could not read normalized file, skipping ticker")
			skipped++
			continue
		}
		if bad > 0 {
			tlog.WithFields(logger.Fields{"rows": bad}).Warn("dropped rows with unparseable trade_date")
		}
		for i := range part {
			part[i].Ticker = ticker
			part[i].TradeDate = models.Day(part[i].TradeDate)
		}
		rows = append(rows, part...)
		used++
	}

	if len(rows) == 0 {
		return Result{}, ErrNoData
	}
	SortPanel(rows)

	size, err := writer.WritePanel(b.config.Paths.PanelFile, rows, b.config.Writer.Parquet)
	if err != nil {
		return Result{}, err
	}
	res := Result{Path: b.config.Paths.PanelFile, Rows: len(rows), Tickers: used, Size: size}
	b.metrics.RowsAssembled(len(rows))
	if err := b.record("panel", res); err != nil {
		return res, err
	}

	metrics.ReportStage(b.log, "assembler", metrics.StageStats{
		Inputs:  int64(len(tickers)),
		Outputs: int64(used),
		Rows:    int64(len(rows)),
		Skipped: int64(skipped),
	})
	log.WithFields(logger.Fields{
		"output":  res.Path,
		"rows":    res.Rows,
		"tickers": res.Tickers,
	}).Info("wrote price panel")
	return res, nil
}

// SortPanel orders rows by ticker, then trade date.
func SortPanel(rows []models.PriceRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Ticker != rows[j].Ticker {
			return rows[i].Ticker < rows[j].Ticker
		}
		return rows[i].TradeDate.Before(rows[j].TradeDate)
	})
}

func (b *Builder) record(stage string, res Result) error {
	if b.ledger == nil {
		return nil
	}
	now := time.Now().UTC()
	_, err := b.ledger.AddBuild(stage, metadata.DataFile{
		Path:        res.Path,
		FileSize:    res.Size,
		RecordCount: int64(res.Rows),
		Partition: map[string]any{
			"stage":      stage,
			"tickers":    res.Tickers,
			"build_date": models.FormatDate(now),
		},
		Timestamp: now,
	})
	if err != nil {
		return fmt.Errorf("failed to record %s build: %w", stage, err)
	}
	return nil
}
