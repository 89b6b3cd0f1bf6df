// Package etl runs the download, normalize and load chain for a single
// ticker over a date range, one chunk at a time.
package etl

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	appconfig "cseflow/config"
	"cseflow/internal/metrics"
	"cseflow/internal/symbols"
	"cseflow/logger"
	"cseflow/models"
	"cseflow/writer"
)

// Fetcher returns the canonical rows of ticker for [start, end].
type Fetcher interface {
	Fetch(ctx context.Context, ticker string, start, end time.Time) ([]models.PriceRow, error)
}

// Sink stores rows and reports how many were written.
type Sink interface {
	Append(ctx context.Context, rows []models.ReturnRow) (int, error)
}

// ErrInvalidRange is returned when start is after end.
var ErrInvalidRange = errors.New("start must be on or before end")

// Chunk is an inclusive date range.
type Chunk struct {
	Start time.Time
	End   time.Time
}

// Chunks splits [start, end] into consecutive ranges of years calendar
// years. Each chunk ends the day before the same calendar date years later,
// clamped to end. years below 1 is treated as 1.
func Chunks(start, end time.Time, years int) ([]Chunk, error) {
	start, end = models.Day(start), models.Day(end)
	if start.After(end) {
		return nil, ErrInvalidRange
	}
	if years < 1 {
		years = 1
	}
	var chunks []Chunk
	for cur := start; !cur.After(end); {
		// Feb 29 plus whole years normalizes to Mar 1, so that chunk ends Feb 28.
		chunkEnd := cur.AddDate(years, 0, 0).AddDate(0, 0, -1)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		chunks = append(chunks, Chunk{Start: cur, End: chunkEnd})
		cur = chunkEnd.AddDate(0, 0, 1)
	}
	return chunks, nil
}

// Options selects what a run processes.
type Options struct {
	Ticker     string
	Start      time.Time
	End        time.Time
	BatchYears int
	DryRun     bool
}

// Summary reports what a run did.
type Summary struct {
	Chunks  int
	Empty   int
	Rows    int
	Loaded  int
	Samples []string
}

// Runner drives Fetcher and Sink over the chunks of a range.
type Runner struct {
	fetcher   Fetcher
	sink      Sink
	sampleDir string
	precision int
	metrics   *metrics.Pipeline
	log       *logger.Log
}

// NewRunner returns a runner. sink may be nil for dry runs.
func NewRunner(cfg *appconfig.Config, f Fetcher, s Sink, m *metrics.Pipeline) *Runner {
	return &Runner{
		fetcher:   f,
		sink:      s,
		sampleDir: cfg.Paths.SampleDir,
		precision: cfg.Writer.CSV.FloatPrecision,
		metrics:   m,
		log:       logger.GetLogger(),
	}
}

// SamplePath is where a dry run writes the rows of one chunk.
func SamplePath(dir, ticker string, c Chunk) string {
	name := fmt.Sprintf("%s_%s_%s.csv", ticker, models.FormatDate(c.Start), models.FormatDate(c.End))
	return filepath.Join(dir, symbols.Filename(name, ""))
}

// Run processes every chunk in order. Fetch and sink errors stop the run.
func (r *Runner) Run(ctx context.Context, opts Options) (Summary, error) {
	var summary Summary
	if opts.Ticker == "" {
		return summary, errors.New("ticker is required")
	}
	if !opts.DryRun && r.sink == nil {
		return summary, errors.New("no sink configured")
	}
	chunks, err := Chunks(opts.Start, opts.End, opts.BatchYears)
	if err != nil {
		return summary, err
	}

	log := r.log.WithComponent("etl").WithFields(logger.Fields{
		"ticker":  opts.Ticker,
		"dry_run": opts.DryRun,
	})
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Chunks++
		clog := log.WithFields(logger.Fields{
			"chunk_start": models.FormatDate(c.Start),
			"chunk_end":   models.FormatDate(c.End),
		})
		clog.Info("processing chunk")

		started := time.Now()
		rows, err := r.fetcher.Fetch(ctx, opts.Ticker, c.Start, c.End)
		r.metrics.Download(err == nil)
		if err != nil {
			return summary, fmt.Errorf("fetch %s %s..%s: %w", opts.Ticker,
				models.FormatDate(c.Start), models.FormatDate(c.End), err)
		}
		rows = Within(rows, c)
		if len(rows) == 0 {
			clog.Warn("no rows returned for chunk")
			summary.Empty++
			continue
		}
		for i := range rows {
			rows[i].Ticker = opts.Ticker
		}
		batch := models.PriceBatch{
			BatchID:     uuid.NewString(),
			Ticker:      opts.Ticker,
			Start:       c.Start,
			End:         c.End,
			Rows:        rows,
			RecordCount: len(rows),
			FetchedAt:   time.Now().UTC(),
		}
		clog = clog.WithFields(logger.Fields{"batch_id": batch.BatchID})
		summary.Rows += batch.RecordCount

		if opts.DryRun {
			path := SamplePath(r.sampleDir, opts.Ticker, c)
			if err := writer.WriteCanonicalCSV(path, batch.Rows, r.precision); err != nil {
				return summary, err
			}
			summary.Samples = append(summary.Samples, path)
			clog.WithFields(logger.Fields{"rows": batch.RecordCount, "path": path}).Info("saved sample CSV")
			continue
		}

		n, err := r.sink.Append(ctx, models.ToReturnRows(batch.Rows))
		if err != nil {
			return summary, fmt.Errorf("load %s: %w", opts.Ticker, err)
		}
		summary.Loaded += n
		logger.LogPerformanceEntry(clog, "etl", "chunk", time.Since(started), logger.Fields{"rows": n})
	}
	return summary, nil
}

// Within keeps the rows whose trade date falls inside c.
func Within(rows []models.PriceRow, c Chunk) []models.PriceRow {
	out := rows[:0:0]
	for _, row := range rows {
		d := models.Day(row.TradeDate)
		if d.Before(c.Start) || d.After(c.End) {
			continue
		}
		out = append(out, row)
	}
	return out
}
