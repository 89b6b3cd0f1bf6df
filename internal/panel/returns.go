package panel

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/guregu/null/v6"

	"cseflow/internal/metrics"
	"cseflow/logger"
	"cseflow/models"
	"cseflow/writer"
)

// ComputeReturns adds close-to-close returns to a panel. Rows are returned
// ordered by ticker then date; the first row of each ticker and any row
// whose ratio is not finite get null returns.
func ComputeReturns(rows []models.PriceRow) []models.ReturnRow {
	sorted := append([]models.PriceRow(nil), rows...)
	SortPanel(sorted)

	out := models.ToReturnRows(sorted)
	for i := 1; i < len(out); i++ {
		prev, cur := out[i-1], &out[i]
		if prev.Ticker != cur.Ticker {
			continue
		}
		cur.ClosePctReturn, cur.CloseLogReturn = closeReturns(prev.Close, cur.Close)
	}
	return out
}

func closeReturns(prev, cur null.Float) (pct, logRet null.Float) {
	if !prev.Valid || !cur.Valid {
		return pct, logRet
	}
	ratio := cur.Float64 / prev.Float64
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return pct, logRet
	}
	pct = finite(ratio - 1)
	logRet = finite(math.Log(ratio))
	return pct, logRet
}

func finite(f float64) null.Float {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return null.Float{}
	}
	return null.FloatFrom(f)
}

// Returns reads the panel file and writes the returns table.
func (b *Builder) Returns(ctx context.Context) (Result, error) {
	started := time.Now()
	defer b.metrics.ObserveStage("returns", started)

	if _, err := os.Stat(b.config.Paths.PanelFile); err != nil {
		return Result{}, fmt.Errorf("panel not found: %w", err)
	}
	rows, err := writer.ReadPanel(b.config.Paths.PanelFile)
	if err != nil {
		return Result{}, err
	}
	if len(rows) == 0 {
		return Result{}, ErrNoData
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	out := ComputeReturns(rows)
	size, err := writer.WriteReturns(b.config.Paths.ReturnsFile, out, b.config.Writer.Parquet)
	if err != nil {
		return Result{}, err
	}

	tickers := 0
	nulls := 0
	for i, r := range out {
		if i == 0 || out[i-1].Ticker != r.Ticker {
			tickers++
		}
		if !r.ClosePctReturn.Valid {
			nulls++
		}
	}
	res := Result{Path: b.config.Paths.ReturnsFile, Rows: len(out), Tickers: tickers, Size: size}
	if err := b.record("returns", res); err != nil {
		return res, err
	}

	metrics.ReportStage(b.log, "returns", metrics.StageStats{
		Inputs:  int64(tickers),
		Outputs: int64(tickers),
		Rows:    int64(len(out)),
	})
	b.log.WithComponent("returns").WithFields(logger.Fields{
		"output":       res.Path,
		"rows":         res.Rows,
		"tickers":      tickers,
		"null_returns": nulls,
	}).Info("wrote returns table")
	return res, nil
}
