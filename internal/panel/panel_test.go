package panel

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "cseflow/config"
	"cseflow/internal/metadata"
	"cseflow/internal/selection"
	"cseflow/models"
	"cseflow/writer"
)

func testConfig(t *testing.T) *appconfig.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := appconfig.Default()
	cfg.Paths.NormalizedDir = filepath.Join(dir, "normalized")
	cfg.Paths.TickersFile = filepath.Join(dir, "tickers_used.csv")
	cfg.Paths.PanelFile = filepath.Join(dir, "processed", "prices_long.parquet")
	cfg.Paths.ReturnsFile = filepath.Join(dir, "processed", "prices_with_returns.parquet")
	cfg.Paths.MetadataDir = filepath.Join(dir, "processed", "_metadata")
	return &cfg
}

func day(s string) time.Time {
	d, err := models.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func price(ticker, date string, close float64) models.PriceRow {
	return models.PriceRow{Ticker: ticker, TradeDate: day(date), Close: null.FloatFrom(close)}
}

func writeNormalized(t *testing.T, cfg *appconfig.Config, ticker string, rows ...models.PriceRow) {
	t.Helper()
	path := filepath.Join(cfg.Paths.NormalizedDir, ticker+".csv")
	require.NoError(t, writer.WriteCanonicalCSV(path, rows, -1))
}

func writeSelection(t *testing.T, cfg *appconfig.Config, entries ...models.SelectionEntry) {
	t.Helper()
	require.NoError(t, writer.WriteSelection(cfg.Paths.TickersFile, entries))
}

func TestComputeReturns(t *testing.T) {
	rows := []models.PriceRow{
		price("A", "2024-01-03", 9.9),
		price("A", "2024-01-01", 10),
		price("A", "2024-01-02", 11),
	}
	out := ComputeReturns(rows)
	require.Len(t, out, 3)

	assert.False(t, out[0].ClosePctReturn.Valid)
	assert.False(t, out[0].CloseLogReturn.Valid)

	assert.InDelta(t, 0.1, out[1].ClosePctReturn.Float64, 1e-12)
	assert.InDelta(t, math.Log(1.1), out[1].CloseLogReturn.Float64, 1e-12)
	assert.InDelta(t, -0.1, out[2].ClosePctReturn.Float64, 1e-12)
	assert.InDelta(t, math.Log(0.9), out[2].CloseLogReturn.Float64, 1e-12)

	// input untouched
	assert.Equal(t, day("2024-01-03"), rows[0].TradeDate)
}

func TestComputeReturnsPartitions(t *testing.T) {
	rows := []models.PriceRow{
		price("B", "2024-01-02", 20),
		price("A", "2024-01-01", 10),
		price("B", "2024-01-01", 10),
		price("A", "2024-01-02", 5),
	}
	out := ComputeReturns(rows)
	require.Len(t, out, 4)
	assert.Equal(t, []string{"A", "A", "B", "B"}, []string{out[0].Ticker, out[1].Ticker, out[2].Ticker, out[3].Ticker})
	assert.False(t, out[0].ClosePctReturn.Valid)
	assert.InDelta(t, -0.5, out[1].ClosePctReturn.Float64, 1e-12)
	assert.False(t, out[2].ClosePctReturn.Valid, "first row of a ticker has no predecessor")
	assert.InDelta(t, 1.0, out[3].ClosePctReturn.Float64, 1e-12)
}

func TestComputeReturnsNonFinite(t *testing.T) {
	rows := []models.PriceRow{
		price("A", "2024-01-01", 0),
		price("A", "2024-01-02", 5),
		price("A", "2024-01-03", 0),
		{Ticker: "A", TradeDate: day("2024-01-04")},
		price("A", "2024-01-05", 7),
	}
	out := ComputeReturns(rows)

	assert.False(t, out[1].ClosePctReturn.Valid, "prev close zero")
	assert.False(t, out[1].CloseLogReturn.Valid)

	assert.True(t, out[2].ClosePctReturn.Valid, "close zero still has a pct return")
	assert.Equal(t, -1.0, out[2].ClosePctReturn.Float64)
	assert.False(t, out[2].CloseLogReturn.Valid, "log of zero")

	assert.False(t, out[3].ClosePctReturn.Valid, "missing close")
	assert.False(t, out[4].ClosePctReturn.Valid, "missing prev close")
}

func TestAssemble(t *testing.T) {
	cfg := testConfig(t)
	writeNormalized(t, cfg, "JKH.N0000",
		price("WRONG", "2024-01-02", 185),
		price("WRONG", "2024-01-01", 184),
	)
	writeNormalized(t, cfg, "COMB.N0000", price("COMB.N0000", "2024-01-01", 90))
	writeNormalized(t, cfg, "SKIP.N0000", price("SKIP.N0000", "2024-01-01", 1))
	writeSelection(t, cfg,
		models.SelectionEntry{Ticker: "JKH.N0000", Rows: 2, Include: true},
		models.SelectionEntry{Ticker: "GONE.N0000", Rows: 2, Include: true},
		models.SelectionEntry{Ticker: "COMB.N0000", Rows: 1, Include: true},
		models.SelectionEntry{Ticker: "SKIP.N0000", Rows: 1, Include: false},
	)

	ledger, err := metadata.OpenLedger(cfg.Paths.MetadataDir, "test")
	require.NoError(t, err)
	b := NewBuilder(cfg, nil, ledger)

	res, err := b.Assemble(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 2, res.Tickers)
	assert.Positive(t, res.Size)

	rows, err := writer.ReadPanel(cfg.Paths.PanelFile)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "COMB.N0000", rows[0].Ticker)
	assert.Equal(t, "JKH.N0000", rows[1].Ticker)
	assert.Equal(t, day("2024-01-01"), rows[1].TradeDate)
	assert.Equal(t, "JKH.N0000", rows[2].Ticker)
	assert.Equal(t, 185.0, rows[2].Close.Float64)

	snaps := ledger.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, "panel", snaps[0].Stage)
}

func TestAssembleNothingIncluded(t *testing.T) {
	cfg := testConfig(t)
	writeSelection(t, cfg, models.SelectionEntry{Ticker: "A", Include: false})

	_, err := NewBuilder(cfg, nil, nil).Assemble(context.Background())
	assert.True(t, errors.Is(err, ErrNoData))
	assert.True(t, errors.Is(err, selection.ErrNoTickers))
}

func TestAssembleZeroRows(t *testing.T) {
	cfg := testConfig(t)
	writeSelection(t, cfg, models.SelectionEntry{Ticker: "GONE.N0000", Include: true})

	_, err := NewBuilder(cfg, nil, nil).Assemble(context.Background())
	assert.ErrorIs(t, err, ErrNoData)
	_, statErr := os.Stat(cfg.Paths.PanelFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestAssembleMissingSelection(t *testing.T) {
	cfg := testConfig(t)
	_, err := NewBuilder(cfg, nil, nil).Assemble(context.Background())
	assert.Error(t, err)
}

func TestReturnsStage(t *testing.T) {
	cfg := testConfig(t)
	writeNormalized(t, cfg, "A",
		price("A", "2024-01-01", 10),
		price("A", "2024-01-02", 11),
		price("A", "2024-01-03", 9.9),
	)
	writeSelection(t, cfg, models.SelectionEntry{Ticker: "A", Rows: 3, Include: true})

	ledger, err := metadata.OpenLedger(cfg.Paths.MetadataDir, "test")
	require.NoError(t, err)
	b := NewBuilder(cfg, nil, ledger)
	_, err = b.Assemble(context.Background())
	require.NoError(t, err)

	res, err := b.Returns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 1, res.Tickers)

	out, err := writer.ReadReturns(cfg.Paths.ReturnsFile)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.False(t, out[0].ClosePctReturn.Valid)
	assert.InDelta(t, 0.1, out[1].ClosePctReturn.Float64, 1e-12)
	assert.InDelta(t, math.Log(0.9), out[2].CloseLogReturn.Float64, 1e-12)

	assert.Len(t, ledger.Snapshots(), 2)
}

func TestReturnsMissingPanel(t *testing.T) {
	cfg := testConfig(t)
	_, err := NewBuilder(cfg, nil, nil).Returns(context.Background())
	assert.Error(t, err)
}
