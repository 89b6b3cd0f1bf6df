package processor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cseflow/models"
	"cseflow/writer"
)

const jkhDump = `{"reqTime": 1, "chartData": [
	{"tradeDate": 1704240000000, "open": 190, "high": 195, "low": 189, "close": 194.5,
	 "turnover": 1000000.5, "shareVolume": 5000, "tradeVolume": 120},
	{"tradeDate": 1704067200000, "open": 180, "high": 185, "low": 179, "close": 184,
	 "turnover": 900000, "shareVolume": 4000, "tradeVolume": 100},
	{"tradeDate": 1704153600000, "close": null, "v": 188.25, "shareVolume": 0},
	{"tradeDate": 1704326400000, "close": null},
	{"close": 200},
	{"tradeDate": 1704412800000, "close": "n/a"},
	"noise"
]}`

func TestNormalizeRecords(t *testing.T) {
	doc, err := ParseDocument([]byte(jkhDump))
	require.NoError(t, err)
	records, ok := RecordList(doc)
	require.True(t, ok)

	rows := NormalizeRecords("JKH.N0000", records)
	require.Len(t, rows, 3)

	assert.Equal(t, "2024-01-01", models.FormatDate(rows[0].TradeDate))
	assert.Equal(t, "2024-01-02", models.FormatDate(rows[1].TradeDate))
	assert.Equal(t, "2024-01-03", models.FormatDate(rows[2].TradeDate))

	assert.Equal(t, 188.25, rows[1].Close.Float64)
	assert.True(t, rows[1].ShareVolume.Valid)
	assert.Equal(t, int64(0), rows[1].ShareVolume.Int64)
	assert.False(t, rows[1].Open.Valid)

	for _, r := range rows {
		assert.Equal(t, "JKH.N0000", r.Ticker)
		assert.True(t, r.Close.Valid)
		assert.False(t, r.TradeDate.IsZero())
	}
}

func TestNormalizerRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	writeRaw(t, cfg.Paths.RawDir, "JKH.N0000.json", jkhDump)
	writeRaw(t, cfg.Paths.RawDir, "EMPTY.N0000.json", `[{"tradeDate": 1704067200000, "close": null}]`)
	writeRaw(t, cfg.Paths.RawDir, "NOPE.N0000.json", `[]`)

	entries, _, err := NewClassifier(cfg, nil).Run(context.Background())
	require.NoError(t, err)

	stale := filepath.Join(cfg.Paths.NormalizedDir, "EMPTY.N0000.csv")
	require.NoError(t, os.MkdirAll(cfg.Paths.NormalizedDir, 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	summary, err := NewNormalizer(cfg, nil).Run(context.Background(), entries)
	require.NoError(t, err)
	assert.Equal(t, NormalizeSummary{Written: 1, Rows: 3, Empty: 1}, summary)
	assert.NoFileExists(t, stale)
	assert.NoFileExists(t, filepath.Join(cfg.Paths.NormalizedDir, "NOPE.N0000.csv"))

	out := filepath.Join(cfg.Paths.NormalizedDir, "JKH.N0000.csv")
	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "ticker,trade_date,open,high,low,close,turnover,share_volume,trade_volume\n")
	assert.Contains(t, string(raw), "JKH.N0000,2024-01-01,180,185,179,184,900000,4000,100\n")
	assert.Contains(t, string(raw), "JKH.N0000,2024-01-02,,,,188.25,,0,\n")

	rows, skipped, err := writer.ReadCanonicalCSV(out)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, rows, 3)
	assert.Equal(t, 194.5, rows[2].Close.Float64)
	assert.Equal(t, 1000000.5, rows[2].Turnover.Float64)
}

func TestNormalizerSkipsVanishedAndBrokenFiles(t *testing.T) {
	cfg := testConfig(t)
	writeRaw(t, cfg.Paths.RawDir, "BROKEN.N0000.json", "garbage without brackets")
	entries := []models.ManifestEntry{
		{Ticker: "GONE.N0000", RelativePath: "GONE.N0000.json", Status: models.StatusHasData},
		{Ticker: "BROKEN.N0000", RelativePath: "BROKEN.N0000.json", Status: models.StatusHasData},
		{Ticker: "SKIP.N0000", RelativePath: "SKIP.N0000.json", Status: models.StatusInvalidJSON},
	}
	summary, err := NewNormalizer(cfg, nil).Run(context.Background(), entries)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Skipped)
	assert.Zero(t, summary.Written)
}

func TestNormalizerRunFromManifest(t *testing.T) {
	cfg := testConfig(t)
	writeRaw(t, cfg.Paths.RawDir, "JKH.N0000.json", jkhDump)
	_, _, err := NewClassifier(cfg, nil).Run(context.Background())
	require.NoError(t, err)

	summary, err := NewNormalizer(cfg, nil).RunFromManifest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Written)
}
