package selection

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "cseflow/config"
	"cseflow/models"
	"cseflow/writer"
)

func date(s string) time.Time {
	d, _ := models.ParseDate(s)
	return d
}

func sampleManifest() []models.ManifestEntry {
	return []models.ManifestEntry{
		{Ticker: "AAA", RelativePath: "AAA.json", Status: models.StatusHasData, Rows: 150, StartDate: date("2015-01-01"), EndDate: date("2024-01-01")},
		{Ticker: "BBB", RelativePath: "BBB.json", Status: models.StatusHasData, Rows: 80, StartDate: date("2016-01-01"), EndDate: date("2024-01-01")},
		{Ticker: "CCC", RelativePath: "CCC.json", Status: models.StatusHasData, Rows: 150, StartDate: date("2019-06-01"), EndDate: date("2019-07-01")},
		{Ticker: "DDD", RelativePath: "DDD.json", Status: models.StatusHasData, Rows: 500},
		{Ticker: "EEE", RelativePath: "EEE.json", Status: models.StatusEmptyArray},
		{Ticker: "FFF", RelativePath: "FFF.json", Status: models.StatusInvalidJSON, Rows: 999},
	}
}

func TestSelectMinRows(t *testing.T) {
	out := Select(sampleManifest(), Criteria{MinRows: 100})

	require.Len(t, out, 4)
	tickers := []string{out[0].Ticker, out[1].Ticker, out[2].Ticker, out[3].Ticker}
	assert.Equal(t, []string{"DDD", "AAA", "CCC", "BBB"}, tickers)

	include := map[string]bool{}
	for _, e := range out {
		include[e.Ticker] = e.Include
	}
	assert.Equal(t, map[string]bool{"AAA": true, "BBB": false, "CCC": true, "DDD": true}, include)
}

func TestSelectMinStart(t *testing.T) {
	out := Select(sampleManifest(), Criteria{MinRows: 0, MinStart: date("2018-01-01")})
	include := map[string]bool{}
	for _, e := range out {
		include[e.Ticker] = e.Include
	}
	assert.True(t, include["AAA"])
	assert.True(t, include["BBB"])
	assert.False(t, include["CCC"], "starts after min_start")
	assert.False(t, include["DDD"], "unknown start is excluded")
}

func TestSelectMinSpan(t *testing.T) {
	out := Select(sampleManifest(), Criteria{MinSpanDays: 365})
	include := map[string]bool{}
	for _, e := range out {
		include[e.Ticker] = e.Include
	}
	assert.True(t, include["AAA"])
	assert.False(t, include["CCC"], "one month span")
	assert.True(t, include["DDD"], "span rule skipped without dates")
}

func TestIncluded(t *testing.T) {
	out := Select(sampleManifest(), Criteria{MinRows: 100})
	assert.Equal(t, []string{"DDD", "AAA", "CCC"}, Included(out))
	assert.Empty(t, Included(Select(sampleManifest(), Criteria{MinRows: 10000})))
}

func TestCriteriaFromConfig(t *testing.T) {
	c, err := CriteriaFromConfig(appconfig.SelectionConfig{MinRows: 5, MinStart: "2018-01-01", MinSpanDays: 30})
	require.NoError(t, err)
	assert.Equal(t, Criteria{MinRows: 5, MinStart: date("2018-01-01"), MinSpanDays: 30}, c)

	_, err = CriteriaFromConfig(appconfig.SelectionConfig{MinStart: "01/01/2018"})
	assert.Error(t, err)
}

func TestSelectorRun(t *testing.T) {
	dir := t.TempDir()
	cfg := appconfig.Default()
	cfg.Paths.Manifest = filepath.Join(dir, "manifest.csv")
	cfg.Paths.TickersFile = filepath.Join(dir, "tickers_used.csv")
	require.NoError(t, writer.WriteManifest(cfg.Paths.Manifest, sampleManifest()))

	out, err := NewSelector(&cfg, nil).Run(context.Background(), Criteria{MinRows: 100})
	require.NoError(t, err)
	require.Len(t, out, 4)

	read, err := writer.ReadSelection(cfg.Paths.TickersFile)
	require.NoError(t, err)
	assert.Equal(t, out, read)
}

func TestSelectorRunWithoutManifest(t *testing.T) {
	cfg := appconfig.Default()
	cfg.Paths.Manifest = filepath.Join(t.TempDir(), "missing.csv")
	_, err := NewSelector(&cfg, nil).Run(context.Background(), Criteria{})
	assert.Error(t, err)
}
