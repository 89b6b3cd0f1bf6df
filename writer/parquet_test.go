package writer

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "cseflow/config"
	"cseflow/models"
)

func TestPanelParquetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "panel.parquet")
	rows := []models.PriceRow{
		{
			Ticker:      "JKH.N0000",
			TradeDate:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Open:        null.FloatFrom(180),
			High:        null.FloatFrom(185),
			Low:         null.FloatFrom(179),
			Close:       null.FloatFrom(184),
			Turnover:    null.FloatFrom(900000),
			ShareVolume: null.IntFrom(4000),
			TradeVolume: null.IntFrom(100),
		},
		{
			Ticker:      "JKH.N0000",
			TradeDate:   time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC),
			Close:       null.FloatFrom(188.25),
			ShareVolume: null.IntFrom(0),
		},
	}

	for _, codec := range []string{"snappy", "gzip", "none"} {
		t.Run(codec, func(t *testing.T) {
			cfg := appconfig.Default().Writer.Parquet
			cfg.Compression = codec
			size, err := WritePanel(path, rows, cfg)
			require.NoError(t, err)
			assert.Positive(t, size)

			got, err := ReadPanel(path)
			require.NoError(t, err)
			assert.Equal(t, rows, got)
		})
	}
}

func TestReturnsParquetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "returns.parquet")
	rows := []models.ReturnRow{
		{PriceRow: models.PriceRow{Ticker: "A", TradeDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Close: null.FloatFrom(10)}},
		{
			PriceRow:       models.PriceRow{Ticker: "A", TradeDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Close: null.FloatFrom(11)},
			ClosePctReturn: null.FloatFrom(0.1),
			CloseLogReturn: null.FloatFrom(0.09531017980432493),
		},
	}
	_, err := WriteReturns(path, rows, appconfig.Default().Writer.Parquet)
	require.NoError(t, err)

	got, err := ReadReturns(path)
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

func TestEpochDays(t *testing.T) {
	d := time.Date(1970, 1, 2, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, int32(1), epochDays(d))
	assert.Equal(t, time.Date(1970, 1, 2, 0, 0, 0, 0, time.UTC), fromEpochDays(1))
}
