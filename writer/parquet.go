package writer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/guregu/null/v6"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "cseflow/config"
	"cseflow/models"
)

// PanelRecord is the on-disk layout of one long panel row. trade_date is
// stored as days since the Unix epoch.
type PanelRecord struct {
	Ticker      string   `parquet:"name=ticker, type=BYTE_ARRAY, convertedtype=UTF8"`
	TradeDate   int32    `parquet:"name=trade_date, type=INT32, convertedtype=DATE"`
	Open        *float64 `parquet:"name=open, type=DOUBLE, repetitiontype=OPTIONAL"`
	High        *float64 `parquet:"name=high, type=DOUBLE, repetitiontype=OPTIONAL"`
	Low         *float64 `parquet:"name=low, type=DOUBLE, repetitiontype=OPTIONAL"`
	Close       *float64 `parquet:"name=close, type=DOUBLE, repetitiontype=OPTIONAL"`
	Turnover    *float64 `parquet:"name=turnover, type=DOUBLE, repetitiontype=OPTIONAL"`
	ShareVolume *int64   `parquet:"name=share_volume, type=INT64, repetitiontype=OPTIONAL"`
	TradeVolume *int64   `parquet:"name=trade_volume, type=INT64, repetitiontype=OPTIONAL"`
}

// ReturnsRecord is a PanelRecord with the two return columns.
type ReturnsRecord struct {
	Ticker         string   `parquet:"name=ticker, type=BYTE_ARRAY, convertedtype=UTF8"`
	TradeDate      int32    `parquet:"name=trade_date, type=INT32, convertedtype=DATE"`
	Open           *float64 `parquet:"name=open, type=DOUBLE, repetitiontype=OPTIONAL"`
	High           *float64 `parquet:"name=high, type=DOUBLE, repetitiontype=OPTIONAL"`
	Low            *float64 `parquet:"name=low, type=DOUBLE, repetitiontype=OPTIONAL"`
	Close          *float64 `parquet:"name=close, type=DOUBLE, repetitiontype=OPTIONAL"`
	Turnover       *float64 `parquet:"name=turnover, type=DOUBLE, repetitiontype=OPTIONAL"`
	ShareVolume    *int64   `parquet:"name=share_volume, type=INT64, repetitiontype=OPTIONAL"`
	TradeVolume    *int64   `parquet:"name=trade_volume, type=INT64, repetitiontype=OPTIONAL"`
	ClosePctReturn *float64 `parquet:"name=close_pct_return, type=DOUBLE, repetitiontype=OPTIONAL"`
	CloseLogReturn *float64 `parquet:"name=close_log_return, type=DOUBLE, repetitiontype=OPTIONAL"`
}

const secondsPerDay = 24 * 60 * 60

func epochDays(t time.Time) int32 {
	return int32(models.Day(t).Unix() / secondsPerDay)
}

func fromEpochDays(d int32) time.Time {
	return time.Unix(int64(d)*secondsPerDay, 0).UTC()
}

func floatPtr(f null.Float) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func intPtr(i null.Int) *int64 {
	if !i.Valid {
		return nil
	}
	v := i.Int64
	return &v
}

func toPanelRecord(r models.PriceRow) PanelRecord {
	return PanelRecord{
		Ticker:      r.Ticker,
		TradeDate:   epochDays(r.TradeDate),
		Open:        floatPtr(r.Open),
		High:        floatPtr(r.High),
		Low:         floatPtr(r.Low),
		Close:       floatPtr(r.Close),
		Turnover:    floatPtr(r.Turnover),
		ShareVolume: intPtr(r.ShareVolume),
		TradeVolume: intPtr(r.TradeVolume),
	}
}

func (p PanelRecord) row() models.PriceRow {
	return models.PriceRow{
		Ticker:      p.Ticker,
		TradeDate:   fromEpochDays(p.TradeDate),
		Open:        null.FloatFromPtr(p.Open),
		High:        null.FloatFromPtr(p.High),
		Low:         null.FloatFromPtr(p.Low),
		Close:       null.FloatFromPtr(p.Close),
		Turnover:    null.FloatFromPtr(p.Turnover),
		ShareVolume: null.IntFromPtr(p.ShareVolume),
		TradeVolume: null.IntFromPtr(p.TradeVolume),
	}
}

func toReturnsRecord(r models.ReturnRow) ReturnsRecord {
	p := toPanelRecord(r.PriceRow)
	return ReturnsRecord{
		Ticker:         p.Ticker,
		TradeDate:      p.TradeDate,
		Open:           p.Open,
		High:           p.High,
		Low:            p.Low,
		Close:          p.Close,
		Turnover:       p.Turnover,
		ShareVolume:    p.ShareVolume,
		TradeVolume:    p.TradeVolume,
		ClosePctReturn: floatPtr(r.ClosePctReturn),
		CloseLogReturn: floatPtr(r.CloseLogReturn),
	}
}

func (r ReturnsRecord) row() models.ReturnRow {
	base := PanelRecord{
		Ticker: r.Ticker, TradeDate: r.TradeDate,
		Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Turnover: r.Turnover,
		ShareVolume: r.ShareVolume, TradeVolume: r.TradeVolume,
	}
	return models.ReturnRow{
		PriceRow:       base.row(),
		ClosePctReturn: null.FloatFromPtr(r.ClosePctReturn),
		CloseLogReturn: null.FloatFromPtr(r.CloseLogReturn),
	}
}

func compressionCodec(name string) parquet.CompressionCodec {
	switch name {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

// writeParquet writes records of the given schema to path through a temp
// file so an interrupted build leaves the previous artifact intact.
func writeParquet(path string, schema interface{}, cfg appconfig.ParquetConfig, records func(write func(interface{}) error) error) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	fw, err := local.NewLocalFileWriter(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	defer os.Remove(tmp)

	parallelism := cfg.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	pw, err := writer.NewParquetWriter(fw, schema, parallelism)
	if err != nil {
		fw.Close()
		return 0, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	if cfg.RowGroupSize > 0 {
		pw.RowGroupSize = cfg.RowGroupSize
	}
	pw.CompressionType = compressionCodec(cfg.Compression)

	if err := records(pw.Write); err != nil {
		pw.WriteStop()
		fw.Close()
		return 0, fmt.Errorf("failed to write parquet record: %w", err)
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return 0, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	if err := fw.Close(); err != nil {
		return 0, fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("failed to replace %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// WritePanel overwrites path with the long panel and returns the file size.
func WritePanel(path string, rows []models.PriceRow, cfg appconfig.ParquetConfig) (int64, error) {
	return writeParquet(path, new(PanelRecord), cfg, func(write func(interface{}) error) error {
		for _, r := range rows {
			if err := write(toPanelRecord(r)); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteReturns overwrites path with the returns table and returns the file size.
func WriteReturns(path string, rows []models.ReturnRow, cfg appconfig.ParquetConfig) (int64, error) {
	return writeParquet(path, new(ReturnsRecord), cfg, func(write func(interface{}) error) error {
		for _, r := range rows {
			if err := write(toReturnsRecord(r)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadPanel loads a panel written by WritePanel.
func ReadPanel(path string) ([]models.PriceRow, error) {
	var records []PanelRecord
	if err := readParquet(path, new(PanelRecord), &records); err != nil {
		return nil, err
	}
	rows := make([]models.PriceRow, len(records))
	for i, r := range records {
		rows[i] = r.row()
	}
	return rows, nil
}

// ReadReturns loads a returns table written by WriteReturns.
func ReadReturns(path string) ([]models.ReturnRow, error) {
	var records []ReturnsRecord
	if err := readParquet(path, new(ReturnsRecord), &records); err != nil {
		return nil, err
	}
	rows := make([]models.ReturnRow, len(records))
	for i, r := range records {
		rows[i] = r.row()
	}
	return rows, nil
}

func readParquet[T any](path string, schema interface{}, out *[]T) error {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, schema, 4)
	if err != nil {
		return fmt.Errorf("failed to read parquet footer of %s: %w", path, err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	records := make([]T, n)
	if n > 0 {
		if err := pr.Read(&records); err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
	*out = records
	return nil
}
