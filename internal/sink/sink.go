// Package sink appends price rows to a relational table.
package sink

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/guregu/null/v6"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	appconfig "cseflow/config"
	"cseflow/internal/metrics"
	"cseflow/logger"
	"cseflow/models"
)

// Sink appends rows and reports how many were written.
type Sink interface {
	Append(ctx context.Context, rows []models.ReturnRow) (int, error)
	Close() error
}

// PriceRecord is the table layout shared by every driver. Return columns
// stay NULL when panel rows are loaded.
type PriceRecord struct {
	Ticker         string    `gorm:"column:ticker;size:32;not null;index:idx_ticker_date"`
	TradeDate      time.Time `gorm:"column:trade_date;type:date;not null;index:idx_ticker_date"`
	Open           *float64  `gorm:"column:open"`
	High           *float64  `gorm:"column:high"`
	Low            *float64  `gorm:"column:low"`
	Close          *float64  `gorm:"column:close"`
	Turnover       *float64  `gorm:"column:turnover"`
	ShareVolume    *int64    `gorm:"column:share_volume"`
	TradeVolume    *int64    `gorm:"column:trade_volume"`
	ClosePctReturn *float64  `gorm:"column:close_pct_return"`
	CloseLogReturn *float64  `gorm:"column:close_log_return"`
}

// Records converts rows to their table layout.
func Records(rows []models.ReturnRow) []PriceRecord {
	out := make([]PriceRecord, len(rows))
	for i, r := range rows {
		out[i] = PriceRecord{
			Ticker:         r.Ticker,
			TradeDate:      models.Day(r.TradeDate),
			Open:           r.Open.Ptr(),
			High:           r.High.Ptr(),
			Low:            r.Low.Ptr(),
			Close:          r.Close.Ptr(),
			Turnover:       r.Turnover.Ptr(),
			ShareVolume:    r.ShareVolume.Ptr(),
			TradeVolume:    r.TradeVolume.Ptr(),
			ClosePctReturn: r.ClosePctReturn.Ptr(),
			CloseLogReturn: r.CloseLogReturn.Ptr(),
		}
	}
	return out
}

// Row converts a stored record back to a model row.
func (p PriceRecord) Row() models.ReturnRow {
	return models.ReturnRow{
		PriceRow: models.PriceRow{
			Ticker:      p.Ticker,
			TradeDate:   models.Day(p.TradeDate),
			Open:        null.FloatFromPtr(p.Open),
			High:        null.FloatFromPtr(p.High),
			Low:         null.FloatFromPtr(p.Low),
			Close:       null.FloatFromPtr(p.Close),
			Turnover:    null.FloatFromPtr(p.Turnover),
			ShareVolume: null.IntFromPtr(p.ShareVolume),
			TradeVolume: null.IntFromPtr(p.TradeVolume),
		},
		ClosePctReturn: null.FloatFromPtr(p.ClosePctReturn),
		CloseLogReturn: null.FloatFromPtr(p.CloseLogReturn),
	}
}

// Open returns the sink for the configured driver.
func Open(cfg appconfig.DatabaseConfig, m *metrics.Pipeline) (Sink, error) {
	if cfg.Driver == "sqlite" {
		return NewSQLiteSink(cfg, m)
	}
	return NewGormSink(cfg, m)
}

// DSN builds the connection string for postgres and mysql.
func DSN(cfg appconfig.DatabaseConfig) (string, error) {
	switch cfg.Driver {
	case "", "postgres":
		u := url.URL{
			Scheme:   "postgresql",
			User:     url.UserPassword(cfg.User, cfg.Password),
			Host:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
			Path:     "/" + cfg.Name,
			RawQuery: url.Values{"sslmode": {cfg.SSLMode}}.Encode(),
		}
		return u.String(), nil
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name), nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func dialector(cfg appconfig.DatabaseConfig) (gorm.Dialector, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Driver == "mysql" {
		return mysql.Open(dsn), nil
	}
	return postgres.Open(dsn), nil
}

// GormSink writes to postgres or mysql through gorm.
type GormSink struct {
	db        *gorm.DB
	table     string
	batchSize int
	metrics   *metrics.Pipeline
	log       *logger.Entry
}

// NewGormSink connects and creates the table when it does not exist.
func NewGormSink(cfg appconfig.DatabaseConfig, m *metrics.Pipeline) (*GormSink, error) {
	d, err := dialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(d, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}
	return newGormSink(db, cfg, m)
}

func newGormSink(db *gorm.DB, cfg appconfig.DatabaseConfig, m *metrics.Pipeline) (*GormSink, error) {
	if err := db.Table(cfg.Table).AutoMigrate(&PriceRecord{}); err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", cfg.Table, err)
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 1000
	}
	return &GormSink{
		db:        db,
		table:     cfg.Table,
		batchSize: batch,
		metrics:   m,
		log: logger.GetLogger().WithComponent("sink").WithFields(logger.Fields{
			"driver": cfg.Driver,
			"table":  cfg.Table,
		}),
	}, nil
}

// Append inserts rows in batches. Existing rows are never touched.
func (s *GormSink) Append(ctx context.Context, rows []models.ReturnRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	recs := Records(rows)
	res := s.db.WithContext(ctx).Table(s.table).CreateInBatches(recs, s.batchSize)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to insert into %s: %w", s.table, res.Error)
	}
	n := int(res.RowsAffected)
	s.metrics.RowsLoaded(s.table, n)
	s.log.WithFields(logger.Fields{"rows": n}).Info("appended rows")
	return n, nil
}

// Close releases the underlying connection pool.
func (s *GormSink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
