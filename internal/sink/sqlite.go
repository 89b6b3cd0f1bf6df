package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/guregu/null/v6"
	_ "modernc.org/sqlite"

	appconfig "cseflow/config"
	"cseflow/internal/metrics"
	"cseflow/logger"
	"cseflow/models"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var sqliteColumns = []string{
	"ticker", "trade_date", "open", "high", "low", "close", "turnover",
	"share_volume", "trade_volume", "close_pct_return", "close_log_return",
}

// SQLiteSink writes to a local SQLite file. trade_date is stored as
// YYYY-MM-DD text.
type SQLiteSink struct {
	db        *sql.DB
	table     string
	batchSize int
	metrics   *metrics.Pipeline
	log       *logger.Entry
}

// NewSQLiteSink opens cfg.Path and creates the table if needed.
func NewSQLiteSink(cfg appconfig.DatabaseConfig, m *metrics.Pipeline) (*SQLiteSink, error) {
	if !identRe.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", cfg.Path, err)
	}

	create := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		ticker TEXT NOT NULL,
		trade_date TEXT NOT NULL,
		open REAL,
		high REAL,
		low REAL,
		close REAL,
		turnover REAL,
		share_volume INTEGER,
		trade_volume INTEGER,
		close_pct_return REAL,
		close_log_return REAL
	);
	CREATE INDEX IF NOT EXISTS idx_%s_ticker_date ON %s (ticker, trade_date);`, cfg.Table, cfg.Table, cfg.Table)
	if _, err := db.Exec(create); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table %s: %w", cfg.Table, err)
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 1000
	}
	return &SQLiteSink{
		db:        db,
		table:     cfg.Table,
		batchSize: batch,
		metrics:   m,
		log: logger.GetLogger().WithComponent("sink").WithFields(logger.Fields{
			"driver": "sqlite",
			"table":  cfg.Table,
			"path":   cfg.Path,
		}),
	}, nil
}

// Append inserts rows inside a single transaction, batchSize rows per
// statement.
func (s *SQLiteSink) Append(ctx context.Context, rows []models.ReturnRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	written := 0
	for start := 0; start < len(rows); start += s.batchSize {
		end := start + s.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		query, args := s.insert(rows[start:end])
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to insert into %s: %w", s.table, err)
		}
		n, _ := res.RowsAffected()
		written += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit insert into %s: %w", s.table, err)
	}

	s.metrics.RowsLoaded(s.table, written)
	s.log.WithFields(logger.Fields{"rows": written}).Info("appended rows")
	return written, nil
}

func (s *SQLiteSink) insert(rows []models.ReturnRow) (string, []interface{}) {
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?,", len(sqliteColumns)), ",") + ")"
	values := make([]string, len(rows))
	args := make([]interface{}, 0, len(rows)*len(sqliteColumns))
	for i, r := range rows {
		values[i] = placeholder
		args = append(args,
			r.Ticker, models.FormatDate(r.TradeDate),
			r.Open, r.High, r.Low, r.Close, r.Turnover,
			r.ShareVolume, r.TradeVolume,
			r.ClosePctReturn, r.CloseLogReturn,
		)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		s.table, strings.Join(sqliteColumns, ", "), strings.Join(values, ", "))
	return query, args
}

// Rows reads back every stored row for ticker, ordered by date.
func (s *SQLiteSink) Rows(ctx context.Context, ticker string) ([]models.ReturnRow, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE ticker = ? ORDER BY trade_date",
		strings.Join(sqliteColumns, ", "), s.table)
	rs, err := s.db.QueryContext(ctx, query, ticker)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out []models.ReturnRow
	for rs.Next() {
		var (
			r    models.ReturnRow
			date string
		)
		var open, high, low, closeP, turnover, pct, logRet null.Float
		var shares, trades null.Int
		if err := rs.Scan(&r.Ticker, &date, &open, &high, &low, &closeP, &turnover,
			&shares, &trades, &pct, &logRet); err != nil {
			return nil, err
		}
		d, err := models.ParseDate(date)
		if err != nil {
			return nil, fmt.Errorf("bad trade_date %q: %w", date, err)
		}
		r.TradeDate = d
		r.Open, r.High, r.Low, r.Close, r.Turnover = open, high, low, closeP, turnover
		r.ShareVolume, r.TradeVolume = shares, trades
		r.ClosePctReturn, r.CloseLogReturn = pct, logRet
		out = append(out, r)
	}
	return out, rs.Err()
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
