package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/guregu/null/v6"
)

// DateLayout is the textual form of every calendar date the pipeline writes.
const DateLayout = "2006-01-02"

// PriceRow is one canonical daily observation for a ticker.
type PriceRow struct {
	Ticker      string
	TradeDate   time.Time
	Open        null.Float
	High        null.Float
	Low         null.Float
	Close       null.Float
	Turnover    null.Float
	ShareVolume null.Int
	TradeVolume null.Int
}

// ReturnRow is a panel row with the close-to-close returns attached.
type ReturnRow struct {
	PriceRow
	ClosePctReturn null.Float
	CloseLogReturn null.Float
}

// PriceBatch groups the rows fetched for one ticker and date window.
type PriceBatch struct {
	BatchID     string
	Ticker      string
	Start       time.Time
	End         time.Time
	Rows        []PriceRow
	RecordCount int
	FetchedAt   time.Time
}

var (
	CanonicalHeader = []string{"ticker", "trade_date", "open", "high", "low", "close", "turnover", "share_volume", "trade_volume"}
	ReturnsHeader   = append(append([]string{}, CanonicalHeader...), "close_pct_return", "close_log_return")
)

// FormatDate renders t as YYYY-MM-DD, or "" for the zero time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(DateLayout)
}

// ParseDate accepts YYYY-MM-DD, optionally followed by a time component, and
// returns UTC midnight of that day. The empty string yields the zero time.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if len(s) > len(DateLayout) && (s[len(DateLayout)] == 'T' || s[len(DateLayout)] == ' ') {
		s = s[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// Day truncates t to UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ToReturnRows wraps price rows with empty return columns.
func ToReturnRows(rows []PriceRow) []ReturnRow {
	out := make([]ReturnRow, len(rows))
	for i, r := range rows {
		out[i] = ReturnRow{PriceRow: r}
	}
	return out
}
