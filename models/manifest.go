package models

import (
	"strings"
	"time"
)

// Status is the classifier's verdict for one raw file.
type Status string

const (
	StatusHasData     Status = "has_data"
	StatusEmptyFile   Status = "empty_file"
	StatusEmptyArray  Status = "empty_array"
	StatusInvalidJSON Status = "invalid_json"
	StatusError       Status = "error"
	StatusUnknown     Status = "unknown"
)

// Statuses lists every status in report order.
var Statuses = []Status{
	StatusHasData, StatusEmptyFile, StatusEmptyArray, StatusInvalidJSON, StatusError, StatusUnknown,
}

// ParseStatus maps a manifest cell back to a Status. Anything unrecognised
// becomes StatusUnknown.
func ParseStatus(s string) Status {
	st := Status(strings.TrimSpace(strings.ToLower(s)))
	for _, known := range Statuses {
		if st == known {
			return st
		}
	}
	return StatusUnknown
}

// ManifestEntry describes one file in the raw store. Rows and the date range
// are only meaningful when Status is StatusHasData; zero dates mean unknown.
type ManifestEntry struct {
	Ticker       string
	RelativePath string
	Status       Status
	Rows         int
	StartDate    time.Time
	EndDate      time.Time
	FileSize     int64
}

// SelectionEntry is a has_data manifest entry with the include decision.
type SelectionEntry struct {
	Ticker       string
	RelativePath string
	Rows         int
	StartDate    time.Time
	EndDate      time.Time
	Include      bool
}

// SpanDays is the number of days between the first and last trade date, or
// -1 when either is unknown.
func (s SelectionEntry) SpanDays() int {
	if s.StartDate.IsZero() || s.EndDate.IsZero() {
		return -1
	}
	return int(s.EndDate.Sub(s.StartDate).Hours() / 24)
}

var (
	ManifestHeader  = []string{"ticker", "relative_path", "status", "rows", "start_date", "end_date", "filesize_bytes"}
	SelectionHeader = []string{"ticker", "relative_path", "rows", "start_date", "end_date", "include"}
)
