package writer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/guregu/null/v6"

	"cseflow/models"
)

// ErrHeader is returned when a CSV file lacks a required column.
var ErrHeader = errors.New("csv header mismatch")

// writeCSV replaces path with header plus records, creating parent
// directories as needed. The file is written next to path and renamed so
// readers never observe a half-written artifact.
func writeCSV(path string, header []string, records [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write header to %s: %w", path, err)
	}
	if err := w.WriteAll(records); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write rows to %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// csvTable is a parsed CSV file addressed by column name.
type csvTable struct {
	index map[string]int
	rows  [][]string
}

func (t *csvTable) get(row []string, col string) string {
	i, ok := t.index[col]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

func readCSV(path string, required []string) (*csvTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: %s is empty", ErrHeader, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}

	t := &csvTable{index: make(map[string]int, len(header))}
	for i, col := range header {
		col = strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))
		if _, dup := t.index[col]; !dup {
			t.index[col] = i
		}
	}
	for _, col := range required {
		if _, ok := t.index[col]; !ok {
			return nil, fmt.Errorf("%w: %s has no %q column", ErrHeader, path, col)
		}
	}

	t.rows, err = r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return t, nil
}

// WriteManifest overwrites the manifest at path.
func WriteManifest(path string, entries []models.ManifestEntry) error {
	records := make([][]string, 0, len(entries))
	for _, e := range entries {
		records = append(records, []string{
			e.Ticker,
			e.RelativePath,
			string(e.Status),
			strconv.Itoa(e.Rows),
			models.FormatDate(e.StartDate),
			models.FormatDate(e.EndDate),
			strconv.FormatInt(e.FileSize, 10),
		})
	}
	return writeCSV(path, models.ManifestHeader, records)
}

// ReadManifest loads a manifest written by WriteManifest. Unparseable
// counts and dates are read as zero values.
func ReadManifest(path string) ([]models.ManifestEntry, error) {
	t, err := readCSV(path, []string{"ticker", "relative_path", "status"})
	if err != nil {
		return nil, err
	}
	entries := make([]models.ManifestEntry, 0, len(t.rows))
	for _, row := range t.rows {
		e := models.ManifestEntry{
			Ticker:       t.get(row, "ticker"),
			RelativePath: t.get(row, "relative_path"),
			Status:       models.ParseStatus(t.get(row, "status")),
		}
		e.Rows, _ = strconv.Atoi(strings.TrimSpace(t.get(row, "rows")))
		e.StartDate, _ = models.ParseDate(t.get(row, "start_date"))
		e.EndDate, _ = models.ParseDate(t.get(row, "end_date"))
		e.FileSize, _ = strconv.ParseInt(strings.TrimSpace(t.get(row, "filesize_bytes")), 10, 64)
		entries = append(entries, e)
	}
	return entries, nil
}

// WriteSelection overwrites the ticker selection file at path.
func WriteSelection(path string, entries []models.SelectionEntry) error {
	records := make([][]string, 0, len(entries))
	for _, e := range entries {
		records = append(records, []string{
			e.Ticker,
			e.RelativePath,
			strconv.Itoa(e.Rows),
			models.FormatDate(e.StartDate),
			models.FormatDate(e.EndDate),
			yesNo(e.Include),
		})
	}
	return writeCSV(path, models.SelectionHeader, records)
}

// ReadSelection loads a selection file. The include column accepts the
// usual boolean spellings (true/false, 1/0, yes/no).
func ReadSelection(path string) ([]models.SelectionEntry, error) {
	t, err := readCSV(path, []string{"ticker", "include"})
	if err != nil {
		return nil, err
	}
	entries := make([]models.SelectionEntry, 0, len(t.rows))
	for _, row := range t.rows {
		e := models.SelectionEntry{
			Ticker:       t.get(row, "ticker"),
			RelativePath: t.get(row, "relative_path"),
			Include:      parseBool(t.get(row, "include")),
		}
		e.Rows, _ = strconv.Atoi(strings.TrimSpace(t.get(row, "rows")))
		e.StartDate, _ = models.ParseDate(t.get(row, "start_date"))
		e.EndDate, _ = models.ParseDate(t.get(row, "end_date"))
		entries = append(entries, e)
	}
	return entries, nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y", "t":
		return true
	}
	return false
}

// WriteCanonicalCSV overwrites path with rows in canonical column order.
// precision is passed to strconv.FormatFloat; -1 means shortest exact form.
func WriteCanonicalCSV(path string, rows []models.PriceRow, precision int) error {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, canonicalRecord(r, precision))
	}
	return writeCSV(path, models.CanonicalHeader, records)
}

func canonicalRecord(r models.PriceRow, precision int) []string {
	return []string{
		r.Ticker,
		models.FormatDate(r.TradeDate),
		formatFloat(r.Open, precision),
		formatFloat(r.High, precision),
		formatFloat(r.Low, precision),
		formatFloat(r.Close, precision),
		formatFloat(r.Turnover, precision),
		formatInt(r.ShareVolume),
		formatInt(r.TradeVolume),
	}
}

// WriteReturnsCSV writes the panel with return columns, used for exports.
func WriteReturnsCSV(path string, rows []models.ReturnRow, precision int) error {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		rec := canonicalRecord(r.PriceRow, precision)
		rec = append(rec, formatFloat(r.ClosePctReturn, -1), formatFloat(r.CloseLogReturn, -1))
		records = append(records, rec)
	}
	return writeCSV(path, models.ReturnsHeader, records)
}

func formatFloat(f null.Float, precision int) string {
	if !f.Valid {
		return ""
	}
	return strconv.FormatFloat(f.Float64, 'f', precision, 64)
}

func formatInt(i null.Int) string {
	if !i.Valid {
		return ""
	}
	return strconv.FormatInt(i.Int64, 10)
}

// ReadCanonicalCSV loads a per-ticker canonical CSV. Rows whose trade_date
// does not parse are dropped and counted in skipped. Blank or non-numeric
// cells are read as null.
func ReadCanonicalCSV(path string) (rows []models.PriceRow, skipped int, err error) {
	t, err := readCSV(path, []string{"trade_date", "close"})
	if err != nil {
		return nil, 0, err
	}
	rows = make([]models.PriceRow, 0, len(t.rows))
	for _, rec := range t.rows {
		d, err := models.ParseDate(t.get(rec, "trade_date"))
		if err != nil || d.IsZero() {
			skipped++
			continue
		}
		rows = append(rows, models.PriceRow{
			Ticker:      t.get(rec, "ticker"),
			TradeDate:   d,
			Open:        parseFloatCell(t.get(rec, "open")),
			High:        parseFloatCell(t.get(rec, "high")),
			Low:         parseFloatCell(t.get(rec, "low")),
			Close:       parseFloatCell(t.get(rec, "close")),
			Turnover:    parseFloatCell(t.get(rec, "turnover")),
			ShareVolume: parseIntCell(t.get(rec, "share_volume")),
			TradeVolume: parseIntCell(t.get(rec, "trade_volume")),
		})
	}
	return rows, skipped, nil
}

func parseFloatCell(s string) null.Float {
	s = strings.TrimSpace(s)
	if s == "" {
		return null.Float{}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return null.Float{}
	}
	return null.FloatFrom(f)
}

func parseIntCell(s string) null.Int {
	s = strings.TrimSpace(s)
	if s == "" {
		return null.Int{}
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return null.IntFrom(i)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return null.Int{}
	}
	return null.IntFrom(int64(f))
}
