package processor

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cseflow/internal/metrics"
	"cseflow/models"
	"cseflow/writer"
)

func TestClassifyContent(t *testing.T) {
	day := func(s string) time.Time {
		d, err := models.ParseDate(s)
		require.NoError(t, err)
		return d
	}
	tests := []struct {
		name   string
		input  string
		status models.Status
		rows   int
		start  time.Time
		end    time.Time
	}{
		{name: "whitespace", input: " \n\t ", status: models.StatusEmptyFile},
		{name: "empty list", input: "[]", status: models.StatusEmptyArray},
		{name: "empty list in dict", input: `{"meta": {"x": 1}, "data": []}`, status: models.StatusEmptyArray},
		{name: "dict without list", input: `{"a": 1, "b": {"c": 2}}`, status: models.StatusInvalidJSON},
		{name: "json null", input: `null`, status: models.StatusInvalidJSON},
		{name: "scalar", input: `3.14`, status: models.StatusInvalidJSON},
		{name: "garbage", input: `<html>502 Bad Gateway</html>`, status: models.StatusInvalidJSON},
		{name: "broken salvage", input: `error: [unclosed {`, status: models.StatusInvalidJSON},
		{
			name:   "list with dates",
			input:  `[{"tradeDate": 1704240000000}, {"tradeDate": 1704067200000}, {"tradeDate": 1704153600000}]`,
			status: models.StatusHasData, rows: 3, start: day("2024-01-01"), end: day("2024-01-03"),
		},
		{
			name:   "malformed date ignored",
			input:  `[{"tradeDate": 1704067200000}, {"tradeDate": "oops"}]`,
			status: models.StatusHasData, rows: 2, start: day("2024-01-01"), end: day("2024-01-01"),
		},
		{
			name:   "no dates at all",
			input:  `[1, 2, {"close": 3}]`,
			status: models.StatusHasData, rows: 3,
		},
		{
			name:   "dict uses first list",
			input:  `{"status": "ok", "chartData": [{"d": 1704067200000}], "other": [1, 2, 3]}`,
			status: models.StatusHasData, rows: 1, start: day("2024-01-01"), end: day("2024-01-01"),
		},
		{
			name:   "html wrapped array",
			input:  `<pre>[{"date": 1704067200000}, {"date": 1704153600000}]</pre>`,
			status: models.StatusHasData, rows: 2, start: day("2024-01-01"), end: day("2024-01-02"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, rows, start, end := ClassifyContent([]byte(tt.input))
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.rows, rows)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)
		})
	}
}

func TestClassifyFileEmpty(t *testing.T) {
	root := t.TempDir()
	path := writeRaw(t, root, "EMPTY.N0000.json", "")

	e := ClassifyFile(root, path)
	assert.Equal(t, models.StatusEmptyFile, e.Status)
	assert.Equal(t, "EMPTY.N0000", e.Ticker)
	assert.Equal(t, int64(0), e.FileSize)
	assert.Equal(t, 0, e.Rows)
}

func TestClassifierRunWritesManifest(t *testing.T) {
	cfg := testConfig(t)
	raw := cfg.Paths.RawDir
	writeRaw(t, raw, "b/JKH.N0000.json", `[{"tradeDate": 1704067200000, "close": 1}]`)
	writeRaw(t, raw, "a/COMB.N0000.TXT", `{"data": []}`)
	writeRaw(t, raw, "ZERO.N0000.json", "")
	writeRaw(t, raw, "BAD.N0000.json", "{{{")
	writeRaw(t, raw, "notes.md", "ignored")
	writeRaw(t, raw, "old.csv", "ignored")

	m := metrics.New()
	entries, summary, err := NewClassifier(cfg, m).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, entries, 4)
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.RelativePath
	}
	assert.Equal(t, []string{"BAD.N0000.json", "ZERO.N0000.json", "a/COMB.N0000.TXT", "b/JKH.N0000.json"}, paths)

	assert.Equal(t, 4, summary.Files)
	assert.Equal(t, 1, summary.ByStatus[models.StatusHasData])
	assert.Equal(t, 1, summary.ByStatus[models.StatusEmptyArray])
	assert.Equal(t, 1, summary.ByStatus[models.StatusEmptyFile])
	assert.Equal(t, 1, summary.ByStatus[models.StatusInvalidJSON])

	read, err := writer.ReadManifest(cfg.Paths.Manifest)
	require.NoError(t, err)
	require.Len(t, read, 4)
	jkh := read[3]
	assert.Equal(t, "JKH.N0000", jkh.Ticker)
	assert.Equal(t, models.StatusHasData, jkh.Status)
	assert.Equal(t, 1, jkh.Rows)
	assert.Equal(t, "2024-01-01", models.FormatDate(jkh.StartDate))
	assert.Greater(t, jkh.FileSize, int64(0))
}

func TestClassifierIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	writeRaw(t, cfg.Paths.RawDir, "JKH.N0000.json", `[{"tradeDate": 1704067200000}]`)
	writeRaw(t, cfg.Paths.RawDir, "X.N0000.json", `[]`)

	c := NewClassifier(cfg, nil)
	_, _, err := c.Run(context.Background())
	require.NoError(t, err)
	first, err := os.ReadFile(cfg.Paths.Manifest)
	require.NoError(t, err)

	_, _, err = c.Run(context.Background())
	require.NoError(t, err)
	second, err := os.ReadFile(cfg.Paths.Manifest)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestClassifierCreatesMissingRoot(t *testing.T) {
	cfg := testConfig(t)
	cfg.Paths.RawDir = filepath.Join(t.TempDir(), "does", "not", "exist")
	cfg.Paths.Manifest = filepath.Join(cfg.Paths.RawDir, "manifest.csv")

	entries, summary, err := NewClassifier(cfg, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 0, summary.Files)
	assert.FileExists(t, cfg.Paths.Manifest)
}

func TestClassifierHonoursCancellation(t *testing.T) {
	cfg := testConfig(t)
	writeRaw(t, cfg.Paths.RawDir, "A.N0000.json", `[]`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewClassifier(cfg, nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassifyFileDeeplyNested(t *testing.T) {
	root := t.TempDir()
	open := writeRaw(t, root, "OPEN.N0000.json", strings.Repeat("[", 200000))
	closed := writeRaw(t, root, "DEEP.N0000.json", strings.Repeat("[", maxDepth+1)+strings.Repeat("]", maxDepth+1))
	ok := writeRaw(t, root, "OK.N0000.json", strings.Repeat("[", 50)+strings.Repeat("]", 50))

	assert.Equal(t, models.StatusInvalidJSON, ClassifyFile(root, open).Status)
	assert.Equal(t, models.StatusInvalidJSON, ClassifyFile(root, closed).Status)
	assert.Equal(t, models.StatusHasData, ClassifyFile(root, ok).Status)
}

func TestClassifierMarksUnreadableFilesAsError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	cfg := testConfig(t)
	raw := cfg.Paths.RawDir
	writeRaw(t, raw, "JKH.N0000.json", `[{"tradeDate": 1704067200000, "close": 1}]`)
	writeRaw(t, raw, "NIL.N0000.json", `[]`)
	require.NoError(t, os.Symlink(filepath.Join(raw, "gone.json"), filepath.Join(raw, "X.N0000.json")))

	entries, summary, err := NewClassifier(cfg, metrics.New()).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)

	byPath := make(map[string]models.ManifestEntry)
	for _, e := range entries {
		byPath[e.RelativePath] = e
	}
	assert.Equal(t, models.StatusError, byPath["X.N0000.json"].Status)
	assert.Equal(t, "X.N0000", byPath["X.N0000.json"].Ticker)
	assert.Equal(t, models.StatusHasData, byPath["JKH.N0000.json"].Status)
	assert.Equal(t, models.StatusEmptyArray, byPath["NIL.N0000.json"].Status)
	assert.Equal(t, 1, summary.ByStatus[models.StatusError])

	read, err := writer.ReadManifest(cfg.Paths.Manifest)
	require.NoError(t, err)
	require.Len(t, read, 3)
}

func TestClassifyFilePermissionDenied(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("file modes are not enforced")
	}
	root := t.TempDir()
	path := writeRaw(t, root, "LOCKED.N0000.json", `[{"tradeDate": 1704067200000}]`)
	require.NoError(t, os.Chmod(path, 0o000))
	t.Cleanup(func() { os.Chmod(path, 0o644) })

	e := ClassifyFile(root, path)
	assert.Equal(t, models.StatusError, e.Status)
	assert.Zero(t, e.Rows)
}
