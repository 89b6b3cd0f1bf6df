package processor

import (
	"os"
	"path/filepath"
	"testing"

	appconfig "cseflow/config"
)

// testConfig returns the default configuration with every path rooted in a
// fresh temp dir.
func testConfig(t *testing.T) *appconfig.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := appconfig.Default()
	cfg.Paths.RawDir = filepath.Join(dir, "raw")
	cfg.Paths.Manifest = filepath.Join(dir, "raw", "manifest.csv")
	cfg.Paths.NormalizedDir = filepath.Join(dir, "normalized")
	cfg.Paths.TickersFile = filepath.Join(dir, "tickers_used.csv")
	return &cfg
}

func writeRaw(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
