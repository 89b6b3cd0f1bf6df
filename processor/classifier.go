package processor

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	appconfig "cseflow/config"
	"cseflow/internal/metrics"
	"cseflow/internal/symbols"
	"cseflow/logger"
	"cseflow/models"
	"cseflow/writer"
)

// ClassifySummary counts manifest entries per status.
type ClassifySummary struct {
	Files    int
	ByStatus map[models.Status]int
}

// Classifier walks the raw store and records one manifest entry per dump.
type Classifier struct {
	config  *appconfig.Config
	metrics *metrics.Pipeline
	log     *logger.Log
}

func NewClassifier(cfg *appconfig.Config, m *metrics.Pipeline) *Classifier {
	return &Classifier{config: cfg, metrics: m, log: logger.GetLogger()}
}

// Run classifies the raw store and overwrites the manifest.
func (c *Classifier) Run(ctx context.Context) ([]models.ManifestEntry, ClassifySummary, error) {
	started := time.Now()
	defer c.metrics.ObserveStage("classify", started)

	entries, err := c.Classify(ctx, c.config.Paths.RawDir)
	if err != nil {
		return nil, ClassifySummary{}, err
	}
	if err := writer.WriteManifest(c.config.Paths.Manifest, entries); err != nil {
		return nil, ClassifySummary{}, fmt.Errorf("failed to write manifest: %w", err)
	}

	summary := Summarize(entries)
	fields := logger.Fields{"manifest": c.config.Paths.Manifest, "files": summary.Files}
	for st, n := range summary.ByStatus {
		fields[string(st)] = n
	}
	c.log.WithComponent("classifier").WithFields(fields).Info("wrote manifest")
	logger.LogPerformanceEntry(c.log.WithComponent("classifier"), "classifier", "classify", time.Since(started), nil)
	return entries, summary, nil
}

// Classify returns a manifest entry for every .json/.txt file below root,
// in lexical path order. A missing root is created and yields no entries.
func (c *Classifier) Classify(ctx context.Context, root string) ([]models.ManifestEntry, error) {
	log := c.log.WithComponent("classifier").WithFields(logger.Fields{"root": root})
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create raw dir %s: %w", root, err)
	}

	var entries []models.ManifestEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if d != nil && d.IsDir() {
				if path == root {
					return walkErr
				}
				log.WithError(walkErr).WithFields(logger.Fields{"path": path}).Warn("skipping unreadable directory")
				return filepath.SkipDir
			}
			if !isRawFile(path) {
				return nil
			}
			entry := baseEntry(root, path)
			entry.Status = models.StatusError
			entries = append(entries, entry)
			c.metrics.FileClassified(string(entry.Status))
			return nil
		}
		if d.IsDir() || !isRawFile(path) {
			return nil
		}

		entry := ClassifyFile(root, path)
		if entry.Status == models.StatusError {
			log.WithFields(logger.Fields{"path": entry.RelativePath}).Warn("failed to classify file")
		}
		c.metrics.FileClassified(string(entry.Status))
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return entries, nil
}

func isRawFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".json" || ext == ".txt"
}

func baseEntry(root, path string) models.ManifestEntry {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	return models.ManifestEntry{
		Ticker:       symbols.FromFilename(path),
		RelativePath: filepath.ToSlash(rel),
		Status:       models.StatusUnknown,
	}
}

// ClassifyFile inspects one raw dump. It never fails: I/O problems and
// panics are reported as StatusError.
func ClassifyFile(root, path string) (entry models.ManifestEntry) {
	entry = baseEntry(root, path)
	defer func() {
		if r := recover(); r != nil {
			entry.Status = models.StatusError
			entry.Rows = 0
			entry.StartDate, entry.EndDate = time.Time{}, time.Time{}
		}
	}()

	info, err := os.Stat(path)
	if err != nil {
		entry.Status = models.StatusError
		return entry
	}
	entry.FileSize = info.Size()
	if entry.FileSize == 0 {
		entry.Status = models.StatusEmptyFile
		return entry
	}

	data, err := os.ReadFile(path)
	if err != nil {
		entry.Status = models.StatusError
		return entry
	}
	entry.Status, entry.Rows, entry.StartDate, entry.EndDate = ClassifyContent(data)
	return entry
}

// ClassifyContent applies the classification rules to raw bytes. rows and
// the date range are only set for StatusHasData.
func ClassifyContent(data []byte) (status models.Status, rows int, start, end time.Time) {
	text := bytes.TrimSpace(cleanText(data))
	if len(text) == 0 {
		return models.StatusEmptyFile, 0, start, end
	}

	doc, err := ParseDocument(text)
	if err != nil {
		return models.StatusInvalidJSON, 0, start, end
	}
	records, ok := RecordList(doc)
	if !ok {
		return models.StatusInvalidJSON, 0, start, end
	}
	if len(records) == 0 {
		return models.StatusEmptyArray, 0, start, end
	}
	start, end = DateRange(records)
	return models.StatusHasData, len(records), start, end
}

// Summarize counts entries by status.
func Summarize(entries []models.ManifestEntry) ClassifySummary {
	s := ClassifySummary{Files: len(entries), ByStatus: make(map[models.Status]int)}
	for _, e := range entries {
		s.ByStatus[e.Status]++
	}
	return s
}
