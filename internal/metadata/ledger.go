package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DataFile describes one artifact produced by a build.
type DataFile struct {
	Path        string         `json:"path"`
	FileSize    int64          `json:"file_size_in_bytes"`
	RecordCount int64          `json:"record_count"`
	Partition   map[string]any `json:"partition"`
	Timestamp   time.Time      `json:"-"`
}

// BuildEntry is the content of one manifest-<id>.json file.
type BuildEntry struct {
	Stage    string   `json:"stage"`
	RunID    string   `json:"run_id,omitempty"`
	DataFile DataFile `json:"data_file"`
}

// Snapshot points at the manifest written for one build.
type Snapshot struct {
	SnapshotID  int64  `json:"snapshot-id"`
	TimestampMs int64  `json:"timestamp-ms"`
	Stage       string `json:"stage"`
	Manifest    string `json:"manifest"`
}

// LedgerMetadata is the layout of metadata.json.
type LedgerMetadata struct {
	FormatVersion     int        `json:"format-version"`
	LedgerUUID        string     `json:"ledger-uuid"`
	Location          string     `json:"location"`
	CurrentSnapshotID int64      `json:"current-snapshot-id"`
	Snapshots         []Snapshot `json:"snapshots"`
}

const formatVersion = 1

// Ledger records panel and returns builds under a metadata directory.
// Snapshots from earlier invocations are loaded from metadata.json so the
// history accumulates across runs.
type Ledger struct {
	mu    sync.Mutex
	dir   string
	runID string
	meta  LedgerMetadata
}

// OpenLedger loads dir/metadata.json, or starts an empty ledger when it does
// not exist yet.
func OpenLedger(dir, runID string) (*Ledger, error) {
	l := &Ledger{dir: dir, runID: runID}
	b, err := os.ReadFile(l.metadataPath())
	switch {
	case errors.Is(err, os.ErrNotExist):
		l.meta = LedgerMetadata{
			FormatVersion: formatVersion,
			LedgerUUID:    uuid.NewString(),
			Location:      dir,
		}
		return l, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	if err := json.Unmarshal(b, &l.meta); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", l.metadataPath(), err)
	}
	return l, nil
}

func (l *Ledger) metadataPath() string {
	return filepath.Join(l.dir, "metadata.json")
}

// AddBuild writes a manifest for df and appends a snapshot pointing at it.
func (l *Ledger) AddBuild(stage string, df DataFile) (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if df.Timestamp.IsZero() {
		df.Timestamp = time.Now()
	}
	snapID := df.Timestamp.UnixNano()
	if n := len(l.meta.Snapshots); n > 0 && snapID <= l.meta.Snapshots[n-1].SnapshotID {
		snapID = l.meta.Snapshots[n-1].SnapshotID + 1
	}
	manifestFile := fmt.Sprintf("manifest-%d.json", snapID)

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return Snapshot{}, err
	}
	b, err := json.MarshalIndent(BuildEntry{Stage: stage, RunID: l.runID, DataFile: df}, "", "  ")
	if err != nil {
		return Snapshot{}, err
	}
	if err := os.WriteFile(filepath.Join(l.dir, manifestFile), b, 0o644); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		SnapshotID:  snapID,
		TimestampMs: df.Timestamp.UnixMilli(),
		Stage:       stage,
		Manifest:    manifestFile,
	}
	l.meta.Snapshots = append(l.meta.Snapshots, snap)
	l.meta.CurrentSnapshotID = snapID
	if err := l.writeMetadata(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (l *Ledger) writeMetadata() error {
	b, err := json.MarshalIndent(l.meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.metadataPath(), b, 0o644)
}

// Snapshots returns the recorded builds, oldest first.
func (l *Ledger) Snapshots() []Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Snapshot(nil), l.meta.Snapshots...)
}

// Build reads back the manifest a snapshot points at.
func (l *Ledger) Build(s Snapshot) (BuildEntry, error) {
	var entry BuildEntry
	b, err := os.ReadFile(filepath.Join(l.dir, s.Manifest))
	if err != nil {
		return entry, err
	}
	err = json.Unmarshal(b, &entry)
	return entry, err
}
