package writer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"cseflow/models"
)

// Report sheet names.
const (
	SheetManifest  = "manifest"
	SheetSelection = "selection"
	SheetSummary   = "summary"
	SheetBuilds    = "builds"
)

// BuildSummary is one panel or returns build listed in the report.
type BuildSummary struct {
	SnapshotID int64
	Stage      string
	RunID      string
	Path       string
	Records    int64
	Size       int64
	BuiltAt    time.Time
}

var buildsHeader = []string{"snapshot_id", "stage", "run_id", "path", "record_count", "file_size_in_bytes", "built_at"}

// WriteReport overwrites path with a workbook describing the raw store:
// every manifest entry, the selection, a per-status summary and the recorded
// panel builds.
func WriteReport(path string, manifest []models.ManifestEntry, selection []models.SelectionEntry, builds []BuildSummary) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetManifest); err != nil {
		return err
	}
	for _, name := range []string{SheetSelection, SheetSummary, SheetBuilds} {
		if _, err := f.NewSheet(name); err != nil {
			return err
		}
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	manifestRows := make([][]interface{}, 0, len(manifest))
	for _, e := range manifest {
		manifestRows = append(manifestRows, []interface{}{
			e.Ticker, e.RelativePath, string(e.Status), e.Rows,
			models.FormatDate(e.StartDate), models.FormatDate(e.EndDate), e.FileSize,
		})
	}
	if err := writeSheet(f, SheetManifest, models.ManifestHeader, manifestRows, bold); err != nil {
		return err
	}

	selectionRows := make([][]interface{}, 0, len(selection))
	included := 0
	for _, e := range selection {
		if e.Include {
			included++
		}
		selectionRows = append(selectionRows, []interface{}{
			e.Ticker, e.RelativePath, e.Rows,
			models.FormatDate(e.StartDate), models.FormatDate(e.EndDate), yesNo(e.Include),
		})
	}
	if err := writeSheet(f, SheetSelection, models.SelectionHeader, selectionRows, bold); err != nil {
		return err
	}

	counts := make(map[models.Status]int)
	for _, e := range manifest {
		counts[e.Status]++
	}
	summaryRows := make([][]interface{}, 0, len(models.Statuses)+3)
	for _, st := range models.Statuses {
		summaryRows = append(summaryRows, []interface{}{string(st), counts[st]})
	}
	summaryRows = append(summaryRows,
		[]interface{}{"files", len(manifest)},
		[]interface{}{"tickers_selected", len(selection)},
		[]interface{}{"tickers_included", included},
	)
	if err := writeSheet(f, SheetSummary, []string{"metric", "value"}, summaryRows, bold); err != nil {
		return err
	}

	buildRows := make([][]interface{}, 0, len(builds))
	for _, b := range builds {
		buildRows = append(buildRows, []interface{}{
			b.SnapshotID, b.Stage, b.RunID, b.Path, b.Records, b.Size,
			b.BuiltAt.UTC().Format(time.RFC3339),
		})
	}
	if err := writeSheet(f, SheetBuilds, buildsHeader, buildRows, bold); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save report %s: %w", path, err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]interface{}, headerStyle int) error {
	head := make([]interface{}, len(header))
	for i, h := range header {
		head[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &head); err != nil {
		return err
	}
	if err := f.SetRowStyle(sheet, 1, 1, headerStyle); err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return fmt.Errorf("sheet %s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}
