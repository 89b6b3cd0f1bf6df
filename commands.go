package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cseflow/config"
	"cseflow/internal/etl"
	"cseflow/internal/metadata"
	"cseflow/internal/panel"
	"cseflow/internal/selection"
	"cseflow/internal/sink"
	"cseflow/internal/symbols"
	"cseflow/logger"
	"cseflow/models"
	"cseflow/processor"
	"cseflow/reader/cse"
	"cseflow/writer"
)

func (a *app) downloadCommand() *cobra.Command {
	var (
		tickers     []string
		tickersFile string
		years       int
	)
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download raw chart dumps into the raw store",
	}
	cmd.Flags().StringSliceVar(&tickers, "tickers", nil, "Comma separated tickers (overrides the tickers file)")
	cmd.Flags().StringVar(&tickersFile, "tickers-file", "", "YAML ticker list (default source.tickers_file)")
	cmd.Flags().IntVar(&years, "years", 0, "Years of history to request (default source.lookback_years)")

	cmd.RunE = a.command("download", func(ctx context.Context, _ *cobra.Command) error {
		list := config.CleanTickers(tickers)
		if len(list) == 0 {
			path := tickersFile
			if path == "" {
				path = a.cfg.Source.TickersFile
			}
			loaded, err := config.LoadTickers(path)
			if err != nil {
				return err
			}
			list = loaded
		}
		for i, t := range list {
			list[i] = symbols.ToCSE(t)
		}
		if len(list) == 0 {
			return errors.New("no tickers to download")
		}
		if years <= 0 {
			years = a.cfg.Source.LookbackYears
		}

		end := models.Day(time.Now())
		start := end.AddDate(-years, 0, 0)
		d := cse.NewDownloader(a.cfg, cse.NewClient(a.cfg.Source), a.metrics)
		_, err := d.Run(ctx, list, start, end)
		return err
	})
	return cmd
}

func (a *app) prepareCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Classify the raw store and normalize every dump with data",
	}
	cmd.RunE = a.command("prepare", func(ctx context.Context, _ *cobra.Command) error {
		entries, _, err := processor.NewClassifier(a.cfg, a.metrics).Run(ctx)
		if err != nil {
			return err
		}
		_, err = processor.NewNormalizer(a.cfg, a.metrics).Run(ctx, entries)
		return err
	})
	return cmd
}

func (a *app) classifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Write the raw store manifest",
	}
	cmd.RunE = a.command("classify", func(ctx context.Context, _ *cobra.Command) error {
		_, _, err := processor.NewClassifier(a.cfg, a.metrics).Run(ctx)
		return err
	})
	return cmd
}

func (a *app) normalizeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Write canonical per-ticker CSVs from the manifest",
	}
	cmd.RunE = a.command("normalize", func(ctx context.Context, _ *cobra.Command) error {
		_, err := processor.NewNormalizer(a.cfg, a.metrics).RunFromManifest(ctx)
		return err
	})
	return cmd
}

func (a *app) selectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Decide which tickers enter the panel",
	}
	minRows := cmd.Flags().Int("min-rows", 0, "Minimum row count (default selection.min_rows)")
	minStart := cmd.Flags().String("min-start", "", "Latest allowed first trade date, YYYY-MM-DD")
	minSpan := cmd.Flags().Int("min-span-days", 0, "Minimum days between first and last trade date")

	cmd.RunE = a.command("select", func(ctx context.Context, cmd *cobra.Command) error {
		sc := a.cfg.Selection
		if cmd.Flags().Changed("min-rows") {
			sc.MinRows = *minRows
		}
		if cmd.Flags().Changed("min-start") {
			sc.MinStart = *minStart
		}
		if cmd.Flags().Changed("min-span-days") {
			sc.MinSpanDays = *minSpan
		}
		criteria, err := selection.CriteriaFromConfig(sc)
		if err != nil {
			return err
		}
		_, err = selection.NewSelector(a.cfg, a.metrics).Run(ctx, criteria)
		return err
	})
	return cmd
}

func (a *app) builder() (*panel.Builder, error) {
	ledger, err := metadata.OpenLedger(a.cfg.Paths.MetadataDir, a.runID)
	if err != nil {
		return nil, err
	}
	return panel.NewBuilder(a.cfg, a.metrics, ledger), nil
}

// ledgerBuilds lists every recorded panel and returns build, oldest first.
func (a *app) ledgerBuilds() ([]writer.BuildSummary, error) {
	ledger, err := metadata.OpenLedger(a.cfg.Paths.MetadataDir, a.runID)
	if err != nil {
		return nil, err
	}
	var out []writer.BuildSummary
	for _, snap := range ledger.Snapshots() {
		b, err := ledger.Build(snap)
		if err != nil {
			return nil, fmt.Errorf("failed to read build %d: %w", snap.SnapshotID, err)
		}
		out = append(out, writer.BuildSummary{
			SnapshotID: snap.SnapshotID,
			Stage:      b.Stage,
			RunID:      b.RunID,
			Path:       b.DataFile.Path,
			Records:    b.DataFile.RecordCount,
			Size:       b.DataFile.FileSize,
			BuiltAt:    time.UnixMilli(snap.TimestampMs),
		})
	}
	return out, nil
}

func (a *app) assembleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assemble",
		Short: "Concatenate the selected tickers into the long price panel",
	}
	cmd.RunE = a.command("assemble", func(ctx context.Context, _ *cobra.Command) error {
		b, err := a.builder()
		if err != nil {
			return err
		}
		_, err = b.Assemble(ctx)
		return err
	})
	return cmd
}

func (a *app) returnsCommand() *cobra.Command {
	var csvPath string
	cmd := &cobra.Command{
		Use:   "returns",
		Short: "Add close-to-close returns to the panel",
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "Also export the returns table as CSV to this path")

	cmd.RunE = a.command("returns", func(ctx context.Context, _ *cobra.Command) error {
		b, err := a.builder()
		if err != nil {
			return err
		}
		res, err := b.Returns(ctx)
		if err != nil || csvPath == "" {
			return err
		}
		rows, err := writer.ReadReturns(res.Path)
		if err != nil {
			return err
		}
		if err := writer.WriteReturnsCSV(csvPath, rows, a.cfg.Writer.CSV.FloatPrecision); err != nil {
			return err
		}
		logger.LogDataFlowEntry(a.log.WithComponent("returns"), res.Path, csvPath, len(rows), "returns_csv")
		return nil
	})
	return cmd
}

func (a *app) loadCommand() *cobra.Command {
	var input, file string
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Append the panel or returns table to the database",
	}
	cmd.Flags().StringVar(&input, "input", "returns", "Table to load: panel or returns")
	cmd.Flags().StringVar(&file, "file", "", "Parquet file to load (default from paths)")

	cmd.RunE = a.command("load", func(ctx context.Context, _ *cobra.Command) error {
		rows, path, err := readForLoad(a.cfg.Paths, input, file)
		if err != nil {
			return err
		}
		s, err := sink.Open(a.cfg.Database, a.metrics)
		if err != nil {
			return err
		}
		defer s.Close()

		n, err := s.Append(ctx, rows)
		if err != nil {
			return err
		}
		a.log.WithComponent("loader").WithFields(logger.Fields{
			"input": path,
			"table": a.cfg.Database.Table,
			"rows":  n,
		}).Info("load complete")
		return nil
	})
	return cmd
}

func readForLoad(paths config.PathsConfig, input, file string) ([]models.ReturnRow, string, error) {
	switch strings.ToLower(input) {
	case "panel":
		if file == "" {
			file = paths.PanelFile
		}
		rows, err := writer.ReadPanel(file)
		if err != nil {
			return nil, file, err
		}
		return models.ToReturnRows(rows), file, nil
	case "returns":
		if file == "" {
			file = paths.ReturnsFile
		}
		rows, err := writer.ReadReturns(file)
		return rows, file, err
	default:
		return nil, file, fmt.Errorf("unknown --input %q: want panel or returns", input)
	}
}

func (a *app) runCommand() *cobra.Command {
	var (
		ticker     string
		start, end string
		batchYears int
		dryRun     bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Download, normalize and load one ticker over a date range",
	}
	cmd.Flags().StringVarP(&ticker, "ticker", "t", "", "Ticker symbol")
	cmd.Flags().StringVar(&start, "start", "", "Start date YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "End date YYYY-MM-DD")
	cmd.Flags().IntVar(&batchYears, "batch-years", 1, "Chunk size in years")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Write sample CSVs instead of loading the database")
	_ = cmd.MarkFlagRequired("ticker")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	cmd.RunE = a.command("run", func(ctx context.Context, _ *cobra.Command) error {
		s, err := time.Parse(models.DateLayout, start)
		if err != nil {
			return fmt.Errorf("invalid --start: %w", err)
		}
		e, err := time.Parse(models.DateLayout, end)
		if err != nil {
			return fmt.Errorf("invalid --end: %w", err)
		}

		var target etl.Sink
		if !dryRun {
			db, err := sink.Open(a.cfg.Database, a.metrics)
			if err != nil {
				return err
			}
			defer db.Close()
			target = db
		}

		r := etl.NewRunner(a.cfg, cse.NewClient(a.cfg.Source), target, a.metrics)
		summary, err := r.Run(ctx, etl.Options{
			Ticker:     strings.TrimSpace(ticker),
			Start:      s,
			End:        e,
			BatchYears: batchYears,
			DryRun:     dryRun,
		})
		a.log.WithComponent("etl").WithFields(logger.Fields{
			"chunks":  summary.Chunks,
			"empty":   summary.Empty,
			"rows":    summary.Rows,
			"loaded":  summary.Loaded,
			"samples": len(summary.Samples),
		}).Info("run summary")
		return err
	})
	return cmd
}

func (a *app) reportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write the manifest and selection workbook",
	}
	cmd.RunE = a.command("report", func(ctx context.Context, _ *cobra.Command) error {
		manifest, err := writer.ReadManifest(a.cfg.Paths.Manifest)
		if err != nil {
			return err
		}
		var sel []models.SelectionEntry
		if _, err := os.Stat(a.cfg.Paths.TickersFile); err == nil {
			if sel, err = writer.ReadSelection(a.cfg.Paths.TickersFile); err != nil {
				return err
			}
		}
		builds, err := a.ledgerBuilds()
		if err != nil {
			return err
		}
		if err := writer.WriteReport(a.cfg.Paths.ReportFile, manifest, sel, builds); err != nil {
			return err
		}
		a.log.WithComponent("report").WithFields(logger.Fields{
			"output":  a.cfg.Paths.ReportFile,
			"files":   len(manifest),
			"tickers": len(sel),
			"builds":  len(builds),
		}).Info("wrote report")
		return nil
	})
	return cmd
}

func (a *app) publishCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload pipeline artifacts to S3",
	}
	cmd.RunE = a.command("publish", func(ctx context.Context, _ *cobra.Command) error {
		p, err := writer.NewPublisher(ctx, a.cfg, a.runID)
		if err != nil {
			return err
		}
		files := append(writer.Artifacts(a.cfg.Paths), filepath.Join(a.cfg.Paths.MetadataDir, "metadata.json"))
		keys, err := p.Publish(ctx, files)
		a.log.WithComponent("publisher").WithFields(logger.Fields{"objects": len(keys)}).Info("publish finished")
		return err
	})
	return cmd
}
