package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"cseflow/config"
	"cseflow/internal/metrics"
	"cseflow/logger"
)

// app holds what every command needs once the root command has loaded the
// configuration.
type app struct {
	configPath string
	envFile    string

	cfg     *config.Config
	log     *logger.Log
	metrics *metrics.Pipeline
	runID   string
}

func main() {
	a := &app{log: logger.GetLogger()}
	root := newRootCommand(a)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "cseflow:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "cseflow",
		Short:         "Colombo Stock Exchange price ETL",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultPath, "Path to configuration file")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Path to a .env file loaded before the configuration")

	root.AddCommand(
		a.downloadCommand(),
		a.prepareCommand(),
		a.classifyCommand(),
		a.normalizeCommand(),
		a.selectCommand(),
		a.assembleCommand(),
		a.returnsCommand(),
		a.loadCommand(),
		a.runCommand(),
		a.reportCommand(),
		a.publishCommand(),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		a.log.WithError(err).Warn("Error loading .env file")
	}

	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		a.log.WithError(err).Error("Failed to load configuration")
		return err
	}
	if err := a.log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		a.log.WithError(err).Error("Failed to configure logger")
		return err
	}
	a.log.WithEnv("APP_ENV", "LOG_LEVEL").WithComponent("main").WithFields(logger.Fields{
		"config": a.configPath,
		"driver": cfg.Database.Driver,
	}).Debug("configuration loaded")
	if cw := cfg.Metrics.CloudWatch; cw.Enabled {
		logger.InitCloudWatch(ctx, cw.Region, cw.Namespace, cw.Dashboard)
	}

	a.cfg = cfg
	a.metrics = metrics.New()
	a.runID = uuid.NewString()
	return nil
}

// command wraps a stage so every invocation ends with a run report and a
// metrics push, and failures are logged once.
func (a *app) command(name string, fn func(ctx context.Context, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		started := time.Now()
		log := a.log.WithComponent("main").WithFields(logger.Fields{
			"command": name,
			"run_id":  a.runID,
			"service": a.cfg.App.Name,
			"version": a.cfg.App.Version,
		})
		log.Info("starting command")

		err := fn(ctx, cmd)
		if err != nil {
			log.WithError(err).Error("command failed")
		}

		logger.LogRunReport(ctx, a.log, name, a.runID, started, err)
		if url := a.cfg.Metrics.PushgatewayURL; url != "" {
			// a cancelled run still reports what it did
			pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			if perr := a.metrics.Push(pushCtx, url, a.cfg.Metrics.Job, name, a.runID); perr != nil {
				log.WithError(perr).Warn("failed to push metrics")
			}
			cancel()
		}
		return err
	}
}
