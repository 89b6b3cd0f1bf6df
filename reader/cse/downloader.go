package cse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	appconfig "cseflow/config"
	"cseflow/internal/metrics"
	"cseflow/internal/symbols"
	"cseflow/logger"
)

// rawFetcher is the part of Client the downloader needs.
type rawFetcher interface {
	FetchRaw(ctx context.Context, ticker string, start, end time.Time) ([]byte, error)
}

// DownloadSummary counts the outcome of one batch.
type DownloadSummary struct {
	Tickers int
	Written int
	NonJSON int
	Failed  []string
}

// Downloader saves one raw chart dump per ticker into the raw store.
type Downloader struct {
	client  rawFetcher
	rawDir  string
	limiter *rate.Limiter
	metrics *metrics.Pipeline
	log     *logger.Log
}

func NewDownloader(cfg *appconfig.Config, client *Client, m *metrics.Pipeline) *Downloader {
	return newDownloader(cfg, client, m)
}

func newDownloader(cfg *appconfig.Config, client rawFetcher, m *metrics.Pipeline) *Downloader {
	rps := cfg.Source.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Source.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Downloader{
		client:  client,
		rawDir:  cfg.Paths.RawDir,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		metrics: m,
		log:     logger.GetLogger(),
	}
}

// Run downloads every ticker for [start, end]. A failing ticker is logged
// and the batch continues; the returned error lists how many failed.
func (d *Downloader) Run(ctx context.Context, tickers []string, start, end time.Time) (DownloadSummary, error) {
	summary := DownloadSummary{Tickers: len(tickers)}
	log := d.log.WithComponent("downloader")
	if err := os.MkdirAll(d.rawDir, 0o755); err != nil {
		return summary, fmt.Errorf("failed to create raw dir: %w", err)
	}

	for _, ticker := range tickers {
		if err := d.limiter.Wait(ctx); err != nil {
			return summary, err
		}
		tlog := log.WithFields(logger.Fields{"ticker": ticker})

		path, err := d.download(ctx, ticker, start, end)
		if path != "" {
			summary.Written++
			if filepath.Ext(path) == ".txt" {
				summary.NonJSON++
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			tlog.WithError(err).Warn("download failed")
			summary.Failed = append(summary.Failed, ticker)
			d.metrics.Download(false)
			continue
		}
		d.metrics.Download(true)
		tlog.WithFields(logger.Fields{"path": path}).Info("saved raw chart")
	}

	log.WithFields(logger.Fields{
		"tickers":  summary.Tickers,
		"written":  summary.Written,
		"non_json": summary.NonJSON,
		"failed":   len(summary.Failed),
	}).Info("download finished")
	if len(summary.Failed) > 0 {
		return summary, fmt.Errorf("%d of %d tickers failed: %v", len(summary.Failed), summary.Tickers, summary.Failed)
	}
	return summary, nil
}

// download fetches one ticker and stores the body. A failed request leaves
// the raw store untouched, and a non-JSON body never replaces a JSON dump.
// The returned path is empty when nothing was written.
func (d *Downloader) download(ctx context.Context, ticker string, start, end time.Time) (string, error) {
	body, err := d.client.FetchRaw(ctx, ticker, start, end)
	if err != nil {
		return "", err
	}
	if len(body) == 0 {
		return "", fmt.Errorf("empty response for %s", ticker)
	}

	if !json.Valid(body) {
		path := filepath.Join(d.rawDir, symbols.Filename(ticker, ".txt"))
		if err := os.WriteFile(path, body, 0o644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", path, err)
		}
		return path, ErrNonJSON
	}

	path := filepath.Join(d.rawDir, symbols.Filename(ticker, ".json"))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	stale := filepath.Join(d.rawDir, symbols.Filename(ticker, ".txt"))
	if err := os.Remove(stale); err != nil && !errors.Is(err, os.ErrNotExist) {
		return path, fmt.Errorf("failed to remove stale %s: %w", stale, err)
	}
	return path, nil
}
