// Package metrics holds the Prometheus counters for one pipeline command.
//
// Registers on a private registry:
//
//	#cseflow_files_classified_total{status}
//	#cseflow_rows_normalized_total
//	#cseflow_tickers_selected_total{include}
//	#cseflow_rows_assembled_total
//	#cseflow_rows_loaded_total{table}
//	#cseflow_downloads_total{outcome}
//	#cseflow_stage_duration_seconds{stage}
//
// and pushes them to a Pushgateway when one is configured. Every method is
// safe on a nil *Pipeline so stages can run without metrics.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

type Pipeline struct {
	registry        *prometheus.Registry
	filesClassified *prometheus.CounterVec
	rowsNormalized  prometheus.Counter
	tickersSelected *prometheus.CounterVec
	rowsAssembled   prometheus.Counter
	rowsLoaded      *prometheus.CounterVec
	downloads       *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
}

func New() *Pipeline {
	p := &Pipeline{
		registry: prometheus.NewRegistry(),
		filesClassified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cseflow_files_classified_total",
			Help: "Raw files classified, by status",
		}, []string{"status"}),
		rowsNormalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cseflow_rows_normalized_total",
			Help: "Canonical rows written by the normalizer",
		}),
		tickersSelected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cseflow_tickers_selected_total",
			Help: "Selector decisions, by include flag",
		}, []string{"include"}),
		rowsAssembled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cseflow_rows_assembled_total",
			Help: "Rows written to the long panel",
		}),
		rowsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cseflow_rows_loaded_total",
			Help: "Rows appended to the relational sink",
		}, []string{"table"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cseflow_downloads_total",
			Help: "Chart downloads, by outcome",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cseflow_stage_duration_seconds",
			Help:    "Wall time per pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"stage"}),
	}
	p.registry.MustRegister(
		p.filesClassified, p.rowsNormalized, p.tickersSelected,
		p.rowsAssembled, p.rowsLoaded, p.downloads, p.stageDuration,
	)
	return p
}

// Registry exposes the underlying registry, mainly for tests.
func (p *Pipeline) Registry() *prometheus.Registry {
	if p == nil {
		return nil
	}
	return p.registry
}

func (p *Pipeline) FileClassified(status string) {
	if p != nil {
		p.filesClassified.WithLabelValues(status).Inc()
	}
}

func (p *Pipeline) RowsNormalized(n int) {
	if p != nil {
		p.rowsNormalized.Add(float64(n))
	}
}

func (p *Pipeline) TickerSelected(include bool) {
	if p != nil {
		p.tickersSelected.WithLabelValues(fmt.Sprint(include)).Inc()
	}
}

func (p *Pipeline) RowsAssembled(n int) {
	if p != nil {
		p.rowsAssembled.Add(float64(n))
	}
}

func (p *Pipeline) RowsLoaded(table string, n int) {
	if p != nil {
		p.rowsLoaded.WithLabelValues(table).Add(float64(n))
	}
}

func (p *Pipeline) Download(ok bool) {
	if p == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	p.downloads.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long stage took since started.
func (p *Pipeline) ObserveStage(stage string, started time.Time) {
	if p != nil {
		p.stageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
	}
}

// Push sends the registry to a Pushgateway, grouped by command and run id.
func (p *Pipeline) Push(ctx context.Context, url, job, command, runID string) error {
	if p == nil || url == "" {
		return nil
	}
	if job == "" {
		job = "cseflow"
	}
	err := push.New(url, job).
		Gatherer(p.registry).
		Grouping("command", command).
		Grouping("run_id", runID).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
