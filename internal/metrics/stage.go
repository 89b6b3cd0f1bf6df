package metrics

import (
	"cseflow/logger"
)

// StageStats is the per-command tally reported at the end of a stage.
type StageStats struct {
	Inputs   int64
	Outputs  int64
	Rows     int64
	Skipped  int64
	Failures int64
}

// ReportStage logs each stat through LogMetric and a summary line. The line
// is a warning when anything was skipped or failed.
func ReportStage(log *logger.Log, component string, stats StageStats) {
	l := log.WithComponent(component)

	failureRate := float64(0)
	if stats.Inputs > 0 {
		failureRate = float64(stats.Failures+stats.Skipped) / float64(stats.Inputs)
	}

	l.LogMetric(component, "inputs", stats.Inputs, "counter", logger.Fields{})
	l.LogMetric(component, "outputs", stats.Outputs, "counter", logger.Fields{})
	l.LogMetric(component, "rows", stats.Rows, "counter", logger.Fields{})
	l.LogMetric(component, "skipped", stats.Skipped, "counter", logger.Fields{})
	l.LogMetric(component, "failures", stats.Failures, "counter", logger.Fields{})
	l.LogMetric(component, "failure_rate", failureRate, "gauge", logger.Fields{})

	entry := l.WithFields(logger.Fields{
		"inputs":       stats.Inputs,
		"outputs":      stats.Outputs,
		"rows":         stats.Rows,
		"skipped":      stats.Skipped,
		"failures":     stats.Failures,
		"failure_rate": failureRate,
	})

	if stats.Failures > 0 || stats.Skipped > 0 {
		entry.Warn(component + " metrics")
		return
	}
	entry.Info(component + " metrics")
}
