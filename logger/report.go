package logger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type componentStat struct {
	warns  int64
	errors int64
}

var (
	statsMu sync.Mutex
	stats   = map[string]*componentStat{}
)

func statFor(component string) *componentStat {
	cs, ok := stats[component]
	if !ok {
		cs = &componentStat{}
		stats[component] = cs
	}
	return cs
}

func recordWarn(component string) {
	statsMu.Lock()
	statFor(component).warns++
	statsMu.Unlock()
}

func recordError(component string) {
	statsMu.Lock()
	statFor(component).errors++
	statsMu.Unlock()
}

// Counts returns the warnings and errors logged so far for a component.
func Counts(component string) (warns, errors int64) {
	statsMu.Lock()
	defer statsMu.Unlock()
	if cs, ok := stats[component]; ok {
		return cs.warns, cs.errors
	}
	return 0, 0
}

// ResetCounts clears the per-component tallies.
func ResetCounts() {
	statsMu.Lock()
	stats = map[string]*componentStat{}
	statsMu.Unlock()
}

// LogRunReport emits one summary line for a finished command with the
// warn/error tallies per component and publishes the totals to CloudWatch.
func LogRunReport(ctx context.Context, log *Log, command, runID string, started time.Time, runErr error) {
	statsMu.Lock()
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)
	perComponent := make(map[string]map[string]int64, len(names))
	var warns, errs int64
	for _, name := range names {
		cs := stats[name]
		perComponent[name] = map[string]int64{"warnings": cs.warns, "errors": cs.errors}
		warns += cs.warns
		errs += cs.errors
	}
	statsMu.Unlock()

	elapsed := time.Since(started)
	fields := Fields{
		"command":     command,
		"run_id":      runID,
		"duration_ms": elapsed.Milliseconds(),
		"warnings":    warns,
		"errors":      errs,
		"components":  perComponent,
		"succeeded":   runErr == nil,
	}
	entry := log.WithComponent("report").WithFields(fields)
	if runErr != nil {
		entry.Entry.WithError(runErr).Info("run report")
	} else {
		entry.Info("run report")
	}

	dims := []cwtypes.Dimension{{Name: aws.String("command"), Value: aws.String(command)}}
	publishMetrics(ctx, []cwtypes.MetricDatum{
		{MetricName: aws.String("RunWarnings"), Dimensions: dims, Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(warns))},
		{MetricName: aws.String("RunErrors"), Dimensions: dims, Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(errs))},
		{MetricName: aws.String("RunDurationSeconds"), Dimensions: dims, Unit: cwtypes.StandardUnitSeconds, Value: aws.Float64(elapsed.Seconds())},
	})
}
