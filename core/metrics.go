package core

import (
	"context"
	"maps"
	"strings"
)

// Metric names are dotted paths under the changefeed namespace. Operations
// report "<namespace>.<operation>.total" and "<namespace>.<operation>.duration_ms".
const (
	MetricNamespace       = "changefeed"
	MetricChangesDetected = MetricNamespace + ".changes.detected"
	MetricJobTotal        = MetricNamespace + ".job.total"
	MetricJobDuration     = MetricNamespace + ".job.duration_ms"

	metricCounterSuffix   = ".total"
	metricHistogramSuffix = ".duration_ms"
)

func OperationCounterName(operation string) string {
	return MetricNamespace + "." + operation + metricCounterSuffix
}

func OperationDurationName(operation string) string {
	return MetricNamespace + "." + operation + metricHistogramSuffix
}

// ParseOperationMetric reverses OperationCounterName and OperationDurationName.
// It reports false for any other name, including the fixed change and job
// metrics.
func ParseOperationMetric(name string) (operation string, histogram bool, ok bool) {
	rest, found := strings.CutPrefix(name, MetricNamespace+".")
	if !found {
		return "", false, false
	}
	switch {
	case strings.HasSuffix(rest, metricCounterSuffix):
		operation = strings.TrimSuffix(rest, metricCounterSuffix)
	case strings.HasSuffix(rest, metricHistogramSuffix):
		operation, histogram = strings.TrimSuffix(rest, metricHistogramSuffix), true
	default:
		return "", false, false
	}
	if operation == "" || operation == "job" || strings.Contains(operation, ".") {
		return "", false, false
	}
	return operation, histogram, true
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func cloneTags(tags map[string]string) map[string]string {
	copied := make(map[string]string, len(tags))
	maps.Copy(copied, tags)
	return copied
}
