package prometheus

import (
	"context"
	"strings"

	"github.com/goliatone/go-changefeed/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

const DefaultNamespace = core.MetricNamespace

var (
	operationLabels = []string{"operation", "status", "topic"}
	changeLabels    = []string{"topic", "event_type"}
	jobLabels       = []string{"job_id", "phase"}
)

// Recorder is a core.MetricsRecorder backed by prometheus vectors. Operation
// metrics such as "changefeed.sync_run.total" land in one family with the
// operation as a label. Names that do not fit a known family are dropped and
// counted.
type Recorder struct {
	operations        *prom.CounterVec
	operationDuration *prom.HistogramVec
	changes           *prom.CounterVec
	jobs              *prom.CounterVec
	jobDuration       *prom.HistogramVec
	dropped           *prom.CounterVec
}

func NewRecorder(namespace string) *Recorder {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Recorder{
		operations: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Changefeed operations by outcome.",
		}, operationLabels),
		operationDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_ms",
			Help:      "Changefeed operation duration in milliseconds.",
			Buckets:   []float64{5, 25, 100, 250, 1000, 5000, 15000, 60000},
		}, operationLabels),
		changes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "changes_detected_total",
			Help:      "Items classified as created, updated or deleted.",
		}, changeLabels),
		jobs: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Queued run-sync job lifecycle events.",
		}, jobLabels),
		jobDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_ms",
			Help:      "Queued run-sync job duration in milliseconds.",
			Buckets:   []float64{5, 25, 100, 250, 1000, 5000, 15000, 60000},
		}, jobLabels),
		dropped: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "unmapped_metrics_total",
			Help:      "Metric samples with a name the recorder does not map.",
		}, []string{"kind"}),
	}
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	amount := float64(value)
	switch name {
	case core.MetricChangesDetected:
		r.changes.With(labels(changeLabels, tags)).Add(amount)
		return
	case core.MetricJobTotal:
		r.jobs.With(labels(jobLabels, tags)).Add(amount)
		return
	}
	if operation, histogram, ok := core.ParseOperationMetric(name); ok && !histogram {
		r.operations.With(operationLabelValues(operation, tags)).Add(amount)
		return
	}
	r.dropped.WithLabelValues("counter").Inc()
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	if name == core.MetricJobDuration {
		r.jobDuration.With(labels(jobLabels, tags)).Observe(value)
		return
	}
	if operation, histogram, ok := core.ParseOperationMetric(name); ok && histogram {
		r.operationDuration.With(operationLabelValues(operation, tags)).Observe(value)
		return
	}
	r.dropped.WithLabelValues("histogram").Inc()
}

// Describe is part of the prometheus.Collector interface.
func (r *Recorder) Describe(ch chan<- *prom.Desc) {
	r.operations.Describe(ch)
	r.operationDuration.Describe(ch)
	r.changes.Describe(ch)
	r.jobs.Describe(ch)
	r.jobDuration.Describe(ch)
	r.dropped.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (r *Recorder) Collect(ch chan<- prom.Metric) {
	r.operations.Collect(ch)
	r.operationDuration.Collect(ch)
	r.changes.Collect(ch)
	r.jobs.Collect(ch)
	r.jobDuration.Collect(ch)
	r.dropped.Collect(ch)
}

func operationLabelValues(operation string, tags map[string]string) prom.Labels {
	out := labels(operationLabels, tags)
	out["operation"] = operation
	return out
}

func labels(names []string, tags map[string]string) prom.Labels {
	out := make(prom.Labels, len(names))
	for _, name := range names {
		out[name] = tags[name]
	}
	return out
}

var (
	_ core.MetricsRecorder = (*Recorder)(nil)
	_ prom.Collector       = (*Recorder)(nil)
)
