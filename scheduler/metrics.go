/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Queue names used as metric label values.
const (
	QueueNameNormal   = "normal"
	QueueNamePriority = "priority"
	QueueNameStarved  = "starved"
)

// MetricsCollector represents a collector of metrics to analyze how the
// scheduler behaves under load.
type MetricsCollector interface {
	// SetQueuedAmount sets the current number of operations in the named queue.
	SetQueuedAmount(queue string, amount int)

	// IncCompletedOps increments the total number of completed operations of the kind.
	IncCompletedOps(kind string, ok bool)

	// IncFastPathOps increments the total number of operations executed
	// in-line, bypassing the queues.
	IncFastPathOps(kind string)

	// IncBudgetStarvations increments the total number of operations parked on
	// the starved queue after their budget ran out behind a lock wait.
	IncBudgetStarvations(kind string)

	// SetWorkerPoolSize sets the current number of live execution workers.
	SetWorkerPoolSize(size int)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels

	// CurriedLabelNames is a list of label names that will be curried with the provided labels.
	// See PrometheusMetrics.MustCurryWith method for more details.
	// Keep in mind that if this list is not empty,
	// PrometheusMetrics.MustCurryWith method must be called further with the same labels.
	// Otherwise, the collector will panic.
	CurriedLabelNames []string
}

// PrometheusMetrics represents Prometheus metrics for the scheduler.
type PrometheusMetrics struct {
	QueuedAmount     *prometheus.GaugeVec
	OpsTotal         *prometheus.CounterVec
	FastPathOpsTotal *prometheus.CounterVec
	StarvationsTotal *prometheus.CounterVec
	WorkerPoolSize   *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	queuedAmount := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "kv_scheduler_queued_operations_amount",
			Help:        "Number of operations currently waiting in the queue.",
			ConstLabels: opts.ConstLabels,
		},
		append([]string{"queue"}, opts.CurriedLabelNames...),
	)

	opsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "kv_scheduler_operations_total",
			Help:        "Number of completed backend operations.",
			ConstLabels: opts.ConstLabels,
		},
		append([]string{"kind", "status"}, opts.CurriedLabelNames...),
	)

	fastPathOpsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "kv_scheduler_fast_path_operations_total",
			Help:        "Number of operations executed in-line, bypassing the queues.",
			ConstLabels: opts.ConstLabels,
		},
		append([]string{"kind"}, opts.CurriedLabelNames...),
	)

	starvationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "kv_scheduler_budget_starvations_total",
			Help:        "Number of operations parked on the starved queue after budget exhaustion.",
			ConstLabels: opts.ConstLabels,
		},
		append([]string{"kind"}, opts.CurriedLabelNames...),
	)

	workerPoolSize := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "kv_scheduler_worker_pool_size",
			Help:        "Number of live execution workers.",
			ConstLabels: opts.ConstLabels,
		},
		opts.CurriedLabelNames,
	)

	return &PrometheusMetrics{
		QueuedAmount:     queuedAmount,
		OpsTotal:         opsTotal,
		FastPathOpsTotal: fastPathOpsTotal,
		StarvationsTotal: starvationsTotal,
		WorkerPoolSize:   workerPoolSize,
	}
}

// MustCurryWith curries the metrics collector with the provided labels.
func (pm *PrometheusMetrics) MustCurryWith(labels prometheus.Labels) *PrometheusMetrics {
	return &PrometheusMetrics{
		QueuedAmount:     pm.QueuedAmount.MustCurryWith(labels),
		OpsTotal:         pm.OpsTotal.MustCurryWith(labels),
		FastPathOpsTotal: pm.FastPathOpsTotal.MustCurryWith(labels),
		StarvationsTotal: pm.StarvationsTotal.MustCurryWith(labels),
		WorkerPoolSize:   pm.WorkerPoolSize.MustCurryWith(labels),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.QueuedAmount,
		pm.OpsTotal,
		pm.FastPathOpsTotal,
		pm.StarvationsTotal,
		pm.WorkerPoolSize,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.QueuedAmount)
	prometheus.Unregister(pm.OpsTotal)
	prometheus.Unregister(pm.FastPathOpsTotal)
	prometheus.Unregister(pm.StarvationsTotal)
	prometheus.Unregister(pm.WorkerPoolSize)
}

// SetQueuedAmount sets the current number of operations in the named queue.
func (pm *PrometheusMetrics) SetQueuedAmount(queue string, amount int) {
	pm.QueuedAmount.With(prometheus.Labels{"queue": queue}).Set(float64(amount))
}

// IncCompletedOps increments the total number of completed operations of the kind.
func (pm *PrometheusMetrics) IncCompletedOps(kind string, ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	pm.OpsTotal.With(prometheus.Labels{"kind": kind, "status": status}).Inc()
}

// IncFastPathOps increments the total number of operations executed in-line.
func (pm *PrometheusMetrics) IncFastPathOps(kind string) {
	pm.FastPathOpsTotal.With(prometheus.Labels{"kind": kind}).Inc()
}

// IncBudgetStarvations increments the total number of budget starvations.
func (pm *PrometheusMetrics) IncBudgetStarvations(kind string) {
	pm.StarvationsTotal.With(prometheus.Labels{"kind": kind}).Inc()
}

// SetWorkerPoolSize sets the current number of live execution workers.
func (pm *PrometheusMetrics) SetWorkerPoolSize(size int) {
	pm.WorkerPoolSize.With(prometheus.Labels{}).Set(float64(size))
}

type disabledMetrics struct{}

func (disabledMetrics) SetQueuedAmount(string, int)  {}
func (disabledMetrics) IncCompletedOps(string, bool) {}
func (disabledMetrics) IncFastPathOps(string)        {}
func (disabledMetrics) IncBudgetStarvations(string)  {}
func (disabledMetrics) SetWorkerPoolSize(int)        {}
