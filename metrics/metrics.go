// Package metrics exports a tidepool.Pool's statistics as prometheus
// metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/queueworks/tidepool"
)

// PoolCollector implements prometheus.Collector over a pool's statistics
// snapshot. Register it with any registry:
//
//	prometheus.MustRegister(metrics.NewPoolCollector(pool))
type PoolCollector struct {
	pool *tidepool.Pool

	submitted   *prometheus.Desc
	completed   *prometheus.Desc
	failed      *prometheus.Desc
	cancelled   *prometheus.Desc
	rejected    *prometheus.Desc
	discarded   *prometheus.Desc
	overwritten *prometheus.Desc

	pending        *prometheus.Desc
	pendingRatio   *prometheus.Desc
	busyRatio      *prometheus.Desc
	currentThreads *prometheus.Desc
	activeThreads  *prometheus.Desc
	peakThreads    *prometheus.Desc

	avgExecSeconds *prometheus.Desc
}

// NewPoolCollector creates a collector bound to the given pool.
func NewPoolCollector(pool *tidepool.Pool) *PoolCollector {
	return &PoolCollector{
		pool: pool,
		submitted: prometheus.NewDesc(
			"tidepool_tasks_submitted_total",
			"Submissions accepted by the policy step, including Discard drops",
			nil, nil),
		completed: prometheus.NewDesc(
			"tidepool_tasks_completed_total",
			"Tasks executed without failure",
			nil, nil),
		failed: prometheus.NewDesc(
			"tidepool_tasks_failed_total",
			"Tasks whose execution returned an error or panicked",
			nil, nil),
		cancelled: prometheus.NewDesc(
			"tidepool_tasks_cancelled_total",
			"Queued tasks cancelled by a stop before they ran",
			nil, nil),
		rejected: prometheus.NewDesc(
			"tidepool_tasks_rejected_total",
			"Submissions refused at the state gate",
			nil, nil),
		discarded: prometheus.NewDesc(
			"tidepool_tasks_discarded_total",
			"Tasks dropped by the Discard policy",
			nil, nil),
		overwritten: prometheus.NewDesc(
			"tidepool_tasks_overwritten_total",
			"Queued tasks displaced by the Overwrite policy",
			nil, nil),
		pending: prometheus.NewDesc(
			"tidepool_pending_tasks",
			"Envelopes currently queued",
			nil, nil),
		pendingRatio: prometheus.NewDesc(
			"tidepool_pending_ratio",
			"Queue occupancy over capacity",
			nil, nil),
		busyRatio: prometheus.NewDesc(
			"tidepool_busy_ratio",
			"Active workers over current workers",
			nil, nil),
		currentThreads: prometheus.NewDesc(
			"tidepool_current_threads",
			"Workers spawned and not yet retired",
			nil, nil),
		activeThreads: prometheus.NewDesc(
			"tidepool_active_threads",
			"Workers currently inside a user task",
			nil, nil),
		peakThreads: prometheus.NewDesc(
			"tidepool_peak_threads",
			"Maximum observed worker count",
			nil, nil),
		avgExecSeconds: prometheus.NewDesc(
			"tidepool_avg_exec_seconds",
			"Running mean of task execution time",
			nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.submitted
	ch <- c.completed
	ch <- c.failed
	ch <- c.cancelled
	ch <- c.rejected
	ch <- c.discarded
	ch <- c.overwritten
	ch <- c.pending
	ch <- c.pendingRatio
	ch <- c.busyRatio
	ch <- c.currentThreads
	ch <- c.activeThreads
	ch <- c.peakThreads
	ch <- c.avgExecSeconds
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.pool.GetStatistics()

	ch <- prometheus.MustNewConstMetric(c.submitted, prometheus.CounterValue, float64(stats.TotalSubmitted))
	ch <- prometheus.MustNewConstMetric(c.completed, prometheus.CounterValue, float64(stats.TotalCompleted))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(stats.TotalFailed))
	ch <- prometheus.MustNewConstMetric(c.cancelled, prometheus.CounterValue, float64(stats.TotalCancelled))
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(stats.TotalRejected))
	ch <- prometheus.MustNewConstMetric(c.discarded, prometheus.CounterValue, float64(stats.Discarded))
	ch <- prometheus.MustNewConstMetric(c.overwritten, prometheus.CounterValue, float64(stats.Overwritten))
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(stats.PendingTasks))
	ch <- prometheus.MustNewConstMetric(c.pendingRatio, prometheus.GaugeValue, stats.PendingRatio)
	ch <- prometheus.MustNewConstMetric(c.busyRatio, prometheus.GaugeValue, stats.BusyRatio)
	ch <- prometheus.MustNewConstMetric(c.currentThreads, prometheus.GaugeValue, float64(stats.CurrentThreads))
	ch <- prometheus.MustNewConstMetric(c.activeThreads, prometheus.GaugeValue, float64(stats.ActiveThreads))
	ch <- prometheus.MustNewConstMetric(c.peakThreads, prometheus.GaugeValue, float64(stats.PeakThreads))
	ch <- prometheus.MustNewConstMetric(c.avgExecSeconds, prometheus.GaugeValue, stats.AvgExecTime.Seconds())
}
