// Package metrics 定义了 course-intake 暴露给 Prometheus 的指标。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "course_intake"

	// Labels
	outcomeLabel  = "outcome"
	statusLabel   = "status"
	taskTypeLabel = "task_type"
	resultLabel   = "result"
)

var uploadFilesTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upload_files_total",
		Help:      "number of files per upload outcome (uploaded, duplicate, invalid, failed)",
	},
	[]string{outcomeLabel},
)

var uploadBatchesTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upload_batches_total",
		Help:      "number of settled upload batches per outcome",
	},
	[]string{outcomeLabel},
)

var queueTasksMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_tasks",
		Help:      "number of background tasks in each status",
	},
	[]string{statusLabel},
)

var taskAttemptsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "task_attempts_total",
		Help:      "number of background task executions per task type and result",
	},
	[]string{taskTypeLabel, resultLabel},
)

var taskDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "background task handler latency",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	},
	[]string{taskTypeLabel},
)

func IncreaseUploadFilesMetric(outcome string, n int) {
	if n <= 0 {
		return
	}
	uploadFilesTotalMetric.With(prometheus.Labels{outcomeLabel: outcome}).Add(float64(n))
}

func IncreaseUploadBatchesMetric(outcome string) {
	uploadBatchesTotalMetric.With(prometheus.Labels{outcomeLabel: outcome}).Inc()
}

func UpdateQueueTasksMetric(status string, count int) {
	queueTasksMetric.With(prometheus.Labels{statusLabel: status}).Set(float64(count))
}

func ObserveTaskAttempt(taskType, result string, elapsed time.Duration) {
	taskAttemptsTotalMetric.With(prometheus.Labels{taskTypeLabel: taskType, resultLabel: result}).Inc()
	taskDurationMetric.With(prometheus.Labels{taskTypeLabel: taskType}).Observe(elapsed.Seconds())
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(uploadFilesTotalMetric)
	prometheus.MustRegister(uploadBatchesTotalMetric)
	prometheus.MustRegister(queueTasksMetric)
	prometheus.MustRegister(taskAttemptsTotalMetric)
	prometheus.MustRegister(taskDurationMetric)
}
