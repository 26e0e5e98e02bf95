package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lessonforge_call_duration_seconds",
			Help:    "Model call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
		},
		[]string{"status"},
	)

	retryDelay = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lessonforge_retry_delay_seconds",
			Help:    "Backoff delay before call retries",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~500s
		},
	)

	schedulerInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lessonforge_scheduler_in_flight",
			Help: "Calls currently holding a scheduler slot",
		},
	)

	schedulerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lessonforge_scheduler_queue_depth",
			Help: "Calls waiting for a scheduler slot",
		},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lessonforge_stage_duration_seconds",
			Help:    "Pipeline stage generation duration",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"stage"},
	)

	gradeResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessonforge_grade_results_total",
			Help: "Grade verdicts by stage",
		},
		[]string{"stage", "verdict"}, // verdict: "pass"/"fail"
	)

	tokenUsage = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessonforge_tokens_total",
			Help: "Token usage by model and direction",
		},
		[]string{"model", "direction"}, // direction: "prompt"/"completion"
	)
)

// Collector provides convenience methods for recording metrics
type Collector struct{}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{}
}

// RecordCall records one model call invocation
func (c *Collector) RecordCall(duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	callDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordRetryDelay records the backoff chosen before a retry
func (c *Collector) RecordRetryDelay(delay time.Duration) {
	retryDelay.Observe(delay.Seconds())
}

// SetSchedulerState records current slot occupancy and queue depth
func (c *Collector) SetSchedulerState(inFlight, waiting int) {
	schedulerInFlight.Set(float64(inFlight))
	schedulerQueueDepth.Set(float64(waiting))
}

// RecordStageDuration records how long one stage took to produce
func (c *Collector) RecordStageDuration(stage string, duration time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordGrade records a grade verdict for a stage
func (c *Collector) RecordGrade(stage string, pass bool) {
	verdict := "pass"
	if !pass {
		verdict = "fail"
	}
	gradeResults.WithLabelValues(stage, verdict).Inc()
}

// RecordTokenUsage records token counts for a model
func (c *Collector) RecordTokenUsage(model string, promptTokens, completionTokens int) {
	tokenUsage.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	tokenUsage.WithLabelValues(model, "completion").Add(float64(completionTokens))
}
