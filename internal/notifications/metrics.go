package notifications

import (
	"time"

	"github.com/bissquit/alert-relay/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notificationQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "queue_size",
			Help:      "Number of notifications in queue by status",
		},
		[]string{"status"},
	)

	dispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "dispatch_total",
			Help:      "Dispatch attempts by channel, provider and outcome",
		},
		[]string{"channel_type", "provider", "outcome"},
	)

	notificationSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "send_duration_seconds",
			Help:      "Time spent in the provider call",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"channel_type", "provider"},
	)

	queueItemsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "queue_items_total",
			Help:      "Queue items handled by the processor by result (sent, retry, failed, error)",
		},
		[]string{"result"},
	)

	queueClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "queue_claimed_total",
			Help:      "Total notifications claimed from the queue. Sum of queue_items_total should match this.",
		},
	)

	passDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "pass_duration_seconds",
			Help:      "Duration of one queue processing pass",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
)

func recordDispatch(channelType, provider, outcome string) {
	dispatchesTotal.WithLabelValues(channelType, provider, outcome).Inc()
}

func recordSendDuration(channelType, provider string, duration time.Duration) {
	notificationSendDuration.WithLabelValues(channelType, provider).Observe(duration.Seconds())
}

func recordQueueItem(result string) {
	queueItemsResolved.WithLabelValues(result).Inc()
}

func recordQueueClaimed(count int) {
	queueClaimed.Add(float64(count))
}

func recordPassDuration(d time.Duration) {
	passDuration.Observe(d.Seconds())
}

// RecordQueueStats updates queue size metrics.
func RecordQueueStats(stats *QueueStats) {
	notificationQueueSize.WithLabelValues(string(QueueStatusPending)).Set(float64(stats.Pending))
	notificationQueueSize.WithLabelValues(string(QueueStatusSent)).Set(float64(stats.Sent))
	notificationQueueSize.WithLabelValues(string(QueueStatusFailed)).Set(float64(stats.Failed))
}
