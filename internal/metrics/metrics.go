// Package metrics exposes Prometheus instrumentation for the reminder engine.
//
// Failures never surface to an end user, so the counters here and the logs
// are the only visibility into reminders that silently failed or whose
// recipient-level delivery failed despite a sent reminder.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReminderProcessedCount counts processed reminders by terminal outcome.
	ReminderProcessedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "careping_reminder_processed_count",
			Help: "Total number of due reminders processed, by terminal outcome",
		},
		[]string{"outcome"}, // outcome: sent, failed, cancelled
	)

	// RecipientSendCount counts individual recipient sends by role and status.
	RecipientSendCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "careping_recipient_send_count",
			Help: "Total number of per-recipient send attempts",
		},
		[]string{"role", "status"}, // status: sent-ish provider status or failed
	)

	// DeliveryDuration observes end-to-end delivery adapter latency.
	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "careping_delivery_duration_seconds",
			Help:    "Delivery adapter latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
		[]string{"outcome"},
	)

	// PollBatchSize observes how many due reminders each tick claimed.
	PollBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "careping_poll_batch_size",
			Help:    "Number of due reminders claimed per poll tick",
			Buckets: prometheus.LinearBuckets(0, 5, 10),
		},
	)
)

// IncrementReminderProcessed records a reminder's terminal outcome.
func IncrementReminderProcessed(outcome string) {
	ReminderProcessedCount.WithLabelValues(outcome).Inc()
}

// IncrementRecipientSend records one recipient send attempt outcome.
func IncrementRecipientSend(role, status string) {
	RecipientSendCount.WithLabelValues(role, status).Inc()
}

// RecordDeliveryDuration records delivery adapter latency.
func RecordDeliveryDuration(outcome string, duration time.Duration) {
	DeliveryDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordPollBatchSize records a tick's claimed batch size.
func RecordPollBatchSize(n int) {
	PollBatchSize.Observe(float64(n))
}
