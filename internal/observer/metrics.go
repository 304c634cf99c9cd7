package observer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricsEnabled = true

var (
	batchLabels        = []string{"client_id"}
	webhookEventLabels = []string{"event_type", "outcome"}

	batchesDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_engine_batches_dispatched_total",
			Help: "Total number of call batches successfully dispatched to the provider.",
		},
		batchLabels,
	)
	batchDispatchFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_engine_batch_dispatch_failures_total",
			Help: "Total number of batch dispatch attempts that failed, labeled by reason.",
		},
		[]string{"client_id", "reason"},
	)
	callsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_engine_calls_dispatched_total",
			Help: "Total number of placeholder call rows created by the dispatcher.",
		},
		batchLabels,
	)

	webhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_engine_webhook_events_total",
			Help: "Total number of inbound provider webhook events, labeled by type and outcome.",
		},
		webhookEventLabels,
	)
	webhookProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "call_engine_webhook_processing_duration_seconds",
			Help:    "Histogram of webhook event processing durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"event_type"},
	)
	webhookRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_engine_webhook_retries_total",
		Help: "Total number of unprocessed webhook events re-dispatched by the retry worker.",
	})

	reconcileAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_engine_reconcile_attempts_total",
			Help: "Total number of reconciliation poll attempts, labeled by outcome.",
		},
		[]string{"outcome"},
	)
	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "call_engine_reconcile_duration_seconds",
		Help:    "Histogram of reconciliation poll attempt durations.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
	reconcileWorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "call_engine_reconcile_workers_active",
		Help: "Current number of active goroutines in the reconciler pool.",
	})

	unmappedProviderStatusTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_engine_unmapped_provider_status_total",
			Help: "Total number of provider statuses that had no mapping and fell back to the configured default.",
		},
		[]string{"provider_status"},
	)

	creditOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_engine_credit_operations_total",
			Help: "Total number of credit ledger operations, labeled by op and result.",
		},
		[]string{"operation", "result"},
	)

	databaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "call_engine_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"operation", "entity", "status"},
	)

	providerRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "call_engine_provider_request_duration_seconds",
			Help:    "Histogram of outbound provider API request durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation", "status"},
	)
)

// InitMetrics toggles metric collection. Metrics are registered either way;
// the helpers become no-ops when disabled.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IncBatchDispatched increments the dispatched-batches counter.
func IncBatchDispatched(clientID string) {
	if metricsEnabled {
		batchesDispatchedTotal.WithLabelValues(clientID).Inc()
	}
}

// IncBatchDispatchFailure increments the dispatch-failure counter.
func IncBatchDispatchFailure(clientID, reason string) {
	if metricsEnabled {
		batchDispatchFailuresTotal.WithLabelValues(clientID, reason).Inc()
	}
}

// AddCallsDispatched adds to the dispatched-calls counter.
func AddCallsDispatched(clientID string, n int) {
	if metricsEnabled {
		callsDispatchedTotal.WithLabelValues(clientID).Add(float64(n))
	}
}

// IncWebhookEvent increments the webhook event counter.
func IncWebhookEvent(eventType, outcome string) {
	if metricsEnabled {
		webhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
	}
}

// ObserveWebhookProcessingDuration records webhook processing time.
func ObserveWebhookProcessingDuration(eventType string, duration time.Duration) {
	if metricsEnabled {
		webhookProcessingDurationSeconds.WithLabelValues(eventType).Observe(duration.Seconds())
	}
}

// IncWebhookRetry increments the webhook retry counter.
func IncWebhookRetry() {
	if metricsEnabled {
		webhookRetriesTotal.Inc()
	}
}

// IncReconcileAttempt increments the reconciliation attempt counter.
func IncReconcileAttempt(outcome string) {
	if metricsEnabled {
		reconcileAttemptsTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveReconcileDuration records a reconciliation attempt duration.
func ObserveReconcileDuration(duration time.Duration) {
	if metricsEnabled {
		reconcileDurationSeconds.Observe(duration.Seconds())
	}
}

// SetReconcileWorkersActive sets the active reconciler worker gauge.
func SetReconcileWorkersActive(n int) {
	if metricsEnabled {
		reconcileWorkersActive.Set(float64(n))
	}
}

// IncUnmappedProviderStatus counts provider statuses with no mapping entry.
func IncUnmappedProviderStatus(providerStatus string) {
	if metricsEnabled {
		unmappedProviderStatusTotal.WithLabelValues(providerStatus).Inc()
	}
}

// IncCreditOperation increments the credit ledger operation counter.
func IncCreditOperation(operation, result string) {
	if metricsEnabled {
		creditOperationsTotal.WithLabelValues(operation, result).Inc()
	}
}

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	databaseOperationDurationSeconds.WithLabelValues(operation, entity, status).Observe(duration.Seconds())
}

// ObserveProviderRequestDuration records an outbound provider request duration.
func ObserveProviderRequestDuration(operation string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	providerRequestDurationSeconds.WithLabelValues(operation, status).Observe(duration.Seconds())
}
