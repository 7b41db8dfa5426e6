package telemetry

// Histogram bucket definitions
var (
	// OperationBuckets for in-memory reads and writes
	OperationBuckets = []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1}

	// SinkBuckets for network publishes to external brokers
	SinkBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
)

// Request executor metrics
var (
	// OperationsTotal counts executed operations by kind (read, write, live) and result
	OperationsTotal CounterVec = noopCounterVec{}

	// OperationDurationSeconds measures executor latency by kind
	OperationDurationSeconds HistogramVec = noopHistogramVec{}

	// RecordsCreatedTotal counts successfully appended records
	RecordsCreatedTotal Counter = NoopStat{}

	// StoredRecords tracks the number of records in the store
	StoredRecords Gauge = NoopStat{}
)

// Broadcast hub metrics
var (
	// HubListeners tracks registered listeners by topic
	HubListeners GaugeVec = noopGaugeVec{}

	// HubPublishedTotal counts publish calls by topic
	HubPublishedTotal CounterVec = noopCounterVec{}

	// HubDeliveriesTotal counts values accepted by listener queues by topic
	HubDeliveriesTotal CounterVec = noopCounterVec{}

	// HubDroppedListenersTotal counts listeners dropped for a full queue by topic
	HubDroppedListenersTotal CounterVec = noopCounterVec{}
)

// Transport metrics
var (
	// HTTPRequestsTotal counts request-response calls by status class
	HTTPRequestsTotal CounterVec = noopCounterVec{}

	// StreamConnections tracks open streaming connections
	StreamConnections Gauge = NoopStat{}

	// StreamSubscriptions tracks live subscriptions across all connections
	StreamSubscriptions Gauge = NoopStat{}

	// StreamMessagesTotal counts protocol messages by direction (in, out) and type
	StreamMessagesTotal CounterVec = noopCounterVec{}
)

// Export metrics
var (
	// SinkPublishTotal counts export attempts by sink and result
	SinkPublishTotal CounterVec = noopCounterVec{}

	// SinkPublishSeconds measures export latency by sink
	SinkPublishSeconds HistogramVec = noopHistogramVec{}

	// SinkResubscribesTotal counts export workers re-subscribing after a drop
	SinkResubscribesTotal CounterVec = noopCounterVec{}
)

// InitMetrics replaces the no-op metrics with registered Prometheus metrics.
// Must be called after the registry exists.
func InitMetrics() {
	OperationsTotal = NewCounterVec(
		"operations_total",
		"Executed operations by kind and result",
		[]string{"kind", "result"},
	)
	OperationDurationSeconds = NewHistogramVec(
		"operation_duration_seconds",
		"Operation latency in seconds",
		[]string{"kind"},
		OperationBuckets,
	)
	RecordsCreatedTotal = NewCounter(
		"records_created_total",
		"Records appended to the store",
	)
	StoredRecords = NewGauge(
		"stored_records",
		"Records currently held in the store",
	)

	HubListeners = NewGaugeVec(
		"hub_listeners",
		"Registered listeners by topic",
		[]string{"topic"},
	)
	HubPublishedTotal = NewCounterVec(
		"hub_published_total",
		"Publish calls by topic",
		[]string{"topic"},
	)
	HubDeliveriesTotal = NewCounterVec(
		"hub_deliveries_total",
		"Values queued to listeners by topic",
		[]string{"topic"},
	)
	HubDroppedListenersTotal = NewCounterVec(
		"hub_dropped_listeners_total",
		"Listeners dropped because their queue was full",
		[]string{"topic"},
	)

	HTTPRequestsTotal = NewCounterVec(
		"http_requests_total",
		"Request-response calls by status class",
		[]string{"status"},
	)
	StreamConnections = NewGauge(
		"stream_connections",
		"Open streaming connections",
	)
	StreamSubscriptions = NewGauge(
		"stream_subscriptions",
		"Live subscriptions across all streaming connections",
	)
	StreamMessagesTotal = NewCounterVec(
		"stream_messages_total",
		"Streaming protocol messages by direction and type",
		[]string{"direction", "type"},
	)

	SinkPublishTotal = NewCounterVec(
		"sink_publish_total",
		"Export attempts by sink and result",
		[]string{"sink", "result"},
	)
	SinkPublishSeconds = NewHistogramVec(
		"sink_publish_seconds",
		"Export latency in seconds",
		[]string{"sink"},
		SinkBuckets,
	)
	SinkResubscribesTotal = NewCounterVec(
		"sink_resubscribes_total",
		"Export workers re-subscribing after being dropped",
		[]string{"sink"},
	)
}
