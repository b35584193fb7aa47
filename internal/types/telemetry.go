package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricRequestCount   = "WebhookRequestCount"
	MetricRequestLatency = "WebhookRequestLatency"
	MetricRowsAppended   = "RowsAppended"
	MetricSheetsCreated  = "SheetsCreated"

	// Dimension Keys
	DimEndpoint  = "Endpoint"
	DimMethod    = "Method"
	DimStatus    = "Status"
	DimEventType = "EventType"

	// Metric Namespace
	MetricNamespace = "SpectatorSheet"
)
