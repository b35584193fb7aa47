package core

import "time"

// MetricsCollector records per-request telemetry. The CloudWatch
// implementation lives in the external package; a nil collector disables
// recording.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}
