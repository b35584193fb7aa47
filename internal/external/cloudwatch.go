package external

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"spectatorsheet/internal/types"
)

// cloudWatchBatchSize is the number of buffered datums that triggers a send.
const cloudWatchBatchSize = 20

// cloudWatchFlushTimeout bounds a size-triggered send.
const cloudWatchFlushTimeout = 2 * time.Second

// CloudWatchClient abstracts PutMetricData for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics buffers request and pipeline metrics and sends them with
// PutMetricData. Call Flush at the end of each Lambda invocation and on
// server shutdown. Send failures are logged and dropped.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending []cwtypes.MetricDatum
}

// NewCloudWatchMetrics creates a collector publishing to namespace
// (types.MetricNamespace when empty).
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordRequest records one webhook request's count and latency.
func (m *CloudWatchMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		{Name: aws.String(types.DimEndpoint), Value: aws.String(endpoint)},
		{Name: aws.String(types.DimMethod), Value: aws.String(method)},
		{Name: aws.String(types.DimStatus), Value: aws.String(status)},
	}
	m.add(
		m.datum(types.MetricRequestCount, 1, cwtypes.StandardUnitCount, dims),
		m.datum(types.MetricRequestLatency, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds, dims[:2]),
	)
}

// RecordRowAppended counts one spectator row written to a sheet.
func (m *CloudWatchMetrics) RecordRowAppended(eventType string) {
	m.add(m.datum(types.MetricRowsAppended, 1, cwtypes.StandardUnitCount, []cwtypes.Dimension{
		{Name: aws.String(types.DimEventType), Value: aws.String(eventType)},
	}))
}

// RecordSheetCreated counts one sheet tab created for a new product.
func (m *CloudWatchMetrics) RecordSheetCreated() {
	m.add(m.datum(types.MetricSheetsCreated, 1, cwtypes.StandardUnitCount, nil))
}

// Flush sends every buffered datum.
func (m *CloudWatchMetrics) Flush(ctx context.Context) error {
	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	m.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: batch,
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to publish metrics",
			"error", err,
			"datums", len(batch),
		)
		return err
	}
	return nil
}

func (m *CloudWatchMetrics) datum(name string, value float64, unit cwtypes.StandardUnit, dims []cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(m.now()),
		Dimensions: dims,
	}
}

func (m *CloudWatchMetrics) add(datums ...cwtypes.MetricDatum) {
	m.mu.Lock()
	m.pending = append(m.pending, datums...)
	full := len(m.pending) >= cloudWatchBatchSize
	m.mu.Unlock()

	if full {
		ctx, cancel := context.WithTimeout(context.Background(), cloudWatchFlushTimeout)
		defer cancel()
		_ = m.Flush(ctx)
	}
}
