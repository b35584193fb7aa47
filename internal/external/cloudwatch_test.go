package external

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectatorsheet/internal/types"
)

type mockCloudWatch struct {
	mu     sync.Mutex
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (m *mockCloudWatch) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, params)
	if m.err != nil {
		return nil, m.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func (m *mockCloudWatch) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

func dimValue(d cwtypes.MetricDatum, name string) string {
	for _, dim := range d.Dimensions {
		if aws.ToString(dim.Name) == name {
			return aws.ToString(dim.Value)
		}
	}
	return ""
}

func TestCloudWatchMetrics_FlushSendsBufferedDatums(t *testing.T) {
	client := &mockCloudWatch{}
	m := NewCloudWatchMetrics(client, "", discardLogger())
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	m.RecordRequest("POST", "/api/webhook", "200", 150*time.Millisecond)
	m.RecordRowAppended(types.EventCheckoutSessionCompleted)
	m.RecordSheetCreated()
	assert.Equal(t, 0, client.calls(), "nothing is sent before Flush")

	require.NoError(t, m.Flush(context.Background()))
	require.Equal(t, 1, client.calls())

	in := client.inputs[0]
	assert.Equal(t, types.MetricNamespace, aws.ToString(in.Namespace))
	require.Len(t, in.MetricData, 4)

	count := in.MetricData[0]
	assert.Equal(t, types.MetricRequestCount, aws.ToString(count.MetricName))
	assert.Equal(t, "200", dimValue(count, types.DimStatus))
	assert.Equal(t, "/api/webhook", dimValue(count, types.DimEndpoint))
	assert.Equal(t, fixed, aws.ToTime(count.Timestamp))

	latency := in.MetricData[1]
	assert.Equal(t, types.MetricRequestLatency, aws.ToString(latency.MetricName))
	assert.Equal(t, 150.0, aws.ToFloat64(latency.Value))
	assert.Equal(t, cwtypes.StandardUnitMilliseconds, latency.Unit)
	assert.Empty(t, dimValue(latency, types.DimStatus))

	assert.Equal(t, types.MetricRowsAppended, aws.ToString(in.MetricData[2].MetricName))
	assert.Equal(t, types.EventCheckoutSessionCompleted, dimValue(in.MetricData[2], types.DimEventType))
	assert.Equal(t, types.MetricSheetsCreated, aws.ToString(in.MetricData[3].MetricName))

	require.NoError(t, m.Flush(context.Background()))
	assert.Equal(t, 1, client.calls(), "empty buffer is not sent")
}

func TestCloudWatchMetrics_AutoFlushAtBatchSize(t *testing.T) {
	client := &mockCloudWatch{}
	m := NewCloudWatchMetrics(client, "Custom", discardLogger())

	for i := 0; i < cloudWatchBatchSize/2; i++ {
		m.RecordRequest("POST", "/api/webhook", "200", time.Millisecond)
	}

	require.Equal(t, 1, client.calls())
	assert.Equal(t, "Custom", aws.ToString(client.inputs[0].Namespace))
	assert.Len(t, client.inputs[0].MetricData, cloudWatchBatchSize)
}

func TestCloudWatchMetrics_FlushErrorDropsBatch(t *testing.T) {
	client := &mockCloudWatch{err: errors.New("throttled")}
	m := NewCloudWatchMetrics(client, "", discardLogger())

	m.RecordSheetCreated()
	assert.Error(t, m.Flush(context.Background()))

	client.err = nil
	require.NoError(t, m.Flush(context.Background()))
	assert.Equal(t, 1, client.calls(), "failed batch is not retried")
}
