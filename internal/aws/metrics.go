package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metrics publishes counters and durations to a CloudWatch namespace.
// A nil *Metrics or one without a client is a no-op.
type Metrics struct {
	client    CloudWatchAPI
	namespace string
	nowFunc   func() time.Time
}

// NewMetrics returns a Metrics publisher for namespace.
func NewMetrics(client CloudWatchAPI, namespace string) *Metrics {
	return &Metrics{
		client:    client,
		namespace: namespace,
		nowFunc:   time.Now,
	}
}

// Count records a Count datum. dims are name/value pairs.
func (m *Metrics) Count(ctx context.Context, name string, value float64, dims ...string) error {
	return m.put(ctx, name, value, cwtypes.StandardUnitCount, dims)
}

// Duration records d in milliseconds.
func (m *Metrics) Duration(ctx context.Context, name string, d time.Duration, dims ...string) error {
	return m.put(ctx, name, float64(d.Milliseconds()), cwtypes.StandardUnitMilliseconds, dims)
}

func (m *Metrics) put(ctx context.Context, name string, value float64, unit cwtypes.StandardUnit, dims []string) error {
	if m == nil || m.client == nil {
		return nil
	}
	if len(dims)%2 != 0 {
		return fmt.Errorf("put metric %s: odd number of dimension values", name)
	}
	now := m.nowFunc()
	datum := cwtypes.MetricDatum{
		MetricName: String(name),
		Value:      &value,
		Unit:       unit,
		Timestamp:  &now,
	}
	for i := 0; i < len(dims); i += 2 {
		datum.Dimensions = append(datum.Dimensions, cwtypes.Dimension{
			Name:  String(dims[i]),
			Value: String(dims[i+1]),
		})
	}
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		return fmt.Errorf("put metric %s: %w", name, err)
	}
	return nil
}
