package awstest

import (
	"context"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
)

// Queue records SendMessage calls.
type Queue struct {
	mu       sync.Mutex
	Messages []*sqs.SendMessageInput
	Err      error
}

func (q *Queue) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return nil, q.Err
	}
	q.Messages = append(q.Messages, in)
	return &sqs.SendMessageOutput{MessageId: sdkaws.String(uuid.NewString())}, nil
}

// Bodies returns the bodies of every recorded message.
func (q *Queue) Bodies() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.Messages))
	for _, m := range q.Messages {
		out = append(out, sdkaws.ToString(m.MessageBody))
	}
	return out
}

// Watch records PutMetricData calls.
type Watch struct {
	mu    sync.Mutex
	Datum []cwtypes.MetricDatum
}

func (w *Watch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Datum = append(w.Datum, in.MetricData...)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// Sum adds up every recorded value for metric name.
func (w *Watch) Sum(name string) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var total float64
	for _, d := range w.Datum {
		if sdkaws.ToString(d.MetricName) == name && d.Value != nil {
			total += *d.Value
		}
	}
	return total
}
