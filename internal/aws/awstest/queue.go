package awstest

import (
	"context"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// MemorySQS records sent messages.
type MemorySQS struct {
	mu   sync.Mutex
	sent []*sqs.SendMessageInput
	// Err, when set, fails every send.
	Err error
}

func (q *MemorySQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return nil, q.Err
	}
	q.sent = append(q.sent, in)
	id := "msg-" + strconv.Itoa(len(q.sent))
	return &sqs.SendMessageOutput{MessageId: &id}, nil
}

// Bodies returns the bodies of the sent messages in order.
func (q *MemorySQS) Bodies() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.sent))
	for _, in := range q.sent {
		out = append(out, *in.MessageBody)
	}
	return out
}

// MemoryCloudWatch records metric data.
type MemoryCloudWatch struct {
	mu     sync.Mutex
	inputs []*cloudwatch.PutMetricDataInput
}

func (c *MemoryCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputs = append(c.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// Total sums every datum named name.
func (c *MemoryCloudWatch) Total(name string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n float64
	for _, in := range c.inputs {
		for _, d := range in.MetricData {
			if d.MetricName != nil && *d.MetricName == name && d.Value != nil {
				n += *d.Value
			}
		}
	}
	return n
}
