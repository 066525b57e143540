// Package metrics publishes guest lookup counters to CloudWatch.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/imrishuroy/go-guest-lookup/internal/aws"
	"github.com/imrishuroy/go-guest-lookup/internal/lookup"
)

// maxDatums is the PutMetricData batch limit.
const maxDatums = 1000

type counterKey struct {
	name   string
	action string
}

// Recorder buffers session events as counters until Flush. It implements lookup.EventSink.
type Recorder struct {
	client    aws.CloudWatchAPI
	namespace string
	nowFunc   func() time.Time

	mu     sync.Mutex
	counts map[counterKey]float64
}

var _ lookup.EventSink = (*Recorder)(nil)

// NewRecorder returns a Recorder writing to namespace.
func NewRecorder(client aws.CloudWatchAPI, namespace string) *Recorder {
	return &Recorder{
		client:    client,
		namespace: namespace,
		nowFunc:   time.Now,
		counts:    make(map[counterKey]float64),
	}
}

// Emit counts e.
func (r *Recorder) Emit(e lookup.Event) {
	r.mu.Lock()
	r.counts[counterKey{name: string(e.Name), action: string(e.Action)}]++
	r.mu.Unlock()
}

// Pending returns the buffered count for name, summed over actions.
func (r *Recorder) Pending(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n float64
	for k, v := range r.counts {
		if k.name == name {
			n += v
		}
	}
	return n
}

// Flush publishes and clears the buffered counters. On failure the counters are kept.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	if len(r.counts) == 0 {
		r.mu.Unlock()
		return nil
	}
	keys := make([]counterKey, 0, len(r.counts))
	for k := range r.counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].name != keys[j].name {
			return keys[i].name < keys[j].name
		}
		return keys[i].action < keys[j].action
	})
	now := r.nowFunc()
	data := make([]cwtypes.MetricDatum, 0, len(keys))
	for _, k := range keys {
		var dims map[string]string
		if k.action != "" {
			dims = map[string]string{"Action": k.action}
		}
		data = append(data, datum(k.name, r.counts[k], now, dims))
	}
	r.counts = make(map[counterKey]float64)
	r.mu.Unlock()

	if err := r.put(ctx, data); err != nil {
		r.mu.Lock()
		for _, d := range data {
			k := counterKey{name: *d.MetricName}
			for _, dim := range d.Dimensions {
				k.action = *dim.Value
			}
			r.counts[k] += *d.Value
		}
		r.mu.Unlock()
		return err
	}
	return nil
}

// Count publishes a single counter immediately.
func (r *Recorder) Count(ctx context.Context, name string, n float64, dims map[string]string) error {
	return r.put(ctx, []cwtypes.MetricDatum{datum(name, n, r.nowFunc(), dims)})
}

func (r *Recorder) put(ctx context.Context, data []cwtypes.MetricDatum) error {
	for start := 0; start < len(data); start += maxDatums {
		end := start + maxDatums
		if end > len(data) {
			end = len(data)
		}
		_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  &r.namespace,
			MetricData: data[start:end],
		})
		if err != nil {
			return fmt.Errorf("put metric data: %w", err)
		}
	}
	return nil
}

func datum(name string, value float64, ts time.Time, dims map[string]string) cwtypes.MetricDatum {
	d := cwtypes.MetricDatum{
		MetricName: strPtr(name),
		Value:      &value,
		Unit:       cwtypes.StandardUnitCount,
		Timestamp:  &ts,
	}
	dimNames := make([]string, 0, len(dims))
	for k := range dims {
		dimNames = append(dimNames, k)
	}
	sort.Strings(dimNames)
	for _, k := range dimNames {
		d.Dimensions = append(d.Dimensions, cwtypes.Dimension{Name: strPtr(k), Value: strPtr(dims[k])})
	}
	return d
}

func strPtr(s string) *string { return &s }
