package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"github.com/imrishuroy/go-guest-lookup/internal/lookup"
)

type mockCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (m *mockCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.inputs = append(m.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestFlush_AggregatesEvents(t *testing.T) {
	cw := &mockCloudWatch{}
	r := NewRecorder(cw, "GuestLookup")

	r.Emit(lookup.Event{Name: lookup.EventCodeRequested})
	r.Emit(lookup.Event{Name: lookup.EventCodeRequested})
	r.Emit(lookup.Event{Name: lookup.EventActionDispatched, Action: lookup.ActionCancelOrder, OrderNumber: "ORD-1"})

	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(cw.inputs) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(cw.inputs))
	}
	in := cw.inputs[0]
	if *in.Namespace != "GuestLookup" {
		t.Fatalf("unexpected namespace %s", *in.Namespace)
	}
	if len(in.MetricData) != 2 {
		t.Fatalf("expected 2 datums, got %d", len(in.MetricData))
	}
	dispatched, requested := in.MetricData[0], in.MetricData[1]
	if *dispatched.MetricName != "ActionDispatched" || len(dispatched.Dimensions) != 1 || *dispatched.Dimensions[0].Value != "CANCEL_ORDER" {
		t.Fatalf("unexpected datum %+v", dispatched)
	}
	if *requested.MetricName != "CodeRequested" || *requested.Value != 2 {
		t.Fatalf("unexpected datum %+v", requested)
	}

	// nothing buffered, nothing sent
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(cw.inputs) != 1 {
		t.Fatalf("expected no extra call, got %d", len(cw.inputs))
	}
}

func TestFlush_FailureKeepsCounters(t *testing.T) {
	cw := &mockCloudWatch{err: errors.New("throttled")}
	r := NewRecorder(cw, "GuestLookup")
	r.Emit(lookup.Event{Name: lookup.EventTokenRejected})
	r.Emit(lookup.Event{Name: lookup.EventActionDispatched, Action: lookup.ActionSubmitReview})

	if err := r.Flush(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if got := r.Pending("TokenRejected"); got != 1 {
		t.Fatalf("expected counter kept, got %v", got)
	}
	if got := r.Pending("ActionDispatched"); got != 1 {
		t.Fatalf("expected counter kept, got %v", got)
	}

	cw.err = nil
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := r.Pending("TokenRejected"); got != 0 {
		t.Fatalf("expected counters cleared, got %v", got)
	}
}

func TestCount(t *testing.T) {
	cw := &mockCloudWatch{}
	r := NewRecorder(cw, "GuestLookup")
	if err := r.Count(context.Background(), "ActionProcessed", 1, map[string]string{"Action": "REQUEST_REFUND"}); err != nil {
		t.Fatalf("count: %v", err)
	}
	if len(cw.inputs) != 1 || *cw.inputs[0].MetricData[0].MetricName != "ActionProcessed" {
		t.Fatalf("unexpected inputs %+v", cw.inputs)
	}
}
