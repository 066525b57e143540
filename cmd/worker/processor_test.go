package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	awsDynamo "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-guest-lookup/internal/aws"
	"github.com/imrishuroy/go-guest-lookup/internal/aws/awstest"
	"github.com/imrishuroy/go-guest-lookup/internal/orders"
)

func seedAction(t *testing.T, m *awstest.MemoryDynamo, id, action, status string) {
	t.Helper()
	rec := orders.ActionRecord{
		ActionID:    id,
		OrderNumber: "A1",
		Email:       "guest@example.com",
		Action:      action,
		Status:      status,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	item, err := attributevalue.MarshalMap(rec)
	require.NoError(t, err)
	_, err = m.PutItem(context.Background(), putInput("actions", item))
	require.NoError(t, err)
}

func event(t *testing.T, msgs ...orders.ActionEvent) events.SQSEvent {
	t.Helper()
	var ev events.SQSEvent
	for i, m := range msgs {
		body, err := json.Marshal(m)
		require.NoError(t, err)
		ev.Records = append(ev.Records, events.SQSMessage{MessageId: string(rune('a' + i)), Body: string(body)})
	}
	return ev
}

func status(t *testing.T, m *awstest.MemoryDynamo, id string) string {
	t.Helper()
	var rec orders.ActionRecord
	require.NoError(t, attributevalue.UnmarshalMap(m.Item("actions", id), &rec))
	return rec.Status
}

func newTestProcessor() (*Processor, *awstest.MemoryDynamo, *awstest.MemoryCloudWatch) {
	dyn := awstest.NewMemoryDynamo().CreateTable("actions", "action_id")
	cw := &awstest.MemoryCloudWatch{}
	return NewProcessor(&aws.AWSClients{DynamoDB: dyn, CloudWatch: cw}, "actions", "GuestLookup"), dyn, cw
}

func TestWorkerProcess_Success(t *testing.T) {
	p, dyn, cw := newTestProcessor()
	seedAction(t, dyn, "act-1", "CANCEL_ORDER", orders.ActionRecorded)

	resp, err := p.Handle(context.Background(), event(t, orders.ActionEvent{ActionID: "act-1", OrderNumber: "A1", Action: "CANCEL_ORDER"}))
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, orders.ActionProcessed, status(t, dyn, "act-1"))
	assert.Equal(t, 1.0, cw.Total("ActionProcessed"))
}

func TestWorkerProcess_DuplicateDelivery(t *testing.T) {
	p, dyn, cw := newTestProcessor()
	seedAction(t, dyn, "act-1", "REQUEST_REFUND", orders.ActionRecorded)
	msg := orders.ActionEvent{ActionID: "act-1", Action: "REQUEST_REFUND"}

	resp, err := p.Handle(context.Background(), event(t, msg, msg))
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, orders.ActionProcessed, status(t, dyn, "act-1"))
	assert.Equal(t, 1.0, cw.Total("ActionProcessed"))
}

func TestWorkerProcess_PartialFailure(t *testing.T) {
	p, dyn, _ := newTestProcessor()
	seedAction(t, dyn, "act-1", "UPDATE_ADDRESS", orders.ActionRecorded)
	seedAction(t, dyn, "act-2", "SUBMIT_REVIEW", orders.ActionFailed)

	resp, err := p.Handle(context.Background(), event(t,
		orders.ActionEvent{ActionID: "missing"},
		orders.ActionEvent{ActionID: "act-1"},
		orders.ActionEvent{ActionID: "act-2"},
	))
	require.NoError(t, err)
	require.Len(t, resp.BatchItemFailures, 2)
	assert.Equal(t, "a", resp.BatchItemFailures[0].ItemIdentifier)
	assert.Equal(t, "c", resp.BatchItemFailures[1].ItemIdentifier)
	assert.Equal(t, orders.ActionProcessed, status(t, dyn, "act-1"))
}

func TestWorkerProcess_UnknownActionIsParked(t *testing.T) {
	p, dyn, _ := newTestProcessor()
	seedAction(t, dyn, "act-1", "EXPLODE", orders.ActionRecorded)

	resp, err := p.Handle(context.Background(), event(t, orders.ActionEvent{ActionID: "act-1"}))
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, orders.ActionFailed, status(t, dyn, "act-1"))
}

func TestWorkerProcess_BadBody(t *testing.T) {
	p, _, _ := newTestProcessor()

	resp, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{{MessageId: "x", Body: "{"}}})
	require.NoError(t, err)
	require.Len(t, resp.BatchItemFailures, 1)
}

func putInput(table string, item map[string]types.AttributeValue) *awsDynamo.PutItemInput {
	return &awsDynamo.PutItemInput{TableName: &table, Item: item}
}
