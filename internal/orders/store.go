package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-guest-lookup/internal/aws"
	"github.com/imrishuroy/go-guest-lookup/internal/idempotency"
)

// Store encapsulates operations on the guest actions table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new action ledger Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

var (
	// ErrStatusMismatch is returned by UpdateStatus when the record is not in the expected status.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrDuplicateAction is returned when an action id was already recorded.
	ErrDuplicateAction = errors.New("action already recorded")
)

// RecordWithIdempotency atomically:
//   - puts rec into the actions table (ConditionExpression attribute_not_exists(action_id))
//   - moves idempotencyKey in idempotencyTable from IN_PROGRESS to DONE with the stored response
//
// With an empty idempotencyKey only the action record is written.
func (s *Store) RecordWithIdempotency(ctx context.Context, idempotencyTable, idempotencyKey string, rec ActionRecord, responseBody string, responseStatus int) error {
	now := s.nowFunc()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = ActionRecorded
	}
	rec.IdempotencyKey = idempotencyKey

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal action record: %w", err)
	}

	put := &types.Put{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(action_id)"),
	}

	if idempotencyKey == "" {
		_, err := s.client.PutItem(ctx, &dyn.PutItemInput{
			TableName:           put.TableName,
			Item:                put.Item,
			ConditionExpression: put.ConditionExpression,
		})
		if err != nil {
			var ccf *types.ConditionalCheckFailedException
			if errors.As(err, &ccf) {
				return ErrDuplicateAction
			}
			return fmt.Errorf("put action: %w", err)
		}
		return nil
	}

	transactItems := []types.TransactWriteItem{
		{Put: put},
		{
			Update: &types.Update{
				TableName: &idempotencyTable,
				Key: map[string]types.AttributeValue{
					"idempotency_key": &types.AttributeValueMemberS{Value: idempotencyKey},
				},
				UpdateExpression:         awsString("SET #s = :done, response_body = :rb, response_status = :rs, updated_at = :ua"),
				ConditionExpression:      awsString("#s = :inprogress"),
				ExpressionAttributeNames: map[string]string{"#s": "status"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":done":       &types.AttributeValueMemberS{Value: idempotency.StatusDone},
					":inprogress": &types.AttributeValueMemberS{Value: idempotency.StatusInProgress},
					":rb":         &types.AttributeValueMemberS{Value: responseBody},
					":rs":         &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", responseStatus)},
					":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
				},
			},
		},
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: transactItems})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return fmt.Errorf("transaction canceled (action exists or idempotency not in progress): %w", ErrDuplicateAction)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an action record by action_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, actionID string) (*ActionRecord, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"action_id": &types.AttributeValueMemberS{Value: actionID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec ActionRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal action: %w", err)
	}
	return &rec, nil
}

// UpdateStatus conditionally moves the record from expectedStatus to newStatus.
// Returns nil on success, ErrStatusMismatch if the condition failed.
func (s *Store) UpdateStatus(ctx context.Context, actionID, expectedStatus, newStatus string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"action_id": &types.AttributeValueMemberS{Value: actionID},
		},
		UpdateExpression:         awsString("SET #s = :new, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: newStatus},
			":expected": &types.AttributeValueMemberS{Value: expectedStatus},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ConditionExpression: awsString("#s = :expected"),
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// IncrementAttempts increases the attempts counter by 1 (used by the worker on failed processing).
func (s *Store) IncrementAttempts(ctx context.Context, actionID string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"action_id": &types.AttributeValueMemberS{Value: actionID},
		},
		UpdateExpression:          awsString("SET attempts = if_not_exists(attempts, :zero) + :inc, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":zero": &types.AttributeValueMemberN{Value: "0"}, ":inc": &types.AttributeValueMemberN{Value: "1"}, ":ua": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)}},
		ReturnValues:              types.ReturnValueUpdatedNew,
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		return fmt.Errorf("increment attempts: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
