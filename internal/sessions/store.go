// Package sessions persists lookup session snapshots in DynamoDB so the HTTP
// facade can serve one guest across stateless requests.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-guest-lookup/internal/aws"
	"github.com/imrishuroy/go-guest-lookup/internal/lookup"
)

// ErrVersionConflict means another request saved the session first.
var ErrVersionConflict = errors.New("session version conflict")

// Record is the item stored in the sessions table.
type Record struct {
	SessionID string          `dynamodbav:"session_id"` // PK
	Version   int64           `dynamodbav:"version"`
	Snapshot  lookup.Snapshot `dynamodbav:"snapshot"`
	CreatedAt time.Time       `dynamodbav:"created_at"`
	UpdatedAt time.Time       `dynamodbav:"updated_at"`
	ExpiresAt int64           `dynamodbav:"expires_at"` // TTL epoch seconds
}

// Store reads and writes session records.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttl       time.Duration
	nowFunc   func() time.Time
}

// NewStore returns a Store. ttl is the idle lifetime of a session; every save extends it.
func NewStore(client aws.DynamoDBAPI, tableName string, ttl time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttl:       ttl,
		nowFunc:   time.Now,
	}
}

// NewID returns a fresh session id.
func NewID() string { return uuid.NewString() }

// Load returns the record for id, or (nil, nil) when it does not exist or has expired.
func (s *Store) Load(ctx context.Context, id string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            key(id),
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	// DynamoDB TTL deletion is lazy.
	if rec.ExpiresAt > 0 && rec.ExpiresAt <= s.nowFunc().Unix() {
		return nil, nil
	}
	return &rec, nil
}

// Save writes snap under id. version is the version the caller loaded, 0 for
// a new session. It returns the stored version, or ErrVersionConflict when
// the stored version moved on.
func (s *Store) Save(ctx context.Context, id string, version int64, snap lookup.Snapshot) (int64, error) {
	now := s.nowFunc()
	rec := Record{
		SessionID: id,
		Version:   version + 1,
		Snapshot:  snap,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttl).Unix(),
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return 0, fmt.Errorf("marshal session: %w", err)
	}

	input := &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}
	if version == 0 {
		input.ConditionExpression = awsString("attribute_not_exists(session_id)")
	} else {
		input.ConditionExpression = awsString("version = :v")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(version, 10)},
		}
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		if isConditionalFailure(err) {
			return 0, ErrVersionConflict
		}
		return 0, fmt.Errorf("put session: %w", err)
	}
	return rec.Version, nil
}

// Delete removes the session. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key:       key(id),
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"session_id": &types.AttributeValueMemberS{Value: id},
	}
}

func isConditionalFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException"
}

func awsString(s string) *string { return &s }
func boolPtr(b bool) *bool       { return &b }
