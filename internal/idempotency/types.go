package idempotency

import "time"

// Status values for idempotency entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// IdempotencyRecord is the shape persisted in the idempotency DynamoDB table.
// Keys are scoped per lookup session so two guests can never collide on a client-chosen key.
type IdempotencyRecord struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK: <session id>:<Idempotency-Key header>
	Status         string    `dynamodbav:"status"`
	OrderNumber    string    `dynamodbav:"order_number,omitempty"`
	Action         string    `dynamodbav:"action,omitempty"`
	ResponseBody   string    `dynamodbav:"response_body,omitempty"`   // small JSON responses only
	ResponseStatus int       `dynamodbav:"response_status,omitempty"` // e.g., 200
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note           string    `dynamodbav:"note,omitempty"`
}

// ScopedKey joins a session id and a client-supplied key into the stored primary key.
func ScopedKey(sessionID, clientKey string) string {
	return sessionID + ":" + clientKey
}
