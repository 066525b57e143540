package orders

import "time"

// Status is the closed set of order lifecycle states the guest engine reasons about.
type Status string

// Order statuses
const (
	StatusPending         Status = "PENDING"
	StatusPaid            Status = "PAID"
	StatusProcessing      Status = "PROCESSING"
	StatusShipped         Status = "SHIPPED"
	StatusDelivered       Status = "DELIVERED"
	StatusCancelled       Status = "CANCELLED"
	StatusRefunded        Status = "REFUNDED"
	StatusRefundRequested Status = "REFUND_REQUESTED"

	// StatusUnknown marks a status the collaborator sent that could not be normalized.
	// No action is ever permitted on it.
	StatusUnknown Status = "UNKNOWN"
)

// Statuses lists every known status in lifecycle order.
var Statuses = []Status{
	StatusPending,
	StatusPaid,
	StatusProcessing,
	StatusShipped,
	StatusDelivered,
	StatusCancelled,
	StatusRefunded,
	StatusRefundRequested,
}

// Known reports whether s is one of Statuses.
func (s Status) Known() bool {
	for _, k := range Statuses {
		if s == k {
			return true
		}
	}
	return false
}

// Item is a single order line.
type Item struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	ImageURL    string  `json:"image_url,omitempty"`
}

// Address is a shipping address with the recipient's contact fields.
type Address struct {
	FullName    string `json:"full_name"`
	Phone       string `json:"phone"`
	AddressLine string `json:"address_line"`
	City        string `json:"city"`
	District    string `json:"district,omitempty"`
	PostalCode  string `json:"postal_code,omitempty"`
}

// CustomerInfo holds the editable customer contact fields of an order.
type CustomerInfo struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
}

// OrderSummary is the list projection returned by the collaborator order store.
type OrderSummary struct {
	OrderNumber string    `json:"order_number"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	TotalAmount float64   `json:"total_amount"`
	Items       []Item    `json:"items"`
}

// OrderDetail is the full projection of a single order.
type OrderDetail struct {
	OrderNumber     string        `json:"order_number"`
	Status          Status        `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	TotalAmount     float64       `json:"total_amount"`
	Items           []Item        `json:"items"`
	TrackingNumber  string        `json:"tracking_number,omitempty"`
	ShippingAddress *Address      `json:"shipping_address,omitempty"`
	Customer        *CustomerInfo `json:"customer,omitempty"`
}

// ProductIDs returns the distinct product ids of the order's items, in item order.
func (o *OrderDetail) ProductIDs() []string {
	seen := make(map[string]bool, len(o.Items))
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		if it.ProductID == "" || seen[it.ProductID] {
			continue
		}
		seen[it.ProductID] = true
		ids = append(ids, it.ProductID)
	}
	return ids
}

// HasProduct reports whether productID is one of the order's items.
func (o *OrderDetail) HasProduct(productID string) bool {
	for _, it := range o.Items {
		if it.ProductID == productID {
			return true
		}
	}
	return false
}

// TrackingInfo is the shipment tracking projection of an order.
type TrackingInfo struct {
	OrderNumber    string    `json:"order_number"`
	Carrier        string    `json:"carrier,omitempty"`
	TrackingNumber string    `json:"tracking_number,omitempty"`
	State          string    `json:"state,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

// Ledger states of a guest action record.
const (
	ActionRecorded  = "RECORDED"
	ActionProcessed = "PROCESSED"
	ActionFailed    = "FAILED"
)

// ActionRecord is the item stored in the guest actions DynamoDB table.
// One record is written for every mutation a guest successfully dispatched.
type ActionRecord struct {
	ActionID       string    `dynamodbav:"action_id" json:"action_id"` // PK
	IdempotencyKey string    `dynamodbav:"idempotency_key,omitempty" json:"idempotency_key,omitempty"`
	OrderNumber    string    `dynamodbav:"order_number" json:"order_number"`
	Email          string    `dynamodbav:"email" json:"email"`
	Action         string    `dynamodbav:"action" json:"action"` // CANCEL_ORDER | REQUEST_REFUND | ...
	Status         string    `dynamodbav:"status" json:"status"` // RECORDED | PROCESSED | FAILED
	Detail         string    `dynamodbav:"detail,omitempty" json:"detail,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at" json:"updated_at"`
	Attempts       int       `dynamodbav:"attempts,omitempty" json:"attempts,omitempty"`
}

// ActionEvent is the payload sent API -> SQS -> worker after a guest action was recorded.
type ActionEvent struct {
	ActionID       string `json:"action_id"`
	OrderNumber    string `json:"order_number"`
	Action         string `json:"action"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	CorrelationID  string `json:"correlation_id,omitempty"`
}
