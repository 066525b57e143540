// Package collaborator talks to the shop backend that owns orders, codes and reviews.
// Every response is normalized into Result before the engine sees it.
package collaborator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/imrishuroy/go-guest-lookup/internal/orders"
)

var (
	// ErrUnauthorized means the collaborator rejected the lookup token (401/403).
	ErrUnauthorized = errors.New("collaborator: token rejected")
	// ErrAlreadyReviewed means the collaborator already holds a review for the product.
	ErrAlreadyReviewed = errors.New("collaborator: product already reviewed")
)

// RejectedError is a collaborator response that reported failure.
type RejectedError struct {
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("collaborator rejected request (status %d)", e.Status)
	}
	return fmt.Sprintf("collaborator rejected request (status %d): %s", e.Status, e.Message)
}

// Upstream reports whether the collaborator failed (5xx) rather than rejecting the request.
func (e *RejectedError) Upstream() bool { return e.Status >= http.StatusInternalServerError }

// Result is the single internal response shape.
type Result struct {
	OK     bool
	Data   json.RawMessage
	Error  string
	Status int
}

// envelope accepts both success flag spellings the backend uses.
type envelope struct {
	Success   *bool           `json:"success"`
	IsSuccess *bool           `json:"isSuccess"`
	Message   string          `json:"message"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
}

// Normalize collapses an HTTP status and body into a Result.
func Normalize(status int, body []byte) Result {
	res := Result{Status: status, OK: status >= 200 && status < 300}

	var env envelope
	if len(body) == 0 || json.Unmarshal(body, &env) != nil {
		if !res.OK {
			res.Error = strings.TrimSpace(string(body))
		}
		return res
	}

	switch {
	case env.Success != nil:
		res.OK = res.OK && *env.Success
	case env.IsSuccess != nil:
		res.OK = res.OK && *env.IsSuccess
	}
	res.Data = env.Data
	if !res.OK {
		res.Error = env.Message
		if res.Error == "" {
			res.Error = env.Error
		}
	}
	return res
}

// Err classifies a failed Result. It returns nil for OK results.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	if r.Status == http.StatusUnauthorized || r.Status == http.StatusForbidden {
		return ErrUnauthorized
	}
	return &RejectedError{Status: r.Status, Message: r.Error}
}

// Decode unmarshals Data into out.
func (r Result) Decode(out interface{}) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return errors.New("collaborator: empty data")
	}
	if err := json.Unmarshal(r.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// reviewRejection turns a /reviews/create rejection that reports an existing
// review (409, or a message saying so) into ErrAlreadyReviewed.
func reviewRejection(err error) error {
	var rej *RejectedError
	if !errors.As(err, &rej) || rej.Upstream() {
		return err
	}
	if rej.Status == http.StatusConflict || looksAlreadyReviewed(rej.Message) {
		return fmt.Errorf("%w: %s", ErrAlreadyReviewed, rej.Message)
	}
	return err
}

func looksAlreadyReviewed(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "already reviewed") ||
		strings.Contains(m, "already submitted") ||
		strings.Contains(m, "zaten değerlendir") ||
		strings.Contains(m, "zaten yorum")
}

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", string(b))
	}
	*f = flexString(n.String())
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// flexTime accepts RFC3339, zone-less timestamps (read as UTC) and epoch milliseconds.
type flexTime time.Time

func (f *flexTime) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(b), `"`)
	if raw == "" || raw == "null" {
		*f = flexTime(time.Time{})
		return nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*f = flexTime(time.UnixMilli(ms).UTC())
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			*f = flexTime(t)
			return nil
		}
	}
	return fmt.Errorf("unrecognized time %q", raw)
}

type itemWire struct {
	ProductID   flexString `json:"productId"`
	ProductName string     `json:"productName"`
	Quantity    int        `json:"quantity"`
	UnitPrice   float64    `json:"price"`
	ImageURL    string     `json:"imageUrl"`
}

type addressWire struct {
	FullName    string `json:"fullName"`
	Phone       string `json:"phone"`
	AddressLine string `json:"addressLine"`
	City        string `json:"city"`
	District    string `json:"district"`
	PostalCode  string `json:"postalCode"`
}

type orderWire struct {
	OrderNumber     string       `json:"orderNumber"`
	Status          string       `json:"status"`
	CreatedAt       flexTime     `json:"createdAt"`
	TotalAmount     float64      `json:"totalAmount"`
	Items           []itemWire   `json:"items"`
	TrackingNumber  string       `json:"trackingNumber"`
	ShippingAddress *addressWire `json:"shippingAddress"`
	CustomerName    string       `json:"customerName"`
	CustomerPhone   string       `json:"customerPhone"`
}

type trackingWire struct {
	OrderNumber    string   `json:"orderNumber"`
	Carrier        string   `json:"carrier"`
	TrackingNumber string   `json:"trackingNumber"`
	State          string   `json:"status"`
	UpdatedAt      flexTime `json:"updatedAt"`
}

func (w itemWire) toItem() orders.Item {
	return orders.Item{
		ProductID:   string(w.ProductID),
		ProductName: w.ProductName,
		Quantity:    w.Quantity,
		UnitPrice:   w.UnitPrice,
		ImageURL:    w.ImageURL,
	}
}

func toItems(ws []itemWire) []orders.Item {
	items := make([]orders.Item, 0, len(ws))
	for _, w := range ws {
		items = append(items, w.toItem())
	}
	return items
}

func (w orderWire) toSummary() orders.OrderSummary {
	return orders.OrderSummary{
		OrderNumber: w.OrderNumber,
		Status:      NormalizeStatus(w.Status),
		CreatedAt:   time.Time(w.CreatedAt),
		TotalAmount: w.TotalAmount,
		Items:       toItems(w.Items),
	}
}

func (w orderWire) toDetail() *orders.OrderDetail {
	d := &orders.OrderDetail{
		OrderNumber:    w.OrderNumber,
		Status:         NormalizeStatus(w.Status),
		CreatedAt:      time.Time(w.CreatedAt),
		TotalAmount:    w.TotalAmount,
		Items:          toItems(w.Items),
		TrackingNumber: w.TrackingNumber,
	}
	if a := w.ShippingAddress; a != nil {
		d.ShippingAddress = &orders.Address{
			FullName:    a.FullName,
			Phone:       a.Phone,
			AddressLine: a.AddressLine,
			City:        a.City,
			District:    a.District,
			PostalCode:  a.PostalCode,
		}
	}
	if w.CustomerName != "" || w.CustomerPhone != "" {
		d.Customer = &orders.CustomerInfo{FullName: w.CustomerName, Phone: w.CustomerPhone}
	}
	return d
}

func toAddressWire(a orders.Address) addressWire {
	return addressWire{
		FullName:    a.FullName,
		Phone:       a.Phone,
		AddressLine: a.AddressLine,
		City:        a.City,
		District:    a.District,
		PostalCode:  a.PostalCode,
	}
}
