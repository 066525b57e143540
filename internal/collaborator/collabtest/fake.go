// Package collabtest provides an in-memory collaborator for tests.
// It keeps one active code per email, binds tokens to emails and
// applies order mutations the way the real backend does.
package collabtest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/imrishuroy/go-guest-lookup/internal/collaborator"
	"github.com/imrishuroy/go-guest-lookup/internal/orders"
)

// Fake is an in-memory collaborator. The zero value is not usable; call New.
type Fake struct {
	mu sync.Mutex

	codeSeq  int
	tokenSeq int
	codes    map[string]string // email -> active code
	tokens   map[string]string // token -> email
	revoked  map[string]bool
	orders   map[string][]*orders.OrderDetail // email -> orders
	reviewed map[string]map[string]bool       // email -> productID -> reviewed
	tracking map[string]*orders.TrackingInfo
	failures map[string][]error
	calls    map[string]int

	// HasReviewedHook, when set, answers HasReviewed instead of the stored state.
	HasReviewedHook func(ctx context.Context, productID string) (bool, error)

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		codes:    map[string]string{},
		tokens:   map[string]string{},
		revoked:  map[string]bool{},
		orders:   map[string][]*orders.OrderDetail{},
		reviewed: map[string]map[string]bool{},
		tracking: map[string]*orders.TrackingInfo{},
		failures: map[string][]error{},
		calls:    map[string]int{},
	}
}

// AddOrder registers an order owned by email.
func (f *Fake) AddOrder(email string, o orders.OrderDetail) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := o
	cp.Items = append([]orders.Item(nil), o.Items...)
	f.orders[strings.ToLower(email)] = append(f.orders[strings.ToLower(email)], &cp)
}

// SetStatus changes an order's status behind the engine's back.
func (f *Fake) SetStatus(orderNumber string, st orders.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, list := range f.orders {
		for _, o := range list {
			if o.OrderNumber == orderNumber {
				o.Status = st
			}
		}
	}
}

// SetTracking registers tracking info for an order.
func (f *Fake) SetTracking(info orders.TrackingInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracking[info.OrderNumber] = &info
}

// MarkReviewed records a review as if it had been submitted from elsewhere.
func (f *Fake) MarkReviewed(email, productID string, reviewed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email = strings.ToLower(email)
	if f.reviewed[email] == nil {
		f.reviewed[email] = map[string]bool{}
	}
	f.reviewed[email][productID] = reviewed
}

// LastCode returns the active code for email.
func (f *Fake) LastCode(email string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codes[strings.ToLower(email)]
}

// Revoke invalidates token; later calls carrying it get collaborator.ErrUnauthorized.
func (f *Fake) Revoke(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[token] = true
}

// FailNext queues err as the next result of op (e.g. "GetOrder").
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], err)
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// MaxConcurrentHasReviewed reports the highest number of overlapping HasReviewed calls.
func (f *Fake) MaxConcurrentHasReviewed() int {
	return int(f.maxInFlight.Load())
}

func (f *Fake) enter(op string) error {
	f.calls[op]++
	if q := f.failures[op]; len(q) > 0 {
		f.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

func (f *Fake) emailFor(token string) (string, error) {
	email, ok := f.tokens[token]
	if !ok || f.revoked[token] {
		return "", collaborator.ErrUnauthorized
	}
	return email, nil
}

func (f *Fake) find(email, orderNumber string) (*orders.OrderDetail, error) {
	for _, o := range f.orders[email] {
		if o.OrderNumber == orderNumber {
			return o, nil
		}
	}
	return nil, &collaborator.RejectedError{Status: http.StatusNotFound, Message: "order not found"}
}

// RequestCode issues a new code for email, replacing any previous one.
func (f *Fake) RequestCode(ctx context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RequestCode"); err != nil {
		return err
	}
	f.codeSeq++
	f.codes[strings.ToLower(email)] = fmt.Sprintf("%06d", 100000+f.codeSeq)
	return nil
}

// VerifyCode consumes the active code and mints a token bound to email.
func (f *Fake) VerifyCode(ctx context.Context, email, code string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("VerifyCode"); err != nil {
		return "", err
	}
	email = strings.ToLower(email)
	active, ok := f.codes[email]
	if !ok || active != code {
		return "", &collaborator.RejectedError{Status: http.StatusBadRequest, Message: "invalid or expired code"}
	}
	delete(f.codes, email)
	f.tokenSeq++
	tok := fmt.Sprintf("tok-%d", f.tokenSeq)
	f.tokens[tok] = email
	return tok, nil
}

// ListOrders returns summaries of the token owner's orders.
func (f *Fake) ListOrders(ctx context.Context, token string) ([]orders.OrderSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListOrders"); err != nil {
		return nil, err
	}
	email, err := f.emailFor(token)
	if err != nil {
		return nil, err
	}
	out := make([]orders.OrderSummary, 0, len(f.orders[email]))
	for _, o := range f.orders[email] {
		out = append(out, orders.OrderSummary{
			OrderNumber: o.OrderNumber,
			Status:      o.Status,
			CreatedAt:   o.CreatedAt,
			TotalAmount: o.TotalAmount,
			Items:       append([]orders.Item(nil), o.Items...),
		})
	}
	return out, nil
}

// GetOrder returns a copy of one order.
func (f *Fake) GetOrder(ctx context.Context, token, orderNumber string) (*orders.OrderDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetOrder"); err != nil {
		return nil, err
	}
	email, err := f.emailFor(token)
	if err != nil {
		return nil, err
	}
	o, err := f.find(email, orderNumber)
	if err != nil {
		return nil, err
	}
	cp := *o
	cp.Items = append([]orders.Item(nil), o.Items...)
	return &cp, nil
}

// Tracking returns registered tracking info.
func (f *Fake) Tracking(ctx context.Context, token, orderNumber string) (*orders.TrackingInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Tracking"); err != nil {
		return nil, err
	}
	if _, err := f.emailFor(token); err != nil {
		return nil, err
	}
	info, ok := f.tracking[orderNumber]
	if !ok {
		return nil, &collaborator.RejectedError{Status: http.StatusNotFound, Message: "no tracking"}
	}
	cp := *info
	return &cp, nil
}

func (f *Fake) mutate(op, token, email, orderNumber string, apply func(o *orders.OrderDetail)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(op); err != nil {
		return err
	}
	owner, err := f.emailFor(token)
	if err != nil {
		return err
	}
	if owner != strings.ToLower(email) {
		return &collaborator.RejectedError{Status: http.StatusBadRequest, Message: "email does not match order"}
	}
	o, err := f.find(owner, orderNumber)
	if err != nil {
		return err
	}
	apply(o)
	return nil
}

// UpdateAddress replaces the shipping address.
func (f *Fake) UpdateAddress(ctx context.Context, token, email, orderNumber string, addr orders.Address) error {
	return f.mutate("UpdateAddress", token, email, orderNumber, func(o *orders.OrderDetail) {
		a := addr
		o.ShippingAddress = &a
	})
}

// UpdateCustomerInfo replaces the customer contact fields.
func (f *Fake) UpdateCustomerInfo(ctx context.Context, token, email, orderNumber string, info orders.CustomerInfo) error {
	return f.mutate("UpdateCustomerInfo", token, email, orderNumber, func(o *orders.OrderDetail) {
		ci := info
		o.Customer = &ci
	})
}

// CancelOrder moves the order to CANCELLED.
func (f *Fake) CancelOrder(ctx context.Context, token, email, orderNumber, reason string) error {
	return f.mutate("CancelOrder", token, email, orderNumber, func(o *orders.OrderDetail) {
		o.Status = orders.StatusCancelled
	})
}

// RequestRefund moves the order to REFUND_REQUESTED.
func (f *Fake) RequestRefund(ctx context.Context, token, email, orderNumber, reason string) error {
	return f.mutate("RequestRefund", token, email, orderNumber, func(o *orders.OrderDetail) {
		o.Status = orders.StatusRefundRequested
	})
}

// HasReviewed reports the stored review flag, or HasReviewedHook's answer.
func (f *Fake) HasReviewed(ctx context.Context, token, productID string) (bool, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	f.mu.Lock()
	err := f.enter("HasReviewed")
	var email string
	if err == nil {
		email, err = f.emailFor(token)
	}
	hook := f.HasReviewedHook
	reviewed := f.reviewed[email][productID]
	f.mu.Unlock()

	if err != nil {
		return false, err
	}
	if hook != nil {
		return hook(ctx, productID)
	}
	return reviewed, nil
}

// CreateReview stores a review, rejecting duplicates.
func (f *Fake) CreateReview(ctx context.Context, token string, sub collaborator.ReviewSubmission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateReview"); err != nil {
		return err
	}
	email, err := f.emailFor(token)
	if err != nil {
		return err
	}
	if f.reviewed[email][sub.ProductID] {
		return fmt.Errorf("%w: already reviewed", collaborator.ErrAlreadyReviewed)
	}
	if f.reviewed[email] == nil {
		f.reviewed[email] = map[string]bool{}
	}
	f.reviewed[email][sub.ProductID] = true
	return nil
}
