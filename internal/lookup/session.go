// Package lookup is the guest order lookup engine: email verification by
// one-time code, a scoped lookup token, the order action guard and the
// per-identity review eligibility cache, sequenced by Session.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/imrishuroy/go-guest-lookup/internal/challenge"
	"github.com/imrishuroy/go-guest-lookup/internal/collaborator"
	"github.com/imrishuroy/go-guest-lookup/internal/orders"
)

// State is a session state.
type State string

const (
	StateRequest State = "request"
	StateVerify  State = "verify"
	StateList    State = "list"
	StateDetail  State = "detail"
)

// MaxReviewImages bounds the images attached to one review.
const MaxReviewImages = 5

// Backend is the collaborator surface a session drives. *collaborator.Client implements it.
type Backend interface {
	RequestCode(ctx context.Context, email string) error
	VerifyCode(ctx context.Context, email, code string) (string, error)
	ListOrders(ctx context.Context, token string) ([]orders.OrderSummary, error)
	GetOrder(ctx context.Context, token, orderNumber string) (*orders.OrderDetail, error)
	Tracking(ctx context.Context, token, orderNumber string) (*orders.TrackingInfo, error)
	UpdateAddress(ctx context.Context, token, email, orderNumber string, addr orders.Address) error
	UpdateCustomerInfo(ctx context.Context, token, email, orderNumber string, info orders.CustomerInfo) error
	CancelOrder(ctx context.Context, token, email, orderNumber, reason string) error
	RequestRefund(ctx context.Context, token, email, orderNumber, reason string) error
	HasReviewed(ctx context.Context, token, productID string) (bool, error)
	CreateReview(ctx context.Context, token string, sub collaborator.ReviewSubmission) error
}

var _ Backend = (*collaborator.Client)(nil)

// Config tunes a session. Zero fields take defaults.
type Config struct {
	Clock             Clock
	Challenge         *challenge.Generator
	ResendCooldown    time.Duration
	MaxVerifyAttempts int
	Events            EventSink
	// OnCooldownTick, when set, is called once a second with the seconds left
	// before a resend is allowed, while the session is in StateVerify.
	OnCooldownTick   func(remaining int)
	ReconcileTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = SystemClock()
	}
	if c.Challenge == nil {
		c.Challenge = challenge.NewGenerator()
	}
	if c.ResendCooldown <= 0 {
		c.ResendCooldown = DefaultResendCooldown
	}
	if c.MaxVerifyAttempts <= 0 {
		c.MaxVerifyAttempts = DefaultMaxVerifyAttempts
	}
	if c.Events == nil {
		c.Events = nopSink{}
	}
	if c.ReconcileTimeout <= 0 {
		c.ReconcileTimeout = 10 * time.Second
	}
	return c
}

// Review is a product review submitted from an order detail.
type Review struct {
	ProductID string
	Rating    int
	Comment   string
	Images    []collaborator.ReviewImage
}

// Session is one guest's lookup state machine:
//
//	request -> verify -> list <-> detail
//
// Network calls run without the lock held. Their results are dropped when the
// session was reset or re-verified while they were in flight.
type Session struct {
	mu      sync.Mutex
	backend Backend
	cfg     Config

	state     State
	epoch     uint64
	challenge *challenge.Challenge
	code      verification
	email     string
	tokens    tokenIssuer
	orders    []orders.OrderSummary
	selected  string
	detail    *orders.OrderDetail
	tracking  *orders.TrackingInfo
	reviews   *ReviewCache
	tickStop  chan struct{}

	pending sync.WaitGroup
}

// NewSession returns a session in StateRequest with a fresh challenge.
func NewSession(backend Backend, cfg Config) *Session {
	return Restore(backend, cfg, Snapshot{})
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Email returns the verified email, or the email awaiting verification.
func (s *Session) Email() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateVerify {
		return s.code.email
	}
	return s.email
}

// HasToken reports whether the session holds a live lookup token.
func (s *Session) HasToken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens.valid()
}

func (s *Session) Puzzle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.challenge.Puzzle()
}

// RefreshChallenge replaces the puzzle and returns the new one.
func (s *Session) RefreshChallenge() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.challenge.Refresh()
}

// CooldownRemaining returns the seconds left before ResendCode is allowed.
func (s *Session) CooldownRemaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code.remaining(s.cfg.Clock.Now())
}

// AttemptsLeft returns the local verify attempts left for the current code.
func (s *Session) AttemptsLeft() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.code.active() {
		return 0
	}
	return s.code.attemptsLeft()
}

// Orders returns the loaded order summaries.
func (s *Session) Orders() []orders.OrderSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orders.OrderSummary(nil), s.orders...)
}

// Selected returns a copy of the loaded order detail, or nil.
func (s *Session) Selected() *orders.OrderDetail {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detail == nil {
		return nil
	}
	d := *s.detail
	d.Items = append([]orders.Item(nil), s.detail.Items...)
	return &d
}

// Tracking returns the last tracking info fetched for the selected order.
func (s *Session) Tracking() *orders.TrackingInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracking == nil {
		return nil
	}
	t := *s.tracking
	return &t
}

// Reviewed reports whether the current identity reviewed productID, as far as the cache knows.
func (s *Session) Reviewed(productID string) bool {
	return s.reviews.Reviewed(productID)
}

// RequestCode checks the challenge answer and asks the collaborator to mail a
// code to email. On success the session enters StateVerify and the resend
// cooldown starts.
func (s *Session) RequestCode(ctx context.Context, email, captcha string) error {
	email = NormalizeEmail(email)

	s.mu.Lock()
	if s.state != StateRequest {
		s.mu.Unlock()
		return newError(KindInvalidState, "a code was already requested; start a new lookup to use another email", nil)
	}
	if !ValidEmail(email) {
		s.mu.Unlock()
		return newError(KindInvalidEmail, "enter a valid email address", nil)
	}
	if !s.challenge.Check(captcha) {
		s.cfg.Events.Emit(Event{Name: EventChallengeFailed})
		s.mu.Unlock()
		return newError(KindChallengeFailed, "the security code did not match, try the new one", nil)
	}
	// A solved puzzle is spent.
	s.challenge.Refresh()
	epoch := s.epoch
	s.mu.Unlock()

	err := s.backend.RequestCode(ctx, email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return errSessionChanged()
	}
	if err != nil {
		return newError(KindCodeRequestFailed, messageOf(err, "the verification code could not be sent"), err)
	}
	s.code.issue(email, s.cfg.Clock.Now())
	s.state = StateVerify
	s.startTickerLocked()
	s.cfg.Events.Emit(Event{Name: EventCodeRequested})
	return nil
}

// ResendCode issues a new code for the pending email. It is rejected while
// the cooldown is running.
func (s *Session) ResendCode(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateVerify {
		s.mu.Unlock()
		return newError(KindInvalidState, "there is no code to resend", nil)
	}
	if rem := s.code.remaining(s.cfg.Clock.Now()); rem > 0 {
		s.mu.Unlock()
		return newError(KindCooldownActive, fmt.Sprintf("a new code can be requested in %d seconds", rem), nil)
	}
	email, epoch := s.code.email, s.epoch
	s.mu.Unlock()

	err := s.backend.RequestCode(ctx, email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return errSessionChanged()
	}
	if err != nil {
		return newError(KindCodeRequestFailed, messageOf(err, "the verification code could not be sent"), err)
	}
	s.code.issue(email, s.cfg.Clock.Now())
	s.startTickerLocked()
	s.cfg.Events.Emit(Event{Name: EventCodeRequested})
	return nil
}

// VerifyCode exchanges code for a lookup token and loads the order list.
// A rejected code keeps the session in StateVerify. Once the token is issued
// the session is in StateList even if loading the orders fails.
func (s *Session) VerifyCode(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)

	s.mu.Lock()
	if s.state != StateVerify {
		s.mu.Unlock()
		return newError(KindInvalidState, "request a code first", nil)
	}
	if code == "" {
		s.mu.Unlock()
		return newError(KindInvalidCode, "enter the code from the email", nil)
	}
	if s.code.exhausted() {
		s.mu.Unlock()
		return newError(KindInvalidCode, "too many attempts, request a new code", nil)
	}
	email, epoch := s.code.email, s.epoch
	s.mu.Unlock()

	token, err := s.backend.VerifyCode(ctx, email, code)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return errSessionChanged()
	}
	if err != nil {
		defer s.mu.Unlock()
		// only a rejection of the code itself costs an attempt
		var rej *collaborator.RejectedError
		if (errors.As(err, &rej) && !rej.Upstream()) || errors.Is(err, collaborator.ErrUnauthorized) {
			s.code.attempts++
			s.cfg.Events.Emit(Event{Name: EventCodeRejected})
			return newError(KindInvalidCode, messageOf(err, "the code is wrong or has expired"), err)
		}
		return newError(KindLookupFailed, "the code could not be checked", err)
	}
	if token == "" {
		s.mu.Unlock()
		return newError(KindLookupFailed, "the code could not be checked", errors.New("empty lookup token"))
	}

	s.tokens.issue(token)
	s.email = email
	s.code.reset()
	s.stopTickerLocked()
	s.reviews.Reset()
	s.clearOrdersLocked()
	s.state = StateList
	s.cfg.Events.Emit(Event{Name: EventCodeVerified})
	s.mu.Unlock()

	return s.RefreshOrders(ctx)
}

// RefreshOrders reloads the order list through the token.
func (s *Session) RefreshOrders(ctx context.Context) error {
	s.mu.Lock()
	token, gen, err := s.credentialLocked(StateList, StateDetail)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	list, err := s.backend.ListOrders(ctx, token)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		return s.failLocked(gen, err, KindLookupFailed, "your orders could not be loaded")
	}
	if s.staleLocked(gen) {
		return errSessionChanged()
	}
	s.orders = list
	return nil
}

// SelectOrder loads one order, checks review eligibility of its products
// and enters StateDetail.
func (s *Session) SelectOrder(ctx context.Context, orderNumber string) (*orders.OrderDetail, error) {
	s.mu.Lock()
	token, gen, err := s.credentialLocked(StateList, StateDetail)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	d, checked, err := s.fetchDetail(ctx, token, orderNumber, true)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		return nil, s.failLocked(gen, err, KindLookupFailed, "the order could not be loaded")
	}
	if s.staleLocked(gen) {
		return nil, errSessionChanged()
	}
	s.applyDetailLocked(d, checked)
	s.state = StateDetail
	cp := *d
	return &cp, nil
}

// Reload re-fetches whatever the current state shows. Restored sessions
// hold no order data until Reload is called.
func (s *Session) Reload(ctx context.Context) error {
	s.mu.Lock()
	state, selected := s.state, s.selected
	s.mu.Unlock()

	switch state {
	case StateList:
		return s.RefreshOrders(ctx)
	case StateDetail:
		if err := s.RefreshOrders(ctx); err != nil {
			return err
		}
		_, err := s.SelectOrder(ctx, selected)
		return err
	}
	return nil
}

// Back leaves the order detail for the list.
func (s *Session) Back() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateDetail {
		return newError(KindInvalidState, "no order is open", nil)
	}
	s.state = StateList
	s.selected = ""
	s.detail = nil
	s.tracking = nil
	return nil
}

// NewLookup discards the token and everything loaded with it.
func (s *Session) NewLookup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRequest {
		return
	}
	s.resetLocked()
}

// PermittedActions returns the guard's answer for the open order.
func (s *Session) PermittedActions() (Permissions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateDetail || s.detail == nil {
		return Permissions{}, newError(KindInvalidState, "no order is open", nil)
	}
	return PermittedActions(s.detail, s.reviews.Reviewed), nil
}

// CanReview reports, without a network call, whether a review of productID
// may be started on the open order.
func (s *Session) CanReview(productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reviewableLocked(productID)
}

// CancelOrder cancels the open order.
func (s *Session) CancelOrder(ctx context.Context, reason string) error {
	return s.mutate(ctx, ActionCancelOrder, func(ctx context.Context, token, email, orderNumber string) error {
		return s.backend.CancelOrder(ctx, token, email, orderNumber, reason)
	})
}

// RequestRefund requests a refund for the open order.
func (s *Session) RequestRefund(ctx context.Context, reason string) error {
	return s.mutate(ctx, ActionRequestRefund, func(ctx context.Context, token, email, orderNumber string) error {
		return s.backend.RequestRefund(ctx, token, email, orderNumber, reason)
	})
}

// UpdateAddress replaces the shipping address of the open order.
func (s *Session) UpdateAddress(ctx context.Context, addr orders.Address) error {
	return s.mutate(ctx, ActionUpdateAddress, func(ctx context.Context, token, email, orderNumber string) error {
		return s.backend.UpdateAddress(ctx, token, email, orderNumber, addr)
	})
}

// UpdateCustomerInfo replaces the customer contact fields of the open order.
func (s *Session) UpdateCustomerInfo(ctx context.Context, info orders.CustomerInfo) error {
	return s.mutate(ctx, ActionUpdateCustomerInfo, func(ctx context.Context, token, email, orderNumber string) error {
		return s.backend.UpdateCustomerInfo(ctx, token, email, orderNumber, info)
	})
}

type dispatchFunc func(ctx context.Context, token, email, orderNumber string) error

func (s *Session) mutate(ctx context.Context, action Action, dispatch dispatchFunc) error {
	s.mu.Lock()
	token, gen, err := s.credentialLocked(StateDetail)
	if err == nil && s.detail == nil {
		err = newError(KindInvalidState, "the order is not loaded", nil)
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if !PermittedActions(s.detail, s.reviews.Reviewed).Allows(action) {
		st := s.detail.Status
		s.mu.Unlock()
		return newError(KindActionNotPermitted, fmt.Sprintf("%s is not available for an order in status %s", action, st), nil)
	}
	email, orderNumber := s.email, s.detail.OrderNumber
	s.mu.Unlock()

	if err := dispatch(ctx, token, email, orderNumber); err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.failLocked(gen, err, KindActionFailed, "the request could not be completed")
	}

	s.mu.Lock()
	if !s.staleLocked(gen) {
		s.cfg.Events.Emit(Event{Name: EventActionDispatched, Action: action, OrderNumber: orderNumber})
	}
	s.mu.Unlock()

	s.reloadDetail(ctx, token, gen, orderNumber, true)
	return nil
}

// SubmitReview submits a review for a product of the open order. A product
// already marked reviewed is rejected before any network call.
func (s *Session) SubmitReview(ctx context.Context, r Review) error {
	s.mu.Lock()
	if err := s.reviewableLocked(r.ProductID); err != nil {
		s.mu.Unlock()
		return err
	}
	if r.Rating < 1 || r.Rating > 5 {
		s.mu.Unlock()
		return newError(KindInvalidRating, "rating must be between 1 and 5", nil)
	}
	if len(r.Images) > MaxReviewImages {
		s.mu.Unlock()
		return newError(KindInvalidReview, fmt.Sprintf("at most %d images can be attached", MaxReviewImages), nil)
	}
	token, gen := s.tokens.current()
	orderNumber := s.detail.OrderNumber
	s.mu.Unlock()

	err := s.backend.CreateReview(ctx, token, collaborator.ReviewSubmission{
		ProductID: r.ProductID,
		Rating:    r.Rating,
		Comment:   strings.TrimSpace(r.Comment),
		Images:    r.Images,
	})
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if errors.Is(err, collaborator.ErrAlreadyReviewed) {
			if !s.staleLocked(gen) {
				s.reviews.MarkReviewed(r.ProductID)
			}
			return newError(KindAlreadyReviewed, "you already reviewed this product", err)
		}
		return s.failLocked(gen, err, KindActionFailed, "the review could not be submitted")
	}

	s.mu.Lock()
	if !s.staleLocked(gen) {
		s.reviews.MarkReviewed(r.ProductID)
		s.cfg.Events.Emit(Event{Name: EventActionDispatched, Action: ActionSubmitReview, OrderNumber: orderNumber})
	}
	s.mu.Unlock()

	s.reconcile(ctx, token, gen, r.ProductID)
	s.reloadDetail(ctx, token, gen, orderNumber, false)
	return nil
}

// RefreshTracking fetches tracking info for the open order. Failures other
// than a rejected token are logged and the last known info is returned.
func (s *Session) RefreshTracking(ctx context.Context) (*orders.TrackingInfo, error) {
	s.mu.Lock()
	token, gen, err := s.credentialLocked(StateDetail)
	if err == nil && s.detail == nil {
		err = newError(KindInvalidState, "the order is not loaded", nil)
	}
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	orderNumber := s.detail.OrderNumber
	s.mu.Unlock()

	info, err := s.backend.Tracking(ctx, token, orderNumber)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if errors.Is(err, collaborator.ErrUnauthorized) {
			return nil, s.failLocked(gen, err, KindLookupFailed, "")
		}
		log.Printf("[lookup] tracking refresh for order %s failed: %v", orderNumber, err)
		if s.tracking == nil {
			return nil, nil
		}
		t := *s.tracking
		return &t, nil
	}
	if !s.staleLocked(gen) && s.detail != nil && s.detail.OrderNumber == orderNumber {
		s.tracking = info
	}
	t := *info
	return &t, nil
}

// Wait blocks until background review reconciliations finish.
func (s *Session) Wait() { s.pending.Wait() }

// Close stops the cooldown ticker goroutine. A session that may still be in
// StateVerify with OnCooldownTick set must be closed before it is dropped.
// The session stays usable; the next code request restarts the ticker.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTickerLocked()
}

// reconcile re-checks a submitted review in the background and corrects the
// cache if the collaborator disagrees.
func (s *Session) reconcile(ctx context.Context, token string, gen uint64, productID string) {
	ctx = context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(ctx, s.cfg.ReconcileTimeout)
		defer cancel()

		reviewed, err := s.backend.HasReviewed(ctx, token, productID)

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			if errors.Is(err, collaborator.ErrUnauthorized) {
				s.rejectLocked(gen)
				return
			}
			log.Printf("[lookup] review reconciliation for product %s failed: %v", productID, err)
			return
		}
		if s.staleLocked(gen) || s.reviews.Reviewed(productID) == reviewed {
			return
		}
		log.Printf("[lookup] review flag for product %s corrected to %t", productID, reviewed)
		s.reviews.Set(productID, reviewed)
		s.cfg.Events.Emit(Event{Name: EventReviewReconciled})
	}()
}

// fetchDetail loads an order and, for orders that allow reviews, checks its products.
func (s *Session) fetchDetail(ctx context.Context, token, orderNumber string, checkReviews bool) (*orders.OrderDetail, map[string]bool, error) {
	d, err := s.backend.GetOrder(ctx, token, orderNumber)
	if err != nil {
		return nil, nil, err
	}
	if !checkReviews || !ForStatus(d.Status).Has(ActionSubmitReview) {
		return d, nil, nil
	}
	checked, err := CheckBatch(ctx, s.backend, token, d.ProductIDs())
	if err != nil {
		return nil, nil, err
	}
	return d, checked, nil
}

// reloadDetail refreshes the open order after a mutation. Only a rejected
// token is acted on; other failures are logged.
func (s *Session) reloadDetail(ctx context.Context, token string, gen uint64, orderNumber string, checkReviews bool) {
	d, checked, err := s.fetchDetail(ctx, token, orderNumber, checkReviews)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if errors.Is(err, collaborator.ErrUnauthorized) {
			s.rejectLocked(gen)
			return
		}
		log.Printf("[lookup] refresh of order %s failed: %v", orderNumber, err)
		return
	}
	if s.staleLocked(gen) || s.state != StateDetail || s.selected != orderNumber {
		return
	}
	s.applyDetailLocked(d, checked)
}

func (s *Session) applyDetailLocked(d *orders.OrderDetail, checked map[string]bool) {
	if s.selected != d.OrderNumber {
		s.tracking = nil
	}
	s.selected = d.OrderNumber
	s.detail = d
	if checked != nil {
		s.reviews.Apply(d.ProductIDs(), checked)
	}
	for i := range s.orders {
		if s.orders[i].OrderNumber == d.OrderNumber {
			s.orders[i].Status = d.Status
		}
	}
}

func (s *Session) reviewableLocked(productID string) error {
	if _, _, err := s.credentialLocked(StateDetail); err != nil {
		return err
	}
	if s.detail == nil {
		return newError(KindInvalidState, "the order is not loaded", nil)
	}
	if !ForStatus(s.detail.Status).Has(ActionSubmitReview) {
		return newError(KindActionNotPermitted, fmt.Sprintf("reviews are not available for an order in status %s", s.detail.Status), nil)
	}
	if !s.detail.HasProduct(productID) {
		return newError(KindInvalidReview, "the product is not part of this order", nil)
	}
	if s.reviews.Reviewed(productID) {
		return newError(KindAlreadyReviewed, "you already reviewed this product", nil)
	}
	return nil
}

// credentialLocked returns the live token if the session is in one of states.
func (s *Session) credentialLocked(states ...State) (string, uint64, error) {
	allowed := false
	for _, st := range states {
		allowed = allowed || s.state == st
	}
	if !allowed {
		return "", 0, newError(KindInvalidState, fmt.Sprintf("not available in state %s", s.state), nil)
	}
	if !s.tokens.valid() {
		return "", 0, newError(KindTokenRejected, "your lookup has expired, verify your email again", nil)
	}
	token, gen := s.tokens.current()
	return token, gen, nil
}

// failLocked classifies a collaborator error. A rejected token resets the
// session, once per token no matter how many calls report it.
func (s *Session) failLocked(gen uint64, err error, kind Kind, msg string) error {
	if errors.Is(err, collaborator.ErrUnauthorized) {
		s.rejectLocked(gen)
		return newError(KindTokenRejected, "your lookup has expired, verify your email again", err)
	}
	if s.staleLocked(gen) {
		return errSessionChanged()
	}
	return newError(kind, messageOf(err, msg), err)
}

func (s *Session) rejectLocked(gen uint64) {
	if !s.tokens.invalidate(gen) {
		return
	}
	log.Printf("[lookup] token rejected in state %s, resetting session", s.state)
	s.resetLocked()
	s.cfg.Events.Emit(Event{Name: EventTokenRejected})
}

func (s *Session) staleLocked(gen uint64) bool {
	_, cur := s.tokens.current()
	return cur != gen || !s.tokens.valid()
}

func (s *Session) resetLocked() {
	s.epoch++
	s.tokens.reset()
	s.state = StateRequest
	s.email = ""
	s.code.reset()
	s.stopTickerLocked()
	s.clearOrdersLocked()
	s.reviews.Reset()
	s.challenge.Refresh()
}

func (s *Session) clearOrdersLocked() {
	s.orders = nil
	s.selected = ""
	s.detail = nil
	s.tracking = nil
}

func (s *Session) startTickerLocked() {
	s.stopTickerLocked()
	cb := s.cfg.OnCooldownTick
	if cb == nil {
		return
	}
	stop := make(chan struct{})
	s.tickStop = stop
	t := s.cfg.Clock.NewTicker(time.Second)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C():
				s.mu.Lock()
				if s.tickStop != stop {
					s.mu.Unlock()
					return
				}
				rem := s.code.remaining(s.cfg.Clock.Now())
				s.mu.Unlock()
				cb(rem)
				if rem == 0 {
					return
				}
			}
		}
	}()
}

func (s *Session) stopTickerLocked() {
	if s.tickStop != nil {
		close(s.tickStop)
		s.tickStop = nil
	}
}

func errSessionChanged() error {
	return newError(KindInvalidState, "the lookup was reset while the request was in flight", nil)
}

func messageOf(err error, fallback string) string {
	var rej *collaborator.RejectedError
	if errors.As(err, &rej) && rej.Message != "" {
		return rej.Message
	}
	return fallback
}
