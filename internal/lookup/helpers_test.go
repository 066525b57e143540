package lookup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-guest-lookup/internal/collaborator/collabtest"
	"github.com/imrishuroy/go-guest-lookup/internal/orders"
)

const guest = "a@b.com"

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingSink) count(name EventName) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

func order(number string, st orders.Status, productIDs ...string) orders.OrderDetail {
	o := orders.OrderDetail{
		OrderNumber: number,
		Status:      st,
		CreatedAt:   t0.Add(-48 * time.Hour),
	}
	for _, id := range productIDs {
		o.Items = append(o.Items, orders.Item{ProductID: id, ProductName: "Product " + id, Quantity: 1, UnitPrice: 25})
		o.TotalAmount += 25
	}
	return o
}

type harness struct {
	fake    *collabtest.Fake
	clock   *ManualClock
	sink    *recordingSink
	cfg     Config
	session *Session
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		fake:  collabtest.New(),
		clock: NewManualClock(t0),
		sink:  &recordingSink{},
	}
	h.cfg = Config{Clock: h.clock, Events: h.sink}
	for _, o := range opts {
		o(&h.cfg)
	}
	h.session = NewSession(h.fake, h.cfg)
	return h
}

func (h *harness) requestCode(t *testing.T) {
	t.Helper()
	require.NoError(t, h.session.RequestCode(context.Background(), guest, h.session.Puzzle()))
}

func (h *harness) verify(t *testing.T) {
	t.Helper()
	h.requestCode(t)
	require.NoError(t, h.session.VerifyCode(context.Background(), h.fake.LastCode(guest)))
}

func (h *harness) open(t *testing.T, orderNumber string) *orders.OrderDetail {
	t.Helper()
	d, err := h.session.SelectOrder(context.Background(), orderNumber)
	require.NoError(t, err)
	return d
}
