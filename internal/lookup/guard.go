package lookup

import (
	"encoding/json"

	"github.com/imrishuroy/go-guest-lookup/internal/orders"
)

// Action is a guest mutation gated by the order's status.
type Action string

const (
	ActionCancelOrder        Action = "CANCEL_ORDER"
	ActionRequestRefund      Action = "REQUEST_REFUND"
	ActionUpdateAddress      Action = "UPDATE_ADDRESS"
	ActionUpdateCustomerInfo Action = "UPDATE_CUSTOMER_INFO"
	ActionSubmitReview       Action = "SUBMIT_REVIEW"
)

// Actions lists every action in display order.
var Actions = []Action{
	ActionCancelOrder,
	ActionRequestRefund,
	ActionUpdateAddress,
	ActionUpdateCustomerInfo,
	ActionSubmitReview,
}

// ActionSet is a set of actions.
type ActionSet uint8

func bit(a Action) ActionSet {
	for i, k := range Actions {
		if k == a {
			return 1 << uint(i)
		}
	}
	return 0
}

// NewActionSet returns a set holding as.
func NewActionSet(as ...Action) ActionSet {
	var s ActionSet
	for _, a := range as {
		s |= bit(a)
	}
	return s
}

// Has reports whether a is in the set.
func (s ActionSet) Has(a Action) bool {
	b := bit(a)
	return b != 0 && s&b != 0
}

func (s ActionSet) without(a Action) ActionSet { return s &^ bit(a) }

// List returns the members in display order.
func (s ActionSet) List() []Action {
	out := make([]Action, 0, len(Actions))
	for _, a := range Actions {
		if s.Has(a) {
			out = append(out, a)
		}
	}
	return out
}

func (s ActionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

var statusActions = map[orders.Status]ActionSet{
	orders.StatusPending:    NewActionSet(ActionCancelOrder),
	orders.StatusPaid:       NewActionSet(ActionCancelOrder, ActionUpdateAddress, ActionUpdateCustomerInfo),
	orders.StatusProcessing: NewActionSet(ActionCancelOrder, ActionUpdateAddress, ActionUpdateCustomerInfo),
	orders.StatusShipped:    NewActionSet(ActionRequestRefund),
	orders.StatusDelivered:  NewActionSet(ActionRequestRefund, ActionSubmitReview),
}

// ForStatus returns the actions a status allows before per-item review
// eligibility is considered. Unlisted statuses, including StatusUnknown, allow nothing.
func ForStatus(st orders.Status) ActionSet {
	return statusActions[st]
}

// Permissions is the guard's answer for one order.
type Permissions struct {
	OrderNumber string        `json:"order_number"`
	Status      orders.Status `json:"status"`
	Actions     ActionSet     `json:"actions"`
	// Reviewable maps every product of the order to whether a review may still be submitted.
	Reviewable map[string]bool `json:"reviewable,omitempty"`
}

// Allows reports whether a is permitted.
func (p Permissions) Allows(a Action) bool { return p.Actions.Has(a) }

// CanReview reports whether productID may be reviewed.
func (p Permissions) CanReview(productID string) bool {
	return p.Actions.Has(ActionSubmitReview) && p.Reviewable[productID]
}

// PermittedActions derives the permitted actions for order. reviewed reports
// whether the current identity already reviewed a product; nil means none were.
// SubmitReview is kept only while at least one product is still reviewable.
func PermittedActions(order *orders.OrderDetail, reviewed func(productID string) bool) Permissions {
	if order == nil {
		return Permissions{}
	}
	p := Permissions{
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		Actions:     ForStatus(order.Status),
	}
	if !p.Actions.Has(ActionSubmitReview) {
		return p
	}
	p.Reviewable = make(map[string]bool)
	open := false
	for _, id := range order.ProductIDs() {
		ok := reviewed == nil || !reviewed(id)
		p.Reviewable[id] = ok
		open = open || ok
	}
	if !open {
		p.Actions = p.Actions.without(ActionSubmitReview)
	}
	return p
}
