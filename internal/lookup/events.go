package lookup

// EventName identifies an engine event.
type EventName string

const (
	EventCodeRequested    EventName = "CodeRequested"
	EventCodeVerified     EventName = "CodeVerified"
	EventCodeRejected     EventName = "CodeRejected"
	EventChallengeFailed  EventName = "ChallengeFailed"
	EventTokenRejected    EventName = "TokenRejected"
	EventActionDispatched EventName = "ActionDispatched"
	EventReviewReconciled EventName = "ReviewReconciled"
)

// Event is emitted by a session as it runs.
type Event struct {
	Name        EventName
	Action      Action
	OrderNumber string
}

// EventSink receives session events. Emit is called with the session lock
// held and must not call back into the session.
type EventSink interface {
	Emit(e Event)
}

type nopSink struct{}

func (nopSink) Emit(Event) {}
