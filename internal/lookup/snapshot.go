package lookup

import (
	"time"

	"github.com/imrishuroy/go-guest-lookup/internal/challenge"
)

// Snapshot is the persistable part of a session. Order data is never part of
// it; a restored session re-fetches orders through its token on Reload.
type Snapshot struct {
	State         State           `dynamodbav:"state" json:"state"`
	Email         string          `dynamodbav:"email,omitempty" json:"email,omitempty"`
	Token         string          `dynamodbav:"token,omitempty" json:"-"`
	CodeIssuedAt  time.Time       `dynamodbav:"code_issued_at,omitempty" json:"code_issued_at,omitempty"`
	Attempts      int             `dynamodbav:"attempts,omitempty" json:"attempts,omitempty"`
	Puzzle        string          `dynamodbav:"puzzle,omitempty" json:"-"`
	Reviewed      map[string]bool `dynamodbav:"reviewed,omitempty" json:"reviewed,omitempty"`
	SelectedOrder string          `dynamodbav:"selected_order,omitempty" json:"selected_order,omitempty"`
}

// Snapshot captures the session. Call Wait first to include pending review reconciliations.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:  s.state,
		Puzzle: s.challenge.Puzzle(),
	}
	switch s.state {
	case StateVerify:
		snap.Email = s.code.email
		snap.CodeIssuedAt = s.code.issuedAt
		snap.Attempts = s.code.attempts
	case StateList, StateDetail:
		snap.Email = s.email
		snap.Token, _ = s.tokens.current()
		snap.Reviewed = s.reviews.Entries()
		snap.SelectedOrder = s.selected
	}
	return snap
}

// Restore rebuilds a session from snap. A snapshot that is not internally
// consistent restores to StateRequest: list and detail need a token and an
// email, verify needs an email. A session restored into StateVerify runs the
// cooldown ticker when cfg.OnCooldownTick is set; Close it when done.
func Restore(backend Backend, cfg Config, snap Snapshot) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		backend: backend,
		cfg:     cfg,
		state:   StateRequest,
		reviews: NewReviewCache(),
	}
	s.code.cooldown = cfg.ResendCooldown
	s.code.max = cfg.MaxVerifyAttempts
	s.challenge = challenge.Restore(cfg.Challenge, snap.Puzzle)

	switch snap.State {
	case StateVerify:
		if snap.Email == "" || snap.CodeIssuedAt.IsZero() {
			break
		}
		s.code.issue(snap.Email, snap.CodeIssuedAt)
		s.code.attempts = snap.Attempts
		s.state = StateVerify
		s.startTickerLocked()
	case StateList, StateDetail:
		if snap.Token == "" || snap.Email == "" {
			break
		}
		s.tokens.issue(snap.Token)
		s.email = snap.Email
		for id, v := range snap.Reviewed {
			s.reviews.Set(id, v)
		}
		s.state = StateList
		if snap.State == StateDetail && snap.SelectedOrder != "" {
			s.state = StateDetail
			s.selected = snap.SelectedOrder
		}
	}
	return s
}
