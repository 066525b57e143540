package lookup

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultResendCooldown is the wait between two code issuances for one email.
const DefaultResendCooldown = 180 * time.Second

// DefaultMaxVerifyAttempts bounds local verify attempts per issued code.
const DefaultMaxVerifyAttempts = 5

var validate = validator.New()

// NormalizeEmail trims surrounding whitespace. Case folding is left to the collaborator.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(email)
}

// ValidEmail reports whether email is syntactically valid.
func ValidEmail(email string) bool {
	return validate.Var(email, "required,email") == nil
}

// verification tracks the one outstanding code of a session.
type verification struct {
	email    string
	issuedAt time.Time
	cooldown time.Duration
	attempts int
	max      int
}

func (v *verification) active() bool { return v.email != "" }

func (v *verification) issue(email string, now time.Time) {
	v.email = email
	v.issuedAt = now
	v.attempts = 0
}

// remaining is the whole seconds left before a resend is allowed, rounded up.
func (v *verification) remaining(now time.Time) int {
	if !v.active() {
		return 0
	}
	left := v.issuedAt.Add(v.cooldown).Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}

func (v *verification) exhausted() bool { return v.attempts >= v.max }

func (v *verification) attemptsLeft() int {
	if n := v.max - v.attempts; n > 0 {
		return n
	}
	return 0
}

func (v *verification) reset() {
	v.email = ""
	v.issuedAt = time.Time{}
	v.attempts = 0
}
