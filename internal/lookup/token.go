package lookup

// tokenIssuer holds the session's single credential. Every issued token gets
// a new generation, so a rejection reported for an older token is ignored.
type tokenIssuer struct {
	token string
	gen   uint64
}

func (t *tokenIssuer) issue(token string) uint64 {
	t.gen++
	t.token = token
	return t.gen
}

func (t *tokenIssuer) valid() bool { return t.token != "" }

func (t *tokenIssuer) current() (string, uint64) { return t.token, t.gen }

// invalidate clears the token if gen is still live. It reports whether it did.
func (t *tokenIssuer) invalidate(gen uint64) bool {
	if t.token == "" || gen != t.gen {
		return false
	}
	t.token = ""
	t.gen++
	return true
}

func (t *tokenIssuer) reset() {
	if t.token != "" {
		t.gen++
	}
	t.token = ""
}
