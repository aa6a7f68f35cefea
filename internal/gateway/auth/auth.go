package auth

import (
	"errors"
	"strings"
)

var (
	// ErrMalformedCredential means the Authorization header is missing or
	// not in "Bearer <token>" form.
	ErrMalformedCredential = errors.New("malformed credential")
	// ErrInvalidCredential means the bearer token matched no configured key.
	ErrInvalidCredential = errors.New("invalid credential")
)

// Anonymous is the username recorded when a valid key is bound to no user.
const Anonymous = "anonymous"

// Authenticator validates bearer credentials against the credential store.
// The store is immutable after construction, so lookups need no locking.
type Authenticator struct {
	users map[string]string // API key -> username
}

func New(credentials map[string]string) *Authenticator {
	users := make(map[string]string, len(credentials))
	for key, name := range credentials {
		users[key] = name
	}
	return &Authenticator{users: users}
}

// FromHeader validates a raw Authorization header value and returns the
// username bound to the bearer token. It has no side effects; callers own
// the audit logging for both outcomes so that accepted and rejected
// requests share one logging path.
func (a *Authenticator) FromHeader(raw string) (string, error) {
	token, ok := token(raw)
	if !ok {
		return "", ErrMalformedCredential
	}
	user, found := a.users[token]
	if !found {
		return "", ErrInvalidCredential
	}
	if user == "" {
		return Anonymous, nil
	}
	return user, nil
}

// Token extracts the bearer token from a raw Authorization header without
// validating it, for audit records of rejected requests. Returns "" when
// the header is missing or malformed.
func Token(raw string) string {
	t, _ := token(raw)
	return t
}

func token(raw string) (string, bool) {
	scheme, rest, found := strings.Cut(raw, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	t := unquote(strings.TrimSpace(rest))
	if t == "" {
		return "", false
	}
	return t, true
}

// unquote strips one pair of surrounding quote characters; keys are
// sometimes quoted in transit by shell-driven clients.
func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
