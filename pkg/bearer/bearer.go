package bearer

import (
	"errors"
	"strings"
)

const prefix = "Bearer "

var (
	ErrMissing   = errors.New("authorization header missing")
	ErrMalformed = errors.New("authorization header must be \"Bearer <token>\"")
)

// FromHeader extracts the token from an Authorization header value. Only the
// exact "Bearer <token>" shape is accepted.
func FromHeader(h string) (string, error) {
	if h == "" {
		return "", ErrMissing
	}
	if !strings.HasPrefix(h, prefix) {
		return "", ErrMalformed
	}
	tok := h[len(prefix):]
	if tok == "" || strings.ContainsAny(tok, " \t\r\n") {
		return "", ErrMalformed
	}
	return tok, nil
}

func Header(token string) string { return prefix + token }
