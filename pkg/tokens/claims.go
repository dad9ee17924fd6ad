package tokens

import "github.com/golang-jwt/jwt/v5"

type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	// KindMFA is the short-lived challenge handed out when login still needs a
	// second factor.
	KindMFA Kind = "mfa"
)

func (k Kind) valid() bool {
	return k == KindAccess || k == KindRefresh || k == KindMFA
}

type Claims struct {
	Role string `json:"role,omitempty"`
	Kind Kind   `json:"kind"`
	jwt.RegisteredClaims
}
