package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Skotchmaster/tunehub/pkg/autherr"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultMFATTL     = 5 * time.Minute
)

var ErrMissingSecret = errors.New("tokens: signing secret is empty")

// Codec signs and verifies HS256 tokens. It holds no mutable state after
// construction and is safe for concurrent use.
type Codec struct {
	secret []byte
	issuer string
	ttl    map[Kind]time.Duration
	now    func() time.Time
}

type Option func(*Codec)

func WithTTL(kind Kind, d time.Duration) Option {
	return func(c *Codec) { c.ttl[kind] = d }
}

func WithIssuer(iss string) Option {
	return func(c *Codec) { c.issuer = iss }
}

func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	c := &Codec{
		secret: append([]byte(nil), secret...),
		ttl: map[Kind]time.Duration{
			KindAccess:  DefaultAccessTTL,
			KindRefresh: DefaultRefreshTTL,
			KindMFA:     DefaultMFATTL,
		},
		now: time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	for k, d := range c.ttl {
		if d <= 0 {
			return nil, fmt.Errorf("tokens: ttl for %s must be positive", k)
		}
	}
	if c.ttl[KindAccess] >= c.ttl[KindRefresh] {
		return nil, fmt.Errorf("tokens: access ttl %s must be shorter than refresh ttl %s", c.ttl[KindAccess], c.ttl[KindRefresh])
	}
	return c, nil
}

func (c *Codec) TTL(kind Kind) time.Duration { return c.ttl[kind] }

// Issue signs a new token of the given kind. The returned claims are exactly
// what Verify will hand back for the token.
func (c *Codec) Issue(subject, role string, kind Kind) (string, *Claims, error) {
	if !kind.valid() {
		return "", nil, fmt.Errorf("tokens: unknown kind %q", kind)
	}
	if subject == "" {
		return "", nil, errors.New("tokens: empty subject")
	}
	now := c.now().UTC().Truncate(time.Second)
	claims := &Claims{
		Role: role,
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl[kind])),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", nil, fmt.Errorf("tokens: sign: %w", err)
	}
	return signed, claims, nil
}

// Verify checks signature, structure and expiry. Failures are one of
// autherr.ErrTokenMalformed, autherr.ErrTokenExpired or autherr.ErrTokenInvalid.
func (c *Codec) Verify(token string) (*Claims, error) {
	var claims Claims
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	tkn, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return nil, classify(err)
	}
	if !tkn.Valid || claims.Subject == "" || !claims.Kind.valid() {
		return nil, autherr.ErrTokenInvalid
	}
	return &claims, nil
}

// VerifyKind is Verify plus a kind check; a token of any other kind fails with
// autherr.ErrTokenWrongKind.
func (c *Codec) VerifyKind(token string, want Kind) (*Claims, error) {
	claims, err := c.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Kind != want {
		return nil, autherr.ErrTokenWrongKind
	}
	return claims, nil
}

func (c *Codec) KindOf(token string) (Kind, error) {
	claims, err := c.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.Kind, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", autherr.ErrTokenMalformed, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return autherr.ErrTokenExpired
	default:
		return fmt.Errorf("%w: %v", autherr.ErrTokenInvalid, err)
	}
}
