// Package totp implements RFC 6238 time-based one-time passwords with
// HMAC-SHA1, six digits and a thirty second step.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"
)

const (
	Digits     = 6
	Period     = 30
	SecretSize = 20
	// Skew is how many neighbouring steps on each side are accepted.
	Skew = 1
)

var (
	ErrInvalidSecret = errors.New("totp: invalid secret encoding")
	b32              = base32.StdEncoding.WithPadding(base32.NoPadding)
)

// GenerateSecret returns SecretSize random bytes as unpadded base32.
func GenerateSecret() (string, error) {
	raw := make([]byte, SecretSize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("totp: read random: %w", err)
	}
	return b32.EncodeToString(raw), nil
}

func decodeSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	s = strings.TrimRight(s, "=")
	if s == "" {
		return nil, ErrInvalidSecret
	}
	raw, err := b32.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidSecret
	}
	return raw, nil
}

// Counter is the RFC 6238 step number for t.
func Counter(t time.Time) int64 {
	return t.Unix() / Period
}

// Code returns the code for the step containing t.
func Code(secret string, t time.Time) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	return hotp(key, Counter(t)), nil
}

// Verify reports whether code matches the step containing now or one of its
// Skew neighbours. A secret that does not decode never verifies.
func Verify(secret, code string, now time.Time) bool {
	_, ok := VerifyStep(secret, code, now, math.MinInt64)
	return ok
}

// VerifyStep is Verify with replay protection: steps at or below lastUsed are
// refused. On success it returns the matched step, which the caller stores as
// the next lastUsed. All candidate steps are always computed and compared in
// constant time.
func VerifyStep(secret, code string, now time.Time, lastUsed int64) (int64, bool) {
	key, err := decodeSecret(secret)
	if err != nil {
		return 0, false
	}
	code = strings.TrimSpace(code)
	if len(code) != Digits {
		return 0, false
	}
	counter := Counter(now)
	matched := int64(0)
	found := false
	for c := counter - Skew; c <= counter+Skew; c++ {
		eq := subtle.ConstantTimeCompare([]byte(hotp(key, c)), []byte(code)) == 1
		if eq && c > lastUsed {
			matched, found = c, true
		}
	}
	return matched, found
}

// ProvisioningURI builds the otpauth:// URI authenticator apps scan.
func ProvisioningURI(issuer, account, secret string) string {
	label := url.PathEscape(issuer + ":" + account)
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", fmt.Sprint(Digits))
	q.Set("period", fmt.Sprint(Period))
	return "otpauth://totp/" + label + "?" + q.Encode()
}

func hotp(key []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))
	m := hmac.New(sha1.New, key)
	m.Write(msg[:])
	sum := m.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%0*d", Digits, bin%1_000_000)
}
