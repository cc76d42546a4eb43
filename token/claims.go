package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiresAt reads the exp claim of an access token without verifying its
// signature; the client has no key material and only uses the value to
// schedule refreshes. ok is false for opaque tokens or tokens without exp.
func ExpiresAt(rawToken string) (exp time.Time, ok bool) {
	if strings.Count(rawToken, ".") != 2 {
		return time.Time{}, false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return time.Time{}, false
	}

	expiry, err := claims.GetExpirationTime()
	if err != nil || expiry == nil {
		return time.Time{}, false
	}
	return expiry.Time, true
}

// ExpiresWithin is true when the token has a known expiry that is at or
// before now+skew. Tokens with unknown expiry never report as expiring.
func ExpiresWithin(rawToken string, skew time.Duration, now time.Time) bool {
	exp, ok := ExpiresAt(rawToken)
	if !ok {
		return false
	}
	return !exp.After(now.Add(skew))
}

// Subject returns the sub claim of a JWT access token, or "" when unavailable.
func Subject(rawToken string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}
