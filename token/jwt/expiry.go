package jwt

import (
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// ExpiresAt reads the exp claim of a bearer token WITHOUT verifying its signature.
// The result is only a scheduling hint for the client; authorisation is always
// enforced by the server. It returns false for any token it cannot decode.
func ExpiresAt(rawToken string) (time.Time, bool) {
	if strings.TrimSpace(rawToken) == "" {
		return time.Time{}, false
	}

	claims := jwtlib.MapClaims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
