package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// issuedAt reads the iat claim without verifying the signature; the backend
// owns verification. Any decoding problem yields ok=false.
func issuedAt(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	iat, err := claims.GetIssuedAt()
	if err != nil || iat == nil {
		return time.Time{}, false
	}
	return iat.Time, true
}
