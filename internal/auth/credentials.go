package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is an immutable snapshot of the worker's bearer token. It is
// replaced wholesale on every successful reload and never mutated in place.
type Credential struct {
	Token     string
	ExpiresAt time.Time
	LoadedAt  time.Time
}

// LoadError reports that the token file could not be turned into a usable
// credential. It is fatal at process startup and a recoverable refresh
// failure afterwards.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("invalid credential at %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

var unverifiedParser = jwt.NewParser(jwt.WithoutClaimsValidation())

// decodeExpiry extracts the exp claim from a compact JWT without verifying
// the signature. The worker is not the token's audience; it only needs to
// know when to renew.
func decodeExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := unverifiedParser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("token has no exp claim")
	}
	return exp.Time, nil
}
