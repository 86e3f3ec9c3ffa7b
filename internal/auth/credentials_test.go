package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func TestDecodeExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signedToken(t, jwt.MapClaims{"exp": exp.Unix(), "sub": "dealer-42"})

	got, err := decodeExpiry(token)
	if err != nil {
		t.Fatalf("decodeExpiry: %v", err)
	}
	if !got.Equal(exp) {
		t.Errorf("expiry = %v, want %v", got, exp)
	}
}

func TestDecodeExpiryMissingExp(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{"sub": "dealer-42"})

	if _, err := decodeExpiry(token); err == nil {
		t.Fatal("expected error for token without exp claim")
	}
}

func TestDecodeExpiryGarbage(t *testing.T) {
	if _, err := decodeExpiry("not-a-token"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}

func TestDecodeExpiryExpiredTokenStillDecodes(t *testing.T) {
	// An already expired token must still load; renewal handles the rest.
	exp := time.Now().Add(-time.Hour).Truncate(time.Second)
	token := signedToken(t, jwt.MapClaims{"exp": exp.Unix()})

	got, err := decodeExpiry(token)
	if err != nil {
		t.Fatalf("decodeExpiry: %v", err)
	}
	if !got.Equal(exp) {
		t.Errorf("expiry = %v, want %v", got, exp)
	}
}
