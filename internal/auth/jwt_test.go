package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/ride-matchmaking/internal/apperr"
)

func TestAuthenticateAndValidate(t *testing.T) {
	a := NewAuthenticator("admin", "password", "test-secret", time.Hour)
	token, expires, err := a.Authenticate(Credentials{Username: "admin", Password: "password"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Fatalf("expiry should be in the future, got %v", expires)
	}
	claims, err := a.Validate("Bearer " + token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Role != RoleUser || claims.Subject != "admin" || claims.Issuer != Issuer {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	a := NewAuthenticator("admin", "password", "test-secret", time.Hour)
	for _, c := range []Credentials{
		{Username: "admin", Password: "wrong"},
		{Username: "root", Password: "password"},
		{},
	} {
		if _, _, err := a.Authenticate(c); !errors.Is(err, apperr.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized for %+v, got %v", c, err)
		}
	}
}

func TestValidateRejectsExpiredAndForeignTokens(t *testing.T) {
	a := NewAuthenticator("admin", "password", "test-secret", time.Minute)
	token, _, _ := a.Authenticate(Credentials{Username: "admin", Password: "password"})

	later := NewAuthenticator("admin", "password", "test-secret", time.Minute)
	later.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := later.Validate(token); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}

	other := NewAuthenticator("admin", "password", "other-secret", time.Minute)
	if _, err := other.Validate(token); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected signature mismatch to be rejected, got %v", err)
	}

	wrongAudience := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: RoleUser,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{"someone-else"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	signed, _ := wrongAudience.SignedString([]byte("test-secret"))
	if _, err := a.Validate(signed); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected audience mismatch to be rejected, got %v", err)
	}

	if _, err := a.Validate(""); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected empty token to be rejected, got %v", err)
	}
}
