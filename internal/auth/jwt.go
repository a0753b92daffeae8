package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/ride-matchmaking/internal/apperr"
)

const (
	Issuer   = "RideShareBackend"
	Audience = "RideShareClients"
	RoleUser = "User"
)

type Credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator checks a single configured account and issues HS256 tokens
// for it.
type Authenticator struct {
	username string
	password string
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

func NewAuthenticator(username, password, secret string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Authenticator{username: username, password: password, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Authenticate returns a signed token, or apperr.ErrUnauthorized when the
// credentials do not match.
func (a *Authenticator) Authenticate(c Credentials) (string, time.Time, error) {
	userOK := subtle.ConstantTimeCompare([]byte(c.Username), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(c.Password), []byte(a.password)) == 1
	if !userOK || !passOK || a.username == "" {
		return "", time.Time{}, apperr.ErrUnauthorized
	}
	now := a.now()
	expires := now.Add(a.ttl)
	claims := Claims{
		Role: RoleUser,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.Username,
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expires, nil
}

// Validate parses a bearer token. Any failure is reported as
// apperr.ErrUnauthorized wrapping the parser error.
func (a *Authenticator) Validate(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return nil, apperr.ErrUnauthorized
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	},
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrUnauthorized, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperr.ErrUnauthorized
	}
	return claims, nil
}
