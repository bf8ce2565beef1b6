// Package auth resolves the calling user of an API request.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserHeader carries the user id when token checks are disabled.
const UserHeader = "X-User-ID"

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

type contextKey struct{}

// WithUser returns a copy of ctx carrying uid.
func WithUser(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, contextKey{}, uid)
}

// UserFrom returns the user id stored by Middleware, or "".
func UserFrom(ctx context.Context) string {
	uid, _ := ctx.Value(contextKey{}).(string)
	return uid
}

// Authenticator validates HS256 bearer tokens whose subject is the user
// id. With an empty secret it trusts the X-User-ID header instead.
type Authenticator struct {
	secret []byte
}

func New(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Enabled reports whether bearer tokens are required.
func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

// IssueToken signs a token for uid valid for ttl.
func (a *Authenticator) IssueToken(uid string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   uid,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// ValidateToken returns the subject of a valid token.
func (a *Authenticator) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// UserID resolves the caller of r.
func (a *Authenticator) UserID(r *http.Request) (string, error) {
	if !a.Enabled() {
		uid := strings.TrimSpace(r.Header.Get(UserHeader))
		if uid == "" {
			return "", ErrMissingCredentials
		}
		return uid, nil
	}

	header := r.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		return "", ErrMissingCredentials
	}
	return a.ValidateToken(tokenString)
}

// Middleware rejects unauthenticated requests and stores the user id in
// the request context. onUser, if set, is called for every authenticated
// request.
func (a *Authenticator) Middleware(onUser func(ctx context.Context, uid string), unauthorized func(w http.ResponseWriter, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid, err := a.UserID(r)
			if err != nil {
				unauthorized(w, err)
				return
			}
			if onUser != nil {
				onUser(r.Context(), uid)
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), uid)))
		})
	}
}
