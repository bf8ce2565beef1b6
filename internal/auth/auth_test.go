package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenRoundTrip(t *testing.T) {
	a := New("s3cret")
	token, err := a.IssueToken("u1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	uid, err := a.ValidateToken(token)
	if err != nil || uid != "u1" {
		t.Errorf("ValidateToken = %q, %v", uid, err)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	a := New("s3cret")

	expired, _ := a.IssueToken("u1", -time.Minute)
	other, _ := New("different").IssueToken("u1", time.Hour)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString([]byte("s3cret"))

	tests := map[string]string{
		"expired":      expired,
		"wrong secret": other,
		"alg none":     none,
		"no subject":   noSubject,
		"garbage":      "not.a.token",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := a.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestUserIDHeaderModeWhenDisabled(t *testing.T) {
	a := New("")
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := a.UserID(r); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("err = %v", err)
	}
	r.Header.Set(UserHeader, "u7")
	if uid, err := a.UserID(r); err != nil || uid != "u7" {
		t.Errorf("UserID = %q, %v", uid, err)
	}
}

func TestMiddleware(t *testing.T) {
	a := New("s3cret")
	var seen []string
	var rejected error
	h := a.Middleware(
		func(_ context.Context, uid string) { seen = append(seen, uid) },
		func(w http.ResponseWriter, err error) {
			rejected = err
			w.WriteHeader(http.StatusUnauthorized)
		},
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(UserFrom(r.Context())))
	}))

	token, _ := a.IssueToken("u1", time.Hour)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK || w.Body.String() != "u1" {
		t.Errorf("got %d %q", w.Code, w.Body.String())
	}
	if len(seen) != 1 || seen[0] != "u1" {
		t.Errorf("onUser calls = %v", seen)
	}

	// Header mode is off while a secret is configured.
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(UserHeader, "u1")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized || !errors.Is(rejected, ErrMissingCredentials) {
		t.Errorf("got %d, rejected = %v", w.Code, rejected)
	}
}
