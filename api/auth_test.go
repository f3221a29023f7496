package api

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

func TestBearerTokenFromStringSuccess(t *testing.T) {
	token, err := bearerTokenFromString("  Bearer header.payload.signature ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(token) != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", string(token))
	}
}

func TestBearerTokenFromStringRejects(t *testing.T) {
	manyDots := "Bearer " + strings.Repeat(".", 1000)
	cases := map[string]string{
		"":                  "missing authorization header",
		"   ":               "missing authorization header",
		"Basic abc.def.ghi": "bad auth header",
		"Bearer nodots":     "bad auth header",
		manyDots:            "bad auth header",
	}
	for header, want := range cases {
		if _, err := bearerTokenFromString(header); err == nil || err.Error() != want {
			t.Fatalf("%q: expected %q, got %v", header, want, err)
		}
	}
}

func TestAuthHeaderFallsBackToCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := authHeader(req); got != "" {
		t.Fatalf("expected empty header, got %q", got)
	}
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "a.b.c"})
	if got := authHeader(req); got != "Bearer a.b.c" {
		t.Fatalf("unexpected cookie header %q", got)
	}
	req.Header.Set(echo.HeaderAuthorization, "Bearer x.y.z")
	if got := authHeader(req); got != "Bearer x.y.z" {
		t.Fatalf("expected Authorization header to win, got %q", got)
	}
}

func TestIssueTokenRoundTrip(t *testing.T) {
	auth := NewAuth(AuthConfig{Secret: []byte("test-secret"), SessionTTL: time.Hour})
	signed, err := auth.IssueToken("user-123", "ada@example.com")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	userID, err := auth.UserIDFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}

	other := NewAuth(AuthConfig{Secret: []byte("other-secret")})
	if _, err := other.UserIDFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatal("expected token signed with another secret to be rejected")
	}
	if _, err := auth.UserIDFromAuthHeader(""); err != errMissingAuthorization {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestUserIDFromBearerRejectsInvalidClaims(t *testing.T) {
	secret := []byte("test-secret")
	auth := NewAuth(AuthConfig{Secret: secret})
	now := time.Now()
	cases := map[string]jwt.MapClaims{
		"expired":    {"sub": "u", "exp": now.Add(-time.Hour).Unix()},
		"no expiry":  {"sub": "u"},
		"future nbf": {"sub": "u", "exp": now.Add(time.Hour).Unix(), "nbf": now.Add(time.Hour).Unix()},
		"no subject": {"exp": now.Add(time.Hour).Unix()},
	}
	for name, claims := range cases {
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		if err != nil {
			t.Fatalf("%s: sign: %v", name, err)
		}
		if _, err := auth.UserIDFromBearer([]byte(signed)); err == nil {
			t.Fatalf("%s: expected token to be rejected", name)
		}
	}
}

func TestUserIDFromBearerRS256WithJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwks := keyfunc.NewGiven(map[string]keyfunc.GivenKey{"kid-1": keyfunc.NewGivenRSA(&key.PublicKey)})

	sign := func(claims jwt.MapClaims) string {
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = "kid-1"
		signed, err := token.SignedString(key)
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		return signed
	}
	claims := jwt.MapClaims{
		"sub": "user-rsa",
		"aud": "api://aud",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}

	withoutJWKS := NewAuth(AuthConfig{Secret: []byte("s")})
	if _, err := withoutJWKS.UserIDFromBearer([]byte(sign(claims))); err == nil {
		t.Fatal("expected RS256 token to be rejected without JWKS")
	}

	auth := NewAuth(AuthConfig{Secret: []byte("s"), JWKS: jwks, Audience: "api://aud", Issuer: "https://issuer/"})
	for i := 0; i < 2; i++ {
		userID, err := auth.UserIDFromBearer([]byte(sign(claims)))
		if err != nil {
			t.Fatalf("unexpected error verifying token: %v", err)
		}
		if userID != "user-rsa" {
			t.Fatalf("unexpected user id: %s", userID)
		}
	}
	if _, ok := auth.keyCache.Load("kid-1"); !ok {
		t.Fatal("expected key to be cached")
	}

	claims["aud"] = "api://other"
	if _, err := auth.UserIDFromBearer([]byte(sign(claims))); err == nil || err.Error() != "invalid audience" {
		t.Fatalf("expected audience mismatch, got %v", err)
	}
}

func TestNewAuthRequiresSecret(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic without secret")
		}
	}()
	NewAuth(AuthConfig{})
}
