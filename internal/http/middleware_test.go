package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"socialauth/internal/auth"
	"socialauth/internal/token"
)

type authenticatorStub struct {
	authenticate func(header string) (*token.Claims, error)
}

func (s *authenticatorStub) Authenticate(header string) (*token.Claims, error) {
	return s.authenticate(header)
}

func (s *authenticatorStub) AuthenticateOptional(header string) *token.Claims {
	claims, err := s.authenticate(header)
	if err != nil {
		return nil
	}
	return claims
}

func claimsFor(id uuid.UUID) *token.Claims {
	return &token.Claims{
		Email:            "user@example.com",
		Purpose:          token.PurposeAccess,
		RegisteredClaims: jwt.RegisteredClaims{Subject: id.String()},
	}
}

func TestBearerAuthMiddlewareRejectsMissingToken(t *testing.T) {
	stub := &authenticatorStub{authenticate: func(string) (*token.Claims, error) {
		return nil, auth.ErrNoToken
	}}
	next := newBearerAuthMiddleware(stub, newTestLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	rec := httptest.NewRecorder()
	next.ServeHTTP(rec, req)

	expectErrorCode(t, rec, http.StatusUnauthorized, "NO_TOKEN")
	if rec.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("expected WWW-Authenticate header, got %q", rec.Header().Get("WWW-Authenticate"))
	}
}

func TestBearerAuthMiddlewareRejectsInvalidToken(t *testing.T) {
	stub := &authenticatorStub{authenticate: func(string) (*token.Claims, error) {
		return nil, auth.ErrInvalidToken
	}}
	next := newBearerAuthMiddleware(stub, newTestLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rec := httptest.NewRecorder()
	next.ServeHTTP(rec, req)

	expectErrorCode(t, rec, http.StatusForbidden, "INVALID_TOKEN")
}

func TestBearerAuthMiddlewareInjectsClaims(t *testing.T) {
	id := uuid.New()
	var gotHeader string
	stub := &authenticatorStub{authenticate: func(header string) (*token.Claims, error) {
		gotHeader = header
		return claimsFor(id), nil
	}}
	next := newBearerAuthMiddleware(stub, newTestLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil || claims.AccountID() != id {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	next.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if gotHeader != "Bearer good" {
		t.Fatalf("expected raw header to be passed through, got %q", gotHeader)
	}
}

func TestOptionalAuthMiddlewareAllowsAnonymous(t *testing.T) {
	stub := &authenticatorStub{authenticate: func(string) (*token.Claims, error) {
		return nil, auth.ErrInvalidToken
	}}
	var sawClaims bool
	next := newOptionalAuthMiddleware(stub)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawClaims = ClaimsFromContext(r.Context()) != nil
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/providers", nil)
	req.Header.Set("Authorization", "Bearer expired")
	rec := httptest.NewRecorder()
	next.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if sawClaims {
		t.Fatal("expected no claims for an invalid token")
	}
}

func TestOptionalAuthMiddlewareAttachesClaims(t *testing.T) {
	id := uuid.New()
	stub := &authenticatorStub{authenticate: func(string) (*token.Claims, error) {
		return claimsFor(id), nil
	}}
	var got uuid.UUID
	next := newOptionalAuthMiddleware(stub)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims := ClaimsFromContext(r.Context()); claims != nil {
			got = claims.AccountID()
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/providers", nil)
	req.Header.Set("Authorization", "Bearer good")
	next.ServeHTTP(httptest.NewRecorder(), req)

	if got != id {
		t.Fatalf("expected claims for %s, got %s", id, got)
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	handler := newSecurityHeadersMiddleware("production")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"Cache-Control":             "no-store",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("expected %s=%q, got %q", header, want, got)
		}
	}

	rec = httptest.NewRecorder()
	newSecurityHeadersMiddleware("development")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Fatal("expected no HSTS header in development")
	}
}
