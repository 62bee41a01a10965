package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"socialauth/internal/accounts"
	"socialauth/internal/auth"
	"socialauth/internal/config"
	"socialauth/internal/platform/metrics"
	"socialauth/internal/token"
)

const testFrontendURL = "http://frontend.test"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct {
	kind      accounts.ProviderKind
	identity  auth.ExternalIdentity
	err       error
	lastState string
	lastCode  string
}

func (f *fakeProvider) Kind() accounts.ProviderKind {
	return f.kind
}

func (f *fakeProvider) AuthURL(state string) string {
	f.lastState = state
	return "https://idp.test/" + string(f.kind) + "/authorize?state=" + state
}

func (f *fakeProvider) Exchange(_ context.Context, code string) (auth.ExternalIdentity, error) {
	f.lastCode = code
	if f.err != nil {
		return auth.ExternalIdentity{}, f.err
	}
	return f.identity, nil
}

type testServer struct {
	store     *accounts.MemoryStore
	engine    *auth.Engine
	gateway   *auth.Gateway
	tokens    *token.Service
	providers *auth.Registry
	metrics   *metrics.Metrics
	handler   http.Handler
}

func newTestServer(t *testing.T, allowlist auth.Allowlist, providers ...auth.Provider) *testServer {
	t.Helper()
	tokens, err := token.NewService(token.Config{
		Secret:     []byte("http-test-secret-0123456789abcdef"),
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("token.NewService: %v", err)
	}

	m := metrics.New()
	store := accounts.NewMemoryStore()
	engine := auth.NewEngine(store, auth.WithReconcileObserver(func(kind accounts.ProviderKind, outcome auth.Outcome) {
		m.ObserveReconcile(string(kind), string(outcome))
	}))
	gateway := auth.NewGateway(store, engine, tokens, auth.NewMemoryLinkStore(),
		auth.WithVerificationObserver(func(purpose token.Purpose, ok bool) {
			m.ObserveVerification(string(purpose), ok)
		}),
	)
	registry := auth.NewRegistry(providers...)

	cfg := config.Config{
		Environment:    "development",
		AllowedOrigins: []string{testFrontendURL},
		FrontendURL:    testFrontendURL,
	}
	deps := Dependencies{
		Engine:    engine,
		Gateway:   gateway,
		Providers: registry,
		Allowlist: allowlist,
		Metrics:   m,
	}

	return &testServer{
		store:     store,
		engine:    engine,
		gateway:   gateway,
		tokens:    tokens,
		providers: registry,
		metrics:   m,
		handler:   NewRouter(cfg, deps, newTestLogger()),
	}
}

// signIn reconciles identity and returns the resulting account and token pair.
func (s *testServer) signIn(t *testing.T, identity auth.ExternalIdentity) (accounts.Account, token.Pair) {
	t.Helper()
	account, _, err := s.engine.Reconcile(context.Background(), identity)
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	pair, err := s.gateway.CompleteLogin(account)
	if err != nil {
		t.Fatalf("CompleteLogin returned error: %v", err)
	}
	return account, pair
}

func (s *testServer) do(t *testing.T, method, target, accessToken, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

// requestLink starts a pending link and returns the redirect URL with the
// cookie binding it to the requesting browser.
func (s *testServer) requestLink(t *testing.T, accessToken string, kind accounts.ProviderKind) (string, *http.Cookie) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/link/"+string(kind), accessToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Success     bool   `json:"success"`
		RedirectURL string `json:"redirectUrl"`
	}
	decodeBody(t, rec, &body)
	if !body.Success || body.RedirectURL == "" {
		t.Fatalf("unexpected link response %s", rec.Body.String())
	}
	cookie := findCookie(rec, linkCookieName)
	if cookie == nil {
		t.Fatal("expected link cookie on link response")
	}
	return body.RedirectURL, cookie
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func googleIdentity(id, email string) auth.ExternalIdentity {
	return auth.ExternalIdentity{
		Kind:          accounts.ProviderGoogle,
		ProviderID:    id,
		Email:         email,
		DisplayName:   "Google User",
		EmailVerified: true,
	}
}

func githubIdentity(id, email string) auth.ExternalIdentity {
	return auth.ExternalIdentity{
		Kind:        accounts.ProviderGitHub,
		ProviderID:  id,
		Email:       email,
		DisplayName: "octocat",
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func expectErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	var body errorResponse
	decodeBody(t, rec, &body)
	if body.Code != code {
		t.Fatalf("expected code %q, got %q", code, body.Code)
	}
}

// encodeOAuthState creates a base64-encoded JSON state payload for testing
func encodeOAuthState(payload oauthStatePayload) string {
	data, _ := json.Marshal(payload)
	return base64.RawURLEncoding.EncodeToString(data)
}
