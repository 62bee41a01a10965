package http

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"socialauth/internal/accounts"
	"socialauth/internal/auth"
)

type profileBody struct {
	Success bool                   `json:"success"`
	User    accounts.PublicProfile `json:"user"`
}

func TestUpdateProfile(t *testing.T) {
	s := newTestServer(t, auth.Allowlist{})
	_, pair := s.signIn(t, googleIdentity("g-1", "user@example.com"))

	rec := s.do(t, http.MethodPut, "/api/user/profile", pair.AccessToken, `{"name":"  New Name  ","avatar":"https://img.test/a.png"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body profileBody
	decodeBody(t, rec, &body)
	if body.User.Name != "New Name" || body.User.Avatar != "https://img.test/a.png" {
		t.Fatalf("unexpected profile %+v", body.User)
	}

	rec = s.do(t, http.MethodGet, "/api/user/profile", pair.AccessToken, "")
	decodeBody(t, rec, &body)
	if body.User.Name != "New Name" {
		t.Fatalf("expected update to persist, got %+v", body.User)
	}
}

func TestUpdateProfileRejectsBlankName(t *testing.T) {
	s := newTestServer(t, auth.Allowlist{})
	_, pair := s.signIn(t, googleIdentity("g-1", "user@example.com"))

	rec := s.do(t, http.MethodPut, "/api/user/profile", pair.AccessToken, `{"name":"   "}`)

	expectErrorCode(t, rec, http.StatusBadRequest, "INVALID_PROFILE")
}

func TestUpdateProfileRejectsUnknownFields(t *testing.T) {
	s := newTestServer(t, auth.Allowlist{})
	_, pair := s.signIn(t, googleIdentity("g-1", "user@example.com"))

	rec := s.do(t, http.MethodPut, "/api/user/profile", pair.AccessToken, `{"email":"evil@example.com"}`)

	expectErrorCode(t, rec, http.StatusBadRequest, "INVALID_REQUEST")
}

func TestUserProviders(t *testing.T) {
	s := newTestServer(t, auth.Allowlist{})
	s.signIn(t, googleIdentity("g-1", "user@example.com"))
	_, pair := s.signIn(t, githubIdentity("42", "user@example.com"))

	rec := s.do(t, http.MethodGet, "/api/user/providers", pair.AccessToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var body struct {
		Providers []auth.ProviderStatus `json:"providers"`
	}
	decodeBody(t, rec, &body)
	if len(body.Providers) != 2 {
		t.Fatalf("expected two providers, got %+v", body.Providers)
	}
	for _, p := range body.Providers {
		if !p.CanUnlink {
			t.Fatalf("expected %s to be unlinkable with two links", p.Kind)
		}
		if p.ConnectedAt.IsZero() {
			t.Fatalf("expected connectedAt for %s", p.Kind)
		}
	}
}

func TestSetPasswordEnablesLocalLoginAndUnlink(t *testing.T) {
	s := newTestServer(t, auth.Allowlist{})
	_, pair := s.signIn(t, googleIdentity("g-1", "user@example.com"))

	expectErrorCode(t, s.do(t, http.MethodPut, "/api/user/password", pair.AccessToken, `{"password":"short"}`), http.StatusBadRequest, "WEAK_PASSWORD")

	rec := s.do(t, http.MethodPut, "/api/user/password", pair.AccessToken, `{"password":"long enough"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body profileBody
	decodeBody(t, rec, &body)
	if !body.User.HasPassword {
		t.Fatal("expected hasPassword after setting a password")
	}

	rec = s.do(t, http.MethodDelete, "/api/auth/unlink/google", pair.AccessToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected unlink to succeed with a local credential, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/api/auth/local", "", `{"email":"user@example.com","password":"long enough"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected password login to succeed, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDeleteAccount(t *testing.T) {
	s := newTestServer(t, auth.Allowlist{})
	account, pair := s.signIn(t, googleIdentity("g-1", "user@example.com"))

	rec := s.do(t, http.MethodDelete, "/api/user/account", pair.AccessToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Account deleted successfully") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if stored, _ := s.store.FindByID(context.Background(), account.ID); stored != nil {
		t.Fatal("expected account to be removed")
	}

	// The token still verifies but its account is gone.
	expectErrorCode(t, s.do(t, http.MethodGet, "/api/user/profile", pair.AccessToken, ""), http.StatusNotFound, "ACCOUNT_NOT_FOUND")
	expectErrorCode(t, s.do(t, http.MethodDelete, "/api/user/account", pair.AccessToken, ""), http.StatusNotFound, "ACCOUNT_NOT_FOUND")
}

func TestUserRoutesRequireToken(t *testing.T) {
	s := newTestServer(t, auth.Allowlist{})

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/user/profile"},
		{http.MethodPut, "/api/user/profile"},
		{http.MethodGet, "/api/user/providers"},
		{http.MethodPut, "/api/user/password"},
		{http.MethodDelete, "/api/user/account"},
	} {
		expectErrorCode(t, s.do(t, route.method, route.path, "", ""), http.StatusUnauthorized, "NO_TOKEN")
	}
}
