package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"socialauth/internal/accounts"
)

const testIssuer = "https://issuer.test"

type idTokenServer struct {
	key    *rsa.PrivateKey
	claims jwt.MapClaims
}

func newIDTokenServer(t *testing.T, claims jwt.MapClaims) (*httptest.Server, *idTokenServer) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s := &idTokenServer{key: key, claims: claims}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil || r.Form.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		idToken, err := jwt.NewWithClaims(jwt.SigningMethodRS256, s.claims).SignedString(s.key)
		if err != nil {
			t.Errorf("sign id_token: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "provider-access",
			"refresh_token": "provider-refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"id_token":      idToken,
		})
	}))
	t.Cleanup(srv.Close)
	return srv, s
}

func testOAuthConfig(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://issuer.test/auth",
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func testVerifier(key *rsa.PrivateKey) *oidc.IDTokenVerifier {
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	return oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: "client-id"})
}

func baseClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": testIssuer,
		"aud": "client-id",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

func TestGoogleExchangeMapsClaims(t *testing.T) {
	claims := baseClaims()
	claims["sub"] = "g-123"
	claims["email"] = "Ada@Example.com"
	claims["email_verified"] = true
	claims["name"] = "Ada Lovelace"
	claims["picture"] = "https://img.test/ada.png"
	srv, s := newIDTokenServer(t, claims)

	provider := newGoogleProvider(testOAuthConfig(srv.URL+"/token"), testVerifier(s.key))
	identity, err := provider.Exchange(context.Background(), "good-code")
	if err != nil {
		t.Fatalf("Exchange returned error: %v", err)
	}

	if identity.Kind != accounts.ProviderGoogle || identity.ProviderID != "g-123" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if identity.Email != "Ada@Example.com" || !identity.EmailVerified || identity.DisplayName != "Ada Lovelace" {
		t.Fatalf("unexpected profile fields: %+v", identity)
	}
	if identity.AvatarURL != "https://img.test/ada.png" {
		t.Fatalf("unexpected avatar %q", identity.AvatarURL)
	}
	if identity.AuxData["accessToken"] != "provider-access" || identity.AuxData["refreshToken"] != "provider-refresh" {
		t.Fatalf("expected provider tokens in aux data, got %+v", identity.AuxData)
	}
	profile, ok := identity.AuxData["profile"].(map[string]any)
	if !ok || profile["sub"] != "g-123" {
		t.Fatalf("expected raw profile in aux data, got %+v", identity.AuxData["profile"])
	}
}

func TestAzureExchangeUsesObjectIDAndFallbackEmail(t *testing.T) {
	claims := baseClaims()
	claims["sub"] = "pairwise-sub"
	claims["oid"] = "00000000-0000-0000-0000-0000000000aa"
	claims["preferred_username"] = "grace@contoso.test"
	claims["name"] = "Grace Hopper"
	srv, s := newIDTokenServer(t, claims)

	provider := newAzureProvider(testOAuthConfig(srv.URL+"/token"), testVerifier(s.key))
	identity, err := provider.Exchange(context.Background(), "good-code")
	if err != nil {
		t.Fatalf("Exchange returned error: %v", err)
	}

	if identity.Kind != accounts.ProviderAzure || identity.ProviderID != "00000000-0000-0000-0000-0000000000aa" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if identity.Email != "grace@contoso.test" || !identity.EmailVerified {
		t.Fatalf("expected preferred_username as verified email, got %+v", identity)
	}
	if identity.AvatarURL != "" {
		t.Fatalf("expected no avatar, got %q", identity.AvatarURL)
	}
}

func TestOIDCExchangeRejectsWrongAudience(t *testing.T) {
	claims := baseClaims()
	claims["aud"] = "someone-else"
	claims["sub"] = "g-123"
	srv, s := newIDTokenServer(t, claims)

	provider := newGoogleProvider(testOAuthConfig(srv.URL+"/token"), testVerifier(s.key))
	_, err := provider.Exchange(context.Background(), "good-code")
	if err == nil || !strings.Contains(err.Error(), "verify id_token") {
		t.Fatalf("expected id_token verification failure, got %v", err)
	}
}

func TestOIDCExchangeRejectsBadCode(t *testing.T) {
	srv, s := newIDTokenServer(t, baseClaims())

	provider := newGoogleProvider(testOAuthConfig(srv.URL+"/token"), testVerifier(s.key))
	_, err := provider.Exchange(context.Background(), "bad-code")
	if err == nil || !strings.Contains(err.Error(), "token exchange") {
		t.Fatalf("expected token exchange failure, got %v", err)
	}
}
