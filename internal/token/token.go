package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultIssuer is stamped into every token and required on verification.
	DefaultIssuer = "social-auth-app"
	// DefaultAudience is stamped into every token and required on verification.
	DefaultAudience = "social-auth-users"

	defaultAccessTTL  = 7 * 24 * time.Hour
	defaultRefreshTTL = 30 * 24 * time.Hour

	minSecretBytes = 16
)

// ErrInvalidToken is returned for any verification failure. The underlying
// cause (signature, expiry, issuer, audience, purpose) is deliberately dropped.
var ErrInvalidToken = errors.New("invalid token")

// Purpose distinguishes access tokens from refresh tokens.
type Purpose string

const (
	PurposeAccess  Purpose = "access"
	PurposeRefresh Purpose = "refresh"
)

// Subject is the account snapshot embedded into an access token.
type Subject struct {
	AccountID     uuid.UUID
	Email         string
	DisplayName   string
	ProviderKinds []string
}

// Claims are the JWT claims issued by the Service.
type Claims struct {
	Email         string   `json:"email,omitempty"`
	DisplayName   string   `json:"name,omitempty"`
	ProviderKinds []string `json:"providers,omitempty"`
	Purpose       Purpose  `json:"typ"`
	jwt.RegisteredClaims
}

// AccountID parses the subject claim.
func (c *Claims) AccountID() uuid.UUID {
	id, _ := uuid.Parse(c.Subject)
	return id
}

// Identity returns the account snapshot carried by the claims.
func (c *Claims) Identity() Subject {
	return Subject{
		AccountID:     c.AccountID(),
		Email:         c.Email,
		DisplayName:   c.DisplayName,
		ProviderKinds: append([]string(nil), c.ProviderKinds...),
	}
}

// Pair is the token bundle handed to clients after a login or refresh.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}

// Config holds the signing key and token lifetimes.
type Config struct {
	Secret     []byte
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Service issues and verifies HS256-signed tokens. It holds no mutable state
// and is safe for concurrent use.
type Service struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for issuing and verifying tokens.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService validates the configuration and returns a Service.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	if len(cfg.Secret) < minSecretBytes {
		return nil, fmt.Errorf("token: signing secret must be at least %d bytes", minSecretBytes)
	}

	s := &Service{
		secret:     append([]byte(nil), cfg.Secret...),
		issuer:     strings.TrimSpace(cfg.Issuer),
		audience:   strings.TrimSpace(cfg.Audience),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}
	if s.issuer == "" {
		s.issuer = DefaultIssuer
	}
	if s.audience == "" {
		s.audience = DefaultAudience
	}
	if s.accessTTL <= 0 {
		s.accessTTL = defaultAccessTTL
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = defaultRefreshTTL
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AccessTTL reports the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration {
	return s.accessTTL
}

// IssueAccessToken signs an access token for the given subject.
func (s *Service) IssueAccessToken(sub Subject) (string, error) {
	if sub.AccountID == uuid.Nil {
		return "", errors.New("token: account id is required")
	}
	claims := Claims{
		Email:            sub.Email,
		DisplayName:      sub.DisplayName,
		ProviderKinds:    append([]string(nil), sub.ProviderKinds...),
		Purpose:          PurposeAccess,
		RegisteredClaims: s.registered(sub.AccountID, s.accessTTL),
	}
	return s.sign(claims)
}

// IssueRefreshToken signs a refresh token. Refresh tokens carry only the
// account id and purpose.
func (s *Service) IssueRefreshToken(accountID uuid.UUID) (string, error) {
	if accountID == uuid.Nil {
		return "", errors.New("token: account id is required")
	}
	claims := Claims{
		Purpose:          PurposeRefresh,
		RegisteredClaims: s.registered(accountID, s.refreshTTL),
	}
	return s.sign(claims)
}

// IssuePair issues an access and refresh token for the subject.
func (s *Service) IssuePair(sub Subject) (Pair, error) {
	access, err := s.IssueAccessToken(sub)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := s.IssueRefreshToken(sub.AccountID)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL / time.Second),
		TokenType:    "Bearer",
	}, nil
}

// Verify checks signature, algorithm, expiry, issuer and audience and returns
// the claims. Any failure yields ErrInvalidToken.
func (s *Service) Verify(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, ErrInvalidToken
	}
	switch claims.Purpose {
	case PurposeAccess, PurposeRefresh:
	default:
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyAccess verifies the token and requires the access purpose.
func (s *Service) VerifyAccess(raw string) (*Claims, error) {
	return s.verifyPurpose(raw, PurposeAccess)
}

// VerifyRefresh verifies the token and requires the refresh purpose.
func (s *Service) VerifyRefresh(raw string) (*Claims, error) {
	return s.verifyPurpose(raw, PurposeRefresh)
}

func (s *Service) verifyPurpose(raw string, want Purpose) (*Claims, error) {
	claims, err := s.Verify(raw)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != want {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) registered(accountID uuid.UUID, ttl time.Duration) jwt.RegisteredClaims {
	now := s.now().UTC()
	return jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   accountID.String(),
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
}

func (s *Service) sign(claims Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
