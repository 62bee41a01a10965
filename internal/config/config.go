package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"socialauth/internal/token"
)

const (
	developmentJWTSecret  = "development-only-signing-secret"
	minProductionSecret   = 32
	defaultFrontendURL    = "http://localhost:3000"
	defaultAccessTokenTTL = 7 * 24 * time.Hour
	defaultRefreshTTL     = 30 * 24 * time.Hour
	defaultLinkTTL        = 10 * time.Minute
)

// ProviderConfig holds the OAuth client settings for one external provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// Enabled reports whether the provider has enough settings to be offered.
func (p ProviderConfig) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

// Config aggregates runtime configuration for the authentication service.
type Config struct {
	Environment    string
	HTTPPort       int
	DatabaseURL    string
	DataStore      string
	LogLevel       string
	LogFormat      string
	AllowedOrigins []string
	FrontendURL    string

	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	LinkStore     string
	LinkTTL       time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AllowedEmails  []string
	AllowedDomains []string

	Google      ProviderConfig
	GitHub      ProviderConfig
	Azure       ProviderConfig
	AzureTenant string
}

// providerEnv holds the raw env values that need no secret indirection.
type providerEnv struct {
	APIURL            string `env:"API_URL"`
	JWTIssuer         string `env:"JWT_ISSUER"`
	JWTAudience       string `env:"JWT_AUDIENCE"`
	LogFormat         string `env:"LOG_FORMAT"          envDefault:"text"`
	LinkStore         string `env:"LINK_STORE"          envDefault:"memory"`
	RedisAddr         string `env:"REDIS_ADDR"          envDefault:"localhost:6379"`
	RedisDB           int    `env:"REDIS_DB"            envDefault:"0"`
	GoogleClientID    string `env:"GOOGLE_CLIENT_ID"`
	GoogleCallbackURL string `env:"GOOGLE_CALLBACK_URL"`
	GitHubClientID    string `env:"GITHUB_CLIENT_ID"`
	GitHubCallbackURL string `env:"GITHUB_CALLBACK_URL"`
	AzureClientID     string `env:"AZURE_CLIENT_ID"`
	AzureCallbackURL  string `env:"AZURE_CALLBACK_URL"`
	AzureTenantID     string `env:"AZURE_TENANT_ID"     envDefault:"common"`
}

// Load reads configuration from environment variables with sensible defaults for local development.
func Load() (Config, error) {
	var raw providerEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}

	databaseURL, err := getEnvOrFile("DATABASE_URL", "/run/secrets/socialauth_database_url")
	if err != nil {
		return Config{}, err
	}
	jwtSecret, err := getEnvOrFile("JWT_SECRET", "/run/secrets/socialauth_jwt_secret")
	if err != nil {
		return Config{}, err
	}
	redisPassword, err := getEnvOrFile("REDIS_PASSWORD", "")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Environment:    getEnv("APP_ENV", "development"),
		DatabaseURL:    databaseURL,
		DataStore:      strings.ToLower(getEnv("DATA_STORE", "memory")),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(raw.LogFormat),
		AllowedOrigins: parseCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:8080")),
		FrontendURL:    strings.TrimSuffix(strings.TrimSpace(os.Getenv("FRONTEND_URL")), "/"),
		JWTSecret:      strings.TrimSpace(jwtSecret),
		JWTIssuer:      strings.TrimSpace(raw.JWTIssuer),
		JWTAudience:    strings.TrimSpace(raw.JWTAudience),
		LinkStore:      strings.ToLower(raw.LinkStore),
		RedisAddr:      raw.RedisAddr,
		RedisPassword:  redisPassword,
		RedisDB:        raw.RedisDB,
		AllowedEmails:  parseCSV(strings.ToLower(os.Getenv("ALLOWED_EMAILS"))),
		AllowedDomains: parseCSV(strings.ToLower(os.Getenv("ALLOWED_DOMAINS"))),
		AzureTenant:    strings.TrimSpace(raw.AzureTenantID),
	}

	portValue := getEnv("PORT", getEnv("HTTP_PORT", "8080"))
	port, err := strconv.Atoi(portValue)
	if err != nil {
		return Config{}, fmt.Errorf("invalid port %q: %w", portValue, err)
	}
	cfg.HTTPPort = port

	if cfg.AccessTokenTTL, err = durationEnv("AUTH_ACCESS_TOKEN_TTL", defaultAccessTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTokenTTL, err = durationEnv("AUTH_REFRESH_TOKEN_TTL", defaultRefreshTTL); err != nil {
		return Config{}, err
	}
	if cfg.LinkTTL, err = durationEnv("AUTH_LINK_TTL", defaultLinkTTL); err != nil {
		return Config{}, err
	}

	apiURL := strings.TrimSuffix(raw.APIURL, "/")
	if apiURL == "" {
		apiURL = fmt.Sprintf("http://localhost:%d", cfg.HTTPPort)
	}
	if cfg.Google, err = loadProvider("GOOGLE", raw.GoogleClientID, raw.GoogleCallbackURL, apiURL+"/api/auth/google/callback"); err != nil {
		return Config{}, err
	}
	if cfg.GitHub, err = loadProvider("GITHUB", raw.GitHubClientID, raw.GitHubCallbackURL, apiURL+"/api/auth/github/callback"); err != nil {
		return Config{}, err
	}
	if cfg.Azure, err = loadProvider("AZURE", raw.AzureClientID, raw.AzureCallbackURL, apiURL+"/api/auth/azure/callback"); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DataStore {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATA_STORE is postgres but DATABASE_URL is not set")
		}
	default:
		return fmt.Errorf("config: unknown DATA_STORE %q", c.DataStore)
	}

	switch c.LinkStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown LINK_STORE %q", c.LinkStore)
	}

	if c.IsDevelopment() {
		if c.JWTSecret == "" {
			c.JWTSecret = developmentJWTSecret
		}
		if c.FrontendURL == "" {
			c.FrontendURL = defaultFrontendURL
		}
		return nil
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required outside development")
	}
	if len(c.JWTSecret) < minProductionSecret {
		return fmt.Errorf("config: JWT_SECRET must be at least %d bytes outside development", minProductionSecret)
	}
	if c.FrontendURL == "" {
		return fmt.Errorf("config: FRONTEND_URL is required outside development")
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("config: ALLOWED_ORIGINS is required outside development")
	}
	for _, origin := range c.AllowedOrigins {
		if origin == "*" {
			return fmt.Errorf("config: ALLOWED_ORIGINS cannot contain a wildcard outside development")
		}
	}
	return nil
}

// HTTPAddress returns the address the HTTP server should bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// UseInMemoryStore returns true if the in-memory account store should be used.
func (c Config) UseInMemoryStore() bool {
	return c.DataStore == "memory"
}

// TokenConfig returns the signing settings for the token service.
func (c Config) TokenConfig() token.Config {
	return token.Config{
		Secret:     []byte(c.JWTSecret),
		Issuer:     c.JWTIssuer,
		Audience:   c.JWTAudience,
		AccessTTL:  c.AccessTokenTTL,
		RefreshTTL: c.RefreshTokenTTL,
	}
}

// IsDevelopment reports whether the service runs in development mode.
func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

func loadProvider(prefix, clientID, callbackURL, fallbackCallback string) (ProviderConfig, error) {
	secret, err := getEnvOrFile(prefix+"_CLIENT_SECRET", "")
	if err != nil {
		return ProviderConfig{}, err
	}
	p := ProviderConfig{
		ClientID:     strings.TrimSpace(clientID),
		ClientSecret: strings.TrimSpace(secret),
		CallbackURL:  strings.TrimSpace(callbackURL),
	}
	if p.CallbackURL == "" {
		p.CallbackURL = fallbackCallback
	}
	return p, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	d, err := ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

// ParseDuration accepts Go duration syntax plus a whole-day suffix such as "7d".
func ParseDuration(value string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid duration %q", value)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", value)
	}
	return d, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrFile(key, defaultPath string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}

	fileKey := key + "_FILE"
	if path := os.Getenv(fileKey); path != "" {
		return readSecret(path, fileKey)
	}

	if defaultPath != "" {
		return readSecret(defaultPath, key)
	}

	return "", nil
}

func readSecret(path, name string) (string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config: reading %s (%s): %w", name, path, err)
	}

	value := strings.TrimSpace(string(contents))
	if value == "" {
		return "", fmt.Errorf("config: %s (%s) is empty", name, path)
	}
	return value, nil
}
