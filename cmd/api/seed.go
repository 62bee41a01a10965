package main

import (
	"context"
	"log/slog"
	"os"

	"socialauth/internal/accounts"
	"socialauth/internal/auth"
)

const (
	demoEmail           = "demo@example.com"
	demoDisplayName     = "Demo User"
	defaultDemoPassword = "development-password"
)

// seedDevelopmentAccount creates a password-only demo account so the local
// sign-in flow works without any OAuth client configured.
func seedDevelopmentAccount(ctx context.Context, gateway *auth.Gateway, store accounts.Store, logger *slog.Logger) {
	password := os.Getenv("DEV_SEED_PASSWORD")
	if password == "" {
		password = defaultDemoPassword
	}

	account, err := store.Create(ctx, accounts.Account{
		Email:           demoEmail,
		DisplayName:     demoDisplayName,
		IsEmailVerified: true,
	})
	if err != nil {
		logger.Warn("skipping demo account seed", "error", err)
		return
	}
	if _, err := gateway.SetPassword(ctx, account.ID, password); err != nil {
		logger.Warn("failed to set demo password", "error", err)
		return
	}
	logger.Info("seeded demo account", "email", demoEmail)
}
