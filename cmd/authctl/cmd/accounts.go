package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"socialauth/internal/accounts"
	"socialauth/internal/platform/database"
)

// errMemoryStore is returned when the CLI is pointed at the in-memory store,
// which only lives inside the API process.
var errMemoryStore = errors.New("accounts commands need DATA_STORE=postgres")

func newAccountsCmd() *cobra.Command {
	accountsCmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect stored accounts",
	}

	accountsCmd.AddCommand(&cobra.Command{
		Use:   "show <email|id>",
		Short: "Print an account's public profile and linked providers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.UseInMemoryStore() {
				return errMemoryStore
			}
			db, err := database.NewPostgres(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			account, err := findAccount(cmd, accounts.NewPostgresStore(db), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(account.Public())
		},
	})

	return accountsCmd
}

func findAccount(cmd *cobra.Command, store accounts.Store, key string) (*accounts.Account, error) {
	var (
		account *accounts.Account
		err     error
	)
	if id, parseErr := uuid.Parse(key); parseErr == nil {
		account, err = store.FindByID(cmd.Context(), id)
	} else {
		account, err = store.FindByEmail(cmd.Context(), key)
	}
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("%w: %s", accounts.ErrNotFound, key)
	}
	return account, nil
}
