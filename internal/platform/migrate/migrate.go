package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"socialauth/migrations"
)

// adoption maps each embedded migration to the table it creates. A database
// whose schema was applied by hand is stamped with the highest contiguous
// version whose table already exists, so goose only runs what is missing.
var adoption = []struct {
	version int64
	table   string
}{
	{version: 1, table: "accounts"},
	{version: 2, table: "account_providers"},
}

func prepare(logger *slog.Logger) error {
	goose.SetBaseFS(migrations.Files)
	goose.SetLogger(newGooseLogger(logger))
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrate: set goose dialect: %w", err)
	}
	return nil
}

// Apply runs any pending SQL migrations bundled with the binary.
func Apply(ctx context.Context, db *sqlx.DB, logger *slog.Logger) error {
	if err := prepare(logger); err != nil {
		return err
	}
	if err := adoptExistingSchema(ctx, db.DB, logger); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db.DB, "."); err != nil {
		return fmt.Errorf("migrate: goose up: %w", err)
	}
	return nil
}

// Version reports the latest applied migration version.
func Version(ctx context.Context, db *sqlx.DB, logger *slog.Logger) (int64, error) {
	if err := prepare(logger); err != nil {
		return 0, err
	}
	version, err := goose.GetDBVersionContext(ctx, db.DB)
	if err != nil {
		return 0, fmt.Errorf("migrate: read version: %w", err)
	}
	return version, nil
}

// Pending lists the embedded migrations newer than the applied version.
func Pending(ctx context.Context, db *sqlx.DB, logger *slog.Logger) ([]string, error) {
	current, err := Version(ctx, db, logger)
	if err != nil {
		return nil, err
	}
	return pendingAfter(current)
}

func pendingAfter(current int64) ([]string, error) {
	all, err := goose.CollectMigrations(".", 0, goose.MaxVersion)
	if err != nil {
		return nil, fmt.Errorf("migrate: collect migrations: %w", err)
	}
	var pending []string
	for _, m := range all {
		if m.Version > current {
			pending = append(pending, m.Source)
		}
	}
	return pending, nil
}

func adoptExistingSchema(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	var adopt int64
	for _, step := range adoption {
		exists, err := tableExists(ctx, db, step.table)
		if err != nil {
			return fmt.Errorf("migrate: check %s: %w", step.table, err)
		}
		if !exists {
			break
		}
		adopt = step.version
	}
	if adopt == 0 {
		return nil
	}

	if _, err := goose.EnsureDBVersionContext(ctx, db); err != nil {
		return fmt.Errorf("migrate: ensure goose table: %w", err)
	}
	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("migrate: check goose version: %w", err)
	}
	if current >= adopt {
		return nil
	}

	for v := current + 1; v <= adopt; v++ {
		if err := insertVersion(ctx, db, v); err != nil {
			return fmt.Errorf("migrate: adopt version %d: %w", v, err)
		}
	}
	if logger != nil {
		logger.Info("adopted existing schema", "from", current, "to", adopt)
	}
	return nil
}

// tableExists resolves name through the search_path; schema-qualified names
// are accepted as-is.
func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, name).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func insertVersion(ctx context.Context, db *sql.DB, version int64) error {
	query := fmt.Sprintf(`INSERT INTO %s (version_id, is_applied) VALUES ($1, TRUE)`, goose.TableName())
	_, err := db.ExecContext(ctx, query, version)
	return err
}
