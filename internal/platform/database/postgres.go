package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const (
	connectAttempts = 5
	connectBackoff  = time.Second
)

// NewPostgres opens the account store pool. The first connection is retried
// with a linear backoff so the API can start alongside a database container
// that is still accepting its first connections.
func NewPostgres(ctx context.Context, url string) (*sqlx.DB, error) {
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		db, err := sqlx.ConnectContext(ctx, "postgres", url)
		if err == nil {
			configurePool(db)
			return db, nil
		}
		lastErr = err

		if attempt == connectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect postgres: %w", ctx.Err())
		case <-time.After(time.Duration(attempt) * connectBackoff):
		}
	}
	return nil, fmt.Errorf("connect postgres after %d attempts: %w", connectAttempts, lastErr)
}

// Account lookups are short single-row queries; a small pool is enough.
func configurePool(db *sqlx.DB) {
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
}
