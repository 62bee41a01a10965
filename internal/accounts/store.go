package accounts

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store defines account persistence. Lookups return (nil, nil) when nothing
// matches. Every operation is atomic for a single account.
type Store interface {
	FindByProvider(ctx context.Context, kind ProviderKind, providerID string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// Create assigns the id and timestamps. Email uniqueness is enforced by
	// the store itself and reported as ErrDuplicateEmail.
	Create(ctx context.Context, account Account) (Account, error)
	// Save persists mutations and refreshes UpdatedAt. UpdatedAt doubles as
	// the revision: saving a copy whose UpdatedAt no longer matches the stored
	// account fails with ErrConflict.
	Save(ctx context.Context, account Account) (Account, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// stamp truncates to the precision Postgres keeps, so a revision read back
// from the database compares equal to the one written.
func stamp(now time.Time) time.Time {
	return now.UTC().Truncate(time.Microsecond)
}

// nextRevision is the UpdatedAt for a save following prev. It is strictly
// later than prev even when the clock has not moved.
func nextRevision(now, prev time.Time) time.Time {
	next := stamp(now)
	if !next.After(prev) {
		next = prev.Add(time.Microsecond)
	}
	return next
}
