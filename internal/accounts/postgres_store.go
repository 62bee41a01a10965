package accounts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	uniqueViolation          = "23505"
	emailUniqueConstraint    = "accounts_email_key"
	accountPrimaryKey        = "accounts_pkey"
	providerUniqueConstraint = "account_providers_identity_key"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

const accountColumns = `a.id, a.email, a.display_name, a.avatar_url, a.is_email_verified, a.password_hash, a.created_at, a.updated_at, a.last_login_at`

// FindByProvider looks up an account by provider kind and provider-scoped id.
func (s *PostgresStore) FindByProvider(ctx context.Context, kind ProviderKind, providerID string) (*Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts a
		JOIN account_providers p ON p.account_id = a.id
		WHERE p.provider_kind = $1 AND p.provider_id = $2
	`
	return s.findOne(ctx, query, string(kind), providerID)
}

// FindByEmail looks up an account by email, case-insensitively.
func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts a
		WHERE lower(a.email) = $1
	`
	return s.findOne(ctx, query, NormalizeEmail(email))
}

// FindByID looks up an account by id.
func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts a
		WHERE a.id = $1
	`
	return s.findOne(ctx, query, id)
}

// Create inserts a new account and its provider links in one transaction.
// The unique index on lower(email) decides races between concurrent creators.
func (s *PostgresStore) Create(ctx context.Context, account Account) (Account, error) {
	account = account.Clone()
	account.Email = NormalizeEmail(account.Email)
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	now := stamp(s.now())
	account.CreatedAt = now
	account.UpdatedAt = now
	if account.LastLoginAt.IsZero() {
		account.LastLoginAt = now
	}
	stampLinks(account.Providers, now)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Account{}, err
	}
	defer func() { _ = tx.Rollback() }()

	const insert = `
		INSERT INTO accounts (id, email, display_name, avatar_url, is_email_verified, password_hash, created_at, updated_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := tx.ExecContext(ctx, insert,
		account.ID,
		account.Email,
		account.DisplayName,
		account.AvatarURL,
		account.IsEmailVerified,
		nullString(account.PasswordHash),
		account.CreatedAt,
		account.UpdatedAt,
		account.LastLoginAt,
	); err != nil {
		return Account{}, translateError(err)
	}

	if err := insertLinks(ctx, tx, account.ID, account.Providers); err != nil {
		return Account{}, err
	}

	if err := tx.Commit(); err != nil {
		return Account{}, err
	}
	return account, nil
}

// Save updates the account row and rewrites its provider links. The row is
// locked first and its updated_at compared with the caller's copy.
func (s *PostgresStore) Save(ctx context.Context, account Account) (Account, error) {
	account = account.Clone()
	account.Email = NormalizeEmail(account.Email)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Account{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var current time.Time
	if err := tx.GetContext(ctx, &current, `SELECT updated_at FROM accounts WHERE id = $1 FOR UPDATE`, account.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	if !current.Equal(account.UpdatedAt) {
		return Account{}, ErrConflict
	}

	now := nextRevision(s.now(), current)
	account.UpdatedAt = now
	stampLinks(account.Providers, now)

	const update = `
		UPDATE accounts
		SET email = $2, display_name = $3, avatar_url = $4, is_email_verified = $5,
		    password_hash = $6, updated_at = $7, last_login_at = $8
		WHERE id = $1
		RETURNING created_at
	`
	var createdAt time.Time
	if err := tx.QueryRowxContext(ctx, update,
		account.ID,
		account.Email,
		account.DisplayName,
		account.AvatarURL,
		account.IsEmailVerified,
		nullString(account.PasswordHash),
		account.UpdatedAt,
		account.LastLoginAt,
	).Scan(&createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, translateError(err)
	}
	account.CreatedAt = createdAt

	if _, err := tx.ExecContext(ctx, `DELETE FROM account_providers WHERE account_id = $1`, account.ID); err != nil {
		return Account{}, err
	}
	if err := insertLinks(ctx, tx, account.ID, account.Providers); err != nil {
		return Account{}, err
	}

	if err := tx.Commit(); err != nil {
		return Account{}, err
	}
	return account, nil
}

// Delete removes an account; provider links cascade.
func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) findOne(ctx context.Context, query string, args ...any) (*Account, error) {
	var row accountRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	links, err := s.loadLinks(ctx, row.ID)
	if err != nil {
		return nil, err
	}

	account := row.toAccount()
	account.Providers = links
	return &account, nil
}

func (s *PostgresStore) loadLinks(ctx context.Context, accountID uuid.UUID) ([]ProviderLink, error) {
	const query = `
		SELECT provider_kind, provider_id, provider_data, linked_at
		FROM account_providers
		WHERE account_id = $1
		ORDER BY position
	`

	var rows []linkRow
	if err := s.db.SelectContext(ctx, &rows, query, accountID); err != nil {
		return nil, err
	}

	links := make([]ProviderLink, 0, len(rows))
	for _, row := range rows {
		link, err := row.toLink()
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, nil
}

func insertLinks(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID, links []ProviderLink) error {
	const insert = `
		INSERT INTO account_providers (account_id, provider_kind, provider_id, provider_data, position, linked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for i, link := range links {
		data, err := encodeData(link.Data)
		if err != nil {
			return fmt.Errorf("encode provider data: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insert, accountID, string(link.Kind), link.ProviderID, data, i, link.LinkedAt); err != nil {
			return translateError(err)
		}
	}
	return nil
}

// translateError maps unique-index violations onto store sentinels.
func translateError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return err
	}
	switch pqErr.Constraint {
	case emailUniqueConstraint, accountPrimaryKey:
		return ErrDuplicateEmail
	case providerUniqueConstraint:
		return ErrProviderTaken
	default:
		return err
	}
}

func encodeData(data map[string]any) ([]byte, error) {
	if data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(data)
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

// accountRow is a database row representation of Account.
type accountRow struct {
	ID              uuid.UUID      `db:"id"`
	Email           string         `db:"email"`
	DisplayName     string         `db:"display_name"`
	AvatarURL       string         `db:"avatar_url"`
	IsEmailVerified bool           `db:"is_email_verified"`
	PasswordHash    sql.NullString `db:"password_hash"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	LastLoginAt     time.Time      `db:"last_login_at"`
}

func (r *accountRow) toAccount() Account {
	return Account{
		ID:              r.ID,
		Email:           r.Email,
		DisplayName:     r.DisplayName,
		AvatarURL:       r.AvatarURL,
		IsEmailVerified: r.IsEmailVerified,
		PasswordHash:    r.PasswordHash.String,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		LastLoginAt:     r.LastLoginAt,
	}
}

type linkRow struct {
	Kind       string    `db:"provider_kind"`
	ProviderID string    `db:"provider_id"`
	Data       []byte    `db:"provider_data"`
	LinkedAt   time.Time `db:"linked_at"`
}

func (r *linkRow) toLink() (ProviderLink, error) {
	link := ProviderLink{
		Kind:       ProviderKind(r.Kind),
		ProviderID: r.ProviderID,
		LinkedAt:   r.LinkedAt,
	}
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &link.Data); err != nil {
			return ProviderLink{}, fmt.Errorf("decode provider data: %w", err)
		}
	}
	return link, nil
}
