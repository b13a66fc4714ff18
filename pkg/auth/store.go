package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careerforge/creditd/pkg/observability"
)

var authSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id         TEXT PRIMARY KEY,
		email      TEXT NOT NULL UNIQUE,
		admin      BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS api_tokens (
		id           TEXT PRIMARY KEY,
		account_id   TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		name         TEXT NOT NULL,
		token_hash   TEXT NOT NULL UNIQUE,
		token_prefix TEXT NOT NULL,
		expires_at   TIMESTAMPTZ,
		last_used_at TIMESTAMPTZ,
		revoked_at   TIMESTAMPTZ,
		created_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_tokens_account ON api_tokens (account_id)`,
}

// InitSchema creates the accounts and token tables if needed.
func InitSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range authSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying auth schema: %w", err)
		}
	}
	return nil
}

// Store manages accounts and tokens in Postgres.
type Store struct {
	db        *sql.DB
	generator *TokenGenerator
	logger    *observability.Logger
	now       func() time.Time
}

// NewStore creates the auth store.
func NewStore(db *sql.DB, logger *observability.Logger) *Store {
	return &Store{
		db:        db,
		generator: NewTokenGenerator(),
		logger:    logger.WithComponent("auth"),
		now:       time.Now,
	}
}

// CreateAccount registers an account. Email collisions surface as errors
// from the unique constraint.
func (s *Store) CreateAccount(ctx context.Context, email string, admin bool) (*Account, error) {
	account := &Account{
		ID:        uuid.NewString(),
		Email:     email,
		Admin:     admin,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, admin, created_at) VALUES ($1, $2, $3, $4)`,
		account.ID, account.Email, account.Admin, account.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}
	s.logger.WithField("account_id", account.ID).Info("account created")
	return account, nil
}

// AccountByID fetches one account.
func (s *Store) AccountByID(ctx context.Context, id string) (*Account, error) {
	var a Account
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, admin, created_at FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.Email, &a.Admin, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading account %s: %w", id, err)
	}
	return &a, nil
}

// AccountIDByEmail resolves an email to an account ID. Implements the
// billing webhook's fallback resolver.
func (s *Store) AccountIDByEmail(ctx context.Context, email string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM accounts WHERE email = $1`, email).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrAccountNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolving account by email: %w", err)
	}
	return id, nil
}

// AccountIDByBillingCustomer resolves a billing customer reference via
// the ledger's subscription table.
func (s *Store) AccountIDByBillingCustomer(ctx context.Context, customerID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT account_id FROM credit_subscriptions WHERE stripe_customer_id = $1`, customerID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrAccountNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolving account by billing customer: %w", err)
	}
	return id, nil
}

// EmailByAccount returns the account's email, used by reconciliation's
// email-based entitlement fallback.
func (s *Store) EmailByAccount(ctx context.Context, accountID string) (string, error) {
	account, err := s.AccountByID(ctx, accountID)
	if err != nil {
		return "", err
	}
	return account.Email, nil
}

// CreateToken issues a token for the account and returns the plaintext
// exactly once.
func (s *Store) CreateToken(ctx context.Context, accountID, name string, expiresAt *time.Time) (*APIToken, string, error) {
	plaintext, hash, prefix, err := s.generator.GenerateToken()
	if err != nil {
		return nil, "", err
	}
	token := &APIToken{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Name:      name,
		Prefix:    prefix,
		ExpiresAt: expiresAt,
		CreatedAt: s.now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO api_tokens (id, account_id, name, token_hash, token_prefix, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		token.ID, token.AccountID, token.Name, hash, token.Prefix, token.ExpiresAt, token.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("storing token: %w", err)
	}
	s.logger.WithFields(map[string]interface{}{
		"account_id": accountID,
		"prefix":     prefix,
	}).Info("api token issued")
	return token, plaintext, nil
}

// Authenticate resolves a bearer token to its account. Every failure mode
// collapses into ErrInvalidToken.
func (s *Store) Authenticate(ctx context.Context, token string) (*Account, error) {
	if err := s.generator.ValidateTokenFormat(token); err != nil {
		return nil, ErrInvalidToken
	}
	hash := s.generator.HashToken(token)

	var a Account
	var expiresAt, revokedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT a.id, a.email, a.admin, a.created_at, t.expires_at, t.revoked_at
		FROM api_tokens t
		JOIN accounts a ON a.id = t.account_id
		WHERE t.token_hash = $1`,
		hash).Scan(&a.ID, &a.Email, &a.Admin, &a.CreatedAt, &expiresAt, &revokedAt)
	if err == sql.ErrNoRows {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("authenticating token: %w", err)
	}
	if revokedAt.Valid {
		return nil, ErrInvalidToken
	}
	if expiresAt.Valid && s.now().After(expiresAt.Time) {
		return nil, ErrInvalidToken
	}

	// Best effort: last_used_at is advisory and must not fail requests.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE api_tokens SET last_used_at = $1 WHERE token_hash = $2`,
		s.now().UTC(), hash); err != nil {
		s.logger.WithError(err).Debug("updating token last_used_at failed")
	}
	return &a, nil
}

// RevokeToken invalidates a token by ID.
func (s *Store) RevokeToken(ctx context.Context, accountID, tokenID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_tokens SET revoked_at = $1 WHERE id = $2 AND account_id = $3 AND revoked_at IS NULL`,
		s.now().UTC(), tokenID, accountID)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidToken
	}
	return nil
}
