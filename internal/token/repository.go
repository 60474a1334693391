package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("token not found")
	// ErrTokenCollision means the generated token string already exists.
	ErrTokenCollision = errors.New("token already exists")
	// ErrContextTaken means another issuer inserted a live token for the same context first.
	ErrContextTaken = errors.New("live token already exists for context")
)

const (
	uniqueViolation       = "23505"
	tokenPrimaryKey       = "approval_tokens_pkey"
	liveContextConstraint = "approval_tokens_live_context"
)

// DBPool matches the methods from *pgxpool.Pool that we use.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type Repository interface {
	FindLive(ctx context.Context, contextKey string, now time.Time) (*ApprovalToken, error)
	Latest(ctx context.Context, contextKey string) (*ApprovalToken, error)
	Exists(ctx context.Context, token string) (bool, error)
	SupersedeExpired(ctx context.Context, contextKey string, now time.Time) error
	Insert(ctx context.Context, t *ApprovalToken) error
}

type PostgresRepository struct {
	pool DBPool
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const selectToken = `
	SELECT token, context_key, lead_id, COALESCE(term_acceptance_id::text, ''),
		COALESCE(payment_id::text, ''), COALESCE(payment_proof_id::text, ''),
		expires_at, used_at, created_at
	FROM approval_tokens`

func scanToken(row pgx.Row) (*ApprovalToken, error) {
	var t ApprovalToken
	if err := row.Scan(&t.Token, &t.ContextKey, &t.LeadID, &t.TermAcceptanceID,
		&t.PaymentID, &t.PaymentProofID, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// FindLive returns the unexpired, unused token of a context.
func (r *PostgresRepository) FindLive(ctx context.Context, contextKey string, now time.Time) (*ApprovalToken, error) {
	t, err := scanToken(r.pool.QueryRow(ctx, selectToken+`
		WHERE context_key = $1 AND used_at IS NULL AND superseded_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC LIMIT 1
	`, contextKey, now))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("select live token: %w", err)
	}
	return t, err
}

// Latest returns the most recently issued token of a context in any state.
func (r *PostgresRepository) Latest(ctx context.Context, contextKey string) (*ApprovalToken, error) {
	t, err := scanToken(r.pool.QueryRow(ctx, selectToken+`
		WHERE context_key = $1 ORDER BY created_at DESC LIMIT 1
	`, contextKey))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("select latest token: %w", err)
	}
	return t, err
}

func (r *PostgresRepository) Exists(ctx context.Context, token string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM approval_tokens WHERE token = $1)`, token).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check token: %w", err)
	}
	return exists, nil
}

// SupersedeExpired retires expired, unused tokens so the context can take a new live token.
func (r *PostgresRepository) SupersedeExpired(ctx context.Context, contextKey string, now time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE approval_tokens SET superseded_at = $2
		WHERE context_key = $1 AND used_at IS NULL AND superseded_at IS NULL AND expires_at <= $2
	`, contextKey, now)
	if err != nil {
		return fmt.Errorf("supersede expired tokens: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Insert(ctx context.Context, t *ApprovalToken) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO approval_tokens
			(token, context_key, lead_id, term_acceptance_id, payment_id, payment_proof_id, expires_at)
		VALUES ($1, $2, $3, NULLIF($4, '')::uuid, NULLIF($5, '')::uuid, NULLIF($6, '')::uuid, $7)
		RETURNING created_at
	`, t.Token, t.ContextKey, t.LeadID, t.TermAcceptanceID, t.PaymentID, t.PaymentProofID, t.ExpiresAt).
		Scan(&t.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			switch pgErr.ConstraintName {
			case liveContextConstraint:
				return ErrContextTaken
			case tokenPrimaryKey:
				return ErrTokenCollision
			}
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}
