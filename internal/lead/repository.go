package lead

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("lead not found")

// DBPool matches the methods from *pgxpool.Pool that we use.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type Repository interface {
	Get(ctx context.Context, leadID string) (*Lead, error)
	GetTermAcceptance(ctx context.Context, termAcceptanceID string) (*TermAcceptance, error)
	UpdateExternalUserID(ctx context.Context, leadID, externalUserID string) error
}

type PostgresRepository struct {
	pool DBPool
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Get(ctx context.Context, leadID string) (*Lead, error) {
	var l Lead
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, COALESCE(document, ''), COALESCE(external_user_id, ''), created_at
		FROM leads WHERE id = $1
	`, leadID).Scan(&l.ID, &l.Name, &l.Email, &l.Document, &l.ExternalUserID, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select lead: %w", err)
	}
	return &l, nil
}

func (r *PostgresRepository) GetTermAcceptance(ctx context.Context, termAcceptanceID string) (*TermAcceptance, error) {
	var ta TermAcceptance
	err := r.pool.QueryRow(ctx, `
		SELECT id, lead_id, accepted_at FROM term_acceptances WHERE id = $1
	`, termAcceptanceID).Scan(&ta.ID, &ta.LeadID, &ta.AcceptedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select term acceptance: %w", err)
	}
	return &ta, nil
}

// UpdateExternalUserID stores the partner network user id resolved for a lead.
func (r *PostgresRepository) UpdateExternalUserID(ctx context.Context, leadID, externalUserID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET external_user_id = $2, updated_at = now() WHERE id = $1
	`, leadID, externalUserID)
	if err != nil {
		return fmt.Errorf("update external user id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
