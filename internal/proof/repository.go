package proof

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("payment proof not found")

type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type Repository interface {
	Get(ctx context.Context, proofID string) (*Proof, error)
	MarkApproved(ctx context.Context, proofID, approverID string) (bool, error)
	MarkRejected(ctx context.Context, proofID, reason string) (bool, error)
	LinkPayment(ctx context.Context, proofID, paymentID string) error
}

type PostgresRepository struct {
	pool DBPool
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Get(ctx context.Context, proofID string) (*Proof, error) {
	var (
		p      Proof
		status string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, lead_id, COALESCE(term_acceptance_id::text, ''), installment, payment_method,
			status, COALESCE(payment_id::text, ''), COALESCE(approved_by, ''), approved_at,
			COALESCE(rejection_reason, ''), created_at, updated_at
		FROM payment_proofs WHERE id = $1
	`, proofID).Scan(&p.ID, &p.LeadID, &p.TermAcceptanceID, &p.Installment, &p.PaymentMethod,
		&status, &p.PaymentID, &p.ApprovedBy, &p.ApprovedAt,
		&p.RejectionReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select payment proof: %w", err)
	}
	p.Status = Status(status)
	return &p, nil
}

// MarkApproved moves a pending proof to approved. It reports false when the
// proof was no longer pending.
func (r *PostgresRepository) MarkApproved(ctx context.Context, proofID, approverID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payment_proofs
		SET status = 'approved', approved_by = $2, approved_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, proofID, approverID)
	if err != nil {
		return false, fmt.Errorf("approve payment proof: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) MarkRejected(ctx context.Context, proofID, reason string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payment_proofs
		SET status = 'rejected', rejection_reason = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, proofID, reason)
	if err != nil {
		return false, fmt.Errorf("reject payment proof: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// LinkPayment records the payment created or reused for the proof. An
// existing link is never replaced.
func (r *PostgresRepository) LinkPayment(ctx context.Context, proofID, paymentID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE payment_proofs SET payment_id = $2::uuid, updated_at = now()
		WHERE id = $1 AND payment_id IS NULL
	`, proofID, paymentID)
	if err != nil {
		return fmt.Errorf("link payment to proof: %w", err)
	}
	return nil
}
