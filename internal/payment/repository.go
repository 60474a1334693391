package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("payment not found")

// DBPool matches the methods from *pgxpool.Pool that we use.
// This allows us to mock the database in tests.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Completion describes a terminal paid event. A nil Amount keeps the stored amount.
type Completion struct {
	Amount   *decimal.Decimal
	Currency string
	Method   string
	Extra    Metadata
}

type Repository interface {
	GetByID(ctx context.Context, paymentID string) (*Payment, error)
	FindByGatewayRef(ctx context.Context, key, value string) (*Payment, error)
	ListByLead(ctx context.Context, leadID string) ([]Payment, error)
	Create(ctx context.Context, p *Payment) error
	MergeMetadata(ctx context.Context, paymentID string, md Metadata) error
	MarkCompleted(ctx context.Context, paymentID string, c Completion) (bool, error)
	MarkFailed(ctx context.Context, paymentID string, extra Metadata) (bool, error)
	MarkRedirectConfirmed(ctx context.Context, paymentID, approverID string) (bool, error)
	MarkSynced(ctx context.Context, paymentID string) error
	MarkSyncAttempted(ctx context.Context, paymentID string) error
	ListUnsyncedConfirmed(ctx context.Context, updatedBefore time.Time, limit int) ([]Payment, error)
}

// confirmedSQL mirrors IsConfirmedPaid for conditional updates. Forward-only
// updates must never touch a row that already satisfies it.
const confirmedSQL = `(
	status IN ('completed', 'zelle_confirmed')
	OR (status = 'redirected_to_zelle' AND (metadata->>'zelle_confirmed' = 'true' OR metadata->>'zelle_paid' = 'true'))
	OR (status = 'redirected_to_infinitepay' AND (metadata->>'infinitepay_confirmed' = 'true' OR metadata->>'infinitepay_paid' = 'true'))
)`

const selectColumns = `
	SELECT id, lead_id, COALESCE(term_acceptance_id::text, ''), status, amount::text,
		currency, metadata, synced_at, created_at, updated_at
	FROM payments`

// gatewayRefQueries keeps lookups on the expression indexes.
var gatewayRefQueries = map[string]string{
	KeyStripeSessionID: selectColumns + ` WHERE metadata->>'stripe_session_id' = $1 ORDER BY created_at DESC LIMIT 1`,
	KeyParcelowOrderID: selectColumns + ` WHERE metadata->>'parcelow_order_id' = $1 ORDER BY created_at DESC LIMIT 1`,
}

type PostgresRepository struct {
	pool DBPool
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var (
		p      Payment
		status string
		amount string
		md     []byte
	)
	if err := row.Scan(&p.ID, &p.LeadID, &p.TermAcceptanceID, &status, &amount,
		&p.Currency, &md, &p.SyncedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = RawStatus(status)

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	p.Amount = d

	if p.Metadata, err = unmarshalMetadata(md); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, paymentID string) (*Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, selectColumns+` WHERE id = $1`, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select payment: %w", err)
	}
	return p, nil
}

// FindByGatewayRef finds the newest payment whose metadata carries the given
// gateway correlation id. Only stripe_session_id and parcelow_order_id are
// supported.
func (r *PostgresRepository) FindByGatewayRef(ctx context.Context, key, value string) (*Payment, error) {
	query, ok := gatewayRefQueries[key]
	if !ok {
		return nil, fmt.Errorf("unsupported gateway ref %q", key)
	}
	if value == "" {
		return nil, ErrNotFound
	}
	p, err := scanPayment(r.pool.QueryRow(ctx, query, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select payment by %s: %w", key, err)
	}
	return p, nil
}

func (r *PostgresRepository) ListByLead(ctx context.Context, leadID string) ([]Payment, error) {
	return r.list(ctx, selectColumns+` WHERE lead_id = $1 ORDER BY created_at DESC, id DESC`, leadID)
}

// ListUnsyncedConfirmed returns confirmed payments that have not reached the
// partner network and were last touched before updatedBefore. Rows never
// attempted come first, then the least recently attempted, so rows that keep
// failing cannot starve newer ones.
func (r *PostgresRepository) ListUnsyncedConfirmed(ctx context.Context, updatedBefore time.Time, limit int) ([]Payment, error) {
	return r.list(ctx, selectColumns+` WHERE synced_at IS NULL AND `+confirmedSQL+`
		AND updated_at < $1
		ORDER BY sync_attempted_at NULLS FIRST, updated_at, id LIMIT $2`, updatedBefore, limit)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Create(ctx context.Context, p *Payment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	md, err := p.Metadata.marshal()
	if err != nil {
		return err
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO payments (id, lead_id, term_acceptance_id, status, amount, currency, metadata)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5::numeric, $6, $7::jsonb)
		RETURNING created_at, updated_at
	`, p.ID, p.LeadID, p.TermAcceptanceID, string(p.Status), p.Amount.StringFixed(2), p.Currency, md).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MergeMetadata(ctx context.Context, paymentID string, md Metadata) error {
	b, err := md.marshal()
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE payments SET metadata = metadata || $2::jsonb, updated_at = now() WHERE id = $1
	`, paymentID, b)
	if err != nil {
		return fmt.Errorf("merge payment metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCompleted moves a payment to completed unless it is already confirmed.
// It reports whether this call performed the transition.
func (r *PostgresRepository) MarkCompleted(ctx context.Context, paymentID string, c Completion) (bool, error) {
	extra := Metadata{}
	if c.Method != "" {
		extra[KeyPaymentMethod] = c.Method
	}
	md, err := extra.Merge(c.Extra).marshal()
	if err != nil {
		return false, err
	}

	var amount *string
	if c.Amount != nil {
		s := c.Amount.StringFixed(2)
		amount = &s
	}
	var currency *string
	if c.Currency != "" {
		currency = &c.Currency
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE payments SET
			status = 'completed',
			amount = COALESCE($2::numeric, amount),
			currency = COALESCE($3, currency),
			metadata = metadata || $4::jsonb,
			updated_at = now()
		WHERE id = $1 AND NOT `+confirmedSQL, paymentID, amount, currency, md)
	if err != nil {
		return false, fmt.Errorf("mark payment completed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed moves a payment to failed. Confirmed rows are never downgraded and
// the amount is left untouched.
func (r *PostgresRepository) MarkFailed(ctx context.Context, paymentID string, extra Metadata) (bool, error) {
	md, err := extra.marshal()
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE payments SET
			status = 'failed',
			metadata = metadata || $2::jsonb,
			updated_at = now()
		WHERE id = $1 AND status <> 'failed' AND NOT `+confirmedSQL, paymentID, md)
	if err != nil {
		return false, fmt.Errorf("mark payment failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkRedirectConfirmed records staff confirmation of a manual-channel payment.
// zelle rows move to zelle_confirmed; infinitepay rows get the confirmation flag.
func (r *PostgresRepository) MarkRedirectConfirmed(ctx context.Context, paymentID, approverID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payments SET
			status = CASE WHEN status = 'redirected_to_zelle' THEN 'zelle_confirmed' ELSE status END,
			metadata = metadata || jsonb_build_object(
				CASE WHEN status = 'redirected_to_zelle' THEN 'zelle_confirmed' ELSE 'infinitepay_confirmed' END, true,
				'confirmed_by', $2::text),
			updated_at = now()
		WHERE id = $1
			AND status IN ('redirected_to_zelle', 'redirected_to_infinitepay')
			AND NOT `+confirmedSQL, paymentID, approverID)
	if err != nil {
		return false, fmt.Errorf("mark redirect confirmed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSyncAttempted stamps a resync attempt that did not reach the partner
// network. It leaves updated_at alone.
func (r *PostgresRepository) MarkSyncAttempted(ctx context.Context, paymentID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE payments SET sync_attempted_at = now() WHERE id = $1 AND synced_at IS NULL`, paymentID)
	if err != nil {
		return fmt.Errorf("mark sync attempted: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkSynced(ctx context.Context, paymentID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE payments SET synced_at = now() WHERE id = $1`, paymentID)
	if err != nil {
		return fmt.Errorf("mark payment synced: %w", err)
	}
	return nil
}
