package proof

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var proofColumns = []string{
	"id", "lead_id", "term_acceptance_id", "installment", "payment_method", "status",
	"payment_id", "approved_by", "approved_at", "rejection_reason", "created_at", "updated_at",
}

func TestPostgresRepository_Get(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`FROM payment_proofs WHERE id = \$1`).
		WithArgs("proof-1").
		WillReturnRows(pgxmock.NewRows(proofColumns).
			AddRow("proof-1", "lead-1", "ta-1", 2, "zelle", "pending", "", "", nil, "", now, now))

	p, err := NewPostgresRepository(mock).Get(context.Background(), "proof-1")
	require.NoError(t, err)

	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, 2, p.Installment)
	assert.Nil(t, p.ApprovedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM payment_proofs`).WithArgs(pgxmock.AnyArg()).WillReturnError(pgx.ErrNoRows)

	_, err = NewPostgresRepository(mock).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresRepository_MarkApprovedOnlyFromPending(t *testing.T) {
	tests := map[string]struct {
		affected int64
		want     bool
	}{
		"pending proof":    {affected: 1, want: true},
		"already reviewed": {affected: 0, want: false},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			mock.ExpectExec(`UPDATE payment_proofs\s+SET status = 'approved'.*WHERE id = \$1 AND status = 'pending'`).
				WithArgs("proof-1", "staff-9").
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))

			ok, err := NewPostgresRepository(mock).MarkApproved(context.Background(), "proof-1", "staff-9")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresRepository_LinkPaymentKeepsExistingLink(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`WHERE id = \$1 AND payment_id IS NULL`).
		WithArgs("proof-1", "pay-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, NewPostgresRepository(mock).LinkPayment(context.Background(), "proof-1", "pay-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
