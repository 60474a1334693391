package proof

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreasstove999/lead-portal/reconciler-go/internal/apperr"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/logging"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/payment"
)

type workflowFixture struct {
	proofs   *memProofs
	payments *memPayments
	tokens   *tokenStore
	wf       *Workflow
}

func newFixture(proofs map[string]*Proof, rows ...*payment.Payment) *workflowFixture {
	f := &workflowFixture{
		proofs:   &memProofs{proofs: proofs},
		payments: newMemPayments(rows...),
		tokens:   newTokenStore(),
	}
	f.wf = NewWorkflow(f.proofs, f.payments, f.tokens, f.tokens,
		Defaults{Amount: decimal.RequireFromString("400.00"), Currency: "USD"}, logging.Discard())
	return f
}

func pendingProof() *Proof {
	return &Proof{
		ID:               "proof-1",
		LeadID:           "lead-1",
		TermAcceptanceID: "ta-1",
		Installment:      1,
		PaymentMethod:    payment.MethodZelle,
		Status:           StatusPending,
	}
}

func requireKind(t *testing.T, err error, kind apperr.Kind, reason string) {
	t.Helper()
	require.Error(t, err)
	ae := apperr.As(err)
	assert.Equal(t, kind, ae.Kind)
	assert.Equal(t, reason, ae.Reason)
}

func TestApprove_CreatesCompletedPaymentAndProofToken(t *testing.T) {
	f := newFixture(map[string]*Proof{"proof-1": pendingProof()})

	res, err := f.wf.Approve(context.Background(), "proof-1", "staff-9")
	require.NoError(t, err)

	assert.False(t, res.AlreadyApproved)
	assert.Equal(t, StatusApproved, res.Proof.Status)
	assert.Equal(t, 1, f.payments.created)

	pay := f.payments.rows[res.Payment.ID]
	assert.Equal(t, payment.RawCompleted, pay.Status)
	assert.True(t, pay.Amount.Equal(decimal.RequireFromString("400")))
	assert.Equal(t, "USD", pay.Currency)
	assert.Equal(t, payment.SourceManualProof, pay.Metadata.String(payment.KeySource))
	assert.Equal(t, "proof-1", pay.Metadata.String(payment.KeyPaymentProofID))
	assert.Equal(t, res.Payment.ID, f.proofs.proofs["proof-1"].PaymentID)

	require.Len(t, f.tokens.calls, 1)
	assert.True(t, f.tokens.calls[0].transitioned)
	assert.Equal(t, "lead:lead-1|proof:proof-1", res.Token.ContextKey)
	assert.Equal(t, "/forms/consultation?token="+res.Token.Token, res.Link)
}

func TestApprove_RetryReturnsSameToken(t *testing.T) {
	f := newFixture(map[string]*Proof{"proof-1": pendingProof()})
	ctx := context.Background()

	first, err := f.wf.Approve(ctx, "proof-1", "staff-9")
	require.NoError(t, err)
	second, err := f.wf.Approve(ctx, "proof-1", "staff-9")
	require.NoError(t, err)

	assert.True(t, second.AlreadyApproved)
	assert.Equal(t, first.Token.Token, second.Token.Token)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	assert.Equal(t, 1, f.payments.created)
	assert.Len(t, f.tokens.calls, 1)
}

func TestApprove_ReusesExistingPaymentForSameAcceptance(t *testing.T) {
	existing := &payment.Payment{
		ID:               "pay-zelle",
		LeadID:           "lead-1",
		TermAcceptanceID: "ta-1",
		Status:           payment.RawRedirectedToZelle,
		Amount:           decimal.RequireFromString("400"),
		Metadata:         payment.Metadata{payment.KeyInstallment: 1},
		CreatedAt:        time.Now().Add(-time.Hour),
	}
	otherInstallment := &payment.Payment{
		ID:               "pay-second",
		LeadID:           "lead-1",
		TermAcceptanceID: "ta-1",
		Status:           payment.RawPending,
		Metadata:         payment.Metadata{payment.KeyInstallment: 2},
		CreatedAt:        time.Now(),
	}
	f := newFixture(map[string]*Proof{"proof-1": pendingProof()}, existing, otherInstallment)

	res, err := f.wf.Approve(context.Background(), "proof-1", "staff-9")
	require.NoError(t, err)

	assert.Equal(t, "pay-zelle", res.Payment.ID)
	assert.Equal(t, 0, f.payments.created)
	assert.Equal(t, payment.RawCompleted, f.payments.rows["pay-zelle"].Status)
	assert.Equal(t, payment.MethodZelle, f.payments.rows["pay-zelle"].Metadata.String(payment.KeyPaymentMethod))
	assert.Equal(t, payment.RawPending, f.payments.rows["pay-second"].Status)
}

func TestApprove_IgnoresPaymentsOfOtherAcceptance(t *testing.T) {
	other := &payment.Payment{
		ID:               "pay-old",
		LeadID:           "lead-1",
		TermAcceptanceID: "ta-0",
		Status:           payment.RawPending,
		Metadata:         payment.Metadata{},
	}
	f := newFixture(map[string]*Proof{"proof-1": pendingProof()}, other)

	res, err := f.wf.Approve(context.Background(), "proof-1", "staff-9")
	require.NoError(t, err)

	assert.NotEqual(t, "pay-old", res.Payment.ID)
	assert.Equal(t, 1, f.payments.created)
}

func TestApprove_Errors(t *testing.T) {
	rejected := pendingProof()
	rejected.Status = StatusRejected

	tests := map[string]struct {
		proofs     map[string]*Proof
		loseRace   bool
		wantKind   apperr.Kind
		wantReason string
	}{
		"missing proof": {
			proofs:     map[string]*Proof{},
			wantKind:   apperr.KindNotFound,
			wantReason: "proof_not_found",
		},
		"rejected proof": {
			proofs:     map[string]*Proof{"proof-1": rejected},
			wantKind:   apperr.KindConflict,
			wantReason: "proof_rejected",
		},
		"concurrent approval": {
			proofs:     map[string]*Proof{"proof-1": pendingProof()},
			loseRace:   true,
			wantKind:   apperr.KindConflict,
			wantReason: "proof_not_pending",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(tt.proofs)
			f.proofs.loseRace = tt.loseRace

			_, err := f.wf.Approve(context.Background(), "proof-1", "staff-9")
			requireKind(t, err, tt.wantKind, tt.wantReason)
			assert.Equal(t, 0, f.payments.created)
			assert.Empty(t, f.tokens.calls)
		})
	}
}

func TestApprove_CompletesInterruptedApproval(t *testing.T) {
	p := pendingProof()
	p.Status = StatusApproved
	p.ApprovedBy = "staff-1"
	f := newFixture(map[string]*Proof{"proof-1": p})

	res, err := f.wf.Approve(context.Background(), "proof-1", "staff-9")
	require.NoError(t, err)

	assert.True(t, res.AlreadyApproved)
	assert.Equal(t, 1, f.payments.created)
	assert.Equal(t, "staff-1", f.payments.rows[res.Payment.ID].Metadata.String(payment.KeyConfirmedBy))
	require.NotNil(t, res.Token)
}

func TestReject(t *testing.T) {
	p := pendingProof()
	p.PaymentID = "pay-1"
	linked := &payment.Payment{ID: "pay-1", LeadID: "lead-1", Status: payment.RawRedirectedToZelle, Metadata: payment.Metadata{}}
	f := newFixture(map[string]*Proof{"proof-1": p}, linked)

	got, err := f.wf.Reject(context.Background(), "proof-1", "receipt unreadable")
	require.NoError(t, err)

	assert.Equal(t, StatusRejected, got.Status)
	assert.Equal(t, "receipt unreadable", got.RejectionReason)
	assert.Equal(t, payment.RawFailed, f.payments.rows["pay-1"].Status)
	assert.Empty(t, f.tokens.tokens)
}

func TestReject_NotPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(map[string]*Proof{"proof-1": pendingProof()})

	_, err := f.wf.Approve(ctx, "proof-1", "staff-9")
	require.NoError(t, err)

	_, err = f.wf.Reject(ctx, "proof-1", "too late")
	requireKind(t, err, apperr.KindConflict, "proof_not_pending")
	assert.Equal(t, StatusApproved, f.proofs.proofs["proof-1"].Status)
}

func TestConfirmRedirect(t *testing.T) {
	zelle := &payment.Payment{ID: "pay-z", LeadID: "lead-1", TermAcceptanceID: "ta-1", Status: payment.RawRedirectedToZelle, Metadata: payment.Metadata{}}
	infinite := &payment.Payment{ID: "pay-i", LeadID: "lead-1", Status: payment.RawRedirectedToInfinitePay, Metadata: payment.Metadata{}}
	f := newFixture(map[string]*Proof{}, zelle, infinite)
	ctx := context.Background()

	res, err := f.wf.ConfirmRedirect(ctx, "pay-z", "staff-9")
	require.NoError(t, err)
	assert.False(t, res.AlreadyConfirmed)
	assert.Equal(t, payment.RawZelleConfirmed, res.Payment.Status)
	assert.Equal(t, "lead:lead-1|ta:ta-1", res.Token.ContextKey)

	again, err := f.wf.ConfirmRedirect(ctx, "pay-z", "staff-9")
	require.NoError(t, err)
	assert.True(t, again.AlreadyConfirmed)
	assert.Equal(t, res.Token.Token, again.Token.Token)

	require.Len(t, f.tokens.calls, 2)
	assert.True(t, f.tokens.calls[0].transitioned)
	assert.False(t, f.tokens.calls[1].transitioned)

	res, err = f.wf.ConfirmRedirect(ctx, "pay-i", "staff-9")
	require.NoError(t, err)
	assert.True(t, payment.IsConfirmedPaid(res.Payment))
	assert.Equal(t, "lead:lead-1|payment:pay-i", res.Token.ContextKey)
}

func TestConfirmRedirect_Errors(t *testing.T) {
	pending := &payment.Payment{ID: "pay-s", LeadID: "lead-1", Status: payment.RawPending, Metadata: payment.Metadata{}}
	f := newFixture(map[string]*Proof{}, pending)

	_, err := f.wf.ConfirmRedirect(context.Background(), "pay-s", "staff-9")
	requireKind(t, err, apperr.KindConflict, "not_awaiting_confirmation")

	_, err = f.wf.ConfirmRedirect(context.Background(), "nope", "staff-9")
	requireKind(t, err, apperr.KindNotFound, "payment_not_found")
}
