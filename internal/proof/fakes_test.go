package proof

import (
	"context"
	"time"

	"github.com/andreasstove999/lead-portal/reconciler-go/internal/payment"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/token"
)

type memProofs struct {
	proofs   map[string]*Proof
	loseRace bool
}

func (m *memProofs) Get(_ context.Context, id string) (*Proof, error) {
	p, ok := m.proofs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProofs) MarkApproved(_ context.Context, id, approverID string) (bool, error) {
	p := m.proofs[id]
	if m.loseRace || p.Status != StatusPending {
		return false, nil
	}
	now := time.Now()
	p.Status, p.ApprovedBy, p.ApprovedAt = StatusApproved, approverID, &now
	return true, nil
}

func (m *memProofs) MarkRejected(_ context.Context, id, reason string) (bool, error) {
	p := m.proofs[id]
	if p.Status != StatusPending {
		return false, nil
	}
	p.Status, p.RejectionReason = StatusRejected, reason
	return true, nil
}

func (m *memProofs) LinkPayment(_ context.Context, id, paymentID string) error {
	if p := m.proofs[id]; p.PaymentID == "" {
		p.PaymentID = paymentID
	}
	return nil
}

type memPayments struct {
	rows    map[string]*payment.Payment
	created int
}

func newMemPayments(rows ...*payment.Payment) *memPayments {
	m := &memPayments{rows: map[string]*payment.Payment{}}
	for _, r := range rows {
		m.rows[r.ID] = r
	}
	return m
}

func (m *memPayments) GetByID(_ context.Context, id string) (*payment.Payment, error) {
	p, ok := m.rows[id]
	if !ok {
		return nil, payment.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPayments) ListByLead(_ context.Context, leadID string) ([]payment.Payment, error) {
	var out []payment.Payment
	for _, p := range m.rows {
		if p.LeadID == leadID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memPayments) Create(_ context.Context, p *payment.Payment) error {
	m.created++
	if p.ID == "" {
		p.ID = "pay-new"
	}
	p.CreatedAt = time.Now()
	cp := *p
	m.rows[p.ID] = &cp
	return nil
}

func (m *memPayments) MarkCompleted(_ context.Context, id string, c payment.Completion) (bool, error) {
	p := m.rows[id]
	if payment.IsConfirmedPaid(p) {
		return false, nil
	}
	p.Status = payment.RawCompleted
	p.Metadata = p.Metadata.Merge(payment.Metadata{payment.KeyPaymentMethod: c.Method}).Merge(c.Extra)
	return true, nil
}

func (m *memPayments) MarkFailed(_ context.Context, id string, extra payment.Metadata) (bool, error) {
	p := m.rows[id]
	if payment.IsConfirmedPaid(p) {
		return false, nil
	}
	p.Status = payment.RawFailed
	p.Metadata = p.Metadata.Merge(extra)
	return true, nil
}

func (m *memPayments) MarkRedirectConfirmed(_ context.Context, id, approverID string) (bool, error) {
	p := m.rows[id]
	if payment.IsConfirmedPaid(p) {
		return false, nil
	}
	switch p.Status {
	case payment.RawRedirectedToZelle:
		p.Status = payment.RawZelleConfirmed
	case payment.RawRedirectedToInfinitePay:
		p.Metadata = p.Metadata.Merge(payment.Metadata{payment.KeyInfinitePayConfirmed: true})
	default:
		return false, nil
	}
	return true, nil
}

type confirmedCall struct {
	paymentID    string
	transitioned bool
	contextKey   string
	source       string
}

// tokenStore plays both the issuer and the post-confirmation effects.
type tokenStore struct {
	tokens map[string]*token.ApprovalToken
	calls  []confirmedCall
}

func newTokenStore() *tokenStore {
	return &tokenStore{tokens: map[string]*token.ApprovalToken{}}
}

func (s *tokenStore) Existing(_ context.Context, c token.Context) (*token.ApprovalToken, error) {
	key, err := c.Key()
	if err != nil {
		return nil, err
	}
	t, ok := s.tokens[key]
	if !ok {
		return nil, token.ErrNotFound
	}
	return t, nil
}

func (s *tokenStore) Link(tok string) string { return "/forms/consultation?token=" + tok }

func (s *tokenStore) Confirmed(_ context.Context, p *payment.Payment, transitioned bool, tc token.Context, source string) (*token.ApprovalToken, error) {
	key, err := tc.Key()
	if err != nil {
		return nil, err
	}
	s.calls = append(s.calls, confirmedCall{paymentID: p.ID, transitioned: transitioned, contextKey: key, source: source})
	if t, ok := s.tokens[key]; ok {
		return t, nil
	}
	t := &token.ApprovalToken{Token: "tk_" + key, ContextKey: key, LeadID: tc.LeadID, PaymentProofID: tc.PaymentProofID}
	s.tokens[key] = t
	return t, nil
}
