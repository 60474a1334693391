package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/andreasstove999/lead-portal/reconciler-go/internal/audit"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/config"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/logging"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/payment"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/token"
)

type memPayments struct {
	rows map[string]*payment.Payment
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

func (m *memPayments) FindByGatewayRef(_ context.Context, key, value string) (*payment.Payment, error) {
	for _, p := range m.rows {
		if p.Metadata.String(key) == value {
			cp := *p
			return &cp, nil
		}
	}
	return nil, payment.ErrNotFound
}

func (m *memPayments) MarkCompleted(_ context.Context, id string, c payment.Completion) (bool, error) {
	p := m.rows[id]
	if payment.IsConfirmedPaid(p) {
		return false, nil
	}
	p.Status = payment.RawCompleted
	if c.Amount != nil {
		p.Amount = *c.Amount
	}
	if c.Currency != "" {
		p.Currency = c.Currency
	}
	extra := payment.Metadata{}
	if c.Method != "" {
		extra[payment.KeyPaymentMethod] = c.Method
	}
	p.Metadata = p.Metadata.Merge(extra).Merge(c.Extra)
	return true, nil
}

func (m *memPayments) MarkFailed(_ context.Context, id string, extra payment.Metadata) (bool, error) {
	p := m.rows[id]
	if payment.IsConfirmedPaid(p) || p.Status == payment.RawFailed {
		return false, nil
	}
	p.Status = payment.RawFailed
	p.Metadata = p.Metadata.Merge(extra)
	return true, nil
}

type memCheckpoints struct {
	done map[string]bool
}

func (m *memCheckpoints) Processed(_ context.Context, provider, eventID string) (bool, error) {
	return m.done[provider+"/"+eventID], nil
}

func (m *memCheckpoints) MarkProcessed(_ context.Context, provider, eventID string) error {
	m.done[provider+"/"+eventID] = true
	return nil
}

type memAudit struct {
	records []audit.Record
	err     error
}

func (m *memAudit) Record(_ context.Context, rec *audit.Record) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, *rec)
	return nil
}

func (m *memAudit) ListByEvent(_ context.Context, provider, eventID string) ([]audit.Record, error) {
	var out []audit.Record
	for _, r := range m.records {
		if r.Provider == provider && r.EventID == eventID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memAudit) outcomes() []string {
	out := make([]string, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Outcome)
	}
	return out
}

type effectsCall struct {
	paymentID    string
	transitioned bool
	source       string
}

type fakeEffects struct {
	calls []effectsCall
	err   error
}

func (f *fakeEffects) Confirmed(_ context.Context, p *payment.Payment, transitioned bool, tc token.Context, source string) (*token.ApprovalToken, error) {
	f.calls = append(f.calls, effectsCall{paymentID: p.ID, transitioned: transitioned, source: source})
	if f.err != nil {
		return nil, f.err
	}
	key, _ := tc.Key()
	return &token.ApprovalToken{Token: "tk_test", ContextKey: key}, nil
}

type fakeAlerter struct {
	mu       sync.Mutex
	subjects []string
}

func (f *fakeAlerter) Alert(subject, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
}

type fakeIntents struct {
	method string
	err    error
	asked  []string
}

func (f *fakeIntents) PaymentMethodType(_ context.Context, id string) (string, error) {
	f.asked = append(f.asked, id)
	return f.method, f.err
}

type fixture struct {
	payments    *memPayments
	checkpoints *memCheckpoints
	audit       *memAudit
	effects     *fakeEffects
	alerter     *fakeAlerter
}

func newFixture(rows ...*payment.Payment) *fixture {
	return &fixture{
		payments:    newMemPayments(rows...),
		checkpoints: &memCheckpoints{done: map[string]bool{}},
		audit:       &memAudit{},
		effects:     &fakeEffects{},
		alerter:     &fakeAlerter{},
	}
}

func (f *fixture) deps(policy string) Deps {
	if policy == "" {
		policy = config.PolicyReject
	}
	return Deps{
		Payments:    f.payments,
		Checkpoints: f.checkpoints,
		Audit:       f.audit,
		Effects:     f.effects,
		Alerter:     f.alerter,
		Policy:      policy,
		RefPrefix:   "IMM-",
		Logger:      logging.Discard(),
	}
}

func hmacHex(secret string, msg []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// stripeSignature builds a Stripe-Signature header for body signed now.
func stripeSignature(secret string, body []byte) string {
	ts := time.Now().Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, hmacHex(secret, []byte(fmt.Sprintf("%d.%s", ts, body))))
}
