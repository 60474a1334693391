// Package proof implements staff review of manual payment proofs and of
// payments redirected to manual channels.
package proof

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/andreasstove999/lead-portal/reconciler-go/internal/apperr"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/lead"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/payment"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/token"
)

const sourceStaffConfirmation = "staff_confirmation"

type PaymentStore interface {
	GetByID(ctx context.Context, paymentID string) (*payment.Payment, error)
	ListByLead(ctx context.Context, leadID string) ([]payment.Payment, error)
	Create(ctx context.Context, p *payment.Payment) error
	MarkCompleted(ctx context.Context, paymentID string, c payment.Completion) (bool, error)
	MarkFailed(ctx context.Context, paymentID string, extra payment.Metadata) (bool, error)
	MarkRedirectConfirmed(ctx context.Context, paymentID, approverID string) (bool, error)
}

type Tokens interface {
	Existing(ctx context.Context, c token.Context) (*token.ApprovalToken, error)
	Link(tok string) string
}

type Effects interface {
	Confirmed(ctx context.Context, p *payment.Payment, transitioned bool, tc token.Context, source string) (*token.ApprovalToken, error)
}

// Defaults price payments created from an approved proof.
type Defaults struct {
	Amount   decimal.Decimal
	Currency string
}

type ApprovalResult struct {
	Proof           *Proof               `json:"proof"`
	Payment         *payment.Payment     `json:"payment"`
	Token           *token.ApprovalToken `json:"token"`
	Link            string               `json:"link"`
	AlreadyApproved bool                 `json:"alreadyApproved"`
}

type ConfirmResult struct {
	Payment          *payment.Payment     `json:"payment"`
	Token            *token.ApprovalToken `json:"token"`
	Link             string               `json:"link"`
	AlreadyConfirmed bool                 `json:"alreadyConfirmed"`
}

type Workflow struct {
	proofs   Repository
	payments PaymentStore
	tokens   Tokens
	effects  Effects
	defaults Defaults
	logger   logrus.FieldLogger
}

func NewWorkflow(proofs Repository, payments PaymentStore, tokens Tokens, effects Effects, defaults Defaults, logger logrus.FieldLogger) *Workflow {
	return &Workflow{
		proofs:   proofs,
		payments: payments,
		tokens:   tokens,
		effects:  effects,
		defaults: defaults,
		logger:   logger,
	}
}

func (w *Workflow) get(ctx context.Context, proofID string) (*Proof, error) {
	p, err := w.proofs.Get(ctx, proofID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("proof_not_found", "payment proof not found")
	}
	if err != nil {
		return nil, apperr.Internal("proof_lookup_failed", "load payment proof", err)
	}
	return p, nil
}

// Approve accepts a pending proof, makes sure exactly one completed payment
// backs it and returns the access token scoped to the proof. Approving an
// approved proof returns what the first approval produced.
func (w *Workflow) Approve(ctx context.Context, proofID, approverID string) (ApprovalResult, error) {
	p, err := w.get(ctx, proofID)
	if err != nil {
		return ApprovalResult{}, err
	}

	switch p.Status {
	case StatusRejected:
		return ApprovalResult{}, apperr.Conflict("proof_rejected", "payment proof was already rejected")
	case StatusApproved:
		return w.resume(ctx, p)
	}

	ok, err := w.proofs.MarkApproved(ctx, p.ID, approverID)
	if err != nil {
		return ApprovalResult{}, apperr.Internal("proof_update_failed", "approve payment proof", err)
	}
	if !ok {
		// Another reviewer moved the proof first; the winner finishes the work.
		return ApprovalResult{}, apperr.Conflict("proof_not_pending", "payment proof is no longer pending")
	}
	p.Status = StatusApproved
	p.ApprovedBy = approverID

	return w.complete(ctx, p, approverID)
}

// resume answers a retried approval. A proof whose earlier approval stopped
// before linking a payment or issuing a token gets the missing steps.
func (w *Workflow) resume(ctx context.Context, p *Proof) (ApprovalResult, error) {
	if p.PaymentID != "" {
		tok, err := w.tokens.Existing(ctx, proofContext(p))
		switch {
		case err == nil:
			pay, err := w.payments.GetByID(ctx, p.PaymentID)
			if err != nil {
				return ApprovalResult{}, apperr.Internal("payment_lookup_failed", "load linked payment", err)
			}
			return ApprovalResult{Proof: p, Payment: pay, Token: tok, Link: w.tokens.Link(tok.Token), AlreadyApproved: true}, nil
		case !errors.Is(err, token.ErrNotFound):
			return ApprovalResult{}, apperr.Internal("token_lookup_failed", "load issued token", err)
		}
	}

	w.logger.WithField("proof_id", p.ID).Warn("approved proof is missing its payment or token, completing")
	res, err := w.complete(ctx, p, p.ApprovedBy)
	res.AlreadyApproved = true
	return res, err
}

func (w *Workflow) complete(ctx context.Context, p *Proof, approverID string) (ApprovalResult, error) {
	log := w.logger.WithFields(logrus.Fields{"proof_id": p.ID, "lead_id": p.LeadID})

	pay, created, err := w.resolvePayment(ctx, p, approverID)
	if err != nil {
		return ApprovalResult{}, err
	}
	if p.PaymentID == "" {
		if err := w.proofs.LinkPayment(ctx, p.ID, pay.ID); err != nil {
			return ApprovalResult{}, apperr.Internal("proof_update_failed", "link payment to proof", err)
		}
		p.PaymentID = pay.ID
	}

	marked, err := w.payments.MarkCompleted(ctx, pay.ID, payment.Completion{
		Method: p.PaymentMethod,
		Extra: payment.Metadata{
			payment.KeySource:         payment.SourceManualProof,
			payment.KeyPaymentProofID: p.ID,
			payment.KeyConfirmedBy:    approverID,
		},
	})
	if err != nil {
		return ApprovalResult{}, apperr.Internal("payment_update_failed", "complete proof payment", err)
	}
	if marked {
		if pay, err = w.payments.GetByID(ctx, pay.ID); err != nil {
			return ApprovalResult{}, apperr.Internal("payment_lookup_failed", "reload proof payment", err)
		}
	}

	tok, err := w.effects.Confirmed(ctx, pay, created || marked, proofContext(p), payment.SourceManualProof)
	if err != nil {
		return ApprovalResult{}, apperr.Internal("token_issue_failed", "issue approval token", err)
	}

	log.WithFields(logrus.Fields{"payment_id": pay.ID, "created": created}).Info("payment proof approved")
	return ApprovalResult{Proof: p, Payment: pay, Token: tok, Link: w.tokens.Link(tok.Token)}, nil
}

// resolvePayment returns the payment linked to the proof, else the relevant
// payment of the same lead, installment and term acceptance, else a new
// completed one.
func (w *Workflow) resolvePayment(ctx context.Context, p *Proof, approverID string) (*payment.Payment, bool, error) {
	if p.PaymentID != "" {
		pay, err := w.payments.GetByID(ctx, p.PaymentID)
		if err != nil {
			return nil, false, apperr.Internal("payment_lookup_failed", "load linked payment", err)
		}
		return pay, false, nil
	}

	rows, err := w.payments.ListByLead(ctx, p.LeadID)
	if err != nil {
		return nil, false, apperr.Internal("payment_lookup_failed", "list lead payments", err)
	}

	var ta *lead.TermAcceptance
	candidates := payment.FilterInstallment(rows, installmentOf(p))
	if p.TermAcceptanceID != "" {
		ta = &lead.TermAcceptance{ID: p.TermAcceptanceID, LeadID: p.LeadID}
		scoped := candidates[:0]
		for _, row := range candidates {
			if row.TermAcceptanceID == p.TermAcceptanceID {
				scoped = append(scoped, row)
			}
		}
		candidates = scoped
	}
	if existing := payment.SelectRelevant(candidates, ta); existing != nil {
		return existing, false, nil
	}

	pay := &payment.Payment{
		LeadID:           p.LeadID,
		TermAcceptanceID: p.TermAcceptanceID,
		Status:           payment.RawCompleted,
		Amount:           w.defaults.Amount,
		Currency:         w.defaults.Currency,
		Metadata: payment.Metadata{
			payment.KeyInstallment:    installmentOf(p),
			payment.KeyPaymentMethod:  p.PaymentMethod,
			payment.KeySource:         payment.SourceManualProof,
			payment.KeyPaymentProofID: p.ID,
			payment.KeyConfirmedBy:    approverID,
		},
	}
	if err := w.payments.Create(ctx, pay); err != nil {
		return nil, false, apperr.Internal("payment_create_failed", "create proof payment", err)
	}
	return pay, true, nil
}

// Reject closes a pending proof. A payment already linked to it is failed.
func (w *Workflow) Reject(ctx context.Context, proofID, reason string) (*Proof, error) {
	p, err := w.get(ctx, proofID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending {
		return nil, apperr.Conflict("proof_not_pending", fmt.Sprintf("payment proof is %s", p.Status))
	}

	ok, err := w.proofs.MarkRejected(ctx, p.ID, reason)
	if err != nil {
		return nil, apperr.Internal("proof_update_failed", "reject payment proof", err)
	}
	if !ok {
		return nil, apperr.Conflict("proof_not_pending", "payment proof is no longer pending")
	}
	p.Status = StatusRejected
	p.RejectionReason = reason

	if p.PaymentID != "" {
		_, err := w.payments.MarkFailed(ctx, p.PaymentID, payment.Metadata{
			payment.KeyFailureReason:  "proof_rejected",
			payment.KeyPaymentProofID: p.ID,
		})
		if err != nil {
			return nil, apperr.Internal("payment_update_failed", "fail linked payment", err)
		}
	}

	w.logger.WithField("proof_id", p.ID).Info("payment proof rejected")
	return p, nil
}

// ConfirmRedirect records staff confirmation that a payment sent to zelle or
// infinitepay arrived. Confirming a confirmed payment only returns its token.
func (w *Workflow) ConfirmRedirect(ctx context.Context, paymentID, approverID string) (ConfirmResult, error) {
	pay, err := w.payments.GetByID(ctx, paymentID)
	if errors.Is(err, payment.ErrNotFound) {
		return ConfirmResult{}, apperr.NotFound("payment_not_found", "payment not found")
	}
	if err != nil {
		return ConfirmResult{}, apperr.Internal("payment_lookup_failed", "load payment", err)
	}

	already := payment.IsConfirmedPaid(pay)
	if !already && pay.Status != payment.RawRedirectedToZelle && pay.Status != payment.RawRedirectedToInfinitePay {
		return ConfirmResult{}, apperr.Conflict("not_awaiting_confirmation",
			fmt.Sprintf("payment in status %s is not awaiting manual confirmation", pay.Status))
	}

	var marked bool
	if !already {
		if marked, err = w.payments.MarkRedirectConfirmed(ctx, pay.ID, approverID); err != nil {
			return ConfirmResult{}, apperr.Internal("payment_update_failed", "confirm payment", err)
		}
		if pay, err = w.payments.GetByID(ctx, pay.ID); err != nil {
			return ConfirmResult{}, apperr.Internal("payment_lookup_failed", "reload payment", err)
		}
		if !payment.IsConfirmedPaid(pay) {
			return ConfirmResult{}, apperr.Conflict("not_awaiting_confirmation", "payment changed while confirming")
		}
	}

	tok, err := w.effects.Confirmed(ctx, pay, marked, token.Context{
		LeadID:           pay.LeadID,
		TermAcceptanceID: pay.TermAcceptanceID,
		PaymentID:        pay.ID,
	}, sourceStaffConfirmation)
	if err != nil {
		return ConfirmResult{}, apperr.Internal("token_issue_failed", "issue approval token", err)
	}

	return ConfirmResult{Payment: pay, Token: tok, Link: w.tokens.Link(tok.Token), AlreadyConfirmed: !marked}, nil
}

func proofContext(p *Proof) token.Context {
	return token.Context{LeadID: p.LeadID, PaymentProofID: p.ID, PaymentID: p.PaymentID}
}

func installmentOf(p *Proof) int {
	if p.Installment == 2 {
		return 2
	}
	return 1
}
