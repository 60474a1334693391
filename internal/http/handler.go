package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/andreasstove999/lead-portal/reconciler-go/internal/apperr"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/checkout"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/lead"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/middleware"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/payment"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/proof"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/webhook"
)

type WebhookIngestor interface {
	Handle(ctx context.Context, raw []byte, header http.Header, meta webhook.RequestMeta) webhook.Outcome
}

type LeadReader interface {
	Get(ctx context.Context, leadID string) (*lead.Lead, error)
}

type PaymentReader interface {
	ListByLead(ctx context.Context, leadID string) ([]payment.Payment, error)
}

type CheckoutStarter interface {
	Start(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

type ProofReviewer interface {
	Approve(ctx context.Context, proofID, approverID string) (proof.ApprovalResult, error)
	Reject(ctx context.Context, proofID, reason string) (*proof.Proof, error)
	ConfirmRedirect(ctx context.Context, paymentID, approverID string) (proof.ConfirmResult, error)
}

type Deps struct {
	Logger logrus.FieldLogger

	StripeWebhook   WebhookIngestor
	ParcelowWebhook http.Handler

	Leads    LeadReader
	Payments PaymentReader
	Checkout CheckoutStarter
	Proofs   ProofReviewer

	StaffSecret []byte
}

type Handler struct {
	d Deps
}

func NewHandler(d Deps) *Handler {
	return &Handler{d: d}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "reconciler"})
}

func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := webhook.ReadBody(w, r)
	if err != nil {
		middleware.WriteError(w, r, http.StatusRequestEntityTooLarge, webhook.ResultInvalid, "body too large or unreadable")
		return
	}
	h.d.StripeWebhook.Handle(r.Context(), raw, r.Header, webhook.MetaFromRequest(r)).Write(w)
}

type paymentSummary struct {
	ID        string          `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type installmentStatus struct {
	LeadID      string          `json:"leadId"`
	Installment int             `json:"installment"`
	Status      payment.View    `json:"status"`
	Payment     *paymentSummary `json:"payment"`
}

// InstallmentStatus reports the canonical status of one installment. Raw
// gateway statuses never leave this endpoint.
func (h *Handler) InstallmentStatus(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadId")
	part, err := strconv.Atoi(chi.URLParam(r, "part"))
	if err != nil || (part != 1 && part != 2) {
		middleware.WriteError(w, r, http.StatusBadRequest, "invalid_installment", "installment must be 1 or 2")
		return
	}

	if _, err := h.d.Leads.Get(r.Context(), leadID); err != nil {
		if errors.Is(err, lead.ErrNotFound) {
			h.writeAppError(w, r, apperr.NotFound("lead_not_found", "lead not found"))
			return
		}
		h.writeAppError(w, r, err)
		return
	}

	rows, err := h.d.Payments.ListByLead(r.Context(), leadID)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}

	var ta *lead.TermAcceptance
	if id := r.URL.Query().Get("term_acceptance_id"); id != "" {
		ta = &lead.TermAcceptance{ID: id, LeadID: leadID}
	}

	res := installmentStatus{LeadID: leadID, Installment: part, Status: payment.Describe(payment.NotPaid{})}
	if p := payment.SelectRelevant(payment.FilterInstallment(rows, part), ta); p != nil {
		res.Status = payment.Describe(payment.Derive(p))
		res.Payment = &paymentSummary{ID: p.ID, Amount: p.Amount, Currency: p.Currency, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt}
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkout.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	req.LeadID = chi.URLParam(r, "leadId")

	res, err := h.d.Checkout.Start(r.Context(), req)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) ApproveProof(w http.ResponseWriter, r *http.Request) {
	res, err := h.d.Proofs.Approve(r.Context(), chi.URLParam(r, "proofId"), middleware.GetStaffID(r.Context()))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) RejectProof(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		middleware.WriteError(w, r, http.StatusBadRequest, "reason_required", "a rejection reason is required")
		return
	}

	p, err := h.d.Proofs.Reject(r.Context(), chi.URLParam(r, "proofId"), req.Reason)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	res, err := h.d.Proofs.ConfirmRedirect(r.Context(), chi.URLParam(r, "paymentId"), middleware.GetStaffID(r.Context()))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func statusFor(k apperr.Kind) int {
	switch k {
	case apperr.KindIntegrity:
		return http.StatusUnprocessableEntity
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindVerification:
		return http.StatusUnauthorized
	case apperr.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.As(err)
	status := statusFor(ae.Kind)
	if status >= http.StatusInternalServerError {
		h.d.Logger.WithError(err).WithFields(logrus.Fields{
			"request_id": middleware.GetCorrelationID(r.Context()),
			"reason":     ae.Reason,
		}).Error("request failed")
	}
	middleware.WriteError(w, r, status, ae.Reason, ae.Message)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
