// Package checkout starts an installment payment on one of the supported rails.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/andreasstove999/lead-portal/reconciler-go/internal/apperr"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/gateway/parcelowgw"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/gateway/stripegw"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/lead"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/payment"
)

type Leads interface {
	Get(ctx context.Context, leadID string) (*lead.Lead, error)
	GetTermAcceptance(ctx context.Context, termAcceptanceID string) (*lead.TermAcceptance, error)
}

type Payments interface {
	ListByLead(ctx context.Context, leadID string) ([]payment.Payment, error)
	Create(ctx context.Context, p *payment.Payment) error
	MergeMetadata(ctx context.Context, paymentID string, md payment.Metadata) error
}

type Sessions interface {
	CreateCheckoutSession(ctx context.Context, req stripegw.SessionRequest) (*stripegw.Session, error)
}

type Orders interface {
	CreateOrder(ctx context.Context, req parcelowgw.OrderRequest) (*parcelowgw.Order, error)
}

type Request struct {
	LeadID           string `json:"-"`
	TermAcceptanceID string `json:"termAcceptanceId"`
	Installment      int    `json:"installment"`
	Method           string `json:"method"`
}

// Result tells the client where to go next. RedirectURL is the gateway
// checkout page, or a relative instructions path for manual channels.
type Result struct {
	PaymentID   string            `json:"paymentId"`
	Method      string            `json:"method"`
	Status      payment.RawStatus `json:"status"`
	RedirectURL string            `json:"redirectUrl"`
}

type Config struct {
	Amount    decimal.Decimal
	Currency  string
	RefPrefix string
}

type Service struct {
	leads    Leads
	payments Payments
	sessions Sessions
	orders   Orders
	cfg      Config
	logger   logrus.FieldLogger
}

func NewService(leads Leads, payments Payments, sessions Sessions, orders Orders, cfg Config, logger logrus.FieldLogger) *Service {
	return &Service{
		leads:    leads,
		payments: payments,
		sessions: sessions,
		orders:   orders,
		cfg:      cfg,
		logger:   logger,
	}
}

func validMethod(m string) bool {
	switch m {
	case payment.MethodCard, payment.MethodPix, payment.MethodParcelow, payment.MethodZelle, payment.MethodInfinitePay:
		return true
	}
	return false
}

// Start checks the lead can pay, records a payment attempt and hands it to the
// rail. A rail failure leaves the attempt pending; the selector prefers any
// confirmed attempt over it.
func (s *Service) Start(ctx context.Context, req Request) (*Result, error) {
	if !validMethod(req.Method) {
		return nil, apperr.Integrity("unsupported_method", fmt.Sprintf("unsupported payment method %q", req.Method))
	}
	if req.Installment == 0 {
		req.Installment = 1
	}
	if req.Installment != 1 && req.Installment != 2 {
		return nil, apperr.Integrity("invalid_installment", "installment must be 1 or 2")
	}

	l, err := s.leads.Get(ctx, req.LeadID)
	if errors.Is(err, lead.ErrNotFound) {
		return nil, apperr.NotFound("lead_not_found", "lead not found")
	}
	if err != nil {
		return nil, apperr.Internal("lead_lookup_failed", "load lead", err)
	}

	ta, err := s.termAcceptance(ctx, l, req.TermAcceptanceID)
	if err != nil {
		return nil, err
	}
	if req.Method == payment.MethodParcelow && l.Document == "" {
		return nil, apperr.Integrity("document_required", "parcelow requires the lead's CPF")
	}

	rows, err := s.payments.ListByLead(ctx, l.ID)
	if err != nil {
		return nil, apperr.Internal("payment_lookup_failed", "list lead payments", err)
	}
	if current := payment.SelectRelevant(payment.FilterInstallment(rows, req.Installment), ta); current != nil && payment.IsConfirmedPaid(current) {
		return nil, apperr.Conflict("installment_already_paid", fmt.Sprintf("installment %d is already paid", req.Installment))
	}

	p := &payment.Payment{
		LeadID:           l.ID,
		TermAcceptanceID: ta.ID,
		Status:           payment.RawPending,
		Amount:           s.cfg.Amount,
		Currency:         s.cfg.Currency,
		Metadata: payment.Metadata{
			payment.KeyInstallment:            req.Installment,
			payment.KeyRequestedPaymentMethod: req.Method,
		},
	}
	switch req.Method {
	case payment.MethodZelle:
		p.Status = payment.RawRedirectedToZelle
		p.Metadata[payment.KeyPaymentMethod] = req.Method
	case payment.MethodInfinitePay:
		p.Status = payment.RawRedirectedToInfinitePay
		p.Metadata[payment.KeyPaymentMethod] = req.Method
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, apperr.Internal("payment_create_failed", "create payment", err)
	}

	log := s.logger.WithFields(logrus.Fields{"payment_id": p.ID, "lead_id": l.ID, "method": req.Method})
	res := &Result{PaymentID: p.ID, Method: req.Method, Status: p.Status}

	switch req.Method {
	case payment.MethodCard, payment.MethodPix:
		session, err := s.sessions.CreateCheckoutSession(ctx, stripegw.SessionRequest{
			PaymentID:   p.ID,
			Reference:   s.cfg.RefPrefix + p.ID,
			Email:       l.Email,
			AmountMinor: p.AmountMinor(),
			Currency:    p.Currency,
			Method:      req.Method,
			Installment: req.Installment,
		})
		if err != nil {
			log.WithError(err).Error("stripe checkout session failed")
			return nil, apperr.Upstream("gateway_unavailable", "payment gateway unavailable", err)
		}
		res.RedirectURL = session.URL
		s.remember(ctx, log, p.ID, payment.Metadata{
			payment.KeyStripeSessionID: session.ID,
			payment.KeyCheckoutURL:     session.URL,
		})

	case payment.MethodParcelow:
		order, err := s.orders.CreateOrder(ctx, parcelowgw.OrderRequest{
			Reference:   s.cfg.RefPrefix + p.ID,
			AmountMinor: p.AmountMinor(),
			Currency:    p.Currency,
			Name:        l.Name,
			Email:       l.Email,
			Document:    l.Document,
			Installment: req.Installment,
		})
		if err != nil {
			log.WithError(err).Error("parcelow order failed")
			return nil, apperr.Upstream("gateway_unavailable", "payment gateway unavailable", err)
		}
		res.RedirectURL = order.CheckoutURL
		s.remember(ctx, log, p.ID, payment.Metadata{
			payment.KeyParcelowOrderID:     order.ID,
			payment.KeyParcelowCheckoutURL: order.CheckoutURL,
		})

	default:
		res.RedirectURL = fmt.Sprintf("/checkout/%s/instructions?payment_id=%s", req.Method, url.QueryEscape(p.ID))
	}

	log.Info("checkout started")
	return res, nil
}

func (s *Service) termAcceptance(ctx context.Context, l *lead.Lead, id string) (*lead.TermAcceptance, error) {
	missing := apperr.Integrity("term_acceptance_missing", "the lead has not accepted the terms")
	if id == "" {
		return nil, missing
	}
	ta, err := s.leads.GetTermAcceptance(ctx, id)
	if errors.Is(err, lead.ErrNotFound) {
		return nil, missing
	}
	if err != nil {
		return nil, apperr.Internal("term_acceptance_lookup_failed", "load term acceptance", err)
	}
	if ta.LeadID != l.ID {
		return nil, missing
	}
	return ta, nil
}

// remember stores the gateway ids. Webhooks still correlate through the local
// reference when this write is lost.
func (s *Service) remember(ctx context.Context, log logrus.FieldLogger, paymentID string, md payment.Metadata) {
	if err := s.payments.MergeMetadata(ctx, paymentID, md); err != nil {
		log.WithError(err).Error("gateway ids not stored on payment")
	}
}
