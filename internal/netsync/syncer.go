package netsync

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/andreasstove999/lead-portal/reconciler-go/internal/lead"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/payment"
)

const defaultSource = "portal"

type PaymentStore interface {
	GetByID(ctx context.Context, paymentID string) (*payment.Payment, error)
	MarkSynced(ctx context.Context, paymentID string) error
}

type LeadStore interface {
	Get(ctx context.Context, leadID string) (*lead.Lead, error)
	UpdateExternalUserID(ctx context.Context, leadID, externalUserID string) error
}

type PaymentSink interface {
	SyncPayment(ctx context.Context, req SyncRequest, idempotencyKey string) error
}

type Result struct {
	Skipped    bool
	Reason     string
	UserID     string
	Provenance Provenance
}

// Syncer forwards confirmed payments to the partner network. It runs after the
// local write has been committed and never changes local payment state other
// than stamping synced_at.
type Syncer struct {
	payments PaymentStore
	leads    LeadStore
	resolver *Resolver
	sink     PaymentSink
	logger   logrus.FieldLogger
}

func NewSyncer(payments PaymentStore, leads LeadStore, resolver *Resolver, sink PaymentSink, logger logrus.FieldLogger) *Syncer {
	return &Syncer{payments: payments, leads: leads, resolver: resolver, sink: sink, logger: logger}
}

func IdempotencyKey(p *payment.Payment) string {
	return p.ID + ":" + p.LeadID
}

func (s *Syncer) Sync(ctx context.Context, paymentID string) (Result, error) {
	log := s.logger.WithField("payment_id", paymentID)

	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return Result{}, fmt.Errorf("load payment: %w", err)
	}
	paid, ok := payment.Derive(p).(payment.PaidConfirmed)
	if !ok {
		return Result{Skipped: true, Reason: "not_confirmed"}, nil
	}

	l, err := s.leads.Get(ctx, p.LeadID)
	if err != nil {
		return Result{}, fmt.Errorf("load lead: %w", err)
	}
	log = log.WithField("lead_id", l.ID)

	userID, prov, err := s.resolver.Resolve(ctx, l.ExternalUserID, l.Email)
	if err != nil {
		log.WithError(err).Warn("skipping partner sync: identity unresolved")
		return Result{Skipped: true, Reason: "identity_unresolved"}, nil
	}

	if userID != l.ExternalUserID {
		if err := s.leads.UpdateExternalUserID(ctx, l.ID, userID); err != nil {
			log.WithError(err).Warn("write back of partner user id failed")
		} else {
			log.WithFields(logrus.Fields{"old_user_id": l.ExternalUserID, "new_user_id": userID}).Info("partner user id corrected")
		}
	}

	source := p.Metadata.String(payment.KeySource)
	if source == "" {
		source = defaultSource
	}

	req := SyncRequest{
		UserID:      userID,
		PaymentID:   p.ID,
		LeadID:      p.LeadID,
		AmountMinor: p.AmountMinor(),
		Currency:    p.Currency,
		Method:      paid.Method,
		Status:      "paid",
		Metadata: SyncMetadata{
			UserIDSource: string(prov),
			CachedUserID: l.ExternalUserID,
			Installment:  p.Installment(),
			Source:       source,
		},
	}
	if err := s.sink.SyncPayment(ctx, req, IdempotencyKey(p)); err != nil {
		return Result{}, fmt.Errorf("sync payment: %w", err)
	}

	if err := s.payments.MarkSynced(ctx, p.ID); err != nil {
		log.WithError(err).Warn("payment synced but synced_at not stamped")
	}
	log.WithField("user_id_source", prov).Info("payment synced to partner network")
	return Result{UserID: userID, Provenance: prov}, nil
}
