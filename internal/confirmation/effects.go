// Package confirmation runs the side effects that follow a confirmed payment:
// partner network sync, the payment.confirmed event and the access token.
package confirmation

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/andreasstove999/lead-portal/reconciler-go/internal/events"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/middleware"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/payment"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/token"
)

type SyncTrigger interface {
	Trigger(ctx context.Context, paymentID string)
}

type TokenIssuer interface {
	Issue(ctx context.Context, c token.Context) (*token.ApprovalToken, error)
}

type Effects struct {
	sync      SyncTrigger
	publisher events.PaymentPublisher
	tokens    TokenIssuer
	logger    logrus.FieldLogger
}

func NewEffects(sync SyncTrigger, publisher events.PaymentPublisher, tokens TokenIssuer, logger logrus.FieldLogger) *Effects {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Effects{sync: sync, publisher: publisher, tokens: tokens, logger: logger}
}

// Confirmed must be called after the local write is durable. Sync and the
// event fire only when this caller performed the transition to paid; the token
// is requested every time because issuance is idempotent per context.
func (e *Effects) Confirmed(ctx context.Context, p *payment.Payment, transitioned bool, tc token.Context, source string) (*token.ApprovalToken, error) {
	log := e.logger.WithFields(logrus.Fields{"payment_id": p.ID, "lead_id": p.LeadID, "source": source})

	if transitioned {
		e.sync.Trigger(ctx, p.ID)

		meta := events.EventMeta{CorrelationID: middleware.GetCorrelationID(ctx)}
		if err := e.publisher.PublishPaymentConfirmed(ctx, meta, p, source); err != nil {
			log.WithError(err).Warn("publish payment.confirmed failed")
		}
	}

	tc.LeadID = p.LeadID
	if tc.PaymentID == "" {
		tc.PaymentID = p.ID
	}
	tok, err := e.tokens.Issue(ctx, tc)
	if err != nil {
		log.WithError(err).Error("approval token issuance failed")
		return nil, fmt.Errorf("issue approval token: %w", err)
	}
	return tok, nil
}

// PaymentContext is the token context of a gateway or staff confirmed payment.
func PaymentContext(p *payment.Payment) token.Context {
	return token.Context{LeadID: p.LeadID, TermAcceptanceID: p.TermAcceptanceID, PaymentID: p.ID}
}
