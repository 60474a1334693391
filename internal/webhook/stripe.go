package webhook

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/andreasstove999/lead-portal/reconciler-go/internal/payment"
)

const stripeSignatureHeader = "Stripe-Signature"

// Checkout session events acted upon. Everything else is acknowledged and ignored.
const (
	stripeSessionCompleted      = "checkout.session.completed"
	stripeAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	stripeAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	stripeSessionExpired        = "checkout.session.expired"
)

// PaymentIntents resolves the method actually used when a session allowed several.
type PaymentIntents interface {
	PaymentMethodType(ctx context.Context, paymentIntentID string) (string, error)
}

type StripeIngestor struct {
	ingestor
	secrets []string
	intents PaymentIntents
}

// NewStripeIngestor verifies deliveries against secrets in order; the first
// match wins so a rotated secret can be listed after the current one.
func NewStripeIngestor(secrets []string, intents PaymentIntents, d Deps) *StripeIngestor {
	return &StripeIngestor{ingestor: newIngestor(ProviderStripe, d), secrets: secrets, intents: intents}
}

// Handle processes one delivery. raw must be the body exactly as received.
func (s *StripeIngestor) Handle(ctx context.Context, raw []byte, header http.Header, meta RequestMeta) Outcome {
	sig := header.Get(stripeSignatureHeader)
	verified := s.verify(raw, sig)

	var se stripe.Event
	if err := json.Unmarshal(raw, &se); err != nil || se.ID == "" || se.Type == "" || se.Data == nil {
		if !verified {
			s.Logger.WithField("request_id", meta.RequestID).Warn("unverified stripe webhook with unparseable body")
		}
		o := outcome(http.StatusBadRequest, ResultInvalid)
		o.Hint = "expected a stripe event with id, type and data.object"
		return o
	}

	ev, err := s.toEvent(&se)
	if err != nil {
		o := outcome(http.StatusBadRequest, ResultInvalid)
		o.Hint = "data.object is not a checkout session"
		return o
	}

	if !verified {
		if o, proceed := s.unverified(ctx, ev, raw, sig, meta); !proceed {
			return o
		}
	}
	return s.process(ctx, ev, raw, meta)
}

func (s *StripeIngestor) verify(raw []byte, sig string) bool {
	if sig == "" {
		return false
	}
	for _, secret := range s.secrets {
		if webhook.ValidatePayloadWithTolerance(raw, sig, secret, webhook.DefaultTolerance) == nil {
			return true
		}
	}
	return false
}

func (s *StripeIngestor) toEvent(se *stripe.Event) (*event, error) {
	ev := &event{id: se.ID, typ: string(se.Type), refKey: payment.KeyStripeSessionID}

	switch ev.typ {
	case stripeSessionCompleted, stripeAsyncPaymentSucceeded, stripeAsyncPaymentFailed, stripeSessionExpired:
	default:
		return ev, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(se.Data.Raw, &session); err != nil {
		return nil, err
	}

	ev.refValue = session.ID
	ev.reference = session.ClientReferenceID
	if ev.reference == "" {
		ev.reference = session.Metadata["payment_id"]
	}

	switch ev.typ {
	case stripeSessionCompleted:
		// Delayed methods such as PIX complete the session unpaid and follow
		// up with async_payment_succeeded.
		if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			ev.change = transitionPaid
		}
	case stripeAsyncPaymentSucceeded:
		ev.change = transitionPaid
	case stripeAsyncPaymentFailed, stripeSessionExpired:
		ev.change = transitionFailed
	}

	if ev.change == transitionPaid {
		total := session.AmountTotal
		ev.amountMinor = &total
		ev.currency = string(session.Currency)
		ev.method = s.methodResolver(&session)
	}

	ev.extra = payment.Metadata{}
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		ev.extra[payment.KeyStripePaymentIntent] = session.PaymentIntent.ID
	}
	return ev, nil
}

// methodResolver trusts the session when it allowed a single method and asks
// the PaymentIntent otherwise. An empty result leaves the method to Derive.
func (s *StripeIngestor) methodResolver(session *stripe.CheckoutSession) func(ctx context.Context) string {
	return func(ctx context.Context) string {
		if len(session.PaymentMethodTypes) == 1 {
			return session.PaymentMethodTypes[0]
		}
		if s.intents == nil || session.PaymentIntent == nil || session.PaymentIntent.ID == "" {
			return ""
		}
		method, err := s.intents.PaymentMethodType(ctx, session.PaymentIntent.ID)
		if err != nil {
			s.Logger.WithError(err).WithField("payment_intent", session.PaymentIntent.ID).
				Warn("payment intent lookup failed, leaving method unset")
			return ""
		}
		return method
	}
}
