// Package webhook turns gateway deliveries into payment state changes. Both
// ingestors verify the raw body, dedupe on the gateway event id, correlate the
// event with a local payment and apply a forward-only transition.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/andreasstove999/lead-portal/reconciler-go/internal/audit"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/config"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/confirmation"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/notify"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/payment"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/token"
)

const (
	ProviderStripe   = "stripe"
	ProviderParcelow = "parcelow"
)

// Results reported back to the gateway.
const (
	ResultProcessed   = "processed"
	ResultDuplicate   = "duplicate"
	ResultIgnored     = "ignored"
	ResultUnmatched   = "unmatched"
	ResultQuarantined = "quarantined"
	ResultInvalid     = "invalid_payload"
	ResultUnverified  = "signature_verification_failed"
	ResultFailed      = "processing_failed"
)

type PaymentStore interface {
	GetByID(ctx context.Context, paymentID string) (*payment.Payment, error)
	FindByGatewayRef(ctx context.Context, key, value string) (*payment.Payment, error)
	MarkCompleted(ctx context.Context, paymentID string, c payment.Completion) (bool, error)
	MarkFailed(ctx context.Context, paymentID string, extra payment.Metadata) (bool, error)
}

type Checkpoints interface {
	Processed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) error
}

type Effects interface {
	Confirmed(ctx context.Context, p *payment.Payment, transitioned bool, tc token.Context, source string) (*token.ApprovalToken, error)
}

// RequestMeta describes the HTTP delivery for the audit trail.
type RequestMeta struct {
	RequestID  string
	RemoteAddr string
	UserAgent  string
}

// Outcome is what the HTTP layer writes back to the gateway. 2xx statuses stop
// gateway retries; 5xx asks for a redelivery.
type Outcome struct {
	Status    int    `json:"-"`
	Result    string `json:"result"`
	Hint      string `json:"hint,omitempty"`
	EventID   string `json:"eventId,omitempty"`
	PaymentID string `json:"paymentId,omitempty"`
}

func outcome(status int, result string) Outcome {
	return Outcome{Status: status, Result: result}
}

// Deps are shared by both ingestors. Policy is one of the config.Policy*
// values and decides what happens to deliveries that fail verification.
type Deps struct {
	Payments    PaymentStore
	Checkpoints Checkpoints
	Audit       audit.Repository
	Effects     Effects
	Alerter     notify.Alerter
	Policy      string
	RefPrefix   string
	Logger      logrus.FieldLogger
}

type transition int

const (
	transitionNone transition = iota
	transitionPaid
	transitionFailed
)

// event is a gateway delivery reduced to what the pipeline needs. amountMinor
// is the gateway's authoritative total; nil keeps the stored amount.
type event struct {
	id          string
	typ         string
	refKey      string
	refValue    string
	reference   string
	change      transition
	amountMinor *int64
	currency    string
	method      func(ctx context.Context) string
	extra       payment.Metadata
}

type ingestor struct {
	provider string
	Deps
}

func newIngestor(provider string, d Deps) ingestor {
	if d.Alerter == nil {
		d.Alerter = notify.Noop{}
	}
	if d.Policy == "" {
		d.Policy = config.PolicyReject
	}
	return ingestor{provider: provider, Deps: d}
}

func (in *ingestor) record(ctx context.Context, ev *event, result, signature, detail string, raw []byte, meta RequestMeta) error {
	rec := &audit.Record{
		Provider:   in.provider,
		EventID:    ev.id,
		EventType:  ev.typ,
		Outcome:    result,
		RequestID:  meta.RequestID,
		RemoteAddr: meta.RemoteAddr,
		UserAgent:  meta.UserAgent,
		Signature:  signature,
		Payload:    raw,
		Detail:     detail,
	}
	if err := in.Audit.Record(ctx, rec); err != nil {
		in.Logger.WithError(err).WithFields(logrus.Fields{
			"provider": in.provider,
			"event_id": ev.id,
			"outcome":  result,
		}).Error("webhook audit record not written")
		return err
	}
	return nil
}

// unverified applies the configured policy to a parseable delivery whose
// signature did not verify. It returns proceed=true only under the accept policy.
func (in *ingestor) unverified(ctx context.Context, ev *event, raw []byte, signature string, meta RequestMeta) (Outcome, bool) {
	log := in.Logger.WithFields(logrus.Fields{
		"provider":   in.provider,
		"event_id":   ev.id,
		"event_type": ev.typ,
		"request_id": meta.RequestID,
	})

	switch in.Policy {
	case config.PolicyAccept:
		if err := in.record(ctx, ev, audit.OutcomeUnverifiedAccepted, signature, "processed without a verified signature", raw, meta); err != nil {
			return outcome(http.StatusInternalServerError, ResultFailed), false
		}
		log.Error("processing webhook with unverified signature")
		in.Alerter.Alert(fmt.Sprintf("%s webhook processed without verified signature", in.provider),
			fmt.Sprintf("event %s (%s) failed signature verification and was processed under the accept policy.\nrequest: %s from %s",
				ev.id, ev.typ, meta.RequestID, meta.RemoteAddr))
		return Outcome{}, true

	case config.PolicyQuarantine:
		if err := in.record(ctx, ev, audit.OutcomeUnverifiedQuarantined, signature, "held for staff review", raw, meta); err != nil {
			return outcome(http.StatusInternalServerError, ResultFailed), false
		}
		log.Warn("webhook quarantined: signature verification failed")
		in.Alerter.Alert(fmt.Sprintf("%s webhook quarantined", in.provider),
			fmt.Sprintf("event %s (%s) failed signature verification and was stored for review.\nrequest: %s from %s",
				ev.id, ev.typ, meta.RequestID, meta.RemoteAddr))
		o := outcome(http.StatusAccepted, ResultQuarantined)
		o.EventID = ev.id
		return o, false

	default:
		_ = in.record(ctx, ev, audit.OutcomeUnverifiedRejected, signature, "", nil, meta)
		log.Warn("webhook rejected: signature verification failed")
		return outcome(http.StatusUnauthorized, ResultUnverified), false
	}
}

// process runs dedup, correlation and the state change for a trusted event.
func (in *ingestor) process(ctx context.Context, ev *event, raw []byte, meta RequestMeta) Outcome {
	log := in.Logger.WithFields(logrus.Fields{
		"provider":   in.provider,
		"event_id":   ev.id,
		"event_type": ev.typ,
		"request_id": meta.RequestID,
	})

	done, err := in.Checkpoints.Processed(ctx, in.provider, ev.id)
	if err != nil {
		log.WithError(err).Error("dedup lookup failed")
		return outcome(http.StatusInternalServerError, ResultFailed)
	}
	if done {
		log.Info("duplicate webhook delivery")
		o := outcome(http.StatusOK, ResultDuplicate)
		o.EventID = ev.id
		return o
	}

	o := in.apply(ctx, log, ev, raw, meta)
	o.EventID = ev.id
	if o.Status >= http.StatusInternalServerError {
		return o
	}

	if err := in.Checkpoints.MarkProcessed(ctx, in.provider, ev.id); err != nil {
		// The state change is forward-only, so a redelivery is harmless.
		log.WithError(err).Warn("dedup checkpoint not written")
	}
	return o
}

func (in *ingestor) apply(ctx context.Context, log logrus.FieldLogger, ev *event, raw []byte, meta RequestMeta) Outcome {
	if ev.change == transitionNone {
		log.Debug("webhook event ignored")
		return outcome(http.StatusOK, ResultIgnored)
	}

	pay, err := in.correlate(ctx, ev)
	if errors.Is(err, payment.ErrNotFound) {
		_ = in.record(ctx, ev, audit.OutcomeUnmatched, "", fmt.Sprintf("%s=%q reference=%q", ev.refKey, ev.refValue, ev.reference), raw, meta)
		log.WithField("reference", ev.reference).Warn("webhook did not match a local payment")
		return outcome(http.StatusAccepted, ResultUnmatched)
	}
	if err != nil {
		log.WithError(err).Error("payment correlation failed")
		return outcome(http.StatusInternalServerError, ResultFailed)
	}
	log = log.WithFields(logrus.Fields{"payment_id": pay.ID, "lead_id": pay.LeadID})

	extra := payment.Metadata{payment.KeyLastEventID: ev.id}.Merge(ev.extra)
	if ev.refValue != "" {
		extra[ev.refKey] = ev.refValue
	}

	switch ev.change {
	case transitionFailed:
		extra[payment.KeyFailureReason] = ev.typ
		changed, err := in.Payments.MarkFailed(ctx, pay.ID, extra)
		if err != nil {
			log.WithError(err).Error("mark payment failed")
			return outcome(http.StatusInternalServerError, ResultFailed)
		}
		log.WithField("changed", changed).Info("payment failed by gateway")

	case transitionPaid:
		c := payment.Completion{Currency: strings.ToUpper(ev.currency), Extra: extra}
		if ev.amountMinor != nil {
			amount := payment.FromMinor(*ev.amountMinor)
			c.Amount = &amount
		}
		if ev.method != nil {
			c.Method = ev.method(ctx)
		}

		transitioned, err := in.Payments.MarkCompleted(ctx, pay.ID, c)
		if err != nil {
			log.WithError(err).Error("mark payment completed")
			return outcome(http.StatusInternalServerError, ResultFailed)
		}
		if transitioned {
			if pay, err = in.Payments.GetByID(ctx, pay.ID); err != nil {
				log.WithError(err).Error("reload completed payment")
				return outcome(http.StatusInternalServerError, ResultFailed)
			}
		}

		if _, err := in.Effects.Confirmed(ctx, pay, transitioned, confirmation.PaymentContext(pay), in.provider); err != nil {
			return outcome(http.StatusInternalServerError, ResultFailed)
		}
		log.WithField("transitioned", transitioned).Info("payment confirmed by gateway")
	}

	o := outcome(http.StatusOK, ResultProcessed)
	o.PaymentID = pay.ID
	return o
}

// correlate finds the payment by the gateway's own id first, then by the local
// reference the checkout sent along.
func (in *ingestor) correlate(ctx context.Context, ev *event) (*payment.Payment, error) {
	if ev.refValue != "" {
		p, err := in.Payments.FindByGatewayRef(ctx, ev.refKey, ev.refValue)
		if !errors.Is(err, payment.ErrNotFound) {
			return p, err
		}
	}

	id, ok := LocalPaymentID(ev.reference, in.RefPrefix)
	if !ok {
		return nil, payment.ErrNotFound
	}
	return in.Payments.GetByID(ctx, id)
}

// LocalPaymentID extracts the payment id from a reference of the form
// <prefix><uuid>. A bare uuid is accepted too.
func LocalPaymentID(reference, prefix string) (string, bool) {
	ref := strings.TrimSpace(reference)
	if prefix != "" && strings.HasPrefix(ref, prefix) {
		ref = strings.TrimPrefix(ref, prefix)
	}
	id, err := uuid.Parse(ref)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

// HasLocalPrefix reports whether the reference was minted by this system.
func HasLocalPrefix(reference, prefix string) bool {
	return prefix != "" && strings.HasPrefix(strings.TrimSpace(reference), prefix)
}
