package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/andreasstove999/lead-portal/reconciler-go/internal/payment"
)

// PaymentPublisher announces confirmed payments to other portal services.
type PaymentPublisher interface {
	PublishPaymentConfirmed(ctx context.Context, meta EventMeta, p *payment.Payment, source string) error
}

type Publisher struct {
	ch       Channel
	producer string
	now      func() time.Time
}

func NewPublisher(conn *amqp.Connection, producer string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return NewPublisherWithChannel(ch, producer)
}

func NewPublisherWithChannel(ch Channel, producer string) (*Publisher, error) {
	if err := declareEventsExchange(ch); err != nil {
		return nil, fmt.Errorf("declare events exchange: %w", err)
	}
	if producer == "" {
		producer = defaultProducer
	}
	return &Publisher{ch: ch, producer: producer, now: time.Now}, nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

func (p *Publisher) PublishPaymentConfirmed(ctx context.Context, meta EventMeta, pay *payment.Payment, source string) error {
	env := newPaymentConfirmedEvent(meta, p.producer, pay, source, p.now().UTC())
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal PaymentConfirmed envelope: %w", err)
	}
	return p.publishJSON(ctx, PaymentConfirmedRoutingKey, env.EventID, body)
}

func (p *Publisher) publishJSON(ctx context.Context, routingKey, messageID string, body []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(
		pubCtx,
		EventsExchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Body:         body,
		},
	)
}

func newPaymentConfirmedEvent(meta EventMeta, producer string, p *payment.Payment, source string, occurredAt time.Time) EventEnvelope[PaymentConfirmedPayload] {
	method := ""
	if s, ok := payment.Derive(p).(payment.PaidConfirmed); ok {
		method = s.Method
	}
	return EventEnvelope[PaymentConfirmedPayload]{
		EventName:     EventTypePaymentConfirmed,
		EventVersion:  1,
		EventID:       uuid.NewString(),
		CorrelationID: meta.CorrelationID,
		CausationID:   meta.CausationID,
		Producer:      producer,
		PartitionKey:  p.LeadID,
		OccurredAt:    occurredAt,
		Schema:        paymentConfirmedSchema,
		Payload: PaymentConfirmedPayload{
			PaymentID:        p.ID,
			LeadID:           p.LeadID,
			TermAcceptanceID: p.TermAcceptanceID,
			Installment:      p.Installment(),
			AmountMinor:      p.AmountMinor(),
			Currency:         p.Currency,
			Method:           method,
			Source:           source,
			ConfirmedAt:      occurredAt,
		},
	}
}

// Noop is used when no broker is configured.
type Noop struct{}

func (Noop) PublishPaymentConfirmed(context.Context, EventMeta, *payment.Payment, string) error {
	return nil
}
