package events

import (
	"fmt"
	"time"
)

// EventEnvelope is the common envelope for events published on the portal exchange.
type EventEnvelope[T any] struct {
	EventName     string    `json:"eventName"`
	EventVersion  int       `json:"eventVersion"`
	EventID       string    `json:"eventId"`
	CorrelationID string    `json:"correlationId,omitempty"`
	CausationID   string    `json:"causationId,omitempty"`
	Producer      string    `json:"producer"`
	PartitionKey  string    `json:"partitionKey"`
	OccurredAt    time.Time `json:"occurredAt"`
	Schema        string    `json:"schema"`
	Payload       T         `json:"payload"`
}

// Validate ensures the envelope contains the expected event identity.
func (e EventEnvelope[T]) Validate(expectedName string, expectedVersion int) error {
	if e.EventName != expectedName {
		return fmt.Errorf("unexpected eventName: %s", e.EventName)
	}
	if e.EventVersion != expectedVersion {
		return fmt.Errorf("unexpected eventVersion: %d", e.EventVersion)
	}
	if e.PartitionKey == "" {
		return fmt.Errorf("missing partitionKey")
	}
	return nil
}

type PaymentConfirmedPayload struct {
	PaymentID        string    `json:"paymentId"`
	LeadID           string    `json:"leadId"`
	TermAcceptanceID string    `json:"termAcceptanceId,omitempty"`
	Installment      int       `json:"installment"`
	AmountMinor      int64     `json:"amountMinor"`
	Currency         string    `json:"currency"`
	Method           string    `json:"method"`
	Source           string    `json:"source"`
	ConfirmedAt      time.Time `json:"confirmedAt"`
}

// EventMeta carries correlation/causation context for emitted events.
type EventMeta struct {
	CorrelationID string
	CausationID   string
}
