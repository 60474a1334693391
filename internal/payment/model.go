package payment

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RawStatus is the status string stored on a payment row. Gateways and staff
// actions write it; Derive is the only reader that gives it meaning.
type RawStatus string

const (
	RawPending                 RawStatus = "pending"
	RawCompleted               RawStatus = "completed"
	RawFailed                  RawStatus = "failed"
	RawZelleConfirmed          RawStatus = "zelle_confirmed"
	RawRedirectedToZelle       RawStatus = "redirected_to_zelle"
	RawRedirectedToInfinitePay RawStatus = "redirected_to_infinitepay"
)

// Metadata keys.
const (
	KeyPaymentMethod          = "payment_method"
	KeyRequestedPaymentMethod = "requested_payment_method"
	KeyInstallment            = "installment"
	KeyCheckoutURL            = "checkout_url"
	KeyStripeSessionID        = "stripe_session_id"
	KeyStripePaymentIntent    = "stripe_payment_intent"
	KeyParcelowOrderID        = "parcelow_order_id"
	KeyParcelowCheckoutURL    = "parcelow_checkout_url"
	KeyZelleConfirmed         = "zelle_confirmed"
	KeyZellePaid              = "zelle_paid"
	KeyInfinitePayConfirmed   = "infinitepay_confirmed"
	KeyInfinitePayPaid        = "infinitepay_paid"
	KeySource                 = "source"
	KeyPaymentProofID         = "payment_proof_id"
	KeyConfirmedBy            = "confirmed_by"
	KeyFailureReason          = "failure_reason"
	KeyLastEventID            = "last_event_id"
)

// Payment methods and manual channels.
const (
	MethodCard        = "card"
	MethodPix         = "pix"
	MethodParcelow    = "parcelow"
	MethodZelle       = "zelle"
	MethodInfinitePay = "infinitepay"
)

// SourceManualProof tags payments created by approving a proof.
const SourceManualProof = "manual_proof"

// Payment is one payment attempt. TermAcceptanceID is empty when the attempt
// is not scoped to a term acceptance.
type Payment struct {
	ID               string          `json:"id"`
	LeadID           string          `json:"leadId"`
	TermAcceptanceID string          `json:"termAcceptanceId,omitempty"`
	Status           RawStatus       `json:"status"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Metadata         Metadata        `json:"metadata"`
	SyncedAt         *time.Time      `json:"syncedAt,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Installment returns the installment part the payment belongs to.
func (p *Payment) Installment() int {
	return p.Metadata.Installment()
}

// AmountMinor returns the amount in minor currency units.
func (p *Payment) AmountMinor() int64 {
	return ToMinor(p.Amount)
}

func ToMinor(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// Metadata is the free-form JSON bag stored with a payment.
type Metadata map[string]any

func (m Metadata) String(key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

// Flag reports whether key holds JSON true or exactly the string "true". It
// must agree with confirmedSQL, which compares metadata->>key = 'true'.
func (m Metadata) Flag(key string) bool {
	if m == nil {
		return false
	}
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}

// Installment returns 1 or 2. A missing or malformed tag means 1.
func (m Metadata) Installment() int {
	n, err := strconv.Atoi(m.String(KeyInstallment))
	if err != nil || n != 2 {
		return 1
	}
	return 2
}

// Merge returns a copy of m with other's keys applied on top.
func (m Metadata) Merge(other Metadata) Metadata {
	out := make(Metadata, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

func (m Metadata) marshal() ([]byte, error) {
	if m == nil {
		return []byte(`{}`), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return b, nil
}

func unmarshalMetadata(b []byte) (Metadata, error) {
	m := Metadata{}
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return m, nil
}
