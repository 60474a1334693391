package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/andreasstove999/lead-portal/reconciler-go/internal/payment"
)

const ParcelowSignatureHeader = "X-Parcelow-Signature"

var (
	parcelowPaid   = map[string]bool{"paid": true, "approved": true, "completed": true}
	parcelowFailed = map[string]bool{"declined": true, "canceled": true, "cancelled": true, "expired": true, "refused": true}
)

// flexString accepts a JSON string or number. Parcelow sends order ids as
// numbers in some payloads and strings in others.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// ParcelowOrder is the order snapshot carried by a delivery. TotalCents is in
// minor units of Currency.
type ParcelowOrder struct {
	ID            flexString `json:"id"`
	Reference     string     `json:"reference"`
	Status        string     `json:"status"`
	TotalCents    *int64     `json:"total_cents"`
	Currency      string     `json:"currency"`
	PaymentMethod string     `json:"payment_method"`
}

type ParcelowEvent struct {
	EventID flexString    `json:"event_id"`
	Event   string        `json:"event"`
	Order   ParcelowOrder `json:"order"`
}

var errParcelowShape = errors.New("expected an object with order.id and order.status")

// ParseParcelow decodes a delivery without verifying it.
func ParseParcelow(raw []byte) (*ParcelowEvent, error) {
	var pe ParcelowEvent
	if err := json.Unmarshal(raw, &pe); err != nil {
		return nil, err
	}
	if pe.Order.ID == "" || pe.Order.Status == "" {
		return nil, errParcelowShape
	}
	return &pe, nil
}

// DedupID is the delivery's event id, or order id plus status for deliveries
// that carry none.
func (pe *ParcelowEvent) DedupID() string {
	if pe.EventID != "" {
		return string(pe.EventID)
	}
	return string(pe.Order.ID) + ":" + strings.ToLower(pe.Order.Status)
}

// VerifyParcelowSignature checks a hex HMAC-SHA256 of the raw body, with or
// without a sha256= prefix, against each secret in order.
func VerifyParcelowSignature(raw []byte, signature string, secrets []string) bool {
	sig := strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(sig)
	if err != nil || len(got) == 0 {
		return false
	}
	for _, secret := range secrets {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(raw)
		if hmac.Equal(got, mac.Sum(nil)) {
			return true
		}
	}
	return false
}

type ParcelowIngestor struct {
	ingestor
	secrets []string
}

func NewParcelowIngestor(secrets []string, d Deps) *ParcelowIngestor {
	return &ParcelowIngestor{ingestor: newIngestor(ProviderParcelow, d), secrets: secrets}
}

// Handle processes one delivery. raw must be the body exactly as received.
func (p *ParcelowIngestor) Handle(ctx context.Context, raw []byte, header http.Header, meta RequestMeta) Outcome {
	sig := header.Get(ParcelowSignatureHeader)
	verified := VerifyParcelowSignature(raw, sig, p.secrets)

	pe, err := ParseParcelow(raw)
	if err != nil {
		o := outcome(http.StatusBadRequest, ResultInvalid)
		o.Hint = errParcelowShape.Error()
		return o
	}
	ev := p.toEvent(pe)

	if !verified {
		if o, proceed := p.unverified(ctx, ev, raw, sig, meta); !proceed {
			return o
		}
	}
	return p.process(ctx, ev, raw, meta)
}

func (p *ParcelowIngestor) toEvent(pe *ParcelowEvent) *event {
	status := strings.ToLower(strings.TrimSpace(pe.Order.Status))
	ev := &event{
		id:        pe.DedupID(),
		typ:       pe.Event,
		refKey:    payment.KeyParcelowOrderID,
		refValue:  string(pe.Order.ID),
		reference: pe.Order.Reference,
	}
	if ev.typ == "" {
		ev.typ = "order." + status
	}

	switch {
	case parcelowPaid[status]:
		ev.change = transitionPaid
		ev.amountMinor = pe.Order.TotalCents
		ev.currency = pe.Order.Currency
		method := strings.TrimSpace(pe.Order.PaymentMethod)
		ev.method = func(context.Context) string {
			if method == "" {
				return payment.MethodParcelow
			}
			return method
		}
	case parcelowFailed[status]:
		ev.change = transitionFailed
	}
	return ev
}
