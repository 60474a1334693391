package token

import (
	"errors"
	"time"
)

// ApprovalToken grants one-time access to a downstream form. The consumer of
// the token enforces single use: a token is valid only while now < ExpiresAt
// and UsedAt is nil.
type ApprovalToken struct {
	Token            string     `json:"token"`
	ContextKey       string     `json:"-"`
	LeadID           string     `json:"leadId"`
	TermAcceptanceID string     `json:"termAcceptanceId,omitempty"`
	PaymentID        string     `json:"paymentId,omitempty"`
	PaymentProofID   string     `json:"paymentProofId,omitempty"`
	ExpiresAt        time.Time  `json:"expiresAt"`
	UsedAt           *time.Time `json:"usedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

func (t *ApprovalToken) Valid(now time.Time) bool {
	return now.Before(t.ExpiresAt) && t.UsedAt == nil
}

// Context identifies the grant a token belongs to. A proof id takes
// precedence over a term acceptance; without either the payment scopes it.
type Context struct {
	LeadID           string
	TermAcceptanceID string
	PaymentProofID   string
	PaymentID        string
}

var errNoLead = errors.New("token context requires a lead id")

func (c Context) Key() (string, error) {
	if c.LeadID == "" {
		return "", errNoLead
	}
	switch {
	case c.PaymentProofID != "":
		return "lead:" + c.LeadID + "|proof:" + c.PaymentProofID, nil
	case c.TermAcceptanceID != "":
		return "lead:" + c.LeadID + "|ta:" + c.TermAcceptanceID, nil
	case c.PaymentID != "":
		return "lead:" + c.LeadID + "|payment:" + c.PaymentID, nil
	default:
		return "lead:" + c.LeadID, nil
	}
}
