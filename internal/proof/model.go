package proof

import "time"

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Proof is client-submitted evidence of an out-of-band transfer. Only pending
// proofs move, and only to approved or rejected.
type Proof struct {
	ID               string     `json:"id"`
	LeadID           string     `json:"leadId"`
	TermAcceptanceID string     `json:"termAcceptanceId,omitempty"`
	Installment      int        `json:"installment"`
	PaymentMethod    string     `json:"paymentMethod"`
	Status           Status     `json:"status"`
	PaymentID        string     `json:"paymentId,omitempty"`
	ApprovedBy       string     `json:"approvedBy,omitempty"`
	ApprovedAt       *time.Time `json:"approvedAt,omitempty"`
	RejectionReason  string     `json:"rejectionReason,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}
