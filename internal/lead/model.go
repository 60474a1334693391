package lead

import "time"

// Lead is a prospective client. Document holds the CPF, which parcelow requires.
type Lead struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Document       string    `json:"document,omitempty"`
	ExternalUserID string    `json:"externalUserId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type TermAcceptance struct {
	ID         string    `json:"id"`
	LeadID     string    `json:"leadId"`
	AcceptedAt time.Time `json:"acceptedAt"`
}
