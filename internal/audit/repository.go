package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcomes recorded for webhook deliveries that need a forensic trail.
const (
	OutcomeUnverifiedRejected    = "unverified_rejected"
	OutcomeUnverifiedAccepted    = "unverified_accepted"
	OutcomeUnverifiedQuarantined = "unverified_quarantined"
	OutcomeUnmatched             = "unmatched"
	OutcomeForwarded             = "forwarded"
	OutcomeForwardFailed         = "forward_failed"
)

const maxSignatureLen = 512

type Record struct {
	ID         string    `json:"id"`
	Provider   string    `json:"provider"`
	EventID    string    `json:"eventId,omitempty"`
	EventType  string    `json:"eventType,omitempty"`
	Outcome    string    `json:"outcome"`
	RequestID  string    `json:"requestId,omitempty"`
	RemoteAddr string    `json:"remoteAddr,omitempty"`
	UserAgent  string    `json:"userAgent,omitempty"`
	Signature  string    `json:"signature,omitempty"`
	Payload    []byte    `json:"-"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Repository interface {
	Record(ctx context.Context, rec *Record) error
	ListByEvent(ctx context.Context, provider, eventID string) ([]Record, error)
}

type repo struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repo{db: db}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *repo) Record(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	sig := rec.Signature
	if len(sig) > maxSignatureLen {
		sig = sig[:maxSignatureLen]
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO webhook_audit
            (id, provider, event_id, event_type, outcome, request_id, remote_addr, user_agent, signature, payload, detail)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11)
         RETURNING created_at`,
		rec.ID, rec.Provider, nullString(rec.EventID), nullString(rec.EventType), rec.Outcome,
		nullString(rec.RequestID), nullString(rec.RemoteAddr), nullString(rec.UserAgent),
		nullString(sig), nullString(string(rec.Payload)), nullString(rec.Detail),
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert webhook audit: %w", err)
	}
	return nil
}

func (r *repo) ListByEvent(ctx context.Context, provider, eventID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, provider, COALESCE(event_id, ''), COALESCE(event_type, ''), outcome,
                COALESCE(request_id, ''), COALESCE(detail, ''), created_at
         FROM webhook_audit
         WHERE provider = $1 AND event_id = $2
         ORDER BY created_at`,
		provider, eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("select webhook audit: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Provider, &rec.EventID, &rec.EventType, &rec.Outcome,
			&rec.RequestID, &rec.Detail, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook audit: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
