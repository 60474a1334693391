package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/andreasstove999/lead-portal/reconciler-go/internal/middleware"
)

// MaxBodyBytes caps a webhook body. Gateway events are a few kilobytes.
const MaxBodyBytes = 1 << 20

// ReadBody returns the raw request body for signature verification.
func ReadBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
}

func MetaFromRequest(r *http.Request) RequestMeta {
	return RequestMeta{
		RequestID:  middleware.GetCorrelationID(r.Context()),
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}
}

// Write sends the outcome as the webhook response.
func (o Outcome) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(o.Status)
	_ = json.NewEncoder(w).Encode(o)
}
