package middleware

import "context"

type ctxKey string

const (
	ctxCorrelationID ctxKey = "correlation_id"
	ctxStaffID       ctxKey = "staff_id"
)

func GetCorrelationID(ctx context.Context) string {
	if v := ctx.Value(ctxCorrelationID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithCorrelationID is used by background work that outlives the request.
func WithCorrelationID(ctx context.Context, cid string) context.Context {
	return context.WithValue(ctx, ctxCorrelationID, cid)
}

func GetStaffID(ctx context.Context) string {
	if v := ctx.Value(ctxStaffID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
