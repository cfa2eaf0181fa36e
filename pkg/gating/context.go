package gating

import (
	"context"

	"github.com/google/uuid"
)

type contextKey struct{ name string }

var parishIDKey = contextKey{"parish_id"}

// WithParishID stores the authenticated parish ID in the context.
// The authentication layer calls this before the gating middleware runs.
func WithParishID(ctx context.Context, parishID uuid.UUID) context.Context {
	return context.WithValue(ctx, parishIDKey, parishID)
}

// ParishIDFromContext retrieves the parish ID set by the
// authentication layer.
func ParishIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(parishIDKey).(uuid.UUID)
	return id, ok
}
