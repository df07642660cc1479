package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/merkadoph/merkado-backend/pkg/enums"
	"github.com/merkadoph/merkado-backend/pkg/logger"
)

type contextKey string

const (
	ctxActorID   contextKey = "actor_id"
	ctxActorType contextKey = "actor_type"

	actorIDHeader   = "X-Actor-Id"
	actorTypeHeader = "X-Actor-Type"
)

// ActorContext lifts the caller identity headers set by the edge proxy into
// the request context. Authentication itself happens upstream.
func ActorContext(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if raw := r.Header.Get(actorIDHeader); raw != "" {
				if actorID, err := uuid.Parse(raw); err == nil {
					ctx = context.WithValue(ctx, ctxActorID, actorID)
					if logg != nil {
						ctx = logg.WithActorID(ctx, actorID.String())
					}
				}
			}
			if raw := r.Header.Get(actorTypeHeader); raw != "" {
				if actorType, err := enums.ParseActorType(raw); err == nil {
					ctx = context.WithValue(ctx, ctxActorType, actorType)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ActorIDFromContext(ctx context.Context) uuid.UUID {
	if ctx == nil {
		return uuid.Nil
	}
	if v, ok := ctx.Value(ctxActorID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

func ActorTypeFromContext(ctx context.Context) enums.ActorType {
	if ctx == nil {
		return enums.ActorTypeUser
	}
	if v, ok := ctx.Value(ctxActorType).(enums.ActorType); ok {
		return v
	}
	return enums.ActorTypeUser
}

// WithActor injects a caller identity, used by tests and internal callers.
func WithActor(ctx context.Context, actorID uuid.UUID, actorType enums.ActorType) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxActorID, actorID)
	return context.WithValue(ctx, ctxActorType, actorType)
}
