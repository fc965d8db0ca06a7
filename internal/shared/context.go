package shared

import (
	"context"

	"github.com/opsdeck/opsdeck/internal/identity"
)

type actorContextKey struct{}

// ContextWithActor stores the authenticated actor in context.
func ContextWithActor(ctx context.Context, actor identity.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context. The second return
// value is false when no actor was attached.
func ActorFromContext(ctx context.Context) (identity.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(identity.Actor)
	return actor, ok
}
