package shared

import "context"

type actorContextKey struct{}

// Actor identifies the authenticated caller of a mutating operation.
// Authentication itself happens upstream; only the identity is carried here.
type Actor struct {
	Email string
}

// ContextWithActor stores the actor identity in the context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the actor identity, or the zero Actor when absent.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorContextKey{}).(Actor)
	return actor
}
