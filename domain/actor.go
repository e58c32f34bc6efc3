package domain

import "context"

type actorKey struct{}

// ContextWithActor records the verified user a request acts for.
func ContextWithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// ActorFromContext returns the user recorded by ContextWithActor, or "".
func ActorFromContext(ctx context.Context) string {
	id, _ := ctx.Value(actorKey{}).(string)
	return id
}
