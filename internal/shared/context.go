package shared

import "context"

type actorContextKey struct{}

// Actor identifies the authenticated caller as resolved by the upstream
// gateway. Authentication itself is an external collaborator; this core only
// trusts the forwarded identity.
type Actor struct {
	ID   int64
	Role string
}

// Actor roles recognised by the transition services.
const (
	RoleDriver  = "driver"
	RoleManager = "manager"
	RoleOwner   = "owner"
)

// ContextWithActor stores the acting user in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the acting user from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
