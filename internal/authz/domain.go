// Package authz resolves the acting user's role once per request and makes
// it available to handlers and services as an explicit Actor value.
package authz

import (
	"context"

	"github.com/google/uuid"
)

// Role enumerates the portal roles.
type Role string

const (
	RoleStudent   Role = "STUDENT"
	RoleRegistrar Role = "REGISTRAR"
	RoleAdmin     Role = "ADMIN"
)

// Actor identifies the authenticated caller for the duration of a request.
type Actor struct {
	UserID    uuid.UUID
	StudentID uuid.UUID
	Role      Role
}

// IsStaff reports whether the actor may perform registrar or admin mutations.
func (a Actor) IsStaff() bool {
	return a.Role == RoleRegistrar || a.Role == RoleAdmin
}

type actorContextKey struct{}

// ContextWithActor stores the resolved actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context. The second return value
// is false for unauthenticated requests.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
