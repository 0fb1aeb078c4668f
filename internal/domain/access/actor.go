// Package access holds the identity context of a request and the access
// policy every scheduling and actor-management operation is gated by.
package access

import (
	"context"

	"github.com/google/uuid"
)

type Role string

const (
	RolePractitioner  Role = "practitioner"
	RoleAdministrator Role = "administrator"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RolePractitioner || r == RoleAdministrator
}

// Actor is the authenticated principal performing an operation.
type Actor struct {
	ID     uuid.UUID `json:"id"`
	Role   Role      `json:"role"`
	Active bool      `json:"active"`
}

func (a Actor) IsAdministrator() bool { return a.Role == RoleAdministrator }

func (a Actor) IsPractitioner() bool { return a.Role == RolePractitioner }

type contextKey string

const actorKey contextKey = "actor"

// WithActor stores the identity context on ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFromContext returns the identity context set by the auth middleware.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}
