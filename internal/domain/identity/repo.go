package identity

import (
	"context"

	"github.com/google/uuid"
)

type ActorRepository interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	// LockActors serializes actor mutations until the surrounding transaction
	// ends.
	LockActors(ctx context.Context) error
	GetByID(ctx context.Context, id uuid.UUID) (*Actor, error)
	List(ctx context.Context) ([]*Actor, error)
	Create(ctx context.Context, a *Actor) error
	Update(ctx context.Context, a *Actor) error
}

type PatientRepository interface {
	// Create joins the transaction carried by ctx, if any.
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}
