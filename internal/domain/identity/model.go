package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odontoagenda/agenda/internal/domain/access"
	"github.com/odontoagenda/agenda/internal/platform/apperr"
)

// Actor is a staff member who can sign in: a practitioner owning a calendar
// or an administrator.
type Actor struct {
	ID        uuid.UUID   `db:"id" json:"id"`
	Name      string      `db:"name" json:"name"`
	Role      access.Role `db:"role" json:"role"`
	Active    bool        `db:"active" json:"active"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}

// Identity is the access-control view of the actor.
func (a *Actor) Identity() access.Actor {
	return access.Actor{ID: a.ID, Role: a.Role, Active: a.Active}
}

// Practitioner is the public view of a practitioner's calendar owner.
type Practitioner struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Active bool      `json:"active"`
}

type CreateActorRequest struct {
	Name   string      `json:"name"`
	Role   access.Role `json:"role"`
	Active *bool       `json:"active,omitempty"`
}

func (r CreateActorRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return apperr.New(apperr.KindInvalidInput, "name is required")
	}
	if !r.Role.Valid() {
		return apperr.New(apperr.KindInvalidInput, "role must be practitioner or administrator")
	}
	return nil
}

// ActorPatch is a partial update. Nil fields are unchanged.
type ActorPatch struct {
	Name   *string      `json:"name,omitempty"`
	Role   *access.Role `json:"role,omitempty"`
	Active *bool        `json:"active,omitempty"`
}

func (p ActorPatch) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return apperr.New(apperr.KindInvalidInput, "name must not be empty")
	}
	if p.Role != nil && !p.Role.Valid() {
		return apperr.New(apperr.KindInvalidInput, "role must be practitioner or administrator")
	}
	return nil
}

func (p ActorPatch) apply(a *Actor) {
	if p.Name != nil {
		a.Name = strings.TrimSpace(*p.Name)
	}
	if p.Role != nil {
		a.Role = *p.Role
	}
	if p.Active != nil {
		a.Active = *p.Active
	}
}

// Patient is the minimal patient record the calendar references. Patients
// created from a booking payload start out not fully registered.
type Patient struct {
	ID              uuid.UUID `db:"id" json:"id"`
	FirstName       string    `db:"first_name" json:"first_name"`
	LastName        string    `db:"last_name" json:"last_name"`
	Phone           *string   `db:"phone" json:"phone,omitempty"`
	FullyRegistered bool      `db:"fully_registered" json:"fully_registered"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
