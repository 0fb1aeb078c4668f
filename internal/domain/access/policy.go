package access

import (
	"github.com/google/uuid"

	"github.com/odontoagenda/agenda/internal/platform/apperr"
)

type Operation string

const (
	OpBook         Operation = "book"
	OpView         Operation = "view"
	OpList         Operation = "list"
	OpReschedule   Operation = "reschedule"
	OpCancel       Operation = "cancel"
	OpManageActors Operation = "manage_actors"
)

// Target describes what an operation touches. PractitionerID is the calendar
// the slot belongs to (or will belong to on booking); NewPractitionerID is set
// when a reschedule reassigns the slot.
type Target struct {
	PractitionerID    uuid.UUID
	NewPractitionerID *uuid.UUID
}

// Reason explains a denial. Empty on permit.
type Reason string

const (
	ReasonNone                    Reason = ""
	ReasonActorInactive           Reason = "actor_inactive"
	ReasonRoleDenied              Reason = "role_denied"
	ReasonLastActiveAdministrator Reason = "last_active_administrator"
)

type Decision struct {
	Permit bool
	Reason Reason
}

var permit = Decision{Permit: true}

func deny(r Reason) Decision { return Decision{Reason: r} }

// Err converts a denial into the matching classified error, nil on permit.
func (d Decision) Err() error {
	if d.Permit {
		return nil
	}
	switch d.Reason {
	case ReasonActorInactive:
		return apperr.ErrActorInactive
	case ReasonLastActiveAdministrator:
		return apperr.ErrLastActiveAdministrator
	default:
		return apperr.ErrForbidden
	}
}

// Precheck is the part of Authorize that does not depend on the target. Call
// it before loading a target so a denied actor learns nothing about what
// exists.
func Precheck(actor Actor) Decision {
	if !actor.Active {
		return deny(ReasonActorInactive)
	}
	return permit
}

// Authorize decides whether actor may perform op on target.
//
// Inactive actors are denied everything. Administrators may do anything.
// Practitioners may only act on their own calendar, may never move a slot to
// another calendar, and may not manage actors.
func Authorize(actor Actor, op Operation, target Target) Decision {
	if d := Precheck(actor); !d.Permit {
		return d
	}
	switch actor.Role {
	case RoleAdministrator:
		return permit
	case RolePractitioner:
		if op == OpManageActors {
			return deny(ReasonRoleDenied)
		}
		if target.PractitionerID != actor.ID {
			return deny(ReasonRoleDenied)
		}
		if target.NewPractitionerID != nil && *target.NewPractitionerID != actor.ID {
			return deny(ReasonRoleDenied)
		}
		return permit
	default:
		return deny(ReasonRoleDenied)
	}
}

// ActorChange is a proposed mutation of an actor's role or active flag, or the
// creation of a new actor when the id is not in the current set.
type ActorChange struct {
	ActorID uuid.UUID
	Role    *Role
	Active  *bool
}

// GuardActorChange evaluates change against the projected post-change state
// of actors and denies it if no active administrator would remain.
func GuardActorChange(actors []Actor, change ActorChange) Decision {
	projected := make([]Actor, 0, len(actors)+1)
	found := false
	for _, a := range actors {
		if a.ID == change.ActorID {
			a = change.apply(a)
			found = true
		}
		projected = append(projected, a)
	}
	if !found {
		projected = append(projected, change.apply(Actor{ID: change.ActorID, Active: true}))
	}

	for _, a := range projected {
		if a.Active && a.IsAdministrator() {
			return permit
		}
	}
	return deny(ReasonLastActiveAdministrator)
}

func (c ActorChange) apply(a Actor) Actor {
	if c.Role != nil {
		a.Role = *c.Role
	}
	if c.Active != nil {
		a.Active = *c.Active
	}
	return a
}
