package access

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odontoagenda/agenda/internal/platform/apperr"
)

func practitioner() Actor {
	return Actor{ID: uuid.New(), Role: RolePractitioner, Active: true}
}

func administrator() Actor {
	return Actor{ID: uuid.New(), Role: RoleAdministrator, Active: true}
}

func TestAuthorize_InactiveDeniedEverything(t *testing.T) {
	for _, a := range []Actor{practitioner(), administrator()} {
		a.Active = false
		for _, op := range []Operation{OpBook, OpView, OpList, OpReschedule, OpCancel, OpManageActors} {
			d := Authorize(a, op, Target{PractitionerID: a.ID})
			assert.False(t, d.Permit, "role=%s op=%s", a.Role, op)
			assert.Equal(t, ReasonActorInactive, d.Reason)
			assert.ErrorIs(t, d.Err(), apperr.ErrActorInactive)
		}
	}
}

func TestPrecheck(t *testing.T) {
	a := practitioner()
	assert.True(t, Precheck(a).Permit)

	a.Active = false
	assert.ErrorIs(t, Precheck(a).Err(), apperr.ErrActorInactive)
}

func TestAuthorize_PractitionerOwnCalendar(t *testing.T) {
	p := practitioner()

	assert.True(t, Authorize(p, OpBook, Target{PractitionerID: p.ID}).Permit)
	assert.True(t, Authorize(p, OpCancel, Target{PractitionerID: p.ID}).Permit)
	assert.True(t, Authorize(p, OpReschedule, Target{PractitionerID: p.ID, NewPractitionerID: &p.ID}).Permit)

	other := uuid.New()
	d := Authorize(p, OpCancel, Target{PractitionerID: other})
	assert.False(t, d.Permit)
	assert.ErrorIs(t, d.Err(), apperr.ErrForbidden)

	d = Authorize(p, OpReschedule, Target{PractitionerID: p.ID, NewPractitionerID: &other})
	assert.False(t, d.Permit)
	assert.Equal(t, ReasonRoleDenied, d.Reason)

	assert.False(t, Authorize(p, OpManageActors, Target{}).Permit)
}

func TestAuthorize_AdministratorAnything(t *testing.T) {
	a := administrator()
	other := uuid.New()
	assert.True(t, Authorize(a, OpBook, Target{PractitionerID: other}).Permit)
	assert.True(t, Authorize(a, OpReschedule, Target{PractitionerID: other, NewPractitionerID: &a.ID}).Permit)
	assert.True(t, Authorize(a, OpManageActors, Target{}).Permit)
	assert.NoError(t, Authorize(a, OpCancel, Target{PractitionerID: other}).Err())
}

func TestAuthorize_UnknownRole(t *testing.T) {
	a := Actor{ID: uuid.New(), Role: "receptionist", Active: true}
	assert.False(t, Authorize(a, OpList, Target{PractitionerID: a.ID}).Permit)
}

func TestGuardActorChange_SoleAdministrator(t *testing.T) {
	admin := administrator()
	actors := []Actor{admin, practitioner()}

	inactive := false
	d := GuardActorChange(actors, ActorChange{ActorID: admin.ID, Active: &inactive})
	assert.False(t, d.Permit)
	assert.ErrorIs(t, d.Err(), apperr.ErrLastActiveAdministrator)

	demoted := RolePractitioner
	d = GuardActorChange(actors, ActorChange{ActorID: admin.ID, Role: &demoted})
	assert.Equal(t, ReasonLastActiveAdministrator, d.Reason)

	// input slice untouched
	assert.True(t, actors[0].Active)
	assert.Equal(t, RoleAdministrator, actors[0].Role)
}

func TestGuardActorChange_AnotherAdministratorRemains(t *testing.T) {
	a1, a2 := administrator(), administrator()
	inactive := false
	d := GuardActorChange([]Actor{a1, a2}, ActorChange{ActorID: a1.ID, Active: &inactive})
	assert.True(t, d.Permit)
}

func TestGuardActorChange_InactiveAdministratorDoesNotCount(t *testing.T) {
	a1, a2 := administrator(), administrator()
	a2.Active = false
	demoted := RolePractitioner
	d := GuardActorChange([]Actor{a1, a2}, ActorChange{ActorID: a1.ID, Role: &demoted})
	assert.False(t, d.Permit)
}

func TestGuardActorChange_PromotionRescuesState(t *testing.T) {
	p := practitioner()
	promoted := RoleAdministrator
	d := GuardActorChange([]Actor{p}, ActorChange{ActorID: p.ID, Role: &promoted})
	assert.True(t, d.Permit)
}

func TestGuardActorChange_NewActor(t *testing.T) {
	role := RoleAdministrator
	d := GuardActorChange(nil, ActorChange{ActorID: uuid.New(), Role: &role})
	assert.True(t, d.Permit)

	role = RolePractitioner
	d = GuardActorChange(nil, ActorChange{ActorID: uuid.New(), Role: &role})
	assert.False(t, d.Permit)
}

func TestActorContext(t *testing.T) {
	_, ok := ActorFromContext(context.Background())
	assert.False(t, ok)

	p := practitioner()
	got, ok := ActorFromContext(WithActor(context.Background(), p))
	require.True(t, ok)
	assert.Equal(t, p, got)
}
