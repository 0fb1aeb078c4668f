package scheduling

import (
	"context"

	"github.com/google/uuid"

	"github.com/odontoagenda/agenda/internal/domain/access"
)

// SlotRepository is the calendar store. Methods called with the context
// passed to an InTx callback run inside that transaction.
type SlotRepository interface {
	// InTx runs fn in one transaction; an error from fn rolls everything back.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	// LockCalendars serializes writers on the given practitioners' calendars
	// across processes until the surrounding transaction ends.
	LockCalendars(ctx context.Context, practitionerIDs ...uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	ListForDay(ctx context.Context, practitionerID uuid.UUID, date Date) ([]*Slot, error)
	Create(ctx context.Context, s *Slot) error
	Update(ctx context.Context, s *Slot) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, f Filter) ([]*Slot, int, error)
}

// PatientRegistry resolves the patient of a booking. Creating a patient must
// join the transaction carried by ctx so a failed booking leaves no patient.
type PatientRegistry interface {
	ResolvePatient(ctx context.Context, ref PatientRef) (uuid.UUID, error)
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// PractitionerDirectory looks up actors targeted by bookings.
type PractitionerDirectory interface {
	GetActor(ctx context.Context, id uuid.UUID) (access.Actor, error)
}
