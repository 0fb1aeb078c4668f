package identity

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/odontoagenda/agenda/internal/domain/access"
	"github.com/odontoagenda/agenda/internal/domain/scheduling"
	"github.com/odontoagenda/agenda/internal/platform/apperr"
)

type Service struct {
	actors   ActorRepository
	patients PatientRepository
	logger   zerolog.Logger

	// mu serializes actor mutations in this process; LockActors does the same
	// across processes.
	mu sync.Mutex
}

func NewService(actors ActorRepository, patients PatientRepository, logger zerolog.Logger) *Service {
	return &Service{actors: actors, patients: patients, logger: logger}
}

// -- Actors --

// CreateActor registers a new actor on behalf of an administrator.
func (s *Service) CreateActor(ctx context.Context, by access.Actor, req CreateActorRequest) (*Actor, error) {
	if err := access.Authorize(by, access.OpManageActors, access.Target{}).Err(); err != nil {
		return nil, err
	}
	return s.RegisterActor(ctx, req)
}

// RegisterActor creates an actor without an acting identity. Used for
// bootstrap from the command line. The active-administrator guard still
// applies, so the first actor of an empty clinic must be an administrator.
func (s *Service) RegisterActor(ctx context.Context, req CreateActorRequest) (*Actor, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a := &Actor{
		ID:     uuid.New(),
		Name:   strings.TrimSpace(req.Name),
		Role:   req.Role,
		Active: true,
	}
	if req.Active != nil {
		a.Active = *req.Active
	}

	err := s.mutateActors(ctx, func(ctx context.Context, current []access.Actor) error {
		change := access.ActorChange{ActorID: a.ID, Role: &a.Role, Active: &a.Active}
		if err := access.GuardActorChange(current, change).Err(); err != nil {
			return err
		}
		return s.actors.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("actor_id", a.ID.String()).Str("role", string(a.Role)).Msg("actor created")
	return a, nil
}

// UpdateActor applies patch to an actor. Role and active changes are checked
// against the projected state of every actor so the clinic never loses its
// last active administrator.
func (s *Service) UpdateActor(ctx context.Context, by access.Actor, id uuid.UUID, patch ActorPatch) (*Actor, error) {
	if err := access.Authorize(by, access.OpManageActors, access.Target{}).Err(); err != nil {
		return nil, err
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	var updated *Actor
	err := s.mutateActors(ctx, func(ctx context.Context, current []access.Actor) error {
		a, err := s.actors.GetByID(ctx, id)
		if err != nil {
			return err
		}
		change := access.ActorChange{ActorID: id, Role: patch.Role, Active: patch.Active}
		if err := access.GuardActorChange(current, change).Err(); err != nil {
			return err
		}
		patch.apply(a)
		if err := s.actors.Update(ctx, a); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("actor_id", id.String()).
		Str("by", by.ID.String()).
		Str("role", string(updated.Role)).
		Bool("active", updated.Active).
		Msg("actor updated")
	return updated, nil
}

func (s *Service) mutateActors(ctx context.Context, fn func(ctx context.Context, current []access.Actor) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.actors.InTx(ctx, func(ctx context.Context) error {
		if err := s.actors.LockActors(ctx); err != nil {
			return err
		}
		all, err := s.actors.List(ctx)
		if err != nil {
			return err
		}
		current := make([]access.Actor, 0, len(all))
		for _, a := range all {
			current = append(current, a.Identity())
		}
		return fn(ctx, current)
	})
}

// GetActor returns an actor to an administrator or to the actor itself.
func (s *Service) GetActor(ctx context.Context, by access.Actor, id uuid.UUID) (*Actor, error) {
	if by.ID != id || !by.Active {
		if err := access.Authorize(by, access.OpManageActors, access.Target{}).Err(); err != nil {
			return nil, err
		}
	}
	return s.actors.GetByID(ctx, id)
}

func (s *Service) ListActors(ctx context.Context, by access.Actor) ([]*Actor, error) {
	if err := access.Authorize(by, access.OpManageActors, access.Target{}).Err(); err != nil {
		return nil, err
	}
	return s.actors.List(ctx)
}

// ListPractitioners returns every practitioner, active or not, so any
// signed-in actor can find the calendar ids to book against.
func (s *Service) ListPractitioners(ctx context.Context, by access.Actor) ([]Practitioner, error) {
	if err := access.Precheck(by).Err(); err != nil {
		return nil, err
	}
	all, err := s.actors.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Practitioner, 0, len(all))
	for _, a := range all {
		if a.Role != access.RolePractitioner {
			continue
		}
		out = append(out, Practitioner{ID: a.ID, Name: a.Name, Active: a.Active})
	}
	return out, nil
}

// Lookup resolves an actor's access identity. It backs authentication and the
// practitioner checks of the scheduling service.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (access.Actor, error) {
	a, err := s.actors.GetByID(ctx, id)
	if err != nil {
		return access.Actor{}, err
	}
	return a.Identity(), nil
}

// -- Patients --

// PatientRegistry adapts the patient repository to the scheduling service.
type PatientRegistry struct {
	patients PatientRepository
}

func NewPatientRegistry(patients PatientRepository) *PatientRegistry {
	return &PatientRegistry{patients: patients}
}

// ResolvePatient returns the id of an existing patient, or creates a
// pre-registered patient from an explicit payload. Names are never matched
// against existing records.
func (r *PatientRegistry) ResolvePatient(ctx context.Context, ref scheduling.PatientRef) (uuid.UUID, error) {
	if err := ref.Validate(); err != nil {
		return uuid.Nil, err
	}
	if ref.ID != nil {
		ok, err := r.patients.Exists(ctx, *ref.ID)
		if err != nil {
			return uuid.Nil, err
		}
		if !ok {
			return uuid.Nil, apperr.New(apperr.KindInvalidTarget, "patient %s does not exist", *ref.ID)
		}
		return *ref.ID, nil
	}

	p := &Patient{
		FirstName: strings.TrimSpace(ref.New.FirstName),
		LastName:  strings.TrimSpace(ref.New.LastName),
		Phone:     ref.New.Phone,
	}
	if err := r.patients.Create(ctx, p); err != nil {
		return uuid.Nil, err
	}
	return p.ID, nil
}

func (r *PatientRegistry) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.patients.Exists(ctx, id)
}

// Directory exposes actors to the scheduling service and the auth middleware.
type Directory struct {
	svc *Service
}

func NewDirectory(svc *Service) *Directory {
	return &Directory{svc: svc}
}

func (d *Directory) GetActor(ctx context.Context, id uuid.UUID) (access.Actor, error) {
	a, err := d.svc.Lookup(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return access.Actor{}, apperr.New(apperr.KindNotFound, "actor %s not found", id)
	}
	return a, err
}

var (
	_ scheduling.PatientRegistry       = (*PatientRegistry)(nil)
	_ scheduling.PractitionerDirectory = (*Directory)(nil)
)
