package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odontoagenda/agenda/internal/domain/access"
	"github.com/odontoagenda/agenda/internal/platform/apperr"
	"github.com/odontoagenda/agenda/internal/platform/events"
	"github.com/odontoagenda/agenda/internal/platform/metrics"
)

var tracer = otel.Tracer("agenda.internal.domain.scheduling")

const DefaultStoreTimeout = 5 * time.Second

// Options configures a Service. Zero values select defaults.
type Options struct {
	Publisher    events.Publisher
	Metrics      *metrics.SchedulingMetrics
	Logger       zerolog.Logger
	StoreTimeout time.Duration
	OpensAt      ClockTime
	ClosesAt     ClockTime
	Now          func() time.Time
}

type Service struct {
	slots        SlotRepository
	patients     PatientRegistry
	directory    PractitionerDirectory
	publisher    events.Publisher
	metrics      *metrics.SchedulingMetrics
	logger       zerolog.Logger
	locks        *calendarLocks
	storeTimeout time.Duration
	opensAt      ClockTime
	closesAt     ClockTime
	now          func() time.Time
}

func NewService(slots SlotRepository, patients PatientRegistry, directory PractitionerDirectory, opts Options) *Service {
	s := &Service{
		slots:        slots,
		patients:     patients,
		directory:    directory,
		publisher:    opts.Publisher,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		locks:        newCalendarLocks(),
		storeTimeout: opts.StoreTimeout,
		opensAt:      opts.OpensAt,
		closesAt:     opts.ClosesAt,
		now:          opts.Now,
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = DefaultStoreTimeout
	}
	if s.closesAt == 0 {
		s.opensAt, s.closesAt = MustClock("08:00"), MustClock("18:00")
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// mutationContext detaches ctx from client cancellation so a committed write
// is never abandoned half-way, and bounds the whole mutation by the store
// timeout.
func (s *Service) mutationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
}

func (s *Service) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// Book creates a slot on the target practitioner's calendar.
func (s *Service) Book(ctx context.Context, actor access.Actor, req BookingRequest) (slot *Slot, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.Book", trace.WithAttributes(attribute.String("agenda.actor_id", actor.ID.String())))
	defer span.End()
	defer s.observe("book", s.now(), span, &err)

	practitionerID := actor.ID
	if req.PractitionerID != nil {
		practitionerID = *req.PractitionerID
	} else if actor.IsAdministrator() {
		practitionerID = uuid.Nil
	}
	if err := access.Authorize(actor, access.OpBook, access.Target{PractitionerID: practitionerID}).Err(); err != nil {
		return nil, err
	}

	if req.StartTime == nil {
		return nil, apperr.New(apperr.KindInvalidInput, "start_time is required")
	}
	candidate := &Slot{
		PractitionerID:  practitionerID,
		Date:            req.Date,
		StartTime:       *req.StartTime,
		DurationMinutes: DefaultDurationMinutes,
		Note:            req.Note,
	}
	if req.DurationMinutes != nil {
		candidate.DurationMinutes = *req.DurationMinutes
	}
	if err := candidate.validateTiming(); err != nil {
		return nil, err
	}
	ref := req.PatientRef()
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if practitionerID == uuid.Nil {
		return nil, apperr.New(apperr.KindInvalidTarget, "practitioner_id is required when booking as administrator")
	}
	span.SetAttributes(attribute.String("agenda.practitioner_id", practitionerID.String()))

	ctx, cancel := s.mutationContext(ctx)
	defer cancel()

	if err := s.requireBookable(ctx, practitionerID); err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, practitionerID)
	if err != nil {
		return nil, err
	}
	defer release()

	err = s.slots.InTx(ctx, func(ctx context.Context) error {
		if err := s.slots.LockCalendars(ctx, practitionerID); err != nil {
			return err
		}
		patientID, err := s.patients.ResolvePatient(ctx, ref)
		if err != nil {
			return err
		}
		candidate.PatientID = patientID

		day, err := s.slots.ListForDay(ctx, practitionerID, candidate.Date)
		if err != nil {
			return err
		}
		if res := CheckConflict(candidate, day, uuid.Nil); res.Conflict {
			return &ConflictError{With: res.With}
		}
		return s.slots.Create(ctx, candidate)
	})
	if err != nil {
		return nil, storeFailure(err)
	}

	s.logger.Info().
		Str("slot_id", candidate.ID.String()).
		Str("practitioner_id", practitionerID.String()).
		Str("actor_id", actor.ID.String()).
		Str("date", candidate.Date.String()).
		Str("start_time", candidate.StartTime.String()).
		Int("duration_minutes", candidate.DurationMinutes).
		Msg("slot booked")
	s.publish(ctx, events.TypeSlotBooked, candidate, practitionerID)
	return candidate, nil
}

// Reschedule merges patch into an existing slot and re-validates it against
// every other slot on the resulting calendar day.
func (s *Service) Reschedule(ctx context.Context, actor access.Actor, slotID uuid.UUID, patch SlotPatch) (slot *Slot, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.Reschedule", trace.WithAttributes(
		attribute.String("agenda.actor_id", actor.ID.String()),
		attribute.String("agenda.slot_id", slotID.String()),
	))
	defer span.End()
	defer s.observe("reschedule", s.now(), span, &err)

	if err := access.Precheck(actor).Err(); err != nil {
		return nil, err
	}

	ctx, cancel := s.mutationContext(ctx)
	defer cancel()

	existing, err := s.slots.GetByID(ctx, slotID)
	if err != nil {
		return nil, storeFailure(err)
	}
	if err := s.authorizeChange(actor, access.OpReschedule, existing, patch); err != nil {
		return nil, err
	}

	target := existing.PractitionerID
	if patch.PractitionerID != nil && *patch.PractitionerID != existing.PractitionerID {
		target = *patch.PractitionerID
		if err := s.requireBookable(ctx, target); err != nil {
			return nil, err
		}
	}
	if patch.PatientID != nil && *patch.PatientID != existing.PatientID {
		ok, err := s.patients.PatientExists(ctx, *patch.PatientID)
		if err != nil {
			return nil, storeFailure(err)
		}
		if !ok {
			return nil, apperr.New(apperr.KindInvalidTarget, "patient %s does not exist", *patch.PatientID)
		}
	}
	if err := patch.Apply(existing).Validate(); err != nil {
		return nil, err
	}

	locked := []uuid.UUID{existing.PractitionerID, target}
	release, err := s.acquire(ctx, locked...)
	if err != nil {
		return nil, err
	}
	defer release()

	var previous, updated *Slot
	err = s.slots.InTx(ctx, func(ctx context.Context) error {
		if err := s.slots.LockCalendars(ctx, locked...); err != nil {
			return err
		}
		current, err := s.slots.GetByID(ctx, slotID)
		if err != nil {
			return err
		}
		if current.PractitionerID != existing.PractitionerID && current.PractitionerID != target {
			return apperr.New(apperr.KindStoreUnavailable, "slot %s moved concurrently, retry", slotID)
		}
		if err := s.authorizeChange(actor, access.OpReschedule, current, patch); err != nil {
			return err
		}

		merged := patch.Apply(current)
		if err := merged.Validate(); err != nil {
			return err
		}
		day, err := s.slots.ListForDay(ctx, merged.PractitionerID, merged.Date)
		if err != nil {
			return err
		}
		if res := CheckConflict(merged, day, merged.ID); res.Conflict {
			return &ConflictError{With: res.With}
		}
		if err := s.slots.Update(ctx, merged); err != nil {
			return err
		}
		previous, updated = current, merged
		return nil
	})
	if err != nil {
		return nil, storeFailure(err)
	}

	s.logger.Info().
		Str("slot_id", slotID.String()).
		Str("practitioner_id", updated.PractitionerID.String()).
		Str("actor_id", actor.ID.String()).
		Str("date", updated.Date.String()).
		Str("start_time", updated.StartTime.String()).
		Int("duration_minutes", updated.DurationMinutes).
		Msg("slot rescheduled")
	s.publish(ctx, events.TypeSlotRescheduled, updated, updated.PractitionerID)
	if previous.PractitionerID != updated.PractitionerID {
		s.publish(ctx, events.TypeSlotRescheduled, updated, previous.PractitionerID)
	}
	return updated, nil
}

// Cancel deletes a slot once the actor is authorized for its calendar.
func (s *Service) Cancel(ctx context.Context, actor access.Actor, slotID uuid.UUID) (err error) {
	ctx, span := tracer.Start(ctx, "scheduling.Cancel", trace.WithAttributes(
		attribute.String("agenda.actor_id", actor.ID.String()),
		attribute.String("agenda.slot_id", slotID.String()),
	))
	defer span.End()
	defer s.observe("cancel", s.now(), span, &err)

	if err := access.Precheck(actor).Err(); err != nil {
		return err
	}

	ctx, cancel := s.mutationContext(ctx)
	defer cancel()

	existing, err := s.slots.GetByID(ctx, slotID)
	if err != nil {
		return storeFailure(err)
	}
	if err := s.authorizeChange(actor, access.OpCancel, existing, SlotPatch{}); err != nil {
		return err
	}

	release, err := s.acquire(ctx, existing.PractitionerID)
	if err != nil {
		return err
	}
	defer release()

	var removed *Slot
	err = s.slots.InTx(ctx, func(ctx context.Context) error {
		if err := s.slots.LockCalendars(ctx, existing.PractitionerID); err != nil {
			return err
		}
		current, err := s.slots.GetByID(ctx, slotID)
		if err != nil {
			return err
		}
		if err := s.authorizeChange(actor, access.OpCancel, current, SlotPatch{}); err != nil {
			return err
		}
		if err := s.slots.Delete(ctx, slotID); err != nil {
			return err
		}
		removed = current
		return nil
	})
	if err != nil {
		return storeFailure(err)
	}

	s.logger.Info().
		Str("slot_id", slotID.String()).
		Str("practitioner_id", removed.PractitionerID.String()).
		Str("actor_id", actor.ID.String()).
		Msg("slot cancelled")
	s.publish(ctx, events.TypeSlotCancelled, removed, removed.PractitionerID)
	return nil
}

// Get returns one slot if the actor may view its calendar.
func (s *Service) Get(ctx context.Context, actor access.Actor, slotID uuid.UUID) (*Slot, error) {
	if err := access.Precheck(actor).Err(); err != nil {
		return nil, err
	}
	ctx, cancel := s.readContext(ctx)
	defer cancel()

	slot, err := s.slots.GetByID(ctx, slotID)
	if err != nil {
		return nil, storeFailure(err)
	}
	if err := access.Authorize(actor, access.OpView, access.Target{PractitionerID: slot.PractitionerID}).Err(); err != nil {
		return nil, err
	}
	return slot, nil
}

// List returns slots ordered by date and start time. Practitioners only ever
// see their own calendar whatever the filter says.
func (s *Service) List(ctx context.Context, actor access.Actor, f Filter) (items []*Slot, total int, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.List")
	defer span.End()
	defer s.observe("list", s.now(), span, &err)

	if actor.IsPractitioner() {
		f.PractitionerID = actor.ID
	}
	if err := access.Authorize(actor, access.OpList, access.Target{PractitionerID: f.PractitionerID}).Err(); err != nil {
		return nil, 0, err
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, 0, apperr.New(apperr.KindInvalidInput, "to must not be before from")
	}

	ctx, cancel := s.readContext(ctx)
	defer cancel()

	items, total, err = s.slots.Search(ctx, f)
	if err != nil {
		return nil, 0, storeFailure(err)
	}
	SortSlots(items)
	return items, total, nil
}

// ListDay lists the slots offset days from today.
func (s *Service) ListDay(ctx context.Context, actor access.Actor, practitionerID uuid.UUID, offset int) ([]*Slot, error) {
	day := DateOf(s.now()).AddDays(offset)
	items, _, err := s.List(ctx, actor, Filter{PractitionerID: practitionerID, From: day, To: day})
	return items, err
}

// FreeWindows returns the unbooked intervals within clinic hours on one
// practitioner's day that fit at least minMinutes.
func (s *Service) FreeWindows(ctx context.Context, actor access.Actor, practitionerID uuid.UUID, date Date, minMinutes int) ([]Window, error) {
	if actor.IsPractitioner() && practitionerID == uuid.Nil {
		practitionerID = actor.ID
	}
	if err := access.Authorize(actor, access.OpView, access.Target{PractitionerID: practitionerID}).Err(); err != nil {
		return nil, err
	}
	if practitionerID == uuid.Nil {
		return nil, apperr.New(apperr.KindInvalidTarget, "practitioner_id is required")
	}
	if date.IsZero() {
		return nil, apperr.New(apperr.KindInvalidInput, "date is required")
	}
	if minMinutes <= 0 {
		minMinutes = DefaultDurationMinutes
	}

	ctx, cancel := s.readContext(ctx)
	defer cancel()

	day, err := s.slots.ListForDay(ctx, practitionerID, date)
	if err != nil {
		return nil, storeFailure(err)
	}
	return FreeWindows(day, s.opensAt, s.closesAt, minMinutes), nil
}

func (s *Service) authorizeChange(actor access.Actor, op access.Operation, slot *Slot, patch SlotPatch) error {
	target := access.Target{PractitionerID: slot.PractitionerID}
	if patch.PractitionerID != nil && *patch.PractitionerID != slot.PractitionerID {
		target.NewPractitionerID = patch.PractitionerID
	}
	return access.Authorize(actor, op, target).Err()
}

// requireBookable checks that id names an active practitioner.
func (s *Service) requireBookable(ctx context.Context, id uuid.UUID) error {
	target, err := s.directory.GetActor(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.New(apperr.KindInvalidTarget, "practitioner %s does not exist", id)
		}
		return storeFailure(err)
	}
	if !target.IsPractitioner() {
		return apperr.New(apperr.KindInvalidTarget, "actor %s is not a practitioner", id)
	}
	if !target.Active {
		return apperr.New(apperr.KindInvalidTarget, "practitioner %s is inactive", id)
	}
	return nil
}

func (s *Service) acquire(ctx context.Context, ids ...uuid.UUID) (func(), error) {
	start := time.Now()
	release, err := s.locks.Acquire(ctx, ids...)
	s.metrics.ObserveLockWait(time.Since(start).Seconds())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, err, "calendar busy")
	}
	return release, nil
}

func (s *Service) publish(ctx context.Context, eventType string, slot *Slot, practitionerID uuid.UUID) {
	if s.publisher == nil {
		return
	}
	data, _ := json.Marshal(slot)
	ev := events.Event{
		Type:           eventType,
		Topic:          events.CalendarTopic(practitionerID),
		SlotID:         slot.ID,
		PractitionerID: practitionerID,
		Timestamp:      s.now().UTC(),
		Data:           data,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("slot_id", slot.ID.String()).Str("type", eventType).Msg("event publish failed")
	}
}

func (s *Service) observe(op string, start time.Time, span trace.Span, errp *error) {
	err := *errp
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	if apperr.KindOf(err) == apperr.KindSchedulingConflict {
		s.metrics.ObserveConflict(op)
		s.logger.Info().Str("operation", op).Err(err).Msg("slot conflict")
	} else if k := apperr.KindOf(err); k == apperr.KindStoreUnavailable || k == apperr.KindInternal {
		s.logger.Error().Str("operation", op).Err(err).Msg("scheduling operation failed")
	}
	s.metrics.ObserveOperation(op, outcome, s.now().Sub(start).Seconds())
}

// storeFailure makes sure deadline expiry surfaces as store unavailability.
func storeFailure(err error) error {
	var k apperr.Kinded
	if errors.As(err, &k) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.KindStoreUnavailable, err, "calendar store timed out")
	}
	return apperr.Wrap(apperr.KindStoreUnavailable, err, "calendar store failed")
}
