package scheduling

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odontoagenda/agenda/internal/domain/access"
	"github.com/odontoagenda/agenda/internal/platform/apperr"
	"github.com/odontoagenda/agenda/internal/platform/events"
)

// memStore is an in-memory calendar store. Writes inside InTx are staged and
// applied on commit. It does not serialize writers itself, so overlapping
// bookings only stay out if the service does.
type memStore struct {
	mu       sync.Mutex
	slots    map[uuid.UUID]*Slot
	patients map[uuid.UUID]NewPatient
	clock    time.Time
	// listDelay widens the window between reading a day and writing to it.
	listDelay time.Duration
	// hang makes day reads block until the caller's context ends.
	hang     bool
	failWith error
}

type memTx struct {
	writes   map[uuid.UUID]*Slot
	deletes  map[uuid.UUID]bool
	patients map[uuid.UUID]NewPatient
}

type memTxKey struct{}

func newMemStore() *memStore {
	return &memStore{
		slots:    make(map[uuid.UUID]*Slot),
		patients: make(map[uuid.UUID]NewPatient),
		clock:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func txOf(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	return tx
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txOf(ctx) != nil {
		return fn(ctx)
	}
	tx := &memTx{
		writes:   make(map[uuid.UUID]*Slot),
		deletes:  make(map[uuid.UUID]bool),
		patients: make(map[uuid.UUID]NewPatient),
	}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range tx.writes {
		m.slots[id] = s
	}
	for id := range tx.deletes {
		delete(m.slots, id)
	}
	for id, p := range tx.patients {
		m.patients[id] = p
	}
	return nil
}

func (m *memStore) LockCalendars(ctx context.Context, ids ...uuid.UUID) error {
	if txOf(ctx) == nil {
		return apperr.New(apperr.KindInternal, "no transaction")
	}
	return m.failWith
}

func (m *memStore) view(ctx context.Context) map[uuid.UUID]*Slot {
	m.mu.Lock()
	out := make(map[uuid.UUID]*Slot, len(m.slots))
	for id, s := range m.slots {
		c := *s
		out[id] = &c
	}
	m.mu.Unlock()
	if tx := txOf(ctx); tx != nil {
		for id, s := range tx.writes {
			c := *s
			out[id] = &c
		}
		for id := range tx.deletes {
			delete(out, id)
		}
	}
	return out
}

func (m *memStore) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	s, ok := m.view(ctx)[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "slot %s not found", id)
	}
	return s, nil
}

func (m *memStore) ListForDay(ctx context.Context, practitionerID uuid.UUID, date Date) ([]*Slot, error) {
	if m.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	var out []*Slot
	for _, s := range m.view(ctx) {
		if s.PractitionerID == practitionerID && s.Date == date {
			out = append(out, s)
		}
	}
	SortSlots(out)
	if m.listDelay > 0 {
		time.Sleep(m.listDelay)
	}
	return out, nil
}

func (m *memStore) tick() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) Create(ctx context.Context, s *Slot) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = m.tick()
	s.UpdatedAt = s.CreatedAt
	c := *s
	txOf(ctx).writes[s.ID] = &c
	return nil
}

func (m *memStore) Update(ctx context.Context, s *Slot) error {
	if _, ok := m.view(ctx)[s.ID]; !ok {
		return apperr.New(apperr.KindNotFound, "slot %s not found", s.ID)
	}
	s.UpdatedAt = m.tick()
	c := *s
	txOf(ctx).writes[s.ID] = &c
	return nil
}

func (m *memStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.view(ctx)[id]; !ok {
		return apperr.New(apperr.KindNotFound, "slot %s not found", id)
	}
	txOf(ctx).deletes[id] = true
	return nil
}

func (m *memStore) Search(ctx context.Context, f Filter) ([]*Slot, int, error) {
	if m.failWith != nil {
		return nil, 0, m.failWith
	}
	var out []*Slot
	for _, s := range m.view(ctx) {
		if f.PractitionerID != uuid.Nil && s.PractitionerID != f.PractitionerID {
			continue
		}
		if f.PatientID != uuid.Nil && s.PatientID != f.PatientID {
			continue
		}
		if !f.From.IsZero() && s.Date.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && s.Date.After(f.To) {
			continue
		}
		out = append(out, s)
	}
	SortSlots(out)
	total := len(out)
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			out = nil
		} else {
			out = out[f.Offset:]
		}
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

func (m *memStore) patientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.patients)
}

// memPatients stages new patients in the store's transaction.
type memPatients struct {
	store *memStore
}

func (p memPatients) ResolvePatient(ctx context.Context, ref PatientRef) (uuid.UUID, error) {
	if ref.ID != nil {
		ok, _ := p.PatientExists(ctx, *ref.ID)
		if !ok {
			return uuid.Nil, apperr.New(apperr.KindInvalidTarget, "patient %s does not exist", *ref.ID)
		}
		return *ref.ID, nil
	}
	id := uuid.New()
	txOf(ctx).patients[id] = *ref.New
	return id, nil
}

func (p memPatients) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	_, ok := p.store.patients[id]
	return ok, nil
}

func (p memPatients) add(first string) uuid.UUID {
	id := uuid.New()
	p.store.mu.Lock()
	p.store.patients[id] = NewPatient{FirstName: first}
	p.store.mu.Unlock()
	return id
}

type memDirectory map[uuid.UUID]access.Actor

func (d memDirectory) GetActor(ctx context.Context, id uuid.UUID) (access.Actor, error) {
	a, ok := d[id]
	if !ok {
		return access.Actor{}, apperr.New(apperr.KindNotFound, "actor %s not found", id)
	}
	return a, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(ctx context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}
