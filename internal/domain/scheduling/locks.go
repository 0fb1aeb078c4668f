package scheduling

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// calendarLocks serializes mutations per practitioner calendar inside this
// process. Calendars of different practitioners never contend.
type calendarLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*calendarLock
}

type calendarLock struct {
	sem  chan struct{}
	refs int
}

func newCalendarLocks() *calendarLocks {
	return &calendarLocks{locks: make(map[uuid.UUID]*calendarLock)}
}

// Acquire locks every calendar in ids, in a fixed order so two callers
// locking overlapping sets cannot deadlock. It gives up when ctx ends and
// releases whatever it already held. The returned func releases all locks.
func (l *calendarLocks) Acquire(ctx context.Context, ids ...uuid.UUID) (func(), error) {
	keys := uniqueSorted(ids)
	held := make([]uuid.UUID, 0, len(keys))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.unlock(held[i])
		}
		held = held[:0]
	}

	for _, id := range keys {
		lk := l.ref(id)
		select {
		case lk.sem <- struct{}{}:
			held = append(held, id)
		case <-ctx.Done():
			l.unref(id)
			release()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *calendarLocks) ref(id uuid.UUID) *calendarLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[id]
	if !ok {
		lk = &calendarLock{sem: make(chan struct{}, 1)}
		l.locks[id] = lk
	}
	lk.refs++
	return lk
}

func (l *calendarLocks) unref(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk := l.locks[id]
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, id)
	}
}

func (l *calendarLocks) unlock(id uuid.UUID) {
	l.mu.Lock()
	lk := l.locks[id]
	l.mu.Unlock()
	<-lk.sem
	l.unref(id)
}

func (l *calendarLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func uniqueSorted(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
