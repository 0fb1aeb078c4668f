package scheduling

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// ConflictResult is the outcome of a conflict check. With is the
// earliest-starting existing slot that overlaps the candidate.
type ConflictResult struct {
	Conflict bool
	With     *Slot
}

// CheckConflict compares candidate against existing, skipping the slot whose
// id equals excludeID (uuid.Nil excludes nothing). Only slots on the same
// practitioner's calendar and day are considered.
func CheckConflict(candidate *Slot, existing []*Slot, excludeID uuid.UUID) ConflictResult {
	var first *Slot
	for _, s := range existing {
		if excludeID != uuid.Nil && s.ID == excludeID {
			continue
		}
		if !candidate.Overlaps(s) {
			continue
		}
		if first == nil || startsBefore(s, first) {
			first = s
		}
	}
	if first == nil {
		return ConflictResult{}
	}
	return ConflictResult{Conflict: true, With: first}
}

func startsBefore(a, b *Slot) bool {
	if a.StartTime != b.StartTime {
		return a.StartTime < b.StartTime
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

// SortSlots orders slots by date, start time, creation and id.
func SortSlots(slots []*Slot) {
	sort.SliceStable(slots, func(i, j int) bool {
		a, b := slots[i], slots[j]
		if a.Date != b.Date {
			return a.Date.Before(b.Date)
		}
		return startsBefore(a, b)
	})
}

// FreeWindows returns the gaps of at least minMinutes between opens and closes
// that no slot in day occupies. day must hold a single practitioner's slots
// for a single date.
func FreeWindows(day []*Slot, opens, closes ClockTime, minMinutes int) []Window {
	if minMinutes <= 0 {
		minMinutes = 1
	}
	busy := make([]*Slot, len(day))
	copy(busy, day)
	sort.Slice(busy, func(i, j int) bool { return busy[i].StartTime < busy[j].StartTime })

	var out []Window
	cursor := opens
	for _, s := range busy {
		if s.EndTime() <= cursor {
			continue
		}
		if s.StartTime >= closes {
			break
		}
		if s.StartTime > cursor && int(s.StartTime-cursor) >= minMinutes {
			out = append(out, Window{Start: cursor, End: s.StartTime})
		}
		if s.EndTime() > cursor {
			cursor = s.EndTime()
		}
	}
	if closes > cursor && int(closes-cursor) >= minMinutes {
		out = append(out, Window{Start: cursor, End: closes})
	}
	return out
}
