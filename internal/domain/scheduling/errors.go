package scheduling

import (
	"fmt"

	"github.com/odontoagenda/agenda/internal/platform/apperr"
)

// ConflictError is returned when a booking or reschedule overlaps an existing
// slot. With is nil when the overlap was only detected by the store.
type ConflictError struct {
	With *Slot
}

func (e *ConflictError) Error() string {
	if e.With == nil {
		return "slot overlaps an existing booking"
	}
	return fmt.Sprintf("slot overlaps booking %s on %s from %s to %s",
		e.With.ID, e.With.Date, e.With.StartTime, e.With.EndTime())
}

func (e *ConflictError) ErrorKind() apperr.Kind { return apperr.KindSchedulingConflict }

func (e *ConflictError) Is(target error) bool {
	return target == apperr.ErrSchedulingConflict
}

func (e *ConflictError) Details() map[string]interface{} {
	if e.With == nil {
		return nil
	}
	return map[string]interface{}{
		"conflicting_slot": map[string]interface{}{
			"id":         e.With.ID,
			"date":       e.With.Date.String(),
			"start_time": e.With.StartTime.String(),
			"end_time":   e.With.EndTime().String(),
		},
	}
}
