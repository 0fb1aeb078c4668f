package scheduling

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odontoagenda/agenda/internal/platform/apperr"
)

const (
	DefaultDurationMinutes = 30
	minutesPerDay          = 24 * 60
	dateLayout             = "2006-01-02"
)

// Date is a calendar day with no time-of-day or zone component.
type Date struct {
	t time.Time
}

// NewDate returns the date for y-m-d.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, apperr.New(apperr.KindInvalidInput, "invalid date %q, expected YYYY-MM-DD", s)
	}
	return DateOf(t), nil
}

func (d Date) IsZero() bool { return d.t.IsZero() }

// Time returns midnight UTC of d, the form stored in DATE columns.
func (d Date) Time() time.Time { return d.t }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(dateLayout)
}

func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

func (d Date) Before(o Date) bool { return d.t.Before(o.t) }

func (d Date) After(o Date) bool { return d.t.After(o.t) }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return apperr.New(apperr.KindInvalidInput, "date must be a string")
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ClockTime is a minute-precision time of day, stored as minutes after midnight.
type ClockTime int

// ParseClock parses HH:MM (24h).
func ParseClock(s string) (ClockTime, error) {
	s = strings.TrimSpace(s)
	if len(s) != 5 || s[2] != ':' || !isDigits(s[:2]) || !isDigits(s[3:]) {
		return 0, apperr.New(apperr.KindInvalidInput, "invalid time %q, expected HH:MM", s)
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h > 23 || m > 59 {
		return 0, apperr.New(apperr.KindInvalidInput, "invalid time %q, expected HH:MM", s)
	}
	return ClockTime(h*60 + m), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// MustClock is ParseClock for constants and tests.
func MustClock(s string) ClockTime {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c ClockTime) Add(minutes int) ClockTime { return c + ClockTime(minutes) }

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return apperr.New(apperr.KindInvalidInput, "time must be a string")
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Slot is a booked appointment on one practitioner's calendar.
type Slot struct {
	ID              uuid.UUID `db:"id" json:"id"`
	PatientID       uuid.UUID `db:"patient_id" json:"patient_id"`
	PractitionerID  uuid.UUID `db:"practitioner_id" json:"practitioner_id"`
	Date            Date      `db:"date" json:"date"`
	StartTime       ClockTime `db:"start_minute" json:"start_time"`
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
	Note            *string   `db:"note" json:"note,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// EndTime is the exclusive end of the slot.
func (s *Slot) EndTime() ClockTime {
	return s.StartTime.Add(s.DurationMinutes)
}

// Overlaps reports whether s and o occupy intersecting half-open intervals on
// the same practitioner's calendar on the same day.
func (s *Slot) Overlaps(o *Slot) bool {
	if s.PractitionerID != o.PractitionerID || s.Date != o.Date {
		return false
	}
	return s.StartTime < o.EndTime() && o.StartTime < s.EndTime()
}

// Validate checks the shape of a slot before it reaches the conflict check.
func (s *Slot) Validate() error {
	if err := s.validateTiming(); err != nil {
		return err
	}
	if s.PatientID == uuid.Nil {
		return apperr.New(apperr.KindInvalidInput, "patient is required")
	}
	return nil
}

func (s *Slot) validateTiming() error {
	if s.Date.IsZero() {
		return apperr.New(apperr.KindInvalidInput, "date is required")
	}
	if s.StartTime < 0 || int(s.StartTime) >= minutesPerDay {
		return apperr.New(apperr.KindInvalidInput, "start_time out of range")
	}
	if s.DurationMinutes <= 0 {
		return apperr.New(apperr.KindInvalidInput, "duration_minutes must be positive")
	}
	if int(s.EndTime()) > minutesPerDay {
		return apperr.New(apperr.KindInvalidInput, "slot may not extend past midnight")
	}
	return nil
}

// Window is a free interval on a practitioner's day.
type Window struct {
	Start ClockTime `json:"start_time"`
	End   ClockTime `json:"end_time"`
}

func (w Window) Minutes() int { return int(w.End - w.Start) }

// NewPatient is the explicit payload for registering a patient at booking
// time. The patient is created as pre-registered.
type NewPatient struct {
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Phone     *string `json:"phone,omitempty"`
}

// PatientRef identifies the patient of a booking: either an existing id or a
// new-patient payload, never both.
type PatientRef struct {
	ID  *uuid.UUID
	New *NewPatient
}

func (r PatientRef) Validate() error {
	switch {
	case r.ID != nil && r.New != nil:
		return apperr.New(apperr.KindInvalidInput, "provide either patient_id or patient, not both")
	case r.ID == nil && r.New == nil:
		return apperr.New(apperr.KindInvalidInput, "patient_id or patient is required")
	case r.ID != nil && *r.ID == uuid.Nil:
		return apperr.New(apperr.KindInvalidInput, "patient_id is invalid")
	case r.New != nil && strings.TrimSpace(r.New.FirstName) == "":
		return apperr.New(apperr.KindInvalidInput, "patient.first_name is required")
	}
	return nil
}

// BookingRequest is the input to Book.
type BookingRequest struct {
	PatientID       *uuid.UUID  `json:"patient_id,omitempty"`
	Patient         *NewPatient `json:"patient,omitempty"`
	PractitionerID  *uuid.UUID  `json:"practitioner_id,omitempty"`
	Date            Date        `json:"date"`
	StartTime       *ClockTime  `json:"start_time"`
	DurationMinutes *int        `json:"duration_minutes,omitempty"`
	Note            *string     `json:"note,omitempty"`
}

func (r BookingRequest) PatientRef() PatientRef {
	return PatientRef{ID: r.PatientID, New: r.Patient}
}

// SlotPatch is a partial update for Reschedule. Nil fields are unchanged.
type SlotPatch struct {
	Date            *Date      `json:"date,omitempty"`
	StartTime       *ClockTime `json:"start_time,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	PatientID       *uuid.UUID `json:"patient_id,omitempty"`
	PractitionerID  *uuid.UUID `json:"practitioner_id,omitempty"`
	Note            *string    `json:"note,omitempty"`
}

// Apply returns a copy of s with the patch merged in.
func (p SlotPatch) Apply(s *Slot) *Slot {
	out := *s
	if p.Date != nil {
		out.Date = *p.Date
	}
	if p.StartTime != nil {
		out.StartTime = *p.StartTime
	}
	if p.DurationMinutes != nil {
		out.DurationMinutes = *p.DurationMinutes
	}
	if p.PatientID != nil {
		out.PatientID = *p.PatientID
	}
	if p.PractitionerID != nil {
		out.PractitionerID = *p.PractitionerID
	}
	if p.Note != nil {
		note := *p.Note
		out.Note = &note
	}
	return &out
}

// Filter narrows List. A zero PractitionerID means every calendar.
type Filter struct {
	PractitionerID uuid.UUID
	From           Date
	To             Date
	PatientID      uuid.UUID
	Limit          int
	Offset         int
}
