package scheduling

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func slotAt(practitioner uuid.UUID, start string, minutes int) *Slot {
	return &Slot{
		ID:              uuid.New(),
		PatientID:       uuid.New(),
		PractitionerID:  practitioner,
		Date:            NewDate(2024, 3, 10),
		StartTime:       MustClock(start),
		DurationMinutes: minutes,
	}
}

func TestCheckConflict(t *testing.T) {
	p := uuid.New()
	existing := []*Slot{slotAt(p, "09:00", 30), slotAt(p, "10:00", 60)}

	tests := []struct {
		name    string
		start   string
		minutes int
		want    *Slot
	}{
		{"overlaps start", "09:15", 30, existing[0]},
		{"adjacent after", "09:30", 30, nil},
		{"adjacent before", "08:30", 30, nil},
		{"inside", "10:15", 15, existing[1]},
		{"spans both picks earliest", "08:45", 120, existing[0]},
		{"gap", "09:30", 30, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := CheckConflict(slotAt(p, tt.start, tt.minutes), existing, uuid.Nil)
			assert.Equal(t, tt.want != nil, res.Conflict)
			assert.Equal(t, tt.want, res.With)
		})
	}
}

func TestCheckConflict_OtherPartitionsIgnored(t *testing.T) {
	p := uuid.New()
	other := slotAt(uuid.New(), "09:00", 30)
	nextDay := slotAt(p, "09:00", 30)
	nextDay.Date = nextDay.Date.AddDays(1)

	res := CheckConflict(slotAt(p, "09:00", 30), []*Slot{other, nextDay}, uuid.Nil)
	assert.False(t, res.Conflict)
}

func TestCheckConflict_ExcludesSelf(t *testing.T) {
	p := uuid.New()
	s := slotAt(p, "09:00", 30)
	moved := *s
	moved.StartTime = MustClock("09:10")

	assert.False(t, CheckConflict(&moved, []*Slot{s}, s.ID).Conflict)
	assert.True(t, CheckConflict(&moved, []*Slot{s}, uuid.Nil).Conflict)
}

func TestCheckConflict_TieBreak(t *testing.T) {
	p := uuid.New()
	older := slotAt(p, "09:00", 30)
	newer := slotAt(p, "09:00", 30)
	older.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer.CreatedAt = older.CreatedAt.Add(time.Minute)

	res := CheckConflict(slotAt(p, "09:10", 10), []*Slot{newer, older}, uuid.Nil)
	assert.Equal(t, older, res.With)
}

func TestSortSlots(t *testing.T) {
	p := uuid.New()
	a := slotAt(p, "11:00", 30)
	b := slotAt(p, "09:00", 30)
	c := slotAt(p, "08:00", 30)
	c.Date = c.Date.AddDays(1)

	slots := []*Slot{c, a, b}
	SortSlots(slots)
	assert.Equal(t, []*Slot{b, a, c}, slots)
}

func TestFreeWindows(t *testing.T) {
	p := uuid.New()
	opens, closes := MustClock("08:00"), MustClock("18:00")

	assert.Equal(t, []Window{{Start: opens, End: closes}}, FreeWindows(nil, opens, closes, 30))

	day := []*Slot{
		slotAt(p, "12:00", 60),
		slotAt(p, "08:00", 45),
		slotAt(p, "08:30", 30),
		slotAt(p, "17:45", 30),
	}
	got := FreeWindows(day, opens, closes, 30)
	assert.Equal(t, []Window{
		{Start: MustClock("09:00"), End: MustClock("12:00")},
		{Start: MustClock("13:00"), End: MustClock("17:45")},
	}, got)
	assert.Equal(t, 180, got[0].Minutes())

	assert.Len(t, FreeWindows(day, opens, closes, 200), 1)
}
