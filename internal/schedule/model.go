package schedule

import (
	"time"

	"github.com/google/uuid"

	"github.com/carelink/scheduling/internal/wallclock"
)

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WeeklyRule is a recurring template: on this day of week the doctor is
// bookable between Start and End in slots of SlotMinutes. Rules are
// deactivated rather than deleted so past bookings keep their provenance.
type WeeklyRule struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	DayOfWeek   int // ISO, 1=Monday .. 7=Sunday
	Start       wallclock.TimeOfDay
	End         wallclock.TimeOfDay
	SlotMinutes int
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Overlaps reports whether the two rule windows share any minute.
// Windows that merely touch (one ends where the other starts) do not overlap.
func (r WeeklyRule) Overlaps(other WeeklyRule) bool {
	return r.Start < other.End && other.Start < r.End
}

// DateException overrides the weekly template for one calendar date.
// Available=false blanks the whole date; Available=true with a window
// replaces the template entirely for that date.
type DateException struct {
	DoctorID    uuid.UUID
	Date        wallclock.Date
	Available   bool
	Start       *wallclock.TimeOfDay
	End         *wallclock.TimeOfDay
	SlotMinutes *int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Slot is one bookable interval on a given date.
type Slot struct {
	Start wallclock.TimeOfDay `json:"start_time"`
	End   wallclock.TimeOfDay `json:"end_time"`
}
