package schedule

import (
	"context"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelink/scheduling/internal/wallclock"
)

// fakeRepo is a map-backed Repository for service tests.
type fakeRepo struct {
	doctors    map[uuid.UUID]*Doctor
	rules      map[uuid.UUID]*WeeklyRule
	exceptions map[string]*DateException
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		doctors:    make(map[uuid.UUID]*Doctor),
		rules:      make(map[uuid.UUID]*WeeklyRule),
		exceptions: make(map[string]*DateException),
	}
}

func excKey(doctorID uuid.UUID, date wallclock.Date) string {
	return doctorID.String() + "|" + date.String()
}

func (f *fakeRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	d, ok := f.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return d, nil
}

func (f *fakeRepo) InsertRule(_ context.Context, rule WeeklyRule) (*WeeklyRule, error) {
	rule.ID = uuid.New()
	f.rules[rule.ID] = &rule
	return &rule, nil
}

func (f *fakeRepo) ListRules(_ context.Context, doctorID uuid.UUID) ([]WeeklyRule, error) {
	var out []WeeklyRule
	for _, r := range f.rules {
		if r.DoctorID == doctorID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListActiveRulesForDay(_ context.Context, doctorID uuid.UUID, dayOfWeek int) ([]WeeklyRule, error) {
	var out []WeeklyRule
	for _, r := range f.rules {
		if r.DoctorID == doctorID && r.DayOfWeek == dayOfWeek && r.Active {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeRepo) DeactivateRule(_ context.Context, doctorID, ruleID uuid.UUID) error {
	r, ok := f.rules[ruleID]
	if !ok || r.DoctorID != doctorID || !r.Active {
		return ErrRuleNotFound
	}
	r.Active = false
	return nil
}

func (f *fakeRepo) UpsertException(_ context.Context, exc DateException) (*DateException, error) {
	f.exceptions[excKey(exc.DoctorID, exc.Date)] = &exc
	return &exc, nil
}

func (f *fakeRepo) GetException(_ context.Context, doctorID uuid.UUID, date wallclock.Date) (*DateException, error) {
	exc, ok := f.exceptions[excKey(doctorID, date)]
	if !ok {
		return nil, ErrExceptionNotFound
	}
	return exc, nil
}

func (f *fakeRepo) DeleteException(_ context.Context, doctorID uuid.UUID, date wallclock.Date) error {
	key := excKey(doctorID, date)
	if _, ok := f.exceptions[key]; !ok {
		return ErrExceptionNotFound
	}
	delete(f.exceptions, key)
	return nil
}

// descendingRulesRepo hands back the day's rules latest-first, the way a
// repository without an ORDER BY clause might.
type descendingRulesRepo struct {
	*fakeRepo
}

func (r *descendingRulesRepo) ListActiveRulesForDay(ctx context.Context, doctorID uuid.UUID, dayOfWeek int) ([]WeeklyRule, error) {
	rules, err := r.fakeRepo.ListActiveRulesForDay(ctx, doctorID, dayOfWeek)
	if err != nil {
		return nil, err
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Start > rules[j].Start })
	return rules, nil
}

type fakeOccupancy struct {
	starts []wallclock.TimeOfDay
}

func (f *fakeOccupancy) OccupiedStarts(_ context.Context, _ uuid.UUID, _ wallclock.Date) ([]wallclock.TimeOfDay, error) {
	return f.starts, nil
}

func newTestService(t *testing.T) (*Service, *fakeRepo, *fakeOccupancy, uuid.UUID) {
	t.Helper()
	repo := newFakeRepo()
	occ := &fakeOccupancy{}
	doctorID := uuid.New()
	repo.doctors[doctorID] = &Doctor{ID: doctorID, Name: "Dr. Test"}
	svc := NewService(repo, occ, nil, zerolog.Nop())
	return svc, repo, occ, doctorID
}

func tod(t *testing.T, s string) wallclock.TimeOfDay {
	t.Helper()
	v, err := wallclock.ParseTimeOfDay(s)
	require.NoError(t, err)
	return v
}

func day(t *testing.T, s string) wallclock.Date {
	t.Helper()
	v, err := wallclock.ParseDate(s)
	require.NoError(t, err)
	return v
}

func TestSetWeeklyRule(t *testing.T) {
	ctx := context.Background()

	t.Run("creates an active rule", func(t *testing.T) {
		svc, _, _, doctorID := newTestService(t)

		rule, err := svc.SetWeeklyRule(ctx, doctorID, 1, tod(t, "09:00"), tod(t, "11:00"), 30)
		require.NoError(t, err)
		assert.True(t, rule.Active)
		assert.Equal(t, doctorID, rule.DoctorID)
		assert.NotEqual(t, uuid.Nil, rule.ID)
	})

	t.Run("rejects bad day of week", func(t *testing.T) {
		svc, _, _, doctorID := newTestService(t)

		_, err := svc.SetWeeklyRule(ctx, doctorID, 0, tod(t, "09:00"), tod(t, "11:00"), 30)
		assert.ErrorIs(t, err, ErrInvalidWindow)

		_, err = svc.SetWeeklyRule(ctx, doctorID, 8, tod(t, "09:00"), tod(t, "11:00"), 30)
		assert.ErrorIs(t, err, ErrInvalidWindow)
	})

	t.Run("rejects inverted window", func(t *testing.T) {
		svc, _, _, doctorID := newTestService(t)

		_, err := svc.SetWeeklyRule(ctx, doctorID, 1, tod(t, "11:00"), tod(t, "09:00"), 30)
		assert.ErrorIs(t, err, ErrInvalidWindow)
	})

	t.Run("rejects unknown doctor", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		_, err := svc.SetWeeklyRule(ctx, uuid.New(), 1, tod(t, "09:00"), tod(t, "11:00"), 30)
		assert.ErrorIs(t, err, ErrDoctorNotFound)
	})

	t.Run("rejects overlap with an active rule on the same day", func(t *testing.T) {
		svc, _, _, doctorID := newTestService(t)

		_, err := svc.SetWeeklyRule(ctx, doctorID, 1, tod(t, "09:00"), tod(t, "12:00"), 30)
		require.NoError(t, err)

		_, err = svc.SetWeeklyRule(ctx, doctorID, 1, tod(t, "11:00"), tod(t, "14:00"), 30)
		assert.ErrorIs(t, err, ErrRuleOverlap)
	})

	t.Run("adjacent windows do not overlap", func(t *testing.T) {
		svc, _, _, doctorID := newTestService(t)

		_, err := svc.SetWeeklyRule(ctx, doctorID, 1, tod(t, "09:00"), tod(t, "12:00"), 30)
		require.NoError(t, err)

		_, err = svc.SetWeeklyRule(ctx, doctorID, 1, tod(t, "12:00"), tod(t, "15:00"), 30)
		assert.NoError(t, err)
	})

	t.Run("same window on another day is fine", func(t *testing.T) {
		svc, _, _, doctorID := newTestService(t)

		_, err := svc.SetWeeklyRule(ctx, doctorID, 1, tod(t, "09:00"), tod(t, "12:00"), 30)
		require.NoError(t, err)

		_, err = svc.SetWeeklyRule(ctx, doctorID, 2, tod(t, "09:00"), tod(t, "12:00"), 30)
		assert.NoError(t, err)
	})

	t.Run("deactivated rule no longer blocks", func(t *testing.T) {
		svc, _, _, doctorID := newTestService(t)

		rule, err := svc.SetWeeklyRule(ctx, doctorID, 1, tod(t, "09:00"), tod(t, "12:00"), 30)
		require.NoError(t, err)
		require.NoError(t, svc.DeactivateRule(ctx, doctorID, rule.ID))

		_, err = svc.SetWeeklyRule(ctx, doctorID, 1, tod(t, "10:00"), tod(t, "13:00"), 30)
		assert.NoError(t, err)
	})
}

func TestDeactivateRule(t *testing.T) {
	ctx := context.Background()
	svc, _, _, doctorID := newTestService(t)

	err := svc.DeactivateRule(ctx, doctorID, uuid.New())
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestSetException(t *testing.T) {
	ctx := context.Background()

	t.Run("available exception requires a window", func(t *testing.T) {
		svc, _, _, doctorID := newTestService(t)

		_, err := svc.SetException(ctx, DateException{
			DoctorID:  doctorID,
			Date:      day(t, "2026-09-07"),
			Available: true,
		})
		assert.ErrorIs(t, err, ErrInvalidWindow)
	})

	t.Run("unavailable exception drops any window", func(t *testing.T) {
		svc, _, _, doctorID := newTestService(t)

		start := tod(t, "09:00")
		end := tod(t, "12:00")
		saved, err := svc.SetException(ctx, DateException{
			DoctorID:  doctorID,
			Date:      day(t, "2026-09-07"),
			Available: false,
			Start:     &start,
			End:       &end,
		})
		require.NoError(t, err)
		assert.Nil(t, saved.Start)
		assert.Nil(t, saved.End)
		assert.Nil(t, saved.SlotMinutes)
	})

	t.Run("second exception for the same date replaces the first", func(t *testing.T) {
		svc, repo, _, doctorID := newTestService(t)
		date := day(t, "2026-09-07")

		_, err := svc.SetException(ctx, DateException{DoctorID: doctorID, Date: date, Available: false})
		require.NoError(t, err)

		start := tod(t, "10:00")
		end := tod(t, "12:00")
		_, err = svc.SetException(ctx, DateException{
			DoctorID: doctorID, Date: date, Available: true, Start: &start, End: &end,
		})
		require.NoError(t, err)

		exc, err := repo.GetException(ctx, doctorID, date)
		require.NoError(t, err)
		assert.True(t, exc.Available)
		assert.Equal(t, start, *exc.Start)
	})
}

func TestGenerateSlots(t *testing.T) {
	ctx := context.Background()
	monday := day(t, "2026-09-07")

	t.Run("partitions the weekly window", func(t *testing.T) {
		svc, _, _, doctorID := newTestService(t)
		_, err := svc.SetWeeklyRule(ctx, doctorID, 1, tod(t, "09:00"), tod(t, "11:00"), 30)
		require.NoError(t, err)

		slots, err := svc.GenerateSlots(ctx, doctorID, monday)
		require.NoError(t, err)
		require.Len(t, slots, 4)
		assert.Equal(t, tod(t, "09:00"), slots[0].Start)
		assert.Equal(t, tod(t, "09:30"), slots[0].End)
		assert.Equal(t, tod(t, "10:30"), slots[3].Start)
		assert.Equal(t, tod(t, "11:00"), slots[3].End)
	})

	t.Run("drops the trailing remainder", func(t *testing.T) {
		svc, _, _, doctorID := newTestService(t)
		_, err := svc.SetWeeklyRule(ctx, doctorID, 1, tod(t, "09:00"), tod(t, "10:45"), 30)
		require.NoError(t, err)

		slots, err := svc.GenerateSlots(ctx, doctorID, monday)
		require.NoError(t, err)
		require.Len(t, slots, 3)
		assert.Equal(t, tod(t, "10:30"), slots[2].End)
	})

	t.Run("no rules for the weekday yields empty", func(t *testing.T) {
		svc, _, _, doctorID := newTestService(t)
		_, err := svc.SetWeeklyRule(ctx, doctorID, 2, tod(t, "09:00"), tod(t, "11:00"), 30)
		require.NoError(t, err)

		slots, err := svc.GenerateSlots(ctx, doctorID, monday)
		require.NoError(t, err)
		assert.Empty(t, slots)
	})

	t.Run("occupied starts are removed", func(t *testing.T) {
		svc, _, occ, doctorID := newTestService(t)
		_, err := svc.SetWeeklyRule(ctx, doctorID, 1, tod(t, "09:00"), tod(t, "11:00"), 30)
		require.NoError(t, err)

		occ.starts = []wallclock.TimeOfDay{tod(t, "09:30")}

		slots, err := svc.GenerateSlots(ctx, doctorID, monday)
		require.NoError(t, err)
		require.Len(t, slots, 3)
		for _, slot := range slots {
			assert.NotEqual(t, tod(t, "09:30"), slot.Start)
		}
	})

	t.Run("unavailable exception blanks the date", func(t *testing.T) {
		svc, _, _, doctorID := newTestService(t)
		_, err := svc.SetWeeklyRule(ctx, doctorID, 1, tod(t, "09:00"), tod(t, "17:00"), 30)
		require.NoError(t, err)

		_, err = svc.SetException(ctx, DateException{DoctorID: doctorID, Date: monday, Available: false})
		require.NoError(t, err)

		slots, err := svc.GenerateSlots(ctx, doctorID, monday)
		require.NoError(t, err)
		assert.Empty(t, slots)
	})

	t.Run("available exception replaces the template", func(t *testing.T) {
		svc, _, _, doctorID := newTestService(t)
		_, err := svc.SetWeeklyRule(ctx, doctorID, 1, tod(t, "09:00"), tod(t, "17:00"), 30)
		require.NoError(t, err)

		start := tod(t, "14:00")
		end := tod(t, "15:00")
		slotMinutes := 20
		_, err = svc.SetException(ctx, DateException{
			DoctorID: doctorID, Date: monday, Available: true,
			Start: &start, End: &end, SlotMinutes: &slotMinutes,
		})
		require.NoError(t, err)

		slots, err := svc.GenerateSlots(ctx, doctorID, monday)
		require.NoError(t, err)
		require.Len(t, slots, 3)
		assert.Equal(t, tod(t, "14:00"), slots[0].Start)
		assert.Equal(t, tod(t, "14:40"), slots[2].Start)
	})

	t.Run("exception without slot minutes falls back to the default", func(t *testing.T) {
		svc, _, _, doctorID := newTestService(t)

		start := tod(t, "09:00")
		end := tod(t, "10:00")
		_, err := svc.SetException(ctx, DateException{
			DoctorID: doctorID, Date: monday, Available: true, Start: &start, End: &end,
		})
		require.NoError(t, err)

		slots, err := svc.GenerateSlots(ctx, doctorID, monday)
		require.NoError(t, err)
		assert.Len(t, slots, 2)
	})

	t.Run("multiple rules on the same day all contribute", func(t *testing.T) {
		svc, _, _, doctorID := newTestService(t)
		_, err := svc.SetWeeklyRule(ctx, doctorID, 1, tod(t, "09:00"), tod(t, "10:00"), 30)
		require.NoError(t, err)
		_, err = svc.SetWeeklyRule(ctx, doctorID, 1, tod(t, "14:00"), tod(t, "15:00"), 30)
		require.NoError(t, err)

		slots, err := svc.GenerateSlots(ctx, doctorID, monday)
		require.NoError(t, err)
		require.Len(t, slots, 4)
		for i := 1; i < len(slots); i++ {
			assert.Less(t, slots[i-1].Start, slots[i].Start)
		}
	})

	t.Run("ascending order regardless of storage order", func(t *testing.T) {
		repo := newFakeRepo()
		doctorID := uuid.New()
		repo.doctors[doctorID] = &Doctor{ID: doctorID, Name: "Dr. Test"}
		svc := NewService(&descendingRulesRepo{fakeRepo: repo}, &fakeOccupancy{}, nil, zerolog.Nop())

		_, err := svc.SetWeeklyRule(ctx, doctorID, 1, tod(t, "09:00"), tod(t, "10:00"), 30)
		require.NoError(t, err)
		_, err = svc.SetWeeklyRule(ctx, doctorID, 1, tod(t, "14:00"), tod(t, "15:00"), 30)
		require.NoError(t, err)

		slots, err := svc.GenerateSlots(ctx, doctorID, monday)
		require.NoError(t, err)
		require.Len(t, slots, 4)
		assert.Equal(t, tod(t, "09:00"), slots[0].Start)
		for i := 1; i < len(slots); i++ {
			assert.Less(t, slots[i-1].Start, slots[i].Start)
		}
	})

	t.Run("deterministic without intervening writes", func(t *testing.T) {
		svc, _, occ, doctorID := newTestService(t)
		_, err := svc.SetWeeklyRule(ctx, doctorID, 1, tod(t, "09:00"), tod(t, "12:00"), 15)
		require.NoError(t, err)
		occ.starts = []wallclock.TimeOfDay{tod(t, "09:15"), tod(t, "10:30")}

		first, err := svc.GenerateSlots(ctx, doctorID, monday)
		require.NoError(t, err)
		second, err := svc.GenerateSlots(ctx, doctorID, monday)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("unknown doctor", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		_, err := svc.GenerateSlots(ctx, uuid.New(), monday)
		assert.ErrorIs(t, err, ErrDoctorNotFound)
	})
}

func TestWeeklyRuleOverlaps(t *testing.T) {
	base := WeeklyRule{Start: 540, End: 720} // 09:00-12:00

	tests := []struct {
		name  string
		other WeeklyRule
		want  bool
	}{
		{"identical", WeeklyRule{Start: 540, End: 720}, true},
		{"contained", WeeklyRule{Start: 600, End: 660}, true},
		{"straddles start", WeeklyRule{Start: 480, End: 600}, true},
		{"straddles end", WeeklyRule{Start: 700, End: 780}, true},
		{"touches end", WeeklyRule{Start: 720, End: 780}, false},
		{"touches start", WeeklyRule{Start: 480, End: 540}, false},
		{"disjoint", WeeklyRule{Start: 780, End: 840}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, base.Overlaps(tt.other))
			assert.Equal(t, tt.want, tt.other.Overlaps(base))
		})
	}
}
