package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/scheduling/internal/cache"
	"github.com/carelink/scheduling/internal/wallclock"
)

var (
	ErrRuleOverlap   = errors.New("rule overlaps an existing active rule for that day")
	ErrInvalidWindow = errors.New("invalid availability window")
)

type Service struct {
	repo      Repository
	occupancy OccupancySource
	cache     cache.SlotCache
	log       zerolog.Logger
}

func NewService(repo Repository, occupancy OccupancySource, slotCache cache.SlotCache, log zerolog.Logger) *Service {
	if slotCache == nil {
		slotCache = cache.Noop{}
	}
	return &Service{
		repo:      repo,
		occupancy: occupancy,
		cache:     slotCache,
		log:       log,
	}
}

// SetWeeklyRule creates an active recurring rule after checking it against
// every other active rule for the same (doctor, day of week).
func (s *Service) SetWeeklyRule(ctx context.Context, doctorID uuid.UUID, dayOfWeek int, start, end wallclock.TimeOfDay, slotMinutes int) (*WeeklyRule, error) {
	if dayOfWeek < 1 || dayOfWeek > 7 {
		return nil, fmt.Errorf("%w: day_of_week must be 1..7", ErrInvalidWindow)
	}
	if err := validateWindow(start, end, slotMinutes); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	rule := WeeklyRule{
		DoctorID:    doctorID,
		DayOfWeek:   dayOfWeek,
		Start:       start,
		End:         end,
		SlotMinutes: slotMinutes,
		Active:      true,
	}

	existing, err := s.repo.ListActiveRulesForDay(ctx, doctorID, dayOfWeek)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	for _, other := range existing {
		if rule.Overlaps(other) {
			return nil, ErrRuleOverlap
		}
	}

	created, err := s.repo.InsertRule(ctx, rule)
	if err != nil {
		return nil, fmt.Errorf("insert rule: %w", err)
	}

	s.cache.Invalidate(ctx, doctorID)
	s.log.Info().
		Stringer("doctor_id", doctorID).
		Int("day_of_week", dayOfWeek).
		Str("window", start.String()+"-"+end.String()).
		Msg("weekly rule created")

	return created, nil
}

func (s *Service) ListRules(ctx context.Context, doctorID uuid.UUID) ([]WeeklyRule, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	rules, err := s.repo.ListRules(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}

func (s *Service) DeactivateRule(ctx context.Context, doctorID, ruleID uuid.UUID) error {
	if err := s.repo.DeactivateRule(ctx, doctorID, ruleID); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, doctorID)
	return nil
}

// SetException upserts the override for one date. A second call for the same
// date replaces the first.
func (s *Service) SetException(ctx context.Context, exc DateException) (*DateException, error) {
	if exc.Available {
		if exc.Start == nil || exc.End == nil {
			return nil, fmt.Errorf("%w: available exception needs a window", ErrInvalidWindow)
		}
		slotMinutes := 0
		if exc.SlotMinutes != nil {
			slotMinutes = *exc.SlotMinutes
		}
		if err := validateWindow(*exc.Start, *exc.End, max(slotMinutes, 1)); err != nil {
			return nil, err
		}
	} else {
		// An unavailable date carries no window at all.
		exc.Start = nil
		exc.End = nil
		exc.SlotMinutes = nil
	}

	if _, err := s.repo.GetDoctorByID(ctx, exc.DoctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	saved, err := s.repo.UpsertException(ctx, exc)
	if err != nil {
		return nil, fmt.Errorf("upsert exception: %w", err)
	}

	s.cache.Invalidate(ctx, exc.DoctorID)
	s.log.Info().
		Stringer("doctor_id", exc.DoctorID).
		Stringer("date", exc.Date).
		Bool("available", exc.Available).
		Msg("date exception set")

	return saved, nil
}

func (s *Service) GetException(ctx context.Context, doctorID uuid.UUID, date wallclock.Date) (*DateException, error) {
	return s.repo.GetException(ctx, doctorID, date)
}

func (s *Service) DeleteException(ctx context.Context, doctorID uuid.UUID, date wallclock.Date) error {
	if err := s.repo.DeleteException(ctx, doctorID, date); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, doctorID)
	return nil
}

// GenerateSlots derives the bookable slots for a doctor on a date:
// exception precedence first, then the weekly template, then subtraction of
// everything the ledger already holds. It mutates nothing, so two calls with
// no intervening writes return identical output.
func (s *Service) GenerateSlots(ctx context.Context, doctorID uuid.UUID, date wallclock.Date) ([]Slot, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	if payload, ok := s.cache.GetSlots(ctx, doctorID, date); ok {
		var cached []Slot
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
	}

	slots, err := s.buildSlots(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(slots); err == nil {
		s.cache.SetSlots(ctx, doctorID, date, payload)
	}

	return slots, nil
}

func (s *Service) buildSlots(ctx context.Context, doctorID uuid.UUID, date wallclock.Date) ([]Slot, error) {
	var windows []window

	exc, err := s.repo.GetException(ctx, doctorID, date)
	switch {
	case err == nil:
		if !exc.Available {
			// Blanked date: the weekly template is never consulted.
			return []Slot{}, nil
		}
		windows = []window{{start: *exc.Start, end: *exc.End, slotMinutes: excSlotMinutes(exc)}}
	case errors.Is(err, ErrExceptionNotFound):
		rules, err := s.repo.ListActiveRulesForDay(ctx, doctorID, date.Weekday())
		if err != nil {
			return nil, fmt.Errorf("list active rules: %w", err)
		}
		for _, r := range rules {
			windows = append(windows, window{start: r.Start, end: r.End, slotMinutes: r.SlotMinutes})
		}
	default:
		return nil, fmt.Errorf("load exception: %w", err)
	}

	slots := []Slot{}
	for _, w := range windows {
		slots = append(slots, w.partition()...)
	}
	if len(slots) == 0 {
		return slots, nil
	}

	// Ascending by start time, independent of rule ordering in storage.
	sort.Slice(slots, func(i, j int) bool { return slots[i].Start < slots[j].Start })

	occupied, err := s.occupancy.OccupiedStarts(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("load occupied starts: %w", err)
	}
	taken := make(map[wallclock.TimeOfDay]bool, len(occupied))
	for _, t := range occupied {
		taken[t] = true
	}

	free := slots[:0]
	for _, slot := range slots {
		if !taken[slot.Start] {
			free = append(free, slot)
		}
	}

	return free, nil
}

type window struct {
	start       wallclock.TimeOfDay
	end         wallclock.TimeOfDay
	slotMinutes int
}

// partition cuts the window into contiguous fixed-size slots. A trailing
// remainder shorter than the slot size is dropped, and windows never roll
// over midnight.
func (w window) partition() []Slot {
	var slots []Slot
	for start := w.start; start.Add(w.slotMinutes) <= w.end; start = start.Add(w.slotMinutes) {
		slots = append(slots, Slot{Start: start, End: start.Add(w.slotMinutes)})
	}
	return slots
}

func excSlotMinutes(exc *DateException) int {
	if exc.SlotMinutes != nil && *exc.SlotMinutes > 0 {
		return *exc.SlotMinutes
	}
	return defaultSlotMinutes
}

const defaultSlotMinutes = 30

func validateWindow(start, end wallclock.TimeOfDay, slotMinutes int) error {
	if !start.Valid() || !end.Valid() {
		return fmt.Errorf("%w: times must fall within one day", ErrInvalidWindow)
	}
	if start >= end {
		return fmt.Errorf("%w: start must be before end", ErrInvalidWindow)
	}
	if slotMinutes <= 0 {
		return fmt.Errorf("%w: slot duration must be positive", ErrInvalidWindow)
	}
	return nil
}
