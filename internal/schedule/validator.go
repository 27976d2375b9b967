// Package schedule validates and stores a user's recurring weekly timetable.
package schedule

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"classledger/internal/apperrors"
	"classledger/internal/lecture"
)

// Slot is one recurring weekly lecture.
type Slot struct {
	ID            string
	Day           time.Weekday
	SubjectID     string
	Start         lecture.Clock
	DurationHours int
}

// End returns the exclusive end of the slot.
func (s Slot) End() lecture.Clock {
	return s.Start + lecture.Clock(s.DurationHours*60)
}

// Window places the slot on date.
func (s Slot) Window(date time.Time) (start, end time.Time) {
	return s.Start.On(date), s.End().On(date)
}

// Validate checks a single slot in isolation.
func (s Slot) Validate() error {
	if s.Day < time.Sunday || s.Day > time.Saturday {
		return apperrors.Invalid("day", int(s.Day), "unknown weekday")
	}
	if strings.TrimSpace(s.SubjectID) == "" {
		return apperrors.Invalid("subject_id", s.SubjectID, "required")
	}
	if s.DurationHours < 1 {
		return fmt.Errorf("duration %dh: %w", s.DurationHours, apperrors.ErrInvalidTimeRange)
	}
	if s.Start < 0 || s.End() > lecture.EndOfDay {
		return fmt.Errorf("%s+%dh runs past midnight: %w", s.Start, s.DurationHours, apperrors.ErrInvalidTimeRange)
	}
	return nil
}

type slotJSON struct {
	ID            string        `json:"id"`
	Day           string        `json:"day"`
	SubjectID     string        `json:"subject_id"`
	Start         lecture.Clock `json:"start"`
	DurationHours int           `json:"duration_hours"`
}

func (s Slot) MarshalJSON() ([]byte, error) {
	return json.Marshal(slotJSON{
		ID:            s.ID,
		Day:           s.Day.String(),
		SubjectID:     s.SubjectID,
		Start:         s.Start,
		DurationHours: s.DurationHours,
	})
}

func (s *Slot) UnmarshalJSON(b []byte) error {
	var raw slotJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	day, err := ParseWeekday(raw.Day)
	if err != nil {
		return err
	}
	*s = Slot{
		ID:            raw.ID,
		Day:           day,
		SubjectID:     raw.SubjectID,
		Start:         raw.Start,
		DurationHours: raw.DurationHours,
	}
	return nil
}

// OverlapError reports the existing slot a candidate collided with.
type OverlapError struct {
	Candidate Slot
	Existing  Slot
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("%s %s-%s overlaps %s-%s",
		e.Candidate.Day, e.Candidate.Start, e.Candidate.End(), e.Existing.Start, e.Existing.End())
}

func (e *OverlapError) Unwrap() error {
	return apperrors.ErrOverlappingSlot
}

// Overlaps reports whether the half-open intervals of a and b intersect.
// Days are not compared.
func Overlaps(a, b Slot) bool {
	return a.Start < b.End() && b.Start < a.End()
}

// AddSlot checks candidate against the existing slots of its day and returns
// that day's slots, candidate included, ordered by start. A slot with the same
// non-empty ID as the candidate is treated as the candidate's previous version.
func AddSlot(existing []Slot, candidate Slot) ([]Slot, error) {
	if err := candidate.Validate(); err != nil {
		return nil, err
	}
	day := make([]Slot, 0, len(existing)+1)
	for _, s := range existing {
		if s.Day != candidate.Day {
			continue
		}
		if candidate.ID != "" && s.ID == candidate.ID {
			continue
		}
		if Overlaps(candidate, s) {
			return nil, &OverlapError{Candidate: candidate, Existing: s}
		}
		day = append(day, s)
	}
	day = append(day, candidate)
	SortByStart(day)
	return day, nil
}

// SortByStart orders slots by day, then start, then id.
func SortByStart(slots []Slot) {
	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].Day != slots[j].Day {
			return slots[i].Day < slots[j].Day
		}
		if slots[i].Start != slots[j].Start {
			return slots[i].Start < slots[j].Start
		}
		return slots[i].ID < slots[j].ID
	})
}

// Week groups slots by day.
type Week map[time.Weekday][]Slot

// Group buckets slots by their day, each bucket ordered by start.
func Group(slots []Slot) Week {
	week := make(Week)
	for _, s := range slots {
		week[s.Day] = append(week[s.Day], s)
	}
	for day := range week {
		SortByStart(week[day])
	}
	return week
}

// Slots flattens the week ordered by day and start.
func (w Week) Slots() []Slot {
	var out []Slot
	for _, slots := range w {
		out = append(out, slots...)
	}
	SortByStart(out)
	return out
}

// ValidateWeek checks every slot and rejects overlaps within a day.
func ValidateWeek(w Week) error {
	for day, slots := range w {
		sorted := append([]Slot(nil), slots...)
		SortByStart(sorted)
		for i, s := range sorted {
			if err := s.Validate(); err != nil {
				return err
			}
			if s.Day != day {
				return apperrors.Invalid("day", s.Day.String(), fmt.Sprintf("slot filed under %s", day))
			}
			// Sorted by start, any overlap shows up between neighbours.
			if i > 0 && Overlaps(sorted[i-1], s) {
				return &OverlapError{Candidate: s, Existing: sorted[i-1]}
			}
		}
	}
	return nil
}

// ParseWeekday accepts full or three-letter English day names in any case.
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || (len(name) == 3 && name == full[:3]) {
			return d, nil
		}
	}
	return 0, apperrors.Invalid("day", s, "unknown weekday")
}
