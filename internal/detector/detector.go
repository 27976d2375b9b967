// Package detector decides whether an unrecorded lecture is in progress.
package detector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"classledger/internal/apperrors"
	"classledger/internal/attendance"
	"classledger/internal/lecture"
	"classledger/internal/schedule"
)

// State of a detection.
type State int

const (
	Idle State = iota
	PendingConfirmation
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PendingConfirmation:
		return "pending_confirmation"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SlotSource supplies a user's slots for one weekday.
type SlotSource interface {
	Day(ctx context.Context, uid string, day time.Weekday) ([]schedule.Slot, error)
}

// Ledger is the part of the attendance service the detector needs.
type Ledger interface {
	RecordExists(ctx context.Context, uid, subjectID, recordID string) (bool, error)
	MarkAttendance(ctx context.Context, uid string, req attendance.MarkRequest) (attendance.Record, error)
}

// Prompt is the lecture a user should confirm.
type Prompt struct {
	Slot      schedule.Slot `json:"slot"`
	SubjectID string        `json:"subject_id"`
	LectureID string        `json:"lecture_id"`
	Date      string        `json:"date"`
	Start     time.Time     `json:"start"`
	End       time.Time     `json:"end"`
}

// Detection is the outcome of Detect or Confirm. Prompt is set only while
// PendingConfirmation.
type Detection struct {
	State  State   `json:"state"`
	Prompt *Prompt `json:"prompt,omitempty"`
}

// Detector matches the wall clock against the timetable and the ledger.
type Detector struct {
	slots  SlotSource
	ledger Ledger
	loc    *time.Location
}

// New creates a detector evaluating weekdays and clocks in loc.
func New(slots SlotSource, ledger Ledger, loc *time.Location) *Detector {
	if loc == nil {
		loc = time.UTC
	}
	return &Detector{slots: slots, ledger: ledger, loc: loc}
}

// Detect looks for the first of today's slots in progress at now. Only that
// slot is considered: if it is already recorded the result is Idle even when
// a later overlapping slot might not be.
func (d *Detector) Detect(ctx context.Context, uid string, now time.Time) (Detection, error) {
	now = now.In(d.loc)
	slots, err := d.slots.Day(ctx, uid, now.Weekday())
	if err != nil {
		return Detection{}, err
	}
	sorted := append([]schedule.Slot(nil), slots...)
	schedule.SortByStart(sorted)

	for _, slot := range sorted {
		start, end := slot.Window(now)
		if !start.Before(now) || !now.Before(end) {
			continue
		}
		id := lecture.ID(now, slot.Start, slot.End())
		exists, err := d.ledger.RecordExists(ctx, uid, slot.SubjectID, id)
		if err != nil {
			return Detection{}, err
		}
		if exists {
			return Detection{State: Idle}, nil
		}
		return Detection{State: PendingConfirmation, Prompt: &Prompt{
			Slot:      slot,
			SubjectID: slot.SubjectID,
			LectureID: id,
			Date:      lecture.DateKey(now),
			Start:     start,
			End:       end,
		}}, nil
	}
	return Detection{State: Idle}, nil
}

// Confirm records the prompted lecture with status. A lecture that another
// client recorded first counts as confirmed.
func (d *Detector) Confirm(ctx context.Context, uid string, p Prompt, status attendance.Status) (Detection, error) {
	date := p.Start.In(d.loc)
	_, err := d.ledger.MarkAttendance(ctx, uid, attendance.MarkRequest{
		SubjectID: p.SubjectID,
		Date:      date,
		Start:     p.Slot.Start,
		End:       p.Slot.End(),
		Status:    status,
	})
	if err != nil && !errors.Is(err, apperrors.ErrAlreadyMarked) {
		return Detection{State: PendingConfirmation, Prompt: &p}, err
	}
	return Detection{State: Idle}, nil
}
