package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"classledger/internal/apperrors"
	"classledger/internal/docstore"
	"classledger/internal/layout"
)

type guard struct {
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func readGuard(tx docstore.Tx, uid string) (guard, error) {
	var g guard
	if err := tx.Get(layout.TimetableGuard(uid), &g); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return guard{}, err
	}
	return g, nil
}

// Snapshot is a user's timetable as read inside a transaction.
type Snapshot struct {
	Slots []Slot
	guard guard
}

// ReadSnapshot reads the timetable and its guard inside tx. Callers that
// change slots must call Touch in the same transaction.
func ReadSnapshot(tx docstore.Tx, uid string) (Snapshot, error) {
	g, err := readGuard(tx, uid)
	if err != nil {
		return Snapshot{}, err
	}
	docs, err := tx.List(layout.Timetable(uid))
	if err != nil {
		return Snapshot{}, err
	}
	slots, err := decodeSlots(docs)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Slots: slots, guard: g}, nil
}

// Touch bumps the timetable guard so that concurrent writers of the same
// week conflict on commit.
func (s Snapshot) Touch(tx docstore.Tx, uid string, now time.Time) error {
	return tx.Set(layout.TimetableGuard(uid), guard{Version: s.guard.Version + 1, UpdatedAt: now.UTC()})
}

func decodeSlots(docs []docstore.Document) ([]Slot, error) {
	slots := make([]Slot, 0, len(docs))
	for _, doc := range docs {
		var s Slot
		if err := doc.Decode(&s); err != nil {
			return nil, err
		}
		s.ID = doc.ID()
		slots = append(slots, s)
	}
	SortByStart(slots)
	return slots, nil
}

func requireSubject(tx docstore.Tx, uid, subjectID string) error {
	var raw json.RawMessage
	err := tx.Get(layout.Subject(uid, subjectID), &raw)
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("subject %s: %w", subjectID, apperrors.ErrSubjectNotFound)
	}
	return err
}

// Timetable persists validated weekly slots per user.
type Timetable struct {
	store docstore.Store
	now   func() time.Time
}

// NewTimetable creates a timetable backed by store.
func NewTimetable(store docstore.Store) *Timetable {
	return &Timetable{store: store, now: time.Now}
}

// AddSlot validates slot against the rest of its day and stores it. A slot
// without an ID gets a new one.
func (t *Timetable) AddSlot(ctx context.Context, uid string, slot Slot) (Slot, error) {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	if err := slot.Validate(); err != nil {
		return Slot{}, err
	}
	err := t.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		snap, err := ReadSnapshot(tx, uid)
		if err != nil {
			return err
		}
		if err := requireSubject(tx, uid, slot.SubjectID); err != nil {
			return err
		}
		if _, err := AddSlot(snap.Slots, slot); err != nil {
			return err
		}
		if err := tx.Set(layout.Slot(uid, slot.ID), slot); err != nil {
			return err
		}
		return snap.Touch(tx, uid, t.now())
	})
	if err != nil {
		return Slot{}, apperrors.FromStore(err)
	}
	return slot, nil
}

// ReplaceWeek swaps the whole timetable for week in one transaction. Nothing
// is written unless every day is overlap-free and every subject exists.
func (t *Timetable) ReplaceWeek(ctx context.Context, uid string, week Week) (Week, error) {
	slots := week.Slots()
	for i := range slots {
		if slots[i].ID == "" {
			slots[i].ID = uuid.NewString()
		}
	}
	for day, daySlots := range week {
		for _, s := range daySlots {
			if s.Day != day {
				return nil, apperrors.Invalid("day", s.Day.String(), fmt.Sprintf("slot filed under %s", day))
			}
		}
	}
	normalized := Group(slots)
	if err := ValidateWeek(normalized); err != nil {
		return nil, err
	}

	docs := make(map[string]any, len(slots))
	subjects := make(map[string]struct{})
	for _, s := range slots {
		if _, dup := docs[s.ID]; dup {
			return nil, apperrors.Invalid("id", s.ID, "duplicate slot id")
		}
		docs[s.ID] = s
		subjects[s.SubjectID] = struct{}{}
	}

	err := t.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		g, err := readGuard(tx, uid)
		if err != nil {
			return err
		}
		for subjectID := range subjects {
			if err := requireSubject(tx, uid, subjectID); err != nil {
				return err
			}
		}
		if err := docstore.ReplaceCollection(tx, layout.Timetable(uid), docs); err != nil {
			return err
		}
		return Snapshot{guard: g}.Touch(tx, uid, t.now())
	})
	if err != nil {
		return nil, apperrors.FromStore(err)
	}
	return normalized, nil
}

// DeleteSlot removes one slot.
func (t *Timetable) DeleteSlot(ctx context.Context, uid, slotID string) error {
	err := t.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		g, err := readGuard(tx, uid)
		if err != nil {
			return err
		}
		var s Slot
		if err := tx.Get(layout.Slot(uid, slotID), &s); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return fmt.Errorf("slot %s: %w", slotID, apperrors.ErrNotFound)
			}
			return err
		}
		if err := tx.Delete(layout.Slot(uid, slotID)); err != nil {
			return err
		}
		return Snapshot{guard: g}.Touch(tx, uid, t.now())
	})
	return apperrors.FromStore(err)
}

// Week returns every slot of the user grouped by day.
func (t *Timetable) Week(ctx context.Context, uid string) (Week, error) {
	slots, err := t.list(ctx, uid)
	if err != nil {
		return nil, err
	}
	return Group(slots), nil
}

// Day returns the slots of one weekday ordered by start.
func (t *Timetable) Day(ctx context.Context, uid string, day time.Weekday) ([]Slot, error) {
	slots, err := t.list(ctx, uid)
	if err != nil {
		return nil, err
	}
	out := slots[:0]
	for _, s := range slots {
		if s.Day == day {
			out = append(out, s)
		}
	}
	return out, nil
}

func (t *Timetable) list(ctx context.Context, uid string) ([]Slot, error) {
	docs, err := t.store.List(ctx, layout.Timetable(uid))
	if err != nil {
		return nil, err
	}
	return decodeSlots(docs)
}
