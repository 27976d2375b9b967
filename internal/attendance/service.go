// Package attendance is the lecture ledger. Every mutation runs as one store
// transaction that keeps a subject's counters equal to the records it owns.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"classledger/internal/apperrors"
	"classledger/internal/docstore"
	"classledger/internal/layout"
	"classledger/internal/lecture"
	"classledger/internal/schedule"
)

// Service coordinates ledger writes and subject counters.
type Service struct {
	store docstore.Store
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a ledger backed by store.
func NewService(store docstore.Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) run(ctx context.Context, uid string, fn func(r repo) error) error {
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return fn(repo{tx: tx, uid: uid})
	})
	return apperrors.FromStore(err)
}

func subjectNotFound(id string) error {
	return fmt.Errorf("subject %s: %w", id, apperrors.ErrSubjectNotFound)
}

// CreateSubject adds a subject with zeroed counters.
func (s *Service) CreateSubject(ctx context.Context, uid, name string) (Subject, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Subject{}, apperrors.Invalid("name", name, "required")
	}
	now := s.now().UTC()
	subj := Subject{ID: uuid.NewString(), Name: name, CreatedAt: now, UpdatedAt: now}
	err := s.run(ctx, uid, func(r repo) error {
		return r.putSubject(subj)
	})
	if err != nil {
		return Subject{}, err
	}
	return subj, nil
}

// GetSubject returns one subject.
func (s *Service) GetSubject(ctx context.Context, uid, subjectID string) (Subject, error) {
	var subj Subject
	err := s.store.Get(ctx, layout.Subject(uid, subjectID), &subj)
	if errors.Is(err, docstore.ErrNotFound) {
		return Subject{}, subjectNotFound(subjectID)
	}
	if err != nil {
		return Subject{}, err
	}
	subj.ID = subjectID
	return subj, nil
}

// ListSubjects returns the user's subjects ordered by name.
func (s *Service) ListSubjects(ctx context.Context, uid string) ([]Subject, error) {
	docs, err := s.store.List(ctx, layout.Subjects(uid))
	if err != nil {
		return nil, err
	}
	return decodeSubjects(docs)
}

// DeleteSubject removes a subject, its ledger and every timetable slot that
// refers to it.
func (s *Service) DeleteSubject(ctx context.Context, uid, subjectID string) error {
	return s.run(ctx, uid, func(r repo) error {
		if _, ok, err := r.subject(subjectID); err != nil {
			return err
		} else if !ok {
			return subjectNotFound(subjectID)
		}
		records, err := r.records(subjectID)
		if err != nil {
			return err
		}
		week, err := schedule.ReadSnapshot(r.tx, uid)
		if err != nil {
			return err
		}

		for _, rec := range records {
			if err := r.deleteRecord(subjectID, rec.ID); err != nil {
				return err
			}
		}
		removed := 0
		for _, slot := range week.Slots {
			if slot.SubjectID != subjectID {
				continue
			}
			if err := r.tx.Delete(layout.Slot(uid, slot.ID)); err != nil {
				return err
			}
			removed++
		}
		if removed > 0 {
			if err := week.Touch(r.tx, uid, s.now()); err != nil {
				return err
			}
		}
		return r.tx.Delete(layout.Subject(uid, subjectID))
	})
}

// MarkAttendance records one lecture and bumps the subject's counters. A
// second call for the same subject, date and time range fails with
// apperrors.ErrAlreadyMarked and changes nothing.
func (s *Service) MarkAttendance(ctx context.Context, uid string, req MarkRequest) (Record, error) {
	if err := validateLecture(req.SubjectID, req.Date, req.Start, req.End, req.Status); err != nil {
		return Record{}, err
	}
	id := lecture.ID(req.Date, req.Start, req.End)
	key, _ := lecture.ScheduleKey(req.Date, req.Start, req.End)

	var rec Record
	err := s.run(ctx, uid, func(r repo) error {
		if _, exists, err := r.record(req.SubjectID, id); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("lecture %s: %w", id, apperrors.ErrAlreadyMarked)
		}
		subj, ok, err := r.subject(req.SubjectID)
		if err != nil {
			return err
		}
		if !ok {
			return subjectNotFound(req.SubjectID)
		}

		now := s.now().UTC()
		rec = Record{
			ID:          id,
			SubjectID:   req.SubjectID,
			Date:        lecture.DateKey(req.Date),
			Start:       req.Start.On(req.Date),
			End:         req.End.On(req.Date),
			Status:      req.Status,
			Note:        strings.TrimSpace(req.Note),
			ScheduleKey: key,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		subj.TotalClasses++
		subj.AttendedClasses += req.Status.attended()
		subj.UpdatedAt = now

		if err := r.putRecord(rec); err != nil {
			return err
		}
		return r.putSubject(subj)
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// EditAttendance rewrites a record's date, time and status. The record keeps
// its identifier. A status change moves the attended counter with it.
func (s *Service) EditAttendance(ctx context.Context, uid string, req EditRequest) (Record, error) {
	if err := validateLecture(req.SubjectID, req.Date, req.Start, req.End, req.Status); err != nil {
		return Record{}, err
	}
	if strings.TrimSpace(req.RecordID) == "" {
		return Record{}, apperrors.Invalid("record_id", req.RecordID, "required")
	}
	key, _ := lecture.ScheduleKey(req.Date, req.Start, req.End)

	var rec Record
	err := s.run(ctx, uid, func(r repo) error {
		subj, ok, err := r.subject(req.SubjectID)
		if err != nil {
			return err
		}
		if !ok {
			return subjectNotFound(req.SubjectID)
		}
		var exists bool
		rec, exists, err = r.record(req.SubjectID, req.RecordID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("record %s: %w", req.RecordID, apperrors.ErrNotFound)
		}

		now := s.now().UTC()
		delta := req.Status.attended() - rec.Status.attended()
		rec.Date = lecture.DateKey(req.Date)
		rec.Start = req.Start.On(req.Date)
		rec.End = req.End.On(req.Date)
		rec.Status = req.Status
		rec.ScheduleKey = key
		if req.Note != nil {
			rec.Note = strings.TrimSpace(*req.Note)
		}
		rec.UpdatedAt = now

		if err := r.putRecord(rec); err != nil {
			return err
		}
		if delta == 0 {
			return nil
		}
		subj.AttendedClasses = clamp(subj.AttendedClasses+delta, subj.TotalClasses)
		subj.UpdatedAt = now
		return r.putSubject(subj)
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// DeleteAttendance removes a record and takes it back out of the counters,
// which never drop below zero. Deleting from a missing subject does nothing.
func (s *Service) DeleteAttendance(ctx context.Context, uid, subjectID, recordID string) error {
	return s.run(ctx, uid, func(r repo) error {
		subj, ok, err := r.subject(subjectID)
		if err != nil || !ok {
			return err
		}
		rec, exists, err := r.record(subjectID, recordID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("record %s: %w", recordID, apperrors.ErrNotFound)
		}

		subj.TotalClasses = clamp(subj.TotalClasses-1, subj.TotalClasses)
		subj.AttendedClasses = clamp(subj.AttendedClasses-rec.Status.attended(), subj.TotalClasses)
		subj.UpdatedAt = s.now().UTC()

		if err := r.deleteRecord(subjectID, recordID); err != nil {
			return err
		}
		return r.putSubject(subj)
	})
}

// clamp bounds n to [0, hi].
func clamp(n, hi int) int {
	if n > hi {
		n = hi
	}
	if n < 0 {
		n = 0
	}
	return n
}

// GetRecord returns one record.
func (s *Service) GetRecord(ctx context.Context, uid, subjectID, recordID string) (Record, error) {
	var rec Record
	err := s.store.Get(ctx, layout.Record(uid, subjectID, recordID), &rec)
	if errors.Is(err, docstore.ErrNotFound) {
		return Record{}, fmt.Errorf("record %s: %w", recordID, apperrors.ErrNotFound)
	}
	if err != nil {
		return Record{}, err
	}
	rec.ID, rec.SubjectID = recordID, subjectID
	return rec, nil
}

// RecordExists reports whether a lecture is already in the ledger.
func (s *Service) RecordExists(ctx context.Context, uid, subjectID, recordID string) (bool, error) {
	_, err := s.GetRecord(ctx, uid, subjectID, recordID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ListRecords returns a subject's records ordered by start.
func (s *Service) ListRecords(ctx context.Context, uid, subjectID string, f Filter) ([]Record, error) {
	if _, err := s.GetSubject(ctx, uid, subjectID); err != nil {
		return nil, err
	}
	docs, err := s.store.List(ctx, layout.Records(uid, subjectID))
	if err != nil {
		return nil, err
	}
	records, err := decodeRecords(subjectID, docs)
	if err != nil {
		return nil, err
	}
	out := records[:0]
	for _, rec := range records {
		if f.match(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Reconcile recomputes a subject's counters from its records and reports
// whether they had drifted.
func (s *Service) Reconcile(ctx context.Context, uid, subjectID string) (Subject, bool, error) {
	var (
		subj    Subject
		drifted bool
	)
	err := s.run(ctx, uid, func(r repo) error {
		var (
			ok  bool
			err error
		)
		subj, ok, err = r.subject(subjectID)
		if err != nil {
			return err
		}
		if !ok {
			return subjectNotFound(subjectID)
		}
		records, err := r.records(subjectID)
		if err != nil {
			return err
		}
		attended, total := Tally(records)
		drifted = attended != subj.AttendedClasses || total != subj.TotalClasses
		if !drifted {
			return nil
		}
		subj.AttendedClasses, subj.TotalClasses = attended, total
		subj.UpdatedAt = s.now().UTC()
		return r.putSubject(subj)
	})
	if err != nil {
		return Subject{}, false, err
	}
	return subj, drifted, nil
}
