package attendance

import (
	"fmt"
	"strings"
	"time"

	"classledger/internal/apperrors"
	"classledger/internal/lecture"
	"classledger/internal/projection"
)

// Status is the outcome recorded for one lecture.
type Status string

const (
	Present Status = "PRESENT"
	Absent  Status = "ABSENT"
)

// ParseStatus normalizes s to a Status, ignoring case and surrounding space.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case Present:
		return Present, nil
	case Absent:
		return Absent, nil
	}
	return "", fmt.Errorf("%q: %w", s, apperrors.ErrInvalidStatus)
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == Present || s == Absent
}

func (s Status) attended() int {
	if s == Present {
		return 1
	}
	return 0
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%q: %w", string(s), apperrors.ErrInvalidStatus)
	}
	return []byte(s), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Subject is a tracked course with its aggregate counters.
type Subject struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	TotalClasses    int       `json:"total_classes"`
	AttendedClasses int       `json:"attended_classes"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Summary projects the subject's counters.
func (s Subject) Summary() projection.Summary {
	return projection.Summarize(s.AttendedClasses, s.TotalClasses)
}

// Record is one ledger entry for one lecture occurrence.
type Record struct {
	ID          string    `json:"id"`
	SubjectID   string    `json:"subject_id"`
	Date        string    `json:"date"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Status      Status    `json:"status"`
	Note        string    `json:"note,omitempty"`
	ScheduleKey string    `json:"schedule_key,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MarkRequest describes a lecture to record. Date carries the location the
// start and end clocks are placed in.
type MarkRequest struct {
	SubjectID string
	Date      time.Time
	Start     lecture.Clock
	End       lecture.Clock
	Status    Status
	Note      string
}

// EditRequest rewrites the date, time and status of an existing record. A nil
// Note keeps the stored note.
type EditRequest struct {
	SubjectID string
	RecordID  string
	Date      time.Time
	Start     lecture.Clock
	End       lecture.Clock
	Status    Status
	Note      *string
}

// Filter narrows ListRecords. Empty fields match everything; From and To are
// inclusive date keys.
type Filter struct {
	From   string
	To     string
	Status Status
}

func (f Filter) match(r Record) bool {
	if f.From != "" && r.Date < f.From {
		return false
	}
	if f.To != "" && r.Date > f.To {
		return false
	}
	return f.Status == "" || r.Status == f.Status
}

func validateLecture(subjectID string, date time.Time, start, end lecture.Clock, status Status) error {
	if strings.TrimSpace(subjectID) == "" {
		return apperrors.Invalid("subject_id", subjectID, "required")
	}
	if date.IsZero() {
		return apperrors.Invalid("date", "", "required")
	}
	if err := lecture.ValidRange(start, end); err != nil {
		return err
	}
	if end > lecture.EndOfDay {
		return fmt.Errorf("end %s: %w", end, apperrors.ErrInvalidTimeRange)
	}
	if !status.Valid() {
		return fmt.Errorf("%q: %w", string(status), apperrors.ErrInvalidStatus)
	}
	return nil
}

// Tally counts total and attended lectures in records.
func Tally(records []Record) (attended, total int) {
	for _, r := range records {
		total++
		attended += r.Status.attended()
	}
	return attended, total
}
