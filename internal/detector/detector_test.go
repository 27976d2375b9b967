package detector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classledger/internal/apperrors"
	"classledger/internal/attendance"
	"classledger/internal/docstore"
	"classledger/internal/lecture"
	"classledger/internal/schedule"
)

const uid = "user-1"

var ist = time.FixedZone("IST", 5*3600+1800)

type fixture struct {
	detector  *Detector
	ledger    *attendance.Service
	timetable *schedule.Timetable
	subject   attendance.Subject
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store, err := docstore.OpenInMemory(docstore.Options{MaxAttempts: 20, Backoff: time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ledger := attendance.NewService(store)
	tt := schedule.NewTimetable(store)
	subj, err := ledger.CreateSubject(context.Background(), uid, "Mathematics")
	require.NoError(t, err)

	return fixture{detector: New(tt, ledger, ist), ledger: ledger, timetable: tt, subject: subj}
}

func (f fixture) addSlot(t *testing.T, day time.Weekday, hour, hours int) schedule.Slot {
	t.Helper()
	s, err := f.timetable.AddSlot(context.Background(), uid, schedule.Slot{
		Day:           day,
		SubjectID:     f.subject.ID,
		Start:         lecture.NewClock(hour, 0),
		DurationHours: hours,
	})
	require.NoError(t, err)
	return s
}

// Monday 4 March 2024.
func monday(hour, minute int) time.Time {
	return time.Date(2024, 3, 4, hour, minute, 0, 0, ist)
}

func TestDetectPendingThenConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slot := f.addSlot(t, time.Monday, 9, 2)
	f.addSlot(t, time.Tuesday, 9, 1)

	det, err := f.detector.Detect(ctx, uid, monday(9, 30))
	require.NoError(t, err)
	require.Equal(t, PendingConfirmation, det.State)
	require.NotNil(t, det.Prompt)
	assert.Equal(t, slot.ID, det.Prompt.Slot.ID)
	assert.Equal(t, "2024-03-04_0900_1100", det.Prompt.LectureID)
	assert.Equal(t, "2024-03-04", det.Prompt.Date)
	assert.True(t, det.Prompt.Start.Equal(monday(9, 0)))
	assert.True(t, det.Prompt.End.Equal(monday(11, 0)))

	det, err = f.detector.Confirm(ctx, uid, *det.Prompt, attendance.Present)
	require.NoError(t, err)
	assert.Equal(t, Idle, det.State)

	subj, err := f.ledger.GetSubject(ctx, uid, f.subject.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, subj.AttendedClasses)

	det, err = f.detector.Detect(ctx, uid, monday(10, 15))
	require.NoError(t, err)
	assert.Equal(t, Idle, det.State, "recorded lectures are not prompted again")
}

func TestDetectBoundsAreExclusive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addSlot(t, time.Monday, 9, 1)

	for _, now := range []time.Time{monday(9, 0), monday(10, 0), monday(8, 59), monday(12, 0)} {
		det, err := f.detector.Detect(ctx, uid, now)
		require.NoError(t, err)
		assert.Equal(t, Idle, det.State, now.Format(time.Kitchen))
		assert.Nil(t, det.Prompt)
	}
}

func TestDetectUsesConfiguredLocation(t *testing.T) {
	f := newFixture(t)
	f.addSlot(t, time.Monday, 9, 1)

	// 04:00 UTC is 09:30 in IST.
	det, err := f.detector.Detect(context.Background(), uid, time.Date(2024, 3, 4, 4, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, PendingConfirmation, det.State)
}

type stubLedger struct {
	exists  bool
	markErr error
	marked  []attendance.MarkRequest
}

func (s *stubLedger) RecordExists(context.Context, string, string, string) (bool, error) {
	return s.exists, nil
}

func (s *stubLedger) MarkAttendance(_ context.Context, _ string, req attendance.MarkRequest) (attendance.Record, error) {
	s.marked = append(s.marked, req)
	return attendance.Record{}, s.markErr
}

type stubSlots []schedule.Slot

func (s stubSlots) Day(context.Context, string, time.Weekday) ([]schedule.Slot, error) {
	return s, nil
}

func TestDetectOnlyFirstMatch(t *testing.T) {
	slots := stubSlots{
		{ID: "later", Day: time.Monday, SubjectID: "b", Start: lecture.NewClock(10, 0), DurationHours: 1},
		{ID: "first", Day: time.Monday, SubjectID: "a", Start: lecture.NewClock(9, 0), DurationHours: 2},
	}
	ledger := &stubLedger{}
	d := New(slots, ledger, ist)

	det, err := d.Detect(context.Background(), uid, monday(10, 30))
	require.NoError(t, err)
	require.NotNil(t, det.Prompt)
	assert.Equal(t, "first", det.Prompt.Slot.ID)

	ledger.exists = true
	det, err = d.Detect(context.Background(), uid, monday(10, 30))
	require.NoError(t, err)
	assert.Equal(t, Idle, det.State, "a recorded first match does not fall through to the next slot")
}

func TestConfirmRace(t *testing.T) {
	slot := schedule.Slot{ID: "s", Day: time.Monday, SubjectID: "a", Start: lecture.NewClock(9, 0), DurationHours: 1}
	ledger := &stubLedger{markErr: apperrors.ErrAlreadyMarked}
	d := New(stubSlots{slot}, ledger, ist)

	det, err := d.Detect(context.Background(), uid, monday(9, 10))
	require.NoError(t, err)
	require.Equal(t, PendingConfirmation, det.State)

	det, err = d.Confirm(context.Background(), uid, *det.Prompt, attendance.Absent)
	require.NoError(t, err, "losing the race to another client is not an error")
	assert.Equal(t, Idle, det.State)

	require.Len(t, ledger.marked, 1)
	req := ledger.marked[0]
	assert.Equal(t, "2024-03-04_0900_1000", lecture.ID(req.Date, req.Start, req.End))
	assert.Equal(t, attendance.Absent, req.Status)
}

func TestConfirmFailureStaysPending(t *testing.T) {
	slot := schedule.Slot{ID: "s", Day: time.Monday, SubjectID: "a", Start: lecture.NewClock(9, 0), DurationHours: 1}
	boom := errors.New("store unavailable")
	d := New(stubSlots{slot}, &stubLedger{markErr: boom}, ist)

	det, err := d.Detect(context.Background(), uid, monday(9, 10))
	require.NoError(t, err)

	det, err = d.Confirm(context.Background(), uid, *det.Prompt, attendance.Present)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, PendingConfirmation, det.State)
	assert.NotNil(t, det.Prompt)
}

func TestStateText(t *testing.T) {
	b, err := PendingConfirmation.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "pending_confirmation", string(b))
	assert.Equal(t, "idle", Idle.String())
}
