package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classledger/internal/attendance"
	"classledger/internal/auth"
	"classledger/internal/detector"
	"classledger/internal/docstore"
	"classledger/internal/metrics"
	"classledger/internal/queue"
	"classledger/internal/schedule"
)

var ist = time.FixedZone("IST", 5*3600+1800)

type testServer struct {
	router *gin.Engine
	queue  *queue.InMemory
	token  string
	issuer auth.Issuer
}

func newTestServer(t *testing.T, devTokens bool) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := docstore.OpenInMemory(docstore.Options{MaxAttempts: 20, Backoff: time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ledger := attendance.NewService(store)
	tt := schedule.NewTimetable(store)
	issuer := auth.Issuer{Name: "classledger-test", Key: "test-key", AccessTTL: time.Hour, RefreshTTL: 2 * time.Hour}
	q := queue.NewInMemory(8)

	r := Router(Deps{
		Store:     store,
		Ledger:    ledger,
		Timetable: tt,
		Detector:  detector.New(tt, ledger, ist),
		Queue:     q,
		Issuer:    issuer,
		Metrics:   metrics.New(prometheus.NewRegistry()),
		Log:       zerolog.Nop(),
		Location:  ist,
		DevTokens: devTokens,
		Now:       func() time.Time { return time.Date(2024, 3, 4, 9, 30, 0, 0, ist) },
	})

	pair, err := issuer.Issue("user-1")
	require.NoError(t, err)
	return testServer{router: r, queue: q, token: pair.AccessToken, issuer: issuer}
}

func (ts testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type subjectBody struct {
	ID              string `json:"id"`
	TotalClasses    int    `json:"total_classes"`
	AttendedClasses int    `json:"attended_classes"`
	Summary         struct {
		Percentage float64 `json:"percentage"`
		AtTarget   bool    `json:"at_target"`
	} `json:"summary"`
}

func (ts testServer) createSubject(t *testing.T, name string) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/v1/subjects", map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[subjectBody](t, w).ID
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, false)
	ts.token = ""

	w := ts.do(t, http.MethodGet, "/v1/subjects", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodPost, "/v1/tokens", map[string]string{"user_id": "u"})
	assert.Equal(t, http.StatusNotFound, w.Code, "dev tokens are off")
}

func TestDevTokensAndRefresh(t *testing.T) {
	ts := newTestServer(t, true)
	ts.token = ""

	w := ts.do(t, http.MethodPost, "/v1/tokens", map[string]string{"user_id": "user-2"})
	require.Equal(t, http.StatusCreated, w.Code)
	pair := decode[auth.TokenPair](t, w)
	require.NotEmpty(t, pair.RefreshToken)

	w = ts.do(t, http.MethodPost, "/v1/tokens/refresh", map[string]string{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPost, "/v1/tokens/refresh", map[string]string{"refresh_token": pair.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "access tokens cannot refresh")

	ts.token = pair.AccessToken
	w = ts.do(t, http.MethodGet, "/v1/subjects", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAttendanceLifecycle(t *testing.T) {
	ts := newTestServer(t, false)
	sid := ts.createSubject(t, "Physics")
	records := "/v1/subjects/" + sid + "/records"

	mark := map[string]string{"date": "2024-03-02", "start": "09:00", "end": "11:00", "status": "present"}
	w := ts.do(t, http.MethodPost, records, mark)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rec := decode[attendance.Record](t, w)
	assert.Equal(t, "2024-03-02_0900_1100", rec.ID)
	assert.Equal(t, "Saturday_0_2", rec.ScheduleKey)

	w = ts.do(t, http.MethodPost, records, mark)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_marked", decode[errorBody](t, w).Code)

	w = ts.do(t, http.MethodGet, "/v1/subjects/"+sid, nil)
	require.Equal(t, http.StatusOK, w.Code)
	subj := decode[subjectBody](t, w)
	assert.Equal(t, 1, subj.TotalClasses)
	assert.Equal(t, 1, subj.AttendedClasses)
	assert.Equal(t, 100.0, subj.Summary.Percentage)
	assert.True(t, subj.Summary.AtTarget)

	w = ts.do(t, http.MethodGet, records+"?status=absent", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[struct {
		Records []attendance.Record `json:"records"`
	}](t, w).Records)

	edit := map[string]string{"date": "2024-03-02", "start": "09:00", "end": "11:00", "status": "ABSENT"}
	w = ts.do(t, http.MethodPut, records+"/"+rec.ID, edit)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	subj = decode[subjectBody](t, ts.do(t, http.MethodGet, "/v1/subjects/"+sid, nil))
	assert.Equal(t, 1, subj.TotalClasses)
	assert.Equal(t, 0, subj.AttendedClasses)

	w = ts.do(t, http.MethodGet, records+"?from=2024-03-01&to=2024-03-02&status=ABSENT", nil)
	assert.Len(t, decode[struct {
		Records []attendance.Record `json:"records"`
	}](t, w).Records, 1)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, records+"/"+rec.ID, nil).Code)
	w = ts.do(t, http.MethodDelete, records+"/"+rec.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/v1/subjects/"+sid, nil).Code)
	w = ts.do(t, http.MethodGet, "/v1/subjects/"+sid, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "subject_not_found", decode[errorBody](t, w).Code)
}

func TestMarkValidation(t *testing.T) {
	ts := newTestServer(t, false)
	sid := ts.createSubject(t, "Chemistry")
	records := "/v1/subjects/" + sid + "/records"

	tests := []struct {
		name string
		body map[string]string
		code string
	}{
		{"bad date", map[string]string{"date": "02/03/2024", "start": "09:00", "end": "10:00", "status": "PRESENT"}, "validation_failed"},
		{"bad status", map[string]string{"date": "2024-03-02", "start": "09:00", "end": "10:00", "status": "LATE"}, "invalid_status"},
		{"inverted range", map[string]string{"date": "2024-03-02", "start": "10:00", "end": "09:00", "status": "PRESENT"}, "invalid_time_range"},
		{"bad clock", map[string]string{"date": "2024-03-02", "start": "nine", "end": "10:00", "status": "PRESENT"}, "validation_failed"},
		{"missing start", map[string]string{"date": "2024-03-01", "end": "10:00", "status": "present"}, "validation_failed"},
		{"missing end", map[string]string{"date": "2024-03-01", "start": "09:00", "status": "present"}, "validation_failed"},
		{"missing date", map[string]string{"start": "09:00", "end": "10:00", "status": "present"}, "validation_failed"},
		{"missing status", map[string]string{"date": "2024-03-01", "start": "09:00", "end": "10:00"}, "invalid_status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, records, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, decode[errorBody](t, w).Code)
		})
	}

	subj := decode[subjectBody](t, ts.do(t, http.MethodGet, "/v1/subjects/"+sid, nil))
	assert.Equal(t, 0, subj.TotalClasses, "rejected bodies leave the counters alone")

	w := ts.do(t, http.MethodPost, records,
		map[string]string{"date": "2024-03-01", "start": "09:00", "end": "10:00", "status": "PRESENT"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rec := decode[attendance.Record](t, w)
	for _, body := range []map[string]string{
		{"date": "2024-03-01", "end": "10:00", "status": "ABSENT"},
		{"date": "2024-03-01", "start": "09:00", "status": "ABSENT"},
	} {
		w := ts.do(t, http.MethodPut, records+"/"+rec.ID, body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "validation_failed", decode[errorBody](t, w).Code)
	}

	w = ts.do(t, http.MethodPost, "/v1/subjects/missing/records",
		map[string]string{"date": "2024-03-02", "start": "09:00", "end": "10:00", "status": "PRESENT"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTimetableAndActiveLecture(t *testing.T) {
	ts := newTestServer(t, false)
	sid := ts.createSubject(t, "Mathematics")

	slot := map[string]any{"day": "Monday", "subject_id": sid, "start": "09:00", "duration_hours": 2}
	w := ts.do(t, http.MethodPost, "/v1/timetable/slots", slot)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, "/v1/timetable/slots",
		map[string]any{"day": "Mon", "subject_id": sid, "start": "10:00", "duration_hours": 1})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "overlapping_slot", decode[errorBody](t, w).Code)

	w = ts.do(t, http.MethodPost, "/v1/timetable/slots",
		map[string]any{"id": "a/b", "day": "Friday", "subject_id": sid, "start": "09:00", "duration_hours": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_failed", decode[errorBody](t, w).Code)

	w = ts.do(t, http.MethodGet, "/v1/timetable/days/monday", nil)
	require.Equal(t, http.StatusOK, w.Code)
	day := decode[struct {
		Day   string          `json:"day"`
		Slots []schedule.Slot `json:"slots"`
	}](t, w)
	assert.Equal(t, "Monday", day.Day)
	require.Len(t, day.Slots, 1)

	w = ts.do(t, http.MethodGet, "/v1/active-lecture", nil)
	require.Equal(t, http.StatusOK, w.Code)
	det := decode[struct {
		State  string `json:"state"`
		Prompt struct {
			LectureID string `json:"lecture_id"`
		} `json:"prompt"`
	}](t, w)
	assert.Equal(t, "pending_confirmation", det.State)
	assert.Equal(t, "2024-03-04_0900_1100", det.Prompt.LectureID)

	w = ts.do(t, http.MethodPost, "/v1/active-lecture/confirm", map[string]string{"status": "PRESENT", "lecture_id": "2024-03-04_1000_1100"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "lecture_changed", decode[errorBody](t, w).Code)

	w = ts.do(t, http.MethodPost, "/v1/active-lecture/confirm", map[string]string{"status": "PRESENT", "lecture_id": det.Prompt.LectureID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"state":"idle"`)

	w = ts.do(t, http.MethodPost, "/v1/active-lecture/confirm", map[string]string{"status": "PRESENT"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "no_active_lecture", decode[errorBody](t, w).Code)

	w = ts.do(t, http.MethodGet, "/v1/active-lecture?at=2024-03-04T12:00:00%2B05:30", nil)
	assert.Contains(t, w.Body.String(), `"state":"idle"`)

	subj := decode[subjectBody](t, ts.do(t, http.MethodGet, "/v1/subjects/"+sid, nil))
	assert.Equal(t, 1, subj.AttendedClasses)

	w = ts.do(t, http.MethodPut, "/v1/timetable", map[string]any{"slots": []map[string]any{
		{"day": "Tuesday", "subject_id": sid, "start": "08:00", "duration_hours": 1},
		{"day": "Tuesday", "subject_id": sid, "start": "09:00", "duration_hours": 1},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	week := decode[struct {
		Days map[string][]schedule.Slot `json:"days"`
	}](t, ts.do(t, http.MethodGet, "/v1/timetable", nil))
	assert.NotContains(t, week.Days, "Monday")
	assert.Len(t, week.Days["Tuesday"], 2)

	id := week.Days["Tuesday"][0].ID
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/v1/timetable/slots/"+id, nil).Code)
}

func TestProjectionEndpoint(t *testing.T) {
	ts := newTestServer(t, false)
	ts.token = ""

	w := ts.do(t, http.MethodGet, "/v1/projection?attended=3&total=4&skip=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Summary struct {
			AtTarget bool `json:"at_target"`
			Bunkable int  `json:"bunkable"`
		} `json:"summary"`
		Scenario struct {
			NeededToRecover int `json:"lectures_needed_to_recover"`
		} `json:"scenario"`
	}](t, w)
	assert.True(t, body.Summary.AtTarget)
	assert.Equal(t, 0, body.Summary.Bunkable)
	assert.Equal(t, 3, body.Scenario.NeededToRecover)

	for _, q := range []string{
		"attended=5&total=4",
		"skip=-1",
		"total=lots",
		"attended=3000000000000000000&total=3000000000000000000",
		"attended=1&total=2&skip=1000000001",
	} {
		w := ts.do(t, http.MethodGet, "/v1/projection?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}

	w = ts.do(t, http.MethodGet, "/v1/projection?attended=1000000000&total=1000000000", nil)
	require.Equal(t, http.StatusOK, w.Code)
	top := decode[struct {
		Summary struct {
			Needed   int  `json:"lectures_needed"`
			AtTarget bool `json:"at_target"`
		} `json:"summary"`
	}](t, w)
	assert.True(t, top.Summary.AtTarget)
	assert.Equal(t, 0, top.Summary.Needed)
}

func TestReconcileEnqueues(t *testing.T) {
	ts := newTestServer(t, false)
	sid := ts.createSubject(t, "Biology")

	w := ts.do(t, http.MethodPost, "/v1/subjects/"+sid+"/reconcile", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ch, err := ts.queue.Consume(ctx)
	require.NoError(t, err)
	msg := <-ch
	job, err := msg.Reconcile()
	require.NoError(t, err)
	assert.Equal(t, queue.ReconcileJob{UserID: "user-1", SubjectID: sid}, job)

	w = ts.do(t, http.MethodPost, "/v1/subjects/missing/reconcile", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, false)
	w := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","store":true}`, w.Body.String())
}
