package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"classledger/internal/apperrors"
	"classledger/internal/attendance"
	"classledger/internal/auth"
	"classledger/internal/lecture"
)

type lectureBody struct {
	Date   string            `json:"date"`
	Start  *lecture.Clock    `json:"start"`
	End    *lecture.Clock    `json:"end"`
	Status attendance.Status `json:"status"`
}

// parse resolves the date in loc and requires both clocks.
func (b lectureBody) parse(loc *time.Location) (date time.Time, start, end lecture.Clock, err error) {
	if b.Start == nil {
		return time.Time{}, 0, 0, apperrors.Invalid("start", "", "required")
	}
	if b.End == nil {
		return time.Time{}, 0, 0, apperrors.Invalid("end", "", "required")
	}
	date, err = lecture.ParseDate(b.Date, loc)
	if err != nil {
		return time.Time{}, 0, 0, err
	}
	return date, *b.Start, *b.End, nil
}

func (s *server) listRecords(c *gin.Context) {
	var f attendance.Filter
	for _, q := range []struct {
		name string
		dst  *string
	}{{"from", &f.From}, {"to", &f.To}} {
		raw := c.Query(q.name)
		if raw == "" {
			continue
		}
		d, err := lecture.ParseDate(raw, s.Location)
		if err != nil {
			s.badRequest(c, err)
			return
		}
		*q.dst = lecture.DateKey(d)
	}
	if raw := c.Query("status"); raw != "" {
		st, err := attendance.ParseStatus(raw)
		if err != nil {
			s.badRequest(c, err)
			return
		}
		f.Status = st
	}

	records, err := s.Ledger.ListRecords(c.Request.Context(), auth.UserID(c), c.Param("id"), f)
	if err != nil {
		s.fail(c, err)
		return
	}
	if records == nil {
		records = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (s *server) markAttendance(c *gin.Context) {
	var req struct {
		lectureBody
		Note string `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	date, start, end, err := req.parse(s.Location)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	rec, err := s.Ledger.MarkAttendance(c.Request.Context(), auth.UserID(c), attendance.MarkRequest{
		SubjectID: c.Param("id"),
		Date:      date,
		Start:     start,
		End:       end,
		Status:    req.Status,
		Note:      req.Note,
	})
	s.observe("mark", err)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (s *server) getRecord(c *gin.Context) {
	rec, err := s.Ledger.GetRecord(c.Request.Context(), auth.UserID(c), c.Param("id"), c.Param("recordId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *server) editAttendance(c *gin.Context) {
	var req struct {
		lectureBody
		Note *string `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	date, start, end, err := req.parse(s.Location)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	rec, err := s.Ledger.EditAttendance(c.Request.Context(), auth.UserID(c), attendance.EditRequest{
		SubjectID: c.Param("id"),
		RecordID:  c.Param("recordId"),
		Date:      date,
		Start:     start,
		End:       end,
		Status:    req.Status,
		Note:      req.Note,
	})
	s.observe("edit", err)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *server) deleteAttendance(c *gin.Context) {
	err := s.Ledger.DeleteAttendance(c.Request.Context(), auth.UserID(c), c.Param("id"), c.Param("recordId"))
	s.observe("delete", err)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
