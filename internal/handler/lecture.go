package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"classledger/internal/apperrors"
	"classledger/internal/attendance"
	"classledger/internal/auth"
	"classledger/internal/detector"
)

// clock returns the instant to evaluate, honoring an RFC 3339 "at" query.
func (s *server) clock(c *gin.Context) (time.Time, error) {
	raw := c.Query("at")
	if raw == "" {
		return s.Now(), nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperrors.Invalid("at", raw, "expected RFC 3339 time")
	}
	return at, nil
}

func (s *server) activeLecture(c *gin.Context) {
	now, err := s.clock(c)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	det, err := s.Detector.Detect(c.Request.Context(), auth.UserID(c), now)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, det)
}

// confirmLecture detects again on the server and records the lecture that is
// pending right now. A lecture_id in the body must match it.
func (s *server) confirmLecture(c *gin.Context) {
	var req struct {
		Status    attendance.Status `json:"status"`
		LectureID string            `json:"lecture_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if !req.Status.Valid() {
		s.badRequest(c, apperrors.ErrInvalidStatus)
		return
	}
	now, err := s.clock(c)
	if err != nil {
		s.badRequest(c, err)
		return
	}

	uid := auth.UserID(c)
	det, err := s.Detector.Detect(c.Request.Context(), uid, now)
	if err != nil {
		s.fail(c, err)
		return
	}
	if det.State != detector.PendingConfirmation {
		c.JSON(http.StatusConflict, gin.H{"error": "no lecture awaiting confirmation", "code": "no_active_lecture"})
		return
	}
	if req.LectureID != "" && req.LectureID != det.Prompt.LectureID {
		c.JSON(http.StatusConflict, gin.H{"error": "lecture is no longer active", "code": "lecture_changed"})
		return
	}

	det, err = s.Detector.Confirm(c.Request.Context(), uid, *det.Prompt, req.Status)
	s.observe("confirm", err)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, det)
}
