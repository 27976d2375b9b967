package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"classledger/internal/apperrors"
	"classledger/internal/attendance"
	"classledger/internal/auth"
	"classledger/internal/projection"
	"classledger/internal/queue"
)

type subjectView struct {
	attendance.Subject
	Summary projection.Summary `json:"summary"`
}

func viewSubject(s attendance.Subject) subjectView {
	return subjectView{Subject: s, Summary: s.Summary()}
}

func (s *server) listSubjects(c *gin.Context) {
	subjects, err := s.Ledger.ListSubjects(c.Request.Context(), auth.UserID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]subjectView, 0, len(subjects))
	for _, subj := range subjects {
		out = append(out, viewSubject(subj))
	}
	c.JSON(http.StatusOK, gin.H{"subjects": out})
}

func (s *server) createSubject(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	subj, err := s.Ledger.CreateSubject(c.Request.Context(), auth.UserID(c), req.Name)
	s.observe("create_subject", err)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewSubject(subj))
}

func (s *server) getSubject(c *gin.Context) {
	subj, err := s.Ledger.GetSubject(c.Request.Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSubject(subj))
}

func (s *server) deleteSubject(c *gin.Context) {
	err := s.Ledger.DeleteSubject(c.Request.Context(), auth.UserID(c), c.Param("id"))
	s.observe("delete_subject", err)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) subjectProjection(c *gin.Context) {
	skip, err := intQuery(c, "skip", 0)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	subj, err := s.Ledger.GetSubject(c.Request.Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subject_id": subj.ID,
		"summary":    subj.Summary(),
		"scenario":   projection.WhatIf(subj.AttendedClasses, subj.TotalClasses, skip),
	})
}

// projection answers what-if questions for counters supplied by the caller.
func (s *server) projection(c *gin.Context) {
	attended, err := intQuery(c, "attended", 0)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	total, err := intQuery(c, "total", 0)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	skip, err := intQuery(c, "skip", 0)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	if attended > total {
		s.badRequest(c, apperrors.Invalid("attended", strconv.Itoa(attended), "cannot exceed total"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"summary":  projection.Summarize(attended, total),
		"scenario": projection.WhatIf(attended, total, skip),
	})
}

func (s *server) enqueueReconcile(c *gin.Context) {
	uid := auth.UserID(c)
	subj, err := s.Ledger.GetSubject(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	msg, err := queue.NewReconcile(queue.ReconcileJob{UserID: uid, SubjectID: subj.ID})
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.Queue.Publish(c.Request.Context(), msg); err != nil {
		s.Log.Error().Err(err).Str("subject_id", subj.ID).Msg("queue publish failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable", "code": "queue_unavailable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "subject_id": subj.ID})
}

// intQuery reads a lecture count query parameter in [0, projection.MaxCount].
func intQuery(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.Invalid(name, raw, "must be a non-negative integer")
	}
	if n > projection.MaxCount {
		return 0, apperrors.Invalid(name, raw, fmt.Sprintf("must not exceed %d", projection.MaxCount))
	}
	return n, nil
}
