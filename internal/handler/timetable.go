package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"classledger/internal/auth"
	"classledger/internal/schedule"
)

// weekView keys a week by day name, Sunday first, omitting empty days.
func weekView(w schedule.Week) map[string][]schedule.Slot {
	out := make(map[string][]schedule.Slot, len(w))
	for day := time.Sunday; day <= time.Saturday; day++ {
		if slots := w[day]; len(slots) > 0 {
			sorted := append([]schedule.Slot(nil), slots...)
			schedule.SortByStart(sorted)
			out[day.String()] = sorted
		}
	}
	return out
}

func (s *server) getWeek(c *gin.Context) {
	w, err := s.Timetable.Week(c.Request.Context(), auth.UserID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": weekView(w)})
}

func (s *server) replaceWeek(c *gin.Context) {
	var req struct {
		Slots []schedule.Slot `json:"slots"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	w, err := s.Timetable.ReplaceWeek(c.Request.Context(), auth.UserID(c), schedule.Group(req.Slots))
	s.observe("replace_week", err)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": weekView(w)})
}

func (s *server) getDay(c *gin.Context) {
	day, err := schedule.ParseWeekday(c.Param("day"))
	if err != nil {
		s.badRequest(c, err)
		return
	}
	slots, err := s.Timetable.Day(c.Request.Context(), auth.UserID(c), day)
	if err != nil {
		s.fail(c, err)
		return
	}
	if slots == nil {
		slots = []schedule.Slot{}
	}
	c.JSON(http.StatusOK, gin.H{"day": day.String(), "slots": slots})
}

func (s *server) addSlot(c *gin.Context) {
	var slot schedule.Slot
	if err := c.ShouldBindJSON(&slot); err != nil {
		s.badRequest(c, err)
		return
	}
	slot, err := s.Timetable.AddSlot(c.Request.Context(), auth.UserID(c), slot)
	s.observe("add_slot", err)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, slot)
}

func (s *server) deleteSlot(c *gin.Context) {
	err := s.Timetable.DeleteSlot(c.Request.Context(), auth.UserID(c), c.Param("slotId"))
	s.observe("delete_slot", err)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
