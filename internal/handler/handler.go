// Package handler exposes the ledger, the timetable and the detector over
// HTTP with gin.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"classledger/internal/apperrors"
	"classledger/internal/attendance"
	"classledger/internal/auth"
	"classledger/internal/detector"
	"classledger/internal/docstore"
	"classledger/internal/httpmiddleware"
	"classledger/internal/metrics"
	"classledger/internal/queue"
	"classledger/internal/schedule"
	"classledger/internal/store"
)

// Deps are the collaborators the router serves.
type Deps struct {
	Store     docstore.Store
	Redis     *store.Redis
	Ledger    *attendance.Service
	Timetable *schedule.Timetable
	Detector  *detector.Detector
	Queue     queue.Queue
	Issuer    auth.Issuer
	Limiter   httpmiddleware.Limiter
	Metrics   *metrics.Metrics
	Log       zerolog.Logger
	Location  *time.Location
	// DevTokens enables POST /v1/tokens, which issues tokens for any user id.
	DevTokens bool
	Now       func() time.Time
}

type server struct {
	Deps
}

// Router builds the gin engine with every route registered.
func Router(d Deps) *gin.Engine {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	s := &server{Deps: d}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(d.Log, "/healthz", "/metrics"))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware())
	}
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: false,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.health)

	public := r.Group("/v1")
	if d.Limiter != nil {
		public.Use(httpmiddleware.RateLimit(d.Limiter, d.Log))
	}
	if d.DevTokens {
		public.POST("/tokens", s.issueToken)
	}
	public.POST("/tokens/refresh", s.refreshToken)
	public.GET("/projection", s.projection)

	v1 := r.Group("/v1", auth.UserAuth(d.Issuer))
	if d.Limiter != nil {
		v1.Use(httpmiddleware.RateLimit(d.Limiter, d.Log))
	}

	v1.GET("/subjects", s.listSubjects)
	v1.POST("/subjects", s.createSubject)
	v1.GET("/subjects/:id", s.getSubject)
	v1.DELETE("/subjects/:id", s.deleteSubject)
	v1.GET("/subjects/:id/projection", s.subjectProjection)
	v1.POST("/subjects/:id/reconcile", s.enqueueReconcile)

	v1.GET("/subjects/:id/records", s.listRecords)
	v1.POST("/subjects/:id/records", s.markAttendance)
	v1.GET("/subjects/:id/records/:recordId", s.getRecord)
	v1.PUT("/subjects/:id/records/:recordId", s.editAttendance)
	v1.DELETE("/subjects/:id/records/:recordId", s.deleteAttendance)

	v1.GET("/timetable", s.getWeek)
	v1.PUT("/timetable", s.replaceWeek)
	v1.GET("/timetable/days/:day", s.getDay)
	v1.POST("/timetable/slots", s.addSlot)
	v1.DELETE("/timetable/slots/:slotId", s.deleteSlot)

	v1.GET("/active-lecture", s.activeLecture)
	v1.POST("/active-lecture/confirm", s.confirmLecture)

	return r
}

func (s *server) health(c *gin.Context) {
	storeErr := s.Store.Ping(c.Request.Context())
	body := gin.H{"status": "ok", "store": storeErr == nil}
	status := http.StatusOK
	if storeErr != nil {
		s.Log.Warn().Err(storeErr).Msg("store health check failed")
		status = http.StatusServiceUnavailable
	}
	if s.Redis != nil {
		healthy := s.Redis.Healthy(c.Request.Context())
		body["redis"] = healthy
		if !healthy {
			status = http.StatusServiceUnavailable
		}
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}

// fail renders err with the status and code of its sentinel. Unclassified
// errors are logged and hidden from the client.
func (s *server) fail(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.Log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		msg = "internal error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": apperrors.Code(err)})
}

// badRequest renders a body or query that could not be decoded.
func (s *server) badRequest(c *gin.Context, err error) {
	if errors.Is(err, apperrors.ErrValidation) || errors.Is(err, apperrors.ErrInvalidStatus) ||
		errors.Is(err, apperrors.ErrInvalidTimeRange) {
		s.fail(c, err)
		return
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "bad_request"})
}

func (s *server) observe(op string, err error) {
	if s.Metrics != nil {
		s.Metrics.ObserveOp(op, err)
	}
}
