// Package worker consumes reconcile jobs and recounts subject counters.
package worker

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"classledger/internal/apperrors"
	"classledger/internal/attendance"
	"classledger/internal/metrics"
	"classledger/internal/queue"
)

// Reconciler recounts one subject from its records.
type Reconciler interface {
	Reconcile(ctx context.Context, uid, subjectID string) (attendance.Subject, bool, error)
}

// Pool runs Workers consumers over one queue.
type Pool struct {
	Queue   queue.Queue
	Ledger  Reconciler
	Metrics *metrics.Metrics
	Log     zerolog.Logger
	Workers int
}

// Run blocks until ctx is done and the consumers drain.
func (p Pool) Run(ctx context.Context) error {
	msgs, err := p.Queue.Consume(ctx)
	if err != nil {
		return err
	}
	n := p.Workers
	if n < 1 {
		n = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		log := p.Log.With().Int("worker", i).Logger()
		g.Go(func() error {
			for msg := range msgs {
				p.handle(ctx, log, msg)
			}
			return nil
		})
	}
	p.Log.Info().Int("workers", n).Msg("worker started, waiting for messages")
	return g.Wait()
}

func (p Pool) handle(ctx context.Context, log zerolog.Logger, msg queue.Message) {
	job, err := msg.Reconcile()
	if err != nil {
		log.Warn().Err(err).Str("type", msg.Type).Msg("dropping message")
		p.count("malformed")
		return
	}
	log = log.With().Str("user_id", job.UserID).Str("subject_id", job.SubjectID).Logger()

	subj, changed, err := p.Ledger.Reconcile(ctx, job.UserID, job.SubjectID)
	switch {
	case errors.Is(err, apperrors.ErrSubjectNotFound):
		log.Info().Msg("subject deleted before reconcile")
		p.count(apperrors.Code(err))
	case err != nil:
		log.Error().Err(err).Msg("reconcile failed")
		p.count(apperrors.Code(err))
	case changed:
		log.Info().
			Int("total_classes", subj.TotalClasses).
			Int("attended_classes", subj.AttendedClasses).
			Msg("counters corrected")
		p.count("changed")
	default:
		log.Debug().Msg("counters already consistent")
		p.count("ok")
	}
}

func (p Pool) count(result string) {
	if p.Metrics != nil {
		p.Metrics.ReconcileJobs.WithLabelValues(result).Inc()
	}
}
