// Package jobs runs background maintenance on a cron schedule.
package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/anonto42/chyrp-lite/backend/internal/services"
)

// Reconciler is the repair pass run by the scheduler.
type Reconciler interface {
	Run(ctx context.Context) (services.ReconcileStats, error)
}

type Scheduler struct {
	quartz *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler registers the reconcile job on schedule. An empty schedule
// disables it.
func NewScheduler(schedule string, reconciler Reconciler) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		quartz: cron.New(cron.WithLogger(cron.VerbosePrintfLogger(&log.Logger)), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		ctx:    ctx,
		cancel: cancel,
	}
	if schedule == "" {
		log.Info().Msg("Reconcile job disabled")
		return s, nil
	}
	if _, err := s.quartz.AddFunc(schedule, func() { s.reconcile(reconciler) }); err != nil {
		cancel()
		return nil, fmt.Errorf("scheduling reconcile job %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) reconcile(reconciler Reconciler) {
	stats, err := reconciler.Run(s.ctx)
	if err != nil {
		log.Error().Err(err).Msg("Reconcile job failed")
		return
	}
	log.Debug().Int("resolved", stats.Resolved).Int("failed", stats.Failed).Int("parked", stats.Parked).Msg("Reconcile job finished")
}

// Entries is the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.quartz.Entries())
}

func (s *Scheduler) Start() {
	s.quartz.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.quartz.Stop().Done()
}
