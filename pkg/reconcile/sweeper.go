package reconcile

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/careerforge/creditd/pkg/async"
)

// Sweeper periodically validates all billed accounts and syncs the ones
// that drifted.
type Sweeper struct {
	reconciler *Reconciler
	schedule   string
	workers    int
	cron       *cron.Cron
	log        *logrus.Logger
}

// NewSweeper creates the scheduled consistency sweep. schedule is a cron
// expression; an empty string disables the sweep.
func NewSweeper(reconciler *Reconciler, schedule string, workers int, log *logrus.Logger) *Sweeper {
	if workers <= 0 {
		workers = 4
	}
	if log == nil {
		log = logrus.New()
	}
	return &Sweeper{
		reconciler: reconciler,
		schedule:   schedule,
		workers:    workers,
		log:        log,
	}
}

// Start registers the cron job and begins the schedule.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.schedule == "" {
		s.log.Info("reconciliation sweep disabled")
		return nil
	}
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.schedule, func() {
		async.SafeGo(ctx, 15*time.Minute, "reconcile-sweep", s.RunOnce)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.WithField("schedule", s.schedule).Info("reconciliation sweep scheduled")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// RunOnce sweeps every account with a billing link, validating each and
// syncing the divergent ones. Failures are logged per account; one bad
// account never aborts the sweep.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	accounts, err := s.reconciler.ledger.LinkedAccounts(ctx)
	if err != nil {
		s.log.WithError(err).Error("listing accounts for sweep failed")
		return err
	}
	if len(accounts) == 0 {
		return nil
	}

	start := time.Now()
	var synced atomic.Int64
	errs := async.Batch(ctx, accounts, s.workers, "reconcile-account", time.Minute,
		func(ctx context.Context, accountID string) error {
			report, err := s.reconciler.ValidateConsistency(ctx, accountID)
			if err != nil {
				return err
			}
			if report.Consistent {
				return nil
			}
			result, err := s.reconciler.Sync(ctx, accountID, false)
			if err != nil {
				return err
			}
			if result.Updated {
				synced.Add(1)
			}
			return nil
		})

	entry := s.log.WithFields(logrus.Fields{
		"accounts": len(accounts),
		"synced":   synced.Load(),
		"failed":   len(errs),
		"duration": time.Since(start).String(),
	})
	if len(errs) > 0 {
		entry.WithError(errs[0]).Warn("reconciliation sweep finished with failures")
	} else {
		entry.Info("reconciliation sweep finished")
	}
	return nil
}
