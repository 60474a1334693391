// Package reconcile re-runs partner network sync for confirmed payments that
// never reached it.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/andreasstove999/lead-portal/reconciler-go/internal/netsync"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/payment"
)

const (
	defaultBatch = 100
	sweepTimeout = 5 * time.Minute
)

type Store interface {
	ListUnsyncedConfirmed(ctx context.Context, updatedBefore time.Time, limit int) ([]payment.Payment, error)
	MarkSyncAttempted(ctx context.Context, paymentID string) error
}

type Syncer interface {
	Sync(ctx context.Context, paymentID string) (netsync.Result, error)
}

type Options struct {
	Grace         time.Duration
	Batch         int
	RatePerSecond float64
}

type Report struct {
	Scanned int
	Synced  int
	Skipped int
	Failed  int
}

type Sweeper struct {
	payments Store
	syncer   Syncer
	grace    time.Duration
	batch    int
	limiter  *rate.Limiter
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewSweeper(payments Store, syncer Syncer, opts Options, logger logrus.FieldLogger) *Sweeper {
	if opts.Batch <= 0 {
		opts.Batch = defaultBatch
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	return &Sweeper{
		payments: payments,
		syncer:   syncer,
		grace:    opts.Grace,
		batch:    opts.Batch,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
		now:      time.Now,
	}
}

// Sweep syncs one batch of confirmed, unsynced payments older than the grace
// period, paced by the rate limit. The grace period leaves fresh confirmations
// to the sync the webhook already started.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var rep Report

	rows, err := s.payments.ListUnsyncedConfirmed(ctx, s.now().Add(-s.grace), s.batch)
	if err != nil {
		return rep, fmt.Errorf("list unsynced payments: %w", err)
	}
	rep.Scanned = len(rows)

	for _, p := range rows {
		if err := s.limiter.Wait(ctx); err != nil {
			return rep, err
		}
		res, err := s.syncer.Sync(ctx, p.ID)
		switch {
		case err != nil:
			rep.Failed++
			s.logger.WithError(err).WithField("payment_id", p.ID).Warn("resync failed")
		case res.Skipped:
			rep.Skipped++
		default:
			rep.Synced++
			continue
		}
		if err := s.payments.MarkSyncAttempted(ctx, p.ID); err != nil {
			s.logger.WithError(err).WithField("payment_id", p.ID).Warn("resync attempt not recorded")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"scanned": rep.Scanned,
		"synced":  rep.Synced,
		"skipped": rep.Skipped,
		"failed":  rep.Failed,
	}).Info("sync sweep finished")
	return rep, nil
}

// Schedule registers Sweep on a cron spec. The caller starts and stops the
// returned scheduler. Overlapping runs are skipped.
func (s *Sweeper) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	cl := cron.PrintfLogger(s.logger)
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	_, err := c.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
		defer cancel()
		if _, err := s.Sweep(runCtx); err != nil {
			s.logger.WithError(err).Error("sync sweep failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule sync sweep %q: %w", spec, err)
	}
	return c, nil
}
