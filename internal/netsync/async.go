package netsync

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Runner interface {
	Sync(ctx context.Context, paymentID string) (Result, error)
}

// Async runs syncs in the background so callers never wait on the partner
// network. Each run gets its own timeout and keeps the caller's context values.
type Async struct {
	runner  Runner
	timeout time.Duration
	logger  logrus.FieldLogger
	wg      sync.WaitGroup
}

func NewAsync(runner Runner, timeout time.Duration, logger logrus.FieldLogger) *Async {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Async{runner: runner, timeout: timeout, logger: logger}
}

func (a *Async) Trigger(ctx context.Context, paymentID string) {
	bg := context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(bg, a.timeout)
		defer cancel()

		res, err := a.runner.Sync(ctx, paymentID)
		log := a.logger.WithField("payment_id", paymentID)
		switch {
		case err != nil:
			log.WithError(err).Error("partner sync failed")
		case res.Skipped:
			log.WithField("reason", res.Reason).Warn("partner sync skipped")
		}
	}()
}

// Wait blocks until in-flight syncs finish.
func (a *Async) Wait() {
	a.wg.Wait()
}
