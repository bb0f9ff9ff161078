package provision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/puppetline/puppetline/internal/config"
	"github.com/puppetline/puppetline/internal/executor"
	"github.com/puppetline/puppetline/internal/logger"
	"github.com/puppetline/puppetline/internal/puppet"
)

// Sleeper abstracts blocking waits so tests can observe and skip them.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// ClockSleeper waits on the real clock, honoring context cancellation.
type ClockSleeper struct{}

// Sleep blocks for d or until ctx is done.
func (ClockSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// certWaiter waits until the target's certificate signing request can be
// expected on the MoM. The agent submits its request asynchronously after
// the service starts; signing before it lands fails with "no pending
// request".
//
// The default strategy polls the MoM's pending-request list with
// exponential backoff. The fixed strategy preserves the legacy
// sleep-then-sign behavior for environments where probing the MoM is
// unwanted.
type certWaiter struct {
	exec     executor.Executor
	mom      executor.Target
	settings config.CertWaitSettings
	sleeper  Sleeper
	log      *logger.Logger
}

func (w *certWaiter) Wait(ctx context.Context, certname string) error {
	if w.settings.Strategy == config.CertWaitFixed {
		w.log.Debug("waiting fixed settle interval before signing")
		return w.sleeper.Sleep(ctx, w.settings.Settle())
	}
	return w.poll(ctx, certname)
}

func (w *certWaiter) poll(ctx context.Context, certname string) error {
	intervals := backoff.NewExponentialBackOff()
	intervals.InitialInterval = w.settings.Interval()
	intervals.RandomizationFactor = 0
	// Attempts bound the poll, not elapsed time.
	intervals.MaxElapsedTime = 0
	intervals.Reset()

	maxAttempts := w.settings.MaxAttempts
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		pending, err := w.pendingRequests(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(pending, certname) {
			return nil
		}

		if attempt == maxAttempts {
			break
		}
		if err := w.sleeper.Sleep(ctx, intervals.NextBackOff()); err != nil {
			return err
		}
	}

	return fmt.Errorf("no pending certificate request for %s on %s after %d attempts", certname, w.mom, maxAttempts)
}

func (w *certWaiter) pendingRequests(ctx context.Context) (string, error) {
	results, err := w.exec.RunCommand(ctx, puppet.CAListPending(), []executor.Target{w.mom})
	if err != nil {
		return "", fmt.Errorf("list pending certificate requests on %s: %w", w.mom, err)
	}
	return executor.First(results).Output, nil
}
