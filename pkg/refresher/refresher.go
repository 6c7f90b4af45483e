// Package refresher schedules periodic refreshes of registered accounts,
// with jitter so accounts spread out and backoff when a refresh fails.
package refresher

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/B-Hartley/tunnelflight/pkg/log"
	"github.com/B-Hartley/tunnelflight/pkg/types"
)

const (
	defaultInterval   = 6 * time.Hour
	defaultBackoffMin = 5 * time.Minute
	defaultBackoffMax = time.Hour

	// each tick is jittered by up to this fraction of the interval either way
	jitterFraction = 0.1
)

// RefreshFunc performs one refresh of the given account.
type RefreshFunc func(ctx context.Context, accountID string) error

// Refresher runs one schedule per registered account.
type Refresher struct {
	refresh RefreshFunc

	mu         sync.Mutex
	interval   time.Duration
	backoffMin time.Duration
	backoffMax time.Duration
	paused     bool
	accounts   map[string]context.CancelFunc
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a Refresher that refreshes accounts through refresh.
// Start must be called before registering accounts.
func New(refresh RefreshFunc) *Refresher {
	return &Refresher{
		refresh:    refresh,
		interval:   defaultInterval,
		backoffMin: defaultBackoffMin,
		backoffMax: defaultBackoffMax,
		accounts:   make(map[string]context.CancelFunc),
	}
}

// ApplySettings updates the schedule parameters. Running schedules pick up
// the new values on their next tick.
func (r *Refresher) ApplySettings(settings types.Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if settings.RefreshIntervalMinutes > 0 {
		r.interval = time.Duration(settings.RefreshIntervalMinutes) * time.Minute
	}
	if settings.BackoffMinMinutes > 0 {
		r.backoffMin = time.Duration(settings.BackoffMinMinutes) * time.Minute
	}
	if settings.BackoffMaxMinutes > 0 {
		r.backoffMax = time.Duration(settings.BackoffMaxMinutes) * time.Minute
	}
	r.paused = settings.Pause
}

// Start prepares the refresher to accept registrations.
func (r *Refresher) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx != nil {
		return
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
}

// Stop cancels all schedules and waits for them to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.accounts = make(map[string]context.CancelFunc)
	r.ctx = nil
	r.cancel = nil
	r.mu.Unlock()
	r.wg.Wait()
}

// Register starts a refresh schedule for the account. The first refresh runs
// immediately. Registering an already registered account is a no-op.
func (r *Refresher) Register(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil {
		panic("refresher: Register called before Start")
	}
	if _, ok := r.accounts[accountID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(r.ctx)
	r.accounts[accountID] = cancel
	r.wg.Add(1)
	go r.run(ctx, accountID)
}

// Deregister stops the schedule for the account.
func (r *Refresher) Deregister(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.accounts[accountID]; ok {
		cancel()
		delete(r.accounts, accountID)
	}
}

func (r *Refresher) run(ctx context.Context, accountID string) {
	defer r.wg.Done()

	ctx = log.WithAttrs(ctx, slog.String("accountID", accountID))

	var failures int
	// first refresh happens right away
	delay := time.Duration(0)

	for {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		r.mu.Lock()
		interval := r.interval
		backoffMin := r.backoffMin
		backoffMax := r.backoffMax
		paused := r.paused
		r.mu.Unlock()

		if paused {
			log.Ctx(ctx).DebugContext(ctx, "refreshes paused, skipping")
			delay = r.jitter(interval)
			continue
		}

		if err := r.refresh(ctx, accountID); err != nil {
			failures++
			delay = backoff(backoffMin, backoffMax, failures)
			log.Ctx(ctx).WarnContext(ctx, "account refresh failed",
				slog.Any("error", err),
				slog.Int("failures", failures),
				slog.Duration("retryIn", delay),
			)
			continue
		}

		if failures > 0 {
			log.Ctx(ctx).InfoContext(ctx, "account refresh recovered", slog.Int("failures", failures))
		}
		failures = 0
		delay = r.jitter(interval)
	}
}

// jitter returns d adjusted by up to ±jitterFraction.
func (r *Refresher) jitter(d time.Duration) time.Duration {
	f := 1 + jitterFraction*(2*rand.Float64()-1)
	return time.Duration(float64(d) * f)
}

// backoff doubles from min with each consecutive failure, capped at max.
func backoff(min, max time.Duration, failures int) time.Duration {
	d := min
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
