// Package reconciler runs the periodic status poll that keeps the local
// device state aligned with the server's directive.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phonemanage/phonemanage-go/internal/devstate"
	"github.com/phonemanage/phonemanage-go/internal/directory"
	"github.com/phonemanage/phonemanage-go/internal/errors"
	"github.com/phonemanage/phonemanage-go/internal/logging"
	"github.com/phonemanage/phonemanage-go/internal/telemetry"
)

// LockController is the slice of the lock session the reconciler drives.
type LockController interface {
	Activate(reason string) error
	Deactivate(trigger string) error
}

// Config wires a Reconciler's collaborators and timing.
type Config struct {
	Token     string
	Directory directory.Client
	Cache     *devstate.Cache
	Session   LockController
	Metrics   *telemetry.Metrics

	Interval         time.Duration // base poll period
	MaxInterval      time.Duration // backoff ceiling
	FailureThreshold int           // consecutive failures before backoff kicks in
	Heartbeat        time.Duration // presence write period, 0 disables
}

// Reconciler polls the directory on a self-rescheduling timer. Each cycle
// fetches the device record, applies the server's lock directive, refreshes
// the state cache, and picks the delay for the next cycle. Sustained failure
// doubles the delay up to MaxInterval; one success snaps it back.
type Reconciler struct {
	cfg    Config
	logger *slog.Logger

	mu              sync.Mutex
	failures        int
	currentInterval time.Duration
	lastHeartbeat   time.Time
}

// New creates a Reconciler. Timing fields fall back to safe values so a
// zeroed Config cannot produce a busy loop.
func New(cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MaxInterval < cfg.Interval {
		cfg.MaxInterval = 10 * time.Minute
		if cfg.MaxInterval < cfg.Interval {
			cfg.MaxInterval = cfg.Interval
		}
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	return &Reconciler{
		cfg:             cfg,
		logger:          logging.ForService("reconciler"),
		currentInterval: cfg.Interval,
	}
}

// Start launches the poll loop. It polls once immediately, then keeps
// rescheduling itself until quitChan closes.
func (r *Reconciler) Start(wg *sync.WaitGroup, quitChan <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-quitChan
		cancel()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.run(ctx)
	}()
}

func (r *Reconciler) run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			delay := r.cycle(ctx)
			r.cfg.Metrics.SetPollInterval(delay.Seconds())
			timer.Reset(delay)
		}
	}
}

// cycle runs one poll and returns the delay before the next one.
func (r *Reconciler) cycle(ctx context.Context) time.Duration {
	err := r.pollSafe(ctx)
	if err == nil {
		r.cfg.Metrics.RecordPoll("success")
		r.cfg.Metrics.SetConsecutiveFailures(0)
		return r.resetBackoff()
	}
	if ctx.Err() != nil {
		// shutting down, the delay no longer matters
		return r.cfg.Interval
	}

	r.cfg.Metrics.RecordPoll("failure")
	failures, delay := r.recordFailure()
	r.cfg.Metrics.SetConsecutiveFailures(failures)

	if failures >= r.cfg.FailureThreshold {
		r.logger.Warn("status poll failing, backing off",
			"error", err, "consecutive_failures", failures, "next_poll_in", delay.String())
	} else {
		r.logger.Error("status poll failed", "error", err, "consecutive_failures", failures)
	}
	return delay
}

// pollSafe shields the loop from a panicking cycle: a panic is converted to
// an error and counted as a failure, and the loop keeps running.
func (r *Reconciler) pollSafe(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Newf("poll cycle panicked: %v", rec).
				Component("reconciler").
				Category(errors.CategoryGeneric).
				Build()
			r.logger.Error("recovered from poll panic", "panic", fmt.Sprintf("%v", rec))
		}
	}()
	return r.poll(ctx)
}

func (r *Reconciler) poll(ctx context.Context) error {
	snap, ok := r.cfg.Cache.Snapshot()
	if !ok {
		// initialization has not populated the cache yet, try again later
		r.logger.Debug("device state not initialized, skipping poll")
		return nil
	}
	basis := snap.Version

	record, err := r.cfg.Directory.GetByToken(ctx, r.cfg.Token)
	if err != nil {
		if errors.Is(err, errors.ErrDeviceNotFound) {
			return r.reregister(ctx, snap.Record)
		}
		return err
	}

	// the loop may have been stopped while the fetch was in flight; a
	// stopped tick must not mutate session or cache state
	if ctx.Err() != nil {
		return ctx.Err()
	}

	switch record.Directive {
	case directory.LockRequested:
		if err := r.cfg.Session.Activate("remote-lock"); err != nil {
			r.logger.Warn("could not apply lock directive", "error", err)
		}
	case directory.UnlockRequested:
		if err := r.cfg.Session.Deactivate("remote-unlock"); err != nil {
			r.logger.Warn("could not apply unlock directive", "error", err)
		}
	default:
		r.logger.Debug("ignoring unknown lock directive")
	}

	if _, stored := r.cfg.Cache.SetIfNewer(*record, basis); !stored {
		r.logger.Debug("fetched record superseded by a local write")
	}

	r.maybeHeartbeat(ctx, record)
	return nil
}

// reregister recreates the server-side record from the local view after the
// server lost it. The fresh record, id included, lands on the next cycle.
func (r *Reconciler) reregister(ctx context.Context, local directory.DeviceRecord) error {
	r.logger.Warn("device unknown to server, re-registering")
	local.ID = nil
	return r.cfg.Directory.Create(ctx, &local)
}

// maybeHeartbeat writes presence back to the server at the configured period.
// Heartbeat failures are logged but never counted against the poll loop.
func (r *Reconciler) maybeHeartbeat(ctx context.Context, record *directory.DeviceRecord) {
	if r.cfg.Heartbeat <= 0 {
		return
	}

	now := time.Now()
	r.mu.Lock()
	due := r.lastHeartbeat.IsZero() || now.Sub(r.lastHeartbeat) >= r.cfg.Heartbeat
	if due {
		r.lastHeartbeat = now
	}
	r.mu.Unlock()
	if !due {
		return
	}

	beat := record.Clone()
	beat.Status = directory.StatusOnline
	beat.LastSeen = now
	if err := r.cfg.Directory.Update(ctx, &beat); err != nil {
		r.logger.Warn("heartbeat write failed", "error", err)
		return
	}
	r.cfg.Metrics.RecordHeartbeat()
	r.logger.Debug("heartbeat written")
}

func (r *Reconciler) resetBackoff() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = 0
	r.currentInterval = r.cfg.Interval
	return r.currentInterval
}

func (r *Reconciler) recordFailure() (int, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
	if r.failures >= r.cfg.FailureThreshold {
		r.currentInterval *= 2
		if r.currentInterval > r.cfg.MaxInterval {
			r.currentInterval = r.cfg.MaxInterval
		}
	}
	return r.failures, r.currentInterval
}

// ConsecutiveFailures returns the current failure run length.
func (r *Reconciler) ConsecutiveFailures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

// CurrentInterval returns the delay that will precede the next poll.
func (r *Reconciler) CurrentInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentInterval
}
