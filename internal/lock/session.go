// Package lock implements the lock session state machine: entry and exit of
// the locked UI session, the per-session password, and the bounded emergency
// override path.
package lock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/phonemanage/phonemanage-go/internal/devstate"
	"github.com/phonemanage/phonemanage-go/internal/directory"
	"github.com/phonemanage/phonemanage-go/internal/errors"
	"github.com/phonemanage/phonemanage-go/internal/logging"
	"github.com/phonemanage/phonemanage-go/internal/quota"
	"github.com/phonemanage/phonemanage-go/internal/telemetry"
)

// State is the lock session lifecycle state.
type State int

const (
	Unlocked State = iota
	Locking
	Locked
	Unlocking
)

func (s State) String() string {
	switch s {
	case Unlocked:
		return "unlocked"
	case Locking:
		return "locking"
	case Locked:
		return "locked"
	case Unlocking:
		return "unlocking"
	default:
		return "invalid"
	}
}

// Active reports whether the state counts as "device is (becoming) locked"
// for reconciliation purposes.
func (s State) Active() bool {
	return s == Locked || s == Locking
}

// Config wires a Session's collaborators.
type Config struct {
	Token           string
	Directory       directory.Client
	Cache           *devstate.Cache
	Quota           *quota.Manager
	Presenter       Presenter
	Metrics         *telemetry.Metrics
	SessionInterval time.Duration // in-session unlock watcher period
	ReportTimeout   time.Duration // budget for async server writes
}

// Session is the single process-wide lock session state machine. All
// transitions are serialized by one mutex, so concurrent triggers (remote
// poll and emergency unlock) always observe each other's effect.
type Session struct {
	mu          sync.Mutex
	state       State
	password    string
	activatedAt time.Time

	cfg    Config
	logger *slog.Logger

	baseCtx     context.Context
	baseCancel  context.CancelFunc
	watchCancel context.CancelFunc
	wg          sync.WaitGroup
}

// NewSession creates a session machine in the Unlocked state.
func NewSession(cfg Config) *Session {
	if cfg.SessionInterval <= 0 {
		cfg.SessionInterval = 5 * time.Second
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:        cfg,
		logger:     logging.ForService("lock"),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ActivatedAt returns when the current session was activated, zero when
// there is none.
func (s *Session) ActivatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activatedAt
}

// Activate enters a lock session. Valid only from Unlocked; calls while a
// session is live (Locked or Locking) are no-ops, so overlapping remote
// polls cannot produce a second password or a duplicate UI.
func (s *Session) Activate(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Active() {
		s.logger.Debug("activate ignored, session already live", "state", s.state.String(), "reason", reason)
		return nil
	}
	if s.state == Unlocking {
		return errors.Newf("activate during teardown").
			Component("lock").
			Category(errors.CategoryState).
			Context("reason", reason).
			Build()
	}

	password, err := generatePassword()
	if err != nil {
		return errors.New(err).
			Component("lock").
			Category(errors.CategoryState).
			Build()
	}

	s.state = Locking
	s.password = password
	s.activatedAt = time.Now()
	s.cfg.Presenter.Show(password)
	s.state = Locked

	s.logger.Info("lock session activated", "reason", reason)
	s.cfg.Metrics.RecordLockTransition("locked", reason)

	// flip the cached directive so readers agree with the session
	if s.cfg.Cache != nil {
		s.cfg.Cache.Mutate(func(r *directory.DeviceRecord) {
			r.Directive = directory.LockRequested
			r.LastSeen = s.activatedAt
		})
	}

	s.reportLockEventAsync(password, s.activatedAt)
	s.startWatcherLocked()
	return nil
}

// Deactivate exits the lock session. Valid from Locked or Locking; calling
// while Unlocked is a no-op.
func (s *Session) Deactivate(trigger string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Unlocked {
		s.logger.Debug("deactivate ignored, no live session", "trigger", trigger)
		return nil
	}
	if s.state == Unlocking {
		return nil
	}

	s.state = Unlocking

	// stop the session-scoped watcher before tearing the session down
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}

	s.cfg.Presenter.Dismiss()
	s.password = ""
	s.activatedAt = time.Time{}
	s.state = Unlocked

	s.logger.Info("lock session deactivated", "trigger", trigger)
	s.cfg.Metrics.RecordLockTransition("unlocked", trigger)

	if s.cfg.Cache != nil {
		s.cfg.Cache.Mutate(func(r *directory.DeviceRecord) {
			r.Directive = directory.UnlockRequested
			r.LastSeen = time.Now()
		})
	}
	s.writeUnlockAsync()
	return nil
}

// VerifyPassword checks candidate against the live session password.
func (s *Session) VerifyPassword(candidate string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Locked && s.password != "" && candidate == s.password
}

// AttemptEmergencyUnlock consumes one unit of the daily override budget and
// asks the server to clear the lock. The unit is spent at grant time: a
// remote failure after the grant returns an error but does not refund it.
func (s *Session) AttemptEmergencyUnlock(ctx context.Context) error {
	s.mu.Lock()
	if !s.state.Active() {
		s.mu.Unlock()
		return errors.Newf("no live lock session").
			Component("lock").
			Category(errors.CategoryState).
			Build()
	}
	token := s.cfg.Token
	s.mu.Unlock()

	if !s.cfg.Quota.TryConsume() {
		s.cfg.Metrics.RecordEmergencyUnlock("quota_exceeded")
		return errors.Newf("emergency unlock quota exhausted for today").
			Component("lock").
			Category(errors.CategoryLimit).
			Build()
	}

	if err := s.cfg.Directory.EmergencyUnlock(ctx, token); err != nil {
		s.cfg.Metrics.RecordEmergencyUnlock("remote_error")
		s.logger.Error("emergency unlock rejected by server", "error", err,
			"remaining", s.cfg.Quota.Remaining())
		return err
	}

	s.cfg.Metrics.RecordEmergencyUnlock("success")
	s.logger.Info("emergency unlock accepted", "remaining", s.cfg.Quota.Remaining())
	return s.Deactivate("emergency-unlock")
}

// Close tears the session machine down: any live session is deactivated and
// async reporters are waited out.
func (s *Session) Close() {
	_ = s.Deactivate("shutdown")
	s.baseCancel()
	s.wg.Wait()
}

// startWatcherLocked launches the in-session unlock watcher: a fast poll that
// ends the session as soon as the server's directive flips to unlock. Caller
// holds s.mu.
func (s *Session) startWatcherLocked() {
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.watchCancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.SessionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				record, err := s.cfg.Directory.GetByToken(ctx, s.cfg.Token)
				if err != nil {
					// keep the lock on uncertainty
					s.logger.Debug("in-session status check failed", "error", err)
					continue
				}
				if record.Directive == directory.UnlockRequested {
					_ = s.Deactivate("remote-unlock")
					return
				}
			}
		}
	}()
}

// reportLockEventAsync reports the activation to the server without blocking
// the transition. Failures are logged; the lock stands regardless.
func (s *Session) reportLockEventAsync(password string, lockedAt time.Time) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.ReportTimeout)
		defer cancel()

		if err := s.cfg.Directory.ReportLockEvent(ctx, s.cfg.Token, password, lockedAt); err != nil {
			s.logger.Warn("failed to report lock event", "error", err)
		}

		if s.cfg.Cache != nil {
			if record, ok := s.cfg.Cache.Get(); ok {
				if err := s.cfg.Directory.Update(ctx, &record); err != nil {
					s.logger.Warn("failed to write lock flag to server", "error", err)
				}
			}
		}
	}()
}

// writeUnlockAsync writes the unlocked flag back to the server.
func (s *Session) writeUnlockAsync() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.ReportTimeout)
		defer cancel()

		if s.cfg.Cache != nil {
			if record, ok := s.cfg.Cache.Get(); ok {
				if err := s.cfg.Directory.Update(ctx, &record); err != nil {
					s.logger.Warn("failed to write unlock flag to server", "error", err)
				}
			}
		}
	}()
}
