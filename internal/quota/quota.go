// Package quota enforces the emergency unlock budget: a fixed number of
// overrides per local calendar day, persisted across restarts.
package quota

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/phonemanage/phonemanage-go/internal/logging"
	"github.com/phonemanage/phonemanage-go/internal/statestore"
)

const (
	stateKeyDate = "emergency_date"
	stateKeyUsed = "emergency_used"
	dateLayout   = "2006-01-02"
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the real clock.
func SystemClock() Clock { return systemClock{} }

// Manager tracks the per-day emergency unlock counter. Every call reconciles
// the stored date against today first, so crossing midnight resets the
// counter even if the proactive reset task never fires.
type Manager struct {
	mu     sync.Mutex
	store  *statestore.Store
	max    int
	clock  Clock
	logger *slog.Logger
}

// NewManager creates a Manager allowing max overrides per calendar day.
func NewManager(store *statestore.Store, max int, clock Clock) *Manager {
	if clock == nil {
		clock = SystemClock()
	}
	return &Manager{
		store:  store,
		max:    max,
		clock:  clock,
		logger: logging.ForService("quota"),
	}
}

// Remaining returns how many overrides are left today. Never negative.
func (m *Manager) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	used := m.reconcileLocked()
	if used >= m.max {
		return 0
	}
	return m.max - used
}

// TryConsume spends one override if any are left today. Returns false with no
// mutation when the budget is exhausted.
func (m *Manager) TryConsume() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	used := m.reconcileLocked()
	if used >= m.max {
		m.logger.Info("emergency unlock denied, quota exhausted", "used", used, "max", m.max)
		return false
	}

	used++
	if err := m.store.SetAll(map[string]string{
		stateKeyDate: m.todayLocked(),
		stateKeyUsed: strconv.Itoa(used),
	}); err != nil {
		// the in-memory grant stands; persistence failure only risks a more
		// generous counter after a restart
		m.logger.Warn("failed to persist emergency unlock counter", "error", err)
	}
	m.logger.Info("emergency unlock granted", "used", used, "remaining", m.max-used)
	return true
}

// reconcileLocked returns today's used count, resetting the persisted counter
// when the stored date is not today.
func (m *Manager) reconcileLocked() int {
	today := m.todayLocked()

	storedDate, _ := m.store.Get(stateKeyDate)
	if storedDate != today {
		if err := m.store.SetAll(map[string]string{
			stateKeyDate: today,
			stateKeyUsed: "0",
		}); err != nil {
			m.logger.Warn("failed to persist quota reset", "error", err)
		}
		if storedDate != "" {
			m.logger.Info("emergency unlock counter reset for new day", "date", today)
		}
		return 0
	}

	raw, ok := m.store.Get(stateKeyUsed)
	if !ok {
		return 0
	}
	used, err := strconv.Atoi(raw)
	if err != nil || used < 0 {
		m.logger.Warn("invalid persisted quota counter, treating as zero", "value", raw)
		return 0
	}
	return used
}

func (m *Manager) todayLocked() string {
	return m.clock.Now().Format(dateLayout)
}

// StartMidnightReset runs a best-effort proactive reset shortly after each
// local midnight, so Remaining reflects the new day without an intervening
// request. The lazy reconciliation in Remaining/TryConsume stays the
// correctness backstop. Returns when quit is closed.
func (m *Manager) StartMidnightReset(offset time.Duration, quit <-chan struct{}) {
	for {
		now := m.clock.Now()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).
			AddDate(0, 0, 1).
			Add(offset)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-timer.C:
			m.mu.Lock()
			m.reconcileLocked()
			m.mu.Unlock()
		case <-quit:
			timer.Stop()
			return
		}
	}
}
