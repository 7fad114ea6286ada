package quota

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonemanage/phonemanage-go/internal/statestore"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func newTestManager(t *testing.T) (*Manager, *fakeClock, *statestore.Store) {
	t.Helper()
	store, err := statestore.Open(filepath.Join(t.TempDir(), "state.yaml"))
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)}
	return NewManager(store, 3, clock), clock, store
}

func TestTryConsume_ThreeThenDenied(t *testing.T) {
	m, _, _ := newTestManager(t)

	assert.True(t, m.TryConsume())
	assert.True(t, m.TryConsume())
	assert.True(t, m.TryConsume())
	assert.False(t, m.TryConsume())
	assert.Equal(t, 0, m.Remaining())
}

func TestRemaining_NeverNegative(t *testing.T) {
	m, _, store := newTestManager(t)

	// a counter above max (e.g. after a config change) still reports zero
	require.NoError(t, store.SetAll(map[string]string{
		"emergency_date": "2026-08-28",
		"emergency_used": "7",
	}))
	assert.Equal(t, 0, m.Remaining())
	assert.False(t, m.TryConsume())
}

func TestMidnightCrossing_ResetsLazily(t *testing.T) {
	m, clock, _ := newTestManager(t)

	for i := 0; i < 3; i++ {
		require.True(t, m.TryConsume())
	}
	require.Equal(t, 0, m.Remaining())

	// cross local midnight with no reset task firing
	clock.now = clock.now.Add(13 * time.Hour)

	assert.Equal(t, 3, m.Remaining())
	assert.True(t, m.TryConsume())
	assert.Equal(t, 2, m.Remaining())
}

func TestNoResetMidDay(t *testing.T) {
	m, clock, _ := newTestManager(t)

	require.True(t, m.TryConsume())
	clock.now = clock.now.Add(6 * time.Hour) // same calendar day
	assert.Equal(t, 2, m.Remaining())
}

func TestCounterSurvivesRestart(t *testing.T) {
	store, err := statestore.Open(filepath.Join(t.TempDir(), "state.yaml"))
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)}

	m := NewManager(store, 3, clock)
	require.True(t, m.TryConsume())
	require.True(t, m.TryConsume())

	// a new manager over the same store sees the spent units
	reopened, err := statestore.Open(store.Path())
	require.NoError(t, err)
	m2 := NewManager(reopened, 3, clock)
	assert.Equal(t, 1, m2.Remaining())
}

func TestInvalidPersistedCounter(t *testing.T) {
	m, _, store := newTestManager(t)
	require.NoError(t, store.SetAll(map[string]string{
		"emergency_date": "2026-08-28",
		"emergency_used": "not-a-number",
	}))

	assert.Equal(t, 3, m.Remaining())
}

func TestStartMidnightReset_StopsOnQuit(t *testing.T) {
	m, _, _ := newTestManager(t)

	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		m.StartMidnightReset(time.Second, quit)
		close(done)
	}()

	close(quit)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("midnight reset loop did not stop")
	}
}
