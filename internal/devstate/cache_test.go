package devstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonemanage/phonemanage-go/internal/directory"
)

func record(token string, directive directory.LockDirective) directory.DeviceRecord {
	return directory.DeviceRecord{
		DeviceToken: token,
		DeviceName:  "workbench",
		Directive:   directive,
	}
}

func TestCache_StartsEmpty(t *testing.T) {
	c := New()
	_, ok := c.Get()
	assert.False(t, ok)
	_, ok = c.Snapshot()
	assert.False(t, ok)
}

func TestCache_SetAndGet(t *testing.T) {
	c := New()
	c.Set(record("tok-1", directory.UnlockRequested))

	got, ok := c.Get()
	require.True(t, ok)
	assert.Equal(t, "tok-1", got.DeviceToken)
}

func TestCache_GetReturnsCopy(t *testing.T) {
	c := New()
	id := int64(7)
	rec := record("tok-1", directory.UnlockRequested)
	rec.ID = &id
	c.Set(rec)

	got, _ := c.Get()
	*got.ID = 99
	got.DeviceToken = "mutated"

	fresh, _ := c.Get()
	assert.Equal(t, int64(7), *fresh.ID)
	assert.Equal(t, "tok-1", fresh.DeviceToken)
}

func TestCache_SetIfNewerRefusesStaleWrite(t *testing.T) {
	c := New()
	first := c.Set(record("tok-1", directory.UnlockRequested))

	// another writer lands
	second := c.Set(record("tok-1", directory.LockRequested))
	require.Greater(t, second.Version, first.Version)

	// a write based on the first snapshot must be refused
	_, ok := c.SetIfNewer(record("tok-1", directory.UnlockRequested), first.Version)
	assert.False(t, ok)

	got, _ := c.Get()
	assert.Equal(t, directory.LockRequested, got.Directive)

	// a write based on the current snapshot goes through
	snap, ok := c.SetIfNewer(record("tok-1", directory.UnlockRequested), second.Version)
	require.True(t, ok)
	assert.Greater(t, snap.Version, second.Version)
}

func TestCache_SetIfNewerOnEmptyCache(t *testing.T) {
	c := New()
	_, ok := c.SetIfNewer(record("tok-1", directory.UnlockRequested), 0)
	assert.True(t, ok)
}

func TestCache_MutateRequiresValue(t *testing.T) {
	c := New()
	_, ok := c.Mutate(func(r *directory.DeviceRecord) { r.Directive = directory.LockRequested })
	assert.False(t, ok)

	c.Set(record("tok-1", directory.UnlockRequested))
	snap, ok := c.Mutate(func(r *directory.DeviceRecord) { r.Directive = directory.LockRequested })
	require.True(t, ok)
	assert.Equal(t, directory.LockRequested, snap.Record.Directive)
}

func TestCache_SubscribeDeliversCurrentThenUpdates(t *testing.T) {
	c := New()
	c.Set(record("tok-1", directory.UnlockRequested))

	ch, cancel := c.Subscribe()
	defer cancel()

	select {
	case got := <-ch:
		assert.Equal(t, directory.UnlockRequested, got.Directive)
	case <-time.After(time.Second):
		t.Fatal("no initial value delivered")
	}

	c.Set(record("tok-1", directory.LockRequested))
	select {
	case got := <-ch:
		assert.Equal(t, directory.LockRequested, got.Directive)
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}
}

func TestCache_SlowSubscriberSeesLatestOnly(t *testing.T) {
	c := New()
	ch, cancel := c.Subscribe()
	defer cancel()

	for i := 0; i < 10; i++ {
		directive := directory.UnlockRequested
		if i%2 == 0 {
			directive = directory.LockRequested
		}
		c.Set(record("tok-1", directive))
	}
	c.Set(record("final", directory.LockRequested))

	select {
	case got := <-ch:
		assert.Equal(t, "final", got.DeviceToken)
	case <-time.After(time.Second):
		t.Fatal("no value delivered")
	}
}

func TestCache_CancelStopsDelivery(t *testing.T) {
	c := New()
	ch, cancel := c.Subscribe()
	cancel()

	c.Set(record("tok-1", directory.LockRequested))

	select {
	case _, open := <-ch:
		// a value buffered before cancel is acceptable, but nothing after
		if open {
			select {
			case <-ch:
				t.Fatal("delivery after cancel")
			case <-time.After(50 * time.Millisecond):
			}
		}
	case <-time.After(50 * time.Millisecond):
	}
}
