// Package devstate holds the process-wide view of the managed device: the
// last-known directory record, observable by any component, writable only by
// the reconciler and the lock session.
package devstate

import (
	"log/slog"
	"sync"

	"github.com/phonemanage/phonemanage-go/internal/directory"
	"github.com/phonemanage/phonemanage-go/internal/logging"
)

// Snapshot is a versioned copy of the cached record. Writers pass the version
// they read back into SetIfNewer so a stale fetch can never clobber a newer
// value.
type Snapshot struct {
	Record  directory.DeviceRecord
	Version uint64
}

type subscriber struct {
	ch   chan directory.DeviceRecord
	done chan struct{}
}

// Cache is the single process-wide holder of the last-known device record.
// It starts empty and is populated by the agent's initialization sequence.
type Cache struct {
	mu          sync.RWMutex
	record      directory.DeviceRecord
	version     uint64
	present     bool
	subscribers []*subscriber
	logger      *slog.Logger
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{logger: logging.ForService("devstate")}
}

// Get returns a copy of the current record, if any.
func (c *Cache) Get() (directory.DeviceRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.present {
		return directory.DeviceRecord{}, false
	}
	return c.record.Clone(), true
}

// Snapshot returns the current record together with its version.
func (c *Cache) Snapshot() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.present {
		return Snapshot{}, false
	}
	return Snapshot{Record: c.record.Clone(), Version: c.version}, true
}

// Set stores record unconditionally and notifies subscribers. Returns the new
// snapshot.
func (c *Cache) Set(record directory.DeviceRecord) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storeLocked(record)
}

// SetIfNewer stores record only when nothing newer than basis has landed since
// the writer read its snapshot. Returns false when the write was refused.
// A writer that has never read passes basis 0, which only succeeds on an
// empty cache.
func (c *Cache) SetIfNewer(record directory.DeviceRecord, basis uint64) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version > basis {
		c.logger.Debug("refusing stale cache write", "basis", basis, "current", c.version)
		return Snapshot{Record: c.record.Clone(), Version: c.version}, false
	}
	return c.storeLocked(record), true
}

// Mutate applies fn to the current record under the write lock and stores the
// result, bypassing the version guard: read and write are atomic here. The
// callback must not block.
func (c *Cache) Mutate(fn func(record *directory.DeviceRecord)) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.present {
		return Snapshot{}, false
	}
	updated := c.record.Clone()
	fn(&updated)
	return c.storeLocked(updated), true
}

func (c *Cache) storeLocked(record directory.DeviceRecord) Snapshot {
	c.record = record.Clone()
	c.version++
	c.present = true

	for _, sub := range c.subscribers {
		deliverLatest(sub, c.record.Clone())
	}
	return Snapshot{Record: c.record.Clone(), Version: c.version}
}

// Subscribe registers an observer. The channel carries the current value
// immediately when one is present, then every subsequent write; a slow
// consumer only ever sees the latest value, intermediate writes are
// coalesced. The returned cancel func releases the subscription.
func (c *Cache) Subscribe() (<-chan directory.DeviceRecord, func()) {
	sub := &subscriber{
		ch:   make(chan directory.DeviceRecord, 1),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	c.subscribers = append(c.subscribers, sub)
	if c.present {
		deliverLatest(sub, c.record.Clone())
	}
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subscribers {
			if s == sub {
				c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
				close(sub.done)
				return
			}
		}
	}
	return sub.ch, cancel
}

// deliverLatest replaces any undelivered value so the channel always holds
// the most recent record.
func deliverLatest(sub *subscriber, record directory.DeviceRecord) {
	select {
	case <-sub.done:
		return
	default:
	}
	select {
	case sub.ch <- record:
	default:
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- record:
		default:
		}
	}
}
