// Package directory implements the client for the remote device directory:
// the management server's REST API holding the authoritative device records.
package directory

import (
	"context"
	"strings"
	"time"
)

// LockDirective is the server's intent for a device, decoded from the wire
// deviceStatus field. The canonical mapping is wire 0 = LockRequested,
// wire 1 = UnlockRequested; anything else decodes to DirectiveUnknown and is
// ignored by the reconciler.
type LockDirective int

const (
	DirectiveUnknown LockDirective = iota
	LockRequested
	UnlockRequested
)

// wire values for LockDirective
const (
	wireLocked   int64 = 0
	wireUnlocked int64 = 1
)

// DirectiveFromWire decodes the deviceStatus wire value.
func DirectiveFromWire(v int64) LockDirective {
	switch v {
	case wireLocked:
		return LockRequested
	case wireUnlocked:
		return UnlockRequested
	default:
		return DirectiveUnknown
	}
}

// Wire encodes the directive to the deviceStatus wire value. DirectiveUnknown
// encodes as unlocked, the safe direction for a write.
func (d LockDirective) Wire() int64 {
	if d == LockRequested {
		return wireLocked
	}
	return wireUnlocked
}

func (d LockDirective) String() string {
	switch d {
	case LockRequested:
		return "lock"
	case UnlockRequested:
		return "unlock"
	default:
		return "unknown"
	}
}

// StatusOnline is the free-form online marker the server expects in the
// status field of a live device.
const StatusOnline = "online"

// DeviceRecord is the server's view of one managed device. DeviceToken is the
// sole join key between local and remote state and never changes once created;
// ID stays nil until the first successful remote create.
type DeviceRecord struct {
	ID          *int64
	DeviceToken string
	DeviceName  string
	OSVersion   string
	AppVersion  string
	Directive   LockDirective
	Status      string
	LastSeen    time.Time
}

// Clone returns a copy of the record. ID is copied by value so mutating the
// clone never aliases the original.
func (r *DeviceRecord) Clone() DeviceRecord {
	out := *r
	if r.ID != nil {
		id := *r.ID
		out.ID = &id
	}
	return out
}

// Client is the narrow contract the core consumes. Retry and backoff are the
// reconciler's responsibility, not the client's.
type Client interface {
	// GetByToken fetches the device record. A missing device yields an error
	// matching errors.ErrDeviceNotFound.
	GetByToken(ctx context.Context, token string) (*DeviceRecord, error)
	// Create registers a new device record.
	Create(ctx context.Context, record *DeviceRecord) error
	// Update writes the record back, also used for status refreshes and
	// lock-flag writes (the backend overloads one endpoint for all three).
	Update(ctx context.Context, record *DeviceRecord) error
	// EmergencyUnlock asks the server to clear the lock flag for token.
	EmergencyUnlock(ctx context.Context, token string) error
	// ReportLockEvent records a lock activation (token, session password,
	// activation time) on the server.
	ReportLockEvent(ctx context.Context, token, password string, lockedAt time.Time) error
}

// wireTimeLayout is the backend's date binding format.
const wireTimeLayout = "2006-01-02 15:04:05"

// wireTime marshals timestamps the way the backend binds dates.
type wireTime struct {
	time.Time
}

func (t wireTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.Format(wireTimeLayout) + `"`), nil
}

func (t *wireTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.ParseInLocation(wireTimeLayout, s, time.Local); err == nil {
		t.Time = parsed
		return nil
	}
	// some deployments emit RFC3339, accept it too
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}
