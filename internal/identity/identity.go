// Package identity resolves and persists the stable device token used as the
// join key between this agent and the management server.
package identity

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"github.com/phonemanage/phonemanage-go/internal/errors"
	"github.com/phonemanage/phonemanage-go/internal/logging"
	"github.com/phonemanage/phonemanage-go/internal/statestore"
)

const (
	stateKeyToken  = "device_token"
	backupFileName = "device_id.backup"
)

// machineIDPaths are probed in order for a stable installation identifier.
var machineIDPaths = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// Resolver resolves the device token with a layered fallback: primary state
// store, then a redundant backup file, then deterministic regeneration from
// stable host attributes. The token survives as long as either persistence
// location does.
type Resolver struct {
	store   *statestore.Store
	dataDir string
	logger  *slog.Logger
}

// NewResolver creates a Resolver persisting into store and dataDir.
func NewResolver(store *statestore.Store, dataDir string) *Resolver {
	return &Resolver{
		store:   store,
		dataDir: dataDir,
		logger:  logging.ForService("identity"),
	}
}

// ResolveOrCreate returns the device token, generating and persisting one on
// first use. Repeated calls return the same token for the life of the
// installation.
func (r *Resolver) ResolveOrCreate() (string, error) {
	if token, ok := r.store.Get(stateKeyToken); ok && token != "" {
		// heal the backup location if it went missing
		if _, err := os.Stat(r.backupPath()); err != nil {
			r.writeBackup(token)
		}
		r.logger.Debug("device token resolved from state store", "token_prefix", tokenPrefix(token))
		return token, nil
	}

	if token := r.readBackup(); token != "" {
		if err := r.store.Set(stateKeyToken, token); err != nil {
			return "", err
		}
		r.logger.Info("device token recovered from backup file", "token_prefix", tokenPrefix(token))
		return token, nil
	}

	token := generateHostBasedToken()
	if err := r.store.Set(stateKeyToken, token); err != nil {
		return "", err
	}
	r.writeBackup(token)
	r.logger.Info("generated new device token", "token_prefix", tokenPrefix(token))
	return token, nil
}

func (r *Resolver) backupPath() string {
	return filepath.Join(r.dataDir, backupFileName)
}

func (r *Resolver) readBackup() string {
	data, err := os.ReadFile(r.backupPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// writeBackup is best-effort: a failed backup write is logged but never fails
// the resolution, the primary store is authoritative.
func (r *Resolver) writeBackup(token string) {
	if err := os.WriteFile(r.backupPath(), []byte(token), 0o600); err != nil {
		wrapped := errors.New(err).
			Component("identity").
			Category(errors.CategoryFileIO).
			Context("path", r.backupPath()).
			Build()
		r.logger.Warn("failed to write device token backup", "error", wrapped)
	}
}

// generateHostBasedToken derives a UUID from stable host attributes plus the
// platform's installation identifier, so a wiped agent on the same host
// regenerates the same token. Hosts without a readable machine-id get a
// random token instead.
func generateHostBasedToken() string {
	hostname, _ := os.Hostname()

	machineID := ""
	for _, path := range machineIDPaths {
		if data, err := os.ReadFile(path); err == nil {
			machineID = strings.TrimSpace(string(data))
			break
		}
	}

	if machineID == "" {
		return uuid.NewString()
	}

	signature := strings.Join([]string{hostname, runtime.GOOS, runtime.GOARCH, machineID}, ":")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(signature)).String()
}

// tokenPrefix truncates a token for logging. Full tokens stay out of logs.
func tokenPrefix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8]
}
