// Package agent assembles and runs the device control agent: identity
// resolution, directory registration, the state cache, the lock session,
// the reconciliation loop, and the optional metrics endpoint.
package agent

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/phonemanage/phonemanage-go/internal/conf"
	"github.com/phonemanage/phonemanage-go/internal/devstate"
	"github.com/phonemanage/phonemanage-go/internal/directory"
	"github.com/phonemanage/phonemanage-go/internal/errors"
	"github.com/phonemanage/phonemanage-go/internal/identity"
	"github.com/phonemanage/phonemanage-go/internal/lock"
	"github.com/phonemanage/phonemanage-go/internal/logging"
	"github.com/phonemanage/phonemanage-go/internal/quota"
	"github.com/phonemanage/phonemanage-go/internal/reconciler"
	"github.com/phonemanage/phonemanage-go/internal/statestore"
	"github.com/phonemanage/phonemanage-go/internal/telemetry"
)

// Agent owns the long-running components and their shared lifecycle.
type Agent struct {
	settings *conf.Settings
	version  string
	logger   *slog.Logger

	token    string
	store    *statestore.Store
	cache    *devstate.Cache
	dir      directory.Client
	session  *lock.Session
	loop     *reconciler.Reconciler
	metrics  *telemetry.Metrics
	endpoint *telemetry.Endpoint

	quitChan chan struct{}
	wg       sync.WaitGroup
}

// New creates an Agent from loaded settings. version is the build version
// reported to the server as the app version.
func New(settings *conf.Settings, version string) *Agent {
	return &Agent{
		settings: settings,
		version:  version,
		logger:   logging.ForService("agent"),
		cache:    devstate.New(),
		quitChan: make(chan struct{}),
	}
}

// Run brings the agent up and blocks until SIGINT or SIGTERM, then shuts
// the components down in dependency order.
func (a *Agent) Run() error {
	if err := a.setup(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	a.logger.Info("shutdown signal received", "signal", sig.String())
	signal.Stop(sigChan)

	a.Shutdown()
	return nil
}

// Shutdown stops every component and waits for their goroutines.
func (a *Agent) Shutdown() {
	select {
	case <-a.quitChan:
		return
	default:
	}
	close(a.quitChan)
	if a.session != nil {
		a.session.Close()
	}
	a.wg.Wait()
	a.logger.Info("agent stopped")
}

func (a *Agent) setup() error {
	dataDir := a.settings.Main.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return errors.New(err).
			Component("agent").
			Category(errors.CategoryFileIO).
			Context("data_dir", dataDir).
			Build()
	}

	store, err := statestore.Open(filepath.Join(dataDir, statestore.DefaultFileName))
	if err != nil {
		return err
	}
	a.store = store

	token, err := identity.NewResolver(store, dataDir).ResolveOrCreate()
	if err != nil {
		return err
	}
	a.token = token

	a.dir = directory.NewHTTPClient(a.settings, a.version)

	ctx, cancel := context.WithTimeout(context.Background(), a.settings.RequestTimeout())
	defer cancel()
	record := a.bootstrapRecord(ctx)
	a.cache.Set(record)

	if a.settings.Telemetry.Enabled {
		metrics, err := telemetry.NewMetrics()
		if err != nil {
			return err
		}
		a.metrics = metrics
		endpoint, err := telemetry.NewEndpoint(&a.settings.Telemetry, metrics)
		if err != nil {
			return err
		}
		a.endpoint = endpoint
		a.endpoint.Start(&a.wg, a.quitChan)
	}

	quotaManager := quota.NewManager(store, a.settings.Emergency.MaxPerDay, nil)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		quotaManager.StartMidnightReset(
			time.Duration(a.settings.Emergency.ResetOffset)*time.Second, a.quitChan)
	}()

	a.session = lock.NewSession(lock.Config{
		Token:           a.token,
		Directory:       a.dir,
		Cache:           a.cache,
		Quota:           quotaManager,
		Presenter:       lock.NewConsolePresenter(nil),
		Metrics:         a.metrics,
		SessionInterval: a.settings.SessionPollInterval(),
		ReportTimeout:   a.settings.RequestTimeout(),
	})

	a.loop = reconciler.New(reconciler.Config{
		Token:            a.token,
		Directory:        a.dir,
		Cache:            a.cache,
		Session:          a.session,
		Metrics:          a.metrics,
		Interval:         a.settings.PollInterval(),
		MaxInterval:      a.settings.MaxPollInterval(),
		FailureThreshold: a.settings.Poll.FailureThreshold,
		Heartbeat:        time.Duration(a.settings.Poll.Heartbeat) * time.Second,
	})
	a.loop.Start(&a.wg, a.quitChan)

	a.logger.Info("agent running",
		"server", a.settings.Server.URL,
		"poll_interval", a.settings.PollInterval().String())
	return nil
}

// bootstrapRecord fetches this device's directory record, registering the
// device on first contact. When the server is unreachable the agent starts
// from a local placeholder record and lets the reconciler converge later.
func (a *Agent) bootstrapRecord(ctx context.Context) directory.DeviceRecord {
	record, err := a.dir.GetByToken(ctx, a.token)
	if err == nil {
		a.logger.Info("device known to server", "name", record.DeviceName)
		return *record
	}

	if errors.Is(err, errors.ErrDeviceNotFound) {
		fresh := a.localRecord()
		if createErr := a.dir.Create(ctx, &fresh); createErr != nil {
			a.logger.Warn("device registration failed, continuing with local record", "error", createErr)
			return fresh
		}
		a.logger.Info("device registered", "name", fresh.DeviceName)
		if registered, getErr := a.dir.GetByToken(ctx, a.token); getErr == nil {
			return *registered
		}
		return fresh
	}

	a.logger.Warn("server unreachable during startup, continuing with local record", "error", err)
	return a.localRecord()
}

// localRecord builds a record from what the host knows about itself.
func (a *Agent) localRecord() directory.DeviceRecord {
	name := a.settings.Main.Name
	if name == "" {
		if hostname, err := os.Hostname(); err == nil {
			name = hostname
		} else {
			name = "unnamed-device"
		}
	}
	return directory.DeviceRecord{
		DeviceToken: a.token,
		DeviceName:  name,
		OSVersion:   runtime.GOOS + "/" + runtime.GOARCH,
		AppVersion:  a.version,
		Directive:   directory.UnlockRequested,
		Status:      directory.StatusOnline,
		LastSeen:    time.Now(),
	}
}

// Session exposes the lock session, for the local control surfaces.
func (a *Agent) Session() *lock.Session { return a.session }

// Cache exposes the device state cache.
func (a *Agent) Cache() *devstate.Cache { return a.cache }

// Token returns the resolved device token.
func (a *Agent) Token() string { return a.token }
