package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phonemanage/phonemanage-go/internal/conf"
	"github.com/phonemanage/phonemanage-go/internal/errors"
	"github.com/phonemanage/phonemanage-go/internal/logging"
)

// Backend routes. One controller per aggregate, client-* routes skip the
// server's session auth.
const (
	routeGetByUUID      = "system/devices/getByUuid/"
	routeDeviceAdd      = "system/devices/client-add"
	routeDeviceEdit     = "system/devices/client-edit"
	routeEmergeUnlock   = "system/devices/client-emerge-unlock"
	routeLockEventAdd   = "system/lockevents/client-add"
	ajaxSuccessCode     = 0
	defaultUserID       = int64(1)
	clientUserAgentBase = "phonemanage-go"
)

// ajaxResult is the backend's generic response envelope.
type ajaxResult struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (a *ajaxResult) success() bool {
	return a.Code == ajaxSuccessCode
}

// wireDevice mirrors the backend's RpmDevices entity.
type wireDevice struct {
	ID           *int64   `json:"id,omitempty"`
	UserID       int64    `json:"userId"`
	DeviceToken  string   `json:"deviceToken"`
	DeviceName   string   `json:"deviceName"`
	DeviceStatus int64    `json:"deviceStatus"`
	OSVersion    string   `json:"osVersion"`
	AppVersion   string   `json:"appVersion"`
	Status       string   `json:"status,omitempty"`
	LastSeen     wireTime `json:"lastSeen,omitzero"`
}

// wireLockEvent mirrors the backend's RpmLockevents entity.
type wireLockEvent struct {
	DeviceID string   `json:"deviceId"`
	LockCode string   `json:"lockCode"`
	LockedAt wireTime `json:"lockedAt"`
}

func toWire(record *DeviceRecord) *wireDevice {
	return &wireDevice{
		ID:           record.ID,
		UserID:       defaultUserID,
		DeviceToken:  record.DeviceToken,
		DeviceName:   record.DeviceName,
		DeviceStatus: record.Directive.Wire(),
		OSVersion:    record.OSVersion,
		AppVersion:   record.AppVersion,
		Status:       record.Status,
		LastSeen:     wireTime{record.LastSeen},
	}
}

func fromWire(w *wireDevice) *DeviceRecord {
	return &DeviceRecord{
		ID:          w.ID,
		DeviceToken: w.DeviceToken,
		DeviceName:  w.DeviceName,
		OSVersion:   w.OSVersion,
		AppVersion:  w.AppVersion,
		Directive:   DirectiveFromWire(w.DeviceStatus),
		Status:      w.Status,
		LastSeen:    w.LastSeen.Time,
	}
}

// HTTPClient talks to the management server over its REST API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	version string
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a directory client from settings. The per-request
// timeout applies to every call; there is no retry at this layer.
func NewHTTPClient(settings *conf.Settings, appVersion string) *HTTPClient {
	base := settings.Server.URL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &HTTPClient{
		baseURL: base,
		client:  &http.Client{Timeout: settings.RequestTimeout()},
		logger:  logging.ForService("directory"),
		version: appVersion,
	}
}

// GetByToken implements Client.
func (c *HTTPClient) GetByToken(ctx context.Context, token string) (*DeviceRecord, error) {
	result, err := c.do(ctx, http.MethodGet, routeGetByUUID+token, nil)
	if err != nil {
		return nil, err
	}

	// the backend answers code 0 with null data for unknown tokens
	if !result.success() || len(result.Data) == 0 || string(result.Data) == "null" {
		return nil, errors.Newf("no device record for token").
			Component("directory").
			Category(errors.CategoryNotFound).
			Context("msg", result.Msg).
			Build()
	}

	var w wireDevice
	if err := json.Unmarshal(result.Data, &w); err != nil {
		return nil, errors.New(fmt.Errorf("decoding device record: %w", err)).
			Component("directory").
			Category(errors.CategoryHTTP).
			Build()
	}
	return fromWire(&w), nil
}

// Create implements Client.
func (c *HTTPClient) Create(ctx context.Context, record *DeviceRecord) error {
	result, err := c.do(ctx, http.MethodPost, routeDeviceAdd, toWire(record))
	if err != nil {
		return err
	}
	if !result.success() {
		return c.serverError("client-add", result)
	}
	c.logger.Debug("device record created", "device_name", record.DeviceName)
	return nil
}

// Update implements Client.
func (c *HTTPClient) Update(ctx context.Context, record *DeviceRecord) error {
	result, err := c.do(ctx, http.MethodPost, routeDeviceEdit, toWire(record))
	if err != nil {
		return err
	}
	if !result.success() {
		return c.serverError("client-edit", result)
	}
	return nil
}

// EmergencyUnlock implements Client.
func (c *HTTPClient) EmergencyUnlock(ctx context.Context, token string) error {
	body := &wireDevice{UserID: defaultUserID, DeviceToken: token, DeviceStatus: UnlockRequested.Wire()}
	result, err := c.do(ctx, http.MethodPost, routeEmergeUnlock, body)
	if err != nil {
		return err
	}
	if !result.success() {
		return c.serverError("client-emerge-unlock", result)
	}
	return nil
}

// ReportLockEvent implements Client.
func (c *HTTPClient) ReportLockEvent(ctx context.Context, token, password string, lockedAt time.Time) error {
	event := &wireLockEvent{DeviceID: token, LockCode: password, LockedAt: wireTime{lockedAt}}
	result, err := c.do(ctx, http.MethodPost, routeLockEventAdd, event)
	if err != nil {
		return err
	}
	if !result.success() {
		return c.serverError("lockevents/client-add", result)
	}
	return nil
}

func (c *HTTPClient) serverError(route string, result *ajaxResult) error {
	return errors.Newf("server rejected %s: %s", route, result.Msg).
		Component("directory").
		Category(errors.CategoryHTTP).
		Context("code", result.Code).
		Build()
}

// do performs one request and decodes the AjaxResult envelope.
func (c *HTTPClient) do(ctx context.Context, method, route string, payload any) (*ajaxResult, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.New(err).
				Component("directory").
				Category(errors.CategoryValidation).
				Build()
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+route, body)
	if err != nil {
		return nil, errors.New(err).
			Component("directory").
			Category(errors.CategoryValidation).
			Context("route", route).
			Build()
	}
	req.Header.Set("User-Agent", clientUserAgentBase+"/"+c.version)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		category := errors.CategoryNetwork
		if ctx.Err() != nil {
			category = errors.CategoryCancellation
		}
		return nil, errors.New(err).
			Component("directory").
			Category(category).
			Context("route", route).
			Build()
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("unexpected status %d from %s", resp.StatusCode, route).
			Component("directory").
			Category(errors.CategoryHTTP).
			Context("status", resp.StatusCode).
			Context("route", route).
			Build()
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New(err).
			Component("directory").
			Category(errors.CategoryNetwork).
			Context("route", route).
			Build()
	}

	var result ajaxResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.New(fmt.Errorf("decoding response envelope: %w", err)).
			Component("directory").
			Category(errors.CategoryHTTP).
			Context("route", route).
			Build()
	}
	return &result, nil
}
