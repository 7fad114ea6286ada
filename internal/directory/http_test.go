package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonemanage/phonemanage-go/internal/conf"
	"github.com/phonemanage/phonemanage-go/internal/errors"
)

const testBaseURL = "http://manage.test:18888/"

func newTestClient(t *testing.T) *HTTPClient {
	t.Helper()
	settings := &conf.Settings{}
	settings.Server.URL = testBaseURL
	settings.Server.Timeout = 30
	c := NewHTTPClient(settings, "1.0.0")

	httpmock.ActivateNonDefault(c.client)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func deviceJSON(status int64) string {
	return `{"code":0,"msg":"ok","data":{"id":42,"userId":1,"deviceToken":"tok-1",` +
		`"deviceName":"workbench","deviceStatus":` + jsonInt(status) + `,` +
		`"osVersion":"linux amd64","appVersion":"1.0.0","status":"online",` +
		`"lastSeen":"2026-08-28 09:15:00"}}`
}

func jsonInt(v int64) string {
	out, _ := json.Marshal(v)
	return string(out)
}

func TestGetByToken_Success(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"system/devices/getByUuid/tok-1",
		httpmock.NewStringResponder(http.StatusOK, deviceJSON(0)))

	record, err := c.GetByToken(context.Background(), "tok-1")
	require.NoError(t, err)

	require.NotNil(t, record.ID)
	assert.Equal(t, int64(42), *record.ID)
	assert.Equal(t, "tok-1", record.DeviceToken)
	assert.Equal(t, LockRequested, record.Directive)
	assert.Equal(t, StatusOnline, record.Status)
	assert.Equal(t, 2026, record.LastSeen.Year())
}

func TestGetByToken_DirectivePolarity(t *testing.T) {
	// wire 0 means the server wants the device locked, 1 unlocked
	tests := []struct {
		wire int64
		want LockDirective
	}{
		{0, LockRequested},
		{1, UnlockRequested},
		{2, DirectiveUnknown},
		{-1, DirectiveUnknown},
	}

	for _, tt := range tests {
		c := newTestClient(t)
		httpmock.RegisterResponder(http.MethodGet, testBaseURL+"system/devices/getByUuid/tok-1",
			httpmock.NewStringResponder(http.StatusOK, deviceJSON(tt.wire)))

		record, err := c.GetByToken(context.Background(), "tok-1")
		require.NoError(t, err)
		assert.Equal(t, tt.want, record.Directive, "wire value %d", tt.wire)
		httpmock.DeactivateAndReset()
	}
}

func TestGetByToken_NotFound(t *testing.T) {
	c := newTestClient(t)

	// the backend answers success with null data for unknown tokens
	for _, body := range []string{
		`{"code":0,"msg":"ok","data":null}`,
		`{"code":500,"msg":"device not found"}`,
	} {
		httpmock.RegisterResponder(http.MethodGet, testBaseURL+"system/devices/getByUuid/missing",
			httpmock.NewStringResponder(http.StatusOK, body))

		_, err := c.GetByToken(context.Background(), "missing")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrDeviceNotFound), "body %s", body)
		httpmock.Reset()
	}
}

func TestGetByToken_HTTPError(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"system/devices/getByUuid/tok-1",
		httpmock.NewStringResponder(http.StatusBadGateway, "upstream down"))

	_, err := c.GetByToken(context.Background(), "tok-1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, errors.ErrDeviceNotFound))
}

func TestGetByToken_MalformedEnvelope(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"system/devices/getByUuid/tok-1",
		httpmock.NewStringResponder(http.StatusOK, "<html>gateway error</html>"))

	_, err := c.GetByToken(context.Background(), "tok-1")
	require.Error(t, err)
}

func TestCreate_SendsWireEntity(t *testing.T) {
	c := newTestClient(t)

	var captured wireDevice
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"system/devices/client-add",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, json.NewDecoder(req.Body).Decode(&captured))
			return httpmock.NewStringResponse(http.StatusOK, `{"code":0,"msg":"ok"}`), nil
		})

	record := &DeviceRecord{
		DeviceToken: "tok-1",
		DeviceName:  "workbench",
		OSVersion:   "linux amd64",
		AppVersion:  "1.0.0",
		Directive:   UnlockRequested,
		Status:      StatusOnline,
		LastSeen:    time.Date(2026, 8, 28, 9, 15, 0, 0, time.Local),
	}
	require.NoError(t, c.Create(context.Background(), record))

	assert.Equal(t, "tok-1", captured.DeviceToken)
	assert.Equal(t, int64(1), captured.UserID)
	assert.Equal(t, int64(1), captured.DeviceStatus)
	assert.Equal(t, "online", captured.Status)
	assert.Nil(t, captured.ID)
}

func TestUpdate_ServerRejection(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"system/devices/client-edit",
		httpmock.NewStringResponder(http.StatusOK, `{"code":500,"msg":"stale record"}`))

	err := c.Update(context.Background(), &DeviceRecord{DeviceToken: "tok-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client-edit")
}

func TestEmergencyUnlock_PostsToken(t *testing.T) {
	c := newTestClient(t)

	var captured wireDevice
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"system/devices/client-emerge-unlock",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, json.NewDecoder(req.Body).Decode(&captured))
			return httpmock.NewStringResponse(http.StatusOK, `{"code":0,"msg":"ok"}`), nil
		})

	require.NoError(t, c.EmergencyUnlock(context.Background(), "tok-1"))
	assert.Equal(t, "tok-1", captured.DeviceToken)
	assert.Equal(t, UnlockRequested.Wire(), captured.DeviceStatus)
}

func TestReportLockEvent_WireFormat(t *testing.T) {
	c := newTestClient(t)

	var captured map[string]string
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"system/lockevents/client-add",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, json.NewDecoder(req.Body).Decode(&captured))
			return httpmock.NewStringResponse(http.StatusOK, `{"code":0,"msg":"ok"}`), nil
		})

	lockedAt := time.Date(2026, 8, 28, 21, 4, 5, 0, time.Local)
	require.NoError(t, c.ReportLockEvent(context.Background(), "tok-1", "042137", lockedAt))

	assert.Equal(t, "tok-1", captured["deviceId"])
	assert.Equal(t, "042137", captured["lockCode"])
	assert.Equal(t, "2026-08-28 21:04:05", captured["lockedAt"])
}

func TestDo_ContextCancellation(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"system/devices/getByUuid/tok-1",
		httpmock.NewStringResponder(http.StatusOK, deviceJSON(1)).Delay(200*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetByToken(ctx, "tok-1")
	require.Error(t, err)
}

func TestWireTime_RoundTrip(t *testing.T) {
	in := wireTime{time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)}
	out, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `"2026-01-02 03:04:05"`, string(out))

	var decoded wireTime
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.True(t, in.Equal(decoded.Time))

	// RFC3339 from other deployments is accepted
	require.NoError(t, json.Unmarshal([]byte(`"2026-01-02T03:04:05Z"`), &decoded))
	assert.Equal(t, 2026, decoded.Year())
}
