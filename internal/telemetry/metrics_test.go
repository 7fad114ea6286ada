package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonemanage/phonemanage-go/internal/conf"
)

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordPoll("success")
		m.SetConsecutiveFailures(3)
		m.SetPollInterval(60)
		m.RecordLockTransition("locked", "remote-lock")
		m.RecordEmergencyUnlock("success")
		m.RecordHeartbeat()
	})
}

func TestNewMetricsRegistersCollectors(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	m.RecordPoll("failure")
	m.SetConsecutiveFailures(2)

	families, err := m.registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["phonemanage_polls_total"])
	assert.True(t, names["phonemanage_poll_consecutive_failures"])
}

func TestNewEndpointDisabled(t *testing.T) {
	endpoint, err := NewEndpoint(&conf.TelemetrySettings{Enabled: false}, nil)
	require.NoError(t, err)
	assert.Nil(t, endpoint)
}

func TestNewEndpointRequiresListenAddress(t *testing.T) {
	_, err := NewEndpoint(&conf.TelemetrySettings{Enabled: true}, nil)
	require.Error(t, err)
}
