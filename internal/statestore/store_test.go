package statestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SetGetAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")

	s, err := Open(path)
	require.NoError(t, err)

	_, ok := s.Get("device_token")
	assert.False(t, ok)

	require.NoError(t, s.Set("device_token", "abc-123"))

	reopened, err := Open(path)
	require.NoError(t, err)
	v, ok := reopened.Get("device_token")
	require.True(t, ok)
	assert.Equal(t, "abc-123", v)
}

func TestStore_SetAllPersistsTogether(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.SetAll(map[string]string{
		"emergency_date": "2026-08-28",
		"emergency_used": "2",
	}))

	reopened, err := Open(path)
	require.NoError(t, err)
	date, _ := reopened.Get("emergency_date")
	used, _ := reopened.Get("emergency_used")
	assert.Equal(t, "2026-08-28", date)
	assert.Equal(t, "2", used)
}

func TestStore_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml: ["), 0o600))

	s, err := Open(path)
	require.NoError(t, err)
	_, ok := s.Get("device_token")
	assert.False(t, ok)

	// store is usable again after the corrupt read
	require.NoError(t, s.Set("device_token", "fresh"))
	v, ok := s.Get("device_token")
	require.True(t, ok)
	assert.Equal(t, "fresh", v)
}

func TestStore_DeleteMissingKeyIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	s, err := Open(path)
	require.NoError(t, err)

	assert.NoError(t, s.Delete("never-set"))

	require.NoError(t, s.Set("k", "v"))
	require.NoError(t, s.Delete("k"))
	_, ok := s.Get("k")
	assert.False(t, ok)
}
