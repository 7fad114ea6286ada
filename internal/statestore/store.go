// Package statestore persists small pieces of agent state (device token,
// emergency unlock counters) as a YAML key-value file in the data directory.
package statestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/phonemanage/phonemanage-go/internal/errors"
	"github.com/phonemanage/phonemanage-go/internal/logging"
)

// DefaultFileName is the store's file name under the agent's data directory,
// shared by every entry point that opens the store.
const DefaultFileName = "state.yaml"

// Store is a concurrency-safe string key-value store backed by a single YAML
// file. Writes are atomic (temp file + rename). An unreadable or corrupt file
// degrades to an empty store; callers regenerate missing values lazily.
type Store struct {
	path   string
	mu     sync.Mutex
	values map[string]string
}

// Open loads the store at path, creating the parent directory if needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.New(err).
			Component("statestore").
			Category(errors.CategoryFileIO).
			Context("path", filepath.Dir(path)).
			Build()
	}

	s := &Store{path: path, values: make(map[string]string)}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.ForService("statestore").Warn("state file unreadable, starting empty",
				"path", path, "error", err)
		}
		return s, nil
	}

	if err := yaml.Unmarshal(data, &s.values); err != nil {
		logging.ForService("statestore").Warn("state file corrupt, starting empty",
			"path", path, "error", err)
		s.values = make(map[string]string)
	}
	if s.values == nil {
		s.values = make(map[string]string)
	}
	return s, nil
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key and persists the file.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.flushLocked()
}

// SetAll stores multiple keys in one persisted write. Used where two values
// must land together, like the quota date and counter.
func (s *Store) SetAll(kv map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range kv {
		s.values[k] = v
	}
	return s.flushLocked()
}

// Delete removes key and persists the file. Missing keys are not an error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	return s.flushLocked()
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) flushLocked() error {
	out, err := yaml.Marshal(s.values)
	if err != nil {
		return errors.New(err).
			Component("statestore").
			Category(errors.CategoryFileIO).
			Build()
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return errors.New(fmt.Errorf("writing state file: %w", err)).
			Component("statestore").
			Category(errors.CategoryFileIO).
			Context("path", tmp).
			Build()
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.New(fmt.Errorf("replacing state file: %w", err)).
			Component("statestore").
			Category(errors.CategoryFileIO).
			Context("path", s.path).
			Build()
	}
	return nil
}
