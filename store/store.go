package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"timekeep/logx"
	"timekeep/persist"
)

// Store is a named key-value map backed by one JSON file.
//
// The on-disk shape is a single JSON object: key -> raw JSON value, replaced
// wholesale on every flush.
type Store struct {
	name string

	log logx.Logger
	w   *persist.Writer

	mu     sync.RWMutex
	loaded bool
	data   map[string]json.RawMessage
}

func (s *Store) Name() string { return s.name }

// Path returns the backing file path (useful for diagnostics and tests).
func (s *Store) Path() string { return s.w.Path() }

// Load reads the backing file into memory. A missing file starts the store
// empty; a corrupt file is logged and also starts it empty so a bad byte on
// disk can never prevent startup.
//
// Load is idempotent: once a store is loaded (explicitly or lazily), further
// calls are no-ops and never clobber in-memory mutations.
func (s *Store) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	return nil
}

func (s *Store) loadLocked() {
	if s.loaded {
		return
	}
	s.loaded = true

	var m map[string]json.RawMessage
	ok, err := persist.LoadJSON(s.w.Path(), &m)
	if err != nil {
		s.log.Warn("store file unreadable; starting empty",
			logx.String("store", s.name), logx.String("path", s.w.Path()), logx.Err(err))
		return
	}
	if !ok || m == nil {
		return
	}
	s.data = m
}

// Set marshals v and stores it under key, overwriting any previous value.
func (s *Store) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store %q: marshal key %q: %w", s.name, key, err)
	}
	s.SetRaw(key, raw)
	return nil
}

// SetRaw stores an already-serialized JSON value under key.
func (s *Store) SetRaw(key string, raw json.RawMessage) {
	s.mu.Lock()
	s.loadLocked()
	if s.data == nil {
		s.data = map[string]json.RawMessage{}
	}
	s.data[key] = append(json.RawMessage(nil), raw...)
	s.mu.Unlock()
	s.w.MarkDirty()
}

// Get returns the raw JSON value for key.
func (s *Store) Get(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	s.loadLocked()
	raw, ok := s.data[key]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), raw...), true
}

// GetInto unmarshals the value for key into out.
// It returns (false, nil) when the key is absent.
func (s *Store) GetInto(key string, out any) (bool, error) {
	raw, ok := s.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("store %q: unmarshal key %q: %w", s.name, key, err)
	}
	return true, nil
}

func (s *Store) Has(key string) bool {
	s.mu.Lock()
	s.loadLocked()
	_, ok := s.data[key]
	s.mu.Unlock()
	return ok
}

// Delete removes key and reports whether it was present.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	s.loadLocked()
	_, ok := s.data[key]
	if ok {
		delete(s.data, key)
	}
	s.mu.Unlock()
	if ok {
		s.w.MarkDirty()
	}
	return ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	s.loadLocked()
	n := len(s.data)
	s.mu.Unlock()
	return n
}

// Keys returns all keys, sorted for deterministic iteration.
func (s *Store) Keys() []string {
	s.mu.Lock()
	s.loadLocked()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Values returns a copy of all values, ordered by key.
func (s *Store) Values() []json.RawMessage {
	s.mu.Lock()
	s.loadLocked()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]json.RawMessage, 0, len(keys))
	for _, k := range keys {
		out = append(out, append(json.RawMessage(nil), s.data[k]...))
	}
	s.mu.Unlock()
	return out
}

// Entries returns a copy of the whole map.
func (s *Store) Entries() map[string]json.RawMessage {
	s.mu.Lock()
	s.loadLocked()
	out := make(map[string]json.RawMessage, len(s.data))
	for k, v := range s.data {
		out[k] = append(json.RawMessage(nil), v...)
	}
	s.mu.Unlock()
	return out
}

// Flush forces any pending debounced write to disk immediately.
func (s *Store) Flush(ctx context.Context) error {
	return s.w.Flush(ctx)
}

// snapshot serializes the current map for the persistence writer.
func (s *Store) snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.data)
}
