package store

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"timekeep/eventbus"
	"timekeep/logx"
	"timekeep/persist"
)

// Registry owns the singleton Store instances of one data directory.
//
// It is an explicit value (never a package-level global) so hosts and tests
// can run several independent registries side by side.
type Registry struct {
	dir      string
	log      logx.Logger
	bus      eventbus.Bus
	debounce time.Duration

	mu     sync.Mutex
	stores map[string]*Store
}

type RegistryOption func(*Registry)

func WithLogger(log logx.Logger) RegistryOption {
	return func(r *Registry) { r.log = log }
}

func WithBus(bus eventbus.Bus) RegistryOption {
	return func(r *Registry) { r.bus = bus }
}

// WithDebounce overrides the debounce window applied to every store created
// after the call. Values <= 0 keep the default.
func WithDebounce(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.debounce = d
		}
	}
}

func NewRegistry(dir string, opts ...RegistryOption) *Registry {
	r := &Registry{
		dir:      dir,
		debounce: persist.DefaultDebounce,
		stores:   map[string]*Store{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	return r
}

// Create returns the store registered under name, constructing it on first
// use. The same name always yields the same instance.
func (r *Registry) Create(name string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[name]; ok {
		return s
	}

	path := filepath.Join(r.dir, sanitizeName(name)+".json")
	s := &Store{
		name: name,
		log:  r.log.With(logx.String("store", name)),
	}
	s.w = persist.NewWriter(path, s.snapshot,
		persist.WithDebounce(r.debounce),
		persist.WithLogger(s.log),
	)
	r.stores[name] = s
	return s
}

// Names returns the names of all stores created so far, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.stores))
	for n := range r.stores {
		names = append(names, n)
	}
	r.mu.Unlock()
	sort.Strings(names)
	return names
}

// FlushAll flushes every store. Intended for host shutdown paths; it keeps
// going after individual failures and returns the combined error.
func (r *Registry) FlushAll(ctx context.Context) error {
	r.mu.Lock()
	stores := make([]*Store, 0, len(r.stores))
	for _, s := range r.stores {
		stores = append(stores, s)
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range stores {
		if err := s.Flush(ctx); err != nil {
			r.log.Warn("store flush failed", logx.String("store", s.name), logx.Err(err))
			errs = append(errs, err)
			continue
		}
		if r.bus != nil {
			r.bus.Publish(eventbus.Event{Type: eventbus.TypeStoreFlushed, Data: s.name})
		}
	}
	return errors.Join(errs...)
}

// Close flushes and closes every store's writer.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	stores := make([]*Store, 0, len(r.stores))
	for _, s := range r.stores {
		stores = append(stores, s)
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range stores {
		if err := s.w.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// sanitizeName maps an arbitrary store name onto a safe file basename.
// Anything outside [A-Za-z0-9._-] becomes '_', path separators included, so a
// hostile name like "../../etc/passwd" cannot leave the data directory.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	// Kill traversal and hidden-file shapes left after mapping.
	out = strings.ReplaceAll(out, "..", "_")
	out = strings.TrimLeft(out, ".")
	if out == "" {
		out = "store"
	}
	return out
}
