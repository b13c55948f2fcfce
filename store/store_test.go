package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(t.TempDir(), WithDebounce(10*time.Millisecond))
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r
}

func TestCreateReturnsSingleton(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	a := r.Create("prefs")
	b := r.Create("prefs")
	if a != b {
		t.Fatal("same name produced two store instances")
	}
	if c := r.Create("other"); c == a {
		t.Fatal("different names share an instance")
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"other", "prefs"}) {
		t.Fatalf("Names() = %v", got)
	}
}

func TestSetGetDelete(t *testing.T) {
	t.Parallel()
	s := newTestRegistry(t).Create("prefs")

	if err := s.Set("theme", map[string]string{"color": "dark"}); err != nil {
		t.Fatal(err)
	}
	var v map[string]string
	ok, err := s.GetInto("theme", &v)
	if err != nil || !ok || v["color"] != "dark" {
		t.Fatalf("GetInto = %v, %v, %v", v, ok, err)
	}
	if !s.Has("theme") || s.Has("missing") {
		t.Fatal("Has is wrong")
	}
	if _, ok := s.Get("missing"); ok {
		t.Fatal("Get(missing) = true")
	}

	if !s.Delete("theme") {
		t.Fatal("Delete returned false for present key")
	}
	if s.Delete("theme") {
		t.Fatal("second Delete returned true")
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d", s.Len())
	}
}

func TestValuesAndEntriesAreCopies(t *testing.T) {
	t.Parallel()
	s := newTestRegistry(t).Create("prefs")
	s.SetRaw("a", json.RawMessage(`"one"`))
	s.SetRaw("b", json.RawMessage(`"two"`))

	if got := s.Keys(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("Keys = %v", got)
	}
	vals := s.Values()
	if len(vals) != 2 || string(vals[0]) != `"one"` {
		t.Fatalf("Values = %v", vals)
	}

	ent := s.Entries()
	ent["a"] = json.RawMessage(`"mutated"`)
	if raw, _ := s.Get("a"); string(raw) != `"one"` {
		t.Fatal("Entries() returned live internal map")
	}
}

func TestFlushReloadRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	r1 := NewRegistry(dir, WithDebounce(10*time.Millisecond))
	s1 := r1.Create("prefs")
	_ = s1.Set("k", "v1")
	_ = s1.Set("k", "v2") // last write wins
	_ = s1.Set("gone", 1)
	_ = s1.Delete("gone")
	if err := r1.Close(context.Background()); err != nil {
		t.Fatal(err)
	}

	r2 := NewRegistry(dir, WithDebounce(10*time.Millisecond))
	t.Cleanup(func() { _ = r2.Close(context.Background()) })
	s2 := r2.Create("prefs")

	var v string
	ok, err := s2.GetInto("k", &v)
	if err != nil || !ok || v != "v2" {
		t.Fatalf("after reload: %q, %v, %v", v, ok, err)
	}
	if s2.Has("gone") {
		t.Fatal("deleted key came back after reload")
	}
}

func TestLazyLoadOnFirstRead(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "prefs.json"), []byte(`{"k":"v"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry(dir, WithDebounce(10*time.Millisecond))
	t.Cleanup(func() { _ = r.Close(context.Background()) })

	// No explicit Load(): the first accessor pulls the file in.
	s := r.Create("prefs")
	raw, ok := s.Get("k")
	if !ok || string(raw) != `"v"` {
		t.Fatalf("lazy load failed: %s, %v", raw, ok)
	}
}

func TestLoadCorruptFileStartsEmpty(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "prefs.json"), []byte(`{"k": torn`), 0o600); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry(dir, WithDebounce(10*time.Millisecond))
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	s := r.Create("prefs")

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load must not fail on corrupt bytes: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d after corrupt load", s.Len())
	}

	// The store remains writable and the next flush replaces the bad file.
	_ = s.Set("fresh", true)
	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "fresh") {
		t.Fatalf("flush did not replace corrupt file: %s", b)
	}
}

func TestLoadNeverClobbersMutations(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "prefs.json"), []byte(`{"k":"disk"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry(dir, WithDebounce(10*time.Millisecond))
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	s := r.Create("prefs")

	s.SetRaw("k", json.RawMessage(`"memory"`)) // triggers lazy load, then overwrites
	if err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	raw, _ := s.Get("k")
	if string(raw) != `"memory"` {
		t.Fatalf("late Load clobbered in-memory value: %s", raw)
	}
}

func TestDebouncedWriteCoalesces(t *testing.T) {
	t.Parallel()
	s := newTestRegistry(t).Create("prefs")

	for i := 0; i < 20; i++ {
		_ = s.Set("n", i)
	}
	// Nothing on disk yet inside the debounce window is acceptable; after the
	// window the final value must be there.
	deadline := time.Now().Add(2 * time.Second)
	for {
		b, err := os.ReadFile(s.Path())
		if err == nil && strings.Contains(string(b), `"n":19`) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("debounced write never landed (last read: %s, err %v)", b, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSanitizeName(t *testing.T) {
	t.Parallel()
	cases := []struct{ in, want string }{
		{"prefs", "prefs"},
		{"user settings", "user_settings"},
		{"../../etc/passwd", "____etc_passwd"},
		{".hidden", "hidden"},
		{"", "store"},
		{"a/b\\c", "a_b_c"},
		{"ok-name.v2", "ok-name.v2"},
	}
	for _, tc := range cases {
		if got := sanitizeName(tc.in); got != tc.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestHostileNameStaysInsideDataDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	r := NewRegistry(dir, WithDebounce(10*time.Millisecond))
	t.Cleanup(func() { _ = r.Close(context.Background()) })

	s := r.Create("../../escape")
	if rel, err := filepath.Rel(dir, s.Path()); err != nil || strings.HasPrefix(rel, "..") {
		t.Fatalf("store path %q escapes %q", s.Path(), dir)
	}
}
