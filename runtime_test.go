package timekeep

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"timekeep/config"
	"timekeep/eventbus"
	"timekeep/history"
	"timekeep/scheduler"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		DataDir:      t.TempDir(),
		Debounce:     "10ms",
		RestoreGrace: "50ms",
	}
}

func TestOpenRequiresDataDir(t *testing.T) {
	t.Parallel()
	if _, err := Open(config.Config{}); err == nil {
		t.Fatal("Open accepted empty data_dir")
	}
	if _, err := Open(config.Config{DataDir: "/x", Debounce: "banana"}); err == nil {
		t.Fatal("Open accepted bad debounce")
	}
}

func TestRuntimeScheduleAndFire(t *testing.T) {
	t.Parallel()
	rt, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close(context.Background()) })

	fired := make(chan scheduler.Invocation, 1)
	err = rt.Scheduler.RegisterAction("ping", func(ctx context.Context, inv scheduler.Invocation) error {
		fired <- inv
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.Restore(context.Background()); err != nil {
		t.Fatal(err)
	}

	events, unsub := rt.Bus.Subscribe(8)
	defer unsub()

	id, err := rt.Scheduler.Schedule("ping", map[string]int{"n": 1}, scheduler.Options{
		Delay: 30 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case inv := <-fired:
		if inv.Job.ID != id {
			t.Fatalf("fired %s, want %s", inv.Job.ID, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job never fired")
	}

	// The bus sees the firing too.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type == eventbus.TypeJobFired {
				return
			}
		case <-deadline:
			t.Fatal("no job.fired event on the bus")
		}
	}
}

func TestRuntimeCloseFlushesState(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	rt, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	id, err := rt.Scheduler.Schedule("later", nil, scheduler.Options{Delay: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	prefs := rt.Stores.Create("prefs")
	if err := prefs.Set("theme", "dark"); err != nil {
		t.Fatal(err)
	}
	if err := rt.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Both files must exist on disk regardless of the debounce window.
	var jobs []json.RawMessage
	b, err := os.ReadFile(filepath.Join(cfg.DataDir, "jobs.json"))
	if err != nil {
		t.Fatalf("jobs file missing after Close: %v", err)
	}
	if err := json.Unmarshal(b, &jobs); err != nil || len(jobs) != 1 {
		t.Fatalf("jobs on disk = %s (err %v)", b, err)
	}
	if _, err := os.Stat(prefs.Path()); err != nil {
		t.Fatalf("store file missing after Close: %v", err)
	}

	// A second runtime over the same directory restores the pending job.
	rt2, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = rt2.Close(context.Background()) })
	if err := rt2.Restore(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := rt2.Scheduler.Jobs(scheduler.Filter{})
	if len(got) != 1 || got[0].ID != id {
		t.Fatalf("restored jobs = %+v", got)
	}
	var theme string
	if ok, err := rt2.Stores.Create("prefs").GetInto("theme", &theme); err != nil || !ok || theme != "dark" {
		t.Fatalf("store after reopen: %q, %v, %v", theme, ok, err)
	}
}

func TestRuntimeHistoryRecordsFirings(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.History = &config.HistoryConfig{Driver: "file"}

	rt, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{}, 1)
	_ = rt.Scheduler.RegisterAction("ping", func(ctx context.Context, inv scheduler.Invocation) error {
		done <- struct{}{}
		return nil
	})
	if _, err := rt.Scheduler.Schedule("ping", nil, scheduler.Options{Delay: 10 * time.Millisecond}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job never fired")
	}
	// The record is appended after the handler returns; let it land.
	time.Sleep(50 * time.Millisecond)
	if err := rt.Close(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Path defaults to <data_dir>/history.jsonl when unset.
	recs, err := history.ReadAll(filepath.Join(cfg.DataDir, "history.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Outcome != history.OutcomeFired || recs[0].Action != "ping" {
		t.Fatalf("history = %+v", recs)
	}
}

func TestApplyConfigIsSafe(t *testing.T) {
	t.Parallel()
	rt, err := Open(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = rt.Close(context.Background()) })

	rt.ApplyConfig(config.Config{
		Logging: config.LoggingConfig{Level: "debug", Console: false},
	})
	// The runtime keeps working after a logging swap.
	if _, err := rt.Scheduler.Schedule("later", nil, scheduler.Options{Delay: time.Hour}); err != nil {
		t.Fatal(err)
	}
}
