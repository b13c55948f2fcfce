package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"timekeep/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		rec, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("driver %q: %v", driver, err)
		}
		if rec != nil {
			t.Fatalf("driver %q: expected nil recorder", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestFileAppendAndReadAll(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sub", "history.jsonl")

	rec, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ctx := context.Background()
	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	records := []Record{
		{At: at, JobID: "j1", Action: "send", Outcome: OutcomeFired, TookMS: 12},
		{At: at.Add(time.Second), JobID: "j2", Action: "send", Outcome: OutcomeFailed, Error: "boom"},
		{At: at.Add(2 * time.Second), JobID: "j3", Action: "ghost", Outcome: OutcomeDiscarded},
	}
	for _, r := range records {
		if err := rec.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("read %d records, want %d", len(got), len(records))
	}
	for i, want := range records {
		g := got[i]
		if g.JobID != want.JobID || g.Outcome != want.Outcome || g.Error != want.Error {
			t.Fatalf("record %d = %+v, want %+v", i, g, want)
		}
	}
}

func TestAppendAfterCloseFails(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.jsonl")
	rec, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}
	if err := rec.Append(context.Background(), Record{JobID: "j1"}); err == nil {
		t.Fatal("Append after Close succeeded")
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestAppendStampsMissingTime(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.jsonl")
	rec, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.Append(context.Background(), Record{JobID: "j1", Outcome: OutcomeFired}); err != nil {
		t.Fatal(err)
	}
	_ = rec.Close()

	got, err := ReadAll(path)
	if err != nil || len(got) != 1 {
		t.Fatalf("ReadAll: %v (%d records)", err, len(got))
	}
	if got[0].At.IsZero() {
		t.Fatal("zero At was persisted as-is")
	}
}

func TestReadAllSkipsTornLine(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.jsonl")
	body := `{"at":"2026-08-30T12:00:00Z","jobId":"j1","action":"a","outcome":"fired","tookMs":1}
{"at":"2026-08-30T12:00:01Z","jobId":"j2","action":"a","outc` // torn mid-write
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 1 || got[0].JobID != "j1" {
		t.Fatalf("records = %+v", got)
	}
}

func TestReadAllMissingFile(t *testing.T) {
	t.Parallel()
	got, err := ReadAll(filepath.Join(t.TempDir(), "nope.jsonl"))
	if err != nil || got != nil {
		t.Fatalf("ReadAll(missing) = %v, %v", got, err)
	}
}
