package history

import (
	"context"
	"errors"
	"strings"
	"time"

	"timekeep/logx"
)

var ErrDisabled = errors.New("history disabled")

// Outcome values recorded per firing.
const (
	OutcomeFired     = "fired"
	OutcomeFailed    = "failed"
	OutcomeDiscarded = "discarded" // action was never registered
	OutcomeReminder  = "reminder"
)

// Config configures history persistence.
//
// Driver values:
//   - "file": append-only JSON Lines file
//   - "sqlite": SQLite database file (requires the sqlite build tag)
//
// If Driver is empty or "none", history is disabled and Open returns (nil, nil).
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is one firing outcome. Keep it compact and schema-stable.
type Record struct {
	At          time.Time `json:"at"`
	JobID       string    `json:"jobId"`
	Action      string    `json:"action"`
	Description string    `json:"description,omitempty"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	TookMS      int64     `json:"tookMs"`
}

// Recorder is the minimal history API used by the scheduler.
type Recorder interface {
	Append(ctx context.Context, r Record) error
	Close() error
}

// Open initializes the configured recorder.
// It returns (nil, nil) if history is disabled.
func Open(cfg Config, log logx.Logger) (Recorder, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown history driver: " + driver)
	}
}
