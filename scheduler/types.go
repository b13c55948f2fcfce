package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrActionNotFound is logged when a fired job references an action that
	// was never registered. The job is discarded, not retried: retrying would
	// fail the same way every time.
	ErrActionNotFound = errors.New("scheduler: action not registered")

	ErrEmptyAction = errors.New("scheduler: action name required")
)

// Handler executes a registered action.
//
// The context is the scheduler's run context (canceled on Close). Returned
// errors and panics are contained at the firing boundary.
type Handler func(ctx context.Context, inv Invocation) error

// Invocation carries everything a handler sees for one firing.
type Invocation struct {
	Job     Job
	Payload json.RawMessage

	// Host is the opaque value installed via Init(); typically the host
	// application's own context object.
	Host any

	// Reminder is non-nil when this invocation is an advance-notice firing
	// rather than the main execution. Payload then holds the reminder message.
	Reminder *Reminder
}

// Reminder is an advance-notice offset relative to the job's execution time.
// Its absolute fire time is executeAt - offsetMs.
type Reminder struct {
	OffsetMS int64           `json:"offsetMs"`
	Message  json.RawMessage `json:"message,omitempty"`
}

// Job is the persisted shape of one scheduled firing. It never contains timer
// handles; those live on the runtime record wrapping it.
type Job struct {
	ID             string
	Action         string
	Payload        json.RawMessage
	ExecuteAt      int64 // unix milli
	CreatedAt      int64 // unix milli
	Reminders      []Reminder
	ReminderAction string
	Description    string

	// Meta holds host-attached routing fields. The scheduler never interprets
	// them; on disk they appear as additional top-level keys of the job object.
	Meta map[string]json.RawMessage
}

// ExecuteTime returns ExecuteAt as a time.Time.
func (j Job) ExecuteTime() time.Time { return time.UnixMilli(j.ExecuteAt) }

// clone returns an independent copy safe to hand out in snapshots.
func (j Job) clone() Job {
	cp := j
	if j.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	if j.Reminders != nil {
		cp.Reminders = make([]Reminder, len(j.Reminders))
		for i, r := range j.Reminders {
			cp.Reminders[i] = r
			if r.Message != nil {
				cp.Reminders[i].Message = append(json.RawMessage(nil), r.Message...)
			}
		}
	}
	if j.Meta != nil {
		cp.Meta = make(map[string]json.RawMessage, len(j.Meta))
		for k, v := range j.Meta {
			cp.Meta[k] = append(json.RawMessage(nil), v...)
		}
	}
	return cp
}

// reservedJobKeys are the job object's own fields; everything else read from
// disk is treated as host routing metadata and passed through untouched.
var reservedJobKeys = map[string]struct{}{
	"id":             {},
	"action":         {},
	"payload":        {},
	"executeAt":      {},
	"createdAt":      {},
	"reminders":      {},
	"reminderAction": {},
	"description":    {},
}

// jobWire is the fixed portion of the on-disk job object.
type jobWire struct {
	ID             string          `json:"id"`
	Action         string          `json:"action"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	ExecuteAt      int64           `json:"executeAt"`
	CreatedAt      int64           `json:"createdAt"`
	Reminders      []Reminder      `json:"reminders,omitempty"`
	ReminderAction string          `json:"reminderAction,omitempty"`
	Description    string          `json:"description,omitempty"`
}

// MarshalJSON flattens Meta into the top-level object next to the fixed
// fields. Fixed fields win on key collisions.
func (j Job) MarshalJSON() ([]byte, error) {
	fixed, err := json.Marshal(jobWire{
		ID:             j.ID,
		Action:         j.Action,
		Payload:        j.Payload,
		ExecuteAt:      j.ExecuteAt,
		CreatedAt:      j.CreatedAt,
		Reminders:      j.Reminders,
		ReminderAction: j.ReminderAction,
		Description:    j.Description,
	})
	if err != nil {
		return nil, err
	}
	if len(j.Meta) == 0 {
		return fixed, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(fixed, &obj); err != nil {
		return nil, err
	}
	for k, v := range j.Meta {
		if _, reserved := reservedJobKeys[k]; reserved {
			continue
		}
		obj[k] = v
	}
	return json.Marshal(obj)
}

func (j *Job) UnmarshalJSON(data []byte) error {
	var w jobWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}

	j.ID = w.ID
	j.Action = w.Action
	j.Payload = w.Payload
	j.ExecuteAt = w.ExecuteAt
	j.CreatedAt = w.CreatedAt
	j.Reminders = w.Reminders
	j.ReminderAction = w.ReminderAction
	j.Description = w.Description

	j.Meta = nil
	for k, v := range obj {
		if _, reserved := reservedJobKeys[k]; reserved {
			continue
		}
		if j.Meta == nil {
			j.Meta = map[string]json.RawMessage{}
		}
		j.Meta[k] = v
	}
	return nil
}

// Options configures one Schedule() call.
type Options struct {
	// Delay is relative to now; negative values clamp to zero.
	Delay time.Duration

	// ExecuteAt (unix milli) takes precedence over Delay when > 0.
	ExecuteAt int64

	Reminders      []Reminder
	ReminderAction string
	Description    string

	// Meta is the host's opaque routing bag, persisted as extra top-level
	// keys of the job object.
	Meta map[string]json.RawMessage
}

// Filter selects jobs for Jobs(). Zero fields match everything.
type Filter struct {
	Action string

	// Meta entries must all match the job's routing fields byte-for-byte.
	Meta map[string]json.RawMessage
}

func (f Filter) matches(j Job) bool {
	if f.Action != "" && f.Action != j.Action {
		return false
	}
	for k, want := range f.Meta {
		got, ok := j.Meta[k]
		if !ok || !bytes.Equal(normalizeRaw(got), normalizeRaw(want)) {
			return false
		}
	}
	return true
}

// normalizeRaw strips insignificant whitespace so filter values compare by
// JSON content rather than formatting.
func normalizeRaw(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
