package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"timekeep/eventbus"
	"timekeep/history"
	"timekeep/logx"
	"timekeep/persist"
)

const (
	// DefaultRestoreGrace delays overdue jobs found at restore so the host can
	// finish its own startup before the backlog fires.
	DefaultRestoreGrace = 500 * time.Millisecond

	// defaultMaxArm caps a single timer hop. Longer waits chain shorter timers
	// and re-check the deadline on each wake, which also rides out clock steps.
	defaultMaxArm = 24 * time.Hour
)

// pendingJob is the runtime record: the persisted DTO plus live timer handles.
// It is never serialized; only the embedded Job is.
type pendingJob struct {
	job       Job
	timer     *time.Timer
	reminders []*time.Timer
}

// Scheduler owns the job lifecycle: arming, firing, persistence, restore.
//
// All methods are safe for concurrent use. Handlers run on their own
// goroutines; mutation points are mutex-guarded, so a slow or failing handler
// cannot corrupt other jobs' state.
type Scheduler struct {
	log      logx.Logger
	bus      eventbus.Bus
	hist     history.Recorder
	now      func() time.Time
	grace    time.Duration
	maxArm   time.Duration
	debounce time.Duration

	w *persist.Writer

	runCtx    context.Context
	runCancel context.CancelFunc

	mu         sync.Mutex
	host       any
	actions    map[string]Handler
	pending    map[string]*pendingJob
	order      []string // persisted order of pending job ids
	graceTimer *time.Timer
}

type Option func(*Scheduler)

func WithLogger(log logx.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

func WithBus(bus eventbus.Bus) Option {
	return func(s *Scheduler) { s.bus = bus }
}

// WithHistory installs a durable firing-history recorder.
func WithHistory(rec history.Recorder) Option {
	return func(s *Scheduler) { s.hist = rec }
}

// WithDebounce overrides the persistence debounce window.
func WithDebounce(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// WithRestoreGrace overrides the fixed delay applied to overdue jobs at restore.
func WithRestoreGrace(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithClock overrides the time source (tests only).
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a scheduler persisting its job list to path.
// Call Restore() once before scheduling to reload a previous process's state.
func New(path string, opts ...Option) *Scheduler {
	s := &Scheduler{
		now:      time.Now,
		grace:    DefaultRestoreGrace,
		maxArm:   defaultMaxArm,
		debounce: persist.DefaultDebounce,
		actions:  map[string]Handler{},
		pending:  map[string]*pendingJob{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.w = persist.NewWriter(path, s.snapshot,
		persist.WithDebounce(s.debounce),
		persist.WithLogger(s.log),
	)
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	return s
}

// RegisterAction binds a handler to an action name. It may be called at any
// time, including after jobs referencing the name were scheduled or restored.
// Registering the same name again replaces the handler.
func (s *Scheduler) RegisterAction(name string, h Handler) error {
	if name == "" {
		return ErrEmptyAction
	}
	s.mu.Lock()
	s.actions[name] = h
	s.mu.Unlock()
	return nil
}

// Init stores the opaque host value handed to every handler invocation.
// Idempotent; the last call wins.
func (s *Scheduler) Init(host any) {
	s.mu.Lock()
	s.host = host
	s.mu.Unlock()
}

// Schedule creates a job and returns its id synchronously; it never waits for
// execution. The payload is serialized immediately, so later mutation of the
// caller's value cannot leak into the persisted job.
func (s *Scheduler) Schedule(action string, payload any, opts Options) (string, error) {
	if action == "" {
		return "", ErrEmptyAction
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("scheduler: marshal payload for %q: %w", action, err)
	}

	now := s.now()
	executeAt := opts.ExecuteAt
	if executeAt <= 0 {
		delay := opts.Delay
		if delay < 0 {
			delay = 0
		}
		executeAt = now.Add(delay).UnixMilli()
	}

	job := Job{
		ID:             newID(now),
		Action:         action,
		Payload:        raw,
		ExecuteAt:      executeAt,
		CreatedAt:      now.UnixMilli(),
		Reminders:      opts.Reminders,
		ReminderAction: opts.ReminderAction,
		Description:    opts.Description,
		Meta:           opts.Meta,
	}
	job = job.clone() // detach caller-owned slices/maps

	s.mu.Lock()
	p := &pendingJob{job: job}
	s.pending[job.ID] = p
	s.order = append(s.order, job.ID)
	s.armLocked(p)
	s.armRemindersLocked(p)
	s.mu.Unlock()

	s.w.MarkDirty()
	s.log.Debug("job scheduled",
		logx.String("id", job.ID), logx.String("action", action),
		logx.Time("at", time.UnixMilli(executeAt)))
	s.publish(eventbus.TypeJobScheduled, job, "", 0)
	return job.ID, nil
}

// Cancel removes a pending job before it fires. It returns false for unknown
// (or already fired) ids; that is a normal outcome, not an error. Once a
// handler has started, Cancel has no effect on that in-flight invocation.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	p, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.dropLocked(p)
	job := p.job
	s.mu.Unlock()

	s.w.MarkDirty()
	s.log.Debug("job canceled", logx.String("id", id), logx.String("action", job.Action))
	s.publish(eventbus.TypeJobCanceled, job, "", 0)
	return true
}

// Jobs returns an immutable snapshot of pending jobs matching f, in persisted
// order. No ordering is guaranteed between jobs sharing an executeAt.
func (s *Scheduler) Jobs(f Filter) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.order))
	for _, id := range s.order {
		p, ok := s.pending[id]
		if !ok {
			continue
		}
		if f.matches(p.job) {
			out = append(out, p.job.clone())
		}
	}
	return out
}

// Flush forces a pending debounced persistence cycle to disk now.
// Call it on graceful shutdown so no mutation is lost.
func (s *Scheduler) Flush(ctx context.Context) error {
	return s.w.Flush(ctx)
}

// Close stops all timers, cancels handler contexts, and flushes state.
// Jobs still pending (including restored-overdue ones whose grace delay has
// not elapsed) stay in the persisted file and fire on the next restore.
func (s *Scheduler) Close(ctx context.Context) error {
	s.runCancel()

	s.mu.Lock()
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	for _, p := range s.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		for _, t := range p.reminders {
			t.Stop()
		}
	}
	s.mu.Unlock()

	return s.w.Close(ctx)
}

// ---- arming & firing ----

// armLocked arms the main timer for p, chaining hops of at most maxArm.
// Call with s.mu held.
func (s *Scheduler) armLocked(p *pendingJob) {
	delay := time.UnixMilli(p.job.ExecuteAt).Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	hop := delay
	if hop > s.maxArm {
		hop = s.maxArm
	}
	id := p.job.ID
	p.timer = time.AfterFunc(hop, func() { s.timerElapsed(id) })
}

func (s *Scheduler) timerElapsed(id string) {
	s.mu.Lock()
	p, ok := s.pending[id]
	if !ok {
		// Canceled while the callback was in flight.
		s.mu.Unlock()
		return
	}
	if remaining := time.UnixMilli(p.job.ExecuteAt).Sub(s.now()); remaining > 0 {
		// Chained hop: deadline not reached yet, re-arm.
		s.armLocked(p)
		s.mu.Unlock()
		return
	}
	s.dropLocked(p)
	job := p.job
	host := s.host
	h := s.actions[job.Action]
	s.mu.Unlock()

	s.w.MarkDirty()
	s.fire(job, h, host)
}

// dropLocked removes p from the pending set and stops its timers.
// Call with s.mu held.
func (s *Scheduler) dropLocked(p *pendingJob) {
	if p.timer != nil {
		p.timer.Stop()
	}
	for _, t := range p.reminders {
		t.Stop()
	}
	delete(s.pending, p.job.ID)
	for i, id := range s.order {
		if id == p.job.ID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// fire invokes the job's handler. The job is already removed and the removal
// persisted: success, failure and panic all count as the one allowed firing.
func (s *Scheduler) fire(job Job, h Handler, host any) {
	if h == nil {
		s.log.Error("action not registered; job discarded",
			logx.String("id", job.ID), logx.String("action", job.Action), logx.Err(ErrActionNotFound))
		s.publish(eventbus.TypeJobDiscarded, job, ErrActionNotFound.Error(), 0)
		s.record(job, history.OutcomeDiscarded, ErrActionNotFound.Error(), 0)
		return
	}

	start := s.now()
	err := s.invoke(h, Invocation{Job: job.clone(), Payload: job.Payload, Host: host})
	took := s.now().Sub(start)

	if err != nil {
		s.log.Warn("job failed",
			logx.String("id", job.ID), logx.String("action", job.Action),
			logx.Duration("took", took), logx.Err(err))
		s.publish(eventbus.TypeJobFailed, job, err.Error(), took)
		s.record(job, history.OutcomeFailed, err.Error(), took)
		return
	}

	s.log.Info("job fired",
		logx.String("id", job.ID), logx.String("action", job.Action), logx.Duration("took", took))
	s.publish(eventbus.TypeJobFired, job, "", took)
	s.record(job, history.OutcomeFired, "", took)
}

// invoke contains handler execution: a panic is converted to an error here so
// it can never take down the process or another job's timer.
func (s *Scheduler) invoke(h Handler, inv Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in action handler: %v", r)
			s.log.Error("panic in action handler",
				logx.String("id", inv.Job.ID), logx.String("action", inv.Job.Action),
				logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return h(s.runCtx, inv)
}

// ---- reminders ----

// armRemindersLocked arms one timer per reminder whose computed fire time is
// still in the future. Past reminders are skipped permanently: advance notice
// for a moment that already passed is worthless. Call with s.mu held.
func (s *Scheduler) armRemindersLocked(p *pendingJob) {
	now := s.now()
	for i, rem := range p.job.Reminders {
		fireAt := time.UnixMilli(p.job.ExecuteAt - rem.OffsetMS)
		delay := fireAt.Sub(now)
		if delay <= 0 {
			s.log.Debug("reminder already past; skipped",
				logx.String("id", p.job.ID), logx.Int64("offsetMs", rem.OffsetMS))
			continue
		}
		id := p.job.ID
		idx := i
		p.reminders = append(p.reminders, time.AfterFunc(delay, func() {
			s.reminderElapsed(id, idx)
		}))
	}
}

func (s *Scheduler) reminderElapsed(id string, idx int) {
	s.mu.Lock()
	p, ok := s.pending[id]
	if !ok || idx >= len(p.job.Reminders) {
		s.mu.Unlock()
		return
	}
	job := p.job
	rem := job.Reminders[idx]
	host := s.host
	action := job.ReminderAction
	if action == "" {
		action = job.Action
	}
	h := s.actions[action]
	s.mu.Unlock()

	if h == nil {
		s.log.Warn("reminder action not registered; reminder dropped",
			logx.String("id", id), logx.String("action", action))
		return
	}

	start := s.now()
	err := s.invoke(h, Invocation{Job: job.clone(), Payload: rem.Message, Host: host, Reminder: &rem})
	took := s.now().Sub(start)

	if err != nil {
		s.log.Warn("reminder failed",
			logx.String("id", id), logx.String("action", action), logx.Err(err))
		s.record(job, history.OutcomeReminder, err.Error(), took)
		return
	}
	s.publish(eventbus.TypeJobReminder, job, "", took)
	s.record(job, history.OutcomeReminder, "", took)
}

// ---- persistence ----

// snapshot serializes all pending jobs, in order, as a single JSON array.
func (s *Scheduler) snapshot() ([]byte, error) {
	s.mu.Lock()
	jobs := make([]Job, 0, len(s.order))
	for _, id := range s.order {
		if p, ok := s.pending[id]; ok {
			jobs = append(jobs, p.job)
		}
	}
	s.mu.Unlock()
	return json.Marshal(jobs)
}

// ---- helpers ----

func (s *Scheduler) publish(typ string, job Job, errStr string, took time.Duration) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: eventbus.JobEvent{
		ID:          job.ID,
		Action:      job.Action,
		Description: job.Description,
		ExecuteAt:   job.ExecuteAt,
		Error:       errStr,
		Took:        took,
	}})
}

func (s *Scheduler) record(job Job, outcome, errStr string, took time.Duration) {
	if s.hist == nil {
		return
	}
	rec := history.Record{
		At:          s.now(),
		JobID:       job.ID,
		Action:      job.Action,
		Description: job.Description,
		Outcome:     outcome,
		Error:       errStr,
		TookMS:      took.Milliseconds(),
	}
	if err := s.hist.Append(s.runCtx, rec); err != nil {
		s.log.Debug("history append failed", logx.String("id", job.ID), logx.Err(err))
	}
}

// newID builds a collision-resistant job id: creation time in unix millis plus
// a random uuid fragment. Sortable by creation time, unique under bursts.
func newID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}
