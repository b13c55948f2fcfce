package scheduler

import (
	"context"
	"time"

	"timekeep/logx"
	"timekeep/persist"
)

// Restore reloads the persisted job list and re-arms timers.
//
// A missing file means an empty job set. A corrupt file is logged and treated
// as empty; Restore never aborts startup over bad bytes on disk. Jobs whose
// execution time already passed are not fired inline: they fire once each
// after the restore grace delay, sequentially in persisted order, so a large
// overdue backlog cannot storm the host during its own startup.
func (s *Scheduler) Restore(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var jobs []Job
	ok, err := persist.LoadJSON(s.w.Path(), &jobs)
	if err != nil {
		s.log.Warn("job state unreadable; starting empty",
			logx.String("path", s.w.Path()), logx.Err(err))
		return nil
	}
	if !ok {
		s.log.Debug("no job state file; starting empty", logx.String("path", s.w.Path()))
		return nil
	}

	now := s.now()
	var overdue []string
	restored, late := 0, 0

	s.mu.Lock()
	for _, job := range jobs {
		if job.ID == "" || job.Action == "" {
			continue
		}
		if _, dup := s.pending[job.ID]; dup {
			continue
		}
		p := &pendingJob{job: job.clone()}
		s.pending[job.ID] = p
		s.order = append(s.order, job.ID)
		restored++

		if time.UnixMilli(job.ExecuteAt).Sub(now) <= 0 {
			// Overdue: deferred to the grace pass below, in file order.
			overdue = append(overdue, job.ID)
			late++
			continue
		}
		s.armLocked(p)
		s.armRemindersLocked(p)
	}
	s.mu.Unlock()

	if len(overdue) > 0 {
		// Tracked so Close() can stop it before the backlog starts firing.
		s.mu.Lock()
		s.graceTimer = time.AfterFunc(s.grace, func() { s.fireOverdue(overdue) })
		s.mu.Unlock()
	}

	s.log.Info("jobs restored",
		logx.Int("pending", restored), logx.Int("overdue", late),
		logx.String("path", s.w.Path()))
	return nil
}

// fireOverdue fires restored-overdue jobs one by one in persisted order.
// Each job is re-checked against the pending set, so a Cancel during the
// grace window still wins; a Close() that raced the timer stops the pass.
func (s *Scheduler) fireOverdue(ids []string) {
	for _, id := range ids {
		if s.runCtx.Err() != nil {
			return
		}
		s.mu.Lock()
		p, ok := s.pending[id]
		if !ok {
			s.mu.Unlock()
			continue
		}
		s.dropLocked(p)
		job := p.job
		host := s.host
		h := s.actions[job.Action]
		s.mu.Unlock()

		s.w.MarkDirty()
		s.fire(job, h, host)
	}
}
