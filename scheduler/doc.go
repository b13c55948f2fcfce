// Package scheduler provides a persistent one-shot job scheduler consumed
// in-process by a host application.
//
// # Overview
//
// Jobs name an action (a handler registered on the scheduler), carry an
// arbitrary JSON payload, and fire once at an absolute time. The full job set
// is persisted to a single JSON file through a debounced atomic writer, and
// Restore() rebuilds live timers from that file after a process restart.
//
// # Firing semantics
//
// A job fires at most once per firing: whatever the handler does (succeed,
// return an error, panic), the job is removed and the removal persisted.
// There is no built-in retry and no recurrence variant; a handler that wants
// to run again simply calls Schedule() again. One job's failure never touches
// another job's timers or the scheduler's own liveness.
//
// # Reminders
//
// A job may carry reminder offsets. Each reminder is an independent single-shot
// timer at executeAt minus the offset; a reminder whose computed time is
// already past (at scheduling or at restore) is skipped permanently. Reminders
// give advance notice only and never alter the main job's lifecycle.
//
// # Restore
//
// A missing state file means an empty job set; a corrupt one is logged and
// also treated as empty (startup never aborts). Jobs found overdue at restore
// fire once each after a short grace delay, sequentially in persisted order,
// never inline during Restore() itself.
package scheduler
