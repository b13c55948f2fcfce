// Package timekeep assembles the scheduler, the named-store registry, firing
// history and the event bus into one Runtime a host application embeds.
//
// Hosts that want fine-grained control can construct scheduler.New and
// store.NewRegistry directly; Runtime is the batteries-included path driven by
// a single config file.
package timekeep
