// Command timekeepd runs a standalone timekeep runtime: it loads a config
// file, restores persisted jobs, logs every firing, and hot-reloads logging
// settings when the config file changes. It is mainly a smoke-test harness;
// most deployments embed the library instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"timekeep"
	"timekeep/config"
	"timekeep/eventbus"
	"timekeep/scheduler"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config file (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	rt, err := timekeep.Open(*cfg)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	// A firing without a handler is discarded; "log" gives the file something
	// runnable to point jobs at.
	_ = rt.Scheduler.RegisterAction("log", func(ctx context.Context, inv scheduler.Invocation) error {
		fmt.Printf("fired %s: %s\n", inv.Job.ID, inv.Payload)
		return nil
	})

	if err := rt.Restore(ctx); err != nil {
		fmt.Println("fatal restore:", err)
		os.Exit(1)
	}

	// Follow the config file; only the logging section is hot-applied.
	updates := mgr.Subscribe(1)
	go func() {
		for next := range updates {
			rt.ApplyConfig(*next)
		}
	}()
	go func() { _ = mgr.Watch(ctx) }()

	events, unsub := rt.Bus.Subscribe(32)
	defer unsub()
	go func() {
		for e := range events {
			if je, ok := e.Data.(eventbus.JobEvent); ok {
				fmt.Printf("%s %s action=%s\n", e.Type, je.ID, je.Action)
			}
		}
	}()

	<-ctx.Done()
	_ = rt.Close(context.Background())
}
