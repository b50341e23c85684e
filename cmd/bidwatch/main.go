package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bidwatch/internal/app"
	"bidwatch/internal/config"
	"bidwatch/internal/pipeline"
)

func main() {
	var (
		cfgPath string
		daemon  bool
	)
	flag.StringVar(&cfgPath, "config", config.DefaultPath, "path to config yaml/json (optional)")
	flag.BoolVar(&daemon, "daemon", false, "run on scheduler.schedule until interrupted")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfgm := config.NewConfigManager(cfgPath)
	a, err := app.New(ctx, cfgm, app.Options{Daemon: daemon})
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if daemon || cfgm.Get().Scheduler.Enabled {
		err = a.Daemon(ctx)
	} else {
		var rep pipeline.Report
		rep, err = a.RunOnce(ctx)
		if err == nil {
			fmt.Printf("%d new notices (%d stored)\n", rep.Accepted, rep.Total)
		}
	}
	_ = a.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
