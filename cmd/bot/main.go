package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"stockcast/internal/app"
	"stockcast/pkg/logx"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stockcast: %v\n", err)
		os.Exit(1)
	}

	// Best effort; a no-op outside systemd.
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.Logger().Debug("sd_notify", logx.Err(err))
	}

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		a.Logger().Error("run", logx.Err(err))
		daemon.SdNotify(false, daemon.SdNotifyStopping)
		os.Exit(1)
	}
	daemon.SdNotify(false, daemon.SdNotifyStopping)
}
