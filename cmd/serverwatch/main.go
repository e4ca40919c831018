// serverwatch polls the game servers listed in the registry file and keeps a
// ranked status report synced into Telegram channels by editing its own messages.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"serverwatch/internal/app"
)

func main() {
	var cfgPath string
	pflag.StringVarP(&cfgPath, "config", "c", "./config.json", "path to config file (.json, .jsonc, .yaml)")
	pflag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = a.Stop(stopCtx)
		stopCancel()
		os.Exit(1)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	// Either a signal or a fatal supervised error ends the run.
run:
	for {
		select {
		case <-ctx.Done():
			break run
		case <-a.Done():
			break run
		case <-hup:
			a.Reload(ctx)
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	_ = a.Stop(stopCtx)
	stopCancel()

	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
