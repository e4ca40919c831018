// serverwatch-discover asks the Steam Web API for the game's public servers
// and merges the new ones into the registry file the bot polls.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"serverwatch/internal/app"
)

func main() {
	var (
		cfgPath string
		dryRun  bool
	)
	pflag.StringVarP(&cfgPath, "config", "c", "./config.json", "path to config file (.json, .jsonc, .yaml)")
	pflag.BoolVar(&dryRun, "dry-run", false, "report what would be added without writing the registry")
	pflag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	res, err := app.Discover(ctx, cfgPath, dryRun)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	fmt.Printf("fetched=%d kept=%d added=%d total=%d\n", res.Fetched, res.Kept, res.Added, res.Total)
}
