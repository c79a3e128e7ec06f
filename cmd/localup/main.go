// Command localup is the tunnel-client binary: run it with a tunnel
// name and flags to start one ad hoc tunnel, or use its
// add/list/show/remove/enable/disable/daemon/agent/reverse
// subcommands to manage the on-disk tunnel store and the other
// client-side roles.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/localup-dev/localup/internal/cmd"
	"github.com/localup-dev/localup/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx))
}

func run(ctx context.Context) int {
	conf, err := config.New()
	if err != nil {
		cmd.PrintError(err)
		return cmd.ExitConfig
	}

	root, err := cmd.NewClientCommand(conf)
	if err != nil {
		cmd.PrintError(err)
		return cmd.ExitConfig
	}
	root.SilenceUsage = true
	root.SilenceErrors = true

	if err := root.ExecuteContext(ctx); err != nil {
		cmd.PrintError(err)
		return cmd.ExitCodeFor(err)
	}
	return cmd.ExitOK
}
