// Command localup-relay runs the localup relay process: the QUIC (and
// optional H2/WS) control-plane listener, the HTTP/SNI/TLS-terminating
// ingress listeners, and the discovery and metrics endpoints.
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

	relayCmd, err := cmd.NewRelayCommand(conf)
	if err != nil {
		cmd.PrintError(err)
		return cmd.ExitConfig
	}

	root := relayCmd
	root.SilenceUsage = true
	root.SilenceErrors = true

	if err := root.ExecuteContext(ctx); err != nil {
		cmd.PrintError(err)
		return cmd.ExitCodeFor(err)
	}
	return cmd.ExitOK
}
