package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/localup-dev/localup/internal/client"
	"github.com/localup-dev/localup/internal/config"
)

// newDaemonCommand builds "daemon", whose only subcommand, "start",
// reconnects every enabled stored tunnel concurrently and blocks
// until the process is signalled to stop.
func newDaemonCommand(conf *config.Config) (*cobra.Command, error) {
	root := &cobra.Command{Use: "daemon", Short: "Run a supervisor that reconnects stored tunnels"}

	start := &cobra.Command{
		Use:   "start",
		Short: "Reconnect every enabled stored tunnel until stopped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			tunnels, err := s.List()
			if err != nil {
				return err
			}

			logger := slog.Default()
			eg, ctx := errgroup.WithContext(cmd.Context())
			ran := 0
			for _, t := range tunnels {
				if !t.Enabled {
					continue
				}
				ran++
				tunnelCfg := conf.Clone()
				tunnelCfg.SetClientName(t.Name)
				tunnelCfg.SetClientRelay(t.RelayAddress)
				tunnelCfg.SetClientToken(t.AuthToken)
				tunnelCfg.SetClientLocalPort(int(t.LocalPort))
				tunnelCfg.SetClientProtocol(t.Protocol)
				tunnelCfg.SetClientSubdomain(t.Subdomain)
				tunnelCfg.SetClientDomain(t.CustomDomain)
				tunnelCfg.SetClientRemotePort(int(t.RemotePort))

				c := client.New(tunnelCfg, t.Name, logger.With("tunnel", t.Name))
				eg.Go(func() error { return c.Run(ctx) })
			}

			if ran == 0 {
				logger.Warn("daemon: no enabled tunnels in the store")
				return nil
			}
			return eg.Wait()
		},
	}

	root.AddCommand(start)
	return root, nil
}
