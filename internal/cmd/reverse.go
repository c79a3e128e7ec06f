package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/localup-dev/localup/internal/client"
	"github.com/localup-dev/localup/internal/config"
)

// NewReverseCommand builds "reverse", which binds a local listener
// and proxies every accepted connection through a relay to a
// registered agent's target address.
func NewReverseCommand(conf *config.Config) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:     "reverse",
		Short:   "Bind a local listener that proxies to a relay agent's target address",
		Example: "localup reverse --reverse-agent-id db-prod --reverse-remote-address 127.0.0.1:5432 --reverse-token $LOCALUP_TOKEN --reverse-bind 127.0.0.1:15432 --reverse-relay tunnels.example.com:7000",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return client.RunReverse(cmd.Context(), conf, slog.Default())
		},
	}

	if err := conf.BindFlags(cmd.Flags(), config.ReverseOptions); err != nil {
		return nil, err
	}

	return cmd, nil
}
