package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/localup-dev/localup/internal/client"
	"github.com/localup-dev/localup/internal/config"
)

// NewAgentCommand builds "agent", which registers a fixed target
// address with a relay and dials it for every reverse-tunnel client
// the relay authorizes against this agent id.
func NewAgentCommand(conf *config.Config) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:     "agent",
		Short:   "Register a fixed target address with a relay for reverse-tunnel access",
		Example: "localup agent --agent-id db-prod --agent-target-address 127.0.0.1:5432 --agent-token $LOCALUP_AGENT_TOKEN --agent-relay tunnels.example.com:7000",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := client.NewAgent(conf, slog.Default())
			return a.Run(cmd.Context())
		},
	}

	if err := conf.BindFlags(cmd.Flags(), config.AgentOptions); err != nil {
		return nil, err
	}

	return cmd, nil
}
