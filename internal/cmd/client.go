package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/localup-dev/localup/internal/client"
	"github.com/localup-dev/localup/internal/config"
	"github.com/localup-dev/localup/internal/store"
)

// NewClientCommand builds the root "localup" command: running it
// directly with a name and flags starts one ad hoc tunnel, while its
// add/list/show/remove/enable/disable/daemon subcommands manage the
// on-disk tunnel store.
func NewClientCommand(conf *config.Config) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:     "localup <name>",
		Short:   "Expose a local service through a localup relay",
		Example: "localup myapp --local-port 3000 --protocol http --token $LOCALUP_TOKEN --relay tunnels.example.com:7000",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			c := client.New(conf, name, slog.Default())
			return c.Run(cmd.Context())
		},
	}

	if err := conf.BindFlags(cmd.PersistentFlags(), config.ClientOptions); err != nil {
		return nil, err
	}

	storeCmd, err := newStoreCommand(conf)
	if err != nil {
		return nil, err
	}
	daemonCmd, err := newDaemonCommand(conf)
	if err != nil {
		return nil, err
	}
	agentCmd, err := NewAgentCommand(conf)
	if err != nil {
		return nil, err
	}
	reverseCmd, err := NewReverseCommand(conf)
	if err != nil {
		return nil, err
	}

	cmd.AddCommand(storeCmd.Commands()...)
	cmd.AddCommand(daemonCmd, agentCmd, reverseCmd)

	return cmd, nil
}

// newStoreCommand returns a throwaway cobra.Command whose children
// are the tunnel-store subcommands, so NewClientCommand can hoist
// them onto the root command without exposing an intermediate
// "store" verb on the CLI surface.
func newStoreCommand(conf *config.Config) (*cobra.Command, error) {
	root := &cobra.Command{Use: "store"}

	root.AddCommand(
		newAddCommand(conf),
		newListCommand(conf),
		newShowCommand(conf),
		newRemoveCommand(conf),
		newEnableCommand(conf, true),
		newEnableCommand(conf, false),
	)

	return root, nil
}

func openStore() (*store.Store, error) {
	dir, err := store.DefaultDir()
	if err != nil {
		return nil, err
	}
	return store.New(dir)
}

func newAddCommand(conf *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Persist a tunnel definition without starting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			t := store.Tunnel{
				Name:         args[0],
				RelayAddress: conf.ClientRelay(),
				AuthToken:    conf.ClientToken(),
				LocalPort:    uint16(conf.ClientLocalPort()),
				Protocol:     conf.ClientProtocol(),
				Subdomain:    conf.ClientSubdomain(),
				CustomDomain: conf.ClientDomain(),
				RemotePort:   uint16(conf.ClientRemotePort()),
				Enabled:      true,
			}
			return s.Save(t)
		},
	}
	return cmd
}

func newListCommand(conf *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every stored tunnel",
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
			for _, t := range tunnels {
				state := "disabled"
				if t.Enabled {
					state = "enabled"
				}
				cmd.Printf("%s\t%s\t%s\t%d\n", t.Name, state, t.Protocol, t.LocalPort)
			}
			return nil
		},
	}
}

func newShowCommand(conf *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a stored tunnel's configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			t, err := s.Load(args[0])
			if err != nil {
				return err
			}
			cmd.Printf("%+v\n", t)
			return nil
		},
	}
}

func newRemoveCommand(conf *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete a stored tunnel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			return s.Remove(args[0])
		},
	}
}

func newEnableCommand(conf *config.Config, enabled bool) *cobra.Command {
	use := "enable <name>"
	short := "Mark a stored tunnel enabled, so daemon start reconnects it"
	if !enabled {
		use = "disable <name>"
		short = "Mark a stored tunnel disabled, so daemon start skips it"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			return s.SetEnabled(args[0], enabled)
		},
	}
}
