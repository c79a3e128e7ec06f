package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/localup-dev/localup/internal/config"
	"github.com/localup-dev/localup/internal/relay"
)

// NewRelayCommand builds the "relay" command, which runs the relay
// process until its context is cancelled.
func NewRelayCommand(conf *config.Config) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:     "relay",
		Short:   "Run the localup relay: accepts tunnel and agent connections and serves public ingress",
		Example: "localup-relay relay --listen-quic :7000 --listen-http :80 --public-domain tunnels.example.com",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := relay.New(conf, slog.Default())
			if err != nil {
				return &configError{err}
			}
			return r.Run(cmd.Context())
		},
	}

	if err := conf.BindFlags(cmd.Flags(), config.RelayOptions); err != nil {
		return nil, err
	}

	return cmd, nil
}

// configError marks an error as a configuration failure so
// ExitCodeFor reports it as ExitConfig rather than ExitUncaught.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// ExitCodeFor classifies err per the CLI's exit-code contract: nil or
// a cancelled context is an orderly shutdown, a configuration failure
// is ExitConfig, a listener-bind failure is ExitBind, and anything
// else is ExitUncaught.
func ExitCodeFor(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return ExitOK
	}
	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		return ExitConfig
	}
	var bindErr *relay.BindError
	if errors.As(err, &bindErr) {
		return ExitBind
	}
	return ExitUncaught
}

// PrintError writes err to the format cobra would otherwise produce,
// used by main after SilenceErrors suppresses cobra's own printing.
func PrintError(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
}
