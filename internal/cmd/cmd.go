// Package cmd assembles the cobra command trees for the relay and
// localup binaries directly against internal/config, internal/relay,
// and internal/client, without a dependency-injection generator.
package cmd

// Exit codes shared by both binaries' main packages.
const (
	ExitOK       = 0
	ExitUncaught = 1
	ExitConfig   = 2
	ExitBind     = 3
)
