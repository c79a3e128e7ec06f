// Package service names the OS-service installer surface left out of
// scope: wrapping the client daemon as a systemd unit, a Windows
// service, or a launchd agent. Installer is a collaborator interface
// only; localup ships no implementation of it.
package service

import "context"

// Installer registers or removes an OS-level service entry for the
// client daemon. Platform-specific implementations (systemd,
// launchd, Windows Service Control Manager) are out of scope.
type Installer interface {
	Install(ctx context.Context, name, execPath string, args []string) error
	Uninstall(ctx context.Context, name string) error
}
