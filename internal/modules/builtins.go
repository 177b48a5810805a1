// Package modules wires the illustrative built-in monitors, commands and
// connectors into a Module Registry. Real deployments would additionally
// register modules loaded from an on-disk resource bundle.
package modules

import (
	"github.com/nmslite/nmslite/internal/modules/commands"
	"github.com/nmslite/nmslite/internal/modules/connectors"
	"github.com/nmslite/nmslite/internal/modules/monitors"
	"github.com/nmslite/nmslite/internal/registry"
)

// RegisterBuiltins populates r with every module implemented in this
// repository.
func RegisterBuiltins(r *registry.Registry) {
	r.RegisterMonitor(monitors.PlatformInfoID, monitors.NewPlatformInfo)
	r.RegisterMonitor(monitors.UptimeID, monitors.NewUptime)
	r.RegisterMonitor(monitors.DockerPSID, monitors.NewDockerPS)

	r.RegisterCommand(commands.DockerImagePruneID, commands.NewDockerImagePrune)
	r.RegisterCommand(commands.RestartServiceID, commands.NewRestartService)
	r.RegisterCommand(commands.OpenTerminalID, commands.NewOpenTerminal)

	r.RegisterConnector(connectors.SSHSpecID, connectors.NewSSH)
	r.RegisterConnector(connectors.LocalSpecID, connectors.NewLocal)
	r.RegisterConnector(connectors.UnixSocketSpecID, connectors.NewUnixSocket)
	r.RegisterConnector(connectors.WinRMSpecID, connectors.NewWinRM)
	r.RegisterConnector(connectors.SNMPv2cSpecID, connectors.NewSNMPv2c)
	r.RegisterConnector(connectors.SNMPv3SpecID, connectors.NewSNMPv3)
}
