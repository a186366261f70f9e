package dispatch

import (
	"github.com/mattjoyce/hostdispatch/internal/config"
	"github.com/mattjoyce/hostdispatch/internal/probe"
	"github.com/mattjoyce/hostdispatch/internal/protocol"
	"github.com/mattjoyce/hostdispatch/internal/remote"
)

// OptionsFromConfig maps the config's probe, dependency and transport sections
// onto dispatcher options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Commands: probe.Commands{
			Runtime:         cfg.Runtime.ProbeCommand,
			Manager:         cfg.Dependency.Manager,
			DependencyCheck: cfg.Dependency.CheckCommand,
		},
		Package:  cfg.Dependency.Package,
		ForceSCP: cfg.Transport.ForceSCP,
	}
}

// TargetFor builds the dispatch target of a configured host. The returned
// close func releases the host's connection and must be called once.
func TargetFor(cfg *config.Config, h config.HostConf) (Target, func() error) {
	user := h.User
	if user == "" {
		user = cfg.Transport.User
	}
	keyPath := h.KeyPath
	if keyPath == "" {
		keyPath = cfg.Transport.KeyPath
	}

	var (
		exec    remote.Executor
		closeFn = func() error { return nil }
	)
	switch h.Connection {
	case config.ConnectionLocal:
		exec = remote.LocalExecutor{}
	default:
		ssh := &remote.SSHExecutor{
			Host:                        h.Address,
			Port:                        h.Port,
			User:                        user,
			KeyPath:                     keyPath,
			KnownHostsPath:              cfg.Transport.KnownHostsPath,
			InsecureSkipHostKeyChecking: cfg.Transport.InsecureSkipHostKey,
			ConnectTimeout:              cfg.Transport.ConnectTimeout,
		}
		exec = ssh
		closeFn = ssh.Close
	}

	return Target{
		Host: protocol.Host{
			Name:    h.Name,
			Address: h.Address,
			Port:    h.Port,
			User:    user,
		},
		DeclaredPlatform: h.Platform,
		Executor:         remote.WithTimeout(exec, cfg.Transport.CommandTimeout),
	}, closeFn
}
