// Package probe asks a managed host what it can do. Every probe is a read-only
// remote command; none of them change host state.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mattjoyce/hostdispatch/internal/log"
	"github.com/mattjoyce/hostdispatch/internal/remote"
)

// ErrUnavailable means the probe command could not run at all, as opposed to
// running and reporting absence.
var ErrUnavailable = errors.New("probe: host unavailable")

// Commands are the command lines the probes issue.
type Commands struct {
	Runtime         string // e.g. "python -V"
	Manager         string // package manager binary, e.g. "opkg"
	DependencyCheck string // e.g. `lua -e "require('json')"`
}

// DefaultCommands targets OpenWRT hosts with opkg and the lua JSON bridge.
func DefaultCommands() Commands {
	return Commands{
		Runtime:         "python -V",
		Manager:         "opkg",
		DependencyCheck: `lua -e "require('json')"`,
	}
}

// Probe runs capability checks against one host.
type Probe struct {
	exec   remote.Executor
	cmds   Commands
	logger *slog.Logger
}

// New creates a Probe. Empty command fields fall back to DefaultCommands.
func New(exec remote.Executor, cmds Commands) *Probe {
	def := DefaultCommands()
	if strings.TrimSpace(cmds.Runtime) == "" {
		cmds.Runtime = def.Runtime
	}
	if strings.TrimSpace(cmds.Manager) == "" {
		cmds.Manager = def.Manager
	}
	if strings.TrimSpace(cmds.DependencyCheck) == "" {
		cmds.DependencyCheck = def.DependencyCheck
	}
	return &Probe{exec: exec, cmds: cmds, logger: log.WithComponent("probe")}
}

// Commands returns the effective command set.
func (p *Probe) Commands() Commands { return p.cmds }

// Runtime reports whether the primary scripting runtime answers its version flag.
func (p *Probe) Runtime(ctx context.Context) (bool, error) {
	return p.exitsZero(ctx, "runtime", p.cmds.Runtime)
}

// PackageManager reports whether the package-manager binary is present.
func (p *Probe) PackageManager(ctx context.Context) (bool, error) {
	return p.exitsZero(ctx, "package_manager", p.cmds.Manager+" --version")
}

// DependencyPresent reports whether the bridge dependency is already usable.
func (p *Probe) DependencyPresent(ctx context.Context) (bool, error) {
	return p.exitsZero(ctx, "dependency", p.cmds.DependencyCheck)
}

// PackageAvailable reports whether the package manager's find lists name.
// An empty listing means the metadata cache does not know the package.
func (p *Probe) PackageAvailable(ctx context.Context, name string) (bool, error) {
	res, err := p.run(ctx, "package_available", p.cmds.Manager+" find "+ShellQuote(name))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(res.Stdout) != "", nil
}

func (p *Probe) exitsZero(ctx context.Context, what, cmdline string) (bool, error) {
	res, err := p.run(ctx, what, cmdline)
	if err != nil {
		return false, err
	}
	return res.OK(), nil
}

func (p *Probe) run(ctx context.Context, what, cmdline string) (remote.Result, error) {
	res, err := p.exec.Exec(ctx, cmdline)
	if err != nil {
		p.logger.Warn("probe could not run", "probe", what, "cmd", cmdline, "error", err)
		return remote.Result{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, what, err)
	}
	p.logger.Debug("probe ran", "probe", what, "cmd", cmdline, "exit_code", res.ExitCode)
	return res, nil
}

// ShellQuote single-quotes value for a POSIX shell.
func ShellQuote(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}
