// Package installer provisions the bridge dependency the alternate inventory
// variant needs, through the host's package manager.
//
// Order of operations:
//  1. dependency already usable: done, nothing else is run
//  2. no package manager: terminal failure
//  3. package unknown to the manager: best-effort cache refresh
//  4. install; a failed install is terminal and carries its output
package installer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mattjoyce/hostdispatch/internal/log"
	"github.com/mattjoyce/hostdispatch/internal/probe"
	"github.com/mattjoyce/hostdispatch/internal/remote"
)

var (
	ErrNoPackageManager = errors.New("no package manager available")
	ErrInstallFailed    = errors.New("install failed")
)

// Outcome is the result of one Ensure call.
type Outcome struct {
	OK      bool
	Message string
	Err     error // sentinel-wrapped cause when !OK
}

// RefreshResult records the best-effort cache refresh. It is logged and then
// discarded; it never changes the Outcome.
type RefreshResult struct {
	Attempted bool
	ExitCode  int
	Output    string
	Err       error
}

// Failed reports whether the refresh was attempted and did not succeed.
func (r RefreshResult) Failed() bool {
	return r.Attempted && (r.Err != nil || r.ExitCode != 0)
}

// Installer ensures one package on one host.
type Installer struct {
	exec   remote.Executor
	probe  *probe.Probe
	logger *slog.Logger
}

// New wires an installer to the host's executor and probe.
func New(exec remote.Executor, p *probe.Probe) *Installer {
	return &Installer{exec: exec, probe: p, logger: log.WithComponent("installer")}
}

// Ensure makes pkg usable on the host, installing it if needed.
func (i *Installer) Ensure(ctx context.Context, pkg string) Outcome {
	logger := i.logger.With("package", pkg)
	manager := i.probe.Commands().Manager

	present, err := i.probe.DependencyPresent(ctx)
	if err != nil {
		return failure(err, fmt.Sprintf("cannot check for %s: %v", pkg, err))
	}
	if present {
		logger.Debug("dependency already present")
		return Outcome{OK: true}
	}

	logger.Info("installing dependency")
	hasManager, err := i.probe.PackageManager(ctx)
	if err != nil {
		return failure(err, fmt.Sprintf("cannot check for %s: %v", manager, err))
	}
	if !hasManager {
		return failure(ErrNoPackageManager,
			fmt.Sprintf("%s: no %s binary found, cannot install %s", ErrNoPackageManager, manager, pkg))
	}

	available, err := i.probe.PackageAvailable(ctx, pkg)
	if err != nil {
		return failure(err, fmt.Sprintf("cannot query %s for %s: %v", manager, pkg, err))
	}
	if !available {
		logger.Info("package not found in cache, refreshing")
		refresh := i.refresh(ctx, manager)
		if refresh.Failed() {
			logger.Warn("cache refresh failed, installing anyway",
				"exit_code", refresh.ExitCode, "output", refresh.Output, "error", refresh.Err)
		}
	}

	cmdline := manager + " install " + probe.ShellQuote(pkg) + "||exit 1"
	res, err := i.exec.Exec(ctx, cmdline)
	if err != nil {
		return failure(fmt.Errorf("%w: %v", probe.ErrUnavailable, err),
			fmt.Sprintf("cannot install %s package: %v", pkg, err))
	}
	if !res.OK() {
		return failure(ErrInstallFailed,
			fmt.Sprintf("cannot install %s package:\n\tinstall failed with:\n%s", pkg, installOutput(res)))
	}

	logger.Info("dependency installed")
	return Outcome{OK: true}
}

// refresh runs the cache update. Its outcome is returned for logging only.
func (i *Installer) refresh(ctx context.Context, manager string) RefreshResult {
	res, err := i.exec.Exec(ctx, manager+" update")
	return RefreshResult{
		Attempted: true,
		ExitCode:  res.ExitCode,
		Output:    strings.TrimSpace(res.Stdout + res.Stderr),
		Err:       err,
	}
}

func failure(err error, msg string) Outcome {
	return Outcome{OK: false, Message: msg, Err: err}
}

func installOutput(res remote.Result) string {
	out := res.Stdout
	if strings.TrimSpace(res.Stderr) != "" {
		if out != "" && !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		out += res.Stderr
	}
	return out
}
