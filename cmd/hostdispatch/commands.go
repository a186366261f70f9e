package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/hostdispatch/internal/api"
	"github.com/mattjoyce/hostdispatch/internal/config"
	"github.com/mattjoyce/hostdispatch/internal/dispatch"
	"github.com/mattjoyce/hostdispatch/internal/doctor"
	"github.com/mattjoyce/hostdispatch/internal/events"
	"github.com/mattjoyce/hostdispatch/internal/history"
	"github.com/mattjoyce/hostdispatch/internal/inspect"
	"github.com/mattjoyce/hostdispatch/internal/lock"
	"github.com/mattjoyce/hostdispatch/internal/log"
	"github.com/mattjoyce/hostdispatch/internal/operation"
	"github.com/mattjoyce/hostdispatch/internal/storage"
	"github.com/mattjoyce/hostdispatch/internal/tui/watch"
	"github.com/mattjoyce/hostdispatch/internal/variant"
)

// argList collects repeated --arg k=v flags.
type argList map[string]any

func (a argList) String() string {
	parts := make([]string, 0, len(a))
	for k, v := range a {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ",")
}

// Set parses k=v. Values that are valid JSON scalars (true, 3, "x") are decoded;
// anything else is kept as a string.
func (a argList) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	k = strings.TrimSpace(k)
	if !ok || k == "" {
		return fmt.Errorf("argument %q must be key=value", s)
	}
	var decoded any
	if err := json.Unmarshal([]byte(v), &decoded); err == nil {
		switch decoded.(type) {
		case map[string]any, []any:
			a[k] = v
		default:
			a[k] = decoded
		}
		return nil
	}
	a[k] = v
	return nil
}

func resolveConfigPath(p string) (string, error) {
	if p != "" {
		return p, nil
	}
	discovered, err := config.Discover()
	if err != nil {
		return "", fmt.Errorf("failed to discover config: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", discovered)
	return discovered, nil
}

func loadConfig(configPath string) (*config.Config, error) {
	p, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(p)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func slogAdapter(logger *slog.Logger) func(level, msg string, args ...any) {
	return func(level, msg string, args ...any) {
		switch level {
		case "debug":
			logger.Debug(msg, args...)
		case "warn":
			logger.Warn(msg, args...)
		case "error":
			logger.Error(msg, args...)
		default:
			logger.Info(msg, args...)
		}
	}
}

func discoverVariants(cfg *config.Config, logger *slog.Logger) (*variant.Table, error) {
	table, err := variant.Discover(cfg.VariantsDir, cfg.Transport.VariantTimeout, slogAdapter(logger))
	if err != nil {
		return nil, fmt.Errorf("variant discovery failed: %w", err)
	}
	return table, nil
}

// openHistory opens the history store. The returned close func is never nil.
func openHistory(ctx context.Context, cfg *config.Config) (*history.Store, func(), error) {
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, func() {}, err
	}
	return history.NewStore(db), func() { _ = db.Close() }, nil
}

func runDispatch(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	all := fs.Bool("all", false, "Dispatch to every configured host")
	workers := fs.Int("workers", 0, "Parallel hosts with --all")
	opArgs := argList{}
	fs.Var(opArgs, "arg", "Operation argument key=value (repeatable)")

	positional, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitError
	}

	var hostName, opName string
	switch {
	case *all && len(positional) == 1:
		opName = positional[0]
	case !*all && len(positional) == 2:
		hostName, opName = positional[0], positional[1]
	default:
		printRunHelp()
		return exitError
	}
	kind, err := operation.ParseKind(opName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	// Records go to stdout; logs stay on stderr.
	log.SetupWriter(os.Stderr, cfg.Service.LogLevel)
	logger := log.WithComponent("main")

	var hosts []config.HostConf
	if *all {
		hosts = cfg.Hosts
	} else {
		h, ok := cfg.Host(hostName)
		if !ok {
			fmt.Fprintf(os.Stderr, "Unknown host: %s\n", hostName)
			return exitError
		}
		hosts = []config.HostConf{h}
	}
	if len(hosts) == 0 {
		fmt.Fprintln(os.Stderr, "No hosts configured")
		return exitError
	}

	table, err := discoverVariants(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := dispatch.OptionsFromConfig(cfg)
	store, closeStore, err := openHistory(ctx, cfg)
	if err != nil {
		logger.Warn("dispatch history disabled", "path", cfg.State.Path, "error", err)
	} else {
		opts.History = store
	}
	defer closeStore()
	d := dispatch.New(table, opts)

	targets := make([]dispatch.Target, 0, len(hosts))
	closers := make([]func() error, 0, len(hosts))
	defer func() {
		for _, c := range closers {
			_ = c()
		}
	}()
	for _, h := range hosts {
		t, closeFn := dispatch.TargetFor(cfg, h)
		targets = append(targets, t)
		closers = append(closers, closeFn)
	}

	n := *workers
	if n <= 0 {
		n = cfg.Service.Workers
	}
	results := d.RunAll(ctx, targets, operation.Request{Kind: kind, Args: opArgs}, n)

	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render results: %v\n", err)
		return exitError
	}
	fmt.Println(string(out))

	for _, r := range results {
		if r.Record.Failed() {
			return exitDispatchFailed
		}
	}
	return exitOK
}

// parseInterspersed lets flags follow positional arguments, which the flag
// package stops at.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if len(rest) == 0 {
			return positional, nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitError
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("hostdispatch starting", "version", version, "hosts", len(cfg.Hosts))

	if !cfg.API.Enabled {
		logger.Error("api.enabled is false; nothing to serve")
		return exitError
	}

	pidLockPath := filepath.Join(filepath.Dir(cfg.State.Path), "hostdispatch.lock")
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return exitError
	}
	defer func() { _ = pidLock.Release() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openHistory(ctx, cfg)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return exitError
	}
	defer closeStore()

	table, err := discoverVariants(cfg, logger)
	if err != nil {
		logger.Error("variant discovery failed", "variants_dir", cfg.VariantsDir, "error", err)
		return exitError
	}
	if missing := table.Missing(); len(missing) > 0 {
		logger.Warn("variants missing; dispatches selecting them will fail", "missing", missing)
	}

	hub := events.NewHub(256)
	opts := dispatch.OptionsFromConfig(cfg)
	opts.History = store
	opts.Events = hub
	d := dispatch.New(table, opts)

	resolve := func(name string) (dispatch.Target, func() error, bool) {
		h, ok := cfg.Host(name)
		if !ok {
			return dispatch.Target{}, nil, false
		}
		t, closeFn := dispatch.TargetFor(cfg, h)
		return t, closeFn, true
	}

	server := api.New(api.Config{
		Listen:                cfg.API.Listen,
		APIKey:                cfg.API.APIKey,
		MaxConcurrentDispatch: cfg.Service.Workers,
		HostCount:             len(cfg.Hosts),
	}, d, resolve, store, hub, log.WithComponent("api"))

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("api server failed", "error", err)
		return exitError
	}
	logger.Info("hostdispatch stopped")
	return exitOK
}

func runHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	hostName := fs.String("host", "", "List recent dispatches for this host")
	limit := fs.Int("limit", 20, "Maximum entries with --host")
	jsonOut := fs.Bool("json", false, "Output as JSON")

	positional, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitError
	}
	if (*hostName == "") == (len(positional) == 0) || len(positional) > 1 {
		printHistoryHelp()
		return exitError
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	log.SetupWriter(os.Stderr, cfg.Service.LogLevel)

	ctx := context.Background()
	store, closeStore, err := openHistory(ctx, cfg)
	defer closeStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open history: %v\n", err)
		return exitError
	}

	var (
		out   any
		human string
	)
	if *hostName != "" {
		entries, err := store.ListByHost(ctx, *hostName, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list history: %v\n", err)
			return exitError
		}
		if entries == nil {
			entries = []history.Entry{}
		}
		out, human = entries, inspect.BuildHostTable(entries)
	} else {
		entry, err := store.Get(ctx, positional[0])
		if errors.Is(err, history.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Dispatch not found: %s\n", positional[0])
			return exitError
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read history: %v\n", err)
			return exitError
		}
		out, human = entry, inspect.BuildReport(*entry)
	}

	if !*jsonOut {
		fmt.Print(human)
		return exitOK
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render history: %v\n", err)
		return exitError
	}
	fmt.Println(string(data))
	return exitOK
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output report as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitError
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	log.SetupWriter(os.Stderr, cfg.Service.LogLevel)

	// A failed discovery still gets a report: every variant shows as missing.
	table, err := discoverVariants(cfg, log.WithComponent("doctor"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	report := doctor.New(cfg, table).Validate()
	if *jsonOut {
		out, err := doctor.FormatJSON(report)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render report: %v\n", err)
			return exitError
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(report))
	}

	if !report.Valid {
		return exitError
	}
	return exitOK
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitError
	}

	p, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}

	// The file must parse before it is authorized.
	abs, err := config.ResolvePath(p)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
		return exitError
	}
	if _, err := config.Parse(data, filepath.Dir(abs)); err != nil {
		fmt.Fprintf(os.Stderr, "Refusing to lock: %v\n", err)
		return exitError
	}

	sumPath, err := config.Lock(abs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return exitError
	}
	fmt.Printf("Locked %s -> %s\n", abs, sumPath)
	return exitOK
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Server URL")
	apiKey := fs.String("api-key", os.Getenv("HOSTDISPATCH_API_KEY"), "API key")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitError
	}
	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or HOSTDISPATCH_API_KEY.")
		return exitError
	}

	p := tea.NewProgram(watch.New(strings.TrimRight(*apiURL, "/"), *apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return exitError
	}
	return exitOK
}
