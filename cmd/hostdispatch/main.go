package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Exit codes.
const (
	exitOK             = 0
	exitError          = 1
	exitDispatchFailed = 2
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return exitError
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "run":
		if hasHelpFlag(args) {
			printRunHelp()
			return exitOK
		}
		return runDispatch(args)
	case "serve":
		if hasHelpFlag(args) {
			printServeHelp()
			return exitOK
		}
		return runServe(args)
	case "config":
		return runConfigNoun(args)
	case "history":
		if hasHelpFlag(args) {
			printHistoryHelp()
			return exitOK
		}
		return runHistory(args)
	case "watch":
		if hasHelpFlag(args) {
			printWatchHelp()
			return exitOK
		}
		return runWatch(args)
	case "doctor": // alias
		return runConfigCheck(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return exitError
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return exitError
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return exitOK
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return exitOK
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return exitOK
		}
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return exitError
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitError
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: hostdispatch version [--json]")
		return exitError
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return exitError
		}
		fmt.Println(string(data))
		return exitOK
	}

	fmt.Printf("hostdispatch %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return exitOK
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, a := range args {
		if a == "--help" || a == "-h" {
			return true
		}
	}
	return false
}

func printUsage() {
	fmt.Print(`hostdispatch - capability-aware remote operation dispatcher

Usage:
  hostdispatch <command> [flags]

Commands:
  run <host|--all> <operation>   Dispatch transfer or inventory to hosts
  serve                          Run the HTTP API (dispatch, history, events)
  history <dispatch-id>          Show one recorded dispatch
  history --host <name>          Show recent dispatches for a host
  watch                          Live dashboard of a running server

Config Commands:
  config check      Validate config, hosts and variants
  config lock       Record the config's BLAKE3 checksum

General:
  version           Show version information
  help              Show this help message

Config is read from --config, $HOSTDISPATCH_CONFIG, ~/.config/hostdispatch,
/etc/hostdispatch or ./config.yaml, in that order.
`)
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: hostdispatch config <check|lock> [--config PATH]")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: hostdispatch config check [--config PATH] [--json]")
}

func printConfigLockHelp() {
	fmt.Println("Usage: hostdispatch config lock [--config PATH]")
}

func printRunHelp() {
	fmt.Print(`Usage: hostdispatch run [flags] <host|--all> <transfer|inventory>

Flags:
  --config PATH   Configuration file or directory
  --all           Dispatch to every configured host
  --arg k=v       Operation argument (repeatable)
  --workers N     Parallel hosts with --all (default: service.workers)

Exit status is 2 when any dispatch record is marked failed.
`)
}

func printServeHelp() {
	fmt.Println("Usage: hostdispatch serve [--config PATH]")
}

func printHistoryHelp() {
	fmt.Println("Usage: hostdispatch history [--config PATH] [--json] <dispatch-id> | --host NAME [--limit N]")
}

func printWatchHelp() {
	fmt.Print(`Usage: hostdispatch watch [flags]

Live dashboard of a running 'hostdispatch serve': server health, the latest
dispatch per host and the event stream.

Flags:
  --api-url URL    Server URL (default: http://localhost:8080)
  --api-key KEY    API key (default: $HOSTDISPATCH_API_KEY)
`)
}
