// ecsflight-recctl is a thin driver over the flight recorder package:
// it runs a small deterministic demo simulation and records it, replays
// or seeks within an existing recording, and lets you step through one
// interactively. It exists so the record/replay/seek pipeline has a
// runnable harness, the same role cmd/tk plays for pkg/slotcache.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		printUsage()
		return fmt.Errorf("missing command")
	}

	cmd, rest := args[0], args[1:]

	switch cmd {
	case "record":
		return runRecord(rest)
	case "replay":
		return runReplay(rest)
	case "seek":
		return runSeek(rest)
	case "inspect":
		return runInspect(rest)
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  ecsflight-recctl record [flags] <recording-file>   Simulate and record a demo world")
	fmt.Fprintln(os.Stderr, "  ecsflight-recctl replay [flags] <recording-file>   Replay a recording frame-by-frame")
	fmt.Fprintln(os.Stderr, "  ecsflight-recctl seek [flags] <recording-file> <tick>   Jump directly to a tick")
	fmt.Fprintln(os.Stderr, "  ecsflight-recctl inspect <recording-file>          Interactive frame-by-frame REPL")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Run 'ecsflight-recctl <command> --help' for flags.")
}
