package main

import (
	"fmt"
	"os"
	"strconv"

	flag "github.com/spf13/pflag"

	ecs "github.com/flightcore/ecsflight"
	"github.com/flightcore/ecsflight/internal/recorder"
	"github.com/flightcore/ecsflight/pkg/fs"
)

func runSeek(args []string) error {
	flagSet := flag.NewFlagSet("seek", flag.ContinueOnError)
	verbose := flagSet.BoolP("verbose", "v", false, "print the repository snapshot after seeking")

	flagSet.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: ecsflight-recctl seek [flags] <recording-file> <tick>")
		fmt.Fprintln(os.Stderr)
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		return err
	}

	if flagSet.NArg() < 2 {
		flagSet.Usage()
		return fmt.Errorf("missing recording file path and/or target tick")
	}

	path := flagSet.Arg(0)

	target, err := strconv.ParseUint(flagSet.Arg(1), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid tick %q: %w", flagSet.Arg(1), err)
	}

	repo, err := ecs.New(ecs.DefaultConfig())
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	defer repo.Close()

	if err := registerDemoSchema(repo); err != nil {
		return err
	}

	ctrl, err := recorder.NewPlaybackController(path, fs.NewReal())
	if err != nil {
		return fmt.Errorf("index recording %q: %w", path, err)
	}

	if err := ctrl.SeekToTick(repo, target); err != nil {
		return fmt.Errorf("seek to tick %d: %w", target, err)
	}

	snap := repo.Snapshot()

	if *verbose {
		fmt.Printf("phase=%s columns=%d\n", snap.Phase, len(snap.Columns))

		for _, col := range snap.Columns {
			fmt.Printf("  type=%d chunks=%d managed=%v\n", col.TypeID, col.NumChunks, col.Managed)
		}
	}

	fmt.Printf("seeked %s to tick %d (active=%d global_version=%d)\n", path, target, snap.ActiveCount, snap.GlobalVersion)

	return nil
}
