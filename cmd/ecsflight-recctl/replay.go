package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	ecs "github.com/flightcore/ecsflight"
	"github.com/flightcore/ecsflight/internal/recorder"
	"github.com/flightcore/ecsflight/pkg/fs"
)

func runReplay(args []string) error {
	flagSet := flag.NewFlagSet("replay", flag.ContinueOnError)
	verbose := flagSet.BoolP("verbose", "v", false, "print a snapshot line after every applied frame")

	flagSet.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: ecsflight-recctl replay [flags] <recording-file>")
		fmt.Fprintln(os.Stderr)
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		return err
	}

	if flagSet.NArg() < 1 {
		flagSet.Usage()
		return fmt.Errorf("missing recording file path")
	}

	return replayInto(flagSet.Arg(0), *verbose)
}

// replayInto applies every frame of path onto a freshly built demo
// repository, in order, reporting how far it got.
func replayInto(path string, verbose bool) error {
	repo, err := ecs.New(ecs.DefaultConfig())
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	defer repo.Close()

	if err := registerDemoSchema(repo); err != nil {
		return err
	}

	rd, err := recorder.NewReader(path, fs.NewReal())
	if err != nil {
		return fmt.Errorf("open recording %q: %w", path, err)
	}
	defer rd.Close()

	system := recorder.PlaybackSystem{}

	applied := 0

	for {
		ok, err := system.ApplyFrame(repo, rd)
		if err != nil {
			return fmt.Errorf("apply frame %d: %w", applied, err)
		}

		if !ok {
			break
		}

		applied++

		if verbose {
			snap := repo.Snapshot()
			fmt.Printf("frame %d: active=%d global_version=%d phase=%s\n",
				applied, snap.ActiveCount, snap.GlobalVersion, snap.Phase)
		}
	}

	snap := repo.Snapshot()
	fmt.Printf("replayed %d frames from %s (active=%d global_version=%d)\n", applied, path, snap.ActiveCount, snap.GlobalVersion)

	return nil
}
