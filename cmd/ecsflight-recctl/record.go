package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	ecs "github.com/flightcore/ecsflight"
	"github.com/flightcore/ecsflight/internal/recorder"
	"github.com/flightcore/ecsflight/pkg/fs"
)

func runRecord(args []string) error {
	flagSet := flag.NewFlagSet("record", flag.ContinueOnError)
	ticks := flagSet.IntP("ticks", "n", 20, "number of ticks to simulate and record")
	entities := flagSet.IntP("entities", "e", 8, "number of entities to seed the world with")
	keyframeEvery := flagSet.IntP("keyframe-every", "k", 5, "emit a keyframe every N ticks (deltas otherwise)")
	seed := flagSet.Int64P("seed", "s", 1, "deterministic RNG seed for the demo simulation")
	configPath := flagSet.StringP("config", "c", "", "optional JSONC config file")

	flagSet.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: ecsflight-recctl record [flags] <recording-file>")
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

	path := flagSet.Arg(0)

	cfg := ecs.DefaultConfig()

	queueDepth := recorder.DefaultQueueDepth
	if *configPath != "" {
		fc, err := ecs.LoadFileConfig(*configPath)
		if err != nil {
			return err
		}

		cfg = fc.Apply(cfg)
		queueDepth = fc.QueueDepthOr(queueDepth)
	}

	repo, err := ecs.New(cfg)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	defer repo.Close()

	if err := registerDemoSchema(repo); err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(*seed))

	entityList, err := seedWorld(repo, rng, *entities)
	if err != nil {
		return err
	}

	rec, err := recorder.NewAsyncRecorder(path, recorder.RecorderConfig{
		QueueDepth: queueDepth,
		Paranoid:   cfg.ParanoidMode,
		Logf:       func(format string, a ...any) { fmt.Fprintf(os.Stderr, format+"\n", a...) },
	})
	if err != nil {
		return fmt.Errorf("open recorder: %w", err)
	}

	if err := rec.CaptureKeyframe(repo, true); err != nil {
		_ = rec.Dispose()
		return fmt.Errorf("capture initial keyframe: %w", err)
	}

	lastKeyframeTick := repo.GlobalVersion()

	for t := 1; t <= *ticks; t++ {
		repo.Tick()
		mutateWorld(repo, rng, entityList)

		if t%*keyframeEvery == 0 {
			if err := rec.CaptureKeyframe(repo, true); err != nil {
				_ = rec.Dispose()
				return fmt.Errorf("capture keyframe at tick %d: %w", t, err)
			}

			lastKeyframeTick = repo.GlobalVersion()
		} else {
			if err := rec.CaptureFrame(repo, uint64(lastKeyframeTick), true); err != nil {
				_ = rec.Dispose()
				return fmt.Errorf("capture delta at tick %d: %w", t, err)
			}
		}
	}

	if err := rec.Dispose(); err != nil {
		return fmt.Errorf("close recorder: %w", err)
	}

	snap := repo.Snapshot()
	fmt.Printf("recorded %d ticks to %s (active=%d global_version=%d dropped_frames=%d)\n",
		*ticks, path, snap.ActiveCount, snap.GlobalVersion, rec.Dropped())

	if err := writeManifest(path, *ticks, *keyframeEvery, *seed, snap, rec.Dropped()); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	return nil
}

// recordingManifest is a small sidecar summary written next to a
// recording: a cheap, atomically-written status snapshot beside an
// append-only log that a caller can read without scanning the whole
// log.
type recordingManifest struct {
	Ticks         int       `json:"ticks"`
	KeyframeEvery int       `json:"keyframe_every"`
	Seed          int64     `json:"seed"`
	DroppedFrames int       `json:"dropped_frames"`
	FinalSnapshot ecs.Stats `json:"final_snapshot"`
}

// writeManifest atomically writes path's manifest sidecar, grounded on
// internal/store/wal.go's `s.atomic.WriteWithDefaults` checkpoint-file
// pattern: write-to-temp, sync, rename over the destination.
func writeManifest(path string, ticks, keyframeEvery int, seed int64, snap ecs.Stats, dropped int) error {
	manifest := recordingManifest{
		Ticks:         ticks,
		KeyframeEvery: keyframeEvery,
		Seed:          seed,
		DroppedFrames: dropped,
		FinalSnapshot: snap,
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}

	writer := fs.NewAtomicWriter(fs.NewReal())

	return writer.WriteWithDefaults(path+".manifest.json", strings.NewReader(string(data)))
}

// mutateWorld applies one tick's worth of deterministic gameplay churn:
// nudge positions, damage health, and occasionally destroy an entity —
// exactly the kind of per-tick delta a flight recorder exists to
// capture cheaply instead of re-snapshotting the whole world.
func mutateWorld(repo *ecs.Repo, rng *rand.Rand, entities []ecs.Entity) {
	for _, e := range entities {
		if !repo.IsAlive(e) {
			continue
		}

		if pos, err := ecs.GetRW[Position](repo, e); err == nil {
			pos.X += float32(rng.Intn(3) - 1)
			pos.Y += float32(rng.Intn(3) - 1)
		}

		if hp, err := ecs.GetRW[Health](repo, e); err == nil {
			hp.HP -= int32(rng.Intn(2))

			if hp.HP <= 0 {
				_ = repo.DestroyEntity(e)
			}
		}
	}
}
