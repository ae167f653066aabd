package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/peterh/liner"

	ecs "github.com/flightcore/ecsflight"
	"github.com/flightcore/ecsflight/internal/recorder"
	"github.com/flightcore/ecsflight/pkg/fs"
)

// inspectREPL is an interactive, line-edited session for stepping
// through a recording one frame at a time.
type inspectREPL struct {
	path  string
	repo  *ecs.Repo
	rd    *recorder.Reader
	liner *liner.State
	steps int
}

func runInspect(args []string) error {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: ecsflight-recctl inspect <recording-file>")
		return fmt.Errorf("missing recording file path")
	}

	r := &inspectREPL{path: args[0]}
	if err := r.reload(); err != nil {
		return err
	}
	defer r.repo.Close()
	defer r.rd.Close()

	return r.run()
}

// reload rebuilds the working repository and reopens the recording
// from the start, discarding any in-progress stepping or prior seek.
func (r *inspectREPL) reload() error {
	if r.rd != nil {
		_ = r.rd.Close()
	}

	if r.repo != nil {
		_ = r.repo.Close()
	}

	repo, err := ecs.New(ecs.DefaultConfig())
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}

	if err := registerDemoSchema(repo); err != nil {
		return err
	}

	rd, err := recorder.NewReader(r.path, fs.NewReal())
	if err != nil {
		return fmt.Errorf("open recording %q: %w", r.path, err)
	}

	r.repo = repo
	r.rd = rd
	r.steps = 0

	return nil
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".ecsflight-recctl_history")
}

func (r *inspectREPL) run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("ecsflight-recctl inspect — %s\n", r.path)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("recctl> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")
				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		cmdArgs := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()

			return nil
		case "help", "?":
			r.printHelp()
		case "step", "s", "next", "n":
			r.cmdStep(cmdArgs)
		case "run":
			r.cmdRun(cmdArgs)
		case "info", "i":
			r.cmdInfo()
		case "seek":
			r.cmdSeek(cmdArgs)
		case "reload":
			if err := r.reload(); err != nil {
				fmt.Println("error:", err)
			} else {
				fmt.Println("reloaded from the start")
			}
		default:
			fmt.Printf("unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

func (r *inspectREPL) saveHistory() {
	path := historyFile()
	if path == "" {
		return
	}

	var buf bytes.Buffer
	if _, err := r.liner.WriteHistory(&buf); err != nil {
		return
	}

	_ = atomic.WriteFile(path, &buf)
}

func (r *inspectREPL) completer(line string) []string {
	commands := []string{"step", "next", "run", "info", "seek", "reload", "help", "exit", "quit", "q"}

	var out []string

	lower := strings.ToLower(line)
	for _, c := range commands {
		if strings.HasPrefix(c, lower) {
			out = append(out, c)
		}
	}

	return out
}

func (r *inspectREPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  step, next           Apply the next frame")
	fmt.Println("  run <n>              Apply up to n frames (stops at EOF/error)")
	fmt.Println("  info                 Show the current repository snapshot")
	fmt.Println("  seek <tick>          Jump directly to a tick via the frame directory")
	fmt.Println("                       (resets sequential stepping — use 'reload' to resume it)")
	fmt.Println("  reload               Rebuild the repository and rewind to frame 0")
	fmt.Println("  help                 Show this help")
	fmt.Println("  exit / quit / q      Exit")
}

func (r *inspectREPL) cmdStep(_ []string) {
	system := recorder.PlaybackSystem{}

	ok, err := system.ApplyFrame(r.repo, r.rd)
	if err != nil {
		fmt.Println("error applying frame:", err)
		return
	}

	if !ok {
		fmt.Println("end of recording")
		return
	}

	r.steps++

	snap := r.repo.Snapshot()
	fmt.Printf("frame %d applied: active=%d global_version=%d phase=%s\n", r.steps, snap.ActiveCount, snap.GlobalVersion, snap.Phase)
}

func (r *inspectREPL) cmdRun(args []string) {
	n := 1

	if len(args) > 0 {
		if parsed, err := strconv.Atoi(args[0]); err == nil && parsed > 0 {
			n = parsed
		}
	}

	system := recorder.PlaybackSystem{}

	for i := 0; i < n; i++ {
		ok, err := system.ApplyFrame(r.repo, r.rd)
		if err != nil {
			fmt.Println("error applying frame:", err)
			return
		}

		if !ok {
			fmt.Println("end of recording")
			break
		}

		r.steps++
	}

	snap := r.repo.Snapshot()
	fmt.Printf("applied through frame %d: active=%d global_version=%d phase=%s\n", r.steps, snap.ActiveCount, snap.GlobalVersion, snap.Phase)
}

func (r *inspectREPL) cmdInfo() {
	snap := r.repo.Snapshot()
	fmt.Printf("frames applied: %d\n", r.steps)
	fmt.Printf("active=%d global_version=%d phase=%s\n", snap.ActiveCount, snap.GlobalVersion, snap.Phase)

	for _, col := range snap.Columns {
		fmt.Printf("  column type=%d chunks=%d managed=%v\n", col.TypeID, col.NumChunks, col.Managed)
	}
}

func (r *inspectREPL) cmdSeek(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: seek <tick>")
		return
	}

	target, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Println("invalid tick:", err)
		return
	}

	ctrl, err := recorder.NewPlaybackController(r.path, fs.NewReal())
	if err != nil {
		fmt.Println("error indexing recording:", err)
		return
	}

	if err := ctrl.SeekToTick(r.repo, target); err != nil {
		fmt.Println("error seeking:", err)
		return
	}

	fmt.Println("sequential stepping is now out of sync with this seek; run 'reload' before using step/run again")

	snap := r.repo.Snapshot()
	fmt.Printf("seeked to tick %d: active=%d global_version=%d\n", target, snap.ActiveCount, snap.GlobalVersion)
}
