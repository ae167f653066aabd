// Package timesystem implements the deterministic/real-time frame
// clock: a singleton GlobalTime plus a per-frame
// budget, driven either by explicit `step(dt)` calls (deterministic
// simulation and tests) or by `update(budget_ms)` against a real or
// fake [Clock].
package timesystem

import "fmt"

// GlobalTime is the singleton written by every [System] tick.
type GlobalTime struct {
	DeltaTime  float64
	TotalTime  float64
	FrameCount uint64
}

// Clock abstracts a timestamp source so tests can drive time
// deterministically without touching the real clock.
type Clock interface {
	GetTimestamp() int64
	TimestampFrequency() int64
}

// System owns the [GlobalTime] singleton and the current frame's
// remaining budget.
type System struct {
	clock Clock

	global GlobalTime

	haveLastTimestamp bool
	lastTimestamp     int64

	frameStart   int64
	budgetMillis float64
}

// New creates a time system. clock may be nil; it is only consulted by
// [System.Update], never by [System.Step].
func New(clock Clock) *System {
	return &System{clock: clock}
}

// Global returns the current singleton value.
func (s *System) Global() GlobalTime { return s.global }

// Step advances time deterministically by dt: `total += dt;
// frame_count += 1; budget = infinity`.
func (s *System) Step(dt float64) {
	s.global.DeltaTime = dt
	s.global.TotalTime += dt
	s.global.FrameCount++
	s.budgetMillis = posInf
}

const posInf = 1<<63 - 1 // treated as "no budget limit" in millis terms

// Update advances time using the real (or fake) clock: dt is computed
// from the previous timestamp, the singleton is written, and the local
// budget is reset to budgetMS (0 meaning "no explicit budget", treated
// like Step's infinite budget).
func (s *System) Update(budgetMS float64) error {
	if s.clock == nil {
		return fmt.Errorf("timesystem: Update called with nil clock")
	}

	freq := s.clock.TimestampFrequency()
	if freq <= 0 {
		return fmt.Errorf("timesystem: non-positive timestamp frequency %d", freq)
	}

	now := s.clock.GetTimestamp()

	var dt float64
	if s.haveLastTimestamp {
		dt = float64(now-s.lastTimestamp) / float64(freq)
	}

	s.lastTimestamp = now
	s.haveLastTimestamp = true
	s.frameStart = now

	s.global.DeltaTime = dt
	s.global.TotalTime += dt
	s.global.FrameCount++

	if budgetMS <= 0 {
		s.budgetMillis = posInf
	} else {
		s.budgetMillis = budgetMS
	}

	return nil
}

// HasTimeRemaining reports whether neededMS more milliseconds of work
// still fit in the current frame's budget: `clock.now() - frame_start +
// needed_ms <= budget`.
func (s *System) HasTimeRemaining(neededMS float64) bool {
	if s.budgetMillis == posInf {
		return true
	}

	if s.clock == nil {
		return true
	}

	freq := s.clock.TimestampFrequency()
	if freq <= 0 {
		return true
	}

	elapsedMS := float64(s.clock.GetTimestamp()-s.frameStart) / float64(freq) * 1000

	return elapsedMS+neededMS <= s.budgetMillis
}
