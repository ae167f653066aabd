package timesystem

import "testing"

// fakeClock is a manually-advanced [Clock] for deterministic tests.
type fakeClock struct {
	ts   int64
	freq int64
}

func (f *fakeClock) GetTimestamp() int64      { return f.ts }
func (f *fakeClock) TimestampFrequency() int64 { return f.freq }

func Test_Step_Accumulates_Total_Time_And_Frame_Count(t *testing.T) {
	s := New(nil)

	s.Step(0.016)
	s.Step(0.016)

	g := s.Global()
	if g.FrameCount != 2 {
		t.Fatalf("frameCount=%d, want 2", g.FrameCount)
	}

	if got, want := g.TotalTime, 0.032; got < want-1e-9 || got > want+1e-9 {
		t.Fatalf("totalTime=%v, want %v", got, want)
	}
}

func Test_Step_Sets_Unlimited_Budget(t *testing.T) {
	s := New(nil)
	s.Step(0.016)

	if !s.HasTimeRemaining(1e12) {
		t.Fatalf("deterministic step should report unlimited budget")
	}
}

func Test_Update_Computes_Delta_From_Previous_Timestamp(t *testing.T) {
	clk := &fakeClock{ts: 1000, freq: 1000} // 1000 ticks/sec
	s := New(clk)

	if err := s.Update(0); err != nil {
		t.Fatalf("first update: %v", err)
	}

	if got := s.Global().DeltaTime; got != 0 {
		t.Fatalf("first update dt=%v, want 0 (no previous timestamp)", got)
	}

	clk.ts = 1500 // +500 ticks = +0.5s at 1000 Hz

	if err := s.Update(0); err != nil {
		t.Fatalf("second update: %v", err)
	}

	if got, want := s.Global().DeltaTime, 0.5; got < want-1e-9 || got > want+1e-9 {
		t.Fatalf("dt=%v, want %v", got, want)
	}
}

func Test_Update_Rejects_Nil_Clock(t *testing.T) {
	s := New(nil)

	if err := s.Update(16); err == nil {
		t.Fatalf("expected error calling Update with nil clock")
	}
}

func Test_HasTimeRemaining_Honors_Explicit_Budget(t *testing.T) {
	clk := &fakeClock{ts: 0, freq: 1000}
	s := New(clk)

	if err := s.Update(10); err != nil { // 10ms budget
		t.Fatalf("update: %v", err)
	}

	if !s.HasTimeRemaining(5) {
		t.Fatalf("5ms should fit in a fresh 10ms budget")
	}

	clk.ts = 8 // 8ms elapsed

	if s.HasTimeRemaining(5) {
		t.Fatalf("8ms elapsed + 5ms needed should exceed 10ms budget")
	}
}
