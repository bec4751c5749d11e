package smooth

import (
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type emitted struct {
	dy, dx float64
}

type recorder struct {
	mu     sync.Mutex
	frames []emitted
}

func (r *recorder) emit(dy, dx float64) {
	r.mu.Lock()
	r.frames = append(r.frames, emitted{dy, dx})
	r.mu.Unlock()
}

func (r *recorder) snapshot() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitted(nil), r.frames...)
}

// manualConfig uses a tick interval long enough that tests drive step()
// themselves without the background ticker interfering.
func manualConfig() Config {
	cfg := DefaultConfig()
	cfg.TickInterval = time.Hour
	return cfg
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for: %s", msg)
}

func TestImpulseAppliesGain(t *testing.T) {
	e := New(manualConfig(), nil, nil, testLogger())
	defer e.Stop()

	e.Impulse(10, -2)
	st := e.State()
	if !st.Active {
		t.Fatal("engine should be running after a non-zero impulse")
	}
	if st.VelocityY != 30 || st.VelocityX != -6 {
		t.Fatalf("velocity = (%v, %v), want (30, -6)", st.VelocityY, st.VelocityX)
	}

	// Accumulation is additive.
	e.Impulse(1, 0)
	if got := e.State().VelocityY; got != 33 {
		t.Fatalf("velocityY after second impulse = %v, want 33", got)
	}
}

func TestZeroImpulseStaysIdle(t *testing.T) {
	e := New(manualConfig(), nil, nil, testLogger())
	defer e.Stop()

	e.Impulse(0, 0)
	if e.State().Active {
		t.Fatal("zero impulse must not start the tick loop")
	}
}

func TestDecayRoundTrip(t *testing.T) {
	rec := &recorder{}
	e := New(manualConfig(), rec.emit, nil, testLogger())
	defer e.Stop()

	e.Impulse(10, 0)

	prev := e.State().VelocityY
	wantFrames := 0
	steps := 0
	for e.step() {
		steps++
		cur := e.State().VelocityY
		if math.Abs(cur-prev*0.92) > 1e-9 {
			t.Fatalf("step %d: velocity %v, want %v", steps, cur, prev*0.92)
		}
		if cur >= prev {
			t.Fatalf("step %d: velocity did not decrease (%v -> %v)", steps, prev, cur)
		}
		if math.Round(cur) != 0 {
			wantFrames++
		}
		prev = cur
		if steps > 1000 {
			t.Fatal("engine never went idle")
		}
	}

	st := e.State()
	if st.Active || st.VelocityX != 0 || st.VelocityY != 0 {
		t.Fatalf("expected idle zero state, got %+v", st)
	}
	if prev*0.92 >= 0.2 {
		t.Fatalf("went idle with velocity %v still above threshold", prev*0.92)
	}

	frames := rec.snapshot()
	if len(frames) != wantFrames {
		t.Fatalf("emitted %d frames, want %d", len(frames), wantFrames)
	}
	for i, f := range frames {
		if f.dy <= 0 || f.dx != 0 {
			t.Fatalf("frame %d = %+v, want positive dy only", i, f)
		}
	}

	// Further steps emit nothing.
	if e.step() {
		t.Fatal("idle engine must not step")
	}
	if len(rec.snapshot()) != wantFrames {
		t.Fatal("idle engine emitted a frame")
	}
}

func TestRoundingToZeroSkipsEmissionOnly(t *testing.T) {
	rec := &recorder{}
	e := New(manualConfig(), rec.emit, nil, testLogger())
	defer e.Stop()

	// 0.15 * 3 = 0.45; after friction 0.414, above threshold but rounds to 0.
	e.Impulse(0.15, 0)
	if !e.step() {
		t.Fatal("engine stopped while above threshold")
	}
	if n := len(rec.snapshot()); n != 0 {
		t.Fatalf("emitted %d frames for a zero-rounded tick", n)
	}
	if !e.State().Active {
		t.Fatal("engine must keep running after a skipped tick")
	}
}

func TestInvertFlipsEmittedDirection(t *testing.T) {
	rec := &recorder{}
	var invert atomic.Bool
	invert.Store(true)
	e := New(manualConfig(), rec.emit, invert.Load, testLogger())
	defer e.Stop()

	e.Impulse(10, -10)
	e.step()

	frames := rec.snapshot()
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].dy != -28 || frames[0].dx != 28 {
		t.Fatalf("frame = %+v, want dy=-28 dx=28", frames[0])
	}
}

func TestVelocityIsClamped(t *testing.T) {
	cfg := manualConfig()
	cfg.MaxVelocity = 100
	e := New(cfg, nil, nil, testLogger())
	defer e.Stop()

	for i := 0; i < 50; i++ {
		e.Impulse(1000, -1000)
	}
	st := e.State()
	if st.VelocityY != 100 || st.VelocityX != -100 {
		t.Fatalf("velocity = (%v, %v), want clamp at ±100", st.VelocityY, st.VelocityX)
	}
}

func TestObserverSeesTicks(t *testing.T) {
	e := New(manualConfig(), nil, nil, testLogger())
	defer e.Stop()

	var seen []State
	e.SetObserver(func(s State) { seen = append(seen, s) })

	e.Impulse(10, 0)
	e.step()
	if len(seen) != 1 || !seen[0].Active {
		t.Fatalf("observer saw %+v", seen)
	}
}

func TestTickerDrivesLoopUntilIdle(t *testing.T) {
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.TickInterval = time.Millisecond
	e := New(cfg, rec.emit, nil, testLogger())
	defer e.Stop()

	e.Impulse(5, 0)
	waitUntil(t, 2*time.Second, func() bool { return !e.State().Active }, "engine to go idle")

	if len(rec.snapshot()) == 0 {
		t.Fatal("running engine emitted nothing")
	}
}

func TestNoTickAfterStop(t *testing.T) {
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.TickInterval = time.Millisecond
	cfg.Friction = 0.9999
	e := New(cfg, rec.emit, nil, testLogger())

	e.Impulse(100, 0)
	waitUntil(t, time.Second, func() bool { return len(rec.snapshot()) > 0 }, "first frame")

	e.Stop()
	n := len(rec.snapshot())
	time.Sleep(20 * time.Millisecond)
	if got := len(rec.snapshot()); got != n {
		t.Fatalf("emitted %d frames after Stop", got-n)
	}

	e.Impulse(100, 0)
	if e.State().Active {
		t.Fatal("stopped engine accepted an impulse")
	}

	// Idempotent.
	e.Stop()
}

func TestResetKeepsEngineUsable(t *testing.T) {
	e := New(manualConfig(), nil, nil, testLogger())
	defer e.Stop()

	e.Impulse(10, 0)
	e.Reset()
	if e.State().Active {
		t.Fatal("reset engine still active")
	}
	e.Impulse(1, 0)
	if !e.State().Active {
		t.Fatal("engine should restart after Reset")
	}
}
