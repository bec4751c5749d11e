package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mousebrainz/internal/dispatch"
	"mousebrainz/internal/input"
	"mousebrainz/internal/profile"
	"mousebrainz/internal/tap"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeHook struct {
	mu      sync.Mutex
	deliver tap.DeliverFunc
	closed  bool
}

func (h *fakeHook) Install(d tap.DeliverFunc) error {
	h.mu.Lock()
	h.deliver = d
	h.mu.Unlock()
	return nil
}

func (h *fakeHook) Enable() error { return nil }

func (h *fakeHook) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

func (h *fakeHook) send(ev tap.Event) (tap.Event, bool) {
	h.mu.Lock()
	d := h.deliver
	h.mu.Unlock()
	return d(ev)
}

type fakePoster struct {
	mu   sync.Mutex
	keys []uint16
}

func (p *fakePoster) PostKey(code uint16, _ input.Modifiers) error {
	p.mu.Lock()
	p.keys = append(p.keys, code)
	p.mu.Unlock()
	return nil
}

func (p *fakePoster) PostScroll(float64, float64, int64) error { return nil }

func (p *fakePoster) keyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

type fakeBackend struct {
	authorized atomic.Bool
	poster     *fakePoster

	mu    sync.Mutex
	hooks []*fakeHook
}

func newFakeBackend(authorized bool) *fakeBackend {
	b := &fakeBackend{poster: &fakePoster{}}
	b.authorized.Store(authorized)
	return b
}

func (b *fakeBackend) Authorized(bool) bool { return b.authorized.Load() }

func (b *fakeBackend) Output() (dispatch.Poster, error) { return b.poster, nil }

func (b *fakeBackend) NewHook() (tap.Hook, error) {
	h := &fakeHook{}
	b.mu.Lock()
	b.hooks = append(b.hooks, h)
	b.mu.Unlock()
	return h, nil
}

func (b *fakeBackend) lastHook() *fakeHook {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.hooks) == 0 {
		return nil
	}
	return b.hooks[len(b.hooks)-1]
}

func newTestEngine(t *testing.T, b *fakeBackend, status *StatusEvents) (*Engine, *profile.Store) {
	t.Helper()
	store := profile.NewStore("", testLogger())
	cfg := dispatch.DefaultConfig()
	cfg.Smooth.TickInterval = time.Hour
	e := NewEngine(b, store, nil, cfg, status, testLogger())
	t.Cleanup(func() { _ = e.Stop() })
	return e, store
}

func backRule() input.Rule {
	return input.Rule{
		ID:      "back",
		Trigger: input.Trigger{Kind: input.KindBack},
		Action:  input.Navigation{Direction: input.DirectionBack},
		Enabled: true,
	}
}

func TestEngineStartRequiresAuthorization(t *testing.T) {
	b := newFakeBackend(false)
	e, _ := newTestEngine(t, b, nil)

	err := e.Start()
	if !errors.Is(err, tap.ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
	if e.Running() || b.lastHook() != nil {
		t.Fatal("engine started without authorization")
	}
	if e.Status().Authorized {
		t.Fatal("status reports authorized")
	}
}

func TestEngineStartDispatchesRules(t *testing.T) {
	b := newFakeBackend(true)
	e, store := newTestEngine(t, b, nil)
	if _, err := store.AddRule(backRule()); err != nil {
		t.Fatal(err)
	}

	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	if !e.Running() {
		t.Fatal("not running after Start")
	}
	if err := e.Start(); !errors.Is(err, ErrEngineRunning) {
		t.Fatalf("second Start: %v", err)
	}

	if _, ok := b.lastHook().send(tap.Event{Type: tap.EventButtonDown, Button: 3}); ok {
		t.Fatal("matched back button was not consumed")
	}
	if b.poster.keyCount() != 1 {
		t.Fatal("navigation chord not posted")
	}

	st := e.Status()
	if !st.Running || !st.Authorized || st.RuleCount != 1 || st.Handlers != 1 {
		t.Fatalf("status = %+v", st)
	}
}

func TestEngineStopAndResume(t *testing.T) {
	b := newFakeBackend(true)
	e, store := newTestEngine(t, b, nil)
	if _, err := store.AddRule(backRule()); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	first := b.lastHook()

	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
	if e.Running() {
		t.Fatal("running after Stop")
	}
	if err := e.Stop(); !errors.Is(err, ErrEngineStopped) {
		t.Fatalf("second Stop: %v", err)
	}
	if n := e.Status().Handlers; n != 0 {
		t.Fatalf("%d handlers left after Stop", n)
	}
	first.mu.Lock()
	closed := first.closed
	first.mu.Unlock()
	if !closed {
		t.Fatal("hook not closed on Stop")
	}

	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	second := b.lastHook()
	if second == first {
		t.Fatal("resume reused the old hook")
	}
	if _, ok := second.send(tap.Event{Type: tap.EventButtonDown, Button: 3}); ok {
		t.Fatal("rule not active after resume")
	}
	// Exactly one handler: no duplicates left from the first run.
	if b.poster.keyCount() != 1 {
		t.Fatalf("keys = %d, want 1", b.poster.keyCount())
	}
}

func TestDisablingSmoothingEndsGlide(t *testing.T) {
	b := newFakeBackend(true)
	e, store := newTestEngine(t, b, nil)
	on, off := true, false
	if _, err := store.SetToggles(nil, &on); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}

	if _, ok := b.lastHook().send(tap.Event{Type: tap.EventScroll, DeltaY: 4}); ok {
		t.Fatal("smoothed scroll was not consumed")
	}
	if st := e.Status(); st.VelocityY == 0 {
		t.Fatalf("no velocity after impulse: %+v", st)
	}

	if _, err := store.SetToggles(nil, &off); err != nil {
		t.Fatal(err)
	}
	if st := e.Status(); st.VelocityY != 0 || st.VelocityX != 0 {
		t.Fatalf("glide survived disabling smoothing: %+v", st)
	}

	// Scroll now passes straight through.
	out, ok := b.lastHook().send(tap.Event{Type: tap.EventScroll, DeltaY: 4})
	if !ok || out.DeltaY != 4 {
		t.Fatalf("scroll after disabling = %+v, %v", out, ok)
	}
}

func TestEngineRunWaitsForAuthorization(t *testing.T) {
	b := newFakeBackend(false)
	status := NewStatusEvents(16, testLogger())
	e, _ := newTestEngine(t, b, status)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, 5*time.Millisecond) }()

	time.Sleep(30 * time.Millisecond)
	if e.Running() {
		t.Fatal("engine started before authorization")
	}

	b.authorized.Store(true)
	waitUntil(t, time.Second, e.Running, "engine to start after authorization")

	select {
	case ev := <-status.C():
		if ev.Type != "engine_state" || !ev.Data.(wsEngineStateData).Running {
			t.Fatalf("status event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no engine_state event")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	if e.Running() {
		t.Fatal("still running after Run returned")
	}
}
