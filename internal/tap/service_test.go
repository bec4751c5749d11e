package tap

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeHook records lifecycle calls and lets tests inject events.
type fakeHook struct {
	mu          sync.Mutex
	deliver     DeliverFunc
	installErr  error
	enableCalls int
	closed      bool
}

func (h *fakeHook) Install(deliver DeliverFunc) error {
	if h.installErr != nil {
		return h.installErr
	}
	h.mu.Lock()
	h.deliver = deliver
	h.mu.Unlock()
	return nil
}

func (h *fakeHook) Enable() error {
	h.mu.Lock()
	h.enableCalls++
	h.mu.Unlock()
	return nil
}

func (h *fakeHook) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

func (h *fakeHook) send(ev Event) (Event, bool) {
	h.mu.Lock()
	d, closed := h.deliver, h.closed
	h.mu.Unlock()
	if closed || d == nil {
		return ev, true
	}
	return d(ev)
}

func newTestService(t *testing.T) (*Service, *fakeHook) {
	t.Helper()
	h := &fakeHook{}
	s := New(func() (Hook, error) { return h, nil }, testLogger(), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s, h
}

type countingHandler struct {
	calls int
	res   func(Event) Result
}

func (c *countingHandler) Handle(ev Event) Result {
	c.calls++
	if c.res != nil {
		return c.res(ev)
	}
	return Continue(ev)
}

type detachingHandler struct {
	countingHandler
	detached int
}

func (d *detachingHandler) Detach() { d.detached++ }

func TestStartFailureReportsNotRunning(t *testing.T) {
	h := &fakeHook{installErr: ErrNotAuthorized}
	s := New(func() (Hook, error) { return h, nil }, testLogger(), nil)

	err := s.Start()
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("Start error = %v, want ErrNotAuthorized", err)
	}
	if s.Running() {
		t.Fatal("service must not report running after failed start")
	}

	factoryErr := errors.New("no devices")
	s = New(func() (Hook, error) { return nil, factoryErr }, testLogger(), nil)
	if err := s.Start(); !errors.Is(err, factoryErr) {
		t.Fatalf("Start error = %v", err)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	created := 0
	s := New(func() (Hook, error) {
		created++
		return &fakeHook{}, nil
	}, testLogger(), nil)

	for i := 0; i < 3; i++ {
		if err := s.Start(); err != nil {
			t.Fatal(err)
		}
	}
	if created != 1 {
		t.Fatalf("hook created %d times", created)
	}
	s.Stop()
	s.Stop()
	if s.Running() {
		t.Fatal("still running after Stop")
	}
}

func TestChainOrderAndMutation(t *testing.T) {
	s, h := newTestService(t)
	defer s.Stop()

	var order []string
	s.AddHandler(HandlerFunc(func(ev Event) Result {
		order = append(order, "first")
		ev.DeltaY *= 2
		return Continue(ev)
	}))
	s.AddHandler(HandlerFunc(func(ev Event) Result {
		order = append(order, "second")
		ev.DeltaY += 1
		return Continue(ev)
	}))

	out, ok := h.send(Event{Type: EventScroll, DeltaY: 3})
	if !ok {
		t.Fatal("event should not be consumed")
	}
	if out.DeltaY != 7 {
		t.Fatalf("DeltaY = %v, want 7", out.DeltaY)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("order = %v", order)
	}
}

func TestConsumptionStopsChain(t *testing.T) {
	s, h := newTestService(t)
	defer s.Stop()

	first := &countingHandler{res: func(Event) Result { return Consume() }}
	second := &countingHandler{}
	s.AddHandler(first)
	s.AddHandler(second)

	if _, ok := h.send(Event{Type: EventButtonDown, Button: 3}); ok {
		t.Fatal("event should be consumed")
	}
	if first.calls != 1 || second.calls != 0 {
		t.Fatalf("calls = %d/%d, want 1/0", first.calls, second.calls)
	}
}

func TestHookDisableRecovery(t *testing.T) {
	for _, typ := range []EventType{EventTapDisabledByTimeout, EventTapDisabledByUserInput} {
		s, h := newTestService(t)
		handler := &countingHandler{res: func(Event) Result { return Consume() }}
		s.AddHandler(handler)

		in := Event{Type: typ, Device: "/dev/input/event3"}
		out, ok := h.send(in)
		if !ok {
			t.Fatalf("%s: notification must pass through", typ)
		}
		if out != in {
			t.Fatalf("%s: event modified: %+v", typ, out)
		}
		if h.enableCalls != 1 {
			t.Fatalf("%s: Enable called %d times, want 1", typ, h.enableCalls)
		}
		if handler.calls != 0 {
			t.Fatalf("%s: handler invoked for disable notification", typ)
		}
		s.Stop()
	}
}

func TestStopClearsAndDetachesHandlers(t *testing.T) {
	s, h := newTestService(t)

	d := &detachingHandler{}
	s.AddHandler(d)
	s.Stop()

	if !h.closed {
		t.Fatal("hook not closed")
	}
	if s.Handlers() != 0 {
		t.Fatalf("%d handlers left after Stop", s.Handlers())
	}
	if d.detached != 1 {
		t.Fatalf("Detach called %d times", d.detached)
	}
}

func TestNoHandlersAfterInvalidation(t *testing.T) {
	h := &fakeHook{}
	s := New(func() (Hook, error) { return h, nil }, testLogger(), nil)
	s.Start()
	c := &countingHandler{}
	s.AddHandler(c)

	deliver := h.deliver
	s.Stop()

	// A late callback from an already-invalidated hook passes through.
	if _, ok := deliver(Event{Type: EventScroll, DeltaY: 1}); !ok {
		t.Fatal("late event must pass through")
	}
	if c.calls != 0 {
		t.Fatal("handler invoked after Stop")
	}
}

func TestRemoveHandler(t *testing.T) {
	s, h := newTestService(t)
	defer s.Stop()

	d := &detachingHandler{}
	remove := s.AddHandler(d)
	remove()
	remove()

	h.send(Event{Type: EventScroll})
	if d.calls != 0 {
		t.Fatal("removed handler was invoked")
	}
	if d.detached != 1 {
		t.Fatalf("Detach called %d times, want 1", d.detached)
	}
}

func TestPanickingHandlerDoesNotEscape(t *testing.T) {
	s, h := newTestService(t)
	defer s.Stop()

	s.AddHandler(HandlerFunc(func(Event) Result { panic("boom") }))
	after := &countingHandler{}
	s.AddHandler(after)

	in := Event{Type: EventScroll, DeltaY: 2}
	out, ok := h.send(in)
	if !ok || out != in {
		t.Fatalf("got %+v %v", out, ok)
	}
	if after.calls != 1 {
		t.Fatal("chain did not continue after panic")
	}
}

type recordingObserver struct {
	states    []bool
	reenabled []EventType
}

func (o *recordingObserver) StateChanged(running bool) { o.states = append(o.states, running) }
func (o *recordingObserver) HookReenabled(reason EventType, _ error) {
	o.reenabled = append(o.reenabled, reason)
}

func TestObserverNotifications(t *testing.T) {
	h := &fakeHook{}
	obs := &recordingObserver{}
	s := New(func() (Hook, error) { return h, nil }, testLogger(), obs)

	s.Start()
	h.send(Event{Type: EventTapDisabledByTimeout})
	s.Stop()
	s.Stop()

	if len(obs.states) != 2 || !obs.states[0] || obs.states[1] {
		t.Fatalf("states = %v", obs.states)
	}
	if len(obs.reenabled) != 1 || obs.reenabled[0] != EventTapDisabledByTimeout {
		t.Fatalf("reenabled = %v", obs.reenabled)
	}
}
