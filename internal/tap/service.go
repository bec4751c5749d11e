package tap

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrNotAuthorized is returned (wrapped) by hooks that lack the permission to
// capture input.
var ErrNotAuthorized = errors.New("input capture not authorized")

// DeliverFunc is how a hook hands an event to the service. It returns the
// event to forward to the OS, or ok=false when the event was consumed.
type DeliverFunc func(ev Event) (out Event, ok bool)

// Hook is the OS-level capture mechanism.
//
// Install registers for button-down and scroll events and starts calling
// deliver for each one, serially and in arrival order. Enable re-activates a
// hook the OS disabled. Close disables and invalidates it; deliver is never
// called after Close returns.
type Hook interface {
	Install(deliver DeliverFunc) error
	Enable() error
	Close() error
}

// HookFactory creates a fresh, uninstalled hook. A hook is single use.
type HookFactory func() (Hook, error)

// Observer receives service notifications. Methods may be called from the
// delivery path and must not block.
type Observer interface {
	StateChanged(running bool)
	HookReenabled(reason EventType, err error)
}

type entry struct {
	id uint64
	h  Handler
}

// Service owns the hook and the handler chain.
type Service struct {
	newHook  HookFactory
	logger   *slog.Logger
	observer Observer

	// mu serializes Start and Stop.
	mu   sync.Mutex
	hook Hook

	running atomic.Bool

	// chain is replaced copy-on-write so delivery never takes a lock.
	chainMu sync.Mutex
	chain   atomic.Pointer[[]entry]
	nextID  uint64
}

// New creates a stopped service. observer may be nil.
func New(newHook HookFactory, logger *slog.Logger, observer Observer) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		newHook:  newHook,
		logger:   logger,
		observer: observer,
	}
	s.chain.Store(&[]entry{})
	return s
}

// Running reports whether the hook is installed.
func (s *Service) Running() bool {
	return s.running.Load()
}

// Start installs the hook. It is a no-op when already running. Failure is
// logged and returned; it is not retried.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hook != nil {
		return nil
	}

	h, err := s.newHook()
	if err == nil {
		// The closure binds this hook instance, so a stale hook can never
		// re-enable a newer one.
		err = h.Install(func(ev Event) (Event, bool) {
			return s.dispatch(h, ev)
		})
		if err != nil {
			_ = h.Close()
		}
	}
	if err != nil {
		s.logger.Error("failed to install input hook, engine not running", "error", err)
		return fmt.Errorf("start interception: %w", err)
	}

	s.hook = h
	s.running.Store(true)
	s.logger.Info("interception started")
	if s.observer != nil {
		s.observer.StateChanged(true)
	}
	return nil
}

// Stop disables and invalidates the hook and clears the handler chain.
// Handlers implementing Detacher are detached. Safe to call when stopped.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasRunning := s.running.Swap(false)
	if s.hook != nil {
		if err := s.hook.Close(); err != nil {
			s.logger.Warn("closing input hook", "error", err)
		}
		s.hook = nil
	}

	s.chainMu.Lock()
	old := *s.chain.Load()
	s.chain.Store(&[]entry{})
	s.chainMu.Unlock()
	for _, e := range old {
		detach(e.h)
	}

	if wasRunning {
		s.logger.Info("interception stopped")
		if s.observer != nil {
			s.observer.StateChanged(false)
		}
	}
}

// AddHandler appends h to the chain. The returned function removes it again
// and may be called more than once.
func (s *Service) AddHandler(h Handler) (remove func()) {
	s.chainMu.Lock()
	s.nextID++
	id := s.nextID
	cur := *s.chain.Load()
	next := make([]entry, 0, len(cur)+1)
	next = append(next, cur...)
	next = append(next, entry{id: id, h: h})
	s.chain.Store(&next)
	s.chainMu.Unlock()

	return func() { s.removeHandler(id) }
}

func (s *Service) removeHandler(id uint64) {
	s.chainMu.Lock()
	cur := *s.chain.Load()
	next := make([]entry, 0, len(cur))
	var removed Handler
	for _, e := range cur {
		if e.id == id {
			removed = e.h
			continue
		}
		next = append(next, e)
	}
	s.chain.Store(&next)
	s.chainMu.Unlock()

	if removed != nil {
		detach(removed)
	}
}

// Handlers returns the number of handlers in the chain.
func (s *Service) Handlers() int {
	return len(*s.chain.Load())
}

func detach(h Handler) {
	if d, ok := h.(Detacher); ok {
		d.Detach()
	}
}

// dispatch runs on the delivery path for every event h delivers.
func (s *Service) dispatch(h Hook, ev Event) (Event, bool) {
	if !s.running.Load() {
		return ev, true
	}

	if ev.Type.Disabled() {
		err := h.Enable()
		if err != nil {
			s.logger.Warn("re-enabling input hook failed", "reason", ev.Type, "error", err)
		} else {
			s.logger.Debug("input hook re-enabled", "reason", ev.Type)
		}
		if s.observer != nil {
			s.observer.HookReenabled(ev.Type, err)
		}
		return ev, true
	}

	for _, e := range *s.chain.Load() {
		res, ok := s.invoke(e.h, ev)
		if !ok {
			// A failing handler leaves the event as it was.
			continue
		}
		if res.Consumed() {
			return Event{}, false
		}
		ev = res.Event()
	}
	return ev, true
}

func (s *Service) invoke(h Handler, ev Event) (res Result, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", "event", ev.String(), "panic", r)
			ok = false
		}
	}()
	return h.Handle(ev), true
}
