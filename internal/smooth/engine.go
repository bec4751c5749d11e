// Package smooth turns discrete scroll impulses into a decaying stream of
// scroll deltas emitted on a fixed tick.
package smooth

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// Config contains all tunable parameters for the physics engine.
type Config struct {
	TickInterval  time.Duration // Time between ticks (default 1000/60 ms)
	Friction      float64       // Per-tick velocity multiplier, 0 < f < 1
	StopThreshold float64       // Both axes below this magnitude -> idle
	Gain          float64       // Impulse multiplier on accumulation
	MaxVelocity   float64       // Per-axis velocity clamp. 0 disables clamping.
}

// DefaultConfig returns the stock 60 Hz tuning.
func DefaultConfig() Config {
	return Config{
		TickInterval:  time.Second / 60,
		Friction:      0.92,
		StopThreshold: 0.2,
		Gain:          3.0,
		MaxVelocity:   2000,
	}
}

// State is a snapshot of the physics state.
type State struct {
	VelocityX float64
	VelocityY float64
	Active    bool
}

// EmitFunc posts one synthetic scroll frame. dy is the vertical axis, dx the
// horizontal one. It is called from the tick goroutine without the engine
// lock held.
type EmitFunc func(dy, dx float64)

// Engine is the velocity integrator.
//
// Impulse may be called from the event delivery path concurrently with the
// tick goroutine; all physics state is guarded by mu.
type Engine struct {
	cfg    Config
	emit   EmitFunc
	invert func() bool
	logger *slog.Logger

	// observe, when set, receives the velocity after every tick.
	observe func(State)

	mu     sync.Mutex
	vx, vy float64
	active bool
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

// New creates an idle engine. invert is consulted on every tick; it may be nil.
func New(cfg Config, emit EmitFunc, invert func() bool, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.Friction <= 0 || cfg.Friction >= 1 {
		cfg.Friction = def.Friction
	}
	if cfg.StopThreshold <= 0 {
		cfg.StopThreshold = def.StopThreshold
	}
	if cfg.Gain <= 0 {
		cfg.Gain = def.Gain
	}
	if invert == nil {
		invert = func() bool { return false }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg,
		emit:   emit,
		invert: invert,
		logger: logger,
	}
}

// SetObserver installs a callback invoked after each tick with the new state.
// Must be called before the first Impulse.
func (e *Engine) SetObserver(fn func(State)) {
	e.mu.Lock()
	e.observe = fn
	e.mu.Unlock()
}

// Impulse accumulates a raw scroll delta into the velocity and starts the
// tick loop if the engine is idle. It never blocks on the tick goroutine.
func (e *Engine) Impulse(dy, dx float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	e.vy = e.clamp(e.vy + dy*e.cfg.Gain)
	e.vx = e.clamp(e.vx + dx*e.cfg.Gain)

	if e.active || (e.vx == 0 && e.vy == 0) {
		return
	}
	e.active = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.loop(e.stop, e.done)
}

func (e *Engine) clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	limit := e.cfg.MaxVelocity
	if limit <= 0 {
		return v
	}
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

func (e *Engine) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	e.logger.Debug("smooth scroll started")
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !e.step() {
				e.logger.Debug("smooth scroll idle")
				return
			}
		}
	}
}

// step advances the physics by one tick. It returns false once the engine
// has gone idle.
func (e *Engine) step() bool {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return false
	}

	e.vx *= e.cfg.Friction
	e.vy *= e.cfg.Friction

	if math.Abs(e.vx) < e.cfg.StopThreshold && math.Abs(e.vy) < e.cfg.StopThreshold {
		e.vx, e.vy = 0, 0
		e.active = false
		observe := e.observe
		e.mu.Unlock()
		if observe != nil {
			observe(State{})
		}
		return false
	}

	dir := 1.0
	if e.invert() {
		dir = -1.0
	}
	dy := math.Round(e.vy * dir)
	dx := math.Round(e.vx * dir)
	st := State{VelocityX: e.vx, VelocityY: e.vy, Active: true}
	observe := e.observe
	e.mu.Unlock()

	if observe != nil {
		observe(st)
	}
	// Rounding can zero both axes while velocity is still above threshold.
	if dy == 0 && dx == 0 {
		return true
	}
	if e.emit != nil {
		e.emit(dy, dx)
	}
	return true
}

// State returns a snapshot of the current physics state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{VelocityX: e.vx, VelocityY: e.vy, Active: e.active}
}

// Reset zeroes the velocity and cancels the tick loop, leaving the engine
// usable for further impulses.
func (e *Engine) Reset() {
	e.halt(false)
}

// Stop cancels the tick loop and waits for it to exit. No tick fires after
// Stop returns and later impulses are ignored. Safe to call more than once.
func (e *Engine) Stop() {
	e.halt(true)
}

func (e *Engine) halt(final bool) {
	e.mu.Lock()
	stop, done := e.stop, e.done
	wasActive := e.active
	e.vx, e.vy = 0, 0
	e.active = false
	e.stop, e.done = nil, nil
	if final {
		e.closed = true
	}
	e.mu.Unlock()

	if wasActive && stop != nil {
		close(stop)
		<-done
	}
}
