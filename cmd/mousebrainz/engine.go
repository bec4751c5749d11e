package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mousebrainz/internal/dispatch"
	"mousebrainz/internal/ipc"
	"mousebrainz/internal/profile"
	"mousebrainz/internal/tap"
)

var (
	ErrEngineRunning = errors.New("engine already running")
	ErrEngineStopped = errors.New("engine not running")
)

// Backend is the OS side of the engine: permission checks, the synthetic
// output device and fresh capture hooks.
type Backend interface {
	Authorized(prompt bool) bool
	Output() (dispatch.Poster, error)
	NewHook() (tap.Hook, error)
}

// Engine ties the interception service to a rule-dispatch handler.
//
// Every Start installs a fresh handler; Stop (or a failed Start) detaches it,
// which also halts its physics.
type Engine struct {
	backend  Backend
	store    *profile.Store
	launcher dispatch.Launcher
	cfg      dispatch.Config
	status   *StatusEvents
	logger   *slog.Logger

	svc *tap.Service

	mu         sync.Mutex
	handler    *dispatch.Handler
	authorized atomic.Bool
}

// NewEngine creates a stopped engine. launcher and status may be nil.
func NewEngine(backend Backend, store *profile.Store, launcher dispatch.Launcher, cfg dispatch.Config, status *StatusEvents, logger *slog.Logger) *Engine {
	e := &Engine{
		backend:  backend,
		store:    store,
		launcher: launcher,
		cfg:      cfg,
		status:   status,
		logger:   logger,
	}
	var obs tap.Observer
	if status != nil {
		obs = status
	}
	e.svc = tap.New(backend.NewHook, logger, obs)
	store.OnChange(e.profileChanged)
	return e
}

// profileChanged ends a running glide as soon as smooth scrolling is turned
// off.
func (e *Engine) profileChanged(snap profile.Snapshot, _ profile.ChangeSource) {
	if snap.SmoothScrolling {
		return
	}
	e.mu.Lock()
	h := e.handler
	e.mu.Unlock()
	if h != nil {
		h.Engine().Reset()
	}
}

// Running reports whether interception is active.
func (e *Engine) Running() bool {
	return e.svc.Running()
}

// Start installs a fresh dispatch handler and starts interception.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.svc.Running() {
		return ErrEngineRunning
	}
	if !e.backend.Authorized(false) {
		e.authorized.Store(false)
		return fmt.Errorf("start engine: %w", tap.ErrNotAuthorized)
	}
	e.authorized.Store(true)

	poster, err := e.backend.Output()
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	var obs dispatch.Observer
	if e.status != nil {
		obs = e.status
	}
	h := dispatch.New(e.store, poster, e.launcher, e.cfg, e.logger, obs)
	if e.status != nil {
		h.Engine().SetObserver(e.status.Velocity)
	}

	remove := e.svc.AddHandler(h)
	if err := e.svc.Start(); err != nil {
		remove()
		return err
	}
	e.handler = h
	return nil
}

// Stop releases the capture. The mouse behaves natively until Start.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.svc.Running() {
		return ErrEngineStopped
	}
	e.svc.Stop()
	e.handler = nil
	return nil
}

// Status reports the engine and profile state.
func (e *Engine) Status() ipc.Status {
	snap := e.store.Current()
	st := ipc.Status{
		Running:         e.svc.Running(),
		Authorized:      e.authorized.Load(),
		InvertScrolling: snap.InvertScrolling,
		SmoothScrolling: snap.SmoothScrolling,
		RuleCount:       len(snap.Rules),
		Handlers:        e.svc.Handlers(),
		ProfilePath:     e.store.Path(),
	}

	e.mu.Lock()
	h := e.handler
	e.mu.Unlock()
	if h != nil {
		phys := h.Engine().State()
		st.VelocityY = phys.VelocityY
		st.VelocityX = phys.VelocityX
	}
	return st
}

// Run waits for authorization, starts the engine once and then blocks until
// ctx is canceled, at which point interception is stopped.
//
// Missing access is reported once with guidance and re-checked every retry
// interval. The engine is never started before access is confirmed.
func (e *Engine) Run(ctx context.Context, retry time.Duration) error {
	defer e.svc.Stop()

	if !e.backend.Authorized(true) {
		e.logger.Warn("engine not running: waiting for input access", "retry", retry)

		ticker := time.NewTicker(retry)
		defer ticker.Stop()

	wait:
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if e.backend.Authorized(false) {
					e.logger.Info("input access granted")
					break wait
				}
			}
		}
	}
	e.authorized.Store(true)

	if err := e.Start(); err != nil && !errors.Is(err, ErrEngineRunning) {
		// Not retried; engine_start over IPC can try again.
		e.logger.Error("engine not running", "error", err)
	}

	<-ctx.Done()
	return nil
}
