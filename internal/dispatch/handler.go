// Package dispatch implements the rule-dispatch handler: it decides for every
// intercepted event whether to smooth, invert, scale, replace or pass it.
package dispatch

import (
	"log/slog"
	"math"

	"mousebrainz/internal/input"
	"mousebrainz/internal/profile"
	"mousebrainz/internal/smooth"
	"mousebrainz/internal/tap"
)

// SyntheticMarker is the source identifier carried by every event this
// handler generates. Events carrying it are never processed again.
const SyntheticMarker int64 = 0x6d6f7573

// MinSensitivity is the smallest factor ever applied to scroll deltas.
const MinSensitivity = 0.01

// Source is a live view of the profile.
type Source interface {
	Current() profile.Snapshot
}

// Poster injects synthesized input at the capture level.
type Poster interface {
	PostKey(code uint16, mods input.Modifiers) error
	PostScroll(dy, dx float64, userData int64) error
}

// Launcher triggers desktop features. It must not block.
type Launcher interface {
	Launch(f input.Feature) error
}

// Observer is told about matched rules. Called on the delivery path; must not
// block.
type Observer interface {
	RuleMatched(r input.Rule, ev tap.Event)
}

// Config tunes the handler.
type Config struct {
	Smooth smooth.Config
	Chords Chords
}

// DefaultConfig returns the stock physics and chords.
func DefaultConfig() Config {
	return Config{
		Smooth: smooth.DefaultConfig(),
		Chords: DefaultChords(),
	}
}

// Handler is the rule-dispatch handler. It owns one physics engine for its
// whole lifetime; Detach stops it.
type Handler struct {
	src      Source
	poster   Poster
	launcher Launcher
	chords   Chords
	logger   *slog.Logger
	observer Observer

	engine *smooth.Engine
}

// New creates a handler reading rules and toggles from src. launcher and
// observer may be nil.
func New(src Source, poster Poster, launcher Launcher, cfg Config, logger *slog.Logger, observer Observer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		src:      src,
		poster:   poster,
		launcher: launcher,
		chords:   cfg.Chords,
		logger:   logger,
		observer: observer,
	}
	h.engine = smooth.New(cfg.Smooth, h.emitSmooth, func() bool {
		return h.src.Current().InvertScrolling
	}, logger)
	return h
}

// Engine exposes the physics engine, for observers and status reporting.
func (h *Handler) Engine() *smooth.Engine {
	return h.engine
}

// Detach stops the physics engine. No synthetic scroll is posted after it
// returns.
func (h *Handler) Detach() {
	h.engine.Stop()
}

func (h *Handler) emitSmooth(dy, dx float64) {
	if err := h.poster.PostScroll(dy, dx, SyntheticMarker); err != nil {
		h.logger.Debug("synthetic scroll dropped", "error", err)
	}
}

// Handle implements tap.Handler.
func (h *Handler) Handle(ev tap.Event) tap.Result {
	if ev.UserData == SyntheticMarker {
		return tap.Continue(ev)
	}

	switch ev.Type {
	case tap.EventScroll:
		snap := h.src.Current()
		// Command-held scroll is reserved for zoom and bypasses smoothing.
		if snap.SmoothScrolling && !ev.Modifiers.Has(input.ModCommand) {
			h.engine.Impulse(ev.DeltaY, ev.DeltaX)
			return tap.Consume()
		}
		if snap.InvertScrolling {
			ev.DeltaY, ev.DeltaX = -ev.DeltaY, -ev.DeltaX
		}
		trig := input.Trigger{Kind: input.KindScroll, Modifiers: ev.Modifiers.Normalize()}
		return h.match(snap, trig, ev)

	case tap.EventButtonDown:
		trig := input.Trigger{Kind: input.KindFromButton(ev.Button), Modifiers: ev.Modifiers.Normalize()}
		return h.match(h.src.Current(), trig, ev)

	default:
		return tap.Continue(ev)
	}
}

func (h *Handler) match(snap profile.Snapshot, trig input.Trigger, ev tap.Event) tap.Result {
	rule, ok := snap.Match(trig)
	if !ok {
		return tap.Continue(ev)
	}
	h.logger.Debug("rule matched", "rule", rule.ID, "trigger", trig.String(), "action", rule.Action.Type())
	if h.observer != nil {
		h.observer.RuleMatched(rule, ev)
	}
	return h.execute(rule, ev)
}

func (h *Handler) execute(rule input.Rule, ev tap.Event) tap.Result {
	switch a := rule.Action.(type) {
	case input.None:
		return tap.Continue(ev)

	case input.Zoom:
		switch {
		case ev.DeltaY > 0:
			h.postChord(h.chords.ZoomIn)
		case ev.DeltaY < 0:
			h.postChord(h.chords.ZoomOut)
		}
		return tap.Consume()

	case input.Sensitivity:
		f := clampFactor(a.Factor)
		ev.DeltaY *= f
		ev.DeltaX *= f
		return tap.Continue(ev)

	case input.KeyboardShortcut:
		h.postChord(input.Chord{Code: a.KeyCode, Modifiers: a.Modifiers})
		return tap.Consume()

	case input.SystemFunction:
		h.launch(a.Feature)
		return tap.Consume()

	case input.Navigation:
		chord, ok := h.chords.ForDirection(a.Direction)
		if !ok {
			h.logger.Debug("navigation has no synthesis", "direction", a.Direction)
			return tap.Consume()
		}
		h.postChord(chord)
		return tap.Consume()

	default:
		h.logger.Debug("unsupported action, passing event through", "rule", rule.ID)
		return tap.Continue(ev)
	}
}

// clampFactor keeps a sensitivity factor positive and finite so it can never
// zero or invert scroll direction.
func clampFactor(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < MinSensitivity {
		return MinSensitivity
	}
	return f
}

func (h *Handler) postChord(c input.Chord) {
	if c.Code == 0 {
		return
	}
	if err := h.poster.PostKey(c.Code, c.Modifiers); err != nil {
		h.logger.Debug("keystroke dropped", "chord", c.String(), "error", err)
	}
}

func (h *Handler) launch(f input.Feature) {
	if h.launcher == nil {
		h.logger.Info("system function not implemented", "feature", f)
		return
	}
	if err := h.launcher.Launch(f); err != nil {
		h.logger.Info("system function not triggered", "feature", f, "error", err)
	}
}
