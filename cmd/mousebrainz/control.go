package main

import (
	"context"
	"fmt"
	"log/slog"

	"mousebrainz/internal/input"
	"mousebrainz/internal/ipc"
	"mousebrainz/internal/profile"
)

// engineControl is the part of Engine the control surface drives.
type engineControl interface {
	Start() error
	Stop() error
	Status() ipc.Status
}

// controlHandler answers IPC requests: profile editing and engine control.
// Every profile mutation goes through the store, which validates, persists
// and swaps atomically.
type controlHandler struct {
	engine engineControl
	store  *profile.Store
	logger *slog.Logger
}

func newControlHandler(engine engineControl, store *profile.Store, logger *slog.Logger) *controlHandler {
	return &controlHandler{engine: engine, store: store, logger: logger}
}

// ServeIPC implements ipc.Handler.
func (c *controlHandler) ServeIPC(_ context.Context, req ipc.Request) (any, error) {
	switch req.Type {
	case ipc.TypeStatus:
		return c.engine.Status(), nil

	case ipc.TypeListRules:
		return ipc.Rules{Rules: c.store.Rules()}, nil

	case ipc.TypeAddRule:
		var r input.Rule
		if err := req.Decode(&r); err != nil {
			return nil, err
		}
		added, err := c.store.AddRule(r)
		if err != nil {
			return nil, err
		}
		c.logger.Info("rule added", "rule", added.ID, "trigger", added.Trigger.String(), "action", added.Action.Type())
		return added, nil

	case ipc.TypeUpdateRule:
		var r input.Rule
		if err := req.Decode(&r); err != nil {
			return nil, err
		}
		if err := c.store.UpdateRule(r); err != nil {
			return nil, err
		}
		c.logger.Info("rule updated", "rule", r.ID)
		return r, nil

	case ipc.TypeRemoveRule:
		var ref ipc.RuleRef
		if err := req.Decode(&ref); err != nil {
			return nil, err
		}
		if err := c.store.RemoveRule(ref.ID); err != nil {
			return nil, err
		}
		c.logger.Info("rule removed", "rule", ref.ID)
		return nil, nil

	case ipc.TypeSetRuleEnabled:
		var p ipc.SetRuleEnabled
		if err := req.Decode(&p); err != nil {
			return nil, err
		}
		if err := c.store.SetEnabled(p.ID, p.Enabled); err != nil {
			return nil, err
		}
		c.logger.Info("rule toggled", "rule", p.ID, "enabled", p.Enabled)
		return nil, nil

	case ipc.TypeMoveRule:
		var p ipc.MoveRule
		if err := req.Decode(&p); err != nil {
			return nil, err
		}
		if err := c.store.MoveRule(p.ID, p.Index); err != nil {
			return nil, err
		}
		return ipc.Rules{Rules: c.store.Rules()}, nil

	case ipc.TypeSetToggles:
		var p ipc.SetToggles
		if err := req.Decode(&p); err != nil {
			return nil, err
		}
		snap, err := c.store.SetToggles(p.InvertScrolling, p.SmoothScrolling)
		if err != nil {
			return nil, err
		}
		c.logger.Info("toggles changed", "invert_scrolling", snap.InvertScrolling, "smooth_scrolling", snap.SmoothScrolling)
		return c.engine.Status(), nil

	case ipc.TypeReloadProfile:
		if err := c.store.Reload(); err != nil {
			return nil, err
		}
		return ipc.Rules{Rules: c.store.Rules()}, nil

	case ipc.TypeEngineStart:
		if err := c.engine.Start(); err != nil {
			return nil, err
		}
		return c.engine.Status(), nil

	case ipc.TypeEngineStop:
		if err := c.engine.Stop(); err != nil {
			return nil, err
		}
		return c.engine.Status(), nil

	default:
		return nil, fmt.Errorf("unknown request type: %s", req.Type)
	}
}
