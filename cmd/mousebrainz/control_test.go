package main

import (
	"context"
	"errors"
	"testing"

	"mousebrainz/internal/input"
	"mousebrainz/internal/ipc"
	"mousebrainz/internal/profile"
)

func call(t *testing.T, h *controlHandler, typ string, payload any) (any, error) {
	t.Helper()
	req, err := ipc.NewRequest(typ, payload)
	if err != nil {
		t.Fatal(err)
	}
	return h.ServeIPC(context.Background(), req)
}

func newTestControl(t *testing.T) (*controlHandler, *Engine, *profile.Store) {
	t.Helper()
	e, store := newTestEngine(t, newFakeBackend(true), nil)
	return newControlHandler(e, store, testLogger()), e, store
}

func TestControlRuleEditing(t *testing.T) {
	h, _, store := newTestControl(t)

	out, err := call(t, h, ipc.TypeAddRule, input.Rule{
		Trigger: input.Trigger{Kind: input.KindScroll, Modifiers: input.ModCommand},
		Action:  input.Zoom{},
		Enabled: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	zoom := out.(input.Rule)
	if zoom.ID == "" {
		t.Fatal("added rule has no id")
	}

	if _, err := call(t, h, ipc.TypeAddRule, backRule()); err != nil {
		t.Fatal(err)
	}

	out, err = call(t, h, ipc.TypeMoveRule, ipc.MoveRule{ID: "back", Index: 0})
	if err != nil {
		t.Fatal(err)
	}
	rules := out.(ipc.Rules).Rules
	if len(rules) != 2 || rules[0].ID != "back" || rules[1].ID != zoom.ID {
		t.Fatalf("order after move = %v", rules)
	}

	if _, err := call(t, h, ipc.TypeSetRuleEnabled, ipc.SetRuleEnabled{ID: "back", Enabled: false}); err != nil {
		t.Fatal(err)
	}
	if r, _, _ := store.Current().Rule("back"); r.Enabled {
		t.Fatal("rule still enabled")
	}

	updated := backRule()
	updated.Action = input.KeyboardShortcut{KeyCode: input.KeyEsc}
	if _, err := call(t, h, ipc.TypeUpdateRule, updated); err != nil {
		t.Fatal(err)
	}
	if r, i, _ := store.Current().Rule("back"); i != 0 || r.Action != updated.Action {
		t.Fatalf("update: rule %+v at %d", r, i)
	}

	if _, err := call(t, h, ipc.TypeRemoveRule, ipc.RuleRef{ID: "back"}); err != nil {
		t.Fatal(err)
	}
	out, err = call(t, h, ipc.TypeListRules, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rules := out.(ipc.Rules).Rules; len(rules) != 1 || rules[0].ID != zoom.ID {
		t.Fatalf("rules after remove = %v", rules)
	}
}

func TestControlRejectsInvalidEdits(t *testing.T) {
	h, _, store := newTestControl(t)

	_, err := call(t, h, ipc.TypeRemoveRule, ipc.RuleRef{ID: "missing"})
	if !errors.Is(err, profile.ErrRuleNotFound) {
		t.Fatalf("remove missing: %v", err)
	}

	_, err = call(t, h, ipc.TypeAddRule, input.Rule{
		ID:      "bad",
		Trigger: input.Trigger{Kind: input.KindScroll},
		Action:  input.KeyboardShortcut{},
		Enabled: true,
	})
	if err == nil {
		t.Fatal("invalid rule accepted")
	}
	if len(store.Rules()) != 0 {
		t.Fatal("invalid rule reached the profile")
	}

	if _, err := h.ServeIPC(context.Background(), ipc.Request{Type: ipc.TypeMoveRule}); err == nil {
		t.Fatal("missing payload accepted")
	}
	if _, err := call(t, h, "format_disk", nil); err == nil {
		t.Fatal("unknown request accepted")
	}
}

func TestControlToggles(t *testing.T) {
	h, _, store := newTestControl(t)

	on := true
	out, err := call(t, h, ipc.TypeSetToggles, ipc.SetToggles{SmoothScrolling: &on})
	if err != nil {
		t.Fatal(err)
	}
	st := out.(ipc.Status)
	if !st.SmoothScrolling || st.InvertScrolling {
		t.Fatalf("status = %+v", st)
	}
	if !store.SmoothScrolling() || store.InvertScrolling() {
		t.Fatal("toggles not applied to store")
	}
}

func TestControlEngineLifecycle(t *testing.T) {
	h, e, _ := newTestControl(t)

	out, err := call(t, h, ipc.TypeEngineStart, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !out.(ipc.Status).Running || !e.Running() {
		t.Fatal("engine_start did not start")
	}
	if _, err := call(t, h, ipc.TypeEngineStart, nil); !errors.Is(err, ErrEngineRunning) {
		t.Fatalf("second engine_start: %v", err)
	}

	out, err = call(t, h, ipc.TypeEngineStop, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.(ipc.Status).Running || e.Running() {
		t.Fatal("engine_stop did not stop")
	}

	out, err = call(t, h, ipc.TypeStatus, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.(ipc.Status).Running {
		t.Fatal("status reports running")
	}
}
