package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mousebrainz/internal/input"
)

// ruleFlags collects the flags shared by "rules add" and "rules update".
type ruleFlags struct {
	button    string
	modifiers string
	action    string
	key       string
	feature   string
	direction string
	factor    float64
	disabled  bool
}

func (f *ruleFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.button, "button", "b", "", "Trigger: "+strings.Join(input.KindNames(), ", "))
	fl.StringVarP(&f.modifiers, "mods", "m", "", "Required modifiers, e.g. cmd+shift (exact match)")
	fl.StringVarP(&f.action, "action", "a", "", "Action: none, zoom, sensitivity, keyboardShortcut, navigation, systemFunction")
	fl.StringVar(&f.key, "key", "", "keyboardShortcut: chord to send, e.g. ctrl+shift+t")
	fl.StringVar(&f.feature, "feature", "", "systemFunction: missionControl, appExpose, launchpad, showDesktop, notificationCenter, lookUp, spotlight")
	fl.StringVar(&f.direction, "direction", "", "navigation: back, forward, spaceLeft, spaceRight, smartZoom")
	fl.Float64Var(&f.factor, "factor", 0, "sensitivity: scroll multiplier (> 0)")
	fl.BoolVar(&f.disabled, "disabled", false, "Create the rule disabled")
	_ = cmd.MarkFlagRequired("button")
	_ = cmd.MarkFlagRequired("action")
}

// rule builds a rule from the flags. id may be empty.
func (f *ruleFlags) rule(id string) (input.Rule, error) {
	kind, err := input.ParseKind(f.button)
	if err != nil {
		return input.Rule{}, err
	}
	mods, err := input.ParseModifiers(f.modifiers)
	if err != nil {
		return input.Rule{}, err
	}
	action, err := f.buildAction()
	if err != nil {
		return input.Rule{}, err
	}
	r := input.Rule{
		ID:      id,
		Trigger: input.Trigger{Kind: kind, Modifiers: mods},
		Action:  action,
		Enabled: !f.disabled,
	}
	if err := input.ValidateAction(r.Action); err != nil {
		return input.Rule{}, err
	}
	return r, nil
}

func (f *ruleFlags) buildAction() (input.Action, error) {
	switch f.action {
	case "none":
		return input.None{}, nil
	case "zoom":
		return input.Zoom{}, nil
	case "sensitivity":
		return input.Sensitivity{Factor: f.factor}, nil
	case "keyboardShortcut", "shortcut":
		if f.key == "" {
			return nil, fmt.Errorf("--key is required for keyboardShortcut")
		}
		c, err := input.ParseChord(f.key)
		if err != nil {
			return nil, err
		}
		return input.KeyboardShortcut{KeyCode: c.Code, Modifiers: c.Modifiers}, nil
	case "navigation":
		return input.Navigation{Direction: input.Direction(f.direction)}, nil
	case "systemFunction":
		return input.SystemFunction{Feature: input.Feature(f.feature)}, nil
	default:
		return nil, fmt.Errorf("unknown action %q", f.action)
	}
}

func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid index %q", s)
	}
	return n, nil
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}
