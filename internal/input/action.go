package input

import (
	"encoding/json"
	"fmt"
	"math"
)

// ============================================================================
// Actions
// ============================================================================
// An Action is what a rule does when its trigger fires. Exactly one variant is
// active per rule. Go has no union types, so variants are distinct structs
// behind a marker interface and are encoded with a type discriminator.
// ============================================================================

// Action is the marker interface for all rule outputs.
type Action interface {
	actionMarker()
	// Type returns the wire discriminator for the variant.
	Type() string
}

// None passes the event through untouched.
type None struct{}

// KeyboardShortcut synthesizes a key press with the given modifiers held.
// KeyCode is a Linux input key code (see keys.go).
type KeyboardShortcut struct {
	KeyCode   uint16    `json:"keyCode"`
	Modifiers Modifiers `json:"modifiers"`
}

// SystemFunction triggers a desktop feature.
type SystemFunction struct {
	Feature Feature `json:"feature"`
}

// Navigation maps to a fixed navigation chord.
type Navigation struct {
	Direction Direction `json:"direction"`
}

// Sensitivity scales both scroll axes by Factor.
type Sensitivity struct {
	Factor float64 `json:"factor"`
}

// Zoom turns scroll direction into zoom in / zoom out keystrokes.
type Zoom struct{}

func (None) actionMarker()             {}
func (KeyboardShortcut) actionMarker() {}
func (SystemFunction) actionMarker()   {}
func (Navigation) actionMarker()       {}
func (Sensitivity) actionMarker()      {}
func (Zoom) actionMarker()             {}

func (None) Type() string             { return "none" }
func (KeyboardShortcut) Type() string { return "keyboardShortcut" }
func (SystemFunction) Type() string   { return "systemFunction" }
func (Navigation) Type() string       { return "navigation" }
func (Sensitivity) Type() string      { return "sensitivity" }
func (Zoom) Type() string             { return "zoom" }

// Feature names a desktop feature a SystemFunction can trigger.
type Feature string

const (
	FeatureMissionControl     Feature = "missionControl"
	FeatureAppExpose          Feature = "appExpose"
	FeatureLaunchpad          Feature = "launchpad"
	FeatureShowDesktop        Feature = "showDesktop"
	FeatureNotificationCenter Feature = "notificationCenter"
	FeatureLookUp             Feature = "lookUp"
	FeatureSpotlight          Feature = "spotlight"
)

// Features lists every known feature in display order.
var Features = []Feature{
	FeatureMissionControl,
	FeatureAppExpose,
	FeatureLaunchpad,
	FeatureShowDesktop,
	FeatureNotificationCenter,
	FeatureLookUp,
	FeatureSpotlight,
}

// Valid reports whether f is a known feature.
func (f Feature) Valid() bool {
	for _, known := range Features {
		if f == known {
			return true
		}
	}
	return false
}

// Direction names a navigation target.
type Direction string

const (
	DirectionBack       Direction = "back"
	DirectionForward    Direction = "forward"
	DirectionSpaceLeft  Direction = "spaceLeft"
	DirectionSpaceRight Direction = "spaceRight"
	DirectionSmartZoom  Direction = "smartZoom"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	switch d {
	case DirectionBack, DirectionForward, DirectionSpaceLeft, DirectionSpaceRight, DirectionSmartZoom:
		return true
	}
	return false
}

// ValidateAction checks the payload of an action.
func ValidateAction(a Action) error {
	switch a := a.(type) {
	case nil:
		return fmt.Errorf("action is missing")
	case None, Zoom:
		return nil
	case KeyboardShortcut:
		if a.KeyCode == 0 {
			return fmt.Errorf("keyboardShortcut: keyCode must be set")
		}
		return nil
	case SystemFunction:
		if !a.Feature.Valid() {
			return fmt.Errorf("systemFunction: unknown feature %q", a.Feature)
		}
		return nil
	case Navigation:
		if !a.Direction.Valid() {
			return fmt.Errorf("navigation: unknown direction %q", a.Direction)
		}
		return nil
	case Sensitivity:
		if math.IsNaN(a.Factor) || math.IsInf(a.Factor, 0) || a.Factor <= 0 {
			return fmt.Errorf("sensitivity: factor must be a positive finite number, got %v", a.Factor)
		}
		return nil
	default:
		return fmt.Errorf("unsupported action type %T", a)
	}
}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================

// ActionEnvelope wraps an action with a type discriminator for JSON marshaling.
type ActionEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func envelopeFor(a Action) (ActionEnvelope, error) {
	var env ActionEnvelope

	switch a := a.(type) {
	case None, Zoom:
		env.Type = a.Type()

	case KeyboardShortcut, SystemFunction, Navigation, Sensitivity:
		env.Type = a.Type()
		data, err := json.Marshal(a)
		if err != nil {
			return ActionEnvelope{}, fmt.Errorf("marshal %s: %w", env.Type, err)
		}
		env.Data = data

	default:
		return ActionEnvelope{}, fmt.Errorf("unsupported action type: %T", a)
	}

	return env, nil
}

func (env ActionEnvelope) decode() (Action, error) {
	switch env.Type {
	case "none":
		return None{}, nil

	case "zoom":
		return Zoom{}, nil

	case "keyboardShortcut":
		var a KeyboardShortcut
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal keyboardShortcut: %w", err)
		}
		return a, nil

	case "systemFunction":
		var a SystemFunction
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal systemFunction: %w", err)
		}
		return a, nil

	case "navigation":
		var a Navigation
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal navigation: %w", err)
		}
		return a, nil

	case "sensitivity":
		var a Sensitivity
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal sensitivity: %w", err)
		}
		return a, nil

	default:
		return nil, fmt.Errorf("unknown action type: %q", env.Type)
	}
}

// DescribeAction renders an action for logs and CLI listings.
func DescribeAction(a Action) string {
	switch a := a.(type) {
	case nil:
		return "<nil>"
	case KeyboardShortcut:
		return fmt.Sprintf("keyboardShortcut(%s)", Chord{Code: a.KeyCode, Modifiers: a.Modifiers})
	case SystemFunction:
		return fmt.Sprintf("systemFunction(%s)", a.Feature)
	case Navigation:
		return fmt.Sprintf("navigation(%s)", a.Direction)
	case Sensitivity:
		return fmt.Sprintf("sensitivity(%g)", a.Factor)
	default:
		return a.Type()
	}
}
