// Package input holds the value types shared by the engine and the profile
// layer: physical triggers, modifier sets, output actions and rules.
//
// Everything here is an immutable value. Nothing in this package performs I/O.
package input

import (
	"fmt"
	"sort"
	"strings"
)

// Kind identifies the physical input a trigger matches.
type Kind uint8

const (
	KindOther Kind = iota
	KindLeft
	KindRight
	KindMiddle
	KindBack
	KindForward
	KindScroll
)

var kindNames = map[Kind]string{
	KindOther:   "other",
	KindLeft:    "left",
	KindRight:   "right",
	KindMiddle:  "middle",
	KindBack:    "back",
	KindForward: "forward",
	KindScroll:  "scroll",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind converts a kind name ("left", "scroll", ...) into a Kind.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return KindOther, fmt.Errorf("unknown mouse button %q", s)
}

// KindFromButton maps an OS button index to a Kind.
//
// Indices follow the common numbering: 0 left, 1 right, 2 middle, 3 back,
// 4 forward. Anything else is KindOther.
func KindFromButton(index int) Kind {
	switch index {
	case 0:
		return KindLeft
	case 1:
		return KindRight
	case 2:
		return KindMiddle
	case 3:
		return KindBack
	case 4:
		return KindForward
	default:
		return KindOther
	}
}

// Modifiers is a set of held modifier keys.
//
// The bit values match the device-independent modifier flags used by the
// persisted profile format, so profiles written by other tools load as-is.
type Modifiers uint32

const (
	ModShift    Modifiers = 1 << 17
	ModControl  Modifiers = 1 << 18
	ModOption   Modifiers = 1 << 19
	ModCommand  Modifiers = 1 << 20
	ModFunction Modifiers = 1 << 23

	modMask = ModShift | ModControl | ModOption | ModCommand | ModFunction
)

// modifierNames is ordered for stable String() output.
var modifierNames = []struct {
	mod  Modifiers
	name string
}{
	{ModCommand, "cmd"},
	{ModShift, "shift"},
	{ModOption, "opt"},
	{ModControl, "ctrl"},
	{ModFunction, "fn"},
}

var modifierAliases = map[string]Modifiers{
	"cmd":      ModCommand,
	"command":  ModCommand,
	"super":    ModCommand,
	"meta":     ModCommand,
	"shift":    ModShift,
	"opt":      ModOption,
	"option":   ModOption,
	"alt":      ModOption,
	"ctrl":     ModControl,
	"control":  ModControl,
	"fn":       ModFunction,
	"function": ModFunction,
}

// Has reports whether every modifier in m2 is held in m.
func (m Modifiers) Has(m2 Modifiers) bool {
	return m&m2 == m2
}

// Normalize drops bits that do not name a modifier.
func (m Modifiers) Normalize() Modifiers {
	return m & modMask
}

func (m Modifiers) String() string {
	var parts []string
	for _, mn := range modifierNames {
		if m&mn.mod != 0 {
			parts = append(parts, mn.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// ParseModifiers parses a "+" or "," separated modifier list such as
// "cmd+shift". The empty string and "none" parse to the empty set.
func ParseModifiers(s string) (Modifiers, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "none" {
		return 0, nil
	}
	var m Modifiers
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '+' || r == ',' }) {
		mod, ok := modifierAliases[strings.TrimSpace(part)]
		if !ok {
			return 0, fmt.Errorf("unknown modifier %q", part)
		}
		m |= mod
	}
	return m, nil
}

// Trigger is a physical input plus the exact set of modifiers that must be
// held for it to match.
type Trigger struct {
	Kind      Kind
	Modifiers Modifiers
}

// Matches reports whether t and other describe the same trigger.
// Modifier comparison is set equality, never subset.
func (t Trigger) Matches(other Trigger) bool {
	return t.Kind == other.Kind && t.Modifiers.Normalize() == other.Modifiers.Normalize()
}

func (t Trigger) String() string {
	if t.Modifiers.Normalize() == 0 {
		return t.Kind.String()
	}
	return t.Modifiers.String() + "+" + t.Kind.String()
}

// KindNames returns all kind names, sorted. Used for help texts.
func KindNames() []string {
	names := make([]string, 0, len(kindNames))
	for _, n := range kindNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
