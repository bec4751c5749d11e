package input

import (
	"fmt"
	"strconv"
	"strings"
)

// Linux key codes (from <linux/input-event-codes.h>) that chords and
// modifier tracking need by name.
const (
	KeyEsc        uint16 = 1
	KeyMinus      uint16 = 12
	KeyEqual      uint16 = 13
	KeyTab        uint16 = 15
	KeyLeftBrace  uint16 = 26
	KeyRightBrace uint16 = 27
	KeyEnter      uint16 = 28
	KeyLeftCtrl   uint16 = 29
	KeyLeftShift  uint16 = 42
	KeyRightShift uint16 = 54
	KeyLeftAlt    uint16 = 56
	KeySpace      uint16 = 57
	KeyRightCtrl  uint16 = 97
	KeyRightAlt   uint16 = 100
	KeyUp         uint16 = 103
	KeyLeft       uint16 = 105
	KeyRight      uint16 = 106
	KeyDown       uint16 = 108
	KeyLeftMeta   uint16 = 125
	KeyRightMeta  uint16 = 126
	KeyFn         uint16 = 0x1d0
)

// ModifierKeys maps each modifier to the key code used when it has to be
// synthesized.
var ModifierKeys = []struct {
	Mod  Modifiers
	Code uint16
}{
	{ModControl, KeyLeftCtrl},
	{ModShift, KeyLeftShift},
	{ModOption, KeyLeftAlt},
	{ModCommand, KeyLeftMeta},
	{ModFunction, KeyFn},
}

// ModifierForKey returns the modifier a physical key code contributes, if any.
func ModifierForKey(code uint16) (Modifiers, bool) {
	switch code {
	case KeyLeftCtrl, KeyRightCtrl:
		return ModControl, true
	case KeyLeftShift, KeyRightShift:
		return ModShift, true
	case KeyLeftAlt, KeyRightAlt:
		return ModOption, true
	case KeyLeftMeta, KeyRightMeta:
		return ModCommand, true
	case KeyFn:
		return ModFunction, true
	}
	return 0, false
}

var keyNames = map[string]uint16{
	"esc": KeyEsc, "escape": KeyEsc,
	"1": 2, "2": 3, "3": 4, "4": 5, "5": 6, "6": 7, "7": 8, "8": 9, "9": 10, "0": 11,
	"minus": KeyMinus, "-": KeyMinus,
	"equal": KeyEqual, "=": KeyEqual, "plus": KeyEqual,
	"backspace": 14,
	"tab":       KeyTab,
	"q": 16, "w": 17, "e": 18, "r": 19, "t": 20, "y": 21, "u": 22, "i": 23, "o": 24, "p": 25,
	"leftbrace": KeyLeftBrace, "[": KeyLeftBrace,
	"rightbrace": KeyRightBrace, "]": KeyRightBrace,
	"enter": KeyEnter, "return": KeyEnter,
	"a": 30, "s": 31, "d": 32, "f": 33, "g": 34, "h": 35, "j": 36, "k": 37, "l": 38,
	"semicolon": 39, "apostrophe": 40, "grave": 41, "backslash": 43,
	"z": 44, "x": 45, "c": 46, "v": 47, "b": 48, "n": 49, "m": 50,
	"comma": 51, "dot": 52, "period": 52, "slash": 53,
	"space": KeySpace,
	"f1": 59, "f2": 60, "f3": 61, "f4": 62, "f5": 63, "f6": 64, "f7": 65, "f8": 66, "f9": 67, "f10": 68,
	"f11": 87, "f12": 88,
	"home": 102, "up": KeyUp, "pageup": 104, "left": KeyLeft, "right": KeyRight,
	"end": 107, "down": KeyDown, "pagedown": 109, "insert": 110, "delete": 111,
	"mute": 113, "volumedown": 114, "volumeup": 115,
}

// KeyName returns a readable name for a key code, or its number.
func KeyName(code uint16) string {
	best := ""
	for name, c := range keyNames {
		if c != code {
			continue
		}
		// Prefer the longest alias ("leftbrace" over "[") for readability,
		// ties broken alphabetically for stable output.
		if len(name) > len(best) || (len(name) == len(best) && name < best) {
			best = name
		}
	}
	if best == "" {
		return strconv.Itoa(int(code))
	}
	return best
}

// ParseKey resolves a key name or a decimal/hex key code.
func ParseKey(s string) (uint16, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if code, ok := keyNames[s]; ok {
		return code, nil
	}
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("unknown key %q", s)
	}
	return uint16(n), nil
}

// Chord is a key plus the modifiers held while it is pressed.
type Chord struct {
	Code      uint16
	Modifiers Modifiers
}

func (c Chord) String() string {
	if c.Modifiers.Normalize() == 0 {
		return KeyName(c.Code)
	}
	return c.Modifiers.String() + "+" + KeyName(c.Code)
}

// ParseChord parses "cmd+shift+leftbrace" style chords. The last element is
// the key; everything before it is a modifier.
func ParseChord(s string) (Chord, error) {
	parts := strings.Split(strings.TrimSpace(s), "+")
	if len(parts) == 0 || strings.TrimSpace(parts[len(parts)-1]) == "" {
		return Chord{}, fmt.Errorf("invalid chord %q", s)
	}
	code, err := ParseKey(parts[len(parts)-1])
	if err != nil {
		return Chord{}, fmt.Errorf("chord %q: %w", s, err)
	}
	mods, err := ParseModifiers(strings.Join(parts[:len(parts)-1], "+"))
	if err != nil {
		return Chord{}, fmt.Errorf("chord %q: %w", s, err)
	}
	return Chord{Code: code, Modifiers: mods}, nil
}
