package dispatch

import (
	"fmt"

	"mousebrainz/internal/input"
)

// Chords are the keystrokes zoom and navigation actions synthesize.
type Chords struct {
	ZoomIn     input.Chord
	ZoomOut    input.Chord
	Back       input.Chord
	Forward    input.Chord
	SpaceLeft  input.Chord
	SpaceRight input.Chord
}

// DefaultChords: zoom cmd+= / cmd+-, back cmd+[, forward cmd+], spaces
// ctrl+left / ctrl+right.
func DefaultChords() Chords {
	return Chords{
		ZoomIn:     input.Chord{Code: input.KeyEqual, Modifiers: input.ModCommand},
		ZoomOut:    input.Chord{Code: input.KeyMinus, Modifiers: input.ModCommand},
		Back:       input.Chord{Code: input.KeyLeftBrace, Modifiers: input.ModCommand},
		Forward:    input.Chord{Code: input.KeyRightBrace, Modifiers: input.ModCommand},
		SpaceLeft:  input.Chord{Code: input.KeyLeft, Modifiers: input.ModControl},
		SpaceRight: input.Chord{Code: input.KeyRight, Modifiers: input.ModControl},
	}
}

// ForDirection returns the chord for a navigation direction. smartZoom has
// none.
func (c Chords) ForDirection(d input.Direction) (input.Chord, bool) {
	switch d {
	case input.DirectionBack:
		return c.Back, true
	case input.DirectionForward:
		return c.Forward, true
	case input.DirectionSpaceLeft:
		return c.SpaceLeft, true
	case input.DirectionSpaceRight:
		return c.SpaceRight, true
	}
	return input.Chord{}, false
}

// ParseChords overrides the defaults with the non-empty entries of m, keyed
// by zoom_in, zoom_out, back, forward, space_left, space_right.
func ParseChords(m map[string]string) (Chords, error) {
	c := DefaultChords()
	slots := map[string]*input.Chord{
		"zoom_in":     &c.ZoomIn,
		"zoom_out":    &c.ZoomOut,
		"back":        &c.Back,
		"forward":     &c.Forward,
		"space_left":  &c.SpaceLeft,
		"space_right": &c.SpaceRight,
	}
	for name, spec := range m {
		slot, ok := slots[name]
		if !ok {
			return Chords{}, fmt.Errorf("unknown shortcut %q", name)
		}
		if spec == "" {
			continue
		}
		chord, err := input.ParseChord(spec)
		if err != nil {
			return Chords{}, fmt.Errorf("shortcut %s: %w", name, err)
		}
		*slot = chord
	}
	return c, nil
}
