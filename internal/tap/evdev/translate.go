//go:build linux

package evdev

import (
	"math"
	"time"

	"mousebrainz/internal/input"
	"mousebrainz/internal/tap"
)

// modTracker keeps the set of held modifier keys, fed from keyboard nodes and
// from key events on grabbed mice. Only the reader goroutine touches it.
type modTracker struct {
	held map[uint16]bool
}

func newModTracker() *modTracker {
	return &modTracker{held: make(map[uint16]bool)}
}

// observe updates the tracker from an EV_KEY event. Autorepeat (value 2)
// counts as held.
func (m *modTracker) observe(ev inputEvent) {
	if ev.Type != evKey {
		return
	}
	if _, ok := input.ModifierForKey(ev.Code); !ok {
		return
	}
	if ev.Value == 0 {
		delete(m.held, ev.Code)
	} else {
		m.held[ev.Code] = true
	}
}

func (m *modTracker) current() input.Modifiers {
	var mods input.Modifiers
	for code := range m.held {
		mod, _ := input.ModifierForKey(code)
		mods |= mod
	}
	return mods
}

func (m *modTracker) reset() {
	clear(m.held)
}

// scrollCodec converts between kernel hi-res wheel units and engine units,
// and encodes engine deltas back into wheel events.
type scrollCodec struct {
	unitsPerDetent float64

	// Fractional hi-res remainders and partial-detent accumulators per axis.
	remV, remH float64
	accV, accH int32
}

func newScrollCodec(unitsPerDetent float64) *scrollCodec {
	if unitsPerDetent <= 0 {
		unitsPerDetent = 10
	}
	return &scrollCodec{unitsPerDetent: unitsPerDetent}
}

func (c *scrollCodec) toUnits(hiRes int32) float64 {
	return float64(hiRes) * c.unitsPerDetent / hiResPerDetent
}

// encode turns an engine delta into hi-res wheel events plus a legacy detent
// event whenever an accumulator crosses a full detent.
func (c *scrollCodec) encode(dy, dx float64) []inputEvent {
	var out []inputEvent
	out = c.encodeAxis(out, dy, &c.remV, &c.accV, relWheelHiRes, relWheel)
	out = c.encodeAxis(out, dx, &c.remH, &c.accH, relHWheelHiRes, relHWheel)
	return out
}

func (c *scrollCodec) encodeAxis(out []inputEvent, units float64, rem *float64, acc *int32, hiCode, loCode uint16) []inputEvent {
	if units == 0 || math.IsNaN(units) || math.IsInf(units, 0) {
		return out
	}
	exact := units*hiResPerDetent/c.unitsPerDetent + *rem
	hi := math.Trunc(exact)
	*rem = exact - hi
	if hi == 0 {
		return out
	}
	if hi > math.MaxInt32 {
		hi = math.MaxInt32
	}
	if hi < math.MinInt32 {
		hi = math.MinInt32
	}
	v := int32(hi)
	out = append(out, inputEvent{Type: evRel, Code: hiCode, Value: v})

	*acc += v
	if detents := *acc / hiResPerDetent; detents != 0 {
		*acc -= detents * hiResPerDetent
		out = append(out, inputEvent{Type: evRel, Code: loCode, Value: detents})
	}
	return out
}

// translator groups a mouse node's events into SYN_REPORT frames, delivers the
// qualifying ones to the service and returns what must be re-emitted.
type translator struct {
	device string
	codec  *scrollCodec
	mods   *modTracker
	now    func() time.Time

	frame    []inputEvent
	dropping bool

	// suppressed holds buttons whose press was consumed; their release is
	// swallowed too.
	suppressed map[uint16]bool
}

func newTranslator(device string, codec *scrollCodec, mods *modTracker) *translator {
	return &translator{
		device:     device,
		codec:      codec,
		mods:       mods,
		now:        time.Now,
		suppressed: make(map[uint16]bool),
	}
}

// feed consumes one raw event. When it completes a frame the events to
// re-emit (terminated by SYN_REPORT) are returned.
func (t *translator) feed(ev inputEvent, deliver tap.DeliverFunc) []inputEvent {
	if ev.Type == evSyn {
		switch ev.Code {
		case synDropped:
			// The kernel buffer overflowed: the partial frame is unreliable
			// and everything up to the next SYN_REPORT must be discarded.
			t.frame = t.frame[:0]
			t.dropping = true
			t.mods.reset()
			deliver(tap.Event{Type: tap.EventTapDisabledByTimeout, Device: t.device, At: t.now()})
			return nil
		case synReport:
			if t.dropping {
				t.dropping = false
				t.frame = t.frame[:0]
				return nil
			}
			out := t.flush(deliver)
			t.frame = t.frame[:0]
			return out
		}
		return nil
	}
	if t.dropping {
		return nil
	}
	t.mods.observe(ev)
	t.frame = append(t.frame, ev)
	return nil
}

func (t *translator) flush(deliver tap.DeliverFunc) []inputEvent {
	if len(t.frame) == 0 {
		return nil
	}

	var out []inputEvent
	var wheel []inputEvent
	var hiV, hiH, loV, loH int32
	var haveHiV, haveHiH bool

	mods := t.mods.current()
	at := t.now()

	for _, ev := range t.frame {
		switch {
		case ev.Type == evMsc:
			// Scan codes describe the physical device, not the virtual one.
			continue

		case ev.Type == evKey && isButton(ev.Code):
			if ev.Value != 1 {
				if t.suppressed[ev.Code] {
					if ev.Value == 0 {
						delete(t.suppressed, ev.Code)
					}
					continue
				}
				out = append(out, ev)
				continue
			}
			idx, _ := buttonIndex(ev.Code)
			if _, ok := deliver(tap.Event{
				Type:      tap.EventButtonDown,
				Button:    idx,
				Modifiers: mods,
				Device:    t.device,
				At:        at,
			}); !ok {
				t.suppressed[ev.Code] = true
				continue
			}
			delete(t.suppressed, ev.Code)
			out = append(out, ev)

		case ev.Type == evRel && isWheel(ev.Code):
			wheel = append(wheel, ev)
			switch ev.Code {
			case relWheelHiRes:
				hiV, haveHiV = hiV+ev.Value, true
			case relHWheelHiRes:
				hiH, haveHiH = hiH+ev.Value, true
			case relWheel:
				loV += ev.Value
			case relHWheel:
				loH += ev.Value
			}

		default:
			out = append(out, ev)
		}
	}

	if len(wheel) > 0 {
		if !haveHiV {
			hiV = loV * hiResPerDetent
		}
		if !haveHiH {
			hiH = loH * hiResPerDetent
		}
		in := tap.Event{
			Type:      tap.EventScroll,
			DeltaY:    t.codec.toUnits(hiV),
			DeltaX:    t.codec.toUnits(hiH),
			Modifiers: mods,
			Device:    t.device,
			At:        at,
		}
		if res, ok := deliver(in); ok {
			if res.DeltaY == in.DeltaY && res.DeltaX == in.DeltaX {
				out = append(out, wheel...)
			} else {
				out = append(out, t.codec.encode(res.DeltaY, res.DeltaX)...)
			}
		}
	}

	if len(out) == 0 {
		return nil
	}
	return append(out, inputEvent{Type: evSyn, Code: synReport})
}
