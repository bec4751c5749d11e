//go:build linux

package evdev

import (
	"testing"

	"mousebrainz/internal/input"
	"mousebrainz/internal/tap"
)

func TestIoctlNumbers(t *testing.T) {
	cases := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"EVIOCGRAB", eviocgrab, 0x40044590},
		{"EVIOCGNAME(256)", eviocgname(256), 0x81004506},
		{"EVIOCGBIT(0,4)", eviocgbit(0, 4), 0x80044520},
		{"EVIOCGBIT(EV_KEY,96)", eviocgbit(evKey, 96), 0x80604521},
		{"UI_SET_EVBIT", uiSetEvBit, 0x40045564},
		{"UI_SET_KEYBIT", uiSetKeyBit, 0x40045565},
		{"UI_SET_RELBIT", uiSetRelBit, 0x40045566},
		{"UI_DEV_SETUP", uiDevSetup, 0x405c5503},
		{"UI_DEV_CREATE", uiDevCreate, 0x5501},
		{"UI_DEV_DESTROY", uiDevDestroy, 0x5502},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("%s = %#x, want %#x", c.name, c.got, c.want)
		}
	}
}

func TestEventCodecRoundTrip(t *testing.T) {
	evs := []inputEvent{
		{Sec: 1, Usec: 2, Type: evRel, Code: relWheel, Value: -1},
		{Type: evSyn, Code: synReport},
	}
	buf := encodeEvents(evs)
	if len(buf) != 2*inputEventSize {
		t.Fatalf("encoded %d bytes", len(buf))
	}
	got := decodeEvents(buf)
	if len(got) != 2 || got[0] != evs[0] || got[1] != evs[1] {
		t.Fatalf("decoded %v", got)
	}
}

func TestButtonIndex(t *testing.T) {
	cases := map[uint16]int{
		btnLeft:    0,
		btnRight:   1,
		btnMiddle:  2,
		btnSide:    3,
		btnBack:    3,
		btnExtra:   4,
		btnForward: 4,
		btnTask:    5,
	}
	for code, want := range cases {
		got, ok := buttonIndex(code)
		if !ok || got != want {
			t.Errorf("buttonIndex(%#x) = %d,%v want %d", code, got, ok, want)
		}
		if k := input.KindFromButton(got); want <= 4 && k == input.KindOther {
			t.Errorf("index %d should map to a named kind", got)
		}
	}
	if _, ok := buttonIndex(30); ok {
		t.Fatal("keyboard key must not be a button")
	}
}

func TestClassify(t *testing.T) {
	bits := func(codes ...int) []byte {
		b := make([]byte, keyMax/8+1)
		for _, c := range codes {
			b[c/8] |= 1 << (uint(c) % 8)
		}
		return b
	}
	if c := classify(bits(btnLeft, btnRight), bits(relX, relY, relWheel)); c != ClassMouse {
		t.Errorf("mouse classified as %s", c)
	}
	if c := classify(bits(keyLeftShift, 30), nil); c != ClassKeyboard {
		t.Errorf("keyboard classified as %s", c)
	}
	if c := classify(bits(116), nil); c != ClassNone {
		t.Errorf("power button classified as %s", c)
	}
}

func TestModTracker(t *testing.T) {
	m := newModTracker()
	m.observe(inputEvent{Type: evKey, Code: input.KeyLeftMeta, Value: 1})
	m.observe(inputEvent{Type: evKey, Code: input.KeyRightShift, Value: 1})
	m.observe(inputEvent{Type: evKey, Code: 30, Value: 1})
	if got := m.current(); got != input.ModCommand|input.ModShift {
		t.Fatalf("mods = %s", got)
	}

	// Both shift keys held, one released: shift stays.
	m.observe(inputEvent{Type: evKey, Code: input.KeyLeftShift, Value: 1})
	m.observe(inputEvent{Type: evKey, Code: input.KeyRightShift, Value: 0})
	if !m.current().Has(input.ModShift) {
		t.Fatal("shift released while still held on the other side")
	}

	m.reset()
	if m.current() != 0 {
		t.Fatal("reset left modifiers held")
	}
}

func TestScrollCodecCarriesRemainders(t *testing.T) {
	c := newScrollCodec(10)

	// 10 units = one detent = 120 hi-res.
	evs := c.encode(10, 0)
	if len(evs) != 2 {
		t.Fatalf("events = %v", evs)
	}
	if evs[0].Code != relWheelHiRes || evs[0].Value != 120 {
		t.Fatalf("hi-res event = %v", evs[0])
	}
	if evs[1].Code != relWheel || evs[1].Value != 1 {
		t.Fatalf("detent event = %v", evs[1])
	}

	// 0.05 units = 0.6 hi-res: nothing until the remainder adds up.
	if evs := c.encode(0.05, 0); len(evs) != 0 {
		t.Fatalf("sub-unit delta emitted %v", evs)
	}
	evs = c.encode(0.05, 0)
	if len(evs) != 1 || evs[0].Value != 1 {
		t.Fatalf("carried remainder emitted %v", evs)
	}

	// Half a detent twice gives one legacy detent on the second call.
	c = newScrollCodec(10)
	if evs := c.encode(0, -5); len(evs) != 1 || evs[0].Code != relHWheelHiRes || evs[0].Value != -60 {
		t.Fatalf("first half detent = %v", evs)
	}
	evs = c.encode(0, -5)
	if len(evs) != 2 || evs[1].Code != relHWheel || evs[1].Value != -1 {
		t.Fatalf("second half detent = %v", evs)
	}

	if got := c.toUnits(-240); got != -20 {
		t.Fatalf("toUnits(-240) = %v", got)
	}
}

func TestKeyFrames(t *testing.T) {
	frames := keyFrames(input.KeyLeftBrace, input.ModCommand|input.ModShift)
	if len(frames) != 4 {
		t.Fatalf("got %d frames", len(frames))
	}
	down := frames[0]
	if len(down) != 3 || down[0].Code != input.KeyLeftShift || down[1].Code != input.KeyLeftMeta || down[0].Value != 1 {
		t.Fatalf("modifier down frame = %v", down)
	}
	if frames[1][0] != (inputEvent{Type: evKey, Code: input.KeyLeftBrace, Value: 1}) {
		t.Fatalf("key down = %v", frames[1])
	}
	if frames[2][0] != (inputEvent{Type: evKey, Code: input.KeyLeftBrace, Value: 0}) {
		t.Fatalf("key up = %v", frames[2])
	}
	up := frames[3]
	if up[0].Code != input.KeyLeftMeta || up[1].Code != input.KeyLeftShift || up[0].Value != 0 {
		t.Fatalf("modifier up frame = %v", up)
	}
	for i, f := range frames {
		if f[len(f)-1] != (inputEvent{Type: evSyn, Code: synReport}) {
			t.Fatalf("frame %d not terminated by SYN_REPORT", i)
		}
	}

	if frames := keyFrames(input.KeyTab, 0); len(frames) != 2 {
		t.Fatalf("plain key produced %d frames", len(frames))
	}
}

// chain records delivered events and answers with a fixed decision.
type chain struct {
	got    []tap.Event
	decide func(tap.Event) (tap.Event, bool)
}

func (c *chain) deliver(ev tap.Event) (tap.Event, bool) {
	c.got = append(c.got, ev)
	if c.decide != nil {
		return c.decide(ev)
	}
	return ev, true
}

func feedAll(tr *translator, c *chain, evs ...inputEvent) [][]inputEvent {
	var frames [][]inputEvent
	for _, ev := range evs {
		if out := tr.feed(ev, c.deliver); out != nil {
			frames = append(frames, out)
		}
	}
	return frames
}

var syn = inputEvent{Type: evSyn, Code: synReport}

func TestTranslatorMotionPassesUntouched(t *testing.T) {
	tr := newTranslator("mouse", newScrollCodec(10), newModTracker())
	c := &chain{}

	frames := feedAll(tr, c,
		inputEvent{Type: evRel, Code: relX, Value: 3},
		inputEvent{Type: evRel, Code: relY, Value: -1},
		syn,
	)
	if len(c.got) != 0 {
		t.Fatalf("motion delivered to chain: %v", c.got)
	}
	if len(frames) != 1 || len(frames[0]) != 3 {
		t.Fatalf("frames = %v", frames)
	}
}

func TestTranslatorButtonConsumedWithRelease(t *testing.T) {
	mods := newModTracker()
	mods.observe(inputEvent{Type: evKey, Code: input.KeyLeftCtrl, Value: 1})
	tr := newTranslator("mouse", newScrollCodec(10), mods)
	c := &chain{decide: func(tap.Event) (tap.Event, bool) { return tap.Event{}, false }}

	frames := feedAll(tr, c,
		inputEvent{Type: evMsc, Code: 4, Value: 0x90004},
		inputEvent{Type: evKey, Code: btnSide, Value: 1},
		syn,
		inputEvent{Type: evKey, Code: btnSide, Value: 0},
		syn,
	)
	if len(c.got) != 1 {
		t.Fatalf("delivered %d events", len(c.got))
	}
	ev := c.got[0]
	if ev.Type != tap.EventButtonDown || ev.Button != 3 || ev.Modifiers != input.ModControl {
		t.Fatalf("delivered %+v", ev)
	}
	if len(frames) != 0 {
		t.Fatalf("consumed press or its release was re-emitted: %v", frames)
	}
}

func TestTranslatorButtonPassThrough(t *testing.T) {
	tr := newTranslator("mouse", newScrollCodec(10), newModTracker())
	c := &chain{}

	frames := feedAll(tr, c,
		inputEvent{Type: evKey, Code: btnLeft, Value: 1},
		syn,
		inputEvent{Type: evKey, Code: btnLeft, Value: 0},
		syn,
	)
	if len(c.got) != 1 || c.got[0].Button != 0 {
		t.Fatalf("delivered %v", c.got)
	}
	if len(frames) != 2 {
		t.Fatalf("frames = %v", frames)
	}
	if frames[0][0].Value != 1 || frames[1][0].Value != 0 {
		t.Fatalf("press/release not forwarded: %v", frames)
	}
}

func TestTranslatorScrollFrame(t *testing.T) {
	tr := newTranslator("mouse", newScrollCodec(10), newModTracker())
	c := &chain{}

	wheel := []inputEvent{
		{Type: evRel, Code: relWheel, Value: 1},
		{Type: evRel, Code: relWheelHiRes, Value: 120},
		{Type: evRel, Code: relHWheelHiRes, Value: -60},
	}
	frames := feedAll(tr, c, append(wheel, syn)...)

	if len(c.got) != 1 {
		t.Fatalf("delivered %d events", len(c.got))
	}
	ev := c.got[0]
	if ev.Type != tap.EventScroll || ev.DeltaY != 10 || ev.DeltaX != -5 {
		t.Fatalf("scroll = %+v", ev)
	}
	// Unchanged deltas forward the original wheel events.
	if len(frames) != 1 || len(frames[0]) != 4 {
		t.Fatalf("frames = %v", frames)
	}
	for i, w := range wheel {
		if frames[0][i] != w {
			t.Fatalf("frame[%d] = %v, want %v", i, frames[0][i], w)
		}
	}
}

func TestTranslatorScrollLegacyOnly(t *testing.T) {
	tr := newTranslator("mouse", newScrollCodec(10), newModTracker())
	c := &chain{}

	feedAll(tr, c, inputEvent{Type: evRel, Code: relWheel, Value: -2}, syn)
	if len(c.got) != 1 || c.got[0].DeltaY != -20 {
		t.Fatalf("delivered %v", c.got)
	}
}

func TestTranslatorScrollModifiedIsReencoded(t *testing.T) {
	tr := newTranslator("mouse", newScrollCodec(10), newModTracker())
	c := &chain{decide: func(ev tap.Event) (tap.Event, bool) {
		ev.DeltaY *= 2
		return ev, true
	}}

	frames := feedAll(tr, c,
		inputEvent{Type: evRel, Code: relWheelHiRes, Value: 120},
		inputEvent{Type: evRel, Code: relWheel, Value: 1},
		syn,
	)
	if len(frames) != 1 {
		t.Fatalf("frames = %v", frames)
	}
	f := frames[0]
	if len(f) != 3 || f[0].Code != relWheelHiRes || f[0].Value != 240 || f[1].Code != relWheel || f[1].Value != 2 {
		t.Fatalf("re-encoded frame = %v", f)
	}
}

func TestTranslatorScrollConsumed(t *testing.T) {
	tr := newTranslator("mouse", newScrollCodec(10), newModTracker())
	c := &chain{decide: func(tap.Event) (tap.Event, bool) { return tap.Event{}, false }}

	frames := feedAll(tr, c,
		inputEvent{Type: evRel, Code: relWheel, Value: 1},
		inputEvent{Type: evRel, Code: relX, Value: 2},
		syn,
	)
	if len(frames) != 1 || len(frames[0]) != 2 || frames[0][0].Code != relX {
		t.Fatalf("expected motion only, got %v", frames)
	}
}

func TestTranslatorSynDropped(t *testing.T) {
	tr := newTranslator("mouse", newScrollCodec(10), newModTracker())
	c := &chain{}

	frames := feedAll(tr, c,
		inputEvent{Type: evRel, Code: relWheel, Value: 1},
		inputEvent{Type: evSyn, Code: synDropped},
		inputEvent{Type: evKey, Code: btnLeft, Value: 1},
		syn,
		inputEvent{Type: evRel, Code: relX, Value: 1},
		syn,
	)
	if len(c.got) != 1 || c.got[0].Type != tap.EventTapDisabledByTimeout {
		t.Fatalf("delivered %v", c.got)
	}
	if len(frames) != 1 || frames[0][0].Code != relX {
		t.Fatalf("frames after drop = %v", frames)
	}
}

type fakeWriter struct {
	frames [][]inputEvent
}

func (w *fakeWriter) Write(evs []inputEvent) error {
	w.frames = append(w.frames, evs)
	return nil
}

func TestHookCloseWithoutInstall(t *testing.T) {
	h := newHook(Config{}, &fakeWriter{}, nil)
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
}
