//go:build linux

// Package evdev binds the interception service to the Linux input stack:
// mice are grabbed exclusively through evdev, their events are fed to the
// handler chain and whatever survives is re-emitted on a uinput device.
package evdev

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// inputEvent mirrors struct input_event on 64-bit Linux:
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

const inputEventSize = 24

func (e inputEvent) String() string {
	return fmt.Sprintf("type=%#x code=%#x value=%d", e.Type, e.Code, e.Value)
}

// Event types.
const (
	evSyn = 0x00
	evKey = 0x01
	evRel = 0x02
	evMsc = 0x04
	evMax = 0x1f
)

// Sync codes.
const (
	synReport  = 0
	synDropped = 3
)

// Relative axes.
const (
	relX           = 0x00
	relY           = 0x01
	relHWheel      = 0x06
	relWheel       = 0x08
	relWheelHiRes  = 0x0b
	relHWheelHiRes = 0x0c
	relMax         = 0x0f
)

// Buttons.
const (
	btnMouse   = 0x110
	btnLeft    = 0x110
	btnRight   = 0x111
	btnMiddle  = 0x112
	btnSide    = 0x113
	btnExtra   = 0x114
	btnForward = 0x115
	btnBack    = 0x116
	btnTask    = 0x117
	btnJoy     = 0x120

	keyLeftShift = 42
	keyMax       = 0x2ff
)

// hiResPerDetent is the kernel's hi-res wheel resolution.
const hiResPerDetent = 120

// buttonIndex maps a BTN_* code to the conventional button index: left 0,
// right 1, middle 2, back 3, forward 4, others from 5.
func buttonIndex(code uint16) (int, bool) {
	switch code {
	case btnLeft:
		return 0, true
	case btnRight:
		return 1, true
	case btnMiddle:
		return 2, true
	case btnSide, btnBack:
		return 3, true
	case btnExtra, btnForward:
		return 4, true
	}
	if code >= btnMouse && code < btnJoy {
		return 5 + int(code-btnTask), true
	}
	return 0, false
}

func isButton(code uint16) bool {
	return code >= btnMouse && code < btnJoy
}

func isWheel(code uint16) bool {
	switch code {
	case relWheel, relHWheel, relWheelHiRes, relHWheelHiRes:
		return true
	}
	return false
}

func decodeEvents(buf []byte) []inputEvent {
	n := len(buf) / inputEventSize
	out := make([]inputEvent, 0, n)
	reader := bytes.NewReader(buf)
	for i := 0; i < n; i++ {
		var ev inputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			break
		}
		out = append(out, ev)
	}
	return out
}

func encodeEvents(evs []inputEvent) []byte {
	var buf bytes.Buffer
	buf.Grow(len(evs) * inputEventSize)
	for _, ev := range evs {
		_ = binary.Write(&buf, binary.LittleEndian, ev)
	}
	return buf.Bytes()
}

// ============================================================================
// ioctl request numbers (from <linux/input.h> and <linux/uinput.h>)
// ============================================================================

const (
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | typ<<8 | nr
}

var (
	eviocgrab = ioc(iocWrite, 'E', 0x90, 4)

	uiSetEvBit   = ioc(iocWrite, 'U', 100, 4)
	uiSetKeyBit  = ioc(iocWrite, 'U', 101, 4)
	uiSetRelBit  = ioc(iocWrite, 'U', 102, 4)
	uiDevSetup   = ioc(iocWrite, 'U', 3, uinputSetupSize)
	uiDevCreate  = ioc(0, 'U', 1, 0)
	uiDevDestroy = ioc(0, 'U', 2, 0)
)

func eviocgname(size int) uintptr {
	return ioc(iocRead, 'E', 0x06, uintptr(size))
}

func eviocgbit(ev, size int) uintptr {
	return ioc(iocRead, 'E', 0x20+uintptr(ev), uintptr(size))
}
