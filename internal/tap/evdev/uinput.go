//go:build linux

package evdev

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"mousebrainz/internal/input"
)

// VirtualDeviceName is the name the uinput device registers with. Discovery
// skips nodes carrying it.
const VirtualDeviceName = "mousebrainz virtual pointer"

const uinputPath = "/dev/uinput"

const uinputSetupSize = 92

// uinputSetup mirrors struct uinput_setup.
type uinputSetup struct {
	Bustype      uint16
	Vendor       uint16
	Product      uint16
	Version      uint16
	Name         [80]byte
	FFEffectsMax uint32
}

const busVirtual = 0x06

// VirtualDevice is the uinput device all surviving and synthesized input is
// written to. It is safe for concurrent use; each write is one whole frame.
type VirtualDevice struct {
	mu     sync.Mutex
	fd     int
	closed bool
	codec  *scrollCodec
	logger *slog.Logger
}

// OpenVirtualDevice creates the uinput device. unitsPerDetent is the number
// of engine scroll units per wheel detent.
func OpenVirtualDevice(unitsPerDetent float64, logger *slog.Logger) (*VirtualDevice, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fd, err := unix.Open(uinputPath, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", uinputPath, err)
	}

	if err := setupVirtualDevice(fd); err != nil {
		unix.Close(fd)
		return nil, err
	}

	logger.Info("virtual input device created", "name", VirtualDeviceName)
	return &VirtualDevice{
		fd:     fd,
		codec:  newScrollCodec(unitsPerDetent),
		logger: logger,
	}, nil
}

func setupVirtualDevice(fd int) error {
	for _, ev := range []int{evKey, evRel, evSyn} {
		if err := unix.IoctlSetInt(fd, uint(uiSetEvBit), ev); err != nil {
			return fmt.Errorf("UI_SET_EVBIT %d: %w", ev, err)
		}
	}
	// Keyboard keys for synthesis, then every mouse button.
	for code := 1; code < btnMouse; code++ {
		if err := unix.IoctlSetInt(fd, uint(uiSetKeyBit), code); err != nil {
			return fmt.Errorf("UI_SET_KEYBIT %d: %w", code, err)
		}
	}
	for code := btnMouse; code < btnJoy; code++ {
		if err := unix.IoctlSetInt(fd, uint(uiSetKeyBit), code); err != nil {
			return fmt.Errorf("UI_SET_KEYBIT %d: %w", code, err)
		}
	}
	if err := unix.IoctlSetInt(fd, uint(uiSetKeyBit), int(input.KeyFn)); err != nil {
		return fmt.Errorf("UI_SET_KEYBIT fn: %w", err)
	}
	for _, rel := range []int{relX, relY, relHWheel, relWheel, relWheelHiRes, relHWheelHiRes} {
		if err := unix.IoctlSetInt(fd, uint(uiSetRelBit), rel); err != nil {
			return fmt.Errorf("UI_SET_RELBIT %d: %w", rel, err)
		}
	}

	setup := uinputSetup{
		Bustype: busVirtual,
		Vendor:  0x1d6b,
		Product: 0x4d42,
		Version: 1,
	}
	copy(setup.Name[:], VirtualDeviceName)
	if err := ioctlPtr(fd, uiDevSetup, unsafe.Pointer(&setup)); err != nil {
		return fmt.Errorf("UI_DEV_SETUP: %w", err)
	}
	if err := ioctlPtr(fd, uiDevCreate, nil); err != nil {
		return fmt.Errorf("UI_DEV_CREATE: %w", err)
	}
	return nil
}

func ioctlPtr(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// Write emits one frame. The caller includes the terminating SYN_REPORT.
func (d *VirtualDevice) Write(evs []inputEvent) error {
	if len(evs) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeLocked(evs)
}

func (d *VirtualDevice) writeLocked(evs []inputEvent) error {
	if d.closed {
		return errors.New("virtual device closed")
	}
	buf := encodeEvents(evs)
	n, err := unix.Write(d.fd, buf)
	if err != nil {
		return fmt.Errorf("write uinput: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("write uinput: short write %d/%d", n, len(buf))
	}
	return nil
}

// PostKey synthesizes a key-down and key-up of code with mods held. Modifier
// keys are pressed before the key and released after it.
func (d *VirtualDevice) PostKey(code uint16, mods input.Modifiers) error {
	return d.writeFrames(keyFrames(code, mods))
}

// PostScroll emits one synthetic scroll frame of engine units. userData is
// the source identifier of the synthetic event; the virtual device is never
// read back by the hook, so it is only logged.
func (d *VirtualDevice) PostScroll(dy, dx float64, userData int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	evs := d.codec.encode(dy, dx)
	if len(evs) == 0 {
		return nil
	}
	evs = append(evs, inputEvent{Type: evSyn, Code: synReport})
	d.logger.Debug("synthetic scroll", "dy", dy, "dx", dx, "source", userData)
	return d.writeLocked(evs)
}

func (d *VirtualDevice) writeFrames(frames [][]inputEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range frames {
		if err := d.writeLocked(f); err != nil {
			return err
		}
	}
	return nil
}

// keyFrames builds the frame sequence for a chord: modifiers down, key down,
// key up, modifiers up.
func keyFrames(code uint16, mods input.Modifiers) [][]inputEvent {
	syn := inputEvent{Type: evSyn, Code: synReport}

	var modCodes []uint16
	for _, mk := range input.ModifierKeys {
		if mods.Has(mk.Mod) {
			modCodes = append(modCodes, mk.Code)
		}
	}

	var frames [][]inputEvent
	if len(modCodes) > 0 {
		var down []inputEvent
		for _, c := range modCodes {
			down = append(down, inputEvent{Type: evKey, Code: c, Value: 1})
		}
		frames = append(frames, append(down, syn))
	}
	frames = append(frames,
		[]inputEvent{{Type: evKey, Code: code, Value: 1}, syn},
		[]inputEvent{{Type: evKey, Code: code, Value: 0}, syn},
	)
	if len(modCodes) > 0 {
		var up []inputEvent
		for i := len(modCodes) - 1; i >= 0; i-- {
			up = append(up, inputEvent{Type: evKey, Code: modCodes[i], Value: 0})
		}
		frames = append(frames, append(up, syn))
	}
	return frames
}

// Close destroys the virtual device.
func (d *VirtualDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	_ = ioctlPtr(d.fd, uiDevDestroy, nil)
	return unix.Close(d.fd)
}
