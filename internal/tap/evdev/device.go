//go:build linux

package evdev

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"unsafe"

	"golang.org/x/sys/unix"

	"mousebrainz/internal/tap"
)

// DeviceClass says how a node is used.
type DeviceClass uint8

const (
	ClassNone DeviceClass = iota
	// ClassMouse nodes are grabbed and their events run through the chain.
	ClassMouse
	// ClassKeyboard nodes are read without grabbing, for modifier state only.
	ClassKeyboard
)

func (c DeviceClass) String() string {
	switch c {
	case ClassMouse:
		return "mouse"
	case ClassKeyboard:
		return "keyboard"
	default:
		return "none"
	}
}

// DeviceInfo describes one /dev/input/event* node.
type DeviceInfo struct {
	Path  string
	Name  string
	Class DeviceClass
}

const defaultInputGlob = "/dev/input/event*"

// Discover classifies every event node. Nodes that cannot be opened are
// skipped; the virtual device is never returned.
func Discover(logger *slog.Logger) ([]DeviceInfo, error) {
	paths, err := filepath.Glob(defaultInputGlob)
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var out []DeviceInfo
	for _, p := range paths {
		info, err := Probe(p)
		if err != nil {
			logger.Debug("skipping input node", "path", p, "error", err)
			continue
		}
		if info.Name == VirtualDeviceName || info.Class == ClassNone {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// Probe opens path and classifies it from its capability bits.
func Probe(path string) (DeviceInfo, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return DeviceInfo{}, err
	}
	defer unix.Close(fd)

	name, err := deviceName(fd)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("EVIOCGNAME: %w", err)
	}
	evBits, err := deviceBits(fd, 0, evMax)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("EVIOCGBIT: %w", err)
	}
	var keyBits, relBits []byte
	if testBit(evBits, evKey) {
		if keyBits, err = deviceBits(fd, evKey, keyMax); err != nil {
			return DeviceInfo{}, fmt.Errorf("EVIOCGBIT key: %w", err)
		}
	}
	if testBit(evBits, evRel) {
		if relBits, err = deviceBits(fd, evRel, relMax); err != nil {
			return DeviceInfo{}, fmt.Errorf("EVIOCGBIT rel: %w", err)
		}
	}

	return DeviceInfo{Path: path, Name: name, Class: classify(keyBits, relBits)}, nil
}

func classify(keyBits, relBits []byte) DeviceClass {
	if testBit(keyBits, btnLeft) && (testBit(relBits, relX) || testBit(relBits, relWheel)) {
		return ClassMouse
	}
	if testBit(keyBits, keyLeftShift) {
		return ClassKeyboard
	}
	return ClassNone
}

func testBit(bits []byte, n int) bool {
	if n/8 >= len(bits) {
		return false
	}
	return bits[n/8]&(1<<(uint(n)%8)) != 0
}

func deviceName(fd int) (string, error) {
	buf := make([]byte, 256)
	if err := ioctlPtr(fd, eviocgname(len(buf)), unsafe.Pointer(&buf[0])); err != nil {
		return "", err
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf), nil
}

func deviceBits(fd, ev, maxCode int) ([]byte, error) {
	buf := make([]byte, maxCode/8+1)
	if err := ioctlPtr(fd, eviocgbit(ev, len(buf)), unsafe.Pointer(&buf[0])); err != nil {
		return nil, err
	}
	return buf, nil
}

// grab takes or releases exclusive access to a node.
func grab(fd int, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return unix.IoctlSetInt(fd, uint(eviocgrab), v)
}

// CheckAccess reports whether the process can capture and re-inject input:
// at least one mouse node readable and /dev/uinput writable. With prompt the
// missing permissions are explained in the log. It never elevates.
func CheckAccess(devices []string, prompt bool, logger *slog.Logger) bool {
	if logger == nil {
		logger = slog.Default()
	}
	err := accessError(devices)
	if err == nil {
		return true
	}
	if prompt {
		logger.Warn("input access missing; add the user to the 'input' group and grant access to /dev/uinput "+
			"(for example a udev rule: KERNEL==\"uinput\", GROUP=\"input\", MODE=\"0660\"), then log in again",
			"error", err)
	} else {
		logger.Debug("input access missing", "error", err)
	}
	return false
}

func accessError(devices []string) error {
	if err := unix.Access(uinputPath, unix.R_OK|unix.W_OK); err != nil {
		return fmt.Errorf("%w: %s: %v", tap.ErrNotAuthorized, uinputPath, err)
	}

	if len(devices) == 0 {
		paths, err := filepath.Glob(defaultInputGlob)
		if err != nil {
			return err
		}
		devices = paths
	}
	if len(devices) == 0 {
		return errors.New("no input event nodes found")
	}
	var lastErr error
	for _, p := range devices {
		if err := unix.Access(p, unix.R_OK); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: no readable input node: %v", tap.ErrNotAuthorized, lastErr)
}
