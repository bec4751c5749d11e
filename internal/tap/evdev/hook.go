//go:build linux

package evdev

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"

	"mousebrainz/internal/tap"
)

// Config selects the nodes a hook captures.
type Config struct {
	// Mice are grabbed. Empty means every node classified as a mouse.
	Mice []string
	// Keyboards are read for modifier state. Empty means every node
	// classified as a keyboard.
	Keyboards []string
	// UnitsPerDetent converts wheel detents into engine scroll units.
	UnitsPerDetent float64
}

// frameWriter receives re-emitted frames. *VirtualDevice implements it.
type frameWriter interface {
	Write(evs []inputEvent) error
}

type node struct {
	path  string
	name  string
	fd    int
	class DeviceClass
	tr    *translator
}

// Hook captures mice through evdev. It implements tap.Hook and is single use.
type Hook struct {
	cfg    Config
	out    frameWriter
	logger *slog.Logger

	mu    sync.Mutex
	nodes map[int]*node
	mods  *modTracker
	codec *scrollCodec

	epfd int
	evfd int
	done chan struct{}

	closeOnce sync.Once
}

// NewHook creates an uninstalled hook writing surviving frames to out.
func NewHook(cfg Config, out *VirtualDevice, logger *slog.Logger) *Hook {
	return newHook(cfg, out, logger)
}

func newHook(cfg Config, out frameWriter, logger *slog.Logger) *Hook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hook{
		cfg:    cfg,
		out:    out,
		logger: logger,
		nodes:  make(map[int]*node),
		mods:   newModTracker(),
		codec:  newScrollCodec(cfg.UnitsPerDetent),
		epfd:   -1,
		evfd:   -1,
	}
}

// Install opens and grabs the mice, opens the keyboards and starts the
// reader goroutine.
func (h *Hook) Install(deliver tap.DeliverFunc) error {
	if err := accessError(h.cfg.Mice); err != nil {
		return err
	}

	mice, keyboards, err := h.resolve()
	if err != nil {
		return err
	}
	if len(mice) == 0 {
		return errors.New("no mouse devices found")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, info := range mice {
		if err := h.openLocked(info, true); err != nil {
			h.releaseLocked()
			return err
		}
	}
	for _, info := range keyboards {
		if err := h.openLocked(info, false); err != nil {
			// Modifier tracking degrades gracefully; capture does not.
			h.logger.Warn("keyboard not readable, modifiers from it are ignored", "path", info.Path, "error", err)
		}
	}

	if err := h.setupEpollLocked(); err != nil {
		h.releaseLocked()
		return err
	}

	h.done = make(chan struct{})
	go h.readLoop(deliver, h.done)
	return nil
}

func (h *Hook) resolve() (mice, keyboards []DeviceInfo, err error) {
	var found []DeviceInfo
	if len(h.cfg.Mice) == 0 || len(h.cfg.Keyboards) == 0 {
		found, err = Discover(h.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("discover input devices: %w", err)
		}
	}

	pick := func(paths []string, class DeviceClass) ([]DeviceInfo, error) {
		if len(paths) == 0 {
			var out []DeviceInfo
			for _, d := range found {
				if d.Class == class {
					out = append(out, d)
				}
			}
			return out, nil
		}
		out := make([]DeviceInfo, 0, len(paths))
		for _, p := range paths {
			info, err := Probe(p)
			if err != nil {
				return nil, fmt.Errorf("probe %s: %w", p, err)
			}
			out = append(out, info)
		}
		return out, nil
	}

	if mice, err = pick(h.cfg.Mice, ClassMouse); err != nil {
		return nil, nil, err
	}
	if keyboards, err = pick(h.cfg.Keyboards, ClassKeyboard); err != nil {
		return nil, nil, err
	}
	return mice, keyboards, nil
}

func (h *Hook) openLocked(info DeviceInfo, capture bool) error {
	fd, err := unix.Open(info.Path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", info.Path, err)
	}
	n := &node{path: info.Path, name: info.Name, fd: fd, class: ClassKeyboard}
	if capture {
		if err := grab(fd, true); err != nil {
			unix.Close(fd)
			return fmt.Errorf("grab %s: %w", info.Path, err)
		}
		n.class = ClassMouse
		n.tr = newTranslator(info.Path, h.codec, h.mods)
	}
	h.nodes[fd] = n
	h.logger.Info("input device opened", "path", info.Path, "name", info.Name, "class", n.class)
	return nil
}

func (h *Hook) setupEpollLocked() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	h.epfd = epfd

	evfd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return fmt.Errorf("eventfd: %w", err)
	}
	h.evfd = evfd

	fds := []int{evfd}
	for fd := range h.nodes {
		fds = append(fds, fd)
	}
	for _, fd := range fds {
		event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			return fmt.Errorf("epoll_ctl_add fd=%d: %w", fd, err)
		}
	}
	return nil
}

// readLoop is the delivery path: one goroutine, epoll over every node plus
// the shutdown eventfd.
func (h *Hook) readLoop(deliver tap.DeliverFunc, done chan<- struct{}) {
	defer close(done)

	const maxEvents = 32
	epollEvents := make([]unix.EpollEvent, maxEvents)
	buf := make([]byte, inputEventSize*64)

	for {
		n, err := unix.EpollWait(h.epfd, epollEvents, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			h.logger.Error("epoll_wait failed, input capture stopped", "error", err)
			return
		}

		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			if fd == h.evfd {
				return
			}

			h.mu.Lock()
			nd := h.nodes[fd]
			h.mu.Unlock()
			if nd == nil {
				continue
			}

			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				h.logger.Warn("input device gone", "path", nd.path)
				h.dropNode(nd)
				continue
			}
			h.drain(nd, buf, deliver)
		}
	}
}

// drain reads everything currently queued on a node.
func (h *Hook) drain(nd *node, buf []byte, deliver tap.DeliverFunc) {
	for {
		n, err := unix.Read(nd.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				return
			}
			h.logger.Warn("read from input device failed", "path", nd.path, "error", err)
			h.dropNode(nd)
			return
		}
		if n <= 0 {
			return
		}

		for _, ev := range decodeEvents(buf[:n]) {
			if nd.class == ClassKeyboard {
				if ev.Type == evSyn && ev.Code == synDropped {
					h.mods.reset()
				}
				h.mods.observe(ev)
				continue
			}
			if out := nd.tr.feed(ev, deliver); len(out) > 0 {
				if err := h.out.Write(out); err != nil {
					h.logger.Debug("re-emit failed, frame dropped", "path", nd.path, "error", err)
				}
			}
		}
	}
}

// TODO: pick up hotplugged mice by watching /dev/input instead of only
// dropping nodes that disappear.
func (h *Hook) dropNode(nd *node) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = unix.EpollCtl(h.epfd, unix.EPOLL_CTL_DEL, nd.fd, nil)
	unix.Close(nd.fd)
	delete(h.nodes, nd.fd)
}

// Enable re-asserts the grab on every mouse after the kernel dropped events.
// A node we already hold reports EBUSY, which counts as success. Frame state
// was already discarded by the translator that reported the drop.
func (h *Hook) Enable() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for _, nd := range h.nodes {
		if nd.class != ClassMouse {
			continue
		}
		if err := grab(nd.fd, true); err != nil && !errors.Is(err, unix.EBUSY) {
			errs = append(errs, fmt.Errorf("grab %s: %w", nd.path, err))
		}
	}
	return errors.Join(errs...)
}

// Close stops the reader, releases every grab and closes all descriptors.
// No event is delivered after Close returns.
func (h *Hook) Close() error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		evfd, done := h.evfd, h.done
		h.mu.Unlock()

		if done != nil {
			var one [8]byte
			binary.NativeEndian.PutUint64(one[:], 1)
			if _, err := unix.Write(evfd, one[:]); err != nil {
				h.logger.Warn("signal input reader", "error", err)
			}
			<-done
		}

		h.mu.Lock()
		h.releaseLocked()
		h.mu.Unlock()
	})
	return nil
}

func (h *Hook) releaseLocked() {
	for fd, nd := range h.nodes {
		if nd.class == ClassMouse {
			_ = grab(fd, false)
		}
		unix.Close(fd)
		delete(h.nodes, fd)
	}
	if h.epfd >= 0 {
		unix.Close(h.epfd)
		h.epfd = -1
	}
	if h.evfd >= 0 {
		unix.Close(h.evfd)
		h.evfd = -1
	}
	h.mods.reset()
}
