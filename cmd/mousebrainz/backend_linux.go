//go:build linux

package main

import (
	"log/slog"
	"sync"

	"mousebrainz/internal/dispatch"
	"mousebrainz/internal/input"
	"mousebrainz/internal/tap"
	"mousebrainz/internal/tap/evdev"
)

// evdevBackend captures with EVIOCGRAB and writes through one shared uinput
// device, created on first use so a daemon started without access can wait
// for it.
type evdevBackend struct {
	cfg    evdev.Config
	logger *slog.Logger

	mu   sync.Mutex
	vdev *evdev.VirtualDevice
}

func newEvdevBackend(cfg *Config, logger *slog.Logger) *evdevBackend {
	return &evdevBackend{
		cfg: evdev.Config{
			Mice:           expandPaths(cfg.Input.Mice),
			Keyboards:      expandPaths(cfg.Input.Keyboards),
			UnitsPerDetent: cfg.Input.UnitsPerDetent,
		},
		logger: logger,
	}
}

func (b *evdevBackend) Authorized(prompt bool) bool {
	return evdev.CheckAccess(b.cfg.Mice, prompt, b.logger)
}

func (b *evdevBackend) device() (*evdev.VirtualDevice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.vdev != nil {
		return b.vdev, nil
	}
	vd, err := evdev.OpenVirtualDevice(b.cfg.UnitsPerDetent, b.logger)
	if err != nil {
		return nil, err
	}
	b.vdev = vd
	return vd, nil
}

func (b *evdevBackend) Output() (dispatch.Poster, error) {
	return b.device()
}

func (b *evdevBackend) NewHook() (tap.Hook, error) {
	vd, err := b.device()
	if err != nil {
		return nil, err
	}
	return evdev.NewHook(b.cfg, vd, b.logger), nil
}

// Close destroys the virtual device. Call after the engine has stopped.
func (b *evdevBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.vdev == nil {
		return nil
	}
	err := b.vdev.Close()
	b.vdev = nil
	return err
}

// logDevices reports what autodetection would capture.
func (b *evdevBackend) logDevices() {
	if len(b.cfg.Mice) > 0 {
		b.logger.Info("capturing configured mice", "devices", b.cfg.Mice)
		return
	}
	devs, err := evdev.Discover(b.logger)
	if err != nil {
		b.logger.Warn("input device discovery failed", "error", err)
		return
	}
	for _, d := range devs {
		b.logger.Debug("input device", "path", d.Path, "name", d.Name, "class", d.Class)
	}
}

// lazyPoster defers opening the virtual device to the first post, for users
// of the device that exist before the engine first starts.
type lazyPoster struct {
	b *evdevBackend
}

func (p lazyPoster) PostKey(code uint16, mods input.Modifiers) error {
	vd, err := p.b.device()
	if err != nil {
		return err
	}
	return vd.PostKey(code, mods)
}

func (p lazyPoster) PostScroll(dy, dx float64, userData int64) error {
	vd, err := p.b.device()
	if err != nil {
		return err
	}
	return vd.PostScroll(dy, dx, userData)
}
