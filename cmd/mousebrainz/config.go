package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"mousebrainz/internal/dispatch"
	"mousebrainz/internal/input"
	"mousebrainz/internal/smooth"
)

// Config is the top-level YAML configuration for the mousebrainz daemon.
//
// Rules and the two scroll toggles are not configuration: they live in the
// profile file, which the daemon edits and watches. This file holds what a
// user sets once per machine.
type Config struct {
	// Input device selection
	Input InputConfig `yaml:"input"`

	// Profile file location
	Profile ProfileConfig `yaml:"profile"`

	// Smooth-scroll physics tuning
	Smooth SmoothConfig `yaml:"smooth"`

	// Chord overrides for zoom and navigation, keyed by
	// zoom_in, zoom_out, back, forward, space_left, space_right.
	Shortcuts map[string]string `yaml:"shortcuts,omitempty"`

	// System function bindings, keyed by feature name (missionControl, ...)
	SystemFunctions map[string]SystemFunctionConfig `yaml:"system_functions,omitempty"`

	// IPC control socket
	IPC IPCConfig `yaml:"ipc"`

	// Status websocket
	Status StatusConfig `yaml:"status"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type InputConfig struct {
	Mice           []string `yaml:"mice,omitempty"`      // grabbed; empty means autodetect
	Keyboards      []string `yaml:"keyboards,omitempty"` // modifier sources; empty means autodetect
	UnitsPerDetent float64  `yaml:"units_per_detent"`
	AuthRetryMS    int      `yaml:"auth_retry_ms"`
}

type ProfileConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

type SmoothConfig struct {
	TickHz        int     `yaml:"tick_hz"`
	Friction      float64 `yaml:"friction"`
	StopThreshold float64 `yaml:"stop_threshold"`
	Gain          float64 `yaml:"gain"`
	MaxVelocity   float64 `yaml:"max_velocity"`
}

// SystemFunctionConfig binds a feature to a command, a chord, or both.
type SystemFunctionConfig struct {
	Command []string `yaml:"command,omitempty"`
	Chord   string   `yaml:"chord,omitempty"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// defaultConfigPath is $XDG_CONFIG_HOME/mousebrainz/config.yaml.
func defaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "mousebrainz", "config.yaml")
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	socketDir := xdg.RuntimeDir
	if socketDir == "" {
		socketDir = os.TempDir()
	}
	sm := smooth.DefaultConfig()

	return Config{
		Input: InputConfig{
			UnitsPerDetent: defaultUnitsPerDetent,
			AuthRetryMS:    int(defaultAuthRetry / time.Millisecond),
		},
		Profile: ProfileConfig{
			Path:  filepath.Join(xdg.ConfigHome, "mousebrainz", "profile.json"),
			Watch: true,
		},
		Smooth: SmoothConfig{
			TickHz:        defaultSmoothTickHz,
			Friction:      sm.Friction,
			StopThreshold: sm.StopThreshold,
			Gain:          sm.Gain,
			MaxVelocity:   sm.MaxVelocity,
		},
		IPC: IPCConfig{
			SocketPath: filepath.Join(socketDir, "mousebrainz.sock"),
		},
		Status: StatusConfig{
			Enabled: false,
			Listen:  defaultStatusListen,
			Path:    defaultStatusPath,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of the defaults.
//
// Unknown fields are rejected (helps catch typos) and only whitespace or
// comments may follow the document.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides carries command-line overrides. Each override is applied only
// when its pointer is non-nil, even if it points at a zero value.
type FlagOverrides struct {
	Mice           *[]string
	Keyboards      *[]string
	UnitsPerDetent *float64

	ProfilePath  *string
	ProfileWatch *bool

	IPCSocketPath *string

	StatusEnabled *bool
	StatusListen  *string

	LogLevel *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.Mice != nil {
		cfg.Input.Mice = *o.Mice
	}
	if o.Keyboards != nil {
		cfg.Input.Keyboards = *o.Keyboards
	}
	if o.UnitsPerDetent != nil {
		cfg.Input.UnitsPerDetent = *o.UnitsPerDetent
	}

	if o.ProfilePath != nil {
		cfg.Profile.Path = *o.ProfilePath
	}
	if o.ProfileWatch != nil {
		cfg.Profile.Watch = *o.ProfileWatch
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}

	if o.StatusEnabled != nil {
		cfg.Status.Enabled = *o.StatusEnabled
	}
	if o.StatusListen != nil {
		cfg.Status.Listen = *o.StatusListen
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	for i, dev := range c.Input.Mice {
		if dev == "" {
			return fmt.Errorf("input.mice[%d] is empty", i)
		}
	}
	for i, dev := range c.Input.Keyboards {
		if dev == "" {
			return fmt.Errorf("input.keyboards[%d] is empty", i)
		}
	}
	if !(c.Input.UnitsPerDetent > 0) || math.IsInf(c.Input.UnitsPerDetent, 0) {
		return errors.New("input.units_per_detent must be > 0")
	}
	if c.Input.AuthRetryMS <= 0 {
		return errors.New("input.auth_retry_ms must be > 0")
	}

	if c.Profile.Path == "" {
		return errors.New("profile.path must not be empty")
	}

	if c.Smooth.TickHz <= 0 || c.Smooth.TickHz > 1000 {
		return errors.New("smooth.tick_hz must be between 1 and 1000")
	}
	if !(c.Smooth.Friction > 0 && c.Smooth.Friction < 1) {
		return errors.New("smooth.friction must be between 0 and 1 (exclusive)")
	}
	if !(c.Smooth.StopThreshold > 0) {
		return errors.New("smooth.stop_threshold must be > 0")
	}
	if !(c.Smooth.Gain > 0) {
		return errors.New("smooth.gain must be > 0")
	}
	if c.Smooth.MaxVelocity < 0 {
		return errors.New("smooth.max_velocity must be >= 0")
	}

	if _, err := dispatch.ParseChords(c.Shortcuts); err != nil {
		return fmt.Errorf("shortcuts: %w", err)
	}
	if _, err := c.launcherBindings(); err != nil {
		return err
	}

	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	if c.Status.Enabled {
		if c.Status.Listen == "" {
			return errors.New("status.enabled is true but status.listen is empty")
		}
		if c.Status.Path == "" || c.Status.Path[0] != '/' {
			return errors.New("status.path must start with /")
		}
	}

	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// ToSmoothConfig converts the file config into the physics engine config.
func (c *Config) ToSmoothConfig() smooth.Config {
	return smooth.Config{
		TickInterval:  time.Second / time.Duration(c.Smooth.TickHz),
		Friction:      c.Smooth.Friction,
		StopThreshold: c.Smooth.StopThreshold,
		Gain:          c.Smooth.Gain,
		MaxVelocity:   c.Smooth.MaxVelocity,
	}
}

// ToDispatchConfig builds the rule-dispatch handler config. Validate must have
// succeeded.
func (c *Config) ToDispatchConfig() dispatch.Config {
	chords, err := dispatch.ParseChords(c.Shortcuts)
	if err != nil {
		chords = dispatch.DefaultChords()
	}
	return dispatch.Config{
		Smooth: c.ToSmoothConfig(),
		Chords: chords,
	}
}

// LauncherBindings returns the parsed system function bindings. Validate
// must have succeeded.
func (c *Config) LauncherBindings() map[input.Feature]dispatch.Binding {
	b, _ := c.launcherBindings()
	return b
}

func (c *Config) launcherBindings() (map[input.Feature]dispatch.Binding, error) {
	names := make([]string, 0, len(c.SystemFunctions))
	for name := range c.SystemFunctions {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[input.Feature]dispatch.Binding, len(names))
	for _, name := range names {
		sf := c.SystemFunctions[name]
		f := input.Feature(name)
		if !f.Valid() {
			return nil, fmt.Errorf("system_functions: unknown feature %q", name)
		}
		if len(sf.Command) == 0 && sf.Chord == "" {
			return nil, fmt.Errorf("system_functions.%s: needs a command or a chord", name)
		}
		if len(sf.Command) > 0 && sf.Command[0] == "" {
			return nil, fmt.Errorf("system_functions.%s: command is empty", name)
		}
		b := dispatch.Binding{Command: sf.Command}
		if sf.Chord != "" {
			chord, err := input.ParseChord(sf.Chord)
			if err != nil {
				return nil, fmt.Errorf("system_functions.%s: %w", name, err)
			}
			b.Chord = &chord
		}
		out[f] = b
	}
	return out, nil
}

func (c *Config) authRetry() time.Duration {
	return time.Duration(c.Input.AuthRetryMS) * time.Millisecond
}

func expandPaths(ps []string) []string {
	if len(ps) == 0 {
		return nil
	}
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = ExpandPath(p)
	}
	return out
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
