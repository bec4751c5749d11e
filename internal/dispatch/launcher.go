package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"

	"mousebrainz/internal/input"
)

// ErrNotImplemented is returned for features with no binding.
var ErrNotImplemented = errors.New("system function not implemented")

// Binding says how a feature is triggered: a command line, a chord, or both.
type Binding struct {
	Command []string
	Chord   *input.Chord
}

// CommandLauncher triggers features by starting configured commands or
// posting configured chords. Chords are posted inline; commands are started
// and reaped on their own goroutine, so Launch never waits on fork/exec.
type CommandLauncher struct {
	bindings map[input.Feature]Binding
	poster   Poster
	logger   *slog.Logger

	// start is exec.Cmd.Start; replaced in tests.
	start func(cmd *exec.Cmd) error
}

// NewCommandLauncher creates a launcher. poster is needed only for chord
// bindings.
func NewCommandLauncher(bindings map[input.Feature]Binding, poster Poster, logger *slog.Logger) *CommandLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandLauncher{
		bindings: bindings,
		poster:   poster,
		logger:   logger,
		start:    func(cmd *exec.Cmd) error { return cmd.Start() },
	}
}

// Launch implements Launcher. A command that fails to start is logged, not
// returned.
func (l *CommandLauncher) Launch(f input.Feature) error {
	b, ok := l.bindings[f]
	if !ok || (len(b.Command) == 0 && b.Chord == nil) {
		return fmt.Errorf("%w: %s", ErrNotImplemented, f)
	}

	if b.Chord != nil && l.poster != nil {
		if err := l.poster.PostKey(b.Chord.Code, b.Chord.Modifiers); err != nil {
			return fmt.Errorf("%s: post chord: %w", f, err)
		}
	}

	if len(b.Command) > 0 {
		go l.run(f, b.Command)
	}
	return nil
}

func (l *CommandLauncher) run(f input.Feature, argv []string) {
	cmd := exec.Command(argv[0], argv[1:]...)
	if err := l.start(cmd); err != nil {
		l.logger.Warn("system function command did not start", "feature", f, "command", argv[0], "error", err)
		return
	}
	l.logger.Debug("system function started", "feature", f, "command", argv[0])
	if cmd.Process == nil {
		return
	}
	if err := cmd.Wait(); err != nil {
		l.logger.Warn("system function command failed", "feature", f, "error", err)
	}
}
