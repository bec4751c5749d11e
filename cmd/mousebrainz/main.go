//go:build linux

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"mousebrainz/internal/dispatch"
	"mousebrainz/internal/ipc"
	"mousebrainz/internal/profile"
)

func printVersion() {
	fmt.Printf("mousebrainz v%s\n", version)
	fmt.Println("Mouse button and scroll remapping daemon")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  mousebrainz [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Grabs mouse input devices, applies the rules of the active profile to")
	fmt.Println("  button presses and scroll events, and re-emits the result on a virtual")
	fmt.Println("  pointer. Supports smooth scrolling, scroll inversion, per-modifier")
	fmt.Println("  sensitivity, zoom and navigation chords.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Printf("        YAML config file (default %q if it exists)\n", defaultConfigPath())
	fmt.Println()
	fmt.Println("  -mouse string")
	fmt.Println("        Mouse event device to grab; repeat for several (default: autodetect)")
	fmt.Println()
	fmt.Println("  -keyboard string")
	fmt.Println("        Keyboard event device for modifier state; repeat for several (default: autodetect)")
	fmt.Println()
	fmt.Println("  -units-per-detent float")
	fmt.Printf("        Scroll units per wheel detent (default %.0f)\n", defaultUnitsPerDetent)
	fmt.Println()
	fmt.Println("  -profile string")
	fmt.Println("        Profile file holding rules and scroll toggles")
	fmt.Println()
	fmt.Println("  -watch-profile")
	fmt.Println("        Reload the profile when it changes on disk (default true)")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Println("        Unix domain socket path for mousebrainz-ctl")
	fmt.Println()
	fmt.Println("  -status")
	fmt.Println("        Serve the status websocket")
	fmt.Println()
	fmt.Println("  -status-listen string")
	fmt.Printf("        Status websocket listen address (default %q)\n", defaultStatusListen)
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start with autodetected devices")
	fmt.Println("  mousebrainz")
	fmt.Println()
	fmt.Println("  # Grab one specific mouse and stream status")
	fmt.Println("  mousebrainz -mouse /dev/input/by-id/usb-Logitech-event-mouse -status")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires read access to /dev/input/event* and write access to /dev/uinput")
	fmt.Println("    (add the user to the 'input' group and install a udev rule for uinput)")
	fmt.Println("  - Without access the daemon waits and starts once access is granted")
	fmt.Println()
}

// stringList is a repeatable string flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		mice      stringList
		keyboards stringList

		configPath     = flag.String("config", "", "YAML config file")
		unitsPerDetent = flag.Float64("units-per-detent", defaultUnitsPerDetent, "Scroll units per wheel detent")
		profilePath    = flag.String("profile", "", "Profile file holding rules and scroll toggles")
		watchProfile   = flag.Bool("watch-profile", true, "Reload the profile when it changes on disk")
		ipcSocketPath  = flag.String("ipc-socket", "", "Unix domain socket path for IPC")
		statusEnabled  = flag.Bool("status", false, "Serve the status websocket")
		statusListen   = flag.String("status-listen", defaultStatusListen, "Status websocket listen address")
		logLevelStr    = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		_              = flag.Bool("version", false, "Print version and exit")
		_              = flag.Bool("help", false, "Print help message")
	)
	flag.Var(&mice, "mouse", "Mouse event device to grab (repeatable)")
	flag.Var(&keyboards, "keyboard", "Keyboard event device for modifiers (repeatable)")

	flag.Usage = printUsage
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	// Only flags given on the command line override the file.
	var o FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mouse":
			o.Mice = (*[]string)(&mice)
		case "keyboard":
			o.Keyboards = (*[]string)(&keyboards)
		case "units-per-detent":
			o.UnitsPerDetent = unitsPerDetent
		case "profile":
			o.ProfilePath = profilePath
		case "watch-profile":
			o.ProfileWatch = watchProfile
		case "ipc-socket":
			o.IPCSocketPath = ipcSocketPath
		case "status":
			o.StatusEnabled = statusEnabled
		case "status-listen":
			o.StatusListen = statusListen
		case "log-level":
			o.LogLevel = logLevelStr
		}
	})
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error: invalid config:", err)
		os.Exit(1)
	}

	level, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(level, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("mousebrainz stopped", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads path, or the default config file if path is empty and the
// file exists, on top of the defaults.
func loadConfig(path string) (Config, error) {
	if path != "" {
		return LoadConfigFile(path)
	}
	def := defaultConfigPath()
	if _, err := os.Stat(def); errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return LoadConfigFile(def)
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	logger.Debug("starting mousebrainz", "version", version)

	store := profile.NewStore(ExpandPath(cfg.Profile.Path), logger)
	if err := store.Load(); err != nil {
		return fmt.Errorf("load profile: %w", err)
	}

	var status *StatusEvents
	if cfg.Status.Enabled {
		status = NewStatusEvents(256, logger)
		store.OnChange(status.ProfileChanged)
	}

	backend := newEvdevBackend(&cfg, logger)
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn("closing virtual device", "error", err)
		}
	}()
	backend.logDevices()

	launcher := dispatch.NewCommandLauncher(cfg.LauncherBindings(), lazyPoster{b: backend}, logger)
	engine := NewEngine(backend, store, launcher, cfg.ToDispatchConfig(), status, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.Run(gctx, cfg.authRetry())
	})

	socketPath := ExpandPath(cfg.IPC.SocketPath)
	g.Go(func() error {
		return ipc.Serve(gctx, socketPath, newControlHandler(engine, store, logger), logger)
	})

	if cfg.Profile.Watch {
		g.Go(func() error {
			return store.Watch(gctx)
		})
	}

	if status != nil {
		srv := NewStatusServer(logger, engine.Status, HubConfig{})
		g.Go(func() error {
			srv.Hub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, srv.Hub(), status.C(), logger)
			return nil
		})
		g.Go(func() error {
			return runStatusHTTP(gctx, cfg.Status.Listen, cfg.Status.Path, srv, logger)
		})
	}

	listenInfo := []any{"ipc", socketPath, "profile", store.Path(), "rules", len(store.Rules())}
	if status != nil {
		listenInfo = append(listenInfo, "status", cfg.Status.Listen+cfg.Status.Path)
	}
	logger.Info("listening", listenInfo...)

	err := g.Wait()
	logger.Info("shutting down")
	return err
}
