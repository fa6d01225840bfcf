package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("advss-sound v%s\n", version)
	fmt.Println("Custom macro segments for the Advanced Scene Switcher")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  advss-sound [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Connects to the Advanced Scene Switcher host over WebSocket and registers")
	fmt.Println("  the \"Sound\" macro action (and optionally the \"Expression\" macro")
	fmt.Println("  condition). Macro invocations run off the host's dispatch thread and")
	fmt.Println("  report their result back asynchronously.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to a YAML (or .toml) config file")
	fmt.Println()
	fmt.Println("  -host-ws-url string")
	fmt.Printf("        Host websocket URL (default %q)\n", defaultHostWsURL)
	fmt.Println()
	fmt.Println("  -host-timeout-ms int")
	fmt.Printf("        Timeout for host procedure calls in ms (default %d)\n", defaultHostTimeoutMS)
	fmt.Println()
	fmt.Println("  -callback-timeout-ms int")
	fmt.Println("        Give up on a macro callback after this many ms; 0 waits forever (default 0)")
	fmt.Println()
	fmt.Println("  -sound-name string")
	fmt.Printf("        Name of the sound macro action (default %q)\n", defaultSoundActionName)
	fmt.Println()
	fmt.Println("  -player string")
	fmt.Println("        External audio player command (default \"ffplay\")")
	fmt.Println()
	fmt.Println("  -expression")
	fmt.Println("        Also register the \"Expression\" macro condition")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultIPCSocketPath)
	fmt.Println()
	fmt.Println("  -metrics-addr string")
	fmt.Println("        Prometheus listen address, e.g. \":9464\" (default disabled)")
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
	fmt.Println("  # Connect to a local host with defaults")
	fmt.Println("  advss-sound")
	fmt.Println()
	fmt.Println("  # Use a config file and expose metrics")
	fmt.Println("  advss-sound -config ~/.config/advss-sound.yaml -metrics-addr :9464")
	fmt.Println()
	fmt.Println("  # Read a host variable from a script")
	fmt.Println("  advss-ctl get-variable counter")
	fmt.Println()
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
		configPath        = flag.String("config", "", "Path to a YAML (or .toml) config file")
		hostWsURL         = flag.String("host-ws-url", defaultHostWsURL, "Host websocket URL")
		hostTimeoutMS     = flag.Int("host-timeout-ms", defaultHostTimeoutMS, "Timeout for host procedure calls in ms")
		callbackTimeoutMS = flag.Int("callback-timeout-ms", defaultCallbackTimeoutMS, "Macro callback timeout in ms (0 = none)")
		soundName         = flag.String("sound-name", defaultSoundActionName, "Name of the sound macro action")
		playerCommand     = flag.String("player", "ffplay", "External audio player command")
		expression        = flag.Bool("expression", false, "Also register the Expression macro condition")
		ipcSocketPath     = flag.String("ipc-socket", defaultIPCSocketPath, "Unix domain socket path for IPC")
		metricsAddr       = flag.String("metrics-addr", "", "Prometheus listen address (empty = disabled)")
		logLevelStr       = flag.String("log-level", defaultLogLevel, "Log level: error, warn, info, debug")
		_                 = flag.Bool("version", false, "Print version and exit")
		_                 = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Only flags given on the command line override the file.
	var overrides FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host-ws-url":
			overrides.HostWsURL = hostWsURL
		case "host-timeout-ms":
			overrides.HostTimeoutMS = hostTimeoutMS
		case "callback-timeout-ms":
			overrides.CallbackTimeoutMS = callbackTimeoutMS
		case "sound-name":
			overrides.SoundName = soundName
		case "player":
			overrides.PlayerCommand = playerCommand
		case "expression":
			overrides.ExpressionEnabled = expression
		case "ipc-socket":
			overrides.IPCSocketPath = ipcSocketPath
		case "metrics-addr":
			overrides.MetricsAddr = metricsAddr
		case "log-level":
			overrides.LogLevel = logLevelStr
		}
	})
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(logLevel)

	logger.Debug("starting advss-sound", "version", version)
	logger.Debug("configuration",
		"host_ws_url", cfg.Host.WsURL,
		"host_timeout_ms", cfg.Host.TimeoutMS,
		"callback_timeout_ms", cfg.Dispatch.CallbackTimeoutMS,
		"sound_enabled", cfg.Sound.Enabled,
		"sound_name", cfg.Sound.Name,
		"player", cfg.Sound.Player.Command,
		"expression_enabled", cfg.Expression.Enabled,
		"ipc_socket", cfg.IPC.SocketPath,
		"metrics_addr", cfg.Metrics.ListenAddr,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("advss-sound stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := NewMetrics()

	var player Player
	if cfg.Sound.Enabled {
		cp := NewCommandPlayer(cfg.Sound.Player.Command, cfg.Sound.Player.Args, logger.With("component", "player"))
		if err := cp.Check(); err != nil {
			logger.Warn("audio player not available; sound action will fail until it is installed", "error", err)
		}
		player = cp
	}

	host, err := DialHost(ctx, cfg.Host.WsURL, logger.With("component", "host"), cfg.HostClientOptions())
	if err != nil {
		return fmt.Errorf("connect to host: %w", err)
	}

	plugin := NewPlugin(cfg, host, player, logger, metrics)
	if err := plugin.Load(); err != nil {
		_ = host.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return host.Run(gctx)
	})

	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, newIPCHandler(plugin), logger.With("component", "ipc"))
	})

	if cfg.Metrics.ListenAddr != "" {
		g.Go(func() error {
			return runMetricsServer(gctx, cfg.Metrics.ListenAddr, metrics, logger.With("component", "metrics"))
		})
	}

	// Wait for a signal or for a component to fail.
	<-gctx.Done()
	logger.Info("shutting down")

	unloadCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := plugin.Unload(unloadCtx); err != nil {
		logger.Warn("plugin unload incomplete", "error", err)
	}
	_ = host.Close()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
