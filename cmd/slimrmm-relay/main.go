// SlimRMM Assist relay - routes remote control sessions between viewers and agents
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/slimrmm/slimrmm-assist/internal/config"
	"github.com/slimrmm/slimrmm-assist/internal/logging"
	"github.com/slimrmm/slimrmm-assist/internal/relay"
	"github.com/slimrmm/slimrmm-assist/internal/security/ratelimit"
	"github.com/slimrmm/slimrmm-assist/pkg/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath     string
		listen         string
		maxPeers       int
		requestTimeout time.Duration
		logDir         string
		debug          bool
		showVersion    bool
	)

	paths := config.DefaultPaths()

	flags := pflag.NewFlagSet("slimrmm-relay", pflag.ContinueOnError)
	flags.StringVarP(&configPath, "config", "c", "", "path to relay config (default "+paths.RelayFile+")")
	flags.StringVar(&listen, "listen", config.DefaultListen, "address to listen on")
	flags.IntVar(&maxPeers, "max-peers", 0, "maximum members per room, 0 for unlimited")
	flags.DurationVar(&requestTimeout, "request-timeout", 2*time.Minute, "how long permission and bootstrap requests wait for an answer")
	flags.StringVar(&logDir, "log-dir", "", "directory for log files (stdout only when empty)")
	flags.BoolVar(&debug, "debug", false, "enable debug logging")
	flags.BoolVar(&showVersion, "version", false, "show version information")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Println(version.Get("relay").String())
		return nil
	}

	cfg, err := loadConfig(configPath, paths)
	if err != nil {
		return err
	}

	// Flags given explicitly win over the file.
	if flags.Changed("listen") {
		cfg.Listen = listen
	}
	if flags.Changed("max-peers") {
		cfg.MaxPeersPerRoom = maxPeers
	}
	if flags.Changed("request-timeout") {
		cfg.RequestTimeout = config.Duration{Duration: requestTimeout}
	}
	if flags.Changed("log-dir") {
		cfg.LogDir = logDir
	}
	if flags.Changed("debug") {
		cfg.Debug = debug
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, cleanup, err := logging.SetupWithDefaults(cfg.LogDir, "relay", cfg.Debug)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

func loadConfig(path string, paths config.Paths) (*config.RelayConfig, error) {
	explicit := path != ""
	if !explicit {
		path = paths.RelayFile
	}

	cfg, err := config.LoadRelay(path)
	switch {
	case err == nil:
		return cfg, nil
	case errors.Is(err, config.ErrConfigNotFound) && !explicit:
		return config.DefaultRelay(), nil
	default:
		return nil, fmt.Errorf("loading config: %w", err)
	}
}

func rateLimits(c config.RateLimitConfig) ratelimit.Config {
	limits := ratelimit.DefaultConfig()
	if c.GlobalRate > 0 {
		limits.GlobalRate = c.GlobalRate
	}
	if c.GlobalBurst > 0 {
		limits.GlobalBurst = c.GlobalBurst
	}
	if c.ControlRate > 0 {
		limits.ControlRate = c.ControlRate
	}
	if c.ControlBurst > 0 {
		limits.ControlBurst = c.ControlBurst
	}
	if c.FrameRate > 0 {
		limits.FrameRate = c.FrameRate
	}
	if c.FrameBurst > 0 {
		limits.FrameBurst = c.FrameBurst
	}
	return limits
}

func serve(ctx context.Context, cfg *config.RelayConfig, logger *slog.Logger) error {
	logger.Info("starting SlimRMM Assist relay",
		"version", version.Get("relay").Version,
		"listen", cfg.Listen,
		"max_peers_per_room", cfg.MaxPeersPerRoom,
		"request_timeout", cfg.RequestTimeout.String(),
	)

	hub := relay.NewHub(relay.Options{
		MaxPeersPerRoom: cfg.MaxPeersPerRoom,
		RequestTimeout:  cfg.RequestTimeout.Duration,
		SendBuffer:      cfg.SendBuffer,
	}, logger)
	go hub.Run(ctx)

	server := relay.NewServer(hub, relay.ServerOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      rateLimits(cfg.RateLimit),
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listening on %s: %w", cfg.Listen, err)
	case <-ctx.Done():
		logger.Info("shutting down", "peers", hub.PeerCount())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
