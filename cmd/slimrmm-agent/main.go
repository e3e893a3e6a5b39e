// SlimRMM Assist agent - applies remote control events to the local desktop
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/slimrmm/slimrmm-assist/internal/bootstrap"
	"github.com/slimrmm/slimrmm-assist/internal/config"
	"github.com/slimrmm/slimrmm-assist/internal/handler"
	"github.com/slimrmm/slimrmm-assist/internal/logging"
	"github.com/slimrmm/slimrmm-assist/internal/remotedesktop"
	"github.com/slimrmm/slimrmm-assist/internal/security/audit"
	"github.com/slimrmm/slimrmm-assist/pkg/version"
)

type options struct {
	configPath  string
	server      string
	room        string
	name        string
	autoAccept  bool
	quality     string
	fps         int
	jpegQuality int
	monitor     int
	scalePolicy string
	logDir      string
	debug       bool
	showVersion bool
	check       bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options
	paths := config.DefaultPaths()

	flags := pflag.NewFlagSet("slimrmm-agent", pflag.ContinueOnError)
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to agent config (default "+paths.AgentFile+")")
	flags.StringVar(&opts.server, "server", "", "relay URL, e.g. http://relay:3000")
	flags.StringVar(&opts.room, "room", "", "room to join (overrides SLIMRMM_ROOM, ROOM and the config file)")
	flags.StringVar(&opts.name, "name", "", "display name (default host name)")
	flags.BoolVar(&opts.autoAccept, "auto-accept", false, "grant screen requests without asking")
	flags.StringVar(&opts.quality, "quality", "", "screen sharing preset: low, balanced or high")
	flags.IntVar(&opts.fps, "fps", 0, "screen sharing frame rate override")
	flags.IntVar(&opts.jpegQuality, "jpeg-quality", 0, "screen sharing JPEG quality override")
	flags.IntVar(&opts.monitor, "monitor", 0, "monitor to share, 1-based (0 for primary)")
	flags.StringVar(&opts.scalePolicy, "scale-policy", "", "pointer mapping: direct or two-stage")
	flags.StringVar(&opts.logDir, "log-dir", "", "directory for log files")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	flags.BoolVar(&opts.showVersion, "version", false, "show version information")
	flags.BoolVar(&opts.check, "check", false, "report input and capture capabilities and exit")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if opts.showVersion {
		fmt.Println(version.Get("agent").String())
		return nil
	}
	if opts.check {
		printCapabilities(os.Stdout)
		return nil
	}

	cfg, err := loadConfig(opts, flags, paths)
	if err != nil {
		return err
	}

	logger, cleanup, err := logging.SetupWithDefaults(cfg.LogDir, "agent", cfg.Debug)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runAgent(ctx, cfg, config.ResolveRoom(opts.room, cfg.GetRoom(), os.Getenv), logger)
}

// loadConfig reads the config file and applies explicitly given flags on top.
// Without a config file, --server is enough to run.
func loadConfig(opts options, flags *pflag.FlagSet, paths config.Paths) (*config.AgentConfig, error) {
	path := opts.configPath
	explicit := path != ""
	if !explicit {
		path = paths.AgentFile
	}

	cfg, err := config.LoadAgent(path)
	switch {
	case err == nil:
	case errors.Is(err, config.ErrConfigNotFound) && !explicit && opts.server != "":
		cfg = config.NewAgent(opts.server, path)
	default:
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if flags.Changed("server") {
		cfg.Server = opts.server
	}
	if flags.Changed("name") {
		cfg.Name = opts.name
	}
	if flags.Changed("auto-accept") {
		cfg.AutoAccept = opts.autoAccept
	}
	if flags.Changed("quality") {
		cfg.Quality = opts.quality
	}
	if flags.Changed("fps") {
		cfg.FPS = opts.fps
	}
	if flags.Changed("jpeg-quality") {
		cfg.JPEGQuality = opts.jpegQuality
	}
	if flags.Changed("monitor") {
		cfg.Monitor = opts.monitor
	}
	if flags.Changed("scale-policy") {
		cfg.ScalePolicy = opts.scalePolicy
	}
	if flags.Changed("log-dir") {
		cfg.LogDir = opts.logDir
	}
	if flags.Changed("debug") {
		cfg.Debug = opts.debug
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printCapabilities(w io.Writer) {
	for _, key := range []string{"cgo_enabled", "display_server", "screen_capture", "input_control"} {
		fmt.Fprintf(w, "%-15s %v\n", key, remotedesktop.CheckDependencies()[key])
	}
	fmt.Fprintf(w, "%-15s %v\n", "rdp_bootstrap", bootstrap.NewEnabler(nil).Supported())
	for _, m := range remotedesktop.Monitors() {
		fmt.Fprintf(w, "monitor %-7d %dx%d at %d,%d primary=%v\n", m.ID, m.Width, m.Height, m.Left, m.Top, m.Primary)
	}
}

func runAgent(ctx context.Context, cfg *config.AgentConfig, room string, logger *slog.Logger) error {
	logger.Info("starting SlimRMM Assist agent", "version", version.Get("agent").Version, "room", room)

	policy, err := remotedesktop.ParseScalePolicy(cfg.ScalePolicy)
	if err != nil {
		return err
	}

	remotedesktop.InitializePermissions(logger)
	deps := remotedesktop.CheckDependencies()
	logger.Info("remote desktop capabilities", "dependencies", deps)
	if !deps["input_control"] {
		logger.Warn("input control unavailable, control events will fail")
	}

	var capture *remotedesktop.ScreenCapture
	if deps["screen_capture"] {
		if capture, err = remotedesktop.NewScreenCapture(cfg.Monitor); err != nil {
			logger.Warn("screen sharing disabled", "error", err)
			capture = nil
		}
	}

	translatorOpts := remotedesktop.TranslatorOptions{
		Policy:       policy,
		MoveThrottle: cfg.MoveThrottle.Duration,
	}
	// Pointer events follow the shared monitor; the primary one needs no offset.
	if capture != nil && cfg.Monitor > 1 {
		if translatorOpts.Display, err = capture.Bounds(); err != nil {
			return fmt.Errorf("reading monitor %d bounds: %w", cfg.Monitor, err)
		}
		logger.Info("controlling monitor", "monitor", cfg.Monitor, "bounds", translatorOpts.Display.String())
	}
	translator := remotedesktop.NewTranslator(remotedesktop.NewRobotInjector(), translatorOpts, logger)

	boot := bootstrap.New(bootstrap.NewEnabler(logger), nil, logger)

	auditCfg := audit.DefaultConfig(cfg.LogDir)
	if cfg.AuditLog != "" {
		auditCfg.LogPath = cfg.AuditLog
	}
	auditLog, err := audit.New(auditCfg, logger)
	if err != nil {
		logger.Warn("audit file unavailable, auditing to the log only", "error", err)
		auditLog, _ = audit.New(audit.Config{}, logger)
	}
	defer auditLog.Close()

	opts := handler.Options{
		Server:     cfg.GetServer(),
		Room:       room,
		Name:       cfg.GetName(),
		AutoAccept: cfg.IsAutoAccept(),
		Audit:      auditLog,
		Session: remotedesktop.SessionOptions{
			Quality:     cfg.Quality,
			FPS:         cfg.FPS,
			JPEGQuality: cfg.JPEGQuality,
		},
	}
	if !opts.AutoAccept && isTerminal(os.Stdin) {
		opts.Consent = handler.PromptConsent(os.Stdin, os.Stdout)
	}
	if capture != nil {
		opts.Capturer = capture
	}

	h := handler.New(opts, translator, boot, logger)
	defer func() {
		if err := h.Close(); err != nil {
			logger.Warn("closing connection", "error", err)
		}
	}()

	err = h.Serve(ctx)
	logger.Info("shutting down")
	return err
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
