package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"github.com/slimrmm/slimrmm-assist/internal/config"
)

func parse(t *testing.T, args ...string) (options, *pflag.FlagSet) {
	t.Helper()
	var opts options
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringVar(&opts.configPath, "config", "", "")
	flags.StringVar(&opts.server, "server", "", "")
	flags.StringVar(&opts.name, "name", "", "")
	flags.BoolVar(&opts.autoAccept, "auto-accept", false, "")
	flags.IntVar(&opts.fps, "fps", 0, "")
	flags.StringVar(&opts.scalePolicy, "scale-policy", "", "")
	if err := flags.Parse(args); err != nil {
		t.Fatal(err)
	}
	return opts, flags
}

func TestLoadConfigFromFlagsOnly(t *testing.T) {
	paths := config.Paths{AgentFile: filepath.Join(t.TempDir(), "agent.json")}
	opts, flags := parse(t, "--server", "http://relay:3000", "--auto-accept", "--scale-policy", "two-stage")

	cfg, err := loadConfig(opts, flags, paths)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.GetServer() != "http://relay:3000" || !cfg.IsAutoAccept() || cfg.ScalePolicy != "two-stage" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	if err := os.WriteFile(path, []byte("server: ws://relay:3000/ws\nfps: 5\nname: desk\n"), 0600); err != nil {
		t.Fatal(err)
	}
	opts, flags := parse(t, "--config", path, "--fps", "20")

	cfg, err := loadConfig(opts, flags, config.Paths{})
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.FPS != 20 {
		t.Errorf("FPS = %d, want 20", cfg.FPS)
	}
	if cfg.GetName() != "desk" {
		t.Errorf("GetName() = %q, want desk", cfg.GetName())
	}
}

func TestLoadConfigMissing(t *testing.T) {
	paths := config.Paths{AgentFile: filepath.Join(t.TempDir(), "agent.json")}
	opts, flags := parse(t)

	if _, err := loadConfig(opts, flags, paths); err == nil {
		t.Error("loadConfig() without config or --server should fail")
	}
}

func TestPrintCapabilities(t *testing.T) {
	var buf bytes.Buffer
	printCapabilities(&buf)

	for _, key := range []string{"cgo_enabled", "display_server", "screen_capture", "input_control", "rdp_bootstrap"} {
		if !strings.Contains(buf.String(), key) {
			t.Errorf("capabilities output missing %s:\n%s", key, buf.String())
		}
	}
}
