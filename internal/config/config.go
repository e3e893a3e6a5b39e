// Package config handles agent and relay configuration loading and saving.
// Files ending in .yaml or .yml are read as YAML, anything else as JSON.
// Saved files get restricted permissions (0600).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	agentConfigFileName = "agent.json"
	relayConfigFileName = "relay.yaml"
	configFileMode      = 0600

	// DefaultRoom is used when no room is configured anywhere.
	DefaultRoom = "room1"
	// DefaultListen is the relay's default listen address.
	DefaultListen = ":3000"
)

var (
	ErrConfigNotFound = errors.New("configuration file not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Paths holds the various paths used by the binaries.
type Paths struct {
	BaseDir   string
	AgentFile string
	RelayFile string
	LogDir    string
}

// DefaultPaths returns the default paths for the current OS.
func DefaultPaths() Paths {
	var baseDir, logDir string

	switch runtime.GOOS {
	case "darwin":
		baseDir = "/Library/Application Support/SlimRMM Assist"
		logDir = "/var/log/slimrmm-assist"
	case "windows":
		baseDir = filepath.Join(os.Getenv("ProgramData"), "SlimRMM Assist")
		logDir = filepath.Join(baseDir, "log")
	default: // linux
		baseDir = "/etc/slimrmm-assist"
		logDir = "/var/log/slimrmm-assist"
	}

	return Paths{
		BaseDir:   baseDir,
		AgentFile: filepath.Join(baseDir, agentConfigFileName),
		RelayFile: filepath.Join(baseDir, relayConfigFileName),
		LogDir:    logDir,
	}
}

// Duration is a time.Duration written as a string such as "2m" or "15ms".
// Plain numbers are read as milliseconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return d.set(v)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var v interface{}
	if err := node.Decode(&v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) set(v interface{}) error {
	switch val := v.(type) {
	case nil:
		d.Duration = 0
	case float64:
		d.Duration = time.Duration(val * float64(time.Millisecond))
	case int:
		d.Duration = time.Duration(val) * time.Millisecond
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%w: duration %q", ErrInvalidConfig, val)
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("%w: duration %v", ErrInvalidConfig, v)
	}
	return nil
}

// readFile decodes path into v according to its extension.
func readFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrConfigNotFound
		}
		return fmt.Errorf("reading config: %w", err)
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, v)
	} else {
		err = json.Unmarshal(data, v)
	}
	if err != nil {
		return fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, filepath.Base(path), err)
	}
	return nil
}

// writeFile encodes v to path according to its extension.
func writeFile(path string, v interface{}) error {
	if path == "" {
		return errors.New("config file path not set")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(v)
	} else {
		data, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(path, data, configFileMode); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func validateServerURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: server is required", ErrInvalidConfig)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: server: %v", ErrInvalidConfig, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("%w: server scheme %q", ErrInvalidConfig, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: server host is empty", ErrInvalidConfig)
	}
	return nil
}

// ResolveRoom picks the room to join: the command-line value, then the
// SLIMRMM_ROOM and ROOM environment variables, then the config file, then
// DefaultRoom.
func ResolveRoom(flagValue, fileValue string, getenv func(string) string) string {
	if getenv == nil {
		getenv = os.Getenv
	}
	candidates := []string{flagValue, getenv("SLIMRMM_ROOM"), getenv("ROOM"), fileValue}
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return DefaultRoom
}

// AgentConfig holds the agent configuration.
type AgentConfig struct {
	Server       string   `json:"server" yaml:"server"`
	Room         string   `json:"room,omitempty" yaml:"room,omitempty"`
	Name         string   `json:"name,omitempty" yaml:"name,omitempty"`
	AutoAccept   bool     `json:"auto_accept" yaml:"auto_accept"`
	Quality      string   `json:"quality,omitempty" yaml:"quality,omitempty"`
	FPS          int      `json:"fps,omitempty" yaml:"fps,omitempty"`
	JPEGQuality  int      `json:"jpeg_quality,omitempty" yaml:"jpeg_quality,omitempty"`
	Monitor      int      `json:"monitor,omitempty" yaml:"monitor,omitempty"`
	ScalePolicy  string   `json:"scale_policy,omitempty" yaml:"scale_policy,omitempty"`
	MoveThrottle Duration `json:"move_throttle,omitempty" yaml:"move_throttle,omitempty"`
	LogDir       string   `json:"log_dir,omitempty" yaml:"log_dir,omitempty"`
	AuditLog     string   `json:"audit_log,omitempty" yaml:"audit_log,omitempty"`
	Debug        bool     `json:"debug,omitempty" yaml:"debug,omitempty"`

	mu       sync.RWMutex
	filePath string
}

// NewAgent creates an agent configuration for server.
func NewAgent(server string, path string) *AgentConfig {
	return &AgentConfig{
		Server:   server,
		Quality:  "balanced",
		filePath: path,
	}
}

// LoadAgent reads the agent configuration from disk.
func LoadAgent(path string) (*AgentConfig, error) {
	cfg := &AgentConfig{}
	if err := readFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.filePath = path
	return cfg, nil
}

// Validate checks required fields and ranges.
func (c *AgentConfig) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := validateServerURL(c.Server); err != nil {
		return err
	}
	if c.FPS < 0 || c.FPS > 60 {
		return fmt.Errorf("%w: fps %d out of range", ErrInvalidConfig, c.FPS)
	}
	if c.JPEGQuality < 0 || c.JPEGQuality > 100 {
		return fmt.Errorf("%w: jpeg_quality %d out of range", ErrInvalidConfig, c.JPEGQuality)
	}
	if c.MoveThrottle.Duration < 0 {
		return fmt.Errorf("%w: move_throttle must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Save writes the configuration to disk with restricted permissions.
func (c *AgentConfig) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return writeFile(c.filePath, c)
}

// GetServer returns the relay URL.
func (c *AgentConfig) GetServer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// GetRoom returns the configured room.
func (c *AgentConfig) GetRoom() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Room
}

// SetRoom updates the configured room.
func (c *AgentConfig) SetRoom(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Room = room
}

// GetName returns the display name, falling back to the host name.
func (c *AgentConfig) GetName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Name != "" {
		return c.Name
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "agent"
}

// IsAutoAccept reports whether screen requests are accepted without asking.
func (c *AgentConfig) IsAutoAccept() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AutoAccept
}

// RelayConfig holds the relay server configuration.
type RelayConfig struct {
	Listen          string          `json:"listen" yaml:"listen"`
	MaxPeersPerRoom int             `json:"max_peers_per_room" yaml:"max_peers_per_room"`
	RequestTimeout  Duration        `json:"request_timeout" yaml:"request_timeout"`
	SendBuffer      int             `json:"send_buffer,omitempty" yaml:"send_buffer,omitempty"`
	RateLimit       RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	AllowedOrigins  []string        `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"`
	LogDir          string          `json:"log_dir,omitempty" yaml:"log_dir,omitempty"`
	Debug           bool            `json:"debug,omitempty" yaml:"debug,omitempty"`
}

// RateLimitConfig holds per-connection inbound limits. Zero values fall
// back to the relay defaults.
type RateLimitConfig struct {
	GlobalRate   float64 `json:"global_rate,omitempty" yaml:"global_rate,omitempty"`
	GlobalBurst  int     `json:"global_burst,omitempty" yaml:"global_burst,omitempty"`
	ControlRate  float64 `json:"control_rate,omitempty" yaml:"control_rate,omitempty"`
	ControlBurst int     `json:"control_burst,omitempty" yaml:"control_burst,omitempty"`
	FrameRate    float64 `json:"frame_rate,omitempty" yaml:"frame_rate,omitempty"`
	FrameBurst   int     `json:"frame_burst,omitempty" yaml:"frame_burst,omitempty"`
}

// DefaultRelay returns the relay defaults.
func DefaultRelay() *RelayConfig {
	return &RelayConfig{
		Listen:         DefaultListen,
		RequestTimeout: Duration{2 * time.Minute},
	}
}

// LoadRelay reads the relay configuration, applying defaults for fields the
// file leaves out.
func LoadRelay(path string) (*RelayConfig, error) {
	cfg := DefaultRelay()
	if err := readFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges.
func (c *RelayConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("%w: listen is required", ErrInvalidConfig)
	}
	if c.MaxPeersPerRoom < 0 {
		return fmt.Errorf("%w: max_peers_per_room must not be negative", ErrInvalidConfig)
	}
	if c.RequestTimeout.Duration < 0 {
		return fmt.Errorf("%w: request_timeout must not be negative", ErrInvalidConfig)
	}
	r := c.RateLimit
	if r.GlobalRate < 0 || r.ControlRate < 0 || r.FrameRate < 0 || r.GlobalBurst < 0 || r.ControlBurst < 0 || r.FrameBurst < 0 {
		return fmt.Errorf("%w: rate limits must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Save writes the relay configuration to path.
func (c *RelayConfig) Save(path string) error {
	return writeFile(path, c)
}
