package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the advss-sound daemon.
//
// The file is optional; defaults cover a local host on the default port.
// Flags override individual values on top of the file.
type Config struct {
	// Host connection (websocket endpoint of the advanced scene switcher bridge)
	Host HostConfig `yaml:"host" toml:"host"`

	// Segment invocation
	Dispatch DispatchConfig `yaml:"dispatch" toml:"dispatch"`

	// Segments
	Sound      SoundConfig      `yaml:"sound" toml:"sound"`
	Expression ExpressionConfig `yaml:"expression" toml:"expression"`

	// Control socket (advss-ctl)
	IPC IPCConfig `yaml:"ipc" toml:"ipc"`

	// Prometheus listener
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`

	// Logging
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

type HostConfig struct {
	WsURL              string `yaml:"ws_url" toml:"ws_url"`
	TimeoutMS          int    `yaml:"timeout_ms" toml:"timeout_ms"`
	HandshakeTimeoutMS int    `yaml:"handshake_timeout_ms" toml:"handshake_timeout_ms"`
	ConnectAttempts    int    `yaml:"connect_attempts" toml:"connect_attempts"`
}

type DispatchConfig struct {
	// 0 waits for callbacks indefinitely
	CallbackTimeoutMS int `yaml:"callback_timeout_ms" toml:"callback_timeout_ms"`
}

type SoundConfig struct {
	Enabled bool         `yaml:"enabled" toml:"enabled"`
	Name    string       `yaml:"name" toml:"name"`
	Player  PlayerConfig `yaml:"player" toml:"player"`
}

// PlayerConfig is the external program used to play sounds. Args may use the
// placeholders {file} and {format}.
type PlayerConfig struct {
	Command string   `yaml:"command" toml:"command"`
	Args    []string `yaml:"args" toml:"args"`
}

type ExpressionConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Name    string `yaml:"name" toml:"name"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path" toml:"socket_path"`
}

type MetricsConfig struct {
	// Empty disables the listener
	ListenAddr string `yaml:"listen_addr" toml:"listen_addr"`
}

type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	return Config{
		Host: HostConfig{
			WsURL:              defaultHostWsURL,
			TimeoutMS:          defaultHostTimeoutMS,
			HandshakeTimeoutMS: defaultHandshakeTimeoutMS,
			ConnectAttempts:    defaultConnectAttempts,
		},
		Dispatch: DispatchConfig{
			CallbackTimeoutMS: defaultCallbackTimeoutMS,
		},
		Sound: SoundConfig{
			Enabled: true,
			Name:    defaultSoundActionName,
			Player: PlayerConfig{
				Command: "ffplay",
				Args:    []string{"-nodisp", "-autoexit", "-loglevel", "error", "-f", "{format}", "{file}"},
			},
		},
		Expression: ExpressionConfig{
			Enabled: false,
			Name:    defaultExpressionName,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocketPath,
		},
		Metrics: MetricsConfig{
			ListenAddr: "",
		},
		Logging: LoggingConfig{
			Level: defaultLogLevel,
		},
	}
}

// LoadConfigFile reads a config file on top of DefaultConfig.
//
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Unknown fields are rejected in both formats.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	path = ExpandPath(path)

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return decodeConfigTOML(b)
	}
	return decodeConfigYAML(b)
}

func decodeConfigYAML(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

func decodeConfigTOML(b []byte) (Config, error) {
	cfg := DefaultConfig()

	md, err := toml.Decode(string(b), &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode config toml: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("decode config toml: unknown keys: %s", strings.Join(keys, ", "))
	}

	return cfg, nil
}

// FlagOverrides carries flag values that were explicitly set. A nil pointer
// means "not set"; a non-nil pointer is applied even if it holds a zero value.
type FlagOverrides struct {
	HostWsURL     *string
	HostTimeoutMS *int

	CallbackTimeoutMS *int

	SoundName     *string
	PlayerCommand *string

	ExpressionEnabled *bool

	IPCSocketPath *string
	MetricsAddr   *string

	LogLevel *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}

	if o.HostWsURL != nil {
		cfg.Host.WsURL = *o.HostWsURL
	}
	if o.HostTimeoutMS != nil {
		cfg.Host.TimeoutMS = *o.HostTimeoutMS
	}

	if o.CallbackTimeoutMS != nil {
		cfg.Dispatch.CallbackTimeoutMS = *o.CallbackTimeoutMS
	}

	if o.SoundName != nil {
		cfg.Sound.Name = *o.SoundName
	}
	if o.PlayerCommand != nil {
		cfg.Sound.Player.Command = *o.PlayerCommand
	}

	if o.ExpressionEnabled != nil {
		cfg.Expression.Enabled = *o.ExpressionEnabled
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.MetricsAddr != nil {
		cfg.Metrics.ListenAddr = *o.MetricsAddr
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Host
	if c.Host.WsURL == "" {
		return errors.New("host.ws_url must not be empty")
	}
	u, err := url.Parse(c.Host.WsURL)
	if err != nil {
		return fmt.Errorf("host.ws_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("host.ws_url must use ws:// or wss:// (got %q)", u.Scheme)
	}
	if c.Host.TimeoutMS <= 0 {
		return errors.New("host.timeout_ms must be > 0")
	}
	if c.Host.HandshakeTimeoutMS <= 0 {
		return errors.New("host.handshake_timeout_ms must be > 0")
	}
	if c.Host.ConnectAttempts <= 0 {
		return errors.New("host.connect_attempts must be > 0")
	}

	// Dispatch
	if c.Dispatch.CallbackTimeoutMS < 0 {
		return errors.New("dispatch.callback_timeout_ms must be >= 0")
	}

	// Segments
	if !c.Sound.Enabled && !c.Expression.Enabled {
		return errors.New("at least one of sound.enabled or expression.enabled must be true")
	}
	if c.Sound.Enabled {
		if strings.TrimSpace(c.Sound.Name) == "" {
			return errors.New("sound.name must not be empty")
		}
		if c.Sound.Player.Command == "" {
			return errors.New("sound.player.command must not be empty")
		}
	}
	if c.Expression.Enabled && strings.TrimSpace(c.Expression.Name) == "" {
		return errors.New("expression.name must not be empty")
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// HostTimeout returns the per-call procedure timeout.
func (c *Config) HostTimeout() time.Duration {
	return time.Duration(c.Host.TimeoutMS) * time.Millisecond
}

// CallbackTimeout returns the segment callback timeout (0 = none).
func (c *Config) CallbackTimeout() time.Duration {
	return time.Duration(c.Dispatch.CallbackTimeoutMS) * time.Millisecond
}

// HostClientOptions converts the host section into transport options.
func (c *Config) HostClientOptions() HostClientOptions {
	return HostClientOptions{
		HandshakeTimeout: time.Duration(c.Host.HandshakeTimeoutMS) * time.Millisecond,
		ConnectAttempts:  c.Host.ConnectAttempts,
		RetryDelay:       connectRetryDelay,
	}
}

// ExpandPath expands a leading "~" to the user's home directory.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return p
		}
		if p == "~" {
			return home
		}
		return filepath.Join(home, p[2:])
	}
	return p
}
