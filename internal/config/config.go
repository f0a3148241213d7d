package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/vango-dev/circuit/pkg/channel"
	"github.com/vango-dev/circuit/pkg/circuit"
)

// Config file names searched by Find, in order.
var FileNames = []string{"circuit.yaml", "circuit.yml", "circuit.toml"}

const (
	// DefaultBaseURL is the base URL used when none is configured.
	DefaultBaseURL = "http://localhost:5000/"

	// DefaultHubAddr is the listen address of the demo hub.
	DefaultHubAddr = "localhost:5000"

	// DefaultLogLevel is the default log level name.
	DefaultLogLevel = "warn"
)

var (
	// ErrNotFound is returned when no config file exists.
	ErrNotFound = errors.New("config: no circuit.yaml or circuit.toml found")

	// ErrUnsupportedFormat is returned for unknown file extensions.
	ErrUnsupportedFormat = errors.New("config: unsupported file format")

	// ErrInvalid wraps validation failures.
	ErrInvalid = errors.New("config: invalid configuration")
)

// Config is the circuitctl configuration file.
type Config struct {
	// BaseURL is the page URL the service URL resolves against.
	BaseURL string `yaml:"baseURL,omitempty" toml:"baseURL,omitempty"`

	// ServiceURL is the hub endpoint, absolute or relative to BaseURL.
	ServiceURL string `yaml:"serviceURL,omitempty" toml:"serviceURL,omitempty"`

	// Circuits are ids of circuits pre-rendered by the server. Empty means
	// a new circuit is created.
	Circuits []string `yaml:"circuits,omitempty" toml:"circuits,omitempty"`

	Channel   ChannelConfig   `yaml:"channel,omitempty" toml:"channel,omitempty"`
	Reconnect ReconnectConfig `yaml:"reconnect,omitempty" toml:"reconnect,omitempty"`
	Boot      BootConfig      `yaml:"boot,omitempty" toml:"boot,omitempty"`
	Log       LogConfig       `yaml:"log,omitempty" toml:"log,omitempty"`
	Metrics   MetricsConfig   `yaml:"metrics,omitempty" toml:"metrics,omitempty"`
	Hub       HubConfig       `yaml:"hub,omitempty" toml:"hub,omitempty"`

	configPath string
}

// ChannelConfig holds transport timeouts. Durations use time.ParseDuration
// syntax ("15s"); "0" disables optional timers.
type ChannelConfig struct {
	HandshakeTimeout  string `yaml:"handshakeTimeout,omitempty" toml:"handshakeTimeout,omitempty"`
	KeepAliveInterval string `yaml:"keepAliveInterval,omitempty" toml:"keepAliveInterval,omitempty"`
	ServerTimeout     string `yaml:"serverTimeout,omitempty" toml:"serverTimeout,omitempty"`
	WriteTimeout      string `yaml:"writeTimeout,omitempty" toml:"writeTimeout,omitempty"`
	MaxMessageSize    int64  `yaml:"maxMessageSize,omitempty" toml:"maxMessageSize,omitempty"`
}

// ReconnectConfig is the automatic reconnection policy.
type ReconnectConfig struct {
	Disabled   bool   `yaml:"disabled,omitempty" toml:"disabled,omitempty"`
	MaxRetries uint64 `yaml:"maxRetries,omitempty" toml:"maxRetries,omitempty"`
	Unlimited  bool   `yaml:"unlimited,omitempty" toml:"unlimited,omitempty"`
	Backoff    string `yaml:"backoff,omitempty" toml:"backoff,omitempty"`
	BaseDelay  string `yaml:"baseDelay,omitempty" toml:"baseDelay,omitempty"`
	MaxDelay   string `yaml:"maxDelay,omitempty" toml:"maxDelay,omitempty"`
	Jitter     string `yaml:"jitter,omitempty" toml:"jitter,omitempty"`
}

// BootConfig configures the HTTP boot loader.
type BootConfig struct {
	ConfigURL   string   `yaml:"configURL,omitempty" toml:"configURL,omitempty"`
	Resources   []string `yaml:"resources,omitempty" toml:"resources,omitempty"`
	Concurrency int      `yaml:"concurrency,omitempty" toml:"concurrency,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level,omitempty" toml:"level,omitempty"`

	// JSON selects the JSON handler instead of text.
	JSON bool `yaml:"json,omitempty" toml:"json,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. "localhost:9090".
	Addr      string `yaml:"addr,omitempty" toml:"addr,omitempty"`
	Namespace string `yaml:"namespace,omitempty" toml:"namespace,omitempty"`
}

// HubConfig configures the demo hub served by "circuitctl hub".
type HubConfig struct {
	Addr          string `yaml:"addr,omitempty" toml:"addr,omitempty"`
	BatchInterval string `yaml:"batchInterval,omitempty" toml:"batchInterval,omitempty"`
	PingInterval  string `yaml:"pingInterval,omitempty" toml:"pingInterval,omitempty"`
}

// New returns a Config with default values.
func New() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Find returns the first config file in dir, or ErrNotFound.
func Find(dir string) (string, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNotFound, dir)
}

// Load finds and reads the config file in dir.
func Load(dir string) (*Config, error) {
	path, err := Find(dir)
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads a YAML or TOML file, chosen by extension, applies defaults
// and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := &Config{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if undec := md.Undecoded(); len(undec) > 0 {
			return nil, fmt.Errorf("config: parse %s: unknown key %q", path, undec[0].String())
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	cfg.configPath = path
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveTo writes the config to path in the format its extension names.
func (c *Config) SaveTo(path string) error {
	var buf bytes.Buffer
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("config: encode: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("config: encode: %w", err)
		}
	case ".toml":
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return fmt.Errorf("config: encode: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	c.configPath = path
	return nil
}

// Path returns the file the config was loaded from or saved to.
func (c *Config) Path() string {
	return c.configPath
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" && c.ServiceURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Reconnect.Backoff == "" {
		c.Reconnect.Backoff = circuit.BackoffConstant
	}
	if c.Reconnect.BaseDelay == "" {
		c.Reconnect.BaseDelay = "1s"
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "circuit"
	}
	if c.Hub.Addr == "" {
		c.Hub.Addr = DefaultHubAddr
	}
	if c.Hub.BatchInterval == "" {
		c.Hub.BatchInterval = "1s"
	}
}

// Validate checks durations, the log level and the reconnect policy.
func (c *Config) Validate() error {
	durations := map[string]string{
		"channel.handshakeTimeout":  c.Channel.HandshakeTimeout,
		"channel.keepAliveInterval": c.Channel.KeepAliveInterval,
		"channel.serverTimeout":     c.Channel.ServerTimeout,
		"channel.writeTimeout":      c.Channel.WriteTimeout,
		"reconnect.baseDelay":       c.Reconnect.BaseDelay,
		"reconnect.maxDelay":        c.Reconnect.MaxDelay,
		"reconnect.jitter":          c.Reconnect.Jitter,
		"hub.batchInterval":         c.Hub.BatchInterval,
		"hub.pingInterval":          c.Hub.PingInterval,
	}
	for key, v := range durations {
		if _, err := parseDuration(v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
		}
	}
	if _, err := c.LogLevel(); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	if c.Channel.MaxMessageSize < 0 {
		return fmt.Errorf("%w: channel.maxMessageSize must not be negative", ErrInvalid)
	}
	if c.Boot.Concurrency < 0 {
		return fmt.Errorf("%w: boot.concurrency must not be negative", ErrInvalid)
	}
	policy, _ := c.ReconnectPolicy()
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("%w: reconnect: %v", ErrInvalid, err)
	}
	return nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.Log.Level))
	return level, err
}

// Logger builds the configured logger writing to stderr.
func (c *Config) Logger() *slog.Logger {
	level, err := c.LogLevel()
	if err != nil {
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.JSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// ChannelConfig returns the transport config with unset fields at their
// defaults.
func (c *Config) ChannelConfig() (*channel.Config, error) {
	out := channel.DefaultConfig()
	set := []struct {
		raw string
		dst *time.Duration
	}{
		{c.Channel.HandshakeTimeout, &out.HandshakeTimeout},
		{c.Channel.KeepAliveInterval, &out.KeepAliveInterval},
		{c.Channel.ServerTimeout, &out.ServerTimeout},
		{c.Channel.WriteTimeout, &out.WriteTimeout},
	}
	for _, s := range set {
		if s.raw == "" {
			continue
		}
		d, err := parseDuration(s.raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		*s.dst = d
	}
	if c.Channel.MaxMessageSize > 0 {
		out.MaxMessageSize = c.Channel.MaxMessageSize
	}
	return out, nil
}

// ReconnectPolicy converts the reconnect section.
func (c *Config) ReconnectPolicy() (circuit.ReconnectPolicy, error) {
	p := circuit.ReconnectPolicy{
		MaxRetries: c.Reconnect.MaxRetries,
		Unlimited:  c.Reconnect.Unlimited,
		Backoff:    c.Reconnect.Backoff,
	}
	var err error
	if p.BaseDelay, err = parseDuration(c.Reconnect.BaseDelay); err != nil {
		return p, fmt.Errorf("%w: reconnect.baseDelay: %v", ErrInvalid, err)
	}
	if p.MaxDelay, err = parseDuration(c.Reconnect.MaxDelay); err != nil {
		return p, fmt.Errorf("%w: reconnect.maxDelay: %v", ErrInvalid, err)
	}
	if p.Jitter, err = parseDuration(c.Reconnect.Jitter); err != nil {
		return p, fmt.Errorf("%w: reconnect.jitter: %v", ErrInvalid, err)
	}
	return p, nil
}

// Options converts the config into controller options. Callers add the
// pieces that are not file-configurable, such as the Applier and Observers.
func (c *Config) Options() (circuit.Options, error) {
	ch, err := c.ChannelConfig()
	if err != nil {
		return circuit.Options{}, err
	}
	policy, err := c.ReconnectPolicy()
	if err != nil {
		return circuit.Options{}, err
	}

	opts := circuit.Options{
		BaseURL:              c.BaseURL,
		ServiceURL:           c.ServiceURL,
		Channel:              ch,
		Logger:               c.Logger(),
		Reconnect:            policy,
		DisableAutoReconnect: c.Reconnect.Disabled,
	}
	if len(c.Circuits) > 0 {
		frags := make(circuit.StaticFragments, 0, len(c.Circuits))
		for _, id := range c.Circuits {
			frags = append(frags, &circuit.PrerenderedFragment{ID: id})
		}
		opts.Fragments = frags
	}
	if c.Boot.ConfigURL != "" || len(c.Boot.Resources) > 0 {
		opts.BootLoader = &circuit.HTTPBootLoader{
			ConfigURL:   c.Boot.ConfigURL,
			Resources:   c.Boot.Resources,
			Concurrency: c.Boot.Concurrency,
		}
	}
	return opts, nil
}

// BatchInterval parses Hub.BatchInterval.
func (c *Config) BatchInterval() time.Duration {
	d, _ := parseDuration(c.Hub.BatchInterval)
	return d
}

// PingInterval parses Hub.PingInterval.
func (c *Config) PingInterval() time.Duration {
	d, _ := parseDuration(c.Hub.PingInterval)
	return d
}

// parseDuration accepts "" and "0" as zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
