// Package config provides YAML-based configuration loading for ipcwire
// processes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root process configuration.
type Config struct {
	// AppName is the logical name of the process, used in logs.
	AppName string `mapstructure:"app_name"`

	// Log holds logging configuration.
	Log LogConfig `mapstructure:"log"`

	// Channel configures the message channel endpoint.
	Channel ChannelConfig `mapstructure:"channel"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`
	// Rotation controls file rotation for file outputs.
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options.
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ChannelConfig describes one channel endpoint. Both peers of a channel
// must agree on the capability settings; there is no per-connection
// negotiation.
type ChannelConfig struct {
	// Kind: tcp, unix, quic, pipe, or mem.
	Kind string `mapstructure:"kind"`
	// Address in the endpoint's format (host:port, socket path, pipe name).
	Address string `mapstructure:"address"`
	// AsyncDescriptors enables the descriptor cookie handshake for
	// platforms where handle delivery lags byte delivery.
	AsyncDescriptors bool `mapstructure:"async_descriptors"`
	// ReadBufferKB sizes the read loop's per-read chunk.
	ReadBufferKB int `mapstructure:"read_buffer_kb"`
	// InboundQueue is the dispatch handoff capacity in messages.
	InboundQueue int `mapstructure:"inbound_queue"`
	// MaxFrameMB caps a single message frame; an oversized frame is a
	// protocol fault.
	MaxFrameMB int `mapstructure:"max_frame_mb"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "ipcwire",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/ipcwire.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Channel: ChannelConfig{
			Kind:         "tcp",
			Address:      "127.0.0.1:7311",
			ReadBufferKB: 4,
			InboundQueue: 64,
			MaxFrameMB:   128,
		},
	}
}

// Load reads configuration from path when non-empty, otherwise from
// common locations, with environment overrides under the IPCWIRE prefix.
// Example: IPCWIRE_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("IPCWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("channel.kind", cfg.Channel.Kind)
	v.SetDefault("channel.address", cfg.Channel.Address)
	v.SetDefault("channel.async_descriptors", cfg.Channel.AsyncDescriptors)
	v.SetDefault("channel.read_buffer_kb", cfg.Channel.ReadBufferKB)
	v.SetDefault("channel.inbound_queue", cfg.Channel.InboundQueue)
	v.SetDefault("channel.max_frame_mb", cfg.Channel.MaxFrameMB)

	if path == "" {
		if envPath := os.Getenv("IPCWIRE_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ipcwire")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".ipcwire"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	c.Channel.Kind = strings.ToLower(strings.TrimSpace(c.Channel.Kind))
	switch c.Channel.Kind {
	case "tcp", "unix", "quic", "pipe", "mem":
	default:
		return fmt.Errorf("invalid channel.kind: %q", c.Channel.Kind)
	}
	if c.Channel.Address == "" {
		return errors.New("channel.address is required")
	}
	return nil
}
