// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"firestige.xyz/sipzamine/internal/core"
	"firestige.xyz/sipzamine/internal/core/decoder"
	"firestige.xyz/sipzamine/internal/dialog"
	"firestige.xyz/sipzamine/internal/filter"
	"firestige.xyz/sipzamine/internal/stream"
)

// Root is the YAML root key. Environment variables use the SIPZAMINE_
// prefix derived from it (e.g., SIPZAMINE_DIALOG_IDLE_TIMEOUT).
const Root = "sipzamine"

// Config represents the complete configuration of an examine run.
type Config struct {
	Log     LogConfig      `mapstructure:"log"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	Capture CaptureConfig  `mapstructure:"capture"`
	Decoder decoder.Config `mapstructure:"decoder"`
	Stream  stream.Config  `mapstructure:"stream"`
	SIP     SIPConfig      `mapstructure:"sip"`
	Dialog  dialog.Config  `mapstructure:"dialog"`
	Filter  filter.Config  `mapstructure:"filter"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format"`  // json / text
	Pattern string           `mapstructure:"pattern"` // library log lines
	Time    string           `mapstructure:"time"`    // time layout for Pattern
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains log destinations besides stderr.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// MetricsConfig contains Prometheus metrics server settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// CaptureConfig contains capture reading settings.
type CaptureConfig struct {
	ReadAhead int `mapstructure:"read_ahead"` // frames buffered by the reader goroutine; 0 reads inline
	MaxFrames int `mapstructure:"max_frames"` // 0 = no limit
}

// SIPConfig contains SIP parsing settings.
type SIPConfig struct {
	MaxMessageSize int  `mapstructure:"max_message_size"`
	Strict         bool `mapstructure:"strict"`
}

// configRoot is the top-level wrapper matching the YAML structure `sipzamine: ...`.
type configRoot struct {
	Sipzamine Config `mapstructure:"sipzamine"`
}

// NewViper prepares a viper instance with defaults, environment overrides
// and, when path is not empty, the configuration file. Callers may bind
// flags to it before calling Decode.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `sipzamine.` key prefix maps to `SIPZAMINE_` via the key replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v, nil
}

// Key returns the full viper key of a setting below the root.
func Key(name string) string {
	return Root + "." + name
}

// Decode unmarshals, validates and applies defaults.
func Decode(v *viper.Viper) (*Config, error) {
	// Unmarshal into wrapper → extract inner Config
	var root configRoot
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToListHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&root, hooks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Sipzamine
	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// stringToListHookFunc splits a separated string into a slice of any
// element type. Environment variables reach list settings as one string,
// and mapstructure's own hook only targets []string.
func stringToListHookFunc(sep string) mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Slice || t.Elem().Kind() == reflect.Uint8 {
			return data, nil
		}
		raw := strings.TrimSpace(reflect.ValueOf(data).String())
		if raw == "" {
			return []string{}, nil
		}
		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}

// Load loads configuration from file. An empty path yields defaults with
// environment overrides.
func Load(path string) (*Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, err
	}
	return Decode(v)
}

// Render returns the effective settings as YAML under the root key.
func Render(v *viper.Viper) ([]byte, error) {
	out, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return out, nil
}

// setDefaults sets default values for configuration.
// All keys use the "sipzamine." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault(Key("log.level"), "info")
	v.SetDefault(Key("log.format"), "text")
	v.SetDefault(Key("log.pattern"), "%time [%level] %prefix%msg %field\n")
	v.SetDefault(Key("log.time"), "2006-01-02 15:04:05.000")
	v.SetDefault(Key("log.outputs.file.enabled"), false)
	v.SetDefault(Key("log.outputs.file.path"), "sipzamine.log")
	v.SetDefault(Key("log.outputs.file.rotation.max_size_mb"), 100)
	v.SetDefault(Key("log.outputs.file.rotation.max_age_days"), 30)
	v.SetDefault(Key("log.outputs.file.rotation.max_backups"), 5)
	v.SetDefault(Key("log.outputs.file.rotation.compress"), true)

	// Metrics defaults
	v.SetDefault(Key("metrics.enabled"), false)
	v.SetDefault(Key("metrics.listen"), "127.0.0.1:9091")
	v.SetDefault(Key("metrics.path"), "/metrics")

	// Capture defaults
	v.SetDefault(Key("capture.read_ahead"), 0)
	v.SetDefault(Key("capture.max_frames"), 0)

	// Decoder defaults
	v.SetDefault(Key("decoder.tunnel.vxlan"), false)
	v.SetDefault(Key("decoder.tunnel.geneve"), false)
	v.SetDefault(Key("decoder.tunnel.gre"), false)
	v.SetDefault(Key("decoder.tunnel.ipip"), false)

	// Stream defaults
	v.SetDefault(Key("stream.max_buffered_bytes"), 1<<20)
	v.SetDefault(Key("stream.idle_timeout"), "5m")
	v.SetDefault(Key("stream.anchor_window"), "200ms")

	// SIP defaults
	v.SetDefault(Key("sip.max_message_size"), 65536)
	v.SetDefault(Key("sip.strict"), false)

	// Dialog defaults
	v.SetDefault(Key("dialog.idle_timeout"), "1h")
	v.SetDefault(Key("dialog.linger"), "2s")

	// Filter defaults
	v.SetDefault(Key("filter.hosts"), []string{})
	v.SetDefault(Key("filter.ports"), []int{})
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return invalid("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return invalid("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return invalid("log.outputs.file.path is required when file output is enabled")
	}

	// ── Metrics validation ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return invalid("metrics.listen is required when metrics.enabled=true")
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// ── Capture validation ──
	if cfg.Capture.ReadAhead < 0 {
		return invalid("capture.read_ahead must not be negative: %d", cfg.Capture.ReadAhead)
	}
	if cfg.Capture.MaxFrames < 0 {
		return invalid("capture.max_frames must not be negative: %d", cfg.Capture.MaxFrames)
	}

	// ── Stream validation ──
	if cfg.Stream.MaxBufferedBytes <= 0 {
		return invalid("stream.max_buffered_bytes must be positive: %d", cfg.Stream.MaxBufferedBytes)
	}
	if cfg.Stream.IdleTimeout <= 0 {
		return invalid("stream.idle_timeout must be positive: %s", cfg.Stream.IdleTimeout)
	}
	if cfg.Stream.AnchorWindow < 0 {
		return invalid("stream.anchor_window must not be negative: %s", cfg.Stream.AnchorWindow)
	}

	// ── SIP validation ──
	if cfg.SIP.MaxMessageSize < 1024 {
		return invalid("sip.max_message_size must be at least 1024: %d", cfg.SIP.MaxMessageSize)
	}

	// ── Dialog validation ──
	if cfg.Dialog.IdleTimeout <= 0 {
		return invalid("dialog.idle_timeout must be positive: %s", cfg.Dialog.IdleTimeout)
	}

	// ── Filter validation ──
	for _, h := range cfg.Filter.Hosts {
		if !h.IsValid() {
			return invalid("filter.hosts contains an invalid address")
		}
	}
	for _, p := range cfg.Filter.Ports {
		if p == 0 {
			return invalid("filter.ports must not contain 0")
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{core.ErrConfigInvalid}, args...)...)
}
