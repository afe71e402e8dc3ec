package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration that can be unmarshaled from human-readable strings.
// Supports formats like "5s", "10s", "1m", "1h30m", or integer milliseconds for backwards compatibility.
// A value of "0" or 0 means disabled.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML parsing.
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)

	// Try parsing as integer (milliseconds) for backwards compatibility
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}

	// Parse as duration string (e.g., "5s", "1m", "1h30m")
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: must be like '5s', '1m', '1h30m' or milliseconds: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalText implements encoding.TextMarshaler for TOML output.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Milliseconds returns the duration in milliseconds.
func (d Duration) Milliseconds() int {
	return int(time.Duration(d).Milliseconds())
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// DaemonConfig is the configuration for kcbridged.
// Loaded from ~/.config/kcbridge/kcbridged.toml
type DaemonConfig struct {
	Bus         BusConfig         `toml:"bus"`
	Pairing     PairingConfig     `toml:"pairing"`
	Registry    RegistryConfig    `toml:"registry"`
	Suppression SuppressionConfig `toml:"suppression"`
	Log         LogConfig         `toml:"log"`
}

// BusConfig contains session bus client settings.
type BusConfig struct {
	CallTimeout   Duration `toml:"call_timeout"`   // Per-call timeout for daemon method calls
	RetryInitial  Duration `toml:"retry_initial"`  // First retry delay for a failed call
	RetryMax      Duration `toml:"retry_max"`      // Retry delay ceiling
	RetryAttempts int      `toml:"retry_attempts"` // Max attempts per call, 1 = no retry
	ReconnectMax  Duration `toml:"reconnect_max"`  // Reconnect backoff ceiling
	PollInterval  Duration `toml:"poll_interval"`  // Fallback poll cadence when signals are unavailable
}

// PairingConfig contains pairing state machine settings.
type PairingConfig struct {
	Timeout  Duration `toml:"timeout"`   // How long an outstanding pair request stays valid
	TieBreak string   `toml:"tie_break"` // "inbound" or "outbound": which side wins a simultaneous request
}

// RegistryConfig contains device registry settings.
type RegistryConfig struct {
	UnreachableAfter Duration `toml:"unreachable_after"` // Silence before a device is marked unreachable, 0 disables the sweep
}

// SuppressionConfig contains notification suppression settings.
type SuppressionConfig struct {
	Enabled bool `toml:"enabled"` // Suppress daemon popups for paired devices
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `toml:"level"` // "debug", "info", "warn", "error"
}

// TieBreak represents the winner of a simultaneous pair request.
type TieBreak string

const (
	TieBreakInbound  TieBreak = "inbound"
	TieBreakOutbound TieBreak = "outbound"
)

// ValidTieBreaks returns all valid tie break values.
func ValidTieBreaks() []TieBreak {
	return []TieBreak{TieBreakInbound, TieBreakOutbound}
}

// LogLevel represents a logging verbosity level.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ValidLogLevels returns all valid log level values.
func ValidLogLevels() []LogLevel {
	return []LogLevel{LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError}
}

// DefaultDaemonConfig returns a new DaemonConfig with default values.
func DefaultDaemonConfig() *DaemonConfig {
	return &DaemonConfig{
		Bus: BusConfig{
			CallTimeout:   Duration(5 * time.Second),
			RetryInitial:  Duration(500 * time.Millisecond),
			RetryMax:      Duration(10 * time.Second),
			RetryAttempts: 5,
			ReconnectMax:  Duration(30 * time.Second),
			PollInterval:  Duration(3 * time.Second),
		},
		Pairing: PairingConfig{
			Timeout:  Duration(30 * time.Second),
			TieBreak: string(TieBreakInbound),
		},
		Registry: RegistryConfig{
			UnreachableAfter: Duration(2 * time.Minute),
		},
		Suppression: SuppressionConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Level: string(LogLevelInfo),
		},
	}
}

// DaemonConfigPath returns the path to the daemon config file.
func DaemonConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "kcbridge", "kcbridged.toml"), nil
}

// LoadDaemonConfig loads the daemon configuration from disk.
// If path is empty, uses the default config path.
// If the file doesn't exist, returns the default configuration.
func LoadDaemonConfig(path string) (*DaemonConfig, error) {
	if path == "" {
		var err error
		path, err = DaemonConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultDaemonConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start with defaults, then overlay with file contents
	config := DefaultDaemonConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Validate the configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// SaveDaemonConfig saves the daemon configuration to disk.
// If path is empty, uses the default config path.
func SaveDaemonConfig(config *DaemonConfig, path string) error {
	if path == "" {
		var err error
		path, err = DaemonConfigPath()
		if err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write atomically via temp file
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// Validate checks if the configuration is valid.
func (c *DaemonConfig) Validate() error {
	// Validate tie break
	validTie := false
	for _, tb := range ValidTieBreaks() {
		if c.Pairing.TieBreak == string(tb) {
			validTie = true
			break
		}
	}
	if !validTie {
		return fmt.Errorf("invalid tie_break %q, must be one of: %v", c.Pairing.TieBreak, ValidTieBreaks())
	}

	// Validate log level
	validLevel := false
	for _, l := range ValidLogLevels() {
		if c.Log.Level == string(l) {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("invalid log level %q, must be one of: %v", c.Log.Level, ValidLogLevels())
	}

	// Validate timings
	if c.Pairing.Timeout.Duration() <= 0 {
		return fmt.Errorf("pairing timeout must be positive, got %s", c.Pairing.Timeout.Duration())
	}
	if c.Bus.CallTimeout.Duration() <= 0 {
		return fmt.Errorf("call_timeout must be positive, got %s", c.Bus.CallTimeout.Duration())
	}
	if c.Bus.RetryAttempts < 1 || c.Bus.RetryAttempts > 10 {
		return fmt.Errorf("retry_attempts must be between 1 and 10, got %d", c.Bus.RetryAttempts)
	}
	if c.Bus.RetryInitial.Duration() <= 0 || c.Bus.RetryMax.Duration() < c.Bus.RetryInitial.Duration() {
		return fmt.Errorf("retry delays must satisfy 0 < retry_initial <= retry_max")
	}
	if c.Bus.PollInterval.Duration() < 500*time.Millisecond {
		return fmt.Errorf("poll_interval must be at least 500ms, got %s", c.Bus.PollInterval.Duration())
	}

	return nil
}

// InboundWins reports whether a simultaneous inbound pair request wins
// over an already-sent outbound one.
func (c *DaemonConfig) InboundWins() bool {
	return c.Pairing.TieBreak == string(TieBreakInbound)
}
