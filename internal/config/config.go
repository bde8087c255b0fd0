// Package config loads the TOML configuration shared by diskfmt and diskfmtd.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
)

const (
	BackendUDisks = "udisks"
	BackendMock   = "mock"

	// DaemonConfigPath is where diskfmtd looks for its configuration.
	DaemonConfigPath = "/etc/diskfmt/diskfmtd.toml"
	DefaultSocket    = "/run/diskfmt/api.socket"
)

type Config struct {
	Backend BackendConfig `toml:"backend"`
	Devices DevicesConfig `toml:"devices"`
	Daemon  DaemonConfig  `toml:"daemon"`
	Logging LoggingConfig `toml:"logging"`
}

type BackendConfig struct {
	// "udisks" or "mock"
	Type string `toml:"type"`
	// use the mock backend when UDisks2 can't be reached
	FallbackToMock bool       `toml:"fallback_to_mock"`
	Mock           MockConfig `toml:"mock"`
}

type MockConfig struct {
	Steps        int      `toml:"steps"`
	StepInterval Duration `toml:"step_interval"`
	RejectCancel bool     `toml:"reject_cancel"`
}

type DevicesConfig struct {
	// glob patterns of device paths that are never offered
	Exclude []string `toml:"exclude"`
}

type DaemonConfig struct {
	Socket string `toml:"socket"`
	// empty disables the metrics listener
	MetricsListen string `toml:"metrics_listen"`
}

type LoggingConfig struct {
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Journal bool   `toml:"journal"`
}

// Duration reads and writes durations as strings like "1s" or "250ms".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func GetDefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Type: BackendUDisks,
			Mock: MockConfig{
				Steps:        4,
				StepInterval: Duration{time.Second},
			},
		},
		Devices: DevicesConfig{
			Exclude: []string{},
		},
		Daemon: DaemonConfig{
			Socket: DefaultSocket,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "text",
			Journal: true,
		},
	}
}

// LoadConfig reads the file at name over the defaults and applies the
// environment overrides. A missing file is not an error.
func LoadConfig(name string) (*Config, error) {
	c := GetDefaultConfig()

	md, err := toml.DecodeFile(name, c)
	if err != nil {
		// A non-existing config isn't an error, use defaults in this case.
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		logrus.Info("Configuration file not found, using defaults")
	}
	for _, key := range md.Undecoded() {
		logrus.Warnf("Unknown configuration key %q in %s", key.String(), name)
	}

	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("DISKFMT_SOCKET"); ok && v != "" {
		c.Daemon.Socket = v
	}
	if v, ok := lookup("DISKFMT_LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup("DISKFMT_BACKEND"); ok && v != "" {
		c.Backend.Type = v
	}
	if v, ok := lookup("DISKFMT_FALLBACK_TO_MOCK"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DISKFMT_FALLBACK_TO_MOCK: %w", err)
		}
		c.Backend.FallbackToMock = b
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Backend.Type {
	case BackendUDisks, BackendMock:
	default:
		return fmt.Errorf("backend type needs to be %s or %s. Got: %q", BackendUDisks, BackendMock, c.Backend.Type)
	}
	if c.Backend.Mock.Steps < 1 {
		return fmt.Errorf("backend.mock.steps must be at least 1, got %d", c.Backend.Mock.Steps)
	}
	if c.Backend.Mock.StepInterval.Duration < 0 {
		return fmt.Errorf("backend.mock.step_interval must not be negative")
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format needs to be text or json. Got: %q", c.Logging.Format)
	}
	if c.Daemon.Socket == "" {
		return fmt.Errorf("daemon.socket must not be empty")
	}
	return nil
}

func DumpConfig(c *Config, w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// DefaultPath is the configuration file of the CLI: $DISKFMT_CONFIG, else
// diskfmt/config.toml in the user's XDG config directory.
func DefaultPath() (string, error) {
	if p, ok := os.LookupEnv("DISKFMT_CONFIG"); ok && p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "diskfmt", "config.toml"), nil
}

var ErrExists = errors.New("configuration file already exists")

// WriteDefault writes the default configuration to name, creating parent
// directories as needed. An existing file is only replaced when force is
// set.
func WriteDefault(name string, force bool) error {
	if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return err
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(name, flags, 0644)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %s", ErrExists, name)
	} else if err != nil {
		return err
	}

	if err := DumpConfig(GetDefaultConfig(), f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
