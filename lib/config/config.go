// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/acquire/lib/sealkey"
)

// EnvVar names the environment variable that points at the config
// file when no --config flag is given.
const EnvVar = "ACQUIRE_CONFIG"

// Config is the master configuration for an acquisition run.
type Config struct {
	// Output configures where case artifacts are written.
	Output OutputConfig `yaml:"output"`

	// Device configures the device connection and source paths.
	Device DeviceConfig `yaml:"device"`

	// Seal configures sealing key provisioning.
	Seal SealConfig `yaml:"seal"`

	// Staging configures the intermediate copy of device files.
	Staging StagingConfig `yaml:"staging"`

	// Logging configures the structured logger.
	Logging LoggingConfig `yaml:"logging"`
}

// OutputConfig configures case output.
type OutputConfig struct {
	// Dir is the directory case directories are created under.
	// Default: current directory.
	Dir string `yaml:"dir"`

	// HTMLReport additionally renders the report as HTML.
	// Default: false.
	HTMLReport bool `yaml:"html_report"`

	// Bundle archives the case directory after the run. Values:
	// "none", "lz4", "zstd". Empty disables bundling.
	Bundle string `yaml:"bundle"`
}

// DeviceConfig configures the device side of the run.
type DeviceConfig struct {
	// Address is the device bridge address in "host:port" form,
	// where a relay daemon exposes the USB-attached device. Required
	// unless a simulated device profile is used.
	Address string `yaml:"address"`

	// MessageStore is the on-device path of the message database.
	// Default: /var/mobile/Library/SMS/sms.db
	MessageStore string `yaml:"message_store"`

	// Timeout bounds the connect sequence, as a Go duration string.
	// Default: 30s.
	Timeout string `yaml:"timeout"`

	// SimulateProfile runs against the in-process simulated device
	// loaded from this profile file instead of real hardware. The
	// --simulate flag overrides it.
	SimulateProfile string `yaml:"simulate_profile"`
}

// SealConfig configures how the sealing key is provisioned. At most
// one source may be set; with none set, the tool prompts for a
// passphrase interactively.
type SealConfig struct {
	// KeyFile is a file holding a raw 32-byte key, binary or hex.
	KeyFile string `yaml:"key_file"`

	// PassphraseFile is a file holding a passphrase to stretch.
	PassphraseFile string `yaml:"passphrase_file"`

	// PassphraseEnv names an environment variable holding the
	// passphrase.
	PassphraseEnv string `yaml:"passphrase_env"`

	// RandomKey seals with a fresh random key. Requires at least one
	// escrow recipient, otherwise the artifacts could never be
	// unsealed.
	RandomKey bool `yaml:"random_key"`

	// EscrowRecipients are age x25519 public keys. When present, the
	// master key is escrowed to them beside the sealed artifacts.
	EscrowRecipients []string `yaml:"escrow_recipients"`
}

// StagingConfig configures the staging area for device file copies.
type StagingConfig struct {
	// Dir is the staging directory. Empty uses the system temp
	// directory.
	Dir string `yaml:"dir"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is the minimum level: debug, info, warn, error.
	// Default: info.
	Level string `yaml:"level"`

	// Format is the handler format: text or json. Default: text.
	Format string `yaml:"format"`
}

// Default returns the default configuration. The config file is
// optional; a run with no file uses exactly these values.
func Default() *Config {
	return &Config{
		Output: OutputConfig{
			Dir: ".",
		},
		Device: DeviceConfig{
			MessageStore: "/var/mobile/Library/SMS/sms.db",
			Timeout:      "30s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Resolve loads configuration for a run. A non-empty flagPath wins;
// otherwise the ACQUIRE_CONFIG environment variable is consulted; with
// neither set the defaults are returned. There is no other discovery.
func Resolve(flagPath string) (*Config, error) {
	if flagPath != "" {
		return LoadFile(flagPath)
	}
	if envPath := os.Getenv(EnvVar); envPath != "" {
		return LoadFile(envPath)
	}
	cfg := Default()
	cfg.expandVariables()
	return cfg, nil
}

// LoadFile loads configuration from a specific file path, layered over
// the defaults and validated. Environment variables do not override
// file values; the only expansion is ${VAR} and ${VAR:-default} in
// host paths, for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	// Strict decoding: a misspelled key is a configuration error, not
	// a silently ignored setting.
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in host
// paths. Device paths are left untouched.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Output.Dir = expandVars(c.Output.Dir, vars)
	c.Seal.KeyFile = expandVars(c.Seal.KeyFile, vars)
	c.Seal.PassphraseFile = expandVars(c.Seal.PassphraseFile, vars)
	c.Staging.Dir = expandVars(c.Staging.Dir, vars)
	c.Device.SimulateProfile = expandVars(c.Device.SimulateProfile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

var (
	bundleValues = []string{"", "none", "lz4", "zstd"}
	levelValues  = []string{"debug", "info", "warn", "error"}
	formatValues = []string{"text", "json"}
)

// Validate checks the configuration for errors. All problems are
// reported at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Output.Dir == "" {
		errs = append(errs, fmt.Errorf("output.dir is required"))
	}
	if !slices.Contains(bundleValues, c.Output.Bundle) {
		errs = append(errs, fmt.Errorf("output.bundle must be one of: none, lz4, zstd"))
	}

	if c.Device.MessageStore == "" {
		errs = append(errs, fmt.Errorf("device.message_store is required"))
	}
	if timeout, err := time.ParseDuration(c.Device.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("device.timeout: %w", err))
	} else if timeout <= 0 {
		errs = append(errs, fmt.Errorf("device.timeout must be positive"))
	}

	sources := 0
	if c.Seal.KeyFile != "" {
		sources++
	}
	if c.Seal.PassphraseFile != "" {
		sources++
	}
	if c.Seal.PassphraseEnv != "" {
		sources++
	}
	if c.Seal.RandomKey {
		sources++
	}
	if sources > 1 {
		errs = append(errs, fmt.Errorf("seal: key_file, passphrase_file, passphrase_env, and random_key are mutually exclusive"))
	}
	if c.Seal.RandomKey && len(c.Seal.EscrowRecipients) == 0 {
		errs = append(errs, fmt.Errorf("seal.random_key requires at least one escrow recipient"))
	}
	for _, recipient := range c.Seal.EscrowRecipients {
		if err := sealkey.ValidateRecipient(recipient); err != nil {
			errs = append(errs, fmt.Errorf("seal.escrow_recipients: %w", err))
		}
	}

	if !slices.Contains(levelValues, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of: debug, info, warn, error"))
	}
	if !slices.Contains(formatValues, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format must be one of: text, json"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ConnectTimeout returns the parsed device connect timeout. Call
// after Validate.
func (c *Config) ConnectTimeout() time.Duration {
	timeout, err := time.ParseDuration(c.Device.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return timeout
}

// EnsureDirs creates the configured host directories if they do not
// exist.
func (c *Config) EnsureDirs() error {
	for _, path := range []string{c.Output.Dir, c.Staging.Dir} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("config: creating %s: %w", path, err)
		}
	}
	return nil
}

// CasePath returns the path of a new case directory for the given
// device, namespaced by identifier and start time so repeated runs
// never collide.
func (c *Config) CasePath(udid string, startedAt time.Time) string {
	name := fmt.Sprintf("%s-%s", udid, startedAt.UTC().Format("20060102-150405"))
	return filepath.Join(c.Output.Dir, name)
}
