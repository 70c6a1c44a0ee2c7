// Package config loads FlowAudit settings.
//
// Precedence, lowest first: defaults, the YAML file, FLOWAUDIT_*
// environment variables, then CLI flags (applied by the caller). A missing
// config file is not an error; a malformed one is.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the config file when --config is not given.
const EnvConfigPath = "FLOWAUDIT_CONFIG"

// DefaultPath is used when neither --config nor FLOWAUDIT_CONFIG is set.
const DefaultPath = "flowaudit.yaml"

// Config holds all settings.
type Config struct {
	ListenAddr          string   `yaml:"listen_addr"`
	DBPath              string   `yaml:"db_path"`
	RulesetDirs         []string `yaml:"ruleset_dirs"`
	LogLevel            string   `yaml:"log_level"`
	LogFormat           string   `yaml:"log_format"`
	DefaultLocale       string   `yaml:"default_locale"`
	MaxUploadBytes      int64    `yaml:"max_upload_bytes"`
	LowMatchRate        float64  `yaml:"low_match_rate"`
	ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		ListenAddr:          ":8080",
		DBPath:              "flowaudit.db",
		LogLevel:            "info",
		LogFormat:           "text",
		DefaultLocale:       "en",
		MaxUploadBytes:      10 << 20,
		LowMatchRate:        0.5,
		ReadTimeoutSeconds:  15,
		WriteTimeoutSeconds: 30,
	}
}

// ReadTimeout returns the server read timeout.
func (c Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the server write timeout.
func (c Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// Load reads settings from path, or from FLOWAUDIT_CONFIG / DefaultPath
// when path is empty, and applies environment overrides.
// It also returns the file actually read ("" when none existed).
func Load(path string) (Config, string, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = DefaultPath
	}

	used := ""
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(data, &cfg); err != nil {
			return Config{}, "", fmt.Errorf("parse %s: %w", path, err)
		}
		used = path
		cfg.resolveDirs(filepath.Dir(path))
	case errors.Is(err, fs.ErrNotExist):
		// defaults only
	default:
		return Config{}, "", fmt.Errorf("read %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, "", err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, "", err
	}
	return cfg, used, nil
}

// decode parses YAML strictly: unknown keys are errors.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// resolveDirs makes relative ruleset directories relative to the config
// file's directory.
func (c *Config) resolveDirs(base string) {
	for i, dir := range c.RulesetDirs {
		if !filepath.IsAbs(dir) {
			c.RulesetDirs[i] = filepath.Join(base, dir)
		}
	}
}

// applyEnv applies FLOWAUDIT_* overrides.
func (c *Config) applyEnv() error {
	envOverride(&c.ListenAddr, "FLOWAUDIT_LISTEN_ADDR")
	envOverride(&c.DBPath, "FLOWAUDIT_DB_PATH")
	envOverride(&c.LogLevel, "FLOWAUDIT_LOG_LEVEL")
	envOverride(&c.LogFormat, "FLOWAUDIT_LOG_FORMAT")
	envOverride(&c.DefaultLocale, "FLOWAUDIT_DEFAULT_LOCALE")
	if dirs := os.Getenv("FLOWAUDIT_RULESET_DIRS"); dirs != "" {
		c.RulesetDirs = filepath.SplitList(dirs)
	}

	var errs []error
	errs = append(errs,
		envOverrideInt64(&c.MaxUploadBytes, "FLOWAUDIT_MAX_UPLOAD_BYTES"),
		envOverrideFloat(&c.LowMatchRate, "FLOWAUDIT_LOW_MATCH_RATE"),
		envOverrideInt(&c.ReadTimeoutSeconds, "FLOWAUDIT_READ_TIMEOUT_SECONDS"),
		envOverrideInt(&c.WriteTimeoutSeconds, "FLOWAUDIT_WRITE_TIMEOUT_SECONDS"),
	)
	return errors.Join(errs...)
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q: want debug, info, warn or error", c.LogLevel))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q: want text or json", c.LogFormat))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes))
	}
	if c.LowMatchRate < 0 || c.LowMatchRate > 1 {
		errs = append(errs, fmt.Errorf("low_match_rate must be within [0,1], got %g", c.LowMatchRate))
	}
	if c.ReadTimeoutSeconds < 0 || c.WriteTimeoutSeconds < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	return errors.Join(errs...)
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideInt64(field *int64, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideFloat(field *float64, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}
