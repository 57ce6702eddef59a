package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

const (
	envPrefix     = "BRIDGE_"
	envConfigFile = "BRIDGE_CONFIG"
)

// legacyEnv maps the variable names of the original tool onto config keys.
// They take precedence over BRIDGE_* values.
var legacyEnv = map[string]func(*Config, string){
	"WOW_ADDON_PATH":            func(c *Config, v string) { c.AddonPath = v },
	"GOOGLE_SHEETS_CREDENTIALS": func(c *Config, v string) { c.CredentialsPath = v },
	"GOOGLE_SHEET_NAME":         func(c *Config, v string) { c.SheetName = v },
	"GOOGLE_SHEET_WORKSHEET":    func(c *Config, v string) { c.MembersTable = v },
	"GOOGLE_SHEET_ID":           func(c *Config, v string) { c.SpreadsheetID = v },
	"DB_PATH":                   func(c *Config, v string) { c.DBPath = v },
	"LOG_LEVEL":                 func(c *Config, v string) { c.LogLevel = v },
}

// Load layers, lowest first: defaults, .env, YAML file named by
// BRIDGE_CONFIG, BRIDGE_* variables, legacy variable names.
func Load() (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	k := koanf.New(".")

	if path := os.Getenv(envConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}
	k.Delete("config")

	cfg := *New()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	for name, apply := range legacyEnv {
		if v := os.Getenv(name); v != "" {
			apply(&cfg, v)
		}
	}

	if cfg.AddonPath != "" {
		cfg.AddonPath = filepath.Clean(os.ExpandEnv(cfg.AddonPath))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.AddonPath == "" || c.AddonPath == "." {
		errs = append(errs, fmt.Errorf("%w: WOW_ADDON_PATH is required", ErrMissingConfig))
	}

	switch c.SinkDriver {
	case SinkSheets:
		if _, err := os.Stat(c.CredentialsPath); err != nil {
			errs = append(errs, fmt.Errorf("%w: credentials file %q not found", ErrMissingConfig, c.CredentialsPath))
		}
		if c.SpreadsheetID == "" && c.SheetName == "" {
			errs = append(errs, fmt.Errorf("%w: GOOGLE_SHEET_ID or GOOGLE_SHEET_NAME is required", ErrMissingConfig))
		}
	case SinkSQLite:
	default:
		errs = append(errs, fmt.Errorf("%w: unknown sink driver %q", ErrInvalidConfig, c.SinkDriver))
	}

	if c.MembersTable == "" {
		errs = append(errs, fmt.Errorf("%w: members table name is empty", ErrInvalidConfig))
	}
	if c.DBPath == "" {
		errs = append(errs, fmt.Errorf("%w: db path is empty", ErrInvalidConfig))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, c.BatchSize))
	}
	for name, d := range map[string]time.Duration{
		"poll interval": c.PollInterval,
		"fetch timeout": c.FetchTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name))
		}
	}
	for name, d := range map[string]time.Duration{
		"batch delay":        c.BatchDelay,
		"cycle delay":        c.CycleDelay,
		"request delay":      c.RequestDelay,
		"safety start delay": c.SafetyStartDelay,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, name))
		}
	}

	return errors.Join(errs...)
}

// LogSummary prints the effective settings once at startup.
func LogSummary(cfg *Config, logger zerolog.Logger) {
	logger.Info().
		Str("addon_path", cfg.AddonPath).
		Str("sink", cfg.SinkDriver).
		Str("sheet", cfg.SheetName).
		Str("db_path", cfg.DBPath).
		Str("region", cfg.Region).
		Int("batch_size", cfg.BatchSize).
		Dur("batch_delay", cfg.BatchDelay).
		Dur("cycle_delay", cfg.CycleDelay).
		Dur("request_delay", cfg.RequestDelay).
		Msg("configuration loaded")
}
