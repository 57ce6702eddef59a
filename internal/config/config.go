package config

import (
	"time"

	"guild-bridge/internal/constants"
)

const (
	SinkSheets = "sheets"
	SinkSQLite = "sqlite"
)

type Config struct {
	AddonPath       string `koanf:"addon_path"`
	CredentialsPath string `koanf:"credentials_path"`
	SheetName       string `koanf:"sheet_name"`
	SpreadsheetID   string `koanf:"spreadsheet_id"`
	MembersTable    string `koanf:"members_table"`
	SinkDriver      string `koanf:"sink_driver"`

	DBPath     string `koanf:"db_path"`
	LogLevel   string `koanf:"log_level"`
	LogFormat  string `koanf:"log_format"`
	StatusAddr string `koanf:"status_addr"`
	Timezone   string `koanf:"timezone"`

	Region       string `koanf:"region"`
	DefaultRealm string `koanf:"default_realm"`
	RaiderIOURL  string `koanf:"raiderio_url"`

	PollInterval     time.Duration `koanf:"poll_interval"`
	SafetyStartDelay time.Duration `koanf:"safety_start_delay"`
	BatchSize        int           `koanf:"batch_size"`
	BatchDelay       time.Duration `koanf:"batch_delay"`
	CycleDelay       time.Duration `koanf:"cycle_delay"`
	RequestDelay     time.Duration `koanf:"request_delay"`
	FetchTimeout     time.Duration `koanf:"fetch_timeout"`

	ErrorBackoff    time.Duration `koanf:"error_backoff"`
	ErrorBackoffMax time.Duration `koanf:"error_backoff_max"`

	RosterWarningThreshold int `koanf:"roster_warning_threshold"`
}

// New returns a Config holding every default.
func New() *Config {
	return &Config{
		CredentialsPath: "credentials.json",
		SheetName:       "Guild Activity Tracker",
		MembersTable:    constants.TableMembers,
		SinkDriver:      SinkSheets,

		DBPath:     "guild_bridge.db",
		LogLevel:   "info",
		LogFormat:  "console",
		StatusAddr: "127.0.0.1:8089",
		Timezone:   "Local",

		Region:       constants.Region,
		DefaultRealm: constants.DefaultRealm,
		RaiderIOURL:  constants.RaiderIOURL,

		PollInterval:     constants.PollInterval,
		SafetyStartDelay: constants.SafetyStartDelay,
		BatchSize:        constants.BatchSize,
		BatchDelay:       constants.BatchDelay,
		CycleDelay:       constants.CycleDelay,
		RequestDelay:     constants.RequestDelay,
		FetchTimeout:     constants.ExternalAPITimeout,

		ErrorBackoff:    constants.ErrorBackoffInitial,
		ErrorBackoffMax: constants.ErrorBackoffMax,

		RosterWarningThreshold: constants.RosterWarningThreshold,
	}
}

// Location resolves Timezone, falling back to the process local zone.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
