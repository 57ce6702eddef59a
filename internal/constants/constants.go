package constants

import "time"

const (
	PollInterval     = 1 * time.Second
	SafetyStartDelay = 60 * time.Second
	BatchDelay       = 60 * time.Second
	CycleDelay       = 5 * time.Minute
	RequestDelay     = 200 * time.Millisecond
)

const (
	ExternalAPITimeout = 5 * time.Second
	DatabaseTimeout    = 5 * time.Second
	SnapshotTimeout    = 10 * time.Second
	SinkTimeout        = 30 * time.Second
)

const (
	SheetsCallInterval = 1 * time.Second
	SheetsCallBurst    = 5
	SheetsGrowRows     = 100
)

const (
	ErrorBackoffInitial = 5 * time.Second
	ErrorBackoffMax     = 1 * time.Minute
)

const (
	DBMaxOpenConns    = 1
	DBMaxIdleConns    = 1
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	BatchSize              = 50
	RosterWarningThreshold = 1000
	ProgressLogEvery       = 10
)

const (
	Region        = "us"
	DefaultRealm  = "Quel'Thalas"
	RaiderIOURL   = "https://raider.io"
	ProfileFields = "mythic_plus_scores_by_season:current,mythic_plus_best_runs"
)

const (
	TableDashboard = "Dashboard"
	TableMembers   = "Members"
	TableActivity  = "Activity Logs"
	TableMythic    = "M+ Score"
)
