package domain

import "time"

// Config holds the complete fleetwatch configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Profile selects the component stack: "local" or "distributed"
	Profile Profile `json:"profile" mapstructure:"profile"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"eventbus"`

	// Core thresholds
	Odometer OdometerConfig `json:"odometer" mapstructure:"odometer"`
	Health   HealthConfig   `json:"health" mapstructure:"health"`

	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// Profile represents the deployment shape.
type Profile string

const (
	// ProfileLocal runs on SQLite, an in-process LRU and Go channels.
	ProfileLocal Profile = "local"

	// ProfileDistributed runs on PostgreSQL, Redis and NATS.
	ProfileDistributed Profile = "distributed"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"readtimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"writetimeout"` // seconds

	// ValidateRatePerMinute caps interactive validation calls per client IP.
	ValidateRatePerMinute int `json:"validateRatePerMinute" mapstructure:"validaterateperminute"`

	// CORSOrigins lists allowed browser origins. Empty allows any.
	CORSOrigins []string `json:"corsOrigins" mapstructure:"corsorigins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// OdometerConfig holds every threshold used by the reading validator,
// rate estimator and bulk sanitizer. The interactive and bulk jump
// thresholds are intentionally separate values.
type OdometerConfig struct {
	// MaxReading is the physical ceiling for a reading.
	MaxReading int64 `json:"maxReading" mapstructure:"maxreading"`

	// BackwardTolerance is how far below the last reading a candidate may
	// fall before it is rejected instead of warned about.
	BackwardTolerance int64 `json:"backwardTolerance" mapstructure:"backwardtolerance"`

	// InteractiveJump triggers the large-jump warning in the validator.
	InteractiveJump int64 `json:"interactiveJump" mapstructure:"interactivejump"`

	// DailyRateWarning triggers the high daily average warning.
	DailyRateWarning float64 `json:"dailyRateWarning" mapstructure:"dailyratewarning"`

	// EstimateMismatch is the gap above which an estimate suggestion is made.
	EstimateMismatch float64 `json:"estimateMismatch" mapstructure:"estimatemismatch"`

	// SnapshotSlack is how far below the vehicle snapshot a reading may be.
	SnapshotSlack int64 `json:"snapshotSlack" mapstructure:"snapshotslack"`

	// HistoryWindow is the number of recent events the validator considers.
	HistoryWindow int `json:"historyWindow" mapstructure:"historywindow"`

	// RateSampleSize is how many recent events feed the rate estimator.
	RateSampleSize int `json:"rateSampleSize" mapstructure:"ratesamplesize"`

	// RatePlausibility discards pair distances at or above this value.
	RatePlausibility int64 `json:"ratePlausibility" mapstructure:"rateplausibility"`

	// FallbackRate is returned when history is insufficient.
	FallbackRate float64 `json:"fallbackRate" mapstructure:"fallbackrate"`

	// BulkJump triggers the "very large jump" sanitizer warning.
	BulkJump int64 `json:"bulkJump" mapstructure:"bulkjump"`

	// SanitizerWorkers bounds concurrent vehicle groups during sanitize.
	SanitizerWorkers int `json:"sanitizerWorkers" mapstructure:"sanitizerworkers"`
}

// HealthConfig holds database health scorer settings.
type HealthConfig struct {
	// RulesPath points to a YAML rule set. Empty uses the embedded defaults.
	RulesPath string `json:"rulesPath" mapstructure:"rulespath"`

	// WatchRules reloads RulesPath on change.
	WatchRules bool `json:"watchRules" mapstructure:"watchrules"`

	// ReportTTL is how long a scored report stays cached.
	ReportTTL time.Duration `json:"reportTtl" mapstructure:"reportttl"`
}

// DefaultOdometerConfig returns the production thresholds.
func DefaultOdometerConfig() OdometerConfig {
	return OdometerConfig{
		MaxReading:        9_999_999,
		BackwardTolerance: 100,
		InteractiveJump:   1500,
		DailyRateWarning:  500,
		EstimateMismatch:  300,
		SnapshotSlack:     1000,
		HistoryWindow:     10,
		RateSampleSize:    5,
		RatePlausibility:  2000,
		FallbackRate:      100,
		BulkJump:          2000,
		SanitizerWorkers:  4,
	}
}

// DefaultConfig returns a default configuration for the local profile.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                  "0.0.0.0",
			Port:                  8080,
			ReadTimeout:           30,
			WriteTimeout:          30,
			ValidateRatePerMinute: 600,
		},
		Profile: ProfileLocal,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./fleetwatch.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Odometer: DefaultOdometerConfig(),
		Health: HealthConfig{
			ReportTTL: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// DistributedConfig returns a configuration for the distributed profile.
func DistributedConfig() *Config {
	cfg := DefaultConfig()
	cfg.Profile = ProfileDistributed
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "fleetwatch",
	}
	cfg.Cache = CacheConfig{
		Type:            "redis",
		RedisAddr:       "localhost:6379",
		EnableTwoPhase:  true,
		LocalMaxSize:    1000,
		LocalTTL:        time.Minute,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "fleetwatch-workers",
	}
	return cfg
}
