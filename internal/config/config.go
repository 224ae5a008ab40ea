// Package config loads fleetwatch configuration from defaults, an optional
// YAML file and FLEETWATCH_* environment variables, in increasing
// precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/opensource-fleet/fleetwatch/internal/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FLEETWATCH"

// Load reads configuration. path may be empty, in which case
// fleetwatch.yaml is looked up in the working directory and
// /etc/fleetwatch; a missing file is not an error.
func Load(path string) (*domain.Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fleetwatch")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fleetwatch")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	// The profile picks the defaults, so it is resolved first.
	base := domain.DefaultConfig()
	switch profile := domain.Profile(strings.ToLower(v.GetString("profile"))); profile {
	case "", domain.ProfileLocal:
	case domain.ProfileDistributed:
		base = domain.DistributedConfig()
	default:
		return nil, fmt.Errorf("config: unknown profile %q", profile)
	}
	setDefaults(v, base)

	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, base *domain.Config) {
	v.SetDefault("profile", string(base.Profile))

	v.SetDefault("server.host", base.Server.Host)
	v.SetDefault("server.port", base.Server.Port)
	v.SetDefault("server.readtimeout", base.Server.ReadTimeout)
	v.SetDefault("server.writetimeout", base.Server.WriteTimeout)
	v.SetDefault("server.validaterateperminute", base.Server.ValidateRatePerMinute)
	v.SetDefault("server.corsorigins", base.Server.CORSOrigins)

	v.SetDefault("repository.driver", base.Repository.Driver)
	v.SetDefault("repository.sqlitepath", base.Repository.SQLitePath)
	v.SetDefault("repository.postgreshost", base.Repository.PostgresHost)
	v.SetDefault("repository.postgresport", base.Repository.PostgresPort)
	v.SetDefault("repository.postgresuser", base.Repository.PostgresUser)
	v.SetDefault("repository.postgrespassword", base.Repository.PostgresPassword)
	v.SetDefault("repository.postgresdb", base.Repository.PostgresDB)
	v.SetDefault("repository.postgressslmode", base.Repository.PostgresSSLMode)
	v.SetDefault("repository.maxopenconns", base.Repository.MaxOpenConns)
	v.SetDefault("repository.maxidleconns", base.Repository.MaxIdleConns)
	v.SetDefault("repository.connmaxlifetime", base.Repository.ConnMaxLifetime)

	v.SetDefault("cache.type", base.Cache.Type)
	v.SetDefault("cache.localmaxsize", base.Cache.LocalMaxSize)
	v.SetDefault("cache.localttl", base.Cache.LocalTTL)
	v.SetDefault("cache.redisaddr", base.Cache.RedisAddr)
	v.SetDefault("cache.redispassword", base.Cache.RedisPassword)
	v.SetDefault("cache.redisdb", base.Cache.RedisDB)
	v.SetDefault("cache.enabletwophase", base.Cache.EnableTwoPhase)
	v.SetDefault("cache.breakerfailures", base.Cache.BreakerFailures)
	v.SetDefault("cache.breakertimeout", base.Cache.BreakerTimeout)

	v.SetDefault("eventbus.type", base.EventBus.Type)
	v.SetDefault("eventbus.channelbuffersize", base.EventBus.ChannelBufferSize)
	v.SetDefault("eventbus.natsurl", base.EventBus.NATSUrl)
	v.SetDefault("eventbus.natstoken", base.EventBus.NATSToken)
	v.SetDefault("eventbus.natsmaxreconnects", base.EventBus.NATSMaxReconnects)
	v.SetDefault("eventbus.natsreconnectwait", base.EventBus.NATSReconnectWait)
	v.SetDefault("eventbus.natsqueuegroup", base.EventBus.NATSQueueGroup)

	o := base.Odometer
	v.SetDefault("odometer.maxreading", o.MaxReading)
	v.SetDefault("odometer.backwardtolerance", o.BackwardTolerance)
	v.SetDefault("odometer.interactivejump", o.InteractiveJump)
	v.SetDefault("odometer.dailyratewarning", o.DailyRateWarning)
	v.SetDefault("odometer.estimatemismatch", o.EstimateMismatch)
	v.SetDefault("odometer.snapshotslack", o.SnapshotSlack)
	v.SetDefault("odometer.historywindow", o.HistoryWindow)
	v.SetDefault("odometer.ratesamplesize", o.RateSampleSize)
	v.SetDefault("odometer.rateplausibility", o.RatePlausibility)
	v.SetDefault("odometer.fallbackrate", o.FallbackRate)
	v.SetDefault("odometer.bulkjump", o.BulkJump)
	v.SetDefault("odometer.sanitizerworkers", o.SanitizerWorkers)

	v.SetDefault("health.rulespath", base.Health.RulesPath)
	v.SetDefault("health.watchrules", base.Health.WatchRules)
	v.SetDefault("health.reportttl", base.Health.ReportTTL)

	v.SetDefault("logging.level", base.Logging.Level)
	v.SetDefault("logging.format", base.Logging.Format)
}

func validate(cfg *domain.Config) error {
	o := cfg.Odometer
	switch {
	case o.MaxReading <= 0:
		return fmt.Errorf("config: odometer.maxreading must be positive")
	case o.BackwardTolerance < 0:
		return fmt.Errorf("config: odometer.backwardtolerance must not be negative")
	case o.HistoryWindow <= 0 || o.RateSampleSize <= 0:
		return fmt.Errorf("config: odometer history sizes must be positive")
	case o.FallbackRate <= 0:
		return fmt.Errorf("config: odometer.fallbackrate must be positive")
	case cfg.Health.WatchRules && cfg.Health.RulesPath == "":
		return fmt.Errorf("config: health.watchrules needs health.rulespath")
	}
	return nil
}

// InitLogger installs the default slog logger.
func InitLogger(cfg domain.LoggingConfig, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return fmt.Errorf("config: parse log level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch cfg.Format {
	case "text", "console":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}
