// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds application configuration
type Config struct {
	DataDir           string // Base directory for all databases (always absolute)
	LogLevel          string
	ReportingTimezone string
	Location          *time.Location // resolved ReportingTimezone; calendar days are cut here
	Port              int
	DevMode           bool
	Simulation        SimulationConfig
	Reconcile         ReconcileConfig
	Analytics         AnalyticsConfig
	Backup            BackupConfig
	Maintenance       MaintenanceConfig
}

// SimulationConfig holds price model and batch settings
type SimulationConfig struct {
	Schedule       string  // cron spec with seconds
	Volatility     float64 // std dev of the daily return
	MaxDailyMove   float64 // absolute bound on the daily return
	MaxVolumeDelta int64
	Seed           int64 // 0 = seed from the clock at startup
	Workers        int
}

// ReconcileConfig holds the position reconciliation job settings
type ReconcileConfig struct {
	Schedule string
}

// AnalyticsConfig holds query-side limits
type AnalyticsConfig struct {
	HistoryMaxDays int
	TopN           int
	MaterialityPct float64
	CacheEnabled   bool
	CacheMaxAge    time.Duration // cached series older than this are pruned after reconciliation
}

// MaintenanceConfig holds database upkeep schedules
type MaintenanceConfig struct {
	HealthCheckSchedule string // integrity and WAL checks
	VacuumSchedule      string
}

// BackupConfig holds S3-compatible backup settings. Backups are disabled without a bucket.
type BackupConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	Schedule        string
	RetentionDays   int
}

// Enabled reports whether backups are configured
func (b BackupConfig) Enabled() bool {
	return b.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("STOCKSIM_DATA_DIR", "./data")

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:           absDataDir,
		Port:              getEnvAsInt("GO_PORT", 8001),
		DevMode:           getEnvAsBool("DEV_MODE", false),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ReportingTimezone: getEnv("REPORTING_TIMEZONE", "UTC"),
		Simulation: SimulationConfig{
			Schedule:       getEnv("SIMULATION_SCHEDULE", "0 0 22 * * *"),
			Volatility:     getEnvAsFloat("SIMULATION_VOLATILITY", 0.02),
			MaxDailyMove:   getEnvAsFloat("SIMULATION_MAX_DAILY_MOVE", 0.10),
			MaxVolumeDelta: int64(getEnvAsInt("SIMULATION_MAX_VOLUME_DELTA", 100000)),
			Seed:           getEnvAsInt64("SIMULATION_SEED", 0),
			Workers:        getEnvAsInt("SIMULATION_WORKERS", 4),
		},
		Reconcile: ReconcileConfig{
			Schedule: getEnv("RECONCILE_SCHEDULE", "0 30 22 * * *"),
		},
		Analytics: AnalyticsConfig{
			HistoryMaxDays: getEnvAsInt("HISTORY_MAX_DAYS", 1825),
			TopN:           getEnvAsInt("ANALYTICS_TOP_N", 3),
			MaterialityPct: getEnvAsFloat("SECTOR_MATERIALITY_PCT", 1.0),
			CacheEnabled:   getEnvAsBool("VALUATION_CACHE_ENABLED", true),
			CacheMaxAge:    time.Duration(getEnvAsInt("VALUATION_CACHE_MAX_AGE_HOURS", 168)) * time.Hour,
		},
		Backup: BackupConfig{
			Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:          getEnv("BACKUP_S3_REGION", "auto"),
			Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
			Prefix:          getEnv("BACKUP_S3_PREFIX", "stocksim"),
			AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
			Schedule:        getEnv("BACKUP_SCHEDULE", "0 0 3 * * *"),
			RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
		Maintenance: MaintenanceConfig{
			HealthCheckSchedule: getEnv("HEALTH_CHECK_SCHEDULE", "0 0 * * * *"),
			VacuumSchedule:      getEnv("MAINTENANCE_SCHEDULE", "0 0 4 * * SUN"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration values and resolves the reporting location
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid GO_PORT: %d", c.Port)
	}

	loc, err := time.LoadLocation(c.ReportingTimezone)
	if err != nil {
		return fmt.Errorf("invalid REPORTING_TIMEZONE %q: %w", c.ReportingTimezone, err)
	}
	c.Location = loc

	if c.Simulation.Volatility <= 0 {
		return fmt.Errorf("SIMULATION_VOLATILITY must be positive, got %v", c.Simulation.Volatility)
	}
	if c.Simulation.MaxDailyMove <= 0 || c.Simulation.MaxDailyMove >= 1 {
		return fmt.Errorf("SIMULATION_MAX_DAILY_MOVE must be in (0, 1), got %v", c.Simulation.MaxDailyMove)
	}
	if c.Simulation.MaxVolumeDelta < 0 {
		return fmt.Errorf("SIMULATION_MAX_VOLUME_DELTA must not be negative, got %d", c.Simulation.MaxVolumeDelta)
	}
	if c.Simulation.Workers < 1 {
		return fmt.Errorf("SIMULATION_WORKERS must be at least 1, got %d", c.Simulation.Workers)
	}
	if c.Analytics.HistoryMaxDays < 1 {
		return fmt.Errorf("HISTORY_MAX_DAYS must be at least 1, got %d", c.Analytics.HistoryMaxDays)
	}
	if c.Analytics.TopN < 1 {
		return fmt.Errorf("ANALYTICS_TOP_N must be at least 1, got %d", c.Analytics.TopN)
	}
	if c.Analytics.MaterialityPct < 0 || c.Analytics.MaterialityPct > 100 {
		return fmt.Errorf("SECTOR_MATERIALITY_PCT must be within [0, 100], got %v", c.Analytics.MaterialityPct)
	}

	schedules := map[string]string{
		"SIMULATION_SCHEDULE":   c.Simulation.Schedule,
		"RECONCILE_SCHEDULE":    c.Reconcile.Schedule,
		"HEALTH_CHECK_SCHEDULE": c.Maintenance.HealthCheckSchedule,
		"MAINTENANCE_SCHEDULE":  c.Maintenance.VacuumSchedule,
	}
	if c.Backup.Enabled() {
		schedules["BACKUP_SCHEDULE"] = c.Backup.Schedule
	}
	for key, spec := range schedules {
		if _, err := scheduleParser.Parse(spec); err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, spec, err)
		}
	}

	if c.Backup.Enabled() && (c.Backup.AccessKeyID == "" || c.Backup.SecretAccessKey == "") {
		return fmt.Errorf("BACKUP_S3_BUCKET is set but backup credentials are missing")
	}

	return nil
}

// scheduleParser matches the scheduler's cron.WithSeconds() format
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
