package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	CORS        CORSConfig
	Log         LogConfig
	Ledger      LedgerConfig
	Outreach    OutreachConfig
	Dashboard   DashboardConfig
	Connections ConnectionsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// LedgerConfig tunes ledger derivation. The INR rate is a snapshot constant:
// changing it never rewrites exchange_rate_used already stamped on students.
type LedgerConfig struct {
	InrPerEur        string
	OverdueAfterDays int
}

// OutreachConfig governs retention call generation.
type OutreachConfig struct {
	Enabled          bool
	StaleContactDays int
	SweepInterval    time.Duration
	CallListCacheTTL time.Duration
	SweepWorkers     int
}

// DashboardConfig governs retention dashboard exposure and cache tuning.
type DashboardConfig struct {
	Enabled     bool
	CacheTTL    time.Duration
	AtRiskLimit int
}

// ConnectionsConfig tunes peer matching.
type ConnectionsConfig struct {
	SuggestionLimit int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Ledger = LedgerConfig{
		InrPerEur:        v.GetString("LEDGER_INR_PER_EUR"),
		OverdueAfterDays: v.GetInt("LEDGER_OVERDUE_AFTER_DAYS"),
	}

	cfg.Outreach = OutreachConfig{
		Enabled:          v.GetBool("ENABLE_OUTREACH_SWEEP"),
		StaleContactDays: v.GetInt("OUTREACH_STALE_CONTACT_DAYS"),
		SweepInterval:    parseDuration(v.GetString("OUTREACH_SWEEP_INTERVAL"), 24*time.Hour),
		CallListCacheTTL: parseDuration(v.GetString("OUTREACH_CALL_LIST_CACHE_TTL"), 5*time.Minute),
		SweepWorkers:     v.GetInt("OUTREACH_SWEEP_WORKERS"),
	}

	cfg.Dashboard = DashboardConfig{
		Enabled:     v.GetBool("ENABLE_DASHBOARD"),
		CacheTTL:    parseDuration(v.GetString("DASHBOARD_CACHE_TTL"), 5*time.Minute),
		AtRiskLimit: v.GetInt("DASHBOARD_AT_RISK_LIMIT"),
	}

	cfg.Connections = ConnectionsConfig{
		SuggestionLimit: v.GetInt("CONNECTIONS_SUGGESTION_LIMIT"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "lingua_ops")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("LEDGER_INR_PER_EUR", "90")
	v.SetDefault("LEDGER_OVERDUE_AFTER_DAYS", 30)

	v.SetDefault("ENABLE_OUTREACH_SWEEP", false)
	v.SetDefault("OUTREACH_STALE_CONTACT_DAYS", 30)
	v.SetDefault("OUTREACH_SWEEP_INTERVAL", "24h")
	v.SetDefault("OUTREACH_CALL_LIST_CACHE_TTL", "5m")
	v.SetDefault("OUTREACH_SWEEP_WORKERS", 1)

	v.SetDefault("ENABLE_DASHBOARD", true)
	v.SetDefault("DASHBOARD_CACHE_TTL", "5m")
	v.SetDefault("DASHBOARD_AT_RISK_LIMIT", 10)

	v.SetDefault("CONNECTIONS_SUGGESTION_LIMIT", 5)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
