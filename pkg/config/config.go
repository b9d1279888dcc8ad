package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/spf13/viper"
)

type Strategy string

const (
	StrategyProfiles   Strategy = "profiles"
	StrategyWearables  Strategy = "wearables"
	StrategyScenes     Strategy = "scenes"
	StrategyPointers   Strategy = "pointers"
	StrategyCollection Strategy = "collection"
	StrategyDatabase   Strategy = "database"
)

// NeedsCatalyst reports whether the strategy enumerates against a source catalyst.
func (s Strategy) NeedsCatalyst() bool {
	switch s {
	case StrategyProfiles, StrategyWearables, StrategyPointers, StrategyCollection:
		return true
	}
	return false
}

// NeedsDatabase reports whether the strategy scans the deployments database.
func (s Strategy) NeedsDatabase() bool {
	return s == StrategyScenes || s == StrategyDatabase
}

func (s Strategy) Known() bool {
	return s.NeedsCatalyst() || s.NeedsDatabase()
}

const (
	DefaultNatsSubject    = "catalyst.migration.records"
	DefaultRequestTimeout = 20 * time.Minute
	DefaultReportPath     = "scene-sizes.txt"
	DefaultConcurrency    = 1
	DefaultCacheMemoryMB  = 256
)

type Config struct {
	Strategy Strategy `mapstructure:"strategy"`
	DryRun   bool     `mapstructure:"dry_run"`
	Output   string   `mapstructure:"output"`

	SourceURL  string `mapstructure:"source_catalyst_url"`
	TargetURL  string `mapstructure:"target_catalyst_url"`
	PrivateKey Secret `mapstructure:"migration_private_key"`

	// CutoffTimestamp is in milliseconds. Zero means no cutoff.
	CutoffTimestamp int64 `mapstructure:"migration_cutoff_timestamp"`

	Pointers    []string `mapstructure:"pointers"`
	Collections []string `mapstructure:"collections"`
	EntityTypes []string `mapstructure:"entity_types"`
	EntityType  string   `mapstructure:"entity_type"`

	ContentsDirectory string         `mapstructure:"contents_directory"`
	Postgres          PostgresConfig `mapstructure:"postgres"`

	// CacheMemoryMB caps the in-process content cache. Zero disables it.
	CacheMemoryMB int `mapstructure:"cache_memory_mb"`

	RedisURL    string `mapstructure:"redis_url"`
	NatsURL     string `mapstructure:"nats_url"`
	NatsSubject string `mapstructure:"nats_subject"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	ReportPath  string `mapstructure:"report_path"`

	Concurrency    int           `mapstructure:"concurrency"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password Secret `mapstructure:"password"`
}

// ConnString builds a postgres URL suitable for pgxpool.
func (p PostgresConfig) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password.Reveal()),
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:   "/" + p.Database,
	}
	return u.String()
}

// envBindings maps config keys to the environment variables the migration
// scripts have always used.
var envBindings = map[string][]string{
	"source_catalyst_url":        {"SOURCE_CATALYST_URL"},
	"target_catalyst_url":        {"TARGET_CATALYST_URL"},
	"migration_private_key":      {"MIGRATION_PRIVATE_KEY"},
	"migration_cutoff_timestamp": {"MIGRATION_CUTOFF_TIMESTAMP", "SEPOLIA_MIGRATION_TIMESTAMP"},
	"contents_directory":         {"CONTENTS_DIRECTORY"},
	"postgres.host":              {"POSTGRES_HOST"},
	"postgres.port":              {"POSTGRES_PORT"},
	"postgres.database":          {"POSTGRES_CONTENT_DB"},
	"postgres.user":              {"POSTGRES_CONTENT_USER"},
	"postgres.password":          {"POSTGRES_CONTENT_PASSWORD"},
	"redis_url":                  {"REDIS_URL"},
	"nats_url":                   {"NATS_URL"},
	"nats_subject":               {"NATS_SUBJECT"},
	"metrics_addr":               {"METRICS_ADDR"},
	"strategy":                   {"MIGRATION_STRATEGY"},
	"pointers":                   {"MIGRATION_POINTERS"},
	"collections":                {"MIGRATION_COLLECTIONS"},
	"entity_type":                {"MIGRATION_ENTITY_TYPE"},
	"concurrency":                {"MIGRATION_CONCURRENCY"},
	"request_timeout":            {"MIGRATION_REQUEST_TIMEOUT"},
	"cache_memory_mb":            {"MIGRATION_CACHE_MEMORY_MB"},
}

// SetDefaults registers defaults and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("strategy", string(StrategyProfiles))
	v.SetDefault("output", "json")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.database", "content")
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("nats_subject", DefaultNatsSubject)
	v.SetDefault("report_path", DefaultReportPath)
	v.SetDefault("concurrency", DefaultConcurrency)
	v.SetDefault("request_timeout", DefaultRequestTimeout)
	v.SetDefault("cache_memory_mb", DefaultCacheMemoryMB)

	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		_ = v.BindEnv(args...)
	}
}

// Load reads the optional config file at path, applies environment
// overrides and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.NatsSubject == "" {
		c.NatsSubject = DefaultNatsSubject
	}
	if c.ReportPath == "" {
		c.ReportPath = DefaultReportPath
	}
	c.SourceURL = strings.TrimRight(c.SourceURL, "/")
	c.TargetURL = strings.TrimRight(c.TargetURL, "/")
}

// IsDryRun is true when no signing key is configured or dry-run was requested.
func (c *Config) IsDryRun() bool {
	return c.DryRun || c.PrivateKey.Empty()
}

// Error reports a missing or invalid configuration value.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
}

// Validate checks that the settings needed by the selected strategy are present.
func (c *Config) Validate() error {
	var errs []error

	if !c.Strategy.Known() {
		errs = append(errs, &Error{Field: "strategy", Message: fmt.Sprintf("unknown strategy %q", c.Strategy)})
	}

	if c.Strategy.NeedsCatalyst() && c.SourceURL == "" {
		errs = append(errs, &Error{Field: "source_catalyst_url", Message: "required for strategy " + string(c.Strategy)})
	}

	if c.Strategy.NeedsDatabase() {
		errs = append(errs, c.validateDatabase()...)
	}

	switch c.Strategy {
	case StrategyPointers:
		if len(c.Pointers) == 0 {
			errs = append(errs, &Error{Field: "pointers", Message: "at least one pointer is required"})
		}
	case StrategyCollection:
		if len(c.Collections) == 0 {
			errs = append(errs, &Error{Field: "collections", Message: "at least one collection is required"})
		}
	case StrategyDatabase:
		if c.EntityType == "" {
			errs = append(errs, &Error{Field: "entity_type", Message: "required for strategy database"})
		}
	}

	if !c.PrivateKey.Empty() {
		if err := validateKey(c.PrivateKey.Reveal()); err != nil {
			errs = append(errs, err)
		}
	}

	if !c.IsDryRun() && c.TargetURL == "" {
		errs = append(errs, &Error{Field: "target_catalyst_url", Message: "required when a signing key is configured"})
	}

	if c.CacheMemoryMB < 0 {
		errs = append(errs, &Error{Field: "cache_memory_mb", Message: "must not be negative"})
	}

	if c.Output != "" && c.Output != "json" && c.Output != "yaml" {
		errs = append(errs, &Error{Field: "output", Message: "must be json or yaml"})
	}

	return errors.Join(errs...)
}

// ValidateSceneReport checks the settings needed to produce the scene size report.
func (c *Config) ValidateSceneReport() error {
	errs := c.validateDatabase()
	if c.ReportPath == "" {
		errs = append(errs, &Error{Field: "report_path", Message: "is required"})
	}
	return errors.Join(errs...)
}

func (c *Config) validateDatabase() []error {
	var errs []error
	if c.Postgres.Host == "" {
		errs = append(errs, &Error{Field: "postgres.host", Message: "is required"})
	}
	if c.Postgres.Port <= 0 {
		errs = append(errs, &Error{Field: "postgres.port", Message: "must be positive"})
	}
	if c.Postgres.Database == "" {
		errs = append(errs, &Error{Field: "postgres.database", Message: "is required"})
	}
	if c.Postgres.User == "" {
		errs = append(errs, &Error{Field: "postgres.user", Message: "is required"})
	}
	if c.ContentsDirectory == "" {
		errs = append(errs, &Error{Field: "contents_directory", Message: "is required"})
	}
	return errs
}

func validateKey(key string) error {
	raw := strings.TrimPrefix(strings.TrimPrefix(key, "0x"), "0X")
	if len(raw) != 64 {
		return &Error{Field: "migration_private_key", Message: "must be 32 hex-encoded bytes"}
	}
	keyBytes, err := hex.DecodeString(raw)
	if err != nil {
		return &Error{Field: "migration_private_key", Message: "is not valid hex"}
	}
	var scalar btcec.ModNScalar
	if overflow := scalar.SetByteSlice(keyBytes); overflow || scalar.IsZero() {
		return &Error{Field: "migration_private_key", Message: "is outside the secp256k1 key range"}
	}
	return nil
}
