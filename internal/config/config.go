// Package config loads catalog-mirror settings from defaults, an optional
// mirror.yaml, an optional .env file and MIRROR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissingConfiguration is returned by Validate when a required setting is absent.
var ErrMissingConfiguration = errors.New("missing configuration")

// EnvPrefix is prepended to every environment override (MIRROR_QUEUE_SOURCE, ...).
const EnvPrefix = "MIRROR"

// Auth modes.
const (
	AuthClientCredentials = "client_credentials"
	AuthStatic            = "static"
)

// Sink types.
const (
	SinkNone  = "none"
	SinkHTTP  = "http"
	SinkRedis = "redis"
)

// Config holds all application configuration
type Config struct {
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	GraphQL   GraphQLConfig   `mapstructure:"graphql"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Pacing    PacingConfig    `mapstructure:"pacing"`
	Store     StoreConfig     `mapstructure:"store"`
	DB        DBConfig        `mapstructure:"db"`
	Sink      SinkConfig      `mapstructure:"sink"`
	Git       GitConfig       `mapstructure:"git"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// CatalogConfig holds the listing endpoint settings
type CatalogConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	Country      string `mapstructure:"country"`
	Locale       string `mapstructure:"locale"`
	PageSize     int    `mapstructure:"page_size"`
	StatusFilter string `mapstructure:"status_filter"`
}

// GraphQLConfig holds the sub-items query settings
type GraphQLConfig struct {
	URL                string `mapstructure:"url"`
	OperationName      string `mapstructure:"operation_name"`
	PersistedQueryHash string `mapstructure:"persisted_query_hash"`
	Locale             string `mapstructure:"locale"`
}

// AuthConfig selects how sessions are obtained
type AuthConfig struct {
	Mode         string `mapstructure:"mode"` // "client_credentials" or "static"
	TokenURL     string `mapstructure:"token_url"`
	KillURL      string `mapstructure:"kill_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Token        string `mapstructure:"token"` // static mode only
}

// QueueConfig holds namespace queue settings
type QueueConfig struct {
	File      string `mapstructure:"file"`
	BatchSize int    `mapstructure:"batch_size"`
	Source    string `mapstructure:"source"` // URL or path of the namespace → offers index
	Shuffle   bool   `mapstructure:"shuffle"`
}

// RetryConfig bounds remote call retries
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// PacingConfig holds the mandatory pauses between remote calls
type PacingConfig struct {
	PageDelay         time.Duration `mapstructure:"page_delay"`
	ItemDelay         time.Duration `mapstructure:"item_delay"`
	OfferDelay        time.Duration `mapstructure:"offer_delay"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// StoreConfig locates the item store
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// DBConfig holds the SQLite mirror settings
type DBConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SinkConfig selects the changelist consumer
type SinkConfig struct {
	Type          string `mapstructure:"type"`
	URL           string `mapstructure:"url"`
	Token         string `mapstructure:"token"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisStream   string `mapstructure:"redis_stream"`
	RedisMaxLen   int64  `mapstructure:"redis_max_len"`
}

// GitConfig holds publish settings
type GitConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Remote  string `mapstructure:"remote"`
	Branch  string `mapstructure:"branch"`
	Author  string `mapstructure:"author"`
}

// DashboardConfig holds the live feed server settings
type DashboardConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File       string `mapstructure:"file"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Catalog: CatalogConfig{
			BaseURL:      "https://catalog-public-service-prod06.ol.epicgames.com/catalog/api/shared",
			Country:      "US",
			Locale:       "en",
			PageSize:     1000,
			StatusFilter: "SUNSET|ACTIVE",
		},
		GraphQL: GraphQLConfig{
			URL:                "https://store.epicgames.com/graphql",
			OperationName:      "getCatalogOfferSubItems",
			PersistedQueryHash: "7f0327250294745d88bb463ba90a9cf6d27cef7c5eb070c015e0def9e3471832",
			Locale:             "en-US",
		},
		Auth: AuthConfig{
			Mode:     AuthClientCredentials,
			TokenURL: "https://account-public-service-prod.ol.epicgames.com/account/api/oauth/token",
			KillURL:  "https://account-public-service-prod.ol.epicgames.com/account/api/oauth/sessions/kill",
		},
		Queue: QueueConfig{
			File:      "ns-queue.json",
			BatchSize: 100,
			Shuffle:   true,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   3 * time.Second,
			MaxDelay:    10 * time.Second,
		},
		Pacing: PacingConfig{
			PageDelay:  time.Second,
			ItemDelay:  time.Second,
			OfferDelay: time.Second,
		},
		Store: StoreConfig{
			Path: "database",
		},
		DB: DBConfig{
			Enabled: true,
			Path:    filepath.Join(".mirror", "catalog.db"),
		},
		Sink: SinkConfig{
			Type:        SinkNone,
			RedisStream: "catalog:changes",
		},
		Git: GitConfig{
			Enabled: true,
			Branch:  "main",
		},
		Dashboard: DashboardConfig{
			Addr: "127.0.0.1:8787",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// defaultConfigPath returns the per-user config directory
func defaultConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "catalog-mirror")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "catalog-mirror")
}

// legacyEnv maps keys to the unprefixed variables older deployments set.
var legacyEnv = map[string]string{
	"queue.source": "NAMESPACES_URL",
	"git.remote":   "GIT_REMOTE",
}

// Options controls where Load looks.
type Options struct {
	// ConfigFile, when set, is read instead of searching for mirror.yaml.
	ConfigFile string

	// EnvFile is loaded before the environment is read. Defaults to .env; a
	// missing file is ignored.
	EnvFile string
}

// Load loads configuration from defaults, file and environment.
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("mirror")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(defaultConfigPath())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every field of d so environment overrides apply to
// keys that appear in no config file.
func setDefaults(v *viper.Viper, d *Config) {
	defaults := map[string]any{
		"catalog.base_url":             d.Catalog.BaseURL,
		"catalog.country":              d.Catalog.Country,
		"catalog.locale":               d.Catalog.Locale,
		"catalog.page_size":            d.Catalog.PageSize,
		"catalog.status_filter":        d.Catalog.StatusFilter,
		"graphql.url":                  d.GraphQL.URL,
		"graphql.operation_name":       d.GraphQL.OperationName,
		"graphql.persisted_query_hash": d.GraphQL.PersistedQueryHash,
		"graphql.locale":               d.GraphQL.Locale,
		"auth.mode":                    d.Auth.Mode,
		"auth.token_url":               d.Auth.TokenURL,
		"auth.kill_url":                d.Auth.KillURL,
		"auth.client_id":               d.Auth.ClientID,
		"auth.client_secret":           d.Auth.ClientSecret,
		"auth.token":                   d.Auth.Token,
		"queue.file":                   d.Queue.File,
		"queue.batch_size":             d.Queue.BatchSize,
		"queue.source":                 d.Queue.Source,
		"queue.shuffle":                d.Queue.Shuffle,
		"retry.max_attempts":           d.Retry.MaxAttempts,
		"retry.base_delay":             d.Retry.BaseDelay,
		"retry.max_delay":              d.Retry.MaxDelay,
		"pacing.page_delay":            d.Pacing.PageDelay,
		"pacing.item_delay":            d.Pacing.ItemDelay,
		"pacing.offer_delay":           d.Pacing.OfferDelay,
		"pacing.requests_per_second":   d.Pacing.RequestsPerSecond,
		"store.path":                   d.Store.Path,
		"db.enabled":                   d.DB.Enabled,
		"db.path":                      d.DB.Path,
		"sink.type":                    d.Sink.Type,
		"sink.url":                     d.Sink.URL,
		"sink.token":                   d.Sink.Token,
		"sink.redis_addr":              d.Sink.RedisAddr,
		"sink.redis_password":          d.Sink.RedisPassword,
		"sink.redis_db":                d.Sink.RedisDB,
		"sink.redis_stream":            d.Sink.RedisStream,
		"sink.redis_max_len":           d.Sink.RedisMaxLen,
		"git.enabled":                  d.Git.Enabled,
		"git.remote":                   d.Git.Remote,
		"git.branch":                   d.Git.Branch,
		"git.author":                   d.Git.Author,
		"dashboard.addr":               d.Dashboard.Addr,
		"logging.file":                 d.Logging.File,
		"logging.level":                d.Logging.Level,
		"logging.max_size_mb":          d.Logging.MaxSizeMB,
		"logging.max_backups":          d.Logging.MaxBackups,
		"logging.max_age_days":         d.Logging.MaxAgeDays,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

func missing(key string) error {
	return fmt.Errorf("%w: %s", ErrMissingConfiguration, key)
}

// Validate checks the settings a run needs. The namespace source may be
// omitted only while a queue file exists.
func (c *Config) Validate() error {
	if c.Queue.Source == "" {
		if _, err := os.Stat(c.Queue.File); err != nil {
			return missing("queue.source")
		}
	}

	switch c.Auth.Mode {
	case AuthClientCredentials:
		if c.Auth.TokenURL == "" {
			return missing("auth.token_url")
		}
		if c.Auth.ClientID == "" || c.Auth.ClientSecret == "" {
			return missing("auth.client_id/auth.client_secret")
		}
	case AuthStatic:
		if c.Auth.Token == "" {
			return missing("auth.token")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.Auth.Mode)
	}

	switch c.Sink.Type {
	case "", SinkNone:
	case SinkHTTP:
		if c.Sink.URL == "" {
			return missing("sink.url")
		}
	case SinkRedis:
		if c.Sink.RedisAddr == "" {
			return missing("sink.redis_addr")
		}
	default:
		return fmt.Errorf("unknown sink type %q", c.Sink.Type)
	}

	if c.Queue.BatchSize <= 0 {
		return fmt.Errorf("queue.batch_size must be positive, got %d", c.Queue.BatchSize)
	}
	return nil
}
