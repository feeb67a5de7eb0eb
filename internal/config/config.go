// Package config provides configuration management for the citation verification service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/helixir/citation-verification-service/internal/domain"
	"github.com/helixir/citation-verification-service/internal/matching"
	"github.com/helixir/citation-verification-service/internal/observability"
	"github.com/helixir/citation-verification-service/internal/papersources"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "CITEVERIFY"

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the citation verification service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Kafka contains settings for publishing verification events.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Cache contains the source lookup cache settings.
	Cache CacheConfig `mapstructure:"cache"`
	// Verification contains batch runner and retry settings.
	Verification VerificationConfig `mapstructure:"verification"`
	// Matching contains similarity thresholds.
	Matching MatchingConfig `mapstructure:"matching"`
	// Sources contains per-source client settings.
	Sources SourcesConfig `mapstructure:"sources"`
	// Parser contains bibliography parsing settings.
	Parser ParserConfig `mapstructure:"parser"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response. Batches are
	// verified synchronously, so this must cover a full run.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MaxReferences caps the number of references accepted per request.
	MaxReferences int `mapstructure:"max_references"`
	// MaxBodyBytes caps the request body size.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Enabled controls whether runs are persisted. The CLI runs without a database.
	Enabled bool `mapstructure:"enabled"`
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (loaded from CITEVERIFY_DATABASE_PASSWORD).
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	// Default is "require" for production security. Use "disable" only for local development.
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 20).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 2).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
	// StatementCacheCapacity is the size of the prepared statement cache.
	StatementCacheCapacity int `mapstructure:"statement_cache_capacity"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// KafkaConfig holds Kafka publisher settings.
type KafkaConfig struct {
	// Enabled controls whether verification events are published.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic verification events are written to.
	Topic string `mapstructure:"topic"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// CacheConfig holds the lookup cache settings.
type CacheConfig struct {
	// Enabled wraps every source with the SQLite lookup cache.
	Enabled bool `mapstructure:"enabled"`
	// Path is the SQLite database file.
	Path string `mapstructure:"path"`
	// TTL is how long a cached lookup stays valid.
	TTL time.Duration `mapstructure:"ttl"`
}

// VerificationConfig holds batch runner settings.
type VerificationConfig struct {
	// Workers is the number of references verified concurrently.
	Workers int `mapstructure:"workers"`
	// PreprintHint moves arXiv ahead of Google Scholar when the raw text
	// mentions arXiv or a preprint.
	PreprintHint bool `mapstructure:"preprint_hint"`
	// WorkshopHint consults web search for workshop and proceedings papers
	// no bibliographic source matched.
	WorkshopHint bool `mapstructure:"workshop_hint"`
	// Retry contains the per-call retry policy.
	Retry RetryConfig `mapstructure:"retry"`
}

// RetryConfig holds the retry policy applied to every source call.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts per call, including the first.
	MaxAttempts int `mapstructure:"max_attempts"`
	// InitialInterval is the wait before the second attempt.
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	// Multiplier grows the wait between attempts.
	Multiplier float64 `mapstructure:"multiplier"`
	// MaxInterval caps a single wait.
	MaxInterval time.Duration `mapstructure:"max_interval"`
	// MaxElapsed bounds the total time spent retrying one call.
	MaxElapsed time.Duration `mapstructure:"max_elapsed"`
}

// MatchingConfig holds similarity thresholds.
type MatchingConfig struct {
	// TitleThreshold is the minimum title similarity for a bibliographic match.
	TitleThreshold float64 `mapstructure:"title_threshold"`
	// AuthorThreshold is the minimum author alignment score.
	AuthorThreshold float64 `mapstructure:"author_threshold"`
	// WebsiteThreshold is the title threshold for web pages.
	WebsiteThreshold float64 `mapstructure:"website_threshold"`
	// TitleWeight is the weight of the title score in the ranking score.
	TitleWeight float64 `mapstructure:"title_weight"`
	// SourceTitleThresholds overrides TitleThreshold per source, keyed by
	// source type (crossref, google_scholar, arxiv, google_search).
	SourceTitleThresholds map[string]float64 `mapstructure:"source_title_thresholds"`
}

// SourcesConfig holds configuration for every reference source.
type SourcesConfig struct {
	// Crossref contains Crossref REST API settings.
	Crossref CrossrefConfig `mapstructure:"crossref"`
	// Scholar contains Google Scholar settings.
	Scholar ScholarConfig `mapstructure:"scholar"`
	// ArXiv contains arXiv API settings.
	ArXiv ArXivConfig `mapstructure:"arxiv"`
	// GoogleSearch contains Custom Search API settings.
	GoogleSearch GoogleSearchConfig `mapstructure:"google_search"`
}

// SourceConfig holds the settings shared by every source.
type SourceConfig struct {
	// Enabled controls whether this source is consulted.
	Enabled bool `mapstructure:"enabled"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the timeout for a single request.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxResults is the maximum results read per query.
	MaxResults int `mapstructure:"max_results"`
}

// CrossrefConfig holds Crossref settings.
type CrossrefConfig struct {
	SourceConfig `mapstructure:",squash"`
	// Mailto joins the Crossref polite pool (loaded from CITEVERIFY_SOURCES_CROSSREF_MAILTO).
	Mailto string `mapstructure:"-"`
}

// ScholarConfig holds Google Scholar settings.
type ScholarConfig struct {
	SourceConfig `mapstructure:",squash"`
	// MinInterval is the minimum delay between two Scholar requests.
	MinInterval time.Duration `mapstructure:"min_interval"`
}

// ArXivConfig holds arXiv API settings.
type ArXivConfig struct {
	SourceConfig `mapstructure:",squash"`
	// MinInterval is the minimum delay between two arXiv requests.
	MinInterval time.Duration `mapstructure:"min_interval"`
}

// GoogleSearchConfig holds Custom Search settings.
type GoogleSearchConfig struct {
	SourceConfig `mapstructure:",squash"`
	// APIKey is the Custom Search API key (loaded from CITEVERIFY_SOURCES_GOOGLE_SEARCH_API_KEY).
	APIKey string `mapstructure:"-"`
	// EngineID is the programmable search engine ID (loaded from CITEVERIFY_SOURCES_GOOGLE_SEARCH_ENGINE_ID).
	EngineID string `mapstructure:"-"`
	// FetchPage fetches the referenced page and uses its title as a candidate.
	FetchPage bool `mapstructure:"fetch_page"`
	// PageTimeout is the timeout for the page fetch.
	PageTimeout time.Duration `mapstructure:"page_timeout"`
}

// ParserConfig holds bibliography parser settings.
type ParserConfig struct {
	// Gemini contains the LLM reference splitter settings.
	Gemini GeminiConfig `mapstructure:"gemini"`
	// SectionKeywords are the headings that start a bibliography.
	SectionKeywords []string `mapstructure:"section_keywords"`
}

// GeminiConfig holds Gemini settings.
type GeminiConfig struct {
	// APIKey is the Gemini API key (loaded from CITEVERIFY_PARSER_GEMINI_API_KEY).
	APIKey string `mapstructure:"-"`
	// Model is the Gemini model name.
	Model string `mapstructure:"model"`
	// Temperature is the sampling temperature.
	Temperature float32 `mapstructure:"temperature"`
	// Timeout bounds one parse call.
	Timeout time.Duration `mapstructure:"timeout"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.StatementCacheCapacity > 0 {
		params.Set("statement_cache_capacity", fmt.Sprintf("%d", c.StatementCacheCapacity))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches the
// default locations.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/citation-verification-service")
	}

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.Database.Password = os.Getenv(EnvPrefix + "_DATABASE_PASSWORD")
	cfg.Sources.Crossref.Mailto = os.Getenv(EnvPrefix + "_SOURCES_CROSSREF_MAILTO")
	cfg.Sources.GoogleSearch.APIKey = os.Getenv(EnvPrefix + "_SOURCES_GOOGLE_SEARCH_API_KEY")
	cfg.Sources.GoogleSearch.EngineID = os.Getenv(EnvPrefix + "_SOURCES_GOOGLE_SEARCH_ENGINE_ID")
	cfg.Parser.Gemini.APIKey = os.Getenv(EnvPrefix + "_PARSER_GEMINI_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "10m")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_references", 500)
	v.SetDefault("server.max_body_bytes", 1<<20)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "citeverify")
	v.SetDefault("database.name", "citation_verification_service")
	// Default to "require" for production security. Use CITEVERIFY_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)
	v.SetDefault("database.statement_cache_capacity", 512)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "citation_verification")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.citation_verification")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")

	// Cache defaults
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.path", "citeverify-cache.db")
	v.SetDefault("cache.ttl", "168h")

	// Verification defaults
	v.SetDefault("verification.workers", 4)
	v.SetDefault("verification.preprint_hint", true)
	v.SetDefault("verification.workshop_hint", true)
	v.SetDefault("verification.retry.max_attempts", papersources.DefaultMaxAttempts)
	v.SetDefault("verification.retry.initial_interval", papersources.DefaultInitialInterval.String())
	v.SetDefault("verification.retry.multiplier", papersources.DefaultMultiplier)
	v.SetDefault("verification.retry.max_interval", papersources.DefaultMaxInterval.String())
	v.SetDefault("verification.retry.max_elapsed", papersources.DefaultMaxElapsed.String())

	// Matching defaults
	v.SetDefault("matching.title_threshold", matching.DefaultTitleThreshold)
	v.SetDefault("matching.author_threshold", matching.DefaultAuthorThreshold)
	v.SetDefault("matching.website_threshold", matching.DefaultWebsiteThreshold)
	v.SetDefault("matching.title_weight", matching.DefaultTitleWeight)

	// Sources defaults - Crossref
	// Secrets are loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("sources.crossref.enabled", true)
	v.SetDefault("sources.crossref.base_url", "https://api.crossref.org")
	v.SetDefault("sources.crossref.timeout", "15s")
	v.SetDefault("sources.crossref.rate_limit", 10.0)
	v.SetDefault("sources.crossref.max_results", 5)

	// Sources defaults - Google Scholar
	v.SetDefault("sources.scholar.enabled", true)
	v.SetDefault("sources.scholar.base_url", "https://scholar.google.com")
	v.SetDefault("sources.scholar.timeout", "15s")
	v.SetDefault("sources.scholar.min_interval", "2s")
	v.SetDefault("sources.scholar.max_results", 10)

	// Sources defaults - arXiv
	v.SetDefault("sources.arxiv.enabled", true)
	v.SetDefault("sources.arxiv.base_url", "https://export.arxiv.org/api")
	v.SetDefault("sources.arxiv.timeout", "30s")
	v.SetDefault("sources.arxiv.min_interval", "3s") // arXiv API terms: one request every 3 seconds
	v.SetDefault("sources.arxiv.max_results", 5)

	// Sources defaults - Google Search
	v.SetDefault("sources.google_search.enabled", true)
	v.SetDefault("sources.google_search.base_url", "")
	v.SetDefault("sources.google_search.timeout", "15s")
	v.SetDefault("sources.google_search.rate_limit", 5.0)
	v.SetDefault("sources.google_search.max_results", 5)
	v.SetDefault("sources.google_search.fetch_page", true)
	v.SetDefault("sources.google_search.page_timeout", "5s")

	// Parser defaults
	v.SetDefault("parser.gemini.model", "gemini-2.0-flash")
	v.SetDefault("parser.gemini.temperature", 0.0)
	v.SetDefault("parser.gemini.timeout", "120s")
	v.SetDefault("parser.section_keywords", []string{"Reference", "Bibliography", "Works Cited"})
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	// Validate database config
	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", c.Database.Port)
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
		}
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}

	// Validate verification config
	if c.Verification.Workers < 1 {
		return fmt.Errorf("verification workers must be at least 1, got %d", c.Verification.Workers)
	}
	if c.Verification.Retry.MaxAttempts < 1 || c.Verification.Retry.MaxAttempts > 10 {
		return fmt.Errorf("retry max_attempts must be between 1 and 10, got %d", c.Verification.Retry.MaxAttempts)
	}

	// Validate thresholds
	if err := c.MatchingConfig().Validate(); err != nil {
		return fmt.Errorf("matching: %w", err)
	}
	for name := range c.Matching.SourceTitleThresholds {
		if !domain.SourceType(name).IsValid() {
			return fmt.Errorf("unknown source in source_title_thresholds: %s", name)
		}
	}

	if c.Cache.Enabled && c.Cache.Path == "" {
		return fmt.Errorf("cache path is required when the cache is enabled")
	}

	return nil
}

// MatchingConfig projects the matching section into the matcher configuration.
func (c *Config) MatchingConfig() matching.Config {
	cfg := matching.Config{
		TitleThreshold:   c.Matching.TitleThreshold,
		AuthorThreshold:  c.Matching.AuthorThreshold,
		WebsiteThreshold: c.Matching.WebsiteThreshold,
		TitleWeight:      c.Matching.TitleWeight,
	}
	if len(c.Matching.SourceTitleThresholds) > 0 {
		cfg.SourceTitleThresholds = make(map[domain.SourceType]float64, len(c.Matching.SourceTitleThresholds))
		for name, threshold := range c.Matching.SourceTitleThresholds {
			cfg.SourceTitleThresholds[domain.SourceType(name)] = threshold
		}
	}
	return cfg
}

// VerificationConfig returns the verification section.
func (c *Config) VerificationConfig() VerificationConfig {
	return c.Verification
}

// RetryPolicy projects the retry section into a source retry policy.
func (c VerificationConfig) RetryPolicy() papersources.RetryPolicy {
	policy := papersources.DefaultRetryPolicy()
	policy.MaxAttempts = c.Retry.MaxAttempts
	policy.InitialInterval = c.Retry.InitialInterval
	policy.Multiplier = c.Retry.Multiplier
	policy.MaxInterval = c.Retry.MaxInterval
	policy.MaxElapsed = c.Retry.MaxElapsed
	return policy
}

// LoggerConfig projects the logging section into the logger configuration.
func (c *Config) LoggerConfig() observability.LoggingConfig {
	return observability.LoggingConfig{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		Output:     c.Logging.Output,
		AddSource:  c.Logging.AddSource,
		TimeFormat: c.Logging.TimeFormat,
	}
}
