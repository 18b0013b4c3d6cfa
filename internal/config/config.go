// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheNATS   = "nats"
	CacheGCS    = "gcs"
)

// Prerender modes. An empty mode leaves the source unconfigured.
const (
	PrerenderRemote   = "remote"
	PrerenderChromedp = "chromedp"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Logging LoggingConfig `mapstructure:"logging"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Sources SourcesConfig `mapstructure:"sources"`
	Race    RaceConfig    `mapstructure:"race"`
	Enhance EnhanceConfig `mapstructure:"enhance"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Index   IndexConfig   `mapstructure:"index"`
	Events  EventsConfig  `mapstructure:"events"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// FetchConfig sizes the global fetch slot limiter.
type FetchConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
	SlotTimeoutMs int `mapstructure:"slot_timeout_ms"`
}

// SourcesConfig configures the retrieval sources.
type SourcesConfig struct {
	Enabled                []string         `mapstructure:"enabled"`
	UserAgent              string           `mapstructure:"user_agent"`
	UpstreamTimeoutSeconds int              `mapstructure:"upstream_timeout_seconds"`
	MaxRetries             int              `mapstructure:"max_retries"`
	Direct                 DirectConfig     `mapstructure:"direct"`
	Archive                ArchiveConfig    `mapstructure:"archive"`
	Extraction             ExtractionConfig `mapstructure:"extraction"`
	Prerender              PrerenderConfig  `mapstructure:"prerender"`
}

// DirectConfig tunes the origin fetcher.
type DirectConfig struct {
	RespectRobots bool    `mapstructure:"respect_robots"`
	PerHostRPS    float64 `mapstructure:"per_host_rps"`
	PerHostBurst  int     `mapstructure:"per_host_burst"`
}

// ArchiveConfig points at the web archive.
type ArchiveConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// ExtractionConfig holds the extraction API endpoint and credential.
type ExtractionConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
}

// PrerenderConfig selects and tunes the renderer.
type PrerenderConfig struct {
	Mode              string `mapstructure:"mode"`
	Endpoint          string `mapstructure:"endpoint"`
	Token             string `mapstructure:"token"`
	MaxParallel       int    `mapstructure:"max_parallel"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
}

// RaceConfig tunes winner selection.
type RaceConfig struct {
	MinLength      int        `mapstructure:"min_length"`
	CompleteLength int        `mapstructure:"complete_length"`
	Tiers          [][]string `mapstructure:"tiers"`
}

// EnhanceConfig tunes deferred enhancement checks.
type EnhanceConfig struct {
	DelayMs          int `mapstructure:"delay_ms"`
	DedupeTTLSeconds int `mapstructure:"dedupe_ttl_seconds"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	Backend     string          `mapstructure:"backend"`
	Compression bool            `mapstructure:"compression"`
	NATS        NATSCacheConfig `mapstructure:"nats"`
	GCS         GCSCacheConfig  `mapstructure:"gcs"`
}

// NATSCacheConfig configures the JetStream key-value bucket.
type NATSCacheConfig struct {
	URL      string `mapstructure:"url"`
	Bucket   string `mapstructure:"bucket"`
	TTLHours int    `mapstructure:"ttl_hours"`
}

// GCSCacheConfig configures the Cloud Storage bucket.
type GCSCacheConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// IndexConfig controls the Postgres metadata index. An empty DSN keeps the
// index in memory.
type IndexConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int    `mapstructure:"max_conns"`
}

// EventsConfig controls improvement announcements. An empty subject
// disables publishing.
type EventsConfig struct {
	NATSSubject string `mapstructure:"nats_subject"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FULLTEXT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return Config{}, err
	}

	if err := readConfigFile(v, path); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// readConfigFile reads path, or searches the working directory,
// /etc/fulltext and $HOME/.fulltext for a file named config when path is
// empty. A missing searched file is not an error.
func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/fulltext/")
	v.AddConfigPath("$HOME/.fulltext")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("fetch.max_concurrent", 20)
	v.SetDefault("fetch.slot_timeout_ms", 30000)
	v.SetDefault("sources.enabled", []string{
		string(article.SourceDirect),
		string(article.SourcePrerendered),
		string(article.SourceArchive),
		string(article.SourceExtraction),
	})
	v.SetDefault("sources.user_agent", "fulltext-fetcher/1.0")
	v.SetDefault("sources.upstream_timeout_seconds", 75)
	v.SetDefault("sources.max_retries", 2)
	v.SetDefault("sources.direct.respect_robots", false)
	v.SetDefault("sources.direct.per_host_rps", 2.0)
	v.SetDefault("sources.direct.per_host_burst", 4)
	v.SetDefault("sources.archive.base_url", "https://archive.org")
	v.SetDefault("sources.extraction.endpoint", "https://api.diffbot.com/v3/article")
	v.SetDefault("sources.prerender.mode", PrerenderRemote)
	v.SetDefault("sources.prerender.endpoint", "https://service.prerender.io")
	v.SetDefault("sources.prerender.max_parallel", 2)
	v.SetDefault("sources.prerender.nav_timeout_seconds", 45)
	v.SetDefault("race.min_length", 500)
	v.SetDefault("race.complete_length", 3000)
	v.SetDefault("enhance.delay_ms", 4000)
	v.SetDefault("enhance.dedupe_ttl_seconds", 600)
	v.SetDefault("cache.backend", CacheMemory)
	v.SetDefault("cache.compression", true)
	v.SetDefault("cache.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("cache.nats.bucket", "fulltext-articles")
	v.SetDefault("cache.nats.ttl_hours", 24*30)
	v.SetDefault("cache.gcs.prefix", "articles")
	v.SetDefault("index.table", "article_index")
	v.SetDefault("index.max_conns", 4)
}

// bindEnv maps the short, prefix-less variable names operators already use.
func bindEnv(v *viper.Viper) error {
	binds := map[string][]string{
		"fetch.max_concurrent":     {"FULLTEXT_FETCH_MAX_CONCURRENT", "MAX_CONCURRENT_FETCHES"},
		"fetch.slot_timeout_ms":    {"FULLTEXT_FETCH_SLOT_TIMEOUT_MS", "FETCH_SLOT_TIMEOUT_MS"},
		"server.port":              {"FULLTEXT_SERVER_PORT", "PORT"},
		"sources.extraction.token": {"FULLTEXT_SOURCES_EXTRACTION_TOKEN", "EXTRACTION_API_TOKEN"},
		"sources.prerender.token":  {"FULLTEXT_SOURCES_PRERENDER_TOKEN", "PRERENDER_API_TOKEN"},
	}
	for key, envs := range binds {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.MaxConcurrent <= 0 {
		return fmt.Errorf("fetch.max_concurrent must be > 0")
	}
	if c.Fetch.SlotTimeoutMs <= 0 {
		return fmt.Errorf("fetch.slot_timeout_ms must be > 0")
	}
	if c.Sources.UpstreamTimeoutSeconds <= 0 {
		return fmt.Errorf("sources.upstream_timeout_seconds must be > 0")
	}
	if _, err := c.EnabledSources(); err != nil {
		return err
	}
	if _, err := c.RaceTiers(); err != nil {
		return err
	}
	switch c.Sources.Prerender.Mode {
	case "", PrerenderRemote:
	case PrerenderChromedp:
		if c.Sources.Prerender.MaxParallel <= 0 {
			return fmt.Errorf("sources.prerender.max_parallel must be > 0 for chromedp")
		}
	default:
		return fmt.Errorf("sources.prerender.mode %q is not one of remote, chromedp", c.Sources.Prerender.Mode)
	}
	switch c.Cache.Backend {
	case CacheMemory:
	case CacheNATS:
		if c.Cache.NATS.URL == "" || c.Cache.NATS.Bucket == "" {
			return fmt.Errorf("cache.nats.url and cache.nats.bucket are required for the nats backend")
		}
	case CacheGCS:
		if c.Cache.GCS.Bucket == "" {
			return fmt.Errorf("cache.gcs.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("cache.backend %q is not one of memory, nats, gcs", c.Cache.Backend)
	}
	if c.Events.NATSSubject != "" && c.Cache.NATS.URL == "" {
		return fmt.Errorf("cache.nats.url is required to publish events")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// EnabledSources parses sources.enabled.
func (c Config) EnabledSources() ([]article.Source, error) {
	srcs, err := article.ParseSources(c.Sources.Enabled)
	if err != nil {
		return nil, fmt.Errorf("sources.enabled: %w", err)
	}
	return srcs, nil
}

// RaceTiers parses race.tiers. An empty result selects the default tiers.
func (c Config) RaceTiers() ([][]article.Source, error) {
	tiers := make([][]article.Source, 0, len(c.Race.Tiers))
	for _, names := range c.Race.Tiers {
		tier, err := article.ParseSources(names)
		if err != nil {
			return nil, fmt.Errorf("race.tiers: %w", err)
		}
		if len(tier) > 0 {
			tiers = append(tiers, tier)
		}
	}
	return tiers, nil
}

// SlotTimeout converts fetch.slot_timeout_ms.
func (c Config) SlotTimeout() time.Duration {
	return time.Duration(c.Fetch.SlotTimeoutMs) * time.Millisecond
}

// UpstreamTimeout converts sources.upstream_timeout_seconds.
func (c Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Sources.UpstreamTimeoutSeconds) * time.Second
}

// RequestTimeout converts server.request_timeout_seconds.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// EnhanceDelay converts enhance.delay_ms.
func (c Config) EnhanceDelay() time.Duration {
	return time.Duration(c.Enhance.DelayMs) * time.Millisecond
}

// DedupeTTL converts enhance.dedupe_ttl_seconds.
func (c Config) DedupeTTL() time.Duration {
	return time.Duration(c.Enhance.DedupeTTLSeconds) * time.Second
}

// NavTimeout converts sources.prerender.nav_timeout_seconds.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Sources.Prerender.NavTimeoutSeconds) * time.Second
}

// CacheTTL converts cache.nats.ttl_hours.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.NATS.TTLHours) * time.Hour
}
