// Package config loads and validates archiver configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/chapter-archiver/internal/archive"
	"github.com/JakeFAU/chapter-archiver/internal/archiver"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Cancel   CancelConfig   `mapstructure:"cancel"`
	Progress ProgressConfig `mapstructure:"progress"`
	Store    StoreConfig    `mapstructure:"store"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Sources  SourcesConfig  `mapstructure:"sources"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// PipelineConfig sizes the worker pool and shapes job processing.
type PipelineConfig struct {
	Workers              int           `mapstructure:"workers"`
	MaxConcurrentFetches int           `mapstructure:"max_concurrent_fetches"`
	ChapterOrder         string        `mapstructure:"chapter_order"`
	ChapterDelay         time.Duration `mapstructure:"chapter_delay"`
	FlatSingleChapter    bool          `mapstructure:"flat_single_chapter"`
}

// FetchConfig configures page downloads.
type FetchConfig struct {
	MaxAttempts      int               `mapstructure:"max_attempts"`
	TimeoutSeconds   int               `mapstructure:"timeout_seconds"`
	BackoffInitialMs int               `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int               `mapstructure:"backoff_max_ms"`
	UserAgent        string            `mapstructure:"user_agent"`
	RequireImage     bool              `mapstructure:"require_image"`
	MaxBodyBytes     int               `mapstructure:"max_body_bytes"`
	MaxConnsPerHost  int               `mapstructure:"max_conns_per_host"`
	PerHostRPS       float64           `mapstructure:"per_host_rps"`
	PerHostBurst     int               `mapstructure:"per_host_burst"`
	Headers          map[string]string `mapstructure:"headers"`
}

// ArchiveConfig controls archive backing and entry naming.
type ArchiveConfig struct {
	Backing           string `mapstructure:"backing"`
	SpoolDir          string `mapstructure:"spool_dir"`
	MemoryMaxChapters int    `mapstructure:"memory_max_chapters"`
	PagePad           int    `mapstructure:"page_pad"`
	Extension         string `mapstructure:"extension"`
	FileExtension     string `mapstructure:"file_extension"`
}

// DeliveryConfig selects the output sink and its backoff.
type DeliveryConfig struct {
	Sink             string        `mapstructure:"sink"`
	LocalDir         string        `mapstructure:"local_dir"`
	GCSBucket        string        `mapstructure:"gcs_bucket"`
	GCSPrefix        string        `mapstructure:"gcs_prefix"`
	FloodMargin      time.Duration `mapstructure:"flood_margin"`
	TransientDelay   time.Duration `mapstructure:"transient_delay"`
	TransientRetries int           `mapstructure:"transient_retries"`
	CancelPoll       time.Duration `mapstructure:"cancel_poll"`
}

// CancelConfig selects the cancellation registry backend.
type CancelConfig struct {
	Backend       string        `mapstructure:"backend"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisPrefix   string        `mapstructure:"redis_prefix"`
	FlagTTL       time.Duration `mapstructure:"flag_ttl"`
}

// ProgressConfig tunes progress reporting.
type ProgressConfig struct {
	MinInterval  time.Duration `mapstructure:"min_interval"`
	Buffer       int           `mapstructure:"buffer"`
	MaxBatch     int           `mapstructure:"max_batch"`
	MaxBatchWait time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout  time.Duration `mapstructure:"sink_timeout"`
	LogEvents    bool          `mapstructure:"log_events"`
}

// StoreConfig selects where job history is kept.
type StoreConfig struct {
	Backend  string `mapstructure:"backend"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for terminal status notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// SourcesConfig enables and configures content sources.
type SourcesConfig struct {
	MangaDex  MangaDexConfig     `mapstructure:"mangadex"`
	MangaFlix MangaFlixConfig    `mapstructure:"mangaflix"`
	HTML      []HTMLSourceConfig `mapstructure:"html"`
}

// MangaDexConfig configures the MangaDex API source.
type MangaDexConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	BaseURL   string `mapstructure:"base_url"`
	Language  string `mapstructure:"language"`
	DataSaver bool   `mapstructure:"data_saver"`
}

// MangaFlixConfig configures the MangaFlix API source.
type MangaFlixConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BaseURL  string `mapstructure:"base_url"`
	Language string `mapstructure:"language"`
}

// HTMLSourceConfig describes one scraped site. Empty selectors use the Madara defaults.
type HTMLSourceConfig struct {
	Name          string `mapstructure:"name"`
	BaseURL       string `mapstructure:"base_url"`
	SearchPath    string `mapstructure:"search_path"`
	SearchItem    string `mapstructure:"search_item"`
	SearchLink    string `mapstructure:"search_link"`
	TitleSelector string `mapstructure:"title_selector"`
	ChapterLink   string `mapstructure:"chapter_link"`
	PageImage     string `mapstructure:"page_image"`
	NewestFirst   bool   `mapstructure:"newest_first"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("pipeline.workers", 2)
	v.SetDefault("pipeline.max_concurrent_fetches", 4)
	v.SetDefault("pipeline.chapter_order", string(archiver.OrderAsGiven))
	v.SetDefault("pipeline.chapter_delay", time.Duration(0))
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.timeout_seconds", 20)
	v.SetDefault("fetch.backoff_initial_ms", 250)
	v.SetDefault("fetch.backoff_max_ms", 5000)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (compatible; chapter-archiver/1.0)")
	v.SetDefault("fetch.require_image", true)
	v.SetDefault("fetch.max_body_bytes", 32<<20)
	v.SetDefault("fetch.max_conns_per_host", 8)
	v.SetDefault("fetch.per_host_rps", 5.0)
	v.SetDefault("fetch.per_host_burst", 5)
	v.SetDefault("archive.backing", string(archive.BackingAuto))
	v.SetDefault("archive.memory_max_chapters", 5)
	v.SetDefault("archive.page_pad", 0)
	v.SetDefault("archive.extension", archive.DefaultExtension)
	v.SetDefault("archive.file_extension", "cbz")
	v.SetDefault("delivery.sink", "local")
	v.SetDefault("delivery.local_dir", "./archives")
	v.SetDefault("delivery.flood_margin", time.Second)
	v.SetDefault("delivery.transient_delay", 2*time.Second)
	v.SetDefault("delivery.transient_retries", 3)
	v.SetDefault("delivery.cancel_poll", time.Second)
	v.SetDefault("cancel.backend", "memory")
	v.SetDefault("cancel.redis_prefix", "archiver:cancel")
	v.SetDefault("cancel.flag_ttl", time.Hour)
	v.SetDefault("progress.min_interval", 700*time.Millisecond)
	v.SetDefault("progress.buffer", 1024)
	v.SetDefault("progress.max_batch", 64)
	v.SetDefault("progress.max_batch_wait", 250*time.Millisecond)
	v.SetDefault("progress.sink_timeout", 5*time.Second)
	v.SetDefault("progress.log_events", true)
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.table", "archive_jobs")
	v.SetDefault("pubsub.topic_name", "chapter-archiver-status")
	v.SetDefault("sources.mangadex.enabled", true)
	v.SetDefault("sources.mangadex.base_url", "https://api.mangadex.org")
	v.SetDefault("sources.mangadex.language", "pt-br")
	v.SetDefault("sources.mangaflix.enabled", true)
	v.SetDefault("sources.mangaflix.base_url", "https://api.mangaflix.net/v1")
	v.SetDefault("sources.mangaflix.language", "pt-br")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if c.Pipeline.Workers <= 0 {
		errs = append(errs, errors.New("pipeline.workers must be > 0"))
	}
	if c.Pipeline.MaxConcurrentFetches <= 0 {
		errs = append(errs, errors.New("pipeline.max_concurrent_fetches must be > 0"))
	}
	if _, err := archiver.ParseChapterOrder(c.Pipeline.ChapterOrder); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.chapter_order: %w", err))
	}
	if c.Fetch.MaxAttempts <= 0 {
		errs = append(errs, errors.New("fetch.max_attempts must be > 0"))
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("fetch.timeout_seconds must be > 0"))
	}
	if _, err := archive.ParseBacking(c.Archive.Backing); err != nil {
		errs = append(errs, fmt.Errorf("archive.backing: %w", err))
	}
	switch c.Delivery.Sink {
	case "memory":
	case "local":
		if c.Delivery.LocalDir == "" {
			errs = append(errs, errors.New("delivery.local_dir is required for the local sink"))
		}
	case "gcs":
		if c.Delivery.GCSBucket == "" {
			errs = append(errs, errors.New("delivery.gcs_bucket is required for the gcs sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("delivery.sink %q is not one of memory, local, gcs", c.Delivery.Sink))
	}
	switch c.Cancel.Backend {
	case "memory":
	case "redis":
		if c.Cancel.RedisAddr == "" {
			errs = append(errs, errors.New("cancel.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cancel.backend %q is not one of memory, redis", c.Cancel.Backend))
	}
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of memory, postgres", c.Store.Backend))
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		errs = append(errs, errors.New("pubsub.project_id and pubsub.topic_name are required when pubsub is enabled"))
	}
	for i, src := range c.Sources.HTML {
		if src.Name == "" || src.BaseURL == "" {
			errs = append(errs, fmt.Errorf("sources.html[%d] requires name and base_url", i))
		}
	}
	return errors.Join(errs...)
}

// FetchTimeout converts the fetch timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// ChapterOrder returns the parsed chapter order. Validate guarantees it parses.
func (c Config) ChapterOrder() archiver.ChapterOrder {
	order, err := archiver.ParseChapterOrder(c.Pipeline.ChapterOrder)
	if err != nil {
		return archiver.OrderAsGiven
	}
	return order
}

// ArchiveBacking returns the parsed archive backing. Validate guarantees it parses.
func (c Config) ArchiveBacking() archive.Backing {
	b, err := archive.ParseBacking(c.Archive.Backing)
	if err != nil {
		return archive.BackingAuto
	}
	return b
}
