// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Site       SiteConfig       `mapstructure:"site"`
	DB         DBConfig         `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Keywords   KeywordsConfig   `mapstructure:"keywords"`
	Clusters   ClustersConfig   `mapstructure:"clusters"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	DataForSEO DataForSEOConfig `mapstructure:"dataforseo"`
	PageSpeed  PageSpeedConfig  `mapstructure:"pagespeed"`
	Lighthouse LighthouseConfig `mapstructure:"lighthouse"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	SafeMode   bool             `mapstructure:"safe_mode"`
	DryRun     bool             `mapstructure:"dry_run"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SiteConfig locates the site whose pages the engine manages.
type SiteConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig locates the Redis instance backing advisory locks and caches.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig governs the job queue execution loop.
type WorkerConfig struct {
	BatchSize       int `mapstructure:"batch_size"`
	TickSeconds     int `mapstructure:"tick_seconds"`
	LockTTLSeconds  int `mapstructure:"lock_ttl_seconds"`
	LeaseTTLMinutes int `mapstructure:"lease_ttl_minutes"`
}

// KeywordsConfig tunes the keyword discovery cycle.
type KeywordsConfig struct {
	SeedsPerRun      int      `mapstructure:"seeds_per_run"`
	SeedBatchLimit   int      `mapstructure:"seed_batch_limit"`
	SuggestionsLimit int      `mapstructure:"suggestions_limit"`
	NewLimit         int      `mapstructure:"new_limit"`
	KDBatchLimit     int      `mapstructure:"kd_batch_limit"`
	PagesPerDay      int      `mapstructure:"pages_per_day"`
	MinVolume        int      `mapstructure:"min_volume"`
	MaxKD            float64  `mapstructure:"max_kd"`
	CompetitorList   string   `mapstructure:"competitor_domains"`
	BaseSeeds        []string `mapstructure:"base_seeds"`
}

// ClustersConfig tunes linking analysis and injection.
type ClustersConfig struct {
	MaxLinksPerPage  int `mapstructure:"max_links_per_page"`
	ScoreCacheTTLMin int `mapstructure:"score_cache_ttl_minutes"`
}

// OpenAIConfig carries AI content provider credentials and model routing.
type OpenAIConfig struct {
	APIKey       string `mapstructure:"api_key"`
	Mode         string `mapstructure:"mode"` // quality|bulk|hybrid
	ModelPrimary string `mapstructure:"model_primary"`
	ModelBulk    string `mapstructure:"model_bulk"`
}

// DataForSEOConfig carries keyword data provider credentials.
type DataForSEOConfig struct {
	Login        string `mapstructure:"login"`
	Password     string `mapstructure:"password"`
	LocationCode int    `mapstructure:"location_code"`
	LanguageCode string `mapstructure:"language_code"`
}

// PageSpeedConfig carries the optional PSI API key.
type PageSpeedConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// LighthouseConfig tunes recurring audit coverage.
type LighthouseConfig struct {
	TargetLimit int `mapstructure:"target_limit"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SEOENGINE")
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
	v.SetDefault("site.base_url", "http://localhost")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("worker.batch_size", 5)
	v.SetDefault("worker.tick_seconds", 600)
	v.SetDefault("worker.lock_ttl_seconds", 300)
	v.SetDefault("worker.lease_ttl_minutes", 5)
	v.SetDefault("keywords.seeds_per_run", 5)
	v.SetDefault("keywords.seed_batch_limit", 10)
	v.SetDefault("keywords.suggestions_limit", 200)
	v.SetDefault("keywords.new_limit", 300)
	v.SetDefault("keywords.kd_batch_limit", 300)
	v.SetDefault("keywords.pages_per_day", 3)
	v.SetDefault("keywords.min_volume", 30)
	v.SetDefault("keywords.max_kd", 60)
	v.SetDefault("keywords.base_seeds", []string{
		"adult webcam chat",
		"live cam girls",
		"webcam chat rooms",
		"adult video chat",
		"cam to cam chat",
		"random adult chat",
		"private cam show",
		"live adult chat",
	})
	v.SetDefault("clusters.max_links_per_page", 5)
	v.SetDefault("lighthouse.target_limit", 100)
	v.SetDefault("clusters.score_cache_ttl_minutes", 60)
	v.SetDefault("openai.mode", "hybrid")
	v.SetDefault("openai.model_primary", "gpt-4o")
	v.SetDefault("openai.model_bulk", "gpt-4o-mini")
	v.SetDefault("dataforseo.location_code", 2840)
	v.SetDefault("dataforseo.language_code", "en")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("worker.batch_size must be > 0")
	}
	if c.Worker.LeaseTTLMinutes <= 0 {
		return fmt.Errorf("worker.lease_ttl_minutes must be > 0")
	}
	if c.Keywords.PagesPerDay < 0 {
		return fmt.Errorf("keywords.pages_per_day must be >= 0")
	}
	if c.Keywords.MaxKD <= 0 || c.Keywords.MaxKD > 100 {
		return fmt.Errorf("keywords.max_kd must be in (0,100]")
	}
	switch c.OpenAI.Mode {
	case "quality", "bulk", "hybrid":
	default:
		return fmt.Errorf("openai.mode must be quality, bulk, or hybrid")
	}
	return nil
}

// WorkerLockTTL converts the advisory lock TTL into a duration.
func (c Config) WorkerLockTTL() time.Duration {
	return time.Duration(c.Worker.LockTTLSeconds) * time.Second
}

// LeaseTTL converts the job lease TTL into a duration.
func (c Config) LeaseTTL() time.Duration {
	return time.Duration(c.Worker.LeaseTTLMinutes) * time.Minute
}

// ScoreCacheTTL converts the cluster score cache TTL into a duration.
func (c Config) ScoreCacheTTL() time.Duration {
	return time.Duration(c.Clusters.ScoreCacheTTLMin) * time.Minute
}

// ModelForQuality resolves the model used for primary content generation.
func (c OpenAIConfig) ModelForQuality() string {
	if c.Mode == "bulk" {
		return c.ModelBulk
	}
	return c.ModelPrimary
}

// ModelForBulk resolves the model used for bulk generation.
func (c OpenAIConfig) ModelForBulk() string {
	if c.Mode == "quality" {
		return c.ModelPrimary
	}
	return c.ModelBulk
}

var (
	schemePrefix = regexp.MustCompile(`(?i)^https?://`)
	wwwPrefix    = regexp.MustCompile(`(?i)^www\.`)
	pathSuffix   = regexp.MustCompile(`/.*$`)
)

// CompetitorDomains parses the newline-separated competitor list, normalizing
// each entry to a bare domain.
func (c KeywordsConfig) CompetitorDomains() []string {
	seen := make(map[string]bool)
	var out []string
	for _, line := range strings.Split(c.CompetitorList, "\n") {
		d := strings.TrimSpace(line)
		if d == "" {
			continue
		}
		d = schemePrefix.ReplaceAllString(d, "")
		d = wwwPrefix.ReplaceAllString(d, "")
		d = pathSuffix.ReplaceAllString(d, "")
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}
