package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research service
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Search     SearchConfig     `mapstructure:"search"`
	Research   ResearchConfig   `mapstructure:"research"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Cache      CacheConfig      `mapstructure:"cache"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address           string        `mapstructure:"address"`
	CORSOrigins       []string      `mapstructure:"cors_origins"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	MigrationsDir     string        `mapstructure:"migrations_dir"`
	AutoMigrate       bool          `mapstructure:"auto_migrate"`
}

// BreakerConfig tunes a circuit breaker in front of an upstream.
type BreakerConfig struct {
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// LLMConfig selects and tunes the chat model gateway
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // openai, gemini
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Breaker     BreakerConfig `mapstructure:"breaker"`
}

func (l LLMConfig) Validate() error {
	switch l.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("llm.provider must be openai or gemini, got %q", l.Provider)
	}
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model required")
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0,2]")
	}
	return nil
}

// SearchConfig configures the web search tool
type SearchConfig struct {
	Provider   string        `mapstructure:"provider"` // tavily, brave, serper
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	MaxResults int           `mapstructure:"max_results"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Rerank     bool          `mapstructure:"rerank"`
	Enrich     EnrichConfig  `mapstructure:"enrich"`
	Breaker    BreakerConfig `mapstructure:"breaker"`
}

// EnrichConfig controls fetching page text for thin search snippets.
type EnrichConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Fetcher         string        `mapstructure:"fetcher"` // readability, chromedp
	MinContentChars int           `mapstructure:"min_content_chars"`
	MaxContentChars int           `mapstructure:"max_content_chars"`
	Concurrency     int           `mapstructure:"concurrency"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

func (s SearchConfig) Validate() error {
	switch s.Provider {
	case "tavily", "brave", "serper":
	default:
		return fmt.Errorf("search.provider must be tavily, brave or serper, got %q", s.Provider)
	}
	if s.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be > 0")
	}
	if s.Enrich.Enabled && s.Enrich.Fetcher != "readability" && s.Enrich.Fetcher != "chromedp" {
		return fmt.Errorf("search.enrich.fetcher must be readability or chromedp")
	}
	return nil
}

// ResearchConfig shapes the deep-research workflow
type ResearchConfig struct {
	Topology      string           `mapstructure:"topology"` // react, split
	Router        string           `mapstructure:"router"`   // rules, llm
	SimpleAnalyse bool             `mapstructure:"simple_analyse"`
	MaxSteps      int              `mapstructure:"max_steps"`
	MaxTasks      int              `mapstructure:"max_tasks"`
	Decomposer    DecomposerConfig `mapstructure:"decomposer"`
}

type DecomposerConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

// Normalize applies defaults for unset research values.
func (r ResearchConfig) Normalize() ResearchConfig {
	if r.Topology == "" {
		r.Topology = "react"
	}
	if r.Router == "" {
		r.Router = "rules"
	}
	if r.MaxSteps <= 0 {
		r.MaxSteps = 50
	}
	if r.MaxTasks <= 0 || r.MaxTasks > 7 {
		r.MaxTasks = 7
	}
	if r.Decomposer.MaxAttempts <= 0 {
		r.Decomposer.MaxAttempts = 3
	}
	return r
}

func (r ResearchConfig) Validate() error {
	if r.Topology != "react" && r.Topology != "split" {
		return fmt.Errorf("research.topology must be react or split, got %q", r.Topology)
	}
	if r.Router != "rules" && r.Router != "llm" {
		return fmt.Errorf("research.router must be rules or llm, got %q", r.Router)
	}
	return nil
}

// CheckpointConfig selects where graph checkpoints live and how long.
type CheckpointConfig struct {
	Backend       string        `mapstructure:"backend"` // memory, redis, postgres
	TTL           time.Duration `mapstructure:"ttl"`
	Retention     time.Duration `mapstructure:"retention"`
	PruneSchedule string        `mapstructure:"prune_schedule"`
}

func (c CheckpointConfig) Validate() error {
	switch c.Backend {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("checkpoint.backend must be memory, redis or postgres, got %q", c.Backend)
	}
	if c.Retention <= 0 {
		return fmt.Errorf("checkpoint.retention must be > 0")
	}
	return nil
}

// CacheConfig controls the redis read-through cache for conversation reads.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
	Prefix  string        `mapstructure:"prefix"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

// Enabled reports whether a redis endpoint is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN returns the lib/pq connection string.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	sslmode := p.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, p.Port, p.DBName, sslmode)
}

// Validate checks cross-section requirements.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Search.Validate(); err != nil {
		return err
	}
	if err := c.Research.Validate(); err != nil {
		return err
	}
	if err := c.Checkpoint.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Postgres.Validate(); err != nil {
		return err
	}
	if c.Cache.Enabled || c.Checkpoint.Backend == "redis" {
		if err := c.Storage.Redis.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":3001")
	v.SetDefault("server.heartbeat_interval", 15*time.Second)
	v.SetDefault("server.migrations_dir", "migrations")
	v.SetDefault("server.auto_migrate", false)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "qwen-flash")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 2000)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.breaker.failure_threshold", 5)
	v.SetDefault("llm.breaker.timeout", 30*time.Second)
	v.SetDefault("search.provider", "tavily")
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.timeout", 20*time.Second)
	v.SetDefault("search.rerank", true)
	v.SetDefault("search.enrich.enabled", false)
	v.SetDefault("search.enrich.fetcher", "readability")
	v.SetDefault("search.enrich.min_content_chars", 200)
	v.SetDefault("search.enrich.max_content_chars", 4000)
	v.SetDefault("search.enrich.concurrency", 3)
	v.SetDefault("search.enrich.timeout", 15*time.Second)
	v.SetDefault("search.breaker.failure_threshold", 5)
	v.SetDefault("search.breaker.timeout", 30*time.Second)
	v.SetDefault("research.topology", "react")
	v.SetDefault("research.router", "rules")
	v.SetDefault("research.simple_analyse", true)
	v.SetDefault("research.max_steps", 50)
	v.SetDefault("research.max_tasks", 7)
	v.SetDefault("research.decomposer.max_attempts", 3)
	v.SetDefault("checkpoint.backend", "postgres")
	v.SetDefault("checkpoint.ttl", 72*time.Hour)
	v.SetDefault("checkpoint.retention", 7*24*time.Hour)
	v.SetDefault("checkpoint.prune_schedule", "0 3 * * *")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.prefix", "deepresearch:")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.timeout", 5*time.Second)
	v.SetDefault("storage.redis.timeout", 3*time.Second)

	// Secrets and endpoints have no useful default but must be known keys
	// for AutomaticEnv to override them during Unmarshal.
	for _, key := range []string{
		"llm.api_key", "llm.base_url", "search.api_key", "search.base_url",
		"storage.postgres.url", "storage.postgres.host", "storage.postgres.port",
		"storage.postgres.user", "storage.postgres.password", "storage.postgres.dbname",
		"storage.redis.host", "storage.redis.port", "storage.redis.password",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("storage.redis.db", 0)
}

// Load reads configuration from path, or from the usual locations when
// path is empty. Environment variables prefixed DEEPRESEARCH_ override
// file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("DEEPRESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Research = cfg.Research.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig is Load that panics on unusable configuration.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}
