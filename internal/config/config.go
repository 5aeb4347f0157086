package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/kataster/internal/cache"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`
	Circuit  CircuitConfig  `yaml:"circuit" mapstructure:"circuit"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Batch    BatchConfig    `yaml:"batch" mapstructure:"batch"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	CORSOrigins        []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RegistryConfig points at the county WFS service list.
type RegistryConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// UpstreamConfig configures outbound WFS/WMS calls.
type UpstreamConfig struct {
	TimeoutSecs         int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent           string  `yaml:"user_agent" mapstructure:"user_agent"`
	RateLimitRPS        float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst      int     `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	InsecureRegionalTLS bool    `yaml:"insecure_regional_tls" mapstructure:"insecure_regional_tls"`
	PRGURL              string  `yaml:"prg_url" mapstructure:"prg_url"`
	PRGVersion          string  `yaml:"prg_version" mapstructure:"prg_version"`
	ProbeURL            string  `yaml:"probe_url" mapstructure:"probe_url"`
	ProbeHalfWidth      float64 `yaml:"probe_half_width" mapstructure:"probe_half_width"`
	ProbePixels         int     `yaml:"probe_pixels" mapstructure:"probe_pixels"`
}

// CircuitConfig configures the per-host circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// CacheConfig selects and configures the lookup cache backend.
type CacheConfig struct {
	Backend        string `yaml:"backend" mapstructure:"backend"`
	FullTTLSecs    int    `yaml:"full_ttl_secs" mapstructure:"full_ttl_secs"`
	PartialTTLSecs int    `yaml:"partial_ttl_secs" mapstructure:"partial_ttl_secs"`
	MaxEntries     int    `yaml:"max_entries" mapstructure:"max_entries"`
	RedisAddr      string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword  string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB        int    `yaml:"redis_db" mapstructure:"redis_db"`
	DatabaseURL    string `yaml:"database_url" mapstructure:"database_url"`
	Table          string `yaml:"table" mapstructure:"table"`
	SQLitePath     string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// BatchConfig configures batch lookups.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("KATASTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.request_timeout_secs", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("registry.path", "data/wfs_services.yaml")
	v.SetDefault("upstream.timeout_secs", 30)
	v.SetDefault("upstream.user_agent", "kataster/1.0")
	v.SetDefault("upstream.rate_limit_rps", 10.0)
	v.SetDefault("upstream.rate_limit_burst", 5)
	v.SetDefault("upstream.insecure_regional_tls", true)
	v.SetDefault("upstream.prg_url", "https://mapy.geoportal.gov.pl/wss/service/PZGIK/PRG/WFS/AdministrativeBoundaries")
	v.SetDefault("upstream.prg_version", "2.0.0")
	v.SetDefault("upstream.probe_url", "https://integracja.gugik.gov.pl/cgi-bin/KrajowaIntegracjaEwidencjiGruntow")
	v.SetDefault("upstream.probe_half_width", 50.0)
	v.SetDefault("upstream.probe_pixels", 101)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("cache.backend", cache.BackendMemory)
	v.SetDefault("cache.full_ttl_secs", 3600)
	v.SetDefault("cache.partial_ttl_secs", 1800)
	v.SetDefault("cache.max_entries", cache.DefaultMaxEntries)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.database_url", "")
	v.SetDefault("cache.table", cache.DefaultTable)
	v.SetDefault("cache.sqlite_path", "kataster-cache.db")
	v.SetDefault("batch.concurrency", 4)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}
	if !knownBackend(c.Cache.Backend) {
		errs = append(errs, "cache.backend must be one of: "+strings.Join(cache.Backends, ", "))
	}
	if c.Cache.FullTTLSecs <= 0 {
		errs = append(errs, "cache.full_ttl_secs must be > 0")
	}
	if c.Cache.PartialTTLSecs <= 0 {
		errs = append(errs, "cache.partial_ttl_secs must be > 0")
	}
	switch c.Cache.Backend {
	case cache.BackendRedis:
		if c.Cache.RedisAddr == "" {
			errs = append(errs, "cache.redis_addr is required for the redis backend")
		}
	case cache.BackendPostgres:
		if c.Cache.DatabaseURL == "" {
			errs = append(errs, "cache.database_url is required for the postgres backend")
		}
	}
	if c.Upstream.TimeoutSecs <= 0 {
		errs = append(errs, "upstream.timeout_secs must be > 0")
	}
	if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 64 {
		errs = append(errs, "batch.concurrency must be between 1 and 64")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func knownBackend(b string) bool {
	for _, known := range cache.Backends {
		if b == known {
			return true
		}
	}
	return false
}

// CacheSettings converts the cache section for cache.Open.
func (c *Config) CacheSettings() cache.Config {
	return cache.Config{
		Backend:       c.Cache.Backend,
		MaxEntries:    c.Cache.MaxEntries,
		RedisAddr:     c.Cache.RedisAddr,
		RedisPassword: c.Cache.RedisPassword,
		RedisDB:       c.Cache.RedisDB,
		DatabaseURL:   c.Cache.DatabaseURL,
		Table:         c.Cache.Table,
		SQLitePath:    c.Cache.SQLitePath,
	}
}

// FullTTL is the lifetime of complete results.
func (c *Config) FullTTL() time.Duration {
	return time.Duration(c.Cache.FullTTLSecs) * time.Second
}

// PartialTTL is the lifetime of degraded results.
func (c *Config) PartialTTL() time.Duration {
	return time.Duration(c.Cache.PartialTTLSecs) * time.Second
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
