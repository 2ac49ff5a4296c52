package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/fml"
	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/models"
	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/oddsmath"
)

// Config holds FML engine service configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Alexandria AlexandriaConfig `mapstructure:"alexandria"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Log        LogConfig        `mapstructure:"log"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RedisConfig configures the stream connection
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StreamConfig configures stream consumption. Disabled leaves the HTTP API only.
type StreamConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Sports        []string      `mapstructure:"sports"`
	ConsumerID    string        `mapstructure:"consumer_id"`
	GroupName     string        `mapstructure:"group_name"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// AlexandriaConfig configures the book weight source. An empty DSN keeps the default table.
type AlexandriaConfig struct {
	DSN             string        `mapstructure:"dsn"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// EngineConfig seeds the initial engine snapshot
type EngineConfig struct {
	BlendAlpha          float64 `mapstructure:"blend_alpha"`
	MinBooks            int     `mapstructure:"min_books"`
	LineMin             float64 `mapstructure:"line_min"`
	LineMax             float64 `mapstructure:"line_max"`
	LineStep            float64 `mapstructure:"line_step"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	DevigMethod         string  `mapstructure:"devig_method"`
	Bankroll            float64 `mapstructure:"bankroll"`
	MinBestEdge         float64 `mapstructure:"min_best_edge"`
}

// LogConfig configures logrus
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// RateLimitConfig throttles the HTTP API. Zero RPS disables it.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Environment names shared with the other Fortuna services
var envBindings = map[string]string{
	"server.port":                 "FML_SERVICE_PORT",
	"redis.url":                   "REDIS_URL",
	"redis.password":              "REDIS_PASSWORD",
	"stream.consumer_id":          "FML_CONSUMER_ID",
	"stream.group_name":           "FML_GROUP_NAME",
	"alexandria.dsn":              "ALEXANDRIA_DSN",
	"engine.blend_alpha":          "FML_BLEND_ALPHA",
	"engine.min_books":            "FML_MIN_BOOKS",
	"engine.devig_method":         "FML_DEVIG_METHOD",
	"engine.bankroll":             "DEFAULT_BANKROLL",
	"log.level":                   "LOG_LEVEL",
	"rate_limit.rps":              "FML_RATE_LIMIT_RPS",
	"engine.confidence_threshold": "FML_CONFIDENCE_THRESHOLD",
}

// LoadConfig loads configuration from .env, config/fml-engine.yaml and the environment.
// Precedence: environment > yaml > defaults. Both files are optional.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("fml-engine")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("FML")
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, "FML_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	engine := fml.DefaultConfig()

	v.SetDefault("server.port", 8090)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:3001"})
	v.SetDefault("server.request_timeout", 30*time.Second)

	v.SetDefault("redis.url", "localhost:6380")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("stream.enabled", true)
	v.SetDefault("stream.sports", []string{"basketball_nba"})
	v.SetDefault("stream.consumer_id", "fml-engine-1")
	v.SetDefault("stream.group_name", "fml-engines")
	v.SetDefault("stream.batch_size", 50)
	v.SetDefault("stream.flush_interval", 500*time.Millisecond)

	v.SetDefault("alexandria.dsn", "")
	v.SetDefault("alexandria.refresh_interval", 5*time.Minute)

	v.SetDefault("engine.blend_alpha", engine.BlendAlpha)
	v.SetDefault("engine.min_books", engine.MinBooks)
	v.SetDefault("engine.line_min", engine.LineRange.Min)
	v.SetDefault("engine.line_max", engine.LineRange.Max)
	v.SetDefault("engine.line_step", engine.LineRange.Step)
	v.SetDefault("engine.confidence_threshold", engine.ConfidenceThreshold)
	v.SetDefault("engine.devig_method", string(engine.DevigMethod))
	v.SetDefault("engine.bankroll", engine.Bankroll)
	v.SetDefault("engine.min_best_edge", fml.DefaultMinBestEdge)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("rate_limit.rps", 50.0)
	v.SetDefault("rate_limit.burst", 100)
}

// Validate checks service settings and the engine snapshot they produce
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Stream.Enabled {
		if len(c.Stream.Sports) == 0 {
			return fmt.Errorf("stream enabled with no sports")
		}
		if c.Stream.BatchSize <= 0 {
			return fmt.Errorf("stream batch_size must be positive, got %d", c.Stream.BatchSize)
		}
		if c.Stream.FlushInterval <= 0 {
			return fmt.Errorf("stream flush_interval must be positive, got %s", c.Stream.FlushInterval)
		}
	}
	if err := c.EngineConfig().Validate(); err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}
	return nil
}

// EngineConfig builds the initial engine snapshot with the default book weights
func (c *Config) EngineConfig() fml.Config {
	cfg := fml.DefaultConfig()
	cfg.BlendAlpha = c.Engine.BlendAlpha
	cfg.MinBooks = c.Engine.MinBooks
	cfg.LineRange = models.LineRange{
		Min:  c.Engine.LineMin,
		Max:  c.Engine.LineMax,
		Step: c.Engine.LineStep,
	}
	cfg.ConfidenceThreshold = c.Engine.ConfidenceThreshold
	cfg.DevigMethod = oddsmath.VigMethod(c.Engine.DevigMethod)
	cfg.Bankroll = c.Engine.Bankroll
	return cfg
}
