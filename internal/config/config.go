package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Version     string `mapstructure:"version"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
}

// EngineConfig holds the correlation engine options. FeatureDim is declared
// for forward compatibility and must equal 16.
type EngineConfig struct {
	FeatureDim              int    `mapstructure:"feature_dim"`
	SimilarityEngine        string `mapstructure:"similarity_engine"` // "exact" or "approximate"
	ApproxNeighbors         int    `mapstructure:"approx_neighbors"`
	BatchSize               int    `mapstructure:"batch_size"`
	MaxIndicators           int    `mapstructure:"max_indicators"`
	Workers                 int    `mapstructure:"workers"`
	RSDataShards            int    `mapstructure:"rs_data_shards"`
	RSParityShards          int    `mapstructure:"rs_parity_shards"`
	CollisionAlertThreshold uint64 `mapstructure:"collision_alert_threshold"`
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`
	StreamName string `mapstructure:"stream_name"`
}

type SnapshotConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Key      string        `mapstructure:"key"`
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/threatprint")
	}

	v.SetEnvPrefix("THREATPRINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Viper does not auto-bind nested struct fields from env
	v.BindEnv("redis.enabled", "THREATPRINT_REDIS_ENABLED")
	v.BindEnv("redis.host", "THREATPRINT_REDIS_HOST")
	v.BindEnv("redis.port", "THREATPRINT_REDIS_PORT")
	v.BindEnv("redis.password", "THREATPRINT_REDIS_PASSWORD")
	v.BindEnv("nats.enabled", "THREATPRINT_NATS_ENABLED")
	v.BindEnv("nats.url", "THREATPRINT_NATS_URL")
	v.BindEnv("app.environment", "THREATPRINT_APP_ENVIRONMENT")
	v.BindEnv("server.http_port", "THREATPRINT_SERVER_HTTP_PORT")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults plus env cover everything
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadDefault loads configuration with default path
func LoadDefault() (*Config, error) {
	return Load("")
}

// Validate enforces the option invariants
func (c *Config) Validate() error {
	if c.Engine.FeatureDim != 16 {
		return fmt.Errorf("engine.feature_dim must equal 16, got %d", c.Engine.FeatureDim)
	}
	switch c.Engine.SimilarityEngine {
	case "exact", "approximate":
	default:
		return fmt.Errorf("engine.similarity_engine must be \"exact\" or \"approximate\", got %q", c.Engine.SimilarityEngine)
	}
	if c.Engine.BatchSize <= 0 {
		return fmt.Errorf("engine.batch_size must be positive, got %d", c.Engine.BatchSize)
	}
	if c.Engine.RSDataShards <= 0 || c.Engine.RSParityShards <= 0 {
		return fmt.Errorf("engine.rs_data_shards and engine.rs_parity_shards must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "threatprint")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.version", "1.0.0")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.time_format", time.RFC3339)

	v.SetDefault("engine.feature_dim", 16)
	v.SetDefault("engine.similarity_engine", "exact")
	v.SetDefault("engine.approx_neighbors", 16)
	v.SetDefault("engine.batch_size", 256)
	v.SetDefault("engine.max_indicators", 10_000_000)
	v.SetDefault("engine.workers", 0) // 0 means all hardware threads
	v.SetDefault("engine.rs_data_shards", 10)
	v.SetDefault("engine.rs_parity_shards", 3)
	v.SetDefault("engine.collision_alert_threshold", 100)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "threatprint:")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream_name", "THREATPRINT_EVENTS")

	v.SetDefault("snapshot.interval", 5*time.Minute)
	v.SetDefault("snapshot.key", "snapshot:engine")
}
