package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	NATS      NATSConfig      `mapstructure:"nats"`
	ML        MLConfig        `mapstructure:"ml"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Retention RetentionConfig `mapstructure:"retention"`
	Redis     RedisConfig     `mapstructure:"redis"`
	DLQ       DLQConfig       `mapstructure:"dlq"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type MLConfig struct {
	URL       string        `mapstructure:"url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Explained bool          `mapstructure:"explained"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// ConnString builds the PostgreSQL connection string.
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

type PipelineConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type AnalysisConfig struct {
	WindowCapacity    int           `mapstructure:"window_capacity"`
	SnapshotSize      int           `mapstructure:"snapshot_size"`
	MinDevices        int           `mapstructure:"min_devices"`
	ThrottleInterval  time.Duration `mapstructure:"throttle_interval"`
	TimeWindowMinutes int           `mapstructure:"time_window_minutes"`
}

type RetentionConfig struct {
	Age           time.Duration `mapstructure:"age"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type RedisConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type DLQConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	NatsURL string `mapstructure:"nats_url"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8097)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject", "devices.*.telemetry")
	v.SetDefault("ml.url", "http://localhost:8000")
	v.SetDefault("ml.timeout", "10s")
	v.SetDefault("ml.explained", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "sentinel")
	v.SetDefault("database.password", "sentinel")
	v.SetDefault("database.database", "sentinel")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("pipeline.concurrency", 10)
	v.SetDefault("pipeline.batch_size", 50)
	v.SetDefault("pipeline.flush_interval", "10s")
	v.SetDefault("analysis.window_capacity", 200)
	v.SetDefault("analysis.snapshot_size", 80)
	v.SetDefault("analysis.min_devices", 3)
	v.SetDefault("analysis.throttle_interval", "5s")
	v.SetDefault("analysis.time_window_minutes", 60)
	v.SetDefault("retention.age", "48h")
	v.SetDefault("retention.sweep_interval", "1h")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379")
	v.SetDefault("redis.ttl", "10m")
	v.SetDefault("dlq.enabled", false)
	v.SetDefault("dlq.nats_url", "nats://localhost:4222")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/sentinel")
	}

	// Environment variables override
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Pipeline.Concurrency < 1 {
		return nil, fmt.Errorf("pipeline.concurrency must be at least 1")
	}
	if cfg.Pipeline.BatchSize < 1 {
		return nil, fmt.Errorf("pipeline.batch_size must be at least 1")
	}
	if cfg.Analysis.WindowCapacity < 1 {
		return nil, fmt.Errorf("analysis.window_capacity must be at least 1")
	}

	return &cfg, nil
}
