package config

import (
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Generator GeneratorConfig
	Audio     AudioConfig
	Bridge    BridgeConfig
	Worker    WorkerConfig
	Cleanup   CleanupConfig
	Export    ExportConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type DatabaseConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type GeneratorConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout int // seconds, per HTTP call
}

type AudioConfig struct {
	ServiceURL string
	Timeout    int // seconds
}

type BridgeConfig struct {
	PollInterval  int // seconds between status polls
	Timeout       int // seconds before a remote task is abandoned
	MaxPollErrors int // consecutive poll failures tolerated
}

type WorkerConfig struct {
	ID          string
	Concurrency int
}

type CleanupConfig struct {
	TTLHours     int // terminal jobs older than this are removed
	IntervalMins int // sweep cadence
}

type ExportConfig struct {
	Dir        string // root directory for exported artifacts
	MP3Bitrate int
}

type RateLimitConfig struct {
	JobsPerMin int
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "3000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 20)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("generator.base_url", "http://localhost:8100")
	viper.SetDefault("generator.api_key", "")
	viper.SetDefault("generator.request_timeout", 30)
	viper.SetDefault("audio.service_url", "http://localhost:8200")
	viper.SetDefault("audio.timeout", 120)
	viper.SetDefault("bridge.poll_interval", 2)
	viper.SetDefault("bridge.timeout", 600)
	viper.SetDefault("bridge.max_poll_errors", 3)
	viper.SetDefault("worker.id", "")
	viper.SetDefault("worker.concurrency", 4)
	viper.SetDefault("cleanup.ttl_hours", 72)
	viper.SetDefault("cleanup.interval_mins", 15)
	viper.SetDefault("export.dir", "./data/exports")
	viper.SetDefault("export.mp3_bitrate", 192)
	viper.SetDefault("ratelimit.jobs_per_min", 30)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
			Env:  viper.GetString("server.env"),
		},
		Database: DatabaseConfig{
			DSN:          viper.GetString("database.dsn"),
			MaxOpenConns: viper.GetInt("database.max_open_conns"),
			MaxIdleConns: viper.GetInt("database.max_idle_conns"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Generator: GeneratorConfig{
			BaseURL:        viper.GetString("generator.base_url"),
			APIKey:         viper.GetString("generator.api_key"),
			RequestTimeout: viper.GetInt("generator.request_timeout"),
		},
		Audio: AudioConfig{
			ServiceURL: viper.GetString("audio.service_url"),
			Timeout:    viper.GetInt("audio.timeout"),
		},
		Bridge: BridgeConfig{
			PollInterval:  viper.GetInt("bridge.poll_interval"),
			Timeout:       viper.GetInt("bridge.timeout"),
			MaxPollErrors: viper.GetInt("bridge.max_poll_errors"),
		},
		Worker: WorkerConfig{
			ID:          viper.GetString("worker.id"),
			Concurrency: viper.GetInt("worker.concurrency"),
		},
		Cleanup: CleanupConfig{
			TTLHours:     viper.GetInt("cleanup.ttl_hours"),
			IntervalMins: viper.GetInt("cleanup.interval_mins"),
		},
		Export: ExportConfig{
			Dir:        viper.GetString("export.dir"),
			MP3Bitrate: viper.GetInt("export.mp3_bitrate"),
		},
		RateLimit: RateLimitConfig{
			JobsPerMin: viper.GetInt("ratelimit.jobs_per_min"),
		},
	}

	return cfg, nil
}
