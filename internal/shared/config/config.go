package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	Generation GenerationConfig `mapstructure:"generation"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// ProviderConfig holds model provider (OpenRouter-compatible) configuration.
type ProviderConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"` // server-side fallback, callers usually send their own
	Referer           string        `mapstructure:"referer"`
	Title             string        `mapstructure:"title"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	TextModel         string        `mapstructure:"text_model"`
	ImageModel        string        `mapstructure:"image_model"`
	VerificationModel string        `mapstructure:"verification_model"`
	ModelCacheTTL     time.Duration `mapstructure:"model_cache_ttl"`
}

// GenerationConfig holds pipeline tuning knobs.
type GenerationConfig struct {
	ImageConcurrency  int           `mapstructure:"image_concurrency"`
	VerifyItemTimeout time.Duration `mapstructure:"verify_item_timeout"`
	VerifyTimeout     time.Duration `mapstructure:"verify_timeout"`
	CostPerScene      float64       `mapstructure:"cost_per_scene"`
}

// StorageConfig holds persistence configuration for images and snapshots.
type StorageConfig struct {
	Backend         string `mapstructure:"backend"` // local or s3
	LocalDir        string `mapstructure:"local_dir"`
	PublicPath      string `mapstructure:"public_path"`
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	PublicBaseURL   string `mapstructure:"public_base_url"`
}

// DatabaseConfig holds the history database configuration.
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/animemaker")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and env
	}

	v.SetEnvPrefix("ANIMEMAKER")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Sensitive values always win from the environment.
	if key := os.Getenv("ANIMEMAKER_OPENROUTER_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if password := os.Getenv("ANIMEMAKER_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if key := os.Getenv("ANIMEMAKER_STORAGE_SECRET_KEY"); key != "" {
		cfg.Storage.SecretAccessKey = key
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	// Generation streams can stay open for several minutes.
	v.SetDefault("server.write_timeout", 10*time.Minute)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	v.SetDefault("provider.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("provider.referer", "http://localhost:8080")
	v.SetDefault("provider.title", "Anime Maker")
	v.SetDefault("provider.request_timeout", 120*time.Second)
	v.SetDefault("provider.text_model", "x-ai/grok-4-fast:free")
	v.SetDefault("provider.image_model", "google/gemini-2.5-flash-image-preview")
	v.SetDefault("provider.verification_model", "x-ai/grok-4-fast:free")
	v.SetDefault("provider.model_cache_ttl", time.Hour)

	v.SetDefault("generation.image_concurrency", 3)
	v.SetDefault("generation.verify_item_timeout", 15*time.Second)
	v.SetDefault("generation.verify_timeout", 30*time.Second)
	v.SetDefault("generation.cost_per_scene", 0.07)

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "public/generated")
	v.SetDefault("storage.public_path", "/generated")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "animemaker")
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
