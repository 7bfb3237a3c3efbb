// Package appconfig loads the service's runtime configuration from
// config.yml, overlaid with a .env file and process environment variables,
// and validates it before the rest of the application ever sees it.
package appconfig

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the service's full runtime configuration.
type Config struct {
	HTTPAddr        string `yaml:"http_addr" validate:"required"`
	GTFSSource      string `yaml:"gtfs_source" validate:"required"`
	GTFSIsLocalFile bool   `yaml:"gtfs_is_local_file"`
	FeedCachePath   string `yaml:"feed_cache_path" validate:"required"`
	Timezone        string `yaml:"timezone" validate:"required"`
	RateLimitRPS    int    `yaml:"rate_limit_rps" validate:"gte=0"`
	MaxRounds       int    `yaml:"max_rounds" validate:"gte=0"`
	NATSUrl         string `yaml:"nats_url"`
	PostgresDSN     string `yaml:"postgres_dsn"`
}

const (
	defaultRateLimitRPS = 5
	defaultMaxRounds    = 10
)

// Load reads path (falling back to defaults for missing optional fields),
// overlays a .env file at envPath if present, and validates the result.
// A missing .env file is not an error: it's normal in production, where
// configuration comes from real environment variables instead.
func Load(path, envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("appconfig: load %s: %w", envPath, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("appconfig: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("appconfig: parse %s: %w", path, err)
	}

	overlayFromEnv(&cfg)

	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = defaultRateLimitRPS
	}
	if cfg.MaxRounds == 0 {
		cfg.MaxRounds = defaultMaxRounds
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("appconfig: invalid configuration: %w", err)
	}
	return &cfg, nil
}

// overlayFromEnv lets a handful of deployment-time secrets and endpoints
// be supplied purely through the environment, without editing config.yml.
func overlayFromEnv(cfg *Config) {
	if v := os.Getenv("RAPTOR_NATS_URL"); v != "" {
		cfg.NATSUrl = v
	}
	if v := os.Getenv("RAPTOR_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("RAPTOR_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
}
