// Package config loads application configuration from an optional YAML
// file and SUNSPOT_-prefixed environment variables, and initializes the
// global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Mapbox   MapboxConfig   `yaml:"mapbox" mapstructure:"mapbox"`
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MapboxConfig configures the Tilequery footprint provider.
type MapboxConfig struct {
	Token     string  `yaml:"token" mapstructure:"token"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	Tileset   string  `yaml:"tileset" mapstructure:"tileset"`
	RadiusM   int     `yaml:"radius_m" mapstructure:"radius_m"`
	Limit     int     `yaml:"limit" mapstructure:"limit"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// AnalysisConfig configures the shadow engine and session behavior.
type AnalysisConfig struct {
	RayLengthKm      float64 `yaml:"ray_length_km" mapstructure:"ray_length_km"`
	ClearSkyRayKm    float64 `yaml:"clear_sky_ray_km" mapstructure:"clear_sky_ray_km"`
	SegmentCount     int     `yaml:"segment_count" mapstructure:"segment_count"`
	CacheRadiusM     float64 `yaml:"cache_radius_m" mapstructure:"cache_radius_m"`
	FetchTimeoutSecs int     `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
}

// FetchTimeout returns the configured fetch timeout as a duration.
func (a AnalysisConfig) FetchTimeout() time.Duration {
	return time.Duration(a.FetchTimeoutSecs) * time.Second
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SUNSPOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("mapbox.token", "")
	v.SetDefault("mapbox.base_url", "https://api.mapbox.com")
	v.SetDefault("mapbox.tileset", "mapbox.mapbox-streets-v8")
	v.SetDefault("mapbox.radius_m", 200)
	v.SetDefault("mapbox.limit", 50)
	v.SetDefault("mapbox.rate_limit", 10)
	v.SetDefault("analysis.ray_length_km", 1.0)
	v.SetDefault("analysis.clear_sky_ray_km", 0.5)
	v.SetDefault("analysis.segment_count", 20)
	v.SetDefault("analysis.cache_radius_m", 10)
	v.SetDefault("analysis.fetch_timeout_secs", 8)

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
