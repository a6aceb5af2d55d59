package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/weather-telemetry-api/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Storage. DSN, when set, overrides the connection parts.
	DBDriver     string
	DBEndpoint   string
	DBPort       int
	DBUser       string
	DBPassword   string
	DBName       string
	DSN          string
	SQLitePath   string
	QueryTimeout time.Duration

	DecodeWorkers       int
	UnknownDevicePolicy domain.UnknownFamilyPolicy

	// Geocoding is enabled exactly when GeocodeAPIKey is set.
	GeocodeAPIKey         string
	GeocodeEnabled        bool
	GeocodeTimeout        time.Duration
	GeocodeCacheSize      int
	GeocodeNegativeTTL    time.Duration
	GeocodeComponentIndex int
	GeocodeConcurrency    int

	// Live feed relay.
	LiveFeedEnabled  bool
	LiveFeedInterval time.Duration
	KafkaBrokers     []string
	KafkaTopic       string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	queryTimeout, err := parsePositiveDuration("QUERY_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	geocodeTimeout, err := parsePositiveDuration("GEOCODE_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	negativeTTL, err := parsePositiveDuration("GEOCODE_NEGATIVE_TTL", "10m")
	if err != nil {
		return nil, err
	}
	liveFeedInterval, err := parsePositiveDuration("LIVE_FEED_INTERVAL", "30s")
	if err != nil {
		return nil, err
	}

	dbPort, err := parseIntInRange("DB_PORT", 3306, 1, 65535)
	if err != nil {
		return nil, err
	}
	decodeWorkers, err := parseIntInRange("DECODE_WORKERS", 4, 1, 64)
	if err != nil {
		return nil, err
	}
	componentIndex, err := parseIntInRange("GEOCODE_COMPONENT_INDEX", domain.DefaultCityComponentIndex, 0, 32)
	if err != nil {
		return nil, err
	}
	cacheSize, err := parseIntInRange("GEOCODE_CACHE_SIZE", 1000, 1, 1_000_000)
	if err != nil {
		return nil, err
	}
	geocodeConcurrency, err := parseIntInRange("GEOCODE_CONCURRENCY", 8, 1, 64)
	if err != nil {
		return nil, err
	}

	policy, err := domain.ParseUnknownFamilyPolicy(sharedcfg.EnvOrDefault("UNKNOWN_DEVICE_POLICY", "extended"))
	if err != nil {
		return nil, fmt.Errorf("invalid UNKNOWN_DEVICE_POLICY: %w", err)
	}

	apiKey := os.Getenv("GCAPIKEY")

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":5000"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		DBDriver:     sharedcfg.EnvOrDefault("DB_DRIVER", "mysql"),
		DBEndpoint:   os.Getenv("DB_ENDPOINT"),
		DBPort:       dbPort,
		DBUser:       os.Getenv("DB_USER"),
		DBPassword:   os.Getenv("DB_PASSWORD"),
		DBName:       os.Getenv("DB_DB"),
		DSN:          os.Getenv("DB_DSN"),
		SQLitePath:   os.Getenv("SQLITE_PATH"),
		QueryTimeout: queryTimeout,

		DecodeWorkers:       decodeWorkers,
		UnknownDevicePolicy: policy,

		GeocodeAPIKey:         apiKey,
		GeocodeEnabled:        apiKey != "",
		GeocodeTimeout:        geocodeTimeout,
		GeocodeCacheSize:      cacheSize,
		GeocodeNegativeTTL:    negativeTTL,
		GeocodeComponentIndex: componentIndex,
		GeocodeConcurrency:    geocodeConcurrency,

		LiveFeedEnabled:  os.Getenv("LIVE_FEED_ENABLED") == "true",
		LiveFeedInterval: liveFeedInterval,
		KafkaBrokers:     sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:       sharedcfg.EnvOrDefault("KAFKA_TOPIC", "weather-points"),
	}

	switch cfg.DBDriver {
	case "mysql", "postgres":
		if cfg.DSN == "" && cfg.DBEndpoint == "" {
			return nil, errors.New("DB_ENDPOINT is required when DB_DSN is not set")
		}
	case "sqlite3":
		if cfg.DSN == "" && cfg.SQLitePath == "" {
			return nil, errors.New("SQLITE_PATH or DB_DSN is required for DB_DRIVER=sqlite3")
		}
	default:
		return nil, fmt.Errorf("invalid DB_DRIVER %q (allowed: mysql, postgres, sqlite3)", cfg.DBDriver)
	}

	switch cfg.LogFormat {
	case "json", "text":
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT %q (allowed: json, text)", cfg.LogFormat)
	}

	if cfg.LiveFeedEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when LIVE_FEED_ENABLED is true")
		}
		if cfg.KafkaTopic == "" {
			return nil, errors.New("KAFKA_TOPIC is required when LIVE_FEED_ENABLED is true")
		}
	}

	return cfg, nil
}

func parsePositiveDuration(key, fallback string) (time.Duration, error) {
	s := sharedcfg.EnvOrDefault(key, fallback)
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive duration", key, s)
	}
	return d, nil
}

func parseIntInRange(key string, fallback, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s %q: must be an integer in [%d, %d]", key, s, lo, hi)
	}
	return n, nil
}
