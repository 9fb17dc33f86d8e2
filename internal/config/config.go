package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/energy-data-ingest/internal/domain"
)

// WeatherLocation is one configured observation point.
type WeatherLocation struct {
	ID  string
	Lat float64
	Lon float64
}

// QualityWeights controls how the four validation checks combine into a
// record's quality score. Weights are normalized at load time.
type QualityWeights struct {
	Freshness    float64
	Completeness float64
	Accuracy     float64
	Consistency  float64
}

// Config holds all service settings, populated from environment variables.
type Config struct {
	DatabaseURL     string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	DrainTimeout    time.Duration

	// Upsert chunking and fetch retry policy.
	BatchSize          int
	MaxRetries         int
	RetryDelay         time.Duration
	RetryBackoffFactor float64

	// Validation.
	StrictValidation   bool
	RejectionTolerance float64
	QualityWeights     QualityWeights

	// Synthetic fallback.
	SyntheticFallback bool
	SyntheticTier     domain.SyntheticTier

	RetentionDays int

	// Household source.
	HouseholdURL          string
	HouseholdFallbackURLs []string
	HouseholdID           string
	HouseholdInterval     time.Duration

	// Weather source.
	WeatherForecastURL string
	WeatherArchiveURL  string
	WeatherLocations   []WeatherLocation
	WeatherAPIDelay    time.Duration
	WeatherInterval    time.Duration

	// Grid source. URLs are tried in declared order.
	GridURLs      []string
	GridCountries []string
	GridInterval  time.Duration

	// Optional job-event publishing.
	KafkaBrokers  []string
	KafkaJobTopic string
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := envDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	drainTimeout, err := envDuration("DRAIN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	retryDelay, err := envDuration("RETRY_DELAY", 60*time.Second)
	if err != nil {
		return nil, err
	}
	weatherAPIDelay, err := envDuration("WEATHER_API_DELAY", 100*time.Millisecond)
	if err != nil {
		return nil, err
	}
	householdInterval, err := envDuration("HOUSEHOLD_INTERVAL", 168*time.Hour)
	if err != nil {
		return nil, err
	}
	weatherInterval, err := envDuration("WEATHER_INTERVAL", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	gridInterval, err := envDuration("GRID_INTERVAL", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	batchSize, err := envInt("BATCH_SIZE", 500)
	if err != nil {
		return nil, err
	}
	maxRetries, err := envInt("MAX_RETRIES", 3)
	if err != nil {
		return nil, err
	}
	retentionDays, err := envInt("RETENTION_DAYS", 1095)
	if err != nil {
		return nil, err
	}

	backoffFactor, err := envFloat("RETRY_BACKOFF_FACTOR", 2.0)
	if err != nil {
		return nil, err
	}
	tolerance, err := envFloat("REJECTION_TOLERANCE", 0.1)
	if err != nil {
		return nil, err
	}

	weights, err := parseQualityWeights(envOrDefault("QUALITY_WEIGHTS", ""))
	if err != nil {
		return nil, err
	}

	locations, err := parseWeatherLocations(envOrDefault("WEATHER_LOCATIONS",
		"paris_fr_001:48.8566:2.3522,berlin_de_001:52.5200:13.4050,madrid_es_001:40.4168:-3.7038"))
	if err != nil {
		return nil, err
	}

	tier := domain.SyntheticTier(envOrDefault("SYNTHETIC_TIER", string(domain.TierStandard)))

	cfg := &Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		DrainTimeout:    drainTimeout,

		BatchSize:          batchSize,
		MaxRetries:         maxRetries,
		RetryDelay:         retryDelay,
		RetryBackoffFactor: backoffFactor,

		StrictValidation:   envBool("STRICT_VALIDATION", false),
		RejectionTolerance: tolerance,
		QualityWeights:     weights,

		SyntheticFallback: envBool("SYNTHETIC_FALLBACK", true),
		SyntheticTier:     tier,

		RetentionDays: retentionDays,

		HouseholdURL:          envOrDefault("HOUSEHOLD_URL", "https://archive.ics.uci.edu/static/public/235/individual+household+electric+power+consumption.zip"),
		HouseholdFallbackURLs: splitNonEmpty(os.Getenv("HOUSEHOLD_FALLBACK_URLS")),
		HouseholdID:           envOrDefault("HOUSEHOLD_ID", "uci_france_001"),
		HouseholdInterval:     householdInterval,

		WeatherForecastURL: envOrDefault("WEATHER_FORECAST_URL", "https://api.open-meteo.com/v1/forecast"),
		WeatherArchiveURL:  envOrDefault("WEATHER_ARCHIVE_URL", "https://archive-api.open-meteo.com/v1/era5"),
		WeatherLocations:   locations,
		WeatherAPIDelay:    weatherAPIDelay,
		WeatherInterval:    weatherInterval,

		GridURLs: splitNonEmpty(envOrDefault("GRID_URLS",
			"https://data.open-power-system-data.org/time_series/latest/time_series_60min_singleindex.csv,"+
				"https://data.open-power-system-data.org/time_series/2020-10-06/time_series_60min_singleindex.csv")),
		GridCountries: splitNonEmpty(envOrDefault("GRID_COUNTRIES", "FR,DE,ES")),
		GridInterval:  gridInterval,

		KafkaBrokers:  splitNonEmpty(os.Getenv("KAFKA_BROKERS")),
		KafkaJobTopic: envOrDefault("KAFKA_JOB_TOPIC", "ingestion-job-events"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("BATCH_SIZE must be positive")
	}
	if cfg.MaxRetries <= 0 {
		return nil, errors.New("MAX_RETRIES must be positive")
	}
	if cfg.RetryBackoffFactor < 1 {
		return nil, errors.New("RETRY_BACKOFF_FACTOR must be >= 1")
	}
	if cfg.RejectionTolerance < 0 || cfg.RejectionTolerance > 1 {
		return nil, errors.New("REJECTION_TOLERANCE must be in [0, 1]")
	}
	if !cfg.SyntheticTier.Valid() {
		return nil, fmt.Errorf("SYNTHETIC_TIER %q is not one of basic, standard, high", cfg.SyntheticTier)
	}
	if len(cfg.WeatherLocations) == 0 {
		return nil, errors.New("WEATHER_LOCATIONS must name at least one location")
	}
	if len(cfg.GridCountries) == 0 {
		return nil, errors.New("GRID_COUNTRIES must name at least one country")
	}

	return cfg, nil
}

// JobEventsEnabled reports whether job lifecycle events should be published.
func (c *Config) JobEventsEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func envInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return f, nil
}

func envBool(key string, fallback bool) bool {
	switch os.Getenv(key) {
	case "true", "1":
		return true
	case "false", "0":
		return false
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseWeatherLocations parses "id:lat:lon" triples separated by commas.
func parseWeatherLocations(s string) ([]WeatherLocation, error) {
	var locations []WeatherLocation
	for _, entry := range splitNonEmpty(s) {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid WEATHER_LOCATIONS entry %q: want id:lat:lon", entry)
		}
		lat, errLat := strconv.ParseFloat(parts[1], 64)
		lon, errLon := strconv.ParseFloat(parts[2], 64)
		if errLat != nil || errLon != nil {
			return nil, fmt.Errorf("invalid WEATHER_LOCATIONS coordinates in %q", entry)
		}
		locations = append(locations, WeatherLocation{ID: parts[0], Lat: lat, Lon: lon})
	}
	return locations, nil
}

// parseQualityWeights parses "freshness,completeness,accuracy,consistency"
// and normalizes the weights to sum to 1. Empty input yields equal weights.
func parseQualityWeights(s string) (QualityWeights, error) {
	if s == "" {
		return QualityWeights{Freshness: 0.25, Completeness: 0.25, Accuracy: 0.25, Consistency: 0.25}, nil
	}
	parts := splitNonEmpty(s)
	if len(parts) != 4 {
		return QualityWeights{}, fmt.Errorf("invalid QUALITY_WEIGHTS %q: want four comma-separated values", s)
	}
	vals := make([]float64, 4)
	sum := 0.0
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 {
			return QualityWeights{}, fmt.Errorf("invalid QUALITY_WEIGHTS component %q", p)
		}
		vals[i] = v
		sum += v
	}
	if sum == 0 {
		return QualityWeights{}, errors.New("QUALITY_WEIGHTS must not sum to zero")
	}
	return QualityWeights{
		Freshness:    vals[0] / sum,
		Completeness: vals[1] / sum,
		Accuracy:     vals[2] / sum,
		Consistency:  vals[3] / sum,
	}, nil
}
