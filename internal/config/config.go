package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// RedisAddrs empty means the process-local memory store is used.
	RedisAddrs      []string
	RedisPassword   string
	RedisDB         int
	RedisMasterName string
	RedisGeoKey     string
	RedisRideHash   string
	StoreOpTimeout  time.Duration

	MatchRadiusMeters float64
	MatchMaxResults   int
	DriverLeaseTTL    time.Duration
	FinalizeTimeout   time.Duration
	BaseFare          decimal.Decimal

	LocationCacheTTL time.Duration
	GeocodeTimeout   time.Duration
	GoogleMapsAPIKey string

	NotifyChannel string
	KafkaBrokers  []string
	KafkaTopic    string
	AMQPURL       string
	AMQPExchange  string
	WebhookURL    string

	PGDSN         string
	RunMigrations bool

	AuthUsername string
	AuthPassword string
	JWTSecret    string
	JWTTTL       time.Duration
	AuthRequired bool

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:          ":8080",
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		RedisGeoKey:       "drivers:available",
		RedisRideHash:     "ride_status",
		StoreOpTimeout:    500 * time.Millisecond,
		MatchRadiusMeters: 5000,
		MatchMaxResults:   5,
		DriverLeaseTTL:    30 * time.Minute,
		FinalizeTimeout:   2 * time.Second,
		BaseFare:          decimal.NewFromInt(5000),
		LocationCacheTTL:  5 * time.Minute,
		GeocodeTimeout:    2 * time.Second,
		NotifyChannel:     "ride-updates",
		KafkaTopic:        "ride-status",
		AMQPExchange:      "ride_topic",
		AuthUsername:      "admin",
		AuthPassword:      "password",
		JWTSecret:         "dev-secret-change-me",
		JWTTTL:            time.Hour,
		LogLevel:          "info",
	}
}

// LoadDotEnv preloads variables from the given files (".env" when none are
// given). Variables already set in the environment win. A missing file is
// not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	present := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	if addrs := os.Getenv("REDIS_ADDR"); addrs != "" {
		cfg.RedisAddrs = splitAndTrim(addrs)
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setIntFromEnv(&cfg.RedisDB, "REDIS_DB", &errs)
	setStringFromEnv(&cfg.RedisMasterName, "REDIS_MASTER_NAME")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setStringFromEnv(&cfg.RedisRideHash, "REDIS_RIDE_HASH")
	setDurationFromEnv(&cfg.StoreOpTimeout, "STORE_OP_TIMEOUT", &errs)

	setFloatFromEnv(&cfg.MatchRadiusMeters, "MATCH_RADIUS_METERS", &errs)
	setIntFromEnv(&cfg.MatchMaxResults, "MATCH_MAX_RESULTS", &errs)
	setDurationFromEnv(&cfg.DriverLeaseTTL, "DRIVER_LEASE_TTL", &errs)
	setDurationFromEnv(&cfg.FinalizeTimeout, "FINALIZE_TIMEOUT", &errs)
	setDecimalFromEnv(&cfg.BaseFare, "BASE_FARE", &errs)

	setDurationFromEnv(&cfg.LocationCacheTTL, "LOCATION_CACHE_TTL", &errs)
	setDurationFromEnv(&cfg.GeocodeTimeout, "GEOCODE_TIMEOUT", &errs)
	cfg.GoogleMapsAPIKey = strings.TrimSpace(os.Getenv("GOOGLE_MAPS_API_KEY"))

	setStringFromEnv(&cfg.NotifyChannel, "NOTIFY_CHANNEL")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	cfg.AMQPURL = strings.TrimSpace(os.Getenv("AMQP_URL"))
	setStringFromEnv(&cfg.AMQPExchange, "AMQP_EXCHANGE")
	cfg.WebhookURL = strings.TrimSpace(os.Getenv("WEBHOOK_URL"))

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	setStringFromEnv(&cfg.AuthUsername, "AUTH_USERNAME")
	setStringFromEnv(&cfg.AuthPassword, "AUTH_PASSWORD")
	setStringFromEnv(&cfg.JWTSecret, "JWT_SECRET")
	setDurationFromEnv(&cfg.JWTTTL, "JWT_TTL", &errs)
	cfg.AuthRequired = strings.EqualFold(os.Getenv("AUTH_REQUIRED"), "true")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.MatchRadiusMeters <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_RADIUS_METERS must be > 0"))
	}
	if cfg.MatchMaxResults <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_MAX_RESULTS must be > 0"))
	}
	if !cfg.BaseFare.IsPositive() {
		errs = append(errs, fmt.Errorf("BASE_FARE must be > 0"))
	}
	if cfg.DriverLeaseTTL < 0 {
		errs = append(errs, fmt.Errorf("DRIVER_LEASE_TTL must be >= 0"))
	}
	if cfg.StoreOpTimeout <= 0 || cfg.GeocodeTimeout <= 0 || cfg.FinalizeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("STORE_OP_TIMEOUT, GEOCODE_TIMEOUT and FINALIZE_TIMEOUT must be > 0"))
	}
	if cfg.AuthRequired && cfg.JWTSecret == defaultServerConfig().JWTSecret {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be set when AUTH_REQUIRED=true"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setDecimalFromEnv(target *decimal.Decimal, key string, errs *[]error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
