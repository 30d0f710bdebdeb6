package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"turnstile/pkg/logger"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	RateLimitRequests int
	RateLimitWindow   time.Duration

	RequestTimeout time.Duration
	IdempotencyTTL time.Duration
	MaxRequestSize int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	StorageBackend    string
	MongoURI          string
	MongoDatabaseName string
	MongoConnTimeout  time.Duration
	LockTTL           time.Duration
	LockRetryInterval time.Duration

	CatalogBackend string
	PostgresDSN    string

	OfferTTL              time.Duration
	JoinAttemptLimit      int
	JoinAttemptWindow     time.Duration
	ExpirySweepSchedule   string
	ExpireTimeout         time.Duration
	RefundReopensCapacity bool

	KafkaEnabled           bool
	NotificationTopic      string
	NotificationDLQTopic   string
	NotificationBufferSize int
	PaymentResultsTopic    string
	PaymentResultsGroup    string
	PaymentResultsDLQTopic string

	RabbitMQURL      string
	CatalogSyncQueue string

	Log *logger.Logger
}

// Load reads configuration for serviceName from the environment, after
// applying an optional .env file, and exits the process when it is invalid.
func Load(serviceName string) *Config {
	dotenvErr := godotenv.Load()

	cfg := FromEnv(serviceName)
	if dotenvErr == nil {
		cfg.Log.Debug("Loaded environment overrides from .env")
	}

	if err := cfg.Validate(); err != nil {
		cfg.Log.Fatal(err.Error())
	}
	cfg.LogConfiguration()
	return cfg
}

// FromEnv builds a Config without validating it.
func FromEnv(serviceName string) *Config {
	return &Config{
		Port: getEnvStr(EnvPort, DefaultPort),

		RateLimitRequests: getEnvNum(EnvRateLimitRequests, DefaultRateLimitRequests),
		RateLimitWindow:   getEnvDuration(EnvRateLimitWindow, DefaultRateLimitWindow),

		RequestTimeout: getEnvDuration(EnvRequestTimeout, DefaultRequestTimeout),
		IdempotencyTTL: getEnvDuration(EnvIdempotencyTTL, DefaultIdempotencyTTL),
		MaxRequestSize: getEnvNum(EnvMaxRequestSize, DefaultMaxRequestSize),

		ReadTimeout:     getEnvDuration(EnvReadTimeout, DefaultReadTimeout),
		WriteTimeout:    getEnvDuration(EnvWriteTimeout, DefaultWriteTimeout),
		IdleTimeout:     getEnvDuration(EnvIdleTimeout, DefaultIdleTimeout),
		ShutdownTimeout: getEnvDuration(EnvShutdownTimeout, DefaultShutdownTimeout),

		StorageBackend:    getEnvStr(EnvStorageBackend, DefaultStorageBackend),
		MongoURI:          getEnvStr(EnvMongoURI, DefaultMongoURI),
		MongoDatabaseName: getEnvStr(EnvMongoDatabaseName, DefaultMongoDatabaseName),
		MongoConnTimeout:  getEnvDuration(EnvMongoConnTimeout, DefaultMongoConnTimeout),
		LockTTL:           getEnvDuration(EnvLockTTL, DefaultLockTTL),
		LockRetryInterval: getEnvDuration(EnvLockRetryInterval, DefaultLockRetryInterval),

		CatalogBackend: getEnvStr(EnvCatalogBackend, DefaultCatalogBackend),
		PostgresDSN:    getEnvStr(EnvPostgresDSN, ""),

		OfferTTL:              getEnvDuration(EnvOfferTTL, DefaultOfferTTL),
		JoinAttemptLimit:      getEnvNum(EnvJoinAttemptLimit, DefaultJoinAttemptLimit),
		JoinAttemptWindow:     getEnvDuration(EnvJoinAttemptWindow, DefaultJoinAttemptWindow),
		ExpirySweepSchedule:   getEnvStr(EnvExpirySweepSchedule, DefaultExpirySweepSchedule),
		ExpireTimeout:         getEnvDuration(EnvExpireTimeout, DefaultExpireTimeout),
		RefundReopensCapacity: getEnvBool(EnvRefundReopensCapacity, DefaultRefundReopensCapacity),

		KafkaEnabled:           getEnvBool(EnvKafkaEnabled, DefaultKafkaEnabled),
		NotificationTopic:      getEnvStr(EnvNotificationTopic, DefaultNotificationTopic),
		NotificationDLQTopic:   getEnvStr(EnvNotificationDLQTopic, ""),
		NotificationBufferSize: getEnvNum(EnvNotificationBufferSize, DefaultNotificationBufferSize),
		PaymentResultsTopic:    getEnvStr(EnvPaymentResultsTopic, DefaultPaymentResultsTopic),
		PaymentResultsGroup:    getEnvStr(EnvPaymentResultsGroup, DefaultPaymentResultsGroup),
		PaymentResultsDLQTopic: getEnvStr(EnvPaymentResultsDLQTopic, ""),

		RabbitMQURL:      getEnvStr(EnvRabbitMQURL, ""),
		CatalogSyncQueue: getEnvStr(EnvCatalogSyncQueue, DefaultCatalogSyncQueue),

		Log: logger.New(logger.Config{
			Level:     getEnvStr(EnvLogLevel, DefaultLogLevel),
			Format:    getEnvStr(EnvLogFormat, DefaultLogFormat),
			AddSource: true,
			Service:   serviceName,
		}),
	}
}

func (cfg *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("Port must be between 1 and 65535, got: %s", cfg.Port))
	}

	switch cfg.StorageBackend {
	case BackendMongo, BackendMemory:
	default:
		errors = append(errors, fmt.Sprintf("StorageBackend must be one of [mongo, memory], got: %s", cfg.StorageBackend))
	}
	switch cfg.CatalogBackend {
	case BackendMongo, BackendPostgres, BackendMemory:
	default:
		errors = append(errors, fmt.Sprintf("CatalogBackend must be one of [mongo, postgres, memory], got: %s", cfg.CatalogBackend))
	}

	if cfg.usesMongo() {
		if !regexp.MustCompile(`^mongodb(\+srv)?://`).MatchString(cfg.MongoURI) {
			errors = append(errors, fmt.Sprintf("MongoURI must start with 'mongodb://' or 'mongodb+srv://', got: %s", redactURI(cfg.MongoURI)))
		}
		if cfg.MongoDatabaseName == "" {
			errors = append(errors, "MongoDatabaseName cannot be empty")
		}
		if cfg.MongoConnTimeout <= 0 {
			errors = append(errors, fmt.Sprintf("MongoConnTimeout must be positive, got: %s", cfg.MongoConnTimeout))
		}
	}
	if cfg.CatalogBackend == BackendPostgres && cfg.PostgresDSN == "" {
		errors = append(errors, "PostgresDSN is required when CatalogBackend is postgres")
	}

	positive := []struct {
		name  string
		value time.Duration
	}{
		{"RateLimitWindow", cfg.RateLimitWindow},
		{"RequestTimeout", cfg.RequestTimeout},
		{"IdempotencyTTL", cfg.IdempotencyTTL},
		{"ReadTimeout", cfg.ReadTimeout},
		{"WriteTimeout", cfg.WriteTimeout},
		{"IdleTimeout", cfg.IdleTimeout},
		{"ShutdownTimeout", cfg.ShutdownTimeout},
		{"LockTTL", cfg.LockTTL},
		{"LockRetryInterval", cfg.LockRetryInterval},
		{"OfferTTL", cfg.OfferTTL},
		{"JoinAttemptWindow", cfg.JoinAttemptWindow},
		{"ExpireTimeout", cfg.ExpireTimeout},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errors = append(errors, fmt.Sprintf("%s must be positive, got: %s", p.name, p.value))
		}
	}

	if cfg.RateLimitRequests <= 0 {
		errors = append(errors, fmt.Sprintf("RateLimitRequests must be positive, got: %d", cfg.RateLimitRequests))
	}
	if cfg.MaxRequestSize <= 0 {
		errors = append(errors, fmt.Sprintf("MaxRequestSize must be positive, got: %d", cfg.MaxRequestSize))
	}
	if cfg.JoinAttemptLimit <= 0 {
		errors = append(errors, fmt.Sprintf("JoinAttemptLimit must be positive, got: %d", cfg.JoinAttemptLimit))
	}
	if cfg.NotificationBufferSize <= 0 {
		errors = append(errors, fmt.Sprintf("NotificationBufferSize must be positive, got: %d", cfg.NotificationBufferSize))
	}
	if cfg.ExpirySweepSchedule == "" {
		errors = append(errors, "ExpirySweepSchedule cannot be empty")
	}
	if cfg.LockTTL > 0 {
		// An expired lock is taken over while its holder may still be writing.
		if cfg.ExpireTimeout*2 > cfg.LockTTL {
			errors = append(errors, fmt.Sprintf("LockTTL (%s) must be at least twice ExpireTimeout (%s)", cfg.LockTTL, cfg.ExpireTimeout))
		}
		if cfg.RequestTimeout*2 > cfg.LockTTL {
			errors = append(errors, fmt.Sprintf("LockTTL (%s) must be at least twice RequestTimeout (%s)", cfg.LockTTL, cfg.RequestTimeout))
		}
	}

	if cfg.KafkaEnabled {
		if cfg.NotificationTopic == "" {
			errors = append(errors, "NotificationTopic cannot be empty when Kafka is enabled")
		}
		if cfg.PaymentResultsTopic == "" || cfg.PaymentResultsGroup == "" {
			errors = append(errors, "PaymentResultsTopic and PaymentResultsGroup are required when Kafka is enabled")
		}
	}
	if cfg.RabbitMQURL != "" && !regexp.MustCompile(`^amqps?://`).MatchString(cfg.RabbitMQURL) {
		errors = append(errors, fmt.Sprintf("RabbitMQURL must start with 'amqp://' or 'amqps://', got: %s", redactURI(cfg.RabbitMQURL)))
	}

	if len(errors) > 0 {
		errMsg := "Configuration validation failed:\n"
		for i, err := range errors {
			errMsg += fmt.Sprintf("  %d. %s\n", i+1, err)
		}
		return fmt.Errorf("%s", errMsg)
	}

	return nil
}

func (cfg *Config) LogConfiguration() {
	cfg.Log.Info("Configuration loaded successfully",
		"port", cfg.Port,
		"storage_backend", cfg.StorageBackend,
		"catalog_backend", cfg.CatalogBackend,
		"mongo_uri", redactURI(cfg.MongoURI),
		"mongo_database", cfg.MongoDatabaseName,
		"postgres_dsn_set", cfg.PostgresDSN != "",
		"lock_ttl", cfg.LockTTL,
		"offer_ttl", cfg.OfferTTL,
		"join_attempt_limit", cfg.JoinAttemptLimit,
		"join_attempt_window", cfg.JoinAttemptWindow,
		"expiry_sweep_schedule", cfg.ExpirySweepSchedule,
		"refund_reopens_capacity", cfg.RefundReopensCapacity,
		"kafka_enabled", cfg.KafkaEnabled,
		"notification_topic", cfg.NotificationTopic,
		"payment_results_topic", cfg.PaymentResultsTopic,
		"rabbitmq_url", redactURI(cfg.RabbitMQURL),
		"catalog_sync_queue", cfg.CatalogSyncQueue,
		"rate_limit_requests", cfg.RateLimitRequests,
		"rate_limit_window", cfg.RateLimitWindow,
		"request_timeout", cfg.RequestTimeout,
		"idempotency_ttl", cfg.IdempotencyTTL,
		"max_request_size", cfg.MaxRequestSize,
		"read_timeout", cfg.ReadTimeout,
		"write_timeout", cfg.WriteTimeout,
		"idle_timeout", cfg.IdleTimeout,
		"shutdown_timeout", cfg.ShutdownTimeout,
	)
}

func (cfg *Config) usesMongo() bool {
	return cfg.StorageBackend == BackendMongo || cfg.CatalogBackend == BackendMongo
}

// UsesMongo reports whether any configured backend needs a Mongo client.
func (cfg *Config) UsesMongo() bool {
	return cfg.usesMongo()
}

func redactURI(uri string) string {
	credentialRegex := regexp.MustCompile(`([a-z+]+://)[^:/@]+:[^@]+@`)
	return credentialRegex.ReplaceAllString(uri, "${1}***:***@")
}

func getEnvStr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvNum(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
