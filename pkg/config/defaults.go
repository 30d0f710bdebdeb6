package config

import "time"

const (
	BackendMongo    = "mongo"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

const (
	DefaultPort      = "8080"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultRateLimitRequests = 60
	DefaultRateLimitWindow   = 1 * time.Minute

	DefaultRequestTimeout = 30 * time.Second
	DefaultIdempotencyTTL = 24 * time.Hour
	DefaultMaxRequestSize = 64 * 1024 // 64KB

	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultStorageBackend    = BackendMongo
	DefaultMongoURI          = "mongodb://localhost:27017/?replicaSet=rs0"
	DefaultMongoDatabaseName = "turnstile"
	DefaultMongoConnTimeout  = 10 * time.Second
	// LockTTL must stay at least twice RequestTimeout and ExpireTimeout, or
	// a slow transaction can lose its event lock to another instance.
	DefaultLockTTL           = 60 * time.Second
	DefaultLockRetryInterval = 25 * time.Millisecond

	DefaultCatalogBackend = BackendMongo

	DefaultOfferTTL              = 10 * time.Minute
	DefaultJoinAttemptLimit      = 5
	DefaultJoinAttemptWindow     = 10 * time.Minute
	DefaultExpirySweepSchedule   = "@every 30s"
	DefaultExpireTimeout         = 10 * time.Second
	DefaultRefundReopensCapacity = false

	DefaultKafkaEnabled           = false
	DefaultNotificationTopic      = "admission.notifications"
	DefaultNotificationBufferSize = 1024
	DefaultPaymentResultsTopic    = "payments.results"
	DefaultPaymentResultsGroup    = "turnstile-admission"

	DefaultCatalogSyncQueue = "turnstile.catalog"
)
