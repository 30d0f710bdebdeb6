package config

const (
	EnvPort      = "PORT"
	EnvLogLevel  = "LOG_LEVEL"
	EnvLogFormat = "LOG_FORMAT"

	EnvRateLimitRequests = "RATE_LIMIT_REQUESTS"
	EnvRateLimitWindow   = "RATE_LIMIT_WINDOW"

	EnvRequestTimeout = "REQUEST_TIMEOUT"
	EnvIdempotencyTTL = "IDEMPOTENCY_TTL"
	EnvMaxRequestSize = "MAX_REQUEST_SIZE"

	EnvReadTimeout     = "READ_TIMEOUT"
	EnvWriteTimeout    = "WRITE_TIMEOUT"
	EnvIdleTimeout     = "IDLE_TIMEOUT"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"

	EnvStorageBackend    = "STORAGE_BACKEND"
	EnvMongoURI          = "MONGO_URI"
	EnvMongoDatabaseName = "MONGO_DATABASE_NAME"
	EnvMongoConnTimeout  = "MONGO_CONN_TIMEOUT"
	EnvLockTTL           = "LOCK_TTL"
	EnvLockRetryInterval = "LOCK_RETRY_INTERVAL"

	EnvCatalogBackend = "CATALOG_BACKEND"
	EnvPostgresDSN    = "POSTGRES_DSN"

	EnvOfferTTL              = "OFFER_TTL"
	EnvJoinAttemptLimit      = "JOIN_ATTEMPT_LIMIT"
	EnvJoinAttemptWindow     = "JOIN_ATTEMPT_WINDOW"
	EnvExpirySweepSchedule   = "EXPIRY_SWEEP_SCHEDULE"
	EnvExpireTimeout         = "EXPIRE_TIMEOUT"
	EnvRefundReopensCapacity = "REFUND_REOPENS_CAPACITY"

	EnvKafkaEnabled           = "KAFKA_ENABLED"
	EnvNotificationTopic      = "NOTIFICATION_TOPIC"
	EnvNotificationDLQTopic   = "NOTIFICATION_DLQ_TOPIC"
	EnvNotificationBufferSize = "NOTIFICATION_BUFFER_SIZE"
	EnvPaymentResultsTopic    = "PAYMENT_RESULTS_TOPIC"
	EnvPaymentResultsGroup    = "PAYMENT_RESULTS_GROUP"
	EnvPaymentResultsDLQTopic = "PAYMENT_RESULTS_DLQ_TOPIC"

	EnvRabbitMQURL      = "RABBITMQ_URL"
	EnvCatalogSyncQueue = "CATALOG_SYNC_QUEUE"
)
