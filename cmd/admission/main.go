package main

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"

	"turnstile/internal/admission/handler"
	"turnstile/internal/admission/repository"
	"turnstile/internal/admission/scheduler"
	"turnstile/internal/admission/service"
	"turnstile/internal/admission/validator"
	"turnstile/internal/catalog"
	"turnstile/internal/notify"
	"turnstile/internal/payment"
	"turnstile/pkg/app"
	"turnstile/pkg/clock"
	"turnstile/pkg/config"
	pkgmongo "turnstile/pkg/db/mongo"
	"turnstile/pkg/db/postgres"
	"turnstile/pkg/kafka"
	kafka_config "turnstile/pkg/kafka/config"
	kafka_middleware "turnstile/pkg/kafka/middleware"
	"turnstile/pkg/rabbitmq"
	"turnstile/pkg/ratelimit"
)

const ServiceName = "turnstile-admission"

type messagingStats struct {
	Kafka         *kafka_middleware.Snapshot `json:"kafka,omitempty"`
	Notifications notify.Stats               `json:"notifications"`
}

type components struct {
	cfg         *config.Config
	mongoClient *mongo.Client
	kafkaCfg    *kafka_config.Config
	metrics     *kafka_middleware.Metrics

	store      repository.Store
	catalog    catalog.Catalog
	validator  *validator.AdmissionValidator
	guard      *ratelimit.SlidingWindow
	timers     *scheduler.Scheduler
	dispatcher *notify.Dispatcher
	producer   *kafka.Producer
	publisher  *rabbitmq.Publisher
	refunds    *payment.RefundRequester

	paymentConsumer *kafka.Consumer
	catalogConsumer *rabbitmq.Consumer

	// closers release storage clients after everything else has stopped.
	closers []app.ShutdownHook
}

func main() {
	cfg := config.Load(ServiceName)
	cfg.Log.Info("Starting admission service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &components{cfg: cfg}
	clk := clock.Real()

	c.connectStorage(ctx)
	c.validator = validator.NewAdmissionValidator(cfg.Log)

	c.guard = ratelimit.NewSlidingWindow(cfg.JoinAttemptLimit, cfg.JoinAttemptWindow, clk)
	c.guard.StartCleanup(cfg.JoinAttemptWindow)

	c.timers = scheduler.New(clk, c.store, scheduler.Config{
		SweepSchedule: cfg.ExpirySweepSchedule,
		ExpireTimeout: cfg.ExpireTimeout,
		Log:           cfg.Log.With("component", "scheduler"),
	})

	c.initMessaging()

	deps := service.Dependencies{
		Store:     c.store,
		Catalog:   c.catalog,
		Timers:    c.timers,
		Guard:     c.guard,
		Notifier:  c.dispatcher,
		Validator: c.validator,
		Clock:     clk,
	}
	if c.refunds != nil {
		deps.Refunds = c.refunds
	}
	admissionService := service.NewAdmissionService(deps, cfg)

	c.timers.Bind(admissionService.Expire)
	if err := c.timers.Recover(ctx); err != nil {
		cfg.Log.Fatal("Failed to recover offer timers", "error", err)
	}
	if err := c.timers.Start(); err != nil {
		cfg.Log.Fatal("Failed to start offer sweep", "error", err)
	}

	c.startConsumers(ctx, admissionService)

	serverApp := app.NewApplication(cfg)
	c.registerShutdown(serverApp, cancel)
	serverApp.SetApp(
		handler.NewAdmissionHandler(admissionService, cfg.Log),
		handler.NewHealthHandler(c.store, c.messagingStats, cfg.Log),
	)
	serverApp.Run()
}

func (c *components) connectStorage(ctx context.Context) {
	cfg := c.cfg

	if cfg.UsesMongo() {
		client, err := pkgmongo.Connect(ctx, cfg)
		if err != nil {
			cfg.Log.Fatal("MongoDB unavailable", "error", err)
		}
		c.mongoClient = client
		c.closers = append(c.closers, app.ShutdownHook{Name: "mongodb", Fn: func(context.Context) error {
			return pkgmongo.Disconnect(client, cfg.ShutdownTimeout)
		}})
	}

	if cfg.StorageBackend == config.BackendMemory {
		cfg.Log.Warn("Using in-memory admission store, state is lost on restart")
		c.store = repository.NewMemoryStore()
	} else {
		c.store = repository.NewMongoStore(c.mongoClient, cfg)
	}

	switch cfg.CatalogBackend {
	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.PostgresDSN, cfg.Log)
		if err != nil {
			cfg.Log.Fatal("PostgreSQL unavailable", "error", err)
		}
		pgCatalog := catalog.NewPostgresCatalog(pool)
		if err := pgCatalog.EnsureSchema(ctx); err != nil {
			cfg.Log.Fatal("Failed to prepare catalog schema", "error", err)
		}
		c.closers = append(c.closers, app.ShutdownHook{Name: "postgres", Fn: func(context.Context) error {
			pool.Close()
			return nil
		}})
		c.catalog = pgCatalog
	case config.BackendMemory:
		cfg.Log.Warn("Using in-memory event catalog, events arrive only through catalog sync")
		c.catalog = catalog.NewMemoryCatalog()
	default:
		c.catalog = catalog.NewMongoCatalog(c.mongoClient, cfg)
	}
}

// initMessaging builds the outbound side: notifications over Kafka (or the
// log when Kafka is off) and refund instructions over RabbitMQ.
func (c *components) initMessaging() {
	cfg := c.cfg

	if cfg.RabbitMQURL != "" {
		publisher, err := rabbitmq.NewPublisher(cfg.RabbitMQURL, cfg.Log)
		if err != nil {
			cfg.Log.Fatal("RabbitMQ publisher unavailable", "error", err)
		}
		c.publisher = publisher
		c.refunds = payment.NewRefundRequester(publisher, cfg.Log)
	} else {
		cfg.Log.Warn("RabbitMQ disabled, refunds are not requested and catalog sync is off")
	}

	if !cfg.KafkaEnabled {
		c.dispatcher = notify.NewDispatcher(notify.NewLogSink(cfg.Log), cfg.NotificationBufferSize, cfg.Log)
		return
	}

	kafkaCfg, err := kafka_config.Load()
	if err != nil {
		cfg.Log.Fatal("Invalid Kafka configuration", "error", err)
	}
	kafkaCfg.LogConfiguration(cfg.Log)
	c.kafkaCfg = kafkaCfg
	c.metrics = kafka_middleware.NewMetrics()

	producer, err := kafka.NewProducer(kafkaCfg, cfg.NotificationTopic, cfg.NotificationDLQTopic, cfg.Log)
	if err != nil {
		cfg.Log.Fatal("Kafka producer unavailable", "topic", cfg.NotificationTopic, "error", err)
	}
	producer.Use(c.metrics.ProducerMiddleware())
	producer.Use(kafka_middleware.LoggingProducerMiddleware(cfg.Log))
	c.producer = producer

	c.dispatcher = notify.NewDispatcher(notify.NewKafkaSink(producer), cfg.NotificationBufferSize, cfg.Log)
}

func (c *components) startConsumers(ctx context.Context, admissionService service.AdmissionService) {
	cfg := c.cfg

	if c.kafkaCfg != nil {
		if c.refunds == nil {
			cfg.Log.Fatal("Payment results need RabbitMQ to refund lapsed payments", "topic", cfg.PaymentResultsTopic)
		}
		results := payment.NewResultHandler(admissionService, c.refunds, c.validator, cfg.Log)
		consumer, err := kafka.NewConsumer(c.kafkaCfg, cfg.PaymentResultsTopic, cfg.PaymentResultsGroup,
			cfg.PaymentResultsDLQTopic, results.Handle, cfg.Log)
		if err != nil {
			cfg.Log.Fatal("Kafka consumer unavailable", "topic", cfg.PaymentResultsTopic, "error", err)
		}
		consumer.Use(c.metrics.ConsumerMiddleware())
		consumer.Use(kafka_middleware.LoggingConsumerMiddleware(cfg.Log))
		c.paymentConsumer = consumer

		go func() {
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				cfg.Log.Error("Payment results consumer stopped", "error", err)
			}
		}()
	}

	if cfg.RabbitMQURL != "" {
		syncer := catalog.NewSyncer(c.catalog, admissionService, c.validator, cfg.Log)
		consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, cfg.CatalogSyncQueue, catalog.BindingKey, cfg.Log)
		if err != nil {
			cfg.Log.Fatal("RabbitMQ consumer unavailable", "queue", cfg.CatalogSyncQueue, "error", err)
		}
		if err := consumer.Start(ctx, syncer.Handle); err != nil {
			cfg.Log.Fatal("Failed to start catalog sync", "error", err)
		}
		c.catalogConsumer = consumer
	}
}

// registerShutdown orders teardown so nothing is used after it closes:
// inbound consumers, then timers, then outbound channels, then storage.
func (c *components) registerShutdown(serverApp *app.Application, cancel context.CancelFunc) {
	if c.paymentConsumer != nil {
		serverApp.OnShutdown("payment-results-consumer", func(context.Context) error {
			return c.paymentConsumer.Close()
		})
	}
	if c.catalogConsumer != nil {
		serverApp.OnShutdown("catalog-sync-consumer", func(context.Context) error {
			c.catalogConsumer.Close()
			return nil
		})
	}
	serverApp.OnShutdown("offer-scheduler", func(context.Context) error {
		c.timers.Stop()
		return nil
	})
	serverApp.OnShutdown("notifications", c.dispatcher.Close)
	if c.producer != nil {
		serverApp.OnShutdown("kafka-producer", func(context.Context) error {
			return c.producer.Close()
		})
	}
	if c.publisher != nil {
		serverApp.OnShutdown("rabbitmq-publisher", func(context.Context) error {
			c.publisher.Close()
			return nil
		})
	}
	serverApp.OnShutdown("attempt-guard", func(context.Context) error {
		c.guard.Stop()
		cancel()
		return nil
	})
	for _, hook := range c.closers {
		serverApp.OnShutdown(hook.Name, hook.Fn)
	}
}

func (c *components) messagingStats() any {
	stats := messagingStats{Notifications: c.dispatcher.Stats()}
	if c.metrics != nil {
		snapshot := c.metrics.Snapshot()
		stats.Kafka = &snapshot
	}
	return stats
}
