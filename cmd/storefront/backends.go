package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	chatapp "storefront/internal/app/handlers/chat"
	"storefront/internal/app/middleware"
	"storefront/internal/app/notify"
	domainauth "storefront/internal/domain/auth"
	"storefront/internal/domain/chat"
	domainuser "storefront/internal/domain/user"
	kafkakit "storefront/internal/infra/broker/kafka"
	rediskit "storefront/internal/infra/broker/redis"
	"storefront/internal/infra/config"
	"storefront/internal/infra/db/mongo"
	"storefront/internal/infra/db/postgres"
	"storefront/internal/infra/db/scylla"
	"storefront/internal/infra/obs"
	"storefront/internal/infra/queue"
	"storefront/internal/infra/realtime"
	"storefront/internal/infra/storage/memory"
	redisstore "storefront/internal/infra/storage/redis"
	"storefront/internal/infra/storage/s3"
)

type storeSet struct {
	chat        chat.Store
	users       domainuser.Repository
	idempotency middleware.IdempotencyStore
	sessions    domainauth.SessionStore
	checks      map[string]obs.ReadyCheck
	closers     []func()
}

func (s *storeSet) close(logger *slog.Logger) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	logger.Debug("stores closed")
}

func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (*storeSet, error) {
	set := &storeSet{
		idempotency: memory.NewIdempotencyStore(cfg.IdempotencyTTL),
		checks:      map[string]obs.ReadyCheck{},
	}

	var mongoClient *mongo.Client
	needMongo := cfg.StoreBackend == config.StoreMongo || cfg.UsersBackend == config.StoreMongo
	if needMongo {
		client, err := mongo.New(ctx, cfg.Mongo.URI, cfg.Mongo.DB)
		if err != nil {
			return nil, err
		}
		if err := client.EnsureIndexes(ctx, cfg.IdempotencyTTL); err != nil {
			_ = client.Close(context.Background())
			return nil, err
		}
		mongoClient = client
		set.closers = append(set.closers, func() { _ = client.Close(context.Background()) })
		set.checks["mongo"] = client.Ping
		set.idempotency = mongo.NewIdempotencyStore(client)
		logger.Info("mongo connected", "db", cfg.Mongo.DB)
	}

	var pg *postgres.ChatStore
	var pgUsers *postgres.UserRepository
	if cfg.StoreBackend == config.StorePostgres || cfg.UsersBackend == config.StorePostgres {
		pool, err := postgres.Connect(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			set.close(logger)
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			set.close(logger)
			return nil, err
		}
		set.closers = append(set.closers, pool.Close)
		set.checks["postgres"] = pool.Ping
		pg = postgres.NewChatStore(pool)
		pgUsers = postgres.NewUserRepository(pool)
		logger.Info("postgres connected")
	}

	switch cfg.StoreBackend {
	case config.StoreMemory:
		set.chat = memory.NewChatStore()
	case config.StoreMongo:
		set.chat = mongo.NewChatStore(mongoClient)
	case config.StorePostgres:
		set.chat = pg
	case config.StoreScylla:
		session, err := scylla.NewSession(ctx, cfg.Scylla, logger)
		if err != nil {
			set.close(logger)
			return nil, err
		}
		set.closers = append(set.closers, session.Close)
		store := scylla.NewChatStore(session, logger)
		set.chat = store
		set.checks["scylla"] = store.Ping
	default:
		set.close(logger)
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	switch cfg.UsersBackend {
	case config.StoreMemory:
		set.users = memory.NewUserRepository()
	case config.StoreMongo:
		set.users = mongo.NewUserRepository(mongoClient)
	case config.StorePostgres:
		set.users = pgUsers
	default:
		set.close(logger)
		return nil, fmt.Errorf("unknown users backend %q", cfg.UsersBackend)
	}

	switch cfg.SessionBackend {
	case config.SessionRedis:
		client, err := rediskit.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			set.close(logger)
			return nil, err
		}
		set.closers = append(set.closers, func() { _ = client.Close() })
		set.checks["sessions"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		set.sessions = redisstore.NewSessionStore(client, cfg.Redis.ChannelPrefix)
	default:
		set.sessions = memory.NewSessionStore()
	}
	return set, nil
}

type transportSet struct {
	publisher notify.Publisher
	retrier   notify.Retrier
	runners   []func(context.Context) error
	checks    map[string]obs.ReadyCheck
	closers   []func() error
}

func (t *transportSet) close(logger *slog.Logger) {
	for i := len(t.closers) - 1; i >= 0; i-- {
		if err := t.closers[i](); err != nil {
			logger.Warn("transport close failed", "error", err)
		}
	}
}

// openTransport selects the one publisher this process uses. Remote backends also get a
// bridge that feeds the local socket hub.
func openTransport(ctx context.Context, cfg config.Config, hub *realtime.Hub, logger *slog.Logger) (*transportSet, error) {
	set := &transportSet{checks: map[string]obs.ReadyCheck{}}

	switch cfg.NotifyBackend {
	case config.NotifyLocal:
		set.publisher = hub
	case config.NotifyMemory:
		bus := notify.NewMemoryBus()
		set.publisher = notify.PublisherFunc(func(ctx context.Context, event notify.Event) error {
			if err := bus.Publish(ctx, event); err != nil {
				return err
			}
			return hub.Publish(ctx, event)
		})
	case config.NotifyRedis:
		client, err := rediskit.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		set.closers = append(set.closers, client.Close)
		set.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		set.publisher = rediskit.NewPublisher(client, cfg.Redis.ChannelPrefix)
		bridge := rediskit.NewBridge(client, cfg.Redis.ChannelPrefix, hub, logger)
		set.runners = append(set.runners, bridge.Run)
	case config.NotifyKafka:
		producer, err := kafkakit.NewProducer(cfg.Kafka.Brokers, nil)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		set.closers = append(set.closers, producer.Close)
		set.publisher = kafkakit.NewPublisher(producer, cfg.Kafka.TopicPrefix)
		// each instance needs every event for its own sockets
		group := cfg.Kafka.ConsumerGroup + "-" + cfg.InstanceID
		consumer, err := kafkakit.NewConsumer(cfg.Kafka.Brokers, group, nil, kafkakit.BridgeHandler{Sink: hub, Logger: logger})
		if err != nil {
			set.close(logger)
			return nil, fmt.Errorf("kafka consumer: %w", err)
		}
		set.closers = append(set.closers, consumer.Close)
		topics := []string{kafkakit.NotificationsTopic(cfg.Kafka.TopicPrefix)}
		set.runners = append(set.runners, func(ctx context.Context) error { return consumer.Run(ctx, topics) })
	default:
		return nil, fmt.Errorf("unknown notify backend %q", cfg.NotifyBackend)
	}

	if cfg.Notify.RetryEnabled {
		opt, err := queue.RedisOpt(cfg.Redis.URL)
		if err != nil {
			set.close(logger)
			return nil, err
		}
		client := asynq.NewClient(opt)
		set.closers = append(set.closers, client.Close)
		set.retrier = queue.NewRetrier(client, cfg.Notify.MaxRetry)
		worker := queue.NewServer(opt, 4, queue.RedeliverHandler{Publisher: set.publisher, Logger: logger}, logger)
		set.runners = append(set.runners, worker.Run)
	}
	logger.Info("notification transport ready", "backend", cfg.NotifyBackend, "retry", cfg.Notify.RetryEnabled)
	return set, nil
}

func openUploader(cfg config.Config, logger *slog.Logger) (chatapp.Uploader, error) {
	if cfg.S3.Endpoint == "" {
		return s3.Disabled{}, nil
	}
	return s3.NewClient(s3.Config{
		Endpoint:       cfg.S3.Endpoint,
		PublicEndpoint: cfg.S3.PublicEndpoint,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		Bucket:         cfg.S3.Bucket,
		UseSSL:         cfg.S3.UseSSL,
	}, logger)
}
