package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"petadopt/internal/app/idempotency"
	appoutbox "petadopt/internal/app/outbox"
	chatsvc "petadopt/internal/app/services/chat"
	domainchat "petadopt/internal/domain/chat"
	domainuser "petadopt/internal/domain/user"
	"petadopt/internal/infra/broker/kafka"
	"petadopt/internal/infra/config"
	mongodb "petadopt/internal/infra/db/mongo"
	ginserver "petadopt/internal/infra/http/gin"
	"petadopt/internal/infra/inbox"
	"petadopt/internal/infra/obs"
	outboxinfra "petadopt/internal/infra/outbox"
	"petadopt/internal/infra/profiles"
	"petadopt/internal/infra/realtime"
	"petadopt/internal/infra/security"
	s3storage "petadopt/internal/infra/storage/s3"
	"petadopt/internal/infra/storage/memory"
)

const profileCacheTTL = 5 * time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env, cfg.LogLevel)

	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.close(logger)

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{Checks: app.checks, Connections: app.connections}, app.handlers)

	var background sync.WaitGroup
	for _, job := range app.jobs {
		background.Add(1)
		go func(job backgroundJob) {
			defer background.Done()
			if err := job.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("background job stopped", "job", job.name, "error", err)
			}
		}(job)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "instance_id", cfg.InstanceID, "mongo", cfg.UseMongo(), "kafka", cfg.UseKafka())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		stop()
		background.Wait()
		os.Exit(1)
	}
	stop()
	background.Wait()
	logger.Info("HTTP server stopped")
}

type backgroundJob struct {
	name string
	run  func(ctx context.Context) error
}

type application struct {
	handlers    ginserver.Handlers
	checks      map[string]func(ctx context.Context) error
	connections func() int
	jobs        []backgroundJob
	closers     []func(ctx context.Context) error
}

func (a *application) close(logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			logger.Warn("resource close failed", "error", err)
		}
	}
}

type stores struct {
	conversations domainchat.ConversationRepository
	messages      domainchat.MessageRepository
	profiles      domainuser.Directory
	idempotency   idempotency.Store
	outbox        *outboxinfra.Store
	inbox         *inbox.Store
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	app := &application{checks: map[string]func(ctx context.Context) error{}}

	st, err := app.openStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	directory, err := profiles.NewCachedDirectory(st.profiles, cfg.ProfileCacheSize, profileCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("profile cache: %w", err)
	}

	svc := &chatsvc.Service{
		Conversations: st.conversations,
		Messages:      st.messages,
		Profiles:      directory,
		Encoder:       appoutbox.JSONEventEncoder{Origin: cfg.InstanceID},
		Logger:        logger.With("component", "chat"),
	}
	if cfg.UseKafka() {
		svc.Outbox = st.outbox
	}

	verifier, err := security.NewHMACVerifier(cfg.AccessTokenSecret)
	if err != nil {
		return nil, err
	}

	opts := realtime.Options{
		Chat:           svc,
		Verifier:       verifier,
		Logger:         logger.With("component", "realtime"),
		AuthTimeout:    cfg.AuthVerifyTimeout,
		SendQueue:      cfg.WSSendQueue,
		AllowedOrigins: cfg.CORSOrigins,
	}
	handler := &ginserver.ChatHandler{
		Chat:        svc,
		Idempotency: idempotency.Guard{Store: st.idempotency, Logger: logger.With("component", "idempotency")},
		Logger:      logger.With("component", "http"),
	}
	if cfg.PresignEnabled() {
		signer, err := s3storage.NewPresigner(cfg.S3Endpoint, cfg.S3UseSSL, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3PresignTTL, logger)
		if err != nil {
			return nil, err
		}
		opts.Signer = signer
		handler.Signer = signer
	}
	gateway := realtime.NewGateway(opts)
	handler.Realtime = gateway
	app.connections = gateway.ConnectionCount

	if cfg.UseKafka() {
		if err := app.startRelay(cfg, logger, st, gateway); err != nil {
			return nil, err
		}
	}

	app.handlers = ginserver.Handlers{
		Chat:           handler,
		Realtime:       gateway,
		AuthMiddleware: ginserver.AuthMiddleware{Verifier: verifier, Logger: logger}.Handle,
	}
	return app, nil
}

func (a *application) openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (stores, error) {
	if !cfg.UseMongo() {
		logger.Warn("MONGO_URI not set, chat data is kept in memory")
		return stores{
			conversations: memory.NewConversationRepository(),
			messages:      memory.NewMessageRepository(),
			profiles:      memory.NewProfileDirectory(),
			idempotency:   memory.NewIdempotencyStore(),
		}, nil
	}
	client, err := mongodb.New(cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return stores{}, fmt.Errorf("mongo connect: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	a.checks["mongo"] = client.Ping

	indexCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := client.EnsureIndexes(indexCtx); err != nil {
		return stores{}, fmt.Errorf("mongo indexes: %w", err)
	}
	idem := mongodb.NewIdempotencyStore(client.DB, cfg.IdempotencyTTL)
	box := outboxinfra.NewStore(client.DB)
	relayInbox := inbox.NewStore(client.DB, cfg.InstanceID, 0)
	for name, ensure := range map[string]func(context.Context) error{
		"idempotency": idem.EnsureIndexes,
		"outbox":      box.EnsureIndexes,
		"inbox":       relayInbox.EnsureIndexes,
	} {
		if err := ensure(indexCtx); err != nil {
			return stores{}, fmt.Errorf("mongo %s indexes: %w", name, err)
		}
	}
	logger.Info("mongo connected", "database", cfg.MongoDB)
	return stores{
		conversations: mongodb.NewConversationRepository(client.DB),
		messages:      mongodb.NewMessageRepository(client.DB),
		profiles:      mongodb.NewProfileRepository(client.DB),
		idempotency:   idem,
		outbox:        box,
		inbox:         relayInbox,
	}, nil
}

// startRelay publishes recorded chat events to Kafka and replays other instances' events
// into the local gateway.
func (a *application) startRelay(cfg config.Config, logger *slog.Logger, st stores, gateway *realtime.Gateway) error {
	producer, err := kafka.NewProducer(cfg.KafkaBrokers, "petadopt-"+cfg.InstanceID, nil)
	if err != nil {
		return fmt.Errorf("kafka producer: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return producer.Close() })

	worker := &outboxinfra.Worker{
		Store:       st.outbox,
		Producer:    producer,
		Interval:    cfg.OutboxPollInterval,
		TopicPrefix: cfg.KafkaTopicPrefix,
		ID:          cfg.InstanceID,
		Backoff:     cfg.RetryBackoff,
		Logger:      logger.With("component", "outbox"),
		Metrics:     obs.OutboxMetrics{},
	}
	a.jobs = append(a.jobs, backgroundJob{name: "outbox", run: worker.Run})

	relay := &kafka.Relay{InstanceID: cfg.InstanceID, Sink: gateway, Inbox: st.inbox, Logger: logger.With("component", "relay")}
	consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, kafka.GroupID(cfg.KafkaTopicPrefix, cfg.InstanceID), nil, relay, logger.With("component", "kafka"))
	if err != nil {
		return fmt.Errorf("kafka consumer: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return consumer.Close() })
	topic := outboxinfra.Topic(cfg.KafkaTopicPrefix, domainchat.EventMessageSent)
	a.jobs = append(a.jobs, backgroundJob{name: "relay", run: func(ctx context.Context) error {
		return consumer.Run(ctx, []string{topic})
	}})
	logger.Info("kafka relay configured", "topic", topic, "brokers", cfg.KafkaBrokers)
	return nil
}
