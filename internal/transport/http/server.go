package http

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"unitalk/internal/cache"
	"unitalk/internal/config"
	"unitalk/internal/database"
	"unitalk/internal/handler"
	applog "unitalk/internal/logger"
	"unitalk/internal/metrics"
	"unitalk/internal/presence"
	"unitalk/internal/queue"
	appredis "unitalk/internal/redis"
	"unitalk/internal/repository"
	"unitalk/internal/repository/memory"
	"unitalk/internal/service"
	"unitalk/internal/translator"
	"unitalk/internal/transport/ws"
	"unitalk/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// repositories is the storage backend selected by STORE_DRIVER.
type repositories struct {
	users         repository.UserRepository
	contacts      repository.ContactRepository
	devices       repository.DeviceRepository
	conversations repository.ConversationRepository
	groups        repository.GroupRepository
	messages      repository.MessageRepository
}

func Run() error {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := applog.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("instance", cfg.InstanceID))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// 2. Storage
	repos, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. Redis (optional)
	var rdb *appredis.Client
	if cfg.RedisURL != "" {
		rdb, err = appredis.NewClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to create redis client: %w", err)
		}
		defer rdb.Close()
		if err := rdb.Ping(ctx); err != nil {
			return err
		}
		logger.Info("Connected to redis")
	} else {
		logger.Warn("REDIS_URL not set, presence and fanout are local to this instance")
	}

	// 4. Services
	devices := service.NewDeviceService(repos.devices, repos.users, logger)
	conversations := service.NewConversationService(repos.conversations, repos.groups, repos.users, repos.messages, logger)

	var (
		markers          presence.MarkerStore = presence.NewMemoryMarkerStore()
		bus              presence.Bus         = presence.NewLocalBus()
		translationCache cache.TranslationCache
	)
	if rdb != nil {
		markers = presence.NewRedisMarkerStore(rdb.Client)
		bus = presence.NewRedisBus(rdb.Client, presence.DefaultBusChannel, cfg.InstanceID, logger)
		translationCache = cache.NewTranslationCache(rdb.Client, cfg.TranslationCacheTTL, logger)
	} else {
		translationCache = cache.NewMemoryTranslationCache(cfg.TranslationCacheTTL)
	}

	var engine translator.Translator = translator.NewSimpleTranslator()
	if cfg.OpenAIAPIKey != "" {
		engine = translator.NewGPTTranslator(cfg.OpenAIAPIKey, cfg.OpenAIModel, logger)
	} else {
		logger.Warn("OPENAI_API_KEY not set, using the tagging translator")
	}
	translation := service.NewTranslationService(engine, translationCache, cfg.TranslationConcurrency, m, logger)

	registry := presence.NewRegistry(devices, repos.contacts, markers, bus, m, logger)
	if err := registry.Start(ctx); err != nil {
		return fmt.Errorf("failed to start presence registry: %w", err)
	}

	pushSender, stopPush, err := startPush(ctx, cfg, rdb, m, logger)
	if err != nil {
		return err
	}
	defer stopPush()

	push := service.NewPushService(devices, pushSender, logger)
	dispatcher := service.NewDispatcher(conversations, translation, repos.messages, repos.users, registry, registry, push, m, logger)
	receipts := service.NewReceiptService(repos.messages, conversations, registry, m, logger)
	history := service.NewMessageService(repos.messages, repos.users, conversations)

	// 5. Transport
	socket := ws.NewHandler(ws.Config{
		JWTSecret:          cfg.JWTSecret,
		SendBuffer:         cfg.WSSendBuffer,
		InsecureSkipVerify: cfg.IsDevelopment(),
	}, ws.Services{
		Devices:       devices,
		Conversations: conversations,
		Dispatcher:    dispatcher,
		Receipts:      receipts,
		Registry:      registry,
	}, logger)

	router := NewRouter(RouterConfig{
		DeviceHandler:       handler.NewDeviceHandler(devices, registry, logger),
		ConversationHandler: handler.NewConversationHandler(conversations, history, dispatcher, logger),
		MessageHandler:      handler.NewMessageHandler(receipts, logger),
		GroupHandler:        handler.NewGroupHandler(conversations, dispatcher, logger),
		SocketHandler:       socket,
		MetricsHandler:      m.Handler(),
		JWTSecret:           cfg.JWTSecret,
	})

	srv := &stdhttp.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	dispatcher.Wait()
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*repositories, func(), error) {
	if cfg.StoreDriver == config.StoreMemory {
		logger.Warn("Using the in-memory store, data is lost on restart")
		store := memory.NewStore()
		return &repositories{
			users:         memory.NewUserRepository(store),
			contacts:      memory.NewContactRepository(store),
			devices:       memory.NewDeviceRepository(store),
			conversations: memory.NewConversationRepository(store),
			groups:        memory.NewGroupRepository(store),
			messages:      memory.NewMessageRepository(store),
		}, func() {}, nil
	}

	db, err := database.Connect(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &repositories{
		users:         repository.NewUserRepository(db),
		contacts:      repository.NewContactRepository(db),
		devices:       repository.NewDeviceRepository(db),
		conversations: repository.NewConversationRepository(db),
		groups:        repository.NewGroupRepository(db),
		messages:      repository.NewMessageRepository(db),
	}, func() { db.Close() }, nil
}

// startPush builds the provider router. With Redis, sends are queued on the
// push stream and delivered by the worker manager; without it they go straight
// to the providers.
func startPush(ctx context.Context, cfg *config.Config, rdb *appredis.Client, m *metrics.Metrics, logger *zap.Logger) (service.PushSender, func(), error) {
	var fcm, expo service.PushSender
	if cfg.FirebaseConfigured() {
		client, err := service.NewFCMClient(ctx, cfg.FirebaseProjectID, cfg.FirebaseClientEmail, cfg.FirebasePrivateKey, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create FCM client: %w", err)
		}
		fcm = client
	} else {
		logger.Warn("Firebase credentials not set, FCM push disabled")
	}
	if cfg.ExpoPushEnabled {
		expo = service.NewExpoPushClient(logger)
	}
	router := service.NewPushRouter(fcm, expo, m, logger)

	if rdb == nil {
		return router, func() {}, nil
	}

	managerCfg := worker.DefaultManagerConfig()
	managerCfg.WorkerCount = cfg.PushWorkerCount
	managerCfg.ConsumerName = cfg.InstanceID
	manager := worker.NewManager(
		queue.NewConsumer(rdb.Client, logger),
		worker.NewHandler(router, logger),
		managerCfg,
		logger,
	)
	if err := manager.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to start push workers: %w", err)
	}
	return queue.NewPushQueue(queue.NewPublisher(rdb.Client, logger)), manager.Stop, nil
}
