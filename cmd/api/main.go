package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/MeltyDeays/AgroApp-sub000/internal/di"
	"github.com/MeltyDeays/AgroApp-sub000/internal/handlers"
	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/auth"
	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/config"
	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/events"
	pfirestore "github.com/MeltyDeays/AgroApp-sub000/internal/platform/firestore"
	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/idempotency"
	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/observability"
	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/secrets"
	"github.com/MeltyDeays/AgroApp-sub000/internal/repositories"
	firestoreRepo "github.com/MeltyDeays/AgroApp-sub000/internal/repositories/firestore"
	"github.com/MeltyDeays/AgroApp-sub000/internal/repositories/memory"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(os.Getenv("FARM_LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	fetcher := secrets.NewFetcher(
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithDefaultProject(firstNonEmpty(os.Getenv("FARM_FIREBASE_PROJECT_ID"), os.Getenv("GOOGLE_CLOUD_PROJECT"))),
	)
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Fatal("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	registry, idemStore, err := newStores(cfg)
	if err != nil {
		logger.Fatal("failed to initialise store", zap.Error(err), zap.String("backend", cfg.Store.Backend))
	}

	healthOpts := []handlers.HealthOption{
		handlers.WithHealthBuildInfo(handlers.BuildInfo{
			Version:     firstNonEmpty(os.Getenv("FARM_BUILD_VERSION"), "dev"),
			Environment: cfg.Security.Environment,
			StartedAt:   startedAt,
		}),
		handlers.WithHealthCheck("store", registry.Ping),
	}

	containerOpts := []di.Option{di.WithLogger(logger)}
	if topicName := strings.TrimSpace(cfg.PubSub.OrderEventsTopic); topicName != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := client.Topic(topicName)
		publisher, err := events.NewPubSubOrderPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		defer publisher.Stop()
		containerOpts = append(containerOpts, di.WithOrderEvents(publisher))
		healthOpts = append(healthOpts, handlers.WithHealthCheck("pubsub", func(ctx context.Context) error {
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("topic %s does not exist", topicName)
			}
			return nil
		}))
	} else {
		logger.Warn("order events topic not configured; lifecycle events are not published")
	}

	container, err := di.NewContainer(ctx, cfg, registry, containerOpts...)
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("store close error", zap.Error(err))
		}
	}()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	go runIdempotencyCleanup(cleanupCtx, idemStore, cfg.Idempotency, logger.Named("idempotency"))

	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders,
		handlers.WithApproverRoles(cfg.Security.ApproverRoles...),
		handlers.WithOrderMiddlewares(idempotency.Middleware(idemStore,
			idempotency.WithHeader(cfg.Idempotency.Header),
			idempotency.WithTTL(cfg.Idempotency.TTL),
			idempotency.WithLogger(logger.Named("idempotency")),
		)),
	)
	warehouseHandlers := handlers.NewWarehouseHandlers(authenticator, container.Services.Warehouses, cfg.Security.ApproverRoles...)
	productHandlers := handlers.NewProductHandlers(authenticator, container.Services.Catalog, cfg.Security.ApproverRoles...)

	projectID := firstNonEmpty(cfg.Firestore.ProjectID, cfg.Firebase.ProjectID)
	router := handlers.NewRouter(
		handlers.WithRequestTimeout(cfg.Server.WriteTimeout),
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithWarehouseRoutes(warehouseHandlers.Routes),
		handlers.WithProductRoutes(productHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("store", cfg.Store.Backend))
	go func() {
		serverLogger.Info("farm fulfillment api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// newStores builds the repository registry and the idempotency store on the same backend.
func newStores(cfg config.Config) (repositories.Registry, idempotency.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		return memory.New(), idempotency.NewMemoryStore(), nil
	case config.StoreBackendFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		registry, err := firestoreRepo.NewRegistry(provider)
		if err != nil {
			return nil, nil, err
		}
		idemStore, err := idempotency.NewFirestoreStore(provider)
		if err != nil {
			return nil, nil, err
		}
		return registry, idemStore, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}

func runIdempotencyCleanup(ctx context.Context, store idempotency.Store, cfg config.IdempotencyConfig, logger *zap.Logger) {
	if cfg.CleanupInterval <= 0 {
		logger.Info("idempotency cleanup disabled")
		return
	}
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.CleanupExpired(ctx, time.Now().UTC(), cfg.CleanupBatchSize)
			if err != nil {
				logger.Warn("idempotency cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Debug("idempotency keys expired", zap.Int("removed", removed))
			}
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}
