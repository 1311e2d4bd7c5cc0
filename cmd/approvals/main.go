package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/xela07ax/procurement-approvals/internal/api/handler"
	"github.com/xela07ax/procurement-approvals/internal/api/server"
	"github.com/xela07ax/procurement-approvals/internal/attachments"
	"github.com/xela07ax/procurement-approvals/internal/catalog"
	"github.com/xela07ax/procurement-approvals/internal/infra"
	"github.com/xela07ax/procurement-approvals/internal/infra/auth"
	"github.com/xela07ax/procurement-approvals/internal/notify"
	"github.com/xela07ax/procurement-approvals/internal/repository/memory"
	"github.com/xela07ax/procurement-approvals/internal/repository/postgres"
	"github.com/xela07ax/procurement-approvals/internal/roles"
	"github.com/xela07ax/procurement-approvals/internal/workflow"
)

const serviceName = "procurement-approvals"

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Контекст для фоновых горутин: SIGTERM -> cancel() остановит слушателей
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := workflow.NewMetrics(reg)

	checks := map[string]handler.Check{}

	// 2. Хранилище экземпляров
	var repo workflow.Repository
	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := postgres.NewPool(appCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pool.Close()
		pg := postgres.NewWorkflowRepo(pool)
		repo = pg
		checks["postgres"] = pg.Ping
	default:
		mem := memory.NewWorkflowRepo()
		repo = mem
		checks["storage"] = mem.Ping
		logger.Warn("using in-memory storage: workflows are lost on restart")
	}

	// 3. Redis (уведомления, вложения, кэш ролей, сигнал обновления каталога)
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	// 4. Каталог маршрутов + горячая перезагрузка
	defs, err := catalog.FromConfig(cfg.Viper)
	if err != nil {
		logger.Fatal("failed to read catalog", zap.Error(err))
	}
	cat, err := catalog.New(defs)
	if err != nil {
		logger.Fatal("invalid catalog", zap.Error(err))
	}
	reloader := catalog.NewReloader(cat, cfg.Viper, logger)
	if cfg.Catalog.Watch {
		reloader.Watch()
	}
	if rdb != nil {
		go reloader.Listen(appCtx, rdb)
	}

	// 5. Роли: кэш -> справочник (gRPC) -> статический реестр
	registry, err := roles.NewRegistry(cfg.Roles)
	if err != nil {
		logger.Fatal("invalid role overrides", zap.Error(err))
	}
	var directory roles.Resolver
	if cfg.Directory.Addr != "" {
		conn, err := grpc.NewClient(cfg.Directory.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			logger.Fatal("failed to dial role directory", zap.Error(err))
		}
		defer conn.Close()
		directory = roles.NewDirectoryClient(conn, cfg.Directory.Timeout)
	}
	resolver := roles.NewCachedResolver(directory, registry, rdb, cfg.Redis.RoleTTL, logger)

	// 6. Вложения: хранилище в обвязке (лимитер, предохранитель, ретраи) + отложенная выгрузка
	var blobs attachments.Store = attachments.NewMemoryStore()
	if rdb != nil {
		blobs = attachments.NewRedisStore(rdb)
	}
	store := attachments.NewReliableStore(blobs, attachments.ReliabilityConfig{
		MaxRequests:   cfg.Engine.CBMaxRequests,
		Interval:      cfg.Engine.CBInterval,
		Timeout:       cfg.Engine.CBTimeout,
		FailureStreak: cfg.Engine.CBFailureStreak,
		Attempts:      cfg.Engine.RetryAttempts,
		CallTimeout:   cfg.Engine.StoreCallTimeout,
		RatePerSecond: cfg.Engine.StoreRateLimit,
		Burst:         cfg.Engine.StoreBurst,
		OnStateChange: metrics.BreakerStateHook,
	})
	linker := attachments.NewDeferredLinker(store, attachments.LinkerConfig{
		BufferSize:    cfg.Engine.LinkerBufferSize,
		RetryInterval: cfg.Engine.LinkerRetryInterval,
		MaxAttempts:   cfg.Engine.LinkerMaxAttempts,
	}, logger)
	linker.OnResult = metrics.DeferredResultHook(linker.Pending)
	linker.Start()

	// 7. Уведомления
	var notifier workflow.Notifier = notify.NewLogPublisher(logger)
	if rdb != nil {
		notifier = notify.NewRedisPublisher(rdb)
	}

	// 8. Ядро
	svc := workflow.NewService(workflow.Deps{
		Repo:     repo,
		Catalog:  cat,
		Roles:    resolver,
		Store:    store,
		Queue:    linker,
		Notifier: notifier,
		Metrics:  metrics,

		InlineUploadTimeout: cfg.Engine.InlineUploadTimeout,
	}, logger)

	// 9. HTTP API
	opts := server.Options{
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	if cfg.Auth.Enabled() {
		pub, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			logger.Fatal("invalid auth public key", zap.Error(err))
		}
		opts.Validator = auth.NewRSAValidator(pub)
		logger.Info("identity binding enabled: bearer token required")
	}
	api := server.NewAPIServer(logger, opts,
		handler.NewWorkflowHandler(svc, logger),
		handler.NewReferenceHandler(cat, resolver),
		handler.NewHealthHandler(checks, logger),
	)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 10. gRPC health для проб инфраструктуры
	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	go func() {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
		if err != nil {
			logger.Fatal("failed to listen gRPC", zap.Error(err))
		}
		logger.Info("gRPC health server started", zap.Int("port", cfg.GRPC.Port))
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("gRPC server stopped", zap.Error(err))
		}
	}()

	// 11. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("approvals API started", zap.String("addr", srv.Addr), zap.String("storage", cfg.Storage.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("approvals service stopping...")
	healthSrv.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	grpcSrv.GracefulStop()

	// Новых переходов уже нет: гасим слушателей и дожимаем отложенные выгрузки
	cancel()
	linker.Stop()
	logger.Info("approvals service exited properly")
}
