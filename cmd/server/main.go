package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/fish-market/internal/adapter/blob"
	"github.com/rl1809/fish-market/internal/adapter/events"
	"github.com/rl1809/fish-market/internal/adapter/handler"
	"github.com/rl1809/fish-market/internal/adapter/storage"
	"github.com/rl1809/fish-market/internal/config"
	"github.com/rl1809/fish-market/internal/core/domain"
	"github.com/rl1809/fish-market/internal/core/service"
	"github.com/rl1809/fish-market/internal/metrics"
	"github.com/rl1809/fish-market/internal/port"
)

type eventPublisher interface {
	port.EventPublisher
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize SQL store and schema
	db, err := storage.OpenDB(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatal("failed to connect database", zap.String("driver", cfg.DBDriver), zap.Error(err))
	}
	if err := storage.RunMigrations(db, cfg.DBDriver); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("connected to database", zap.String("driver", cfg.DBDriver))
	sqlAdapter := storage.NewSQLAdapter(db)

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	redisAdapter := storage.NewRedisAdapter(rdb)
	cartCache := storage.NewRedisCartCache(rdb, logger)

	// Initialize cart store
	var (
		carts      port.CartRepository
		disconnect = func(context.Context) error { return nil }
	)
	switch cfg.CartStore {
	case "mongo":
		mdb, err := storage.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			logger.Fatal("failed to connect mongodb", zap.Error(err))
		}
		repo := storage.NewMongoCartRepository(mdb)
		if err := repo.CreateIndexes(ctx); err != nil {
			logger.Fatal("failed to create cart indexes", zap.Error(err))
		}
		carts = repo
		disconnect = mdb.Client().Disconnect
		logger.Info("connected to mongodb", zap.String("database", cfg.MongoDatabase))
	default:
		carts = storage.NewMemoryCartRepository()
		logger.Warn("using in-memory cart store, carts are lost on restart")
	}

	// Initialize events
	var publisher eventPublisher = events.NopPublisher{}
	if brokers := events.ParseBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		logger.Info("publishing payment events", zap.Strings("brokers", brokers), zap.String("topic", cfg.KafkaTopic))
	}

	slips, err := blob.NewLocalSlipStorage(cfg.UploadDir)
	if err != nil {
		logger.Fatal("failed to prepare upload dir", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	if cfg.SeedDemo {
		if err := seedCatalog(ctx, sqlAdapter); err != nil {
			logger.Fatal("failed to seed catalog", zap.Error(err))
		}
		logger.Info("seeded demo catalog")
	}

	// Initialize services
	catalogService := service.NewCatalogService(sqlAdapter)
	cartService := service.NewCartService(sqlAdapter, carts, cartCache, logger)
	checkoutService := service.NewCheckoutService(service.CheckoutDeps{
		Catalog:     sqlAdapter,
		Carts:       carts,
		Payments:    sqlAdapter,
		Slips:       slips,
		Idempotency: redisAdapter,
		Events:      publisher,
		Cache:       cartCache,
		Metrics:     m,
		Logger:      logger,
	}, cfg.MaxSlipBytes)
	paymentService := service.NewPaymentService(sqlAdapter, slips, publisher, logger)
	verifier := handler.NewTokenVerifier(cfg.JWTSecret)

	// Initialize gRPC server; slips travel inline and JSON inflates them
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(handler.AuthInterceptor(verifier)),
		grpc.MaxRecvMsgSize(int(cfg.MaxSlipBytes)*2),
	)
	handler.RegisterMarketplaceServer(grpcServer, handler.NewGRPCHandler(cartService, checkoutService, paymentService, logger))

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("port", cfg.GRPCPort), zap.Error(err))
	}

	go func() {
		logger.Info("gRPC server listening", zap.String("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(handler.HTTPDeps{
		Catalog:        catalogService,
		Carts:          cartService,
		Checkout:       checkoutService,
		Payments:       paymentService,
		Verifier:       verifier,
		Metrics:        m,
		Logger:         logger,
		SlipDir:        slips.Dir(),
		RequestTimeout: cfg.RequestTimeout,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           httpHandler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	// Close connections
	if err := publisher.Close(); err != nil {
		logger.Warn("failed to close event publisher", zap.Error(err))
	}
	if err := disconnect(shutdownCtx); err != nil {
		logger.Warn("failed to disconnect mongodb", zap.Error(err))
	}
	rdb.Close()
	db.Close()
	logger.Info("connections closed")
}

func seedCatalog(ctx context.Context, catalog *storage.SQLAdapter) error {
	items := []domain.CatalogItem{
		{ID: "atlantic-salmon", Name: "Atlantic Salmon", Price: decimal.RequireFromString("12.50"), Stock: 40, Description: "Whole fillet, farmed in Norway"},
		{ID: "yellowfin-tuna", Name: "Yellowfin Tuna", Price: decimal.RequireFromString("18.00"), Stock: 15, Description: "Sashimi grade loin steaks"},
		{ID: "sea-bass", Name: "Sea Bass", Price: decimal.RequireFromString("9.75"), Stock: 25, Description: "Line caught, cleaned and scaled"},
		{ID: "king-prawns", Name: "King Prawns", Price: decimal.RequireFromString("14.20"), Stock: 30, Description: "Raw, shell on, 500g pack"},
	}
	for _, item := range items {
		if err := catalog.SaveItem(ctx, item); err != nil {
			return err
		}
	}
	return nil
}
