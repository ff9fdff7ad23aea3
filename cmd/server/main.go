package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticket-service/config"
	"ticket-service/internal/api"
	"ticket-service/internal/broker"
	"ticket-service/internal/gateway"
	"ticket-service/internal/models"
	"ticket-service/internal/notify"
	"ticket-service/internal/redisclient"
	"ticket-service/internal/reference"
	"ticket-service/internal/service"
	"ticket-service/internal/store"
	"ticket-service/internal/util"
	"ticket-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// backend is everything the service needs from persistence
type backend interface {
	service.OrderStore
	service.EventCatalog
	service.LedgerStore
	worker.PendingLister
	Ping(ctx context.Context) error
	Close() error
}

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting ticket service")

	if cfg.Observ.JaegerEndpoint != "" {
		tp, err := util.InitTracer(cfg.Observ.ServiceName, cfg.Observ.JaegerEndpoint, cfg.Observ.SampleRatio)
		if err != nil {
			log.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				log.Printf("Error shutting down tracer: %v", err)
			}
		}()
	}

	db, err := openBackend(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer db.Close()
	checks := map[string]api.Pinger{"database": db}

	var (
		cache  service.StockCache
		locker worker.Locker
	)
	if cfg.Redis.Addr != "" {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		log.Println("Redis connected")

		cache = redisClient
		locker = redisClient
		checks["redis"] = redisClient
	}

	var events service.EventSink
	if len(cfg.Kafka.Brokers) > 0 {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrders)
		defer producer.Close()
		log.Println("Kafka producer initialized")

		events = broker.NewEventPublisher(producer)
	}

	paystack := gateway.NewClient(gateway.Config{
		BaseURL:           cfg.Gateway.BaseURL,
		SecretKey:         cfg.Gateway.SecretKey,
		CallbackBaseURL:   cfg.Gateway.CallbackBaseURL,
		Channels:          cfg.Gateway.Channels,
		Timeout:           cfg.Gateway.Timeout,
		MinorUnitExponent: cfg.Gateway.MinorUnitExponent,
	})

	mailer := notify.NewBrevoMailer(notify.BrevoConfig{
		APIURL:      cfg.Mail.APIURL,
		APIKey:      cfg.Mail.APIKey,
		SenderName:  cfg.Mail.SenderName,
		SenderEmail: cfg.Mail.SenderEmail,
	})
	channels := []notify.Channel{notify.NewReceiptChannel(mailer, cfg.Mail.ReceiptBaseURL)}
	if cfg.Mail.AdminEmail != "" {
		channels = append(channels, notify.NewAdminAlertChannel(mailer, cfg.Mail.AdminEmail))
	}
	dispatcher := notify.NewDispatcher(notify.Options{
		Workers:        cfg.Business.NotifyWorkers,
		QueueSize:      cfg.Business.NotifyQueueSize,
		ChannelTimeout: cfg.Business.NotifyChannelTimeout,
	}, channels...)
	dispatcher.Start()

	ledger := service.NewInventoryLedger(db, cache)
	if cache != nil && cfg.Business.InventorySyncOnBoot {
		if err := ledger.SyncInventoryToRedis(context.Background()); err != nil {
			logger.Warn("Failed to sync inventory to Redis", zap.Error(err))
		}
	}

	reconciler := service.NewReconciler(service.ReconcilerDeps{
		Orders:     db,
		Catalog:    db,
		Ledger:     ledger,
		Gateway:    paystack,
		Notifier:   dispatcher,
		Events:     events,
		References: reference.NewGenerator(cfg.Business.ReferencePrefix),
	}, service.ReconcilerConfig{
		DefaultCurrency:      cfg.Gateway.Currency,
		WebhookSecret:        cfg.Gateway.SecretKey,
		VerifyTimeout:        cfg.Gateway.VerifyTimeout,
		PublishTimeout:       cfg.Business.EventPublishTimeout,
		MaxReferenceAttempts: cfg.Business.MaxReferenceAttempts,
		MinorUnitExponent:    cfg.Gateway.MinorUnitExponent,
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	sweeper := worker.NewPendingSweeper(db, reconciler, locker, worker.SweeperConfig{
		Interval:  cfg.Business.SweeperInterval,
		MinAge:    cfg.Business.SweeperMinAge,
		BatchSize: cfg.Business.SweeperBatchSize,
	})
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		if err := sweeper.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Pending sweeper error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(reconciler, cfg.Server.AdminToken, checks)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Business.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	<-sweeperDone
	dispatcher.Stop()

	log.Println("Server exited")
}

func openBackend(cfg config.DatabaseConfig) (backend, error) {
	if cfg.Driver == "memory" {
		mem := store.NewMemoryStore()
		seedDemoEvent(mem)
		log.Println("Using in-memory store")
		return mem, nil
	}

	db, err := store.NewStore(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.RunMigrations {
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	log.Println("Database connected")
	return db, nil
}

// seedDemoEvent gives the in-memory store something to sell
func seedDemoEvent(mem *store.MemoryStore) {
	now := time.Now().UTC()
	mem.PutEvent(models.Event{
		ID:               "nye-2025",
		Title:            "New Year's Eve Gala",
		Date:             "2025-12-31",
		Time:             "20:00",
		Venue:            "Eko Hotel",
		Location:         "Victoria Island, Lagos",
		Price:            decimal.NewFromInt(5000),
		Currency:         "NGN",
		AvailableTickets: 500,
		Status:           models.EventStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
}
