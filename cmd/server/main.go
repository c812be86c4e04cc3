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

	"carvo/config"
	"carvo/internal/api"
	"carvo/internal/broker"
	"carvo/internal/models"
	"carvo/internal/notify"
	"carvo/internal/redisclient"
	"carvo/internal/service"
	"carvo/internal/store"
	"carvo/internal/store/memstore"
	"carvo/internal/util"
	"carvo/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting carvo service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer("carvo", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	checks := map[string]api.ReadinessCheck{}

	repo, closeRepo, err := openRepository(cfg, checks)
	if err != nil {
		logger.Fatal("Failed to open store", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer closeRepo()

	// Locks are optional: row locks and unique indexes still hold without Redis.
	var locker service.Locker
	if cfg.Redis.Enabled {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("Redis unavailable, running without distributed locks", zap.Error(err))
		} else {
			defer redisClient.Close()
			locker = redisClient
			checks["redis"] = redisClient.Ping
			logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
		}
	}

	ledger := service.NewLedgerService(repo, cfg.Business.PlatformAccountID, cfg.Business.CommissionRate)
	invoices := service.NewInvoiceService(repo, cfg.Business.InvoiceTaxRate, cfg.Business.InvoiceDueDays)
	orders := service.NewOrderService(repo, invoices, locker)
	payments := service.NewPaymentService(repo, ledger, service.PaymentSettings{
		MerchantVPA:   cfg.Business.UPIMerchantVPA,
		MerchantName:  cfg.Business.UPIMerchantName,
		WebhookSecret: cfg.Auth.WebhookSecret,
	})
	settlements := service.NewSettlementService(repo, ledger, locker)

	router := notify.NewRouter(notify.NewDispatcher(repo, notify.NewLogMailer()))

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var (
		sink               worker.EventSink
		notificationWorker *worker.NotificationWorker
	)
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
		defer producer.Close()
		sink = broker.NewEventPublisher(producer)

		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, cfg.Kafka.ConsumerGroup)
		notificationWorker = worker.NewNotificationWorker(consumer, repo, router)
		go func() {
			if err := notificationWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
				logger.Error("Notification worker error", zap.Error(err))
			}
		}()
		logger.Info("Kafka initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		notificationWorker = worker.NewNotificationWorker(nil, repo, router)
		sink = notificationWorker
		logger.Info("Kafka disabled, delivering events in-process")
	}

	relay, err := worker.NewOutboxRelay(worker.RelayParams{
		Store:        repo,
		Sink:         sink,
		BatchSize:    cfg.Outbox.BatchSize,
		PollInterval: time.Duration(cfg.Outbox.PollIntervalMS) * time.Millisecond,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		logger.Fatal("Failed to create outbox relay", zap.Error(err))
	}
	go func() {
		if err := relay.Run(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Outbox relay error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	handler := api.NewHandler(api.Services{
		Orders:      orders,
		Payments:    payments,
		Settlements: settlements,
		Invoices:    invoices,
		Ledger:      ledger,
	}, api.AuthConfig{
		JWTSecret: cfg.Auth.JWTSecret,
		JWTIssuer: cfg.Auth.JWTIssuer,
	}, checks)
	handler.SetupRoutes(engine)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: engine,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := notificationWorker.Stop(); err != nil {
		logger.Error("Error stopping notification worker", zap.Error(err))
	}

	logger.Info("Server exited")
}

// openRepository opens the configured store and registers its readiness check
func openRepository(cfg *config.Config, checks map[string]api.ReadinessCheck) (store.Repository, func(), error) {
	switch cfg.Database.Driver {
	case "memory":
		repo := memstore.New()
		repo.AddUser(models.User{
			ID:    cfg.Business.PlatformAccountID,
			Name:  "Carvo Platform",
			Email: "platform@carvo.local",
			Role:  models.RoleAdmin,
		})
		util.GetLogger().Warn("Using in-memory store; data is lost on restart")
		return repo, func() {}, nil

	case "postgres":
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Database.AutoMigrate {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := store.Migrate(ctx, db.GetDB().DB, "up"); err != nil {
				db.Close()
				return nil, nil, err
			}
		}
		checks["postgres"] = db.GetDB().PingContext
		util.GetLogger().Info("Database connected")
		return db, func() { db.Close() }, nil
	}

	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Database.Driver)
}
