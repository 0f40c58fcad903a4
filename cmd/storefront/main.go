package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	cfg "github.com/sand/storefront-payments/backend/config"
	"github.com/sand/storefront-payments/backend/internal/cache"
	"github.com/sand/storefront-payments/backend/internal/core/ports"
	"github.com/sand/storefront-payments/backend/internal/handlers"
	"github.com/sand/storefront-payments/backend/internal/notify"
	"github.com/sand/storefront-payments/backend/internal/screening"
	"github.com/sand/storefront-payments/backend/internal/usecases"
	"github.com/sand/storefront-payments/backend/internal/usecases/repository"
	"github.com/sand/storefront-payments/backend/internal/workers"
	"github.com/sand/storefront-payments/backend/pkg/database"
)

// Server timeout constants.
const (
	readTimeoutSeconds     = 15
	writeTimeoutSeconds    = 15
	idleTimeoutSeconds     = 60
	shutdownTimeoutSeconds = 5

	producerBuffer = 256
)

func main() {
	time.Local = time.UTC

	// A missing .env is fine; the environment and config.toml still apply.
	_ = godotenv.Load()

	config, err := cfg.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	opts := &slog.HandlerOptions{Level: config.Log.Level}
	if config.App.Debug {
		opts.Level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, opts))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	logger.Warn("Starting application with configuration",
		"app", config.App.Name,
		"environment", config.App.Environment,
		"debug", config.App.Debug,
		"server_port", config.HTTP.Port,
		"redis", config.Redis.Addr,
		"kafka_brokers", config.Kafka.Brokers)

	pg, err := database.New(config,
		database.MaxPoolSize(config.DB.PoolMax),
		database.ConnTimeout(config.DB.ConnectTimeout),
		database.HealthCheckPeriod(config.DB.HealthCheckPeriod),
		database.Isolation(pgx.ReadCommitted),
	)
	if err != nil {
		logger.Error("postgres connection failed", "error", err)
		return
	}
	defer pg.Close()

	if err = database.Migrate(logger, config.DB.DatabaseURL, config.DB.MigrationsPath); err != nil {
		logger.Error("Failed to run database migrations", "error", err)
		return
	}

	// Repositories
	ordersRepository := repository.NewOrdersRepository(logger, pg)
	paymentsRepository := repository.NewPaymentsRepository(logger, pg)

	// Screening
	referencePattern := config.Payments.ReferencePattern
	if referencePattern == "" {
		referencePattern = ports.DefaultReferencePattern
	}
	checks, err := screening.NewLocalChecks(logger, referencePattern)
	if err != nil {
		logger.Error("Failed to initialize submission screening", "error", err)
		return
	}

	// Notifications
	hub := notify.NewHub(logger)
	channels := []notify.Channel{hub}

	if config.Mail.Host != "" {
		channels = append(channels, notify.NewEmailChannel(config))
	} else {
		logger.Warn("SMTP host not configured, email notifications disabled")
	}

	var producer *notify.Producer
	if len(config.Kafka.Brokers) > 0 {
		producer = notify.NewProducer(logger, config, producerBuffer)
		producer.Start(ctx)
		channels = append(channels, producer)
	} else {
		logger.Warn("Kafka brokers not configured, payment event stream disabled")
	}

	dispatcher := notify.NewDispatcher(logger, channels...)

	serviceOpts := []usecases.ReconciliationOption{usecases.WithNotifier(dispatcher)}

	if config.Redis.Addr != "" {
		rdb, err := cache.NewClient(ctx, config)
		if err != nil {
			logger.Warn("Redis unavailable, statistics will not be cached", "error", err)
		} else {
			defer rdb.Close()
			statsCache := cache.NewStatisticsCache(logger, rdb, time.Duration(config.Redis.StatsCacheTTL)*time.Second)
			serviceOpts = append(serviceOpts, usecases.WithStatisticsCache(statsCache))
		}
	}

	// Usecases
	reconciliationService := usecases.NewReconciliationService(logger,
		ordersRepository, paymentsRepository, pg.Transactor, checks, serviceOpts...)
	orderService := usecases.NewOrderService(logger, ordersRepository, config.Payments.DefaultMethod)

	// Workers
	reminder := workers.NewPaymentReminder(
		logger,
		reconciliationService,
		dispatcher,
		time.Duration(config.Workers.ReminderAfter)*time.Minute,
		time.Duration(config.Workers.ReminderInterval)*time.Minute,
	)
	if err = reminder.Start(ctx); err != nil {
		logger.Error("Failed to start payment reminder", "error", err)
		return
	}

	// Handlers
	guard := handlers.NewAccessGuard(logger, config.Auth.JWTSecret)
	httpHandler := handlers.NewHTTPHandler(logger, guard, reconciliationService, orderService, pg.Pool)
	wsHandler := handlers.NewWebSocketHandler(logger, guard, hub, config.HTTP.AllowedOrigins)

	router := mux.NewRouter()

	// Register WebSocket routes before HTTP routes
	wsHandler.RegisterRoutes(router)
	httpHandler.RegisterRoutes(router)

	c := cors.New(cors.Options{
		AllowedOrigins:   config.HTTP.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:         ":" + config.HTTP.Port,
		Handler:      c.Handler(router),
		ReadTimeout:  readTimeoutSeconds * time.Second,
		WriteTimeout: writeTimeoutSeconds * time.Second,
		IdleTimeout:  idleTimeoutSeconds * time.Second,
	}

	go func() {
		logger.Info("Starting server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
	defer cancel()

	if err = server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	if err = reminder.Stop(); err != nil {
		logger.Error("Failed to stop workers", "error", err)
	}

	hub.Close()
	dispatcher.Wait()

	stop()
	if producer != nil {
		producer.WaitClosed()
	}

	logger.Info("Server exited properly")
}
