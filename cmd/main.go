/**
 * @description
 * This is the main entry point for the booking service. It loads configuration, opens
 * the database pool, connects the message broker and Redis, builds the booking service,
 * starts the reclamation scheduler and the IPN consumer, and serves the HTTP API until
 * it receives a termination signal.
 *
 * @dependencies
 * - github.com/joho/godotenv, internal/config: configuration.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: order creation rate limiting.
 * - internal/api, internal/app, internal/scheduler, internal/store.
 * - pkg/rabbitmq, pkg/sslcommerz: external service communication.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rentopia/booking-service/internal/api"
	"github.com/rentopia/booking-service/internal/app"
	"github.com/rentopia/booking-service/internal/config"
	"github.com/rentopia/booking-service/internal/domain"
	"github.com/rentopia/booking-service/internal/scheduler"
	"github.com/rentopia/booking-service/internal/store"
	"github.com/rentopia/booking-service/pkg/rabbitmq"
	"github.com/rentopia/booking-service/pkg/sslcommerz"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file loaded; using process environment\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}
	loc := cfg.Location()
	log.Printf("level=info component=bootstrap msg=\"starting booking-service\" port=%s timezone=%s", cfg.ServerPort, loc)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	repository, closeRepository := openRepository(rootCtx, cfg)
	defer closeRepository()

	// Publisher stays interface-typed so a failed dial never yields a typed nil.
	var publisher rabbitmq.Publisher = &rabbitmq.EventProducerFallback{}
	var ipnPublisher rabbitmq.Publisher
	rabbitProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
	} else {
		defer rabbitProducer.Close()
		publisher = rabbitProducer
		ipnPublisher = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	gateway := sslcommerz.NewClient(sslcommerz.Options{
		StoreID:       cfg.SSLStoreID,
		StorePass:     cfg.SSLStorePass,
		PaymentAPI:    cfg.SSLPaymentAPI,
		ValidationAPI: cfg.SSLValidationAPI,
		IPNURL:        cfg.SSLIPNURL,
		SuccessURL:    cfg.SSLSuccessBackendURL,
		FailURL:       cfg.SSLFailBackendURL,
		CancelURL:     cfg.SSLCancelBackendURL,
		Timeout:       cfg.GatewayTimeout(),
	})

	bookingService := app.NewService(repository, gateway, publisher, app.Options{
		Location:             loc,
		GatewayTimeout:       cfg.GatewayTimeout(),
		OwnerEarningPercent:  cfg.OwnerEarningPercent,
		InvoiceBaseURL:       cfg.InvoiceBaseURL,
		EventsExchange:       cfg.EventsExchange,
		OrderCreatePerMinute: cfg.OrderCreateRateLimitPerMinute,
	})

	if redisClient := openRedis(cfg); redisClient != nil {
		defer redisClient.Close()
		bookingService.SetRateLimiter(app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix))
	}

	// Gateway notifications are validated off the request path when the broker is up.
	if ipnPublisher != nil {
		rabbitConsumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; validating notifications inline\" err=%v", err)
			ipnPublisher = nil
		} else {
			defer rabbitConsumer.Close()
			ipnConsumer := app.NewPaymentIPNConsumer(bookingService)
			bindings := map[string]func([]byte) bool{
				domain.RoutingPaymentIPNReceived: ipnConsumer.HandleMessage,
			}
			if err := rabbitConsumer.ConsumeWithBindings(rootCtx, cfg.EventsExchange, cfg.PaymentCallbackQueue, bindings); err != nil {
				log.Printf("level=warn component=bootstrap msg=\"ipn consumer start failed; validating notifications inline\" err=%v", err)
				ipnPublisher = nil
			}
		}
	}

	var cronScheduler *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("component", "scheduler")
		jobs := scheduler.NewJobs(repository, publisher, logger, scheduler.Options{
			Location:       loc,
			UnpaidOrderTTL: cfg.UnpaidOrderTTL(),
			EventsExchange: cfg.EventsExchange,
		})
		cronScheduler = scheduler.NewScheduler(jobs, logger, scheduler.Schedules{
			ExpireUnpaid:   cfg.ExpireUnpaidSchedule,
			DailyOccupancy: cfg.DailyOccupancySchedule,
		}, loc)
		if err := cronScheduler.Start(); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"scheduler start failed\" err=%v", err)
		}
	} else {
		log.Println("level=warn component=bootstrap msg=\"reclamation scheduler disabled\" env=SCHEDULER_ENABLED")
	}

	handlers := api.NewBookingHandlers(bookingService, api.HandlerOptions{
		Redirects: api.PaymentRedirects{
			SuccessURL: cfg.SSLSuccessFrontendURL,
			FailURL:    cfg.SSLFailFrontendURL,
			CancelURL:  cfg.SSLCancelFrontendURL,
		},
		IPNPublisher: ipnPublisher,
		Exchange:     cfg.EventsExchange,
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           api.NewRouter(handlers, cfg.JWTSecret, cfg.FrontendURL),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	if cronScheduler != nil {
		select {
		case <-cronScheduler.Stop().Done():
		case <-ctx.Done():
			log.Println("level=warn component=scheduler msg=\"jobs still running at shutdown deadline\"")
		}
	}
	cancelRoot()

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

// openRepository connects to PostgreSQL, or falls back to the in-memory store when no
// database is configured.
func openRepository(ctx context.Context, cfg config.Config) (store.Repository, func()) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"database url missing; using in-memory store\" env=DATABASE_URL")
		return store.NewMemoryRepository(), func() {}
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	log.Println("level=info component=bootstrap msg=\"database connected\"")
	return store.NewPostgresRepository(dbpool), dbpool.Close
}

func openRedis(cfg config.Config) *redis.Client {
	if cfg.OrderCreateRateLimitPerMinute <= 0 {
		return nil
	}
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; order rate limiting disabled\" env=REDIS_URL")
		return nil
	}
	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; order rate limiting disabled\" err=%v", err)
		return nil
	}
	client := redis.NewClient(redisOptions)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; order rate limiting disabled\" err=%v", err)
		client.Close()
		return nil
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return client
}
