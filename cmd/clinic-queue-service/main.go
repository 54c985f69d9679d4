package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qms/clinic-queue-service/internal/config"
	"qms/clinic-queue-service/internal/engine"
	"qms/clinic-queue-service/internal/httpapi"
	"qms/clinic-queue-service/internal/notify"
	"qms/clinic-queue-service/internal/registration"
	"qms/clinic-queue-service/internal/store"
	"qms/clinic-queue-service/internal/store/memory"
	"qms/clinic-queue-service/internal/store/postgres"
	"qms/clinic-queue-service/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "clinic-queue-service"

type backend interface {
	store.Store
	store.AccountStore
}

func main() {
	cfg := config.Load()
	shutdownTracing := telemetry.Setup(context.Background(), serviceName)

	var st backend
	if cfg.DatabaseURL == "" {
		log.Printf("DB_DSN not set, using in-memory store")
		st = memory.NewStore()
	} else {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connect: %v", err)
		}
		defer pool.Close()
		st = postgres.NewStore(pool)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Printf("redis ping error addr=%s: %v", cfg.RedisAddr, err)
		}
		cancel()
	}

	provider, err := notify.NewProvider(notify.ProviderConfig{
		Kind:         cfg.NotifyProvider,
		WebhookURL:   cfg.NotifyWebhookURL,
		WebhookToken: cfg.NotifyWebhookToken,
		AMQPURL:      cfg.NotifyAMQPURL,
		AMQPQueue:    cfg.NotifyAMQPQueue,
		Redis:        redisClient,
		RedisChannel: cfg.NotifyRedisChannel,
	})
	if err != nil {
		log.Fatalf("notify provider: %v", err)
	}

	eng := engine.New(st, notify.NewDispatcher(provider, nil), engine.Options{
		AllocationAttempts:          cfg.AllocationMaxAttempts,
		ExcludeTerminalFromCapacity: !cfg.CapacityCountTerminal,
		AvgServiceMinutes:           cfg.AvgServiceMinutes,
		NotifyTimeout:               cfg.NotifyTimeout,
		Location:                    cfg.PeriodLocation,
	})
	handler := httpapi.NewHandler(eng, registration.NewService(st, 0))
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:     cfg.RateLimitPerMinute,
		IPBurst:         cfg.RateLimitBurst,
		ClinicPerMinute: cfg.ClinicRateLimitPerMinute,
		ClinicBurst:     cfg.ClinicRateLimitBurst,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(httpapi.ActorMiddleware(handler.Routes()))), serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("%s listening on %s", serviceName, server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	eng.Wait()
	if err := shutdownTracing(ctx); err != nil {
		log.Printf("otel shutdown error: %v", err)
	}
}
