package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/commerce-pipeline/notification-service/internal/dedupe"
	notificationshttp "github.com/fjod/commerce-pipeline/notification-service/internal/http"
	"github.com/fjod/commerce-pipeline/notification-service/internal/listener"
	"github.com/fjod/commerce-pipeline/notification-service/internal/store"
	"github.com/fjod/commerce-pipeline/pkg/auth"
	"github.com/fjod/commerce-pipeline/pkg/broker"
	"github.com/fjod/commerce-pipeline/pkg/config"
	"github.com/fjod/commerce-pipeline/pkg/health"
	"github.com/fjod/commerce-pipeline/pkg/httpapi"
	"github.com/fjod/commerce-pipeline/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const serviceName = "notification-service"

type Config struct {
	HTTPPort        string
	GRPCPort        string
	RedisAddr       string
	RedisPassword   string
	DedupeTTL       time.Duration
	DBPath          string
	MigrationsPath  string
	JWTSecret       string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string
	Broker          config.Broker
}

func loadConfig() (*Config, error) {
	v, err := config.Load(config.Merge(config.BrokerDefaults(), map[string]any{
		"HTTP_PORT":        "3006",
		"GRPC_PORT":        "50056",
		"REDIS_ADDR":       "localhost:6379",
		"REDIS_PASSWORD":   "",
		"DEDUPE_TTL":       "24h",
		"DB_PATH":          "notifications.db",
		"MIGRATIONS_PATH":  "notification-service/internal/store/migrations",
		"JWT_SECRET":       "",
		"REQUEST_TIMEOUT":  "10s",
		"SHUTDOWN_TIMEOUT": "10s",
		"LOG_LEVEL":        "info",
	}))
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		HTTPPort:        v.GetString("HTTP_PORT"),
		GRPCPort:        v.GetString("GRPC_PORT"),
		RedisAddr:       v.GetString("REDIS_ADDR"),
		RedisPassword:   v.GetString("REDIS_PASSWORD"),
		DedupeTTL:       v.GetDuration("DEDUPE_TTL"),
		DBPath:          v.GetString("DB_PATH"),
		MigrationsPath:  v.GetString("MIGRATIONS_PATH"),
		JWTSecret:       v.GetString("JWT_SECRET"),
		RequestTimeout:  v.GetDuration("REQUEST_TIMEOUT"),
		ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		Broker:          config.BrokerFrom(v),
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return cfg, nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logg := logger.New(serviceName, cfg.LogLevel)
	slog.SetDefault(logg)
	log.Println("notification-service starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifications, err := store.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open notification log: %v", err)
	}
	if err := notifications.RunMigrations(cfg.MigrationsPath); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Redis is optional: the deduper fails open while it is down.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	seen := dedupe.NewRedisDeduper(redisClient, cfg.DedupeTTL, logg)
	if err := seen.Ping(ctx); err != nil {
		log.Printf("Redis unavailable, duplicate suppression disabled until it recovers: %v", err)
	}

	bus, err := broker.New(cfg.Broker, serviceName, logg)
	if err != nil {
		log.Fatalf("Failed to create broker client: %v", err)
	}
	// A listener without a broker has nothing to do.
	if err := broker.Connect(ctx, bus); err != nil {
		log.Fatalf("Failed to connect to broker: %v", err)
	}

	l := listener.New(seen, listener.NewLogSender(logg), notifications, logg)
	if err := l.Register(ctx, bus); err != nil {
		log.Fatalf("Failed to subscribe: %v", err)
	}

	hs := health.NewServer(serviceName)
	hs.AddCheck("sqlite", notifications.Ping)
	hs.AddCheck("broker", func(ctx context.Context) error { return broker.Check(ctx, bus) })

	router := httpapi.NewRouter(logg, cfg.RequestTimeout, hs.HTTPHandler())
	router.Mount("/api/notifications", notificationshttp.NewNotificationsHandler(notifications, logg).Routes(auth.NewVerifier(cfg.JWTSecret)))
	srv := httpapi.NewServer(":"+cfg.HTTPPort, serviceName, router)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		log.Fatalf("Failed to listen: %v", err)
	}
	go func() {
		log.Printf("Health gRPC listening on :%s", cfg.GRPCPort)
		if err := hs.Serve(lis); err != nil {
			log.Fatalf("Failed to serve gRPC: %v", err)
		}
	}()
	go hs.Watch(ctx, 15*time.Second)

	go func() {
		log.Printf("Notification HTTP listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down notification service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server forced to shutdown: %v", err)
	}
	hs.Stop()
	if err := bus.Close(); err != nil {
		log.Printf("error closing broker: %v", err)
	}
	if err := redisClient.Close(); err != nil {
		log.Printf("error closing redis: %v", err)
	}
	if err := notifications.Close(); err != nil {
		log.Printf("error closing notification log: %v", err)
	}
	log.Println("Notification service stopped")
}
