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

	ordershttp "github.com/fjod/commerce-pipeline/orders-service/internal/http"
	"github.com/fjod/commerce-pipeline/orders-service/internal/repository"
	"github.com/fjod/commerce-pipeline/orders-service/internal/service"
	"github.com/fjod/commerce-pipeline/pkg/auth"
	"github.com/fjod/commerce-pipeline/pkg/broker"
	"github.com/fjod/commerce-pipeline/pkg/config"
	"github.com/fjod/commerce-pipeline/pkg/health"
	"github.com/fjod/commerce-pipeline/pkg/httpapi"
	"github.com/fjod/commerce-pipeline/pkg/logger"
	"github.com/fjod/commerce-pipeline/pkg/peer"
)

const serviceName = "orders-service"

type Config struct {
	HTTPPort          string
	GRPCPort          string
	Mongo             repository.MongoConfig
	JWTSecret         string
	CartServiceURL    string
	ProductServiceURL string
	PeerTimeout       time.Duration
	RequestTimeout    time.Duration
	ShutdownTimeout   time.Duration
	LogLevel          string
	Broker            config.Broker
}

func loadConfig() (*Config, error) {
	v, err := config.Load(config.Merge(config.BrokerDefaults(), map[string]any{
		"HTTP_PORT":           "3003",
		"GRPC_PORT":           "50055",
		"MONGO_URI":           "mongodb://localhost:27017",
		"MONGO_DATABASE":      "orders",
		"MONGO_MAX_POOL_SIZE": 100,
		"MONGO_MIN_POOL_SIZE": 10,
		"MONGO_CONN_TIMEOUT":  "10s",
		"JWT_SECRET":          "",
		"CART_SERVICE_URL":    "http://localhost:3002",
		"PRODUCT_SERVICE_URL": "http://localhost:3001",
		"PEER_TIMEOUT":        "5s",
		"REQUEST_TIMEOUT":     "30s",
		"SHUTDOWN_TIMEOUT":    "10s",
		"LOG_LEVEL":           "info",
	}))
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		HTTPPort:          v.GetString("HTTP_PORT"),
		GRPCPort:          v.GetString("GRPC_PORT"),
		JWTSecret:         v.GetString("JWT_SECRET"),
		CartServiceURL:    v.GetString("CART_SERVICE_URL"),
		ProductServiceURL: v.GetString("PRODUCT_SERVICE_URL"),
		PeerTimeout:       v.GetDuration("PEER_TIMEOUT"),
		RequestTimeout:    v.GetDuration("REQUEST_TIMEOUT"),
		ShutdownTimeout:   v.GetDuration("SHUTDOWN_TIMEOUT"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		Broker:            config.BrokerFrom(v),
	}
	cfg.Mongo = repository.MongoConfig{
		URI:            v.GetString("MONGO_URI"),
		Database:       v.GetString("MONGO_DATABASE"),
		MaxPoolSize:    v.GetUint64("MONGO_MAX_POOL_SIZE"),
		MinPoolSize:    v.GetUint64("MONGO_MIN_POOL_SIZE"),
		ConnectTimeout: v.GetDuration("MONGO_CONN_TIMEOUT"),
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
	log.Println("orders-service starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database setup
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	db, err := repository.ConnectMongoDB(connectCtx, cfg.Mongo)
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	repo := repository.NewMongoRepository(db)
	if err := repository.EnsureIndexes(ctx, repo); err != nil {
		log.Fatalf("Failed to create indexes: %v", err)
	}

	// Broker connects lazily on first publish. During an outage each event publish
	// gives up after broker.BestEffortTimeout and the order is still returned.
	bus, err := broker.New(cfg.Broker, serviceName, logg)
	if err != nil {
		log.Fatalf("Failed to create broker client: %v", err)
	}

	cart := peer.NewCartClient(cfg.CartServiceURL, peer.WithTimeout(cfg.PeerTimeout))
	catalog := peer.NewCatalogClient(cfg.ProductServiceURL, peer.WithTimeout(cfg.PeerTimeout))
	orders := service.NewOrderService(repo, cart, catalog, bus, logg)

	hs := health.NewServer(serviceName)
	hs.AddCheck("mongodb", repo.Ping)
	hs.AddCheck("broker", func(ctx context.Context) error { return broker.Check(ctx, bus) })

	router := httpapi.NewRouter(logg, cfg.RequestTimeout, hs.HTTPHandler())
	router.Mount("/api/orders", ordershttp.NewOrdersHandler(orders, logg).Routes(auth.NewVerifier(cfg.JWTSecret)))
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
		log.Printf("Orders HTTP listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down orders service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server forced to shutdown: %v", err)
	}
	hs.Stop()
	if err := bus.Close(); err != nil {
		log.Printf("error closing broker: %v", err)
	}
	if err := repo.Close(shutdownCtx); err != nil {
		log.Printf("error closing MongoDB: %v", err)
	}
	log.Println("Orders service stopped")
}
