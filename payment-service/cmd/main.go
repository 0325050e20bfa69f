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

	"github.com/fjod/commerce-pipeline/payment-service/internal/gateway"
	paymentshttp "github.com/fjod/commerce-pipeline/payment-service/internal/http"
	"github.com/fjod/commerce-pipeline/payment-service/internal/repository"
	"github.com/fjod/commerce-pipeline/payment-service/internal/service"
	"github.com/fjod/commerce-pipeline/pkg/auth"
	"github.com/fjod/commerce-pipeline/pkg/broker"
	"github.com/fjod/commerce-pipeline/pkg/config"
	"github.com/fjod/commerce-pipeline/pkg/health"
	"github.com/fjod/commerce-pipeline/pkg/httpapi"
	"github.com/fjod/commerce-pipeline/pkg/logger"
	"github.com/fjod/commerce-pipeline/pkg/peer"
)

const serviceName = "payment-service"

type Config struct {
	HTTPPort          string
	GRPCPort          string
	DB                repository.Credentials
	JWTSecret         string
	RazorpayKeyID     string
	RazorpayKeySecret string
	RazorpayBaseURL   string
	GatewayTimeout    time.Duration
	OrderServiceURL   string
	PeerTimeout       time.Duration
	RequestTimeout    time.Duration
	ShutdownTimeout   time.Duration
	LogLevel          string
	Broker            config.Broker
}

func loadConfig() (*Config, error) {
	v, err := config.Load(config.Merge(config.BrokerDefaults(), map[string]any{
		"HTTP_PORT":           "3004",
		"GRPC_PORT":           "50054",
		"DB_HOST":             "localhost",
		"DB_PORT":             5432,
		"DB_USER":             "postgres",
		"DB_PASSWORD":         "postgres",
		"DB_NAME":             "payments",
		"DB_SSLMODE":          "disable",
		"MIGRATIONS_PATH":     "payment-service/internal/repository/migrations",
		"JWT_SECRET":          "",
		"RAZORPAY_KEY_ID":     "",
		"RAZORPAY_KEY_SECRET": "",
		"RAZORPAY_BASE_URL":   gateway.DefaultBaseURL,
		"GATEWAY_TIMEOUT":     "10s",
		"ORDER_SERVICE_URL":   "http://localhost:3003",
		"PEER_TIMEOUT":        "5s",
		"REQUEST_TIMEOUT":     "30s",
		"SHUTDOWN_TIMEOUT":    "10s",
		"LOG_LEVEL":           "info",
	}))
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		HTTPPort: v.GetString("HTTP_PORT"),
		GRPCPort: v.GetString("GRPC_PORT"),
		DB: repository.Credentials{
			Host:              v.GetString("DB_HOST"),
			Port:              v.GetInt("DB_PORT"),
			User:              v.GetString("DB_USER"),
			Password:          v.GetString("DB_PASSWORD"),
			DBName:            v.GetString("DB_NAME"),
			SSLMode:           v.GetString("DB_SSLMODE"),
			MigrationsDirPath: v.GetString("MIGRATIONS_PATH"),
		},
		JWTSecret:         v.GetString("JWT_SECRET"),
		RazorpayKeyID:     v.GetString("RAZORPAY_KEY_ID"),
		RazorpayKeySecret: v.GetString("RAZORPAY_KEY_SECRET"),
		RazorpayBaseURL:   v.GetString("RAZORPAY_BASE_URL"),
		GatewayTimeout:    v.GetDuration("GATEWAY_TIMEOUT"),
		OrderServiceURL:   v.GetString("ORDER_SERVICE_URL"),
		PeerTimeout:       v.GetDuration("PEER_TIMEOUT"),
		RequestTimeout:    v.GetDuration("REQUEST_TIMEOUT"),
		ShutdownTimeout:   v.GetDuration("SHUTDOWN_TIMEOUT"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		Broker:            config.BrokerFrom(v),
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.RazorpayKeyID == "" || cfg.RazorpayKeySecret == "" {
		return nil, errors.New("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required")
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
	log.Println("payment-service starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database setup
	repo, err := repository.NewRepository(&cfg.DB)
	if err != nil {
		log.Fatalf("Failed to connect to postgres: %v", err)
	}
	if err := repo.RunMigrations(&cfg.DB); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	bus, err := broker.New(cfg.Broker, serviceName, logg)
	if err != nil {
		log.Fatalf("Failed to create broker client: %v", err)
	}

	orders := peer.NewOrderClient(cfg.OrderServiceURL, peer.WithTimeout(cfg.PeerTimeout))
	gw := gateway.NewClient(cfg.RazorpayKeyID, cfg.RazorpayKeySecret,
		gateway.WithBaseURL(cfg.RazorpayBaseURL),
		gateway.WithTimeout(cfg.GatewayTimeout))
	payments := service.NewPaymentService(repo, orders, gw, bus, cfg.RazorpayKeySecret, logg)

	hs := health.NewServer(serviceName)
	hs.AddCheck("postgres", repo.Ping)
	hs.AddCheck("broker", func(ctx context.Context) error { return broker.Check(ctx, bus) })

	router := httpapi.NewRouter(logg, cfg.RequestTimeout, hs.HTTPHandler())
	router.Mount("/api/payments", paymentshttp.NewPaymentsHandler(payments, logg).Routes(auth.NewVerifier(cfg.JWTSecret)))
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
		log.Printf("Payments HTTP listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down payment service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server forced to shutdown: %v", err)
	}
	hs.Stop()
	if err := bus.Close(); err != nil {
		log.Printf("error closing broker: %v", err)
	}
	if err := repo.Close(); err != nil {
		log.Printf("error closing postgres: %v", err)
	}
	log.Println("Payment service stopped")
}
