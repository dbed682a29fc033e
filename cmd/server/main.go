package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cravvr/config"
	"cravvr/internal/api"
	"cravvr/internal/auth"
	"cravvr/internal/broker"
	"cravvr/internal/payments"
	"cravvr/internal/realtime"
	"cravvr/internal/redisclient"
	"cravvr/internal/service"
	"cravvr/internal/store"
	"cravvr/internal/util"
	"cravvr/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, "server"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	if err := cfg.ValidateSecrets(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	logger.Info("Starting cravvr order service")

	tp, err := util.InitTracer("cravvr-orders", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = db.Migrate(migrateCtx)
	migrateCancel()
	if err != nil {
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	eventPublisher := broker.NewEventPublisher(producer)
	hub := realtime.NewHub(redisClient.GetClient())

	feePercent, err := payments.ParseFeePercent(cfg.Payments.FeePercent)
	if err != nil {
		logger.Fatal("Invalid platform fee", zap.Error(err))
	}

	var provider interface {
		payments.Provider
		payments.WebhookParser
	}
	if cfg.Payments.StripeSecretKey != "" {
		provider = payments.NewStripeProvider(cfg.Payments.StripeSecretKey, cfg.Payments.StripeWebhookSecret)
	} else {
		if cfg.Server.Env == "production" {
			logger.Fatal("STRIPE_SECRET_KEY is required in production")
		}
		logger.Warn("STRIPE_SECRET_KEY not set, using sandbox payment provider")
		provider = payments.NewSandboxProvider()
	}

	paymentService := service.NewPaymentService(db, provider, provider, redisClient, eventPublisher, service.PaymentConfig{
		FeePercent:      feePercent,
		Currency:        cfg.Payments.Currency,
		ReturnURL:       cfg.Payments.OnboardingReturnURL,
		RefreshURL:      cfg.Payments.OnboardingRefresh,
		ProviderTimeout: cfg.Payments.ProviderTimeout,
	})
	orderService := service.NewOrderService(db, eventPublisher, paymentService, cfg.Server.RequestTimeout)

	relayConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	relay := worker.NewRealtimeRelay(relayConsumer, hub)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, paymentService, api.Options{
		Verifier:   auth.NewVerifier(cfg.Auth.JWTSecret),
		Subscriber: hub,
		Checks: map[string]api.Pinger{
			"postgres": db,
			"redis":    redisClient,
		},
		RateRPS:   cfg.RateLimit.RPS,
		RateBurst: cfg.RateLimit.Burst,
	})
	defer handler.Close()
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		err := relay.Start(gctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("realtime relay: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Server forced to shutdown", zap.Error(err))
		}
		if err := relay.Stop(); err != nil {
			logger.Warn("Failed to stop realtime relay", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Server exited")
}
