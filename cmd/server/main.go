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

	"payment-gateway/config"
	"payment-gateway/internal/api"
	"payment-gateway/internal/broker"
	"payment-gateway/internal/models"
	"payment-gateway/internal/processor"
	"payment-gateway/internal/redisclient"
	"payment-gateway/internal/service"
	"payment-gateway/internal/store"
	"payment-gateway/internal/util"
	"payment-gateway/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting payment gateway")

	tp, err := util.InitTracer("payment-gateway", cfg.Observ.JaegerEndpoint)
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

	// Postgres and Redis are optional at startup: the service degrades to
	// in-process stores so a local run needs no infrastructure.
	var paymentRecorder service.PaymentRecorder
	var securityRecorder service.SecurityEventRecorder
	var webhookRecorder processor.WebhookRecorder = processor.NewMemoryWebhookRecorder()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Printf("Database unavailable, running without persistence: %v", err)
	} else {
		defer db.Close()
		paymentRecorder = db
		securityRecorder = db
		webhookRecorder = db
		log.Println("Database connected")
	}

	var confirmationStore service.ConfirmationStore = service.NewMemoryConfirmationStore()
	var attemptStore service.AttemptStore = service.NewMemoryAttemptStore()

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Printf("Redis unavailable, using in-memory stores: %v", err)
	} else {
		defer redisClient.Close()
		confirmationStore = redisClient.ConfirmationStore()
		attemptStore = redisClient.AttemptStore()
		log.Println("Redis connected")
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayments)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	auditService := service.NewSecurityAuditService(cfg.Server.Env, attemptStore, securityRecorder)
	confirmationService := service.NewConfirmationService(confirmationStore, auditService)

	registry := processor.NewRegistry()
	paymentService := service.NewPaymentService(registry, paymentRecorder, eventPublisher, auditService)

	// Processors get the orchestrator back as the status applier so their
	// webhook settlements land on the owning payments.
	registry.Register(models.ProviderCard,
		processor.NewCardProcessor(cfg.Payment.CardAPIKey, webhookRecorder, paymentService))
	registry.Register(models.ProviderBankRedirect,
		processor.NewBankRedirectProcessor(cfg.Payment.BankCommerceCode, cfg.Payment.BankAPIKey))
	registry.Register(models.ProviderPayPal,
		processor.NewPayPalProcessor(cfg.Payment.PayPalClientID, cfg.Payment.PayPalEnvironment, webhookRecorder, paymentService))

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	confirmationService.StartSweeper(workerCtx, time.Minute)

	webhookConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicWebhooks, cfg.Kafka.ConsumerGroup)
	webhookWorker := worker.NewWebhookWorker(webhookConsumer, paymentService)
	go func() {
		if err := webhookWorker.Start(workerCtx); err != nil {
			log.Printf("Webhook worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(paymentService, confirmationService, auditService)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
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

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	webhookWorker.Stop()

	log.Println("Server exited")
}
