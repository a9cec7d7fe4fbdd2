package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/kyungseok/msa-payment-consolidation/common/events"
	"github.com/kyungseok/msa-payment-consolidation/common/idempotency"
	"github.com/kyungseok/msa-payment-consolidation/common/logger"
	"github.com/kyungseok/msa-payment-consolidation/common/messaging"
	"github.com/kyungseok/msa-payment-consolidation/common/retry"
	"github.com/kyungseok/msa-payment-consolidation/common/telemetry"
	"github.com/kyungseok/msa-payment-consolidation/services/consolidation/internal/config"
	"github.com/kyungseok/msa-payment-consolidation/services/consolidation/internal/deadletter"
	"github.com/kyungseok/msa-payment-consolidation/services/consolidation/internal/handler"
	"github.com/kyungseok/msa-payment-consolidation/services/consolidation/internal/repository"
	"github.com/kyungseok/msa-payment-consolidation/services/consolidation/internal/service"
	"github.com/kyungseok/msa-payment-consolidation/services/consolidation/internal/settlement"
	"github.com/kyungseok/msa-payment-consolidation/services/consolidation/internal/worker"
)

func main() {
	// Config 로드
	cfg := config.Load()

	// Logger 초기화
	log, err := logger.NewLogger(cfg.ServiceName, true)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracer 초기화
	tp, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal("failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shutdown tracer", zap.Error(err))
		}
	}()

	// Meter 초기화
	mp, err := telemetry.InitMeter(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal("failed to initialize meter", zap.Error(err))
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := mp.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shutdown meter provider", zap.Error(err))
		}
	}()

	// PostgreSQL 연결
	db, err := sql.Open("postgres", cfg.DBDSN)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal("failed to ping database", zap.Error(err))
	}
	if err := repository.Migrate(ctx, db); err != nil {
		log.Fatal("failed to migrate database", zap.Error(err))
	}
	log.Info("connected to database")

	// Redis 연결
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	log.Info("connected to redis")

	// Kafka Producer 초기화
	publisher, err := messaging.NewKafkaPublisher(cfg.KafkaBrokers, log)
	if err != nil {
		log.Fatal("failed to create kafka publisher", zap.Error(err))
	}
	defer publisher.Close()
	log.Info("kafka publisher initialized")

	// Repository 초기화
	orderRepo := repository.NewOrderRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	// Dead letter / 실패 보고
	sink := deadletter.NewOutboxSink(outboxRepo, log)
	reporter := deadletter.NewOutboxFailureReporter(outboxRepo, log)

	// 정산 포트
	timeout := cfg.Settlement.Timeout
	ports := service.Ports{
		Redemptions:         settlement.NewClient(settlement.OperationRedemptions, cfg.Settlement.RedemptionsURL, timeout, log),
		Payments:            settlement.NewClient(settlement.OperationPayments, cfg.Settlement.PaymentsURL, timeout, log),
		BillingPayments:     settlement.NewClient(settlement.OperationBillingPayments, cfg.Settlement.BillingPaymentsURL, timeout, log),
		ChannelNotification: settlement.NewClient(settlement.OperationChannelNotification, cfg.Settlement.ChannelNotificationURL, timeout, log),
	}

	// Service 초기화
	orchestrator := retry.NewOrchestrator(cfg.Retry, sink, log)
	consolidationService := service.NewConsolidationService(orderRepo, cfg.TxID, log)
	deliveryCoordinator := service.NewDeliveryCoordinator(
		orderRepo,
		orchestrator,
		ports,
		settlement.StaticCredentials{Token: cfg.Settlement.AuthToken},
		reporter,
		cfg.BillingProductCodes,
		log,
	)
	processor := service.NewCallbackProcessor(consolidationService, deliveryCoordinator, log)

	// Idempotency Store 초기화
	idemStore := idempotency.NewRedisStore(redisClient, cfg.ServiceName)

	// Event Handler 초기화
	eventHandler := handler.NewEventHandler(processor, idemStore, cfg.IdempotencyTTL, log)

	// Kafka Consumer 초기화 (identifier 키 기준으로 파티션 내 순차 처리)
	consumer, err := messaging.NewKafkaConsumer(cfg.KafkaBrokers, cfg.ServiceName+"-group", log)
	if err != nil {
		log.Fatal("failed to create kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	topics := events.CallbackTopics()
	if err := consumer.Subscribe(ctx, topics, eventHandler.HandleMessage); err != nil {
		log.Fatal("failed to subscribe to topics", zap.Error(err))
	}
	log.Info("subscribed to kafka topics", zap.Strings("topics", topics))

	// Outbox Worker 시작
	outboxWorker := worker.NewOutboxWorker(outboxRepo, publisher, map[string]string{
		string(events.EventDeadLetter):     cfg.DeadLetterTopic,
		string(events.EventDeliveryFailed): cfg.DeliveryFailedTopic,
	}, log, cfg.OutboxPollInterval)
	go outboxWorker.Start(ctx)

	// HTTP Server 시작
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	handler.NewHTTPHandler(consolidationService, log).Register(router)

	server := &http.Server{
		Addr:    ":" + cfg.ServicePort,
		Handler: router,
	}

	go func() {
		log.Info("http server starting", zap.String("port", cfg.ServicePort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	cancel() // consumer, outbox worker 종료
	log.Info("server stopped")
}
