package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/richardliu001/payment-core/internal/config"
	"github.com/richardliu001/payment-core/internal/logger"
	"github.com/richardliu001/payment-core/internal/model"
	"github.com/richardliu001/payment-core/internal/provider"
	"github.com/richardliu001/payment-core/internal/repo"
	"github.com/richardliu001/payment-core/internal/service"
	httptransport "github.com/richardliu001/payment-core/internal/transport/http"
	"github.com/richardliu001/payment-core/internal/webhook"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// 1. load config
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true, TranslateError: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := model.Migrate(gdb); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. kafka writer
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	// 6. repo, provider client, engine, reconciler
	repository := repo.NewRepository(gdb, rdb, kw, log)
	pspClient := provider.NewHTTPClient(provider.Config{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
		Timeout: cfg.Provider.Timeout(),
		Breaker: provider.BreakerConfig{
			Window:        time.Duration(cfg.Provider.Breaker.WindowSec) * time.Second,
			OpenWait:      time.Duration(cfg.Provider.Breaker.OpenWaitSec) * time.Second,
			FailureRatio:  cfg.Provider.Breaker.FailureRatio,
			MinRequests:   cfg.Provider.Breaker.MinRequests,
			ProbeRequests: cfg.Provider.Breaker.ProbeRequests,
			SlowCallAfter: time.Duration(cfg.Provider.Breaker.SlowCallMS) * time.Millisecond,
		},
	}, log)
	svc := service.NewPaymentService(repository, pspClient, cfg.Payments.Currencies, log)
	verifier := webhook.NewVerifier(cfg.Webhook.Secret, time.Duration(cfg.Webhook.ToleranceSec)*time.Second)
	rec := service.NewReconciler(repository, verifier, log)

	// 7. gin router
	router := httptransport.NewRouter(svc, rec, cfg.RateLimit, log)

	// 8. serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("payment-server listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
