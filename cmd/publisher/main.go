package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/payment-core/internal/config"
	"github.com/richardliu001/payment-core/internal/logger"
	"github.com/richardliu001/payment-core/internal/outbox"
	"github.com/richardliu001/payment-core/internal/repo"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

func main() {
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true, TranslateError: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	repository := repo.NewRepository(gdb, rdb, kw, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pub := outbox.NewPublisher(repository,
		time.Duration(cfg.Publisher.IntervalMS)*time.Millisecond,
		cfg.Publisher.BatchSize, log)

	// stale INITIATED payments signal a provider call that never got an
	// authoritative answer; surface them as reconciliation alerts
	staleAfter := time.Duration(cfg.Payments.StaleAfterMin) * time.Minute
	if staleAfter > 0 {
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					stale, err := repository.ListStaleInitiated(ctx, staleAfter, 100)
					if err != nil {
						log.Errorf("list stale payments: %v", err)
						continue
					}
					for _, p := range stale {
						log.Warnf("payment %s (order %s) stuck INITIATED since %s",
							p.ID, p.OrderRef, p.UpdatedAt.Format(time.RFC3339))
					}
				}
			}
		}()
	}

	log.Info("outbox publisher started")
	pub.Run(ctx)
}
