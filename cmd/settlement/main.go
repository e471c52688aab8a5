package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	eventmessaging "github.com/wyfcoding/paymentprocessor/internal/event/infrastructure/messaging"
	eventmysql "github.com/wyfcoding/paymentprocessor/internal/event/infrastructure/persistence/mysql"
	payoutapp "github.com/wyfcoding/paymentprocessor/internal/payout/application"
	"github.com/wyfcoding/paymentprocessor/internal/payout/infrastructure/broadcast"
	payoutmysql "github.com/wyfcoding/paymentprocessor/internal/payout/infrastructure/persistence/mysql"
	settlementapp "github.com/wyfcoding/paymentprocessor/internal/settlement/application"
	settlementmysql "github.com/wyfcoding/paymentprocessor/internal/settlement/infrastructure/persistence/mysql"
	"github.com/wyfcoding/paymentprocessor/pkg/config"
	"github.com/wyfcoding/paymentprocessor/pkg/db"
	"github.com/wyfcoding/paymentprocessor/pkg/logger"
	"github.com/wyfcoding/paymentprocessor/pkg/metrics"
	"github.com/wyfcoding/paymentprocessor/pkg/mq"
	"golang.org/x/sync/errgroup"

	eventdomain "github.com/wyfcoding/paymentprocessor/internal/event/domain"
)

var configPath = flag.String("config", "configs/settlement/config.toml", "config file path")

func main() {
	flag.Parse()

	// 1. Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. Logger
	if err := logger.Init(logger.Config{
		Service:    cfg.ServiceName,
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}); err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}

	// 3. Metrics
	metricsImpl := metrics.New("settlement")
	if cfg.Metrics.Enabled {
		go metricsImpl.ExposeHTTP(cfg.Metrics.Port)
	}

	// 4. Infrastructure
	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		slog.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if cfg.Environment == "dev" {
		if err := database.RawDB().AutoMigrate(
			&eventmysql.EventModel{},
			&settlementmysql.ClearingEntryModel{},
			&settlementmysql.SettlementBatchModel{},
			&payoutmysql.TransactionModel{},
			&payoutmysql.PayoutModel{},
		); err != nil {
			slog.Error("failed to migrate database", "error", err)
		}
	}

	// 5. Application
	var eventRepo eventdomain.Repository = eventmysql.NewEventRepository(database.RawDB())
	if cfg.Kafka.Enabled {
		producer, err := mq.NewProducer(mq.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		})
		if err != nil {
			slog.Error("failed to create kafka producer", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		eventRepo = eventmessaging.NewMirrorRepository(eventRepo, producer, cfg.Kafka.EventTopic)
	}

	clearingRepo := settlementmysql.NewClearingRepository(database.RawDB())
	batcher := settlementapp.NewBatcher(
		clearingRepo,
		metricsImpl,
		time.Duration(cfg.Settlement.IntervalSeconds)*time.Second,
		time.Duration(cfg.Settlement.BackoffSeconds)*time.Second,
		cfg.Settlement.BatchSize,
	)

	payoutRepo := payoutmysql.NewPayoutRepository(database.RawDB())
	worker := payoutapp.NewWorker(
		payoutRepo,
		eventRepo,
		broadcast.NewSimulator(),
		metricsImpl,
		time.Duration(cfg.Payout.PollSeconds)*time.Second,
		cfg.Payout.BatchSize,
		cfg.Payout.MaxAttempts,
	)

	// 6. Start
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		batcher.Run(ctx)
		return nil
	})

	g.Go(func() error {
		worker.Run(ctx)
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			slog.Info("shutting down settlement workers...")
		case <-ctx.Done():
			slog.Info("context cancelled, shutting down...")
		}
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("settlement exited with error", "error", err)
	}
}
