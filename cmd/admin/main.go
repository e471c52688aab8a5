package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	adminapp "github.com/wyfcoding/paymentprocessor/internal/admin/application"
	adminhttp "github.com/wyfcoding/paymentprocessor/internal/admin/interfaces/http"
	eventmysql "github.com/wyfcoding/paymentprocessor/internal/event/infrastructure/persistence/mysql"
	payoutapp "github.com/wyfcoding/paymentprocessor/internal/payout/application"
	payoutmysql "github.com/wyfcoding/paymentprocessor/internal/payout/infrastructure/persistence/mysql"
	settlementmysql "github.com/wyfcoding/paymentprocessor/internal/settlement/infrastructure/persistence/mysql"
	"github.com/wyfcoding/paymentprocessor/pkg/config"
	"github.com/wyfcoding/paymentprocessor/pkg/db"
	"github.com/wyfcoding/paymentprocessor/pkg/logger"
	"github.com/wyfcoding/paymentprocessor/pkg/metrics"
	"github.com/wyfcoding/paymentprocessor/pkg/middleware"
	"golang.org/x/sync/errgroup"
)

var configPath = flag.String("config", "configs/admin/config.toml", "config file path")

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
	metricsImpl := metrics.New("admin")
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

	// 5. Application
	eventRepo := eventmysql.NewEventRepository(database.RawDB())
	payoutRepo := payoutmysql.NewPayoutRepository(database.RawDB())
	clearingRepo := settlementmysql.NewClearingRepository(database.RawDB())
	payoutService := payoutapp.NewService(payoutRepo, metricsImpl)
	queryService := adminapp.NewQueryService(eventRepo, payoutService, clearingRepo)

	// 6. Interfaces
	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(middleware.GinLogging(), middleware.GinRecovery())
	r.Use(middleware.GinRateLimit(middleware.NewRateLimiter(200, 100)))

	handler := adminhttp.NewAdminHandler(queryService)
	handler.RegisterRoutes(r)

	// 7. Start
	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		slog.Info("Admin HTTP server starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			slog.Info("shutting down admin server...")
		case <-ctx.Done():
			slog.Info("context cancelled, shutting down...")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("admin exited with error", "error", err)
	}
}
