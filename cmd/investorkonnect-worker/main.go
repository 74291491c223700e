package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"investorkonnect-signing/common/database"
	"investorkonnect-signing/common/logger"
	rediscommon "investorkonnect-signing/common/redis"
	"investorkonnect-signing/internal/config"
	"investorkonnect-signing/internal/consumer"
	"investorkonnect-signing/internal/repository"
	"investorkonnect-signing/internal/service"

	"go.uber.org/zap"
)

// investorkonnect-worker 消费 FUNCTIONS_MODE=stream 下发布的函数调用
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "investorkonnect-worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Database.ApplicationName == "investorkonnect-signing" {
		cfg.Database.ApplicationName = "investorkonnect-worker"
	}
	// worker 与 API 进程共享状态，必须使用 Postgres
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	defer redisClient.Close()
	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	deals := repository.NewPostgresDealsRepo(db)
	invites := service.NewInviteService(
		repository.NewPostgresAgreementsRepo(db),
		deals,
		repository.NewPostgresRoomsRepo(db),
		repository.NewPostgresDealInvitesRepo(db),
		log,
	)
	registry := service.NewLocalFunctionInvoker()
	registry.Register(service.FunctionCreateInvitesAfterInvestorSign, invites.Handler())

	c := consumer.NewFunctionConsumer(
		redisClient,
		registry,
		log,
		cfg.Functions.Stream,
		cfg.Functions.Group,
		cfg.Functions.Consumer,
		10,
	)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("Shutting down worker")
		cancel()
	}()

	if err := c.Start(ctx); err != nil {
		log.Error("Function consumer stopped", zap.Error(err))
	}
}
