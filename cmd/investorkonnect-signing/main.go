package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"investorkonnect-signing/common/database"
	"investorkonnect-signing/common/logger"
	rediscommon "investorkonnect-signing/common/redis"
	"investorkonnect-signing/internal/config"
	"investorkonnect-signing/internal/domain"
	httpapi "investorkonnect-signing/internal/http"
	"investorkonnect-signing/internal/ratelimit"
	"investorkonnect-signing/internal/repository"
	"investorkonnect-signing/internal/service"
	"investorkonnect-signing/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// repos 同一组仓储：Postgres 或内存
type repos struct {
	agreements repository.AgreementsRepo
	deals      repository.DealsRepo
	drafts     repository.DealDraftsRepo
	rooms      repository.RoomsRepo
	invites    repository.DealInvitesRepo
	tokens     repository.ProviderTokensRepo
}

func postgresRepos(db *sql.DB) repos {
	return repos{
		agreements: repository.NewPostgresAgreementsRepo(db),
		deals:      repository.NewPostgresDealsRepo(db),
		drafts:     repository.NewPostgresDealDraftsRepo(db),
		rooms:      repository.NewPostgresRoomsRepo(db),
		invites:    repository.NewPostgresDealInvitesRepo(db),
		tokens:     repository.NewPostgresProviderTokensRepo(db),
	}
}

func memoryRepos() repos {
	m := repository.NewMemoryStore()
	return repos{agreements: m, deals: m, drafts: m, rooms: m, invites: m, tokens: m}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "investorkonnect-signing")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var db *sql.DB
	if cfg.DBEnabled {
		if d, err := database.NewPostgresDB(&cfg.Database); err == nil {
			db = d
			log.Info("DB enabled for investorkonnect-signing")
		} else {
			log.Warn("DB enabled but connection failed, falling back to memory store", zap.Error(err))
		}
	}
	var r repos
	if db != nil {
		r = postgresRepos(db)
	} else {
		// DB 未就绪：内存仓储仅用于联调，重启即丢失
		r = memoryRepos()
	}

	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	var kv store.KV
	if err := rediscommon.Ping(ctx, redisClient); err == nil {
		kv = store.NewRedisKV(redisClient)
	} else {
		log.Warn("Redis unavailable, running without token cache and materialize lock", zap.Error(err))
	}

	if err := seedConnection(ctx, r.tokens, cfg.Docusign.RefreshToken); err != nil {
		log.Warn("Failed to seed DocuSign connection", zap.Error(err))
	}

	functions, err := buildInvoker(cfg, r, redisClient, kv != nil, log)
	if err != nil {
		log.Fatal("Failed to build function invoker", zap.Error(err))
	}

	sessions := service.NewTokenManager(service.TokenManagerConfig{
		OAuthBaseURL: cfg.Docusign.OAuthBaseURL,
		ClientID:     cfg.Docusign.ClientID,
		ClientSecret: cfg.Docusign.ClientSecret,
	}, r.tokens, kv, log)
	recipients := service.NewDocusignClient(cfg.Docusign.BaseURL, cfg.Docusign.AccountID, log)

	materializer := service.NewDealMaterializer(r.agreements, r.deals, r.drafts, r.rooms, r.invites, functions, kv, cfg.Reconcile.LockTTL(), log)
	locker := service.NewAgentLockCoordinator(r.deals, r.rooms, r.invites, log)
	reconcile := service.NewReconcileService(r.agreements, recipients, sessions, materializer, locker, service.ReconcileConfig{
		MaxAttempts:  cfg.Reconcile.MaxAttempts,
		PollInterval: cfg.Reconcile.PollInterval(),
	}, log)

	limiter := ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst, 10*time.Minute)
	router := httpapi.NewRouter(log)
	router.RegisterSigningRoutes(
		httpapi.NewReconcileHandler(reconcile, limiter, cfg.Reconcile.Deadline(), log),
		httpapi.NewWebhookHandler(r.agreements, reconcile, cfg.Docusign.WebhookSecret, log),
	)
	router.RegisterOpsRoutes()

	srv := service.NewServer(cfg.HTTP.Addr, router, cfg.Reconcile.Deadline()+5*time.Second, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		cancel()
	case err := <-errCh:
		log.Error("HTTP server exited", zap.Error(err))
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	_ = redisClient.Close()
	_ = database.Close(db)
}

// buildInvoker local 模式进程内执行；stream 模式写入 Redis Streams，由 investorkonnect-worker 消费
func buildInvoker(cfg *config.Config, r repos, client *redis.Client, redisUp bool, log *zap.Logger) (service.FunctionInvoker, error) {
	if cfg.Functions.Mode == config.FunctionsModeStream {
		if !redisUp {
			return nil, fmt.Errorf("FUNCTIONS_MODE=stream requires Redis")
		}
		log.Info("Function calls published to stream", zap.String("stream", cfg.Functions.Stream))
		return service.NewStreamFunctionInvoker(client, cfg.Functions.Stream), nil
	}
	local := service.NewLocalFunctionInvoker()
	invites := service.NewInviteService(r.agreements, r.deals, r.rooms, r.invites, log)
	local.Register(service.FunctionCreateInvitesAfterInvestorSign, invites.Handler())
	return local, nil
}

// seedConnection 没有持久化连接时用配置的 refresh token 建立一条（access token 置为过期）
func seedConnection(ctx context.Context, tokens repository.ProviderTokensRepo, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	existing, err := tokens.GetConnection(ctx, service.DefaultConnectionID)
	if err != nil {
		return err
	}
	if existing != nil && existing.RefreshToken != "" {
		return nil
	}
	return tokens.SaveConnection(ctx, &domain.ProviderConnection{
		ID:           service.DefaultConnectionID,
		RefreshToken: refreshToken,
		UpdatedAt:    time.Now().UTC(),
	})
}
