package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"onboarding-calls/internal/audit"
	"onboarding-calls/internal/auth"
	"onboarding-calls/internal/calls"
	"onboarding-calls/internal/config"
	"onboarding-calls/internal/httpapi"
	"onboarding-calls/internal/ingest"
	"onboarding-calls/internal/reporting"
	"onboarding-calls/internal/telephony"
	"onboarding-calls/internal/webhook"
	"onboarding-calls/migrations"
	"onboarding-calls/pkg/logger"
	"onboarding-calls/pkg/utils"
	"onboarding-calls/pkg/validator"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// guardMargin keeps the per-rider trigger lock alive slightly past the provider timeout.
const guardMargin = 30 * time.Second

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.DB.AutoMigrate {
		if err := utils.Migrate(rootCtx, db.DB, migrations.FS); err != nil {
			log.Error("migrations failed", "err", err)
			os.Exit(1)
		}
		log.Info("migrations applied")
	}

	events := audit.NewService(audit.NewPostgresRepo(db))
	provider := telephony.NewHappyRobotClient(telephony.HappyRobotConfig{
		WorkflowURL: cfg.HappyRobot.WorkflowURL,
		APIKey:      cfg.HappyRobot.APIKey,
		Timeout:     cfg.HappyRobot.Timeout,
	}, nil)

	opts := []calls.Option{
		calls.WithEvents(events),
		calls.WithCallbackURL(cfg.HappyRobot.CallbackURL),
	}
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
		})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		opts = append(opts, calls.WithGuard(utils.NewRedisGuard(rdb, "trigger:rider:", cfg.HappyRobot.Timeout+guardMargin)))
	} else {
		log.Info("redis not configured, trigger guard disabled")
	}

	store := calls.NewPostgresStore(db)
	handlers := httpapi.Handlers{
		Calls:    calls.NewService(store, provider, opts...),
		Importer: ingest.NewImporter(store, events, cfg.Phone.DefaultRegion),
		Reports:  reporting.NewService(store),
		Events:   events,
		Validate: validator.New(),
		Region:   cfg.Phone.DefaultRegion,
		Health: func(ctx context.Context) error {
			return utils.HealthCheck(ctx, db.DB, 2*time.Second)
		},
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	if len(cfg.CORS.Origins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.CORS.Origins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:  []string{"Authorization", "Content-Type", logger.HeaderRequestID},
			ExposeHeaders: []string{"Content-Length", logger.HeaderRequestID},
			MaxAge:        12 * time.Hour,
		}))
	}

	registerRoutes(r, routeDeps{
		handlers:      handlers,
		webhook:       webhook.NewHandler(handlers.Calls),
		webhookSecret: cfg.Webhook.Secret,
		limiter:       webhook.NewIPRateLimiter(cfg.Webhook.RatePerMinute, log),
		authMW:        auth.RequireAccessToken(authManager),
		refresh:       auth.RefreshHandler(authManager),
	})

	// Triggers wait on the provider, so the write budget must exceed its timeout.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      cfg.HappyRobot.Timeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	log.Info("shutdown complete")
}
