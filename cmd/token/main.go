// Command token mints an operator access token for the API.
//
//	token -email ops@example.com -role operator
//
// The user row is created on first use so calls can reference the operator.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"onboarding-calls/internal/auth"
	"onboarding-calls/internal/config"
	"onboarding-calls/internal/rbac"
	"onboarding-calls/pkg/logger"
	"onboarding-calls/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	email := flag.String("email", "", "operator email (required)")
	role := flag.String("role", rbac.RoleOperator, "admin, operator or viewer")
	flag.Parse()

	if *email == "" || !rbac.Valid(*role) {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	// stdout carries the token JSON; logs go to stderr.
	log := logger.NewWithOptions(logger.Options{Env: cfg.App.Env, Level: cfg.App.LogLevel, Writer: os.Stderr})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 1})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	userID, err := auth.NewUserRepo(db).EnsureUser(ctx, *email)
	if err != nil {
		log.Error("user upsert failed", "err", err)
		os.Exit(1)
	}

	m, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}
	pair, err := m.IssuePair(time.Now(), auth.Identity{UserID: userID, Role: *role})
	if err != nil {
		log.Error("token issuance failed", "err", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		UserID string `json:"userId"`
		Role   string `json:"role"`
		auth.TokenPair
	}{userID, *role, pair}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
