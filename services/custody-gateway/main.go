package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"basketd/core/state"
	"basketd/gateway/auth"
	"basketd/native/custody"
	"basketd/observability/logging"
	"basketd/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "custody-gateway.toml", "path to the gateway configuration file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		slog.Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := logging.Setup("custody-gateway", cfg.Environment)

	custodian, err := ParseAddress(cfg.Custodian)
	if err != nil {
		logger.Error("invalid custodian address", slog.String("error", err.Error()))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("open database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db, custodian)
	for _, governor := range cfg.Governors {
		addr, err := ParseAddress(governor)
		if err != nil {
			logger.Error("invalid governor address", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := manager.GrantRole(state.RoleGovernor, addr); err != nil {
			logger.Error("grant governor role", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	clock := &intervalClock{
		genesis:  cfg.GenesisUnix,
		interval: cfg.HeightIntervalSecs,
		nowFn:    time.Now,
	}
	policy := custody.NewPolicy(manager)
	engine := custody.NewEngine(manager, manager, clock, policy, custodian)
	if cfg.BasketLifespan > 0 {
		engine.SetLifespan(cfg.BasketLifespan)
	}
	engine.SetEmitter(&logEmitter{logger: logger})
	compliance := custody.NewCompliance(engine)

	secrets := make(map[string]string, len(cfg.APIKeys))
	callers := make(map[string][20]byte, len(cfg.APIKeys))
	for _, key := range cfg.APIKeys {
		secrets[key.Key] = key.Secret
		caller, err := ParseAddress(key.Caller)
		if err != nil {
			logger.Error("invalid caller address", slog.String("apiKey", key.Key), slog.String("error", err.Error()))
			os.Exit(1)
		}
		callers[key.Key] = caller
	}
	authenticator := auth.NewAuthenticator(secrets, cfg.AllowedTimestampSkew.Duration, cfg.NonceTTL.Duration, nil)

	server := NewServer(engine, compliance, manager, authenticator, callers, logger)
	srv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: server,
	}

	go func() {
		logger.Info("custody gateway listening", slog.String("address", cfg.ListenAddress))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down custody gateway")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", slog.String("error", err.Error()))
	}
}
