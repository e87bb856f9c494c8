package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pos/cmd/odyssey-pos/cli"
	"github.com/odyssey-erp/odyssey-pos/internal/app"
	"github.com/odyssey-erp/odyssey-pos/internal/observability"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/gateway"
	poshttp "github.com/odyssey-erp/odyssey-pos/internal/pos/http"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/sale"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/scope"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/terminal"
	"github.com/odyssey-erp/odyssey-pos/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(cli.RunJobs(ctx, redisOpts, os.Args[2:], os.Stdout, os.Stderr))
	}

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	selection := scope.New(scope.NewRedisStore(redisClient, cfg.ScopePrefix), logger)

	client := gateway.NewClient(gateway.Config{
		BaseURL:  cfg.APIURL,
		AppID:    cfg.AppID,
		Timeout:  cfg.HTTPTimeout,
		Envelope: selection,
		Tokens:   gateway.StaticToken(cfg.AccessToken),
		Observer: metrics,
		Logger:   logger,
	})

	jobClient, err := jobs.NewClient(redisOpts, jobs.ClientConfig{
		Envelope: selection,
		Delay:    cfg.FollowUpDelay,
		MaxRetry: cfg.FollowUpRetries,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	register := terminal.New(terminal.Config{
		Gateway: client,
		Scope:   selection,
		Poller: sale.PollerConfig{
			Interval:    cfg.PollInterval,
			MaxAttempts: cfg.PollMaxAttempts,
			Observer:    metrics,
			Logger:      logger,
		},
		FollowUps: jobClient,
		Logger:    logger,
	})
	defer register.Close()

	if sel, err := register.Restore(ctx); err != nil {
		logger.Warn("restore register", slog.Any("error", err))
	} else if sel.CashRegister != nil {
		logger.Info("register restored", slog.String("cash_register_id", sel.CashRegister.ID))
	}

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	outcomes := jobs.NewRedisOutcomeStore(redisClient, cfg.ScopePrefix, 0)

	router := app.NewRouter(app.RouterParams{
		Logger:     logger,
		Config:     cfg,
		POSHandler: poshttp.NewHandler(logger, register),
		JobHandler: jobs.NewHandler(inspector, outcomes, logger),
		Metrics:    metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server starting", slog.String("addr", cfg.AppAddr), slog.String("pos_api", cfg.APIURL))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
