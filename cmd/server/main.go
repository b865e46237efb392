package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"bookswap/internal/app"
	"bookswap/internal/config"
	"bookswap/internal/server"
	"bookswap/internal/util"
	"bookswap/pkg/queue"
	"bookswap/pkg/storage"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	var covers storage.CoverStore
	if cfg.MinioEndpoint != "" {
		covers, err = storage.NewMinioCoverStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init cover storage: %v", err)
		}
	}

	// without Redis the terminal transitions write history synchronously
	// and rate limiting stays off
	var reconcileQueue *queue.ReconcileQueue
	if cfg.RedisAddr != "" {
		reconcileQueue, err = queue.NewReconcileQueue(queue.Config{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			Stream:     cfg.ReconcileStream,
			Group:      cfg.ReconcileGroup,
			MaxRetries: cfg.ReconcileMaxRetries,
		})
		if err != nil {
			log.Fatalf("failed to init reconcile queue: %v", err)
		}
	}

	appCfg := app.Config{
		DatabaseURL:    cfg.DatabaseURL,
		JWTSecret:      cfg.JWTSecret,
		SessionTTL:     time.Duration(cfg.SessionTTLMinutes) * time.Minute,
		ChatFullThread: cfg.ChatFullThread,
		Covers:         covers,
	}
	if reconcileQueue != nil {
		appCfg.Reconcile = reconcileQueue
	}
	appCore, err := app.New(appCfg)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                      appCore,
		RedisAddr:                cfg.RedisAddr,
		RedisPassword:            cfg.RedisPassword,
		SignupRateLimitPerMinute: cfg.SignupRateLimitPerMinute,
		LoginRateLimitPerMinute:  cfg.LoginRateLimitPerMinute,
		MaxUploadBytes:           cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if reconcileQueue != nil {
		group.Go(func() error {
			slog.Info("history reconcile worker starting")
			err := reconcileQueue.Run(ctx, func(_ context.Context, exchangeID string) error {
				return appCore.ReconcileExchange(exchangeID)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if cfg.ReconcileSweepMinutes > 0 {
		interval := time.Duration(cfg.ReconcileSweepMinutes) * time.Minute
		group.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					written, err := appCore.Reconcile()
					if err != nil {
						slog.Error("periodic history sweep failed", "err", err)
						continue
					}
					if written > 0 {
						slog.Info("periodic history sweep backfilled entries", "written", written)
					}
				}
			}
		})
	}

	if err := group.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}
