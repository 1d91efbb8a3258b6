// Command gateway runs the Claude Code HTTP gateway: an OpenAI-compatible
// chat-completions endpoint that dispatches to a local CLA child process or
// a transparent upstream proxy.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/claude-code/gateway/internal/backend/cla"
	"github.com/claude-code/gateway/internal/backend/proxy"
	"github.com/claude-code/gateway/internal/infrastructure/config"
	"github.com/claude-code/gateway/internal/infrastructure/logger"
	httpserver "github.com/claude-code/gateway/internal/interfaces/http"
	"github.com/claude-code/gateway/internal/interfaces/http/handlers"
	"github.com/claude-code/gateway/internal/pool"
	"github.com/claude-code/gateway/internal/ratelimit"
	"github.com/claude-code/gateway/internal/session"
)

const appVersion = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:     "gateway",
		Short:   "Claude Code HTTP gateway",
		Version: appVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: "stdout",
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer log.Sync()

	if err := config.Bootstrap(log); err != nil {
		log.Warn("bootstrap skipped", zap.Error(err))
	}

	log.Info("starting claude-code gateway", zap.String("version", appVersion))

	sessions := session.NewRegistry(cfg.Session.MaxAge, cfg.Session.TTL, cfg.Session.SweepInterval, log)
	defer sessions.Destroy()

	childPool := pool.New(pool.Config{
		MaxConcurrent:   cfg.Pool.MaxConcurrent,
		QueueTimeout:    cfg.Pool.QueueTimeout,
		ShutdownTimeout: cfg.Pool.ShutdownTimeout,
	}, log)

	claBackend := cla.New(cla.Config{
		BinaryPath:           cfg.CLA.BinaryPath,
		StdinPromptThreshold: cfg.CLA.StdinPromptThreshold,
		MaxStdoutBytes:       cfg.CLA.MaxStdoutBytes,
		MaxStderrBytes:       cfg.CLA.MaxStderrBytes,
	}, childPool, sessions, log)

	proxyBackend := proxy.New(proxy.Config{
		APIKey:         cfg.Proxy.APIKey,
		BaseURL:        cfg.Proxy.BaseURL,
		Enabled:        cfg.Proxy.Enabled,
		AllowClientKey: cfg.Proxy.AllowClientKey,
	})

	ipLimiter := ratelimit.NewWindow(cfg.RateLimit.IPLimit, cfg.RateLimit.IPWindow)
	sessLimiter := ratelimit.NewWindow(cfg.RateLimit.SessionLimit, cfg.RateLimit.SessionWindow)
	concurrency := ratelimit.NewConcurrency(cfg.RateLimit.MaxConcurrentPerKey)

	limits := config.DefaultBodyLimits()
	chat := handlers.NewChatHandler(handlers.Config{
		APIKeys:         cfg.Auth.APIKeys,
		MaxMessages:     limits.MaxMessages,
		MaxContentChars: limits.MaxContentChars,
		MaxModelChars:   limits.MaxModelChars,
		MaxBodyBytes:    limits.MaxBodyBytes,
	}, claBackend, proxyBackend, ipLimiter, sessLimiter, concurrency, log)

	server := httpserver.NewServer(httpserver.Config{
		Host: cfg.Gateway.Host,
		Port: cfg.Gateway.Port,
		Mode: cfg.Gateway.Mode,
	}, chat, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	<-childPool.DrainAll()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("error during shutdown", zap.Error(err))
		return err
	}

	log.Info("gateway stopped successfully")
	return nil
}
