// Command neowatch runs the near-earth object alert engine.
//
// Usage:
//
//	neowatch serve --config ./config
//	neowatch dispatch digest
//	neowatch warm 3542519 2000433
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cosmicwatch/neowatch/internal/app"
	"github.com/cosmicwatch/neowatch/internal/app/dispatch"
	"github.com/cosmicwatch/neowatch/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load(".env")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "neowatch",
		Short:         "Near-earth object alert engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration directory or file")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(dispatchCmd(&configPath))
	root.AddCommand(warmCmd(&configPath))
	return root
}

// --------------------------------------------------------------------------
// serve
// --------------------------------------------------------------------------

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, websocket hub and alert loops",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), *configPath, true, serve)
		},
	}
}

func serve(ctx context.Context, cfg *app.Config, stack *runtimeStack, log *zap.Logger) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           stack.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

// --------------------------------------------------------------------------
// dispatch
// --------------------------------------------------------------------------

// dispatchCmd runs the digest loop once. The live loop has no one-shot form:
// it pushes to websocket clients held by the serving process.
func dispatchCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Run one alert loop tick and exit",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   dispatch.LoopDigest,
		Short: "E-mail new alerts to every subscriber",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), *configPath, false, runDigestOnce)
		},
	})
	return cmd
}

func runDigestOnce(ctx context.Context, _ *app.Config, stack *runtimeStack, log *zap.Logger) error {
	start := time.Now()
	report, err := stack.Dispatcher.RunDigest(ctx)
	log.Info("dispatch tick finished",
		zap.String("loop", dispatch.LoopDigest),
		zap.Int("users", report.Users),
		zap.Int("delivered", report.Delivered),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
	)
	return err
}

// --------------------------------------------------------------------------
// warm
// --------------------------------------------------------------------------

func warmCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "warm [asteroid-id...]",
		Short: "Prefetch the current feed window and the given objects into the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), *configPath, false, func(ctx context.Context, _ *app.Config, stack *runtimeStack, log *zap.Logger) error {
				warmed, failed := stack.Asteroids.Warm(ctx, time.Now(), args)
				log.Info("cache warmed", zap.Int("warmed", warmed), zap.Int("failed", failed))
				if failed > 0 {
					return fmt.Errorf("warm: %d of %d lookups failed", failed, warmed+failed)
				}
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// shared setup
// --------------------------------------------------------------------------

type runFunc func(ctx context.Context, cfg *app.Config, stack *runtimeStack, log *zap.Logger) error

func withRuntime(ctx context.Context, configPath string, background bool, fn runFunc) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	generated, err := app.ApplyRuntimeDefaults(cfg)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel, cfg.Server.LogFormat); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")
	for key := range generated {
		log.Warn("generated runtime default", zap.String("key", key))
	}
	if generated["auth.jwt.secret"] {
		log.Warn("no jwt secret configured; tokens issued elsewhere will be rejected")
	}

	stack, err := bootstrapRuntime(ctx, cfg, log, background)
	if err != nil {
		return err
	}
	defer stack.Shutdown(context.Background(), log)

	return fn(ctx, cfg, stack, log)
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}
