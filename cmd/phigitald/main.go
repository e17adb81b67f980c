// Package main implements the entry point for the phigital bridge service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RegistryAccord/registryaccord-phigital-go/internal/config"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/server"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "phigitald",
		Short:         "Phigital bridge service - binds minted tokens to physical items",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var traceStdout bool
	// Default behavior (no subcommand) is to serve
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), traceStdout)
	}
	rootCmd.Flags().BoolVar(&traceStdout, "trace-stdout", false, "pretty-print spans to stdout")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newBackupCmd())
	rootCmd.AddCommand(newRestoreCmd())

	return rootCmd
}

func newServeCmd() *cobra.Command {
	var traceStdout bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), traceStdout)
		},
	}
	cmd.Flags().BoolVar(&traceStdout, "trace-stdout", false, "pretty-print spans to stdout")
	return cmd
}

// newLogger builds a development logger in dev and a JSON production logger elsewhere.
func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("PHG_LOG_LEVEL: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Env == "dev" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	return zcfg.Build(zap.Fields(zap.String("service", "phigitald"), zap.String("version", version)))
}

func loadConfigAndLogger() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, fmt.Errorf("config load failed: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return cfg, nil, err
	}
	if cfg.HashSecretGenerated {
		logger.Warn("PHG_HASH_SECRET not set, using a throwaway secret; records will not verify after restart")
	}
	return cfg, logger, nil
}

func runServe(ctx context.Context, traceStdout bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var traceOut io.Writer
	if traceStdout {
		traceOut = os.Stdout
	}
	tp, err := telemetry.InitTracer("phigitald", version, traceOut)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.ShutdownTracer(shutdownCtx, tp, logger)
	}()

	a, err := newApp(ctx, cfg, logger, tp)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(a.verifier, a.store, logger.Named("http"), server.Config{
		JWTIssuer:          cfg.JWTIssuer,
		JWTAudience:        cfg.JWTAudience,
		JWKSURL:            cfg.JWKSURL,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}, server.WithMetrics(a.metrics, a.registry))
	if cfg.JWKSURL == "" {
		logger.Warn("PHG_JWT_ISSUER not set; inspection submission and admin routes are disabled")
	}

	addr := ":" + cfg.Port
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-sigCtx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("server exited")
	return nil
}
