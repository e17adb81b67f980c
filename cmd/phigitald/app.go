package main

import (
	"context"
	"fmt"

	"github.com/RegistryAccord/registryaccord-phigital-go/internal/config"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/event"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/nfcbridge"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/oracle"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/storage"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/tagcrypto"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/verifier"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// oracleCacheSize bounds the existence cache per process.
const oracleCacheSize = 4096

// app holds the components shared by serve, backup and restore.
type app struct {
	store    storage.Store
	verifier *verifier.Verifier
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	closers  []func()
	logger   *zap.Logger
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger, tp trace.TracerProvider) (_ *app, err error) {
	a := &app{logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.NewMetrics(a.registry)

	if a.store, err = openStore(ctx, cfg, logger); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		if err := a.store.Close(); err != nil {
			logger.Warn("failed to close store", zap.Error(err))
		}
	})

	hasher, err := tagcrypto.NewHasher(cfg.HashSecret)
	if err != nil {
		return nil, err
	}

	o, err := a.buildOracle(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pub := event.NewPublisher(cfg.NATSURL, logger.Named("events"), a.metrics)
	a.closers = append(a.closers, func() { _ = pub.Close() })

	a.verifier, err = verifier.New(a.store, hasher, o, logger.Named("verifier"), verifier.Options{
		QRBaseURL:          cfg.QRBaseURL,
		NFCBaseURL:         cfg.NFCBaseURL,
		AssetBaseURL:       cfg.AssetBaseURL,
		NFCReadLatency:     cfg.NFCReadLatency,
		ScanSessionTimeout: cfg.ScanSessionTimeout,
		Prober:             nfcbridge.StaticProber{Supported: cfg.NFCSupported, Enabled: cfg.NFCEnabled},
		Publisher:          pub,
		Metrics:            a.metrics,
		TracerProvider:     tp,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// openStore picks PostgreSQL, then SQLite, then memory.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.Store, error) {
	switch {
	case cfg.DatabaseDSN != "":
		logger.Info("using postgres storage")
		store, err := storage.NewPostgres(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres storage: %w", err)
		}
		return store, nil
	case cfg.SQLitePath != "":
		logger.Info("using sqlite storage", zap.String("path", cfg.SQLitePath))
		store, err := storage.NewSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sqlite storage: %w", err)
		}
		return store, nil
	default:
		logger.Warn("using in-memory storage; state is lost on restart")
		return storage.NewMemory(), nil
	}
}

// buildOracle assembles the chain oracle and its decorators.
func (a *app) buildOracle(ctx context.Context, cfg config.Config) (oracle.Oracle, error) {
	var o oracle.Oracle = oracle.Minimal{}
	if cfg.OracleMode == config.OracleEVM {
		reg := oracle.NewRegistry(nil)
		a.closers = append(a.closers, reg.Close)
		for networkID, url := range cfg.ChainRPCURLs {
			evm, err := oracle.DialEVM(ctx, url, a.logger.Named("evm"))
			if err != nil {
				return nil, fmt.Errorf("network %d: %w", networkID, err)
			}
			reg.Register(networkID, evm)
		}
		o = reg
	}
	// Cache hits never consume rate limit tokens.
	if cfg.OracleRPS > 0 {
		burst := int(cfg.OracleRPS)
		if burst < 1 {
			burst = 1
		}
		o = oracle.NewRateLimited(o, cfg.OracleRPS, burst, a.logger.Named("oracle"))
	}
	if cfg.OracleCacheTTL > 0 {
		o = oracle.NewCached(o, oracleCacheSize, cfg.OracleCacheTTL)
	}
	a.logger.Info("chain oracle ready", zap.String("mode", cfg.OracleMode), zap.Int("networks", len(cfg.ChainRPCURLs)))
	return oracle.NewInstrumented(o, a.metrics), nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
