// Package server exposes the physical asset verifier over HTTP.
// Responses use the {"data": ...} / {"error": {...}} envelope and carry an
// X-Correlation-Id header.
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/RegistryAccord/registryaccord-phigital-go/internal/jwks"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/verifier"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// ContextKey is used for context values to avoid collisions
// when storing values in request context
type ContextKey string

const (
	ContextKeyCorrelationID ContextKey = "correlationId" // Unique ID for request tracking
	ContextKeySubject       ContextKey = "subject"       // Authenticated inspector or operator

	correlationHeader = "X-Correlation-Id"

	// MaxBodyBytes bounds request bodies; imports are the largest payloads.
	MaxBodyBytes = 8 << 20
)

// Pinger reports backend readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config carries the HTTP-facing settings.
type Config struct {
	JWTIssuer          string
	JWTAudience        string
	JWKSURL            string
	CORSAllowedOrigins []string
}

// Server routes HTTP requests to a verifier.
type Server struct {
	router   *chi.Mux
	v        *verifier.Verifier
	ready    Pinger
	jwks     *jwks.Client // nil disables authenticated routes
	cfg      Config
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithJWKSClient overrides the key source for bearer tokens.
func WithJWKSClient(c *jwks.Client) Option {
	return func(s *Server) { s.jwks = c }
}

// WithMetrics records HTTP metrics on m and serves g on /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// New builds the router.
func New(v *verifier.Verifier, ready Pinger, logger *zap.Logger, cfg Config, opts ...Option) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		v:        v,
		ready:    ready,
		cfg:      cfg,
		gatherer: prometheus.DefaultGatherer,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.jwks == nil && cfg.JWKSURL != "" {
		s.jwks = jwks.NewClient(cfg.JWKSURL)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNop()
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.correlation)
	s.router.Use(s.logging)
	s.router.Use(s.instrument)
	s.router.Use(middleware.Recoverer)
	s.router.Use(maxBodySize(MaxBodyBytes))
	if len(s.cfg.CORSAllowedOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", correlationHeader},
			ExposedHeaders:   []string{correlationHeader},
			AllowCredentials: false,
			MaxAge:           86400,
		}))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/bridges", s.handleCreateBridge)
		r.Post("/verify", s.handleVerify)

		r.Route("/qr", func(r chi.Router) {
			r.Post("/verify", s.handleVerifyQR)
			r.Post("/asset-info", s.handleQRAssetInfo)
			r.Post("/batch", s.handleBatchQR)
		})

		r.Route("/nfc", func(r chi.Router) {
			r.Get("/support", s.handleNFCSupport)
			r.Post("/sessions", s.handleStartSession)
			r.Delete("/sessions/{sessionId}", s.handleStopSession)
			r.Get("/tags/{tagId}", s.handleReadTag)
			r.Get("/tags/{tagId}/asset-info", s.handleTagAssetInfo)
			r.Post("/tags/{tagId}/verify", s.handleVerifyTag)
			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Patch("/tags/{tagId}/metadata", s.handleUpdateTagMetadata)
				r.Delete("/tags/{tagId}", s.handleRevokeTag)
			})
		})

		r.Route("/assets/{assetId}", func(r chi.Router) {
			r.Get("/status", s.handleAssetStatus)
			r.Get("/inspection", s.handleGetInspection)
			r.Post("/tamper-codes", s.handleTamperCode)
			r.Post("/tamper-codes/verify", s.handleVerifyTamperCode)
		})

		r.Get("/analytics", s.handleAnalytics)
		r.Get("/stats", s.handleStats)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/inspections", s.handleSubmitInspection)
			r.Get("/export", s.handleExport)
			r.Post("/import", s.handleImport)
			r.Delete("/verifications", s.handleClearHistory)
		})
	})
}

// correlation propagates trace context and the correlation id.
func (s *Server) correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		id := r.Header.Get(correlationHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, ContextKeyCorrelationID, id)))
	})
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("correlation_id", correlationID(r.Context())),
			}
			if ww.Status() >= http.StatusInternalServerError {
				s.logger.Error("request completed with error", fields...)
				return
			}
			s.logger.Info("request completed", fields...)
		}()
		next.ServeHTTP(ww, r)
	})
}

// instrument labels metrics by route pattern to bound cardinality.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := []string{r.Method, route, strconv.Itoa(status)}
		s.metrics.HTTPRequestTotal.WithLabelValues(labels...).Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	})
}

func maxBodySize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyCorrelationID).(string)
	return id
}

func subject(ctx context.Context) string {
	sub, _ := ctx.Value(ContextKeySubject).(string)
	return sub
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.ready.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
