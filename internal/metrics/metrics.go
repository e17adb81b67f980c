package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the application metrics
type Metrics struct {
	// HTTP request metrics
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Bridge generation metrics
	RecordsGeneratedTotal *prometheus.CounterVec

	// Per-channel verification outcomes (valid or error code)
	ChannelVerifyTotal *prometheus.CounterVec

	// Merged verification metrics
	VerificationTotal      *prometheus.CounterVec
	VerificationConfidence prometheus.Histogram

	// Chain oracle metrics
	OracleCheckTotal    *prometheus.CounterVec
	OracleCheckDuration *prometheus.HistogramVec

	// Inspection metrics
	InspectionTotal *prometheus.CounterVec

	// Event publishing metrics
	EventPublishTotal *prometheus.CounterVec
}

// NewMetrics creates every collector and registers it on reg. Collectors that
// are already registered on reg are reused, so two verifiers sharing a
// registry share their metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phigital_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "phigital_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		RecordsGeneratedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phigital_records_generated_total",
			Help: "Total number of QR records and NFC tags generated",
		}, []string{"kind"}),

		ChannelVerifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phigital_channel_verifications_total",
			Help: "Total number of QR and NFC verification attempts by outcome",
		}, []string{"channel", "outcome"}),

		VerificationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phigital_verifications_total",
			Help: "Total number of merged physical verifications",
		}, []string{"method", "verified"}),

		VerificationConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "phigital_verification_confidence",
			Help:    "Confidence of merged physical verifications",
			Buckets: []float64{0, 0.1, 0.25, 0.5, 0.6, 0.7, 0.75, 0.85, 0.95, 1},
		}),

		OracleCheckTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phigital_oracle_checks_total",
			Help: "Total number of chain oracle existence checks",
		}, []string{"result"}),

		OracleCheckDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "phigital_oracle_check_duration_seconds",
			Help:    "Chain oracle check duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),

		InspectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phigital_inspections_total",
			Help: "Total number of accepted inspection reports",
		}, []string{"authenticity"}),

		EventPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phigital_event_publish_total",
			Help: "Total number of event publish operations",
		}, []string{"event_type", "status"}),
	}

	m.HTTPRequestTotal = registerOrGet(reg, m.HTTPRequestTotal)
	m.HTTPRequestDuration = registerOrGet(reg, m.HTTPRequestDuration)
	m.RecordsGeneratedTotal = registerOrGet(reg, m.RecordsGeneratedTotal)
	m.ChannelVerifyTotal = registerOrGet(reg, m.ChannelVerifyTotal)
	m.VerificationTotal = registerOrGet(reg, m.VerificationTotal)
	m.VerificationConfidence = registerOrGet(reg, m.VerificationConfidence)
	m.OracleCheckTotal = registerOrGet(reg, m.OracleCheckTotal)
	m.OracleCheckDuration = registerOrGet(reg, m.OracleCheckDuration)
	m.InspectionTotal = registerOrGet(reg, m.InspectionTotal)
	m.EventPublishTotal = registerOrGet(reg, m.EventPublishTotal)
	return m
}

// NewNop returns metrics registered nowhere, for callers that do not export them.
func NewNop() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// registerOrGet registers c, returning the existing collector if one is already registered
func registerOrGet[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}
