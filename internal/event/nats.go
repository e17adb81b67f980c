// internal/event/nats.go
// Package event provides NATS JetStream implementation for event publishing.
// It streams bridge lifecycle and verification events for audit trails.
package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/RegistryAccord/registryaccord-phigital-go/internal/metrics"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Event types, also used as NATS subjects.
const (
	TypeBridgeCreated         = "phigital.bridge.created"
	TypeVerificationCompleted = "phigital.verification.completed"
	TypeInspectionSubmitted   = "phigital.inspection.submitted"
	TypeTagRevoked            = "phigital.tag.revoked"

	streamName = "PHG_BRIDGE"
)

// Publisher defines the event publishing operations required by the verifier.
type Publisher interface {
	// Publish wraps payload in an envelope and emits it. id is used for
	// server-side deduplication and must be stable for retries.
	Publish(ctx context.Context, eventType, id string, payload interface{}) error

	// Close closes the publisher connection
	Close() error
}

// BridgeCreated is the payload of TypeBridgeCreated.
type BridgeCreated struct {
	TokenID          int64    `json:"tokenId"`
	ContractAddress  string   `json:"contractAddress"`
	NetworkID        int64    `json:"networkId"`
	Methods          []string `json:"methods"`
	VerificationHash string   `json:"verificationHash,omitempty"`
	TagID            string   `json:"tagId,omitempty"`
}

// VerificationCompleted is the payload of TypeVerificationCompleted.
type VerificationCompleted struct {
	ID         string  `json:"id"`
	TokenID    int64   `json:"tokenId,omitempty"`
	Verified   bool    `json:"verified"`
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
}

// InspectionSubmitted is the payload of TypeInspectionSubmitted.
type InspectionSubmitted struct {
	AssetID      int64  `json:"assetId"`
	InspectorID  string `json:"inspectorId"`
	Authenticity string `json:"authenticity"`
}

// TagRevoked is the payload of TypeTagRevoked.
type TagRevoked struct {
	TagID string `json:"tagId"`
}

// EventEnvelope represents the standard event envelope structure.
// All events published to NATS are wrapped in this envelope for consistency.
type EventEnvelope struct {
	Type          string      `json:"type"`          // Event type identifier
	Version       string      `json:"version"`       // Event schema version
	OccurredAt    time.Time   `json:"occurredAt"`    // When the event occurred
	CorrelationID string      `json:"correlationId"` // Correlation ID for tracing
	Payload       interface{} `json:"payload"`       // Event-specific data
}

// noop is used when NATS is not configured.
type noop struct{}

// NewNoop returns a publisher that drops every event.
func NewNoop() Publisher { return noop{} }

func (noop) Publish(ctx context.Context, eventType, id string, payload interface{}) error { return nil }
func (noop) Close() error                                                                 { return nil }

// natsPub is the NATS JetStream implementation of Publisher.
type natsPub struct {
	nc      *nats.Conn            // NATS connection
	js      nats.JetStreamContext // JetStream context for stream operations
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewPublisher connects to url. If url is empty or the connection fails it
// returns a no-op publisher so the service keeps running without events.
func NewPublisher(url string, logger *zap.Logger, m *metrics.Metrics) Publisher {
	if url == "" {
		return noop{}
	}

	nc, err := nats.Connect(url, nats.Name("phigitald"))
	if err != nil {
		logger.Warn("NATS connect failed, using noop publisher", zap.Error(err))
		return noop{}
	}

	js, err := nc.JetStream()
	if err != nil {
		logger.Warn("NATS JetStream context creation failed, using noop publisher", zap.Error(err))
		nc.Close()
		return noop{}
	}

	if err := initStream(js); err != nil {
		logger.Warn("NATS stream initialization failed, using noop publisher", zap.Error(err))
		nc.Close()
		return noop{}
	}

	return &natsPub{nc: nc, js: js, logger: logger, metrics: m}
}

// initStream creates the PHG_BRIDGE stream. The duplicate window lets
// JetStream drop retried publishes carrying the same message id.
func initStream(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:       streamName,
		Subjects:   []string{"phigital.>"},
		Retention:  nats.LimitsPolicy,
		MaxAge:     7 * 24 * time.Hour,
		Discard:    nats.DiscardOld,
		Storage:    nats.FileStorage,
		Duplicates: 2 * time.Minute,
	})
	return eris.Wrapf(err, "create %s stream", streamName)
}

// Close closes the NATS connection.
func (p *natsPub) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

// Publish implements Publisher.
func (p *natsPub) Publish(ctx context.Context, eventType, id string, payload interface{}) error {
	envelope := EventEnvelope{
		Type:          eventType,
		Version:       "1.0.0",
		OccurredAt:    time.Now().UTC(),
		CorrelationID: uuid.New().String(),
		Payload:       payload,
	}

	b, err := json.Marshal(envelope)
	if err != nil {
		return eris.Wrap(err, "marshal event envelope")
	}

	_, err = p.js.Publish(eventType, b, nats.Context(ctx), nats.MsgId(eventType+":"+id))
	status := "ok"
	if err != nil {
		status = "error"
	}
	if p.metrics != nil {
		p.metrics.EventPublishTotal.WithLabelValues(eventType, status).Inc()
	}
	return eris.Wrapf(err, "publish %s", eventType)
}
