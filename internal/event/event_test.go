package event

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewPublisherWithoutURLIsNoop(t *testing.T) {
	p := NewPublisher("", zaptest.NewLogger(t), nil)
	assert.NoError(t, p.Publish(context.Background(), TypeTagRevoked, "nfc-1", TagRevoked{TagID: "nfc-1"}))
	assert.NoError(t, p.Close())
}

func TestNewPublisherUnreachableFallsBack(t *testing.T) {
	p := NewPublisher("nats://127.0.0.1:1", zaptest.NewLogger(t), nil)
	_, isNoop := p.(noop)
	assert.True(t, isNoop)
}

func TestEnvelopeShape(t *testing.T) {
	env := EventEnvelope{
		Type:       TypeVerificationCompleted,
		Version:    "1.0.0",
		OccurredAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload:    VerificationCompleted{ID: "01H", Verified: true, Method: "both", Confidence: 0.95},
	}
	b, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, TypeVerificationCompleted, decoded["type"])
	payload := decoded["payload"].(map[string]interface{})
	assert.Equal(t, "both", payload["method"])
	assert.Equal(t, 0.95, payload["confidence"])
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	require.NoError(t, r.Publish(context.Background(), TypeTagRevoked, "a", nil))
	require.NoError(t, r.Publish(context.Background(), TypeBridgeCreated, "b", nil))
	assert.Len(t, r.Events(), 2)
	assert.Len(t, r.OfType(TypeTagRevoked), 1)
}
