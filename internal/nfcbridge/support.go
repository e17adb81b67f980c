package nfcbridge

import "context"

// Support describes the NFC capability of the reading device.
type Support struct {
	Supported bool   `json:"supported"`
	Enabled   bool   `json:"enabled"`
	Error     string `json:"error,omitempty"`
}

// CapabilityProber reports whether NFC can be used.
type CapabilityProber interface {
	Probe(ctx context.Context) (Support, error)
}

// StaticProber returns a fixed answer, typically taken from configuration.
type StaticProber struct {
	Supported bool
	Enabled   bool
}

// Probe implements CapabilityProber.
func (p StaticProber) Probe(ctx context.Context) (Support, error) {
	if err := ctx.Err(); err != nil {
		return Support{}, err
	}
	s := Support{Supported: p.Supported, Enabled: p.Supported && p.Enabled}
	switch {
	case !s.Supported:
		s.Error = "NFC not supported on this device"
	case !s.Enabled:
		s.Error = "NFC is disabled"
	}
	return s, nil
}

// ProberFunc adapts a function to CapabilityProber.
type ProberFunc func(ctx context.Context) (Support, error)

// Probe implements CapabilityProber.
func (f ProberFunc) Probe(ctx context.Context) (Support, error) { return f(ctx) }
