package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetricsSharesCollectorsPerRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewMetrics(reg)
	b := NewMetrics(reg)

	a.VerificationTotal.WithLabelValues("qr", "true").Inc()
	b.VerificationTotal.WithLabelValues("qr", "true").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(a.VerificationTotal.WithLabelValues("qr", "true")))
}

func TestSeparateRegistriesAreIndependent(t *testing.T) {
	a := NewNop()
	b := NewNop()
	a.RecordsGeneratedTotal.WithLabelValues("nfc").Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.RecordsGeneratedTotal.WithLabelValues("nfc")))
}
