// Package conformance checks the verification properties every storage
// backend must preserve. The same suite runs against each Store.
package conformance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	errordefs "github.com/RegistryAccord/registryaccord-phigital-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/jwks"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/model"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/oracle"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/qrbridge"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/server"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/storage"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/tagcrypto"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/verifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const contract = "0x1234567890abcdef1234567890abcdef12345678"

// StoreFactory opens an empty store for one test. The harness closes it.
type StoreFactory func(t *testing.T) storage.Store

// Harness runs the property suite over stores from one factory.
type Harness struct {
	newStore StoreFactory
	hasher   *tagcrypto.Hasher
}

// NewHarness creates a harness. All verifiers it builds share one secret so
// snapshots move between them.
func NewHarness(newStore StoreFactory) (*Harness, error) {
	h, err := tagcrypto.NewHasher([]byte("conformance-secret-0123456789abcdef"))
	if err != nil {
		return nil, err
	}
	return &Harness{newStore: newStore, hasher: h}, nil
}

func (h *Harness) verifier(t *testing.T) *verifier.Verifier {
	t.Helper()
	store := h.newStore(t)
	t.Cleanup(func() { _ = store.Close() })
	v, err := verifier.New(store, h.hasher, oracle.Minimal{}, zaptest.NewLogger(t), verifier.Options{})
	require.NoError(t, err)
	return v
}

// RunConformanceTests runs every property.
func (h *Harness) RunConformanceTests(t *testing.T) {
	t.Run("HealthEndpoints", h.testHealthEndpoints)
	t.Run("QRRoundTrip", h.testQRRoundTrip)
	t.Run("QRHashMutation", h.testQRHashMutation)
	t.Run("NFCPayloadBinding", h.testNFCPayloadBinding)
	t.Run("Revocation", h.testRevocation)
	t.Run("MergeRules", h.testMergeRules)
	t.Run("Analytics", h.testAnalytics)
	t.Run("ExportImport", h.testExportImport)
}

func (h *Harness) testHealthEndpoints(t *testing.T) {
	store := h.newStore(t)
	t.Cleanup(func() { _ = store.Close() })
	v, err := verifier.New(store, h.hasher, oracle.Minimal{}, zaptest.NewLogger(t), verifier.Options{})
	require.NoError(t, err)

	srv := httptest.NewServer(server.New(v, store, zaptest.NewLogger(t), server.Config{
		JWTIssuer:   "test-issuer",
		JWTAudience: "test-audience",
	}, server.WithJWKSClient(jwks.NewTestClient())).Handler())
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func (h *Harness) testQRRoundTrip(t *testing.T) {
	ctx := context.Background()
	qr := h.verifier(t).Bridges().QR

	for _, format := range []qrbridge.Format{qrbridge.FormatJSON, qrbridge.FormatURL} {
		t.Run(string(format), func(t *testing.T) {
			rec, err := qr.GenerateQRData(ctx, 7, contract, 137, &model.Metadata{Name: "Chair"})
			require.NoError(t, err)
			code, err := qr.GenerateQRCodeString(rec, format)
			require.NoError(t, err)

			res, err := qr.VerifyQRCode(ctx, code)
			require.NoError(t, err)
			require.True(t, res.Valid, res.Error)
			assert.Equal(t, rec.TokenID, res.TokenID)
			assert.Equal(t, rec.ContractAddress, res.ContractAddress)
			assert.Equal(t, rec.NetworkID, res.NetworkID)
			require.NotNil(t, res.Metadata)
			assert.Equal(t, "Chair", res.Metadata.Name)
		})
	}
}

func (h *Harness) testQRHashMutation(t *testing.T) {
	ctx := context.Background()
	qr := h.verifier(t).Bridges().QR

	rec, err := qr.GenerateQRData(ctx, 7, contract, 1, nil)
	require.NoError(t, err)

	for i := range rec.VerificationHash {
		mutated := rec
		b := []byte(rec.VerificationHash)
		if b[i] == 'a' {
			b[i] = 'b'
		} else {
			b[i] = 'a'
		}
		mutated.VerificationHash = string(b)
		raw, err := json.Marshal(mutated)
		require.NoError(t, err)

		res, err := qr.VerifyQRCode(ctx, string(raw))
		require.NoError(t, err)
		assert.False(t, res.Valid, "position %d", i)
		assert.Equal(t, errordefs.PHG_HASH_MISMATCH, res.ErrorCode, "position %d", i)
	}
}

func (h *Harness) testNFCPayloadBinding(t *testing.T) {
	ctx := context.Background()
	v := h.verifier(t)

	bridge := func(tokenID int64) *model.PreparedTag {
		res, err := v.CreatePhysicalBridge(ctx, model.CreationData{
			TokenID:             tokenID,
			ContractAddress:     contract,
			VerificationMethods: []model.VerificationMethod{model.MethodNFC},
		})
		require.NoError(t, err)
		require.NotNil(t, res.NFCTag)
		return res.NFCTag
	}
	a, b := bridge(7), bridge(8)
	nfc := v.Bridges().NFC

	res, err := nfc.VerifyNFCTag(ctx, a.Tag.TagID, a.WriteData.EncryptedData)
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Error)
	assert.Equal(t, int64(7), res.TokenID)

	res, err = nfc.VerifyNFCTag(ctx, a.Tag.TagID, b.WriteData.EncryptedData)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, errordefs.PHG_DECRYPTION_FAILURE, res.ErrorCode)
}

func (h *Harness) testRevocation(t *testing.T) {
	ctx := context.Background()
	nfc := h.verifier(t).Bridges().NFC

	rec, err := nfc.GenerateNFCData(ctx, 7, contract, 1, nil)
	require.NoError(t, err)

	revoked, err := nfc.RevokeTag(ctx, rec.TagID)
	require.NoError(t, err)
	assert.True(t, revoked)

	read, err := nfc.ReadNFCTag(ctx, rec.TagID)
	require.NoError(t, err)
	assert.False(t, read.Success)
	assert.Equal(t, errordefs.PHG_NOT_FOUND, read.ErrorCode)

	revoked, err = nfc.RevokeTag(ctx, rec.TagID)
	require.NoError(t, err)
	assert.False(t, revoked)
}

// fixture creates QR and NFC bridges for tokens 7 and 9.
type fixture struct {
	qr  map[int64]string
	tag map[int64]string
}

func (h *Harness) bridges(t *testing.T, v *verifier.Verifier) fixture {
	t.Helper()
	f := fixture{qr: map[int64]string{}, tag: map[int64]string{}}
	for _, id := range []int64{7, 9} {
		res, err := v.CreatePhysicalBridge(context.Background(), model.CreationData{
			TokenID:             id,
			ContractAddress:     contract,
			VerificationMethods: []model.VerificationMethod{model.MethodQR, model.MethodNFC},
		})
		require.NoError(t, err)
		f.qr[id] = res.QRCode.QRString
		f.tag[id] = res.NFCTag.Tag.TagID
	}
	return f
}

func (h *Harness) testMergeRules(t *testing.T) {
	ctx := context.Background()
	v := h.verifier(t)
	f := h.bridges(t, v)

	tests := []struct {
		name       string
		req        verifier.VerifyRequest
		method     model.VerificationMethod
		verified   bool
		confidence float64
		warnings   int
	}{
		{"same asset", verifier.VerifyRequest{QRCode: f.qr[7], NFCTagID: f.tag[7]}, model.MethodBoth, true, 0.95, 0},
		{"different assets", verifier.VerifyRequest{QRCode: f.qr[7], NFCTagID: f.tag[9]}, model.MethodBoth, false, 0.1, 1},
		{"qr only", verifier.VerifyRequest{QRCode: f.qr[7]}, model.MethodQR, true, 0.75, 0},
		{"nfc only", verifier.VerifyRequest{NFCTagID: f.tag[9]}, model.MethodNFC, true, 0.85, 0},
		{"no input", verifier.VerifyRequest{}, model.MethodNone, false, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := v.VerifyPhysicalAsset(ctx, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.method, res.VerificationMethod)
			assert.Equal(t, tt.verified, res.Verified)
			assert.InDelta(t, tt.confidence, res.Confidence, 1e-9)
			assert.Len(t, res.Warnings, tt.warnings)
		})
	}
}

func (h *Harness) testAnalytics(t *testing.T) {
	ctx := context.Background()
	v := h.verifier(t)

	empty, err := v.GetVerificationAnalytics(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalVerifications)
	assert.Zero(t, empty.SuccessRate)

	f := h.bridges(t, v)
	for _, req := range []verifier.VerifyRequest{
		{QRCode: f.qr[7]},
		{QRCode: f.qr[9], NFCTagID: f.tag[9]},
		{QRCode: f.qr[7], NFCTagID: f.tag[9]},
	} {
		_, err := v.VerifyPhysicalAsset(ctx, req)
		require.NoError(t, err)
	}

	a, err := v.GetVerificationAnalytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, a.TotalVerifications)
	assert.InDelta(t, 2.0/3.0, a.SuccessRate, 1e-12)
	assert.Equal(t, 2, a.MethodDistribution[model.MethodBoth])
	assert.Equal(t, 1, a.MethodDistribution[model.MethodQR])
}

func (h *Harness) testExportImport(t *testing.T) {
	ctx := context.Background()
	src := h.verifier(t)
	f := h.bridges(t, src)

	_, err := src.SubmitInspectionReport(ctx, model.InspectionReport{
		InspectorID:       "inspector-1",
		AssetID:           7,
		PhysicalCondition: model.ConditionGood,
		Authenticity:      model.AuthenticityVerified,
		BridgingQuality:   model.BridgingSecure,
	})
	require.NoError(t, err)
	for _, req := range []verifier.VerifyRequest{
		{QRCode: f.qr[7], NFCTagID: f.tag[7]},
		{NFCTagID: f.tag[9]},
		{QRCode: f.qr[7], NFCTagID: f.tag[9]},
	} {
		_, err := src.VerifyPhysicalAsset(ctx, req)
		require.NoError(t, err)
	}

	snap, err := src.ExportVerificationData(ctx)
	require.NoError(t, err)

	dst := h.verifier(t)
	_, err = dst.ImportVerificationData(ctx, snap)
	require.NoError(t, err)

	assets := map[int64]bool{}
	for _, r := range snap.VerificationHistory {
		// Unverified results carry no asset.
		if r.TokenID > 0 {
			assets[r.TokenID] = true
		}
	}
	require.NotEmpty(t, assets)
	for id := range assets {
		want, err := src.GetAssetVerificationStatus(ctx, id)
		require.NoError(t, err)
		got, err := dst.GetAssetVerificationStatus(ctx, id)
		require.NoError(t, err)

		assert.Equal(t, want.HasQRCode, got.HasQRCode, "asset %d", id)
		assert.Equal(t, want.HasNFCTag, got.HasNFCTag, "asset %d", id)
		assert.Equal(t, want.HasInspectionReport, got.HasInspectionReport, "asset %d", id)
		assert.Equal(t, want.VerificationCount, got.VerificationCount, "asset %d", id)
		assert.Equal(t, want.SecurityScore, got.SecurityScore, "asset %d", id)
		require.NotNil(t, got.LastVerification)
		assert.Equal(t, want.LastVerification.ID, got.LastVerification.ID, "asset %d", id)
	}

	// Imported tags keep their keys.
	res, err := dst.Bridges().NFC.VerifyNFCTag(ctx, f.tag[7], "")
	require.NoError(t, err)
	assert.True(t, res.Valid)
}
