package nfcbridge

import (
	"context"
	"strings"
	"testing"
	"time"

	errordefs "github.com/RegistryAccord/registryaccord-phigital-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/event"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/model"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/oracle"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/storage"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/tagcrypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const contract = "0x1234567890abcdef1234567890abcdef12345678"

func newBridge(t *testing.T, opts ...Option) (*Bridge, storage.Store) {
	t.Helper()
	h, err := tagcrypto.NewHasher([]byte("nfc-bridge-test-secret-012345678"))
	require.NoError(t, err)
	store := storage.NewMemory()
	t.Cleanup(func() { _ = store.Close() })
	opts = append([]Option{WithReadLatency(0)}, opts...)
	return New(store, h, oracle.Minimal{}, zaptest.NewLogger(t), nil, opts...), store
}

func TestGenerateNFCData(t *testing.T) {
	b, store := newBridge(t)
	ctx := context.Background()

	rec, err := b.GenerateNFCData(ctx, 7, contract, 1, &model.Metadata{Name: "Vase"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rec.TagID, "nfc-"))
	assert.Len(t, rec.EncryptionKey, tagcrypto.TagKeyLen)

	key, err := store.GetTagKey(ctx, rec.TagID)
	require.NoError(t, err)
	assert.Equal(t, rec.EncryptionKey, key)

	other, err := b.GenerateNFCData(ctx, 7, contract, 1, nil)
	require.NoError(t, err)
	assert.NotEqual(t, rec.TagID, other.TagID)
	assert.NotEqual(t, rec.VerificationHash, other.VerificationHash)

	_, err = b.GenerateNFCData(ctx, 1, "", 1, nil)
	assert.Equal(t, errordefs.PHG_VALIDATION, errordefs.CodeOf(err))
}

func TestPrepareAndVerify(t *testing.T) {
	b, _ := newBridge(t, WithBaseURL("https://verify.example/nfc"))
	ctx := context.Background()

	rec, err := b.GenerateNFCData(ctx, 7, contract, 1, &model.Metadata{Name: "Vase"})
	require.NoError(t, err)
	wd, err := b.PrepareTagForWriting(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, rec.TagID, wd.TagID)
	assert.Equal(t, "https://verify.example/nfc/"+rec.TagID, wd.PublicData.VerificationURL)
	assert.Equal(t, int64(7), wd.PublicData.TokenID)
	assert.NotContains(t, wd.EncryptedData, rec.VerificationHash)

	res, err := b.VerifyNFCTag(ctx, rec.TagID, wd.EncryptedData)
	require.NoError(t, err)
	require.True(t, res.Valid, res.Error)
	assert.Equal(t, "Vase", res.Metadata.Name)

	res, err = b.VerifyNFCTag(ctx, rec.TagID, "")
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestPrepareUsesRegisteredKey(t *testing.T) {
	b, _ := newBridge(t)
	ctx := context.Background()
	rec, err := b.GenerateNFCData(ctx, 2, contract, 1, nil)
	require.NoError(t, err)

	stripped := rec
	stripped.EncryptionKey = ""
	wd, err := b.PrepareTagForWriting(ctx, stripped)
	require.NoError(t, err)

	res, err := b.VerifyNFCTag(ctx, rec.TagID, wd.EncryptedData)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestPayloadSealedForAnotherTagFails(t *testing.T) {
	b, _ := newBridge(t)
	ctx := context.Background()
	a, err := b.GenerateNFCData(ctx, 1, contract, 1, nil)
	require.NoError(t, err)
	c, err := b.GenerateNFCData(ctx, 1, contract, 1, nil)
	require.NoError(t, err)

	wdA, err := b.PrepareTagForWriting(ctx, a)
	require.NoError(t, err)

	res, err := b.VerifyNFCTag(ctx, c.TagID, wdA.EncryptedData)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, errordefs.PHG_DECRYPTION_FAILURE, res.ErrorCode)
}

func TestTamperedPayloads(t *testing.T) {
	b, _ := newBridge(t)
	ctx := context.Background()
	rec, err := b.GenerateNFCData(ctx, 1, contract, 1, nil)
	require.NoError(t, err)
	wd, err := b.PrepareTagForWriting(ctx, rec)
	require.NoError(t, err)

	flipped := []byte(wd.EncryptedData)
	i := len(flipped) / 2
	if flipped[i] == 'A' {
		flipped[i] = 'B'
	} else {
		flipped[i] = 'A'
	}

	forged, err := tagcrypto.Seal(rec.EncryptionKey, rec.TagID, []byte(`{"verificationHash":"00000000000000000000000000000000"}`))
	require.NoError(t, err)
	notJSON, err := tagcrypto.Seal(rec.EncryptionKey, rec.TagID, []byte("plain"))
	require.NoError(t, err)

	for name, payload := range map[string]string{
		"bit flip":   string(flipped),
		"not base64": "%%%",
		"wrong hash": forged,
		"not json":   notJSON,
	} {
		t.Run(name, func(t *testing.T) {
			res, err := b.VerifyNFCTag(ctx, rec.TagID, payload)
			require.NoError(t, err)
			assert.False(t, res.Valid)
			assert.Equal(t, errordefs.PHG_DECRYPTION_FAILURE, res.ErrorCode)
		})
	}
}

func TestVerifyUnknownTagAndOracle(t *testing.T) {
	ctx := context.Background()
	b, _ := newBridge(t)
	res, err := b.VerifyNFCTag(ctx, "nfc-missing", "")
	require.NoError(t, err)
	assert.Equal(t, errordefs.PHG_NOT_FOUND, res.ErrorCode)

	rec, err := b.GenerateNFCData(ctx, 0, contract, 1, nil)
	require.NoError(t, err)
	res, err = b.VerifyNFCTag(ctx, rec.TagID, "")
	require.NoError(t, err)
	assert.Equal(t, errordefs.PHG_NOT_FOUND, res.ErrorCode, "minimal oracle rejects token 0")
	assert.Equal(t, msgNotOnChain, res.Error)
}

func TestReadNFCTag(t *testing.T) {
	ctx := context.Background()
	b, _ := newBridge(t)
	rec, err := b.GenerateNFCData(ctx, 4, contract, 1, nil)
	require.NoError(t, err)

	read, err := b.ReadNFCTag(ctx, rec.TagID)
	require.NoError(t, err)
	require.True(t, read.Success)
	assert.Equal(t, rec.TagID, read.Tag.TagID)

	read, err = b.ReadNFCTag(ctx, "nfc-nope")
	require.NoError(t, err)
	assert.False(t, read.Success)
	assert.Equal(t, errordefs.PHG_NOT_FOUND, read.ErrorCode)
}

func TestReadNFCTagHonorsCancellation(t *testing.T) {
	b, _ := newBridge(t, WithReadLatency(time.Hour))
	rec, err := b.GenerateNFCData(context.Background(), 4, contract, 1, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = b.ReadNFCTag(ctx, rec.TagID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRevokeTag(t *testing.T) {
	rec := &event.Recorder{}
	b, _ := newBridge(t, WithPublisher(rec))
	ctx := context.Background()
	tag, err := b.GenerateNFCData(ctx, 5, contract, 1, nil)
	require.NoError(t, err)

	ok, err := b.RevokeTag(ctx, tag.TagID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.RevokeTag(ctx, tag.TagID)
	require.NoError(t, err)
	assert.False(t, ok)

	read, err := b.ReadNFCTag(ctx, tag.TagID)
	require.NoError(t, err)
	assert.Equal(t, errordefs.PHG_NOT_FOUND, read.ErrorCode)

	revoked := rec.OfType(event.TypeTagRevoked)
	require.Len(t, revoked, 1)
	assert.Equal(t, tag.TagID, revoked[0].ID)
}

func TestUpdateTagMetadata(t *testing.T) {
	b, store := newBridge(t)
	ctx := context.Background()
	tag, err := b.GenerateNFCData(ctx, 5, contract, 1, &model.Metadata{Name: "Old", Image: "a.png"})
	require.NoError(t, err)

	ok, err := b.UpdateTagMetadata(ctx, tag.TagID, model.Metadata{Name: "New"})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetTag(ctx, tag.TagID)
	require.NoError(t, err)
	assert.Equal(t, "New", got.Metadata.Name)
	assert.Equal(t, "a.png", got.Metadata.Image)

	ok, err = b.UpdateTagMetadata(ctx, "nfc-nope", model.Metadata{Name: "x"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckNFCSupportIsDeterministic(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		prober StaticProber
		want   Support
	}{
		{StaticProber{Supported: true, Enabled: true}, Support{Supported: true, Enabled: true}},
		{StaticProber{Supported: true, Enabled: false}, Support{Supported: true, Error: "NFC is disabled"}},
		{StaticProber{Supported: false, Enabled: true}, Support{Error: "NFC not supported on this device"}},
	} {
		b, _ := newBridge(t, WithProber(tc.prober))
		for i := 0; i < 3; i++ {
			got, err := b.CheckNFCSupport(ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		}
	}
}

func TestScanSessions(t *testing.T) {
	b, _ := newBridge(t)
	s, err := b.StartNFCScanning(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s.SessionID, "nfc-session-"))
	assert.Equal(t, int64(30000), s.TimeoutMS)

	assert.True(t, b.StopNFCScanning(s.SessionID))
	assert.False(t, b.StopNFCScanning(s.SessionID))
}

func TestGetAssetInfoFromNFC(t *testing.T) {
	b, _ := newBridge(t)
	ctx := context.Background()
	tag, err := b.GenerateNFCData(ctx, 6, contract, 1, nil)
	require.NoError(t, err)

	info, err := b.GetAssetInfoFromNFC(ctx, tag.TagID)
	require.NoError(t, err)
	assert.True(t, info.Verified)
	assert.Equal(t, model.SecurityHigh, info.SecurityLevel)
	assert.Equal(t, "Asset #6", info.Name)

	info, err = b.GetAssetInfoFromNFC(ctx, "nfc-nope")
	require.NoError(t, err)
	assert.False(t, info.Verified)
	assert.Equal(t, model.SecurityLow, info.SecurityLevel)
}

func TestStatisticsExportImport(t *testing.T) {
	b, _ := newBridge(t)
	ctx := context.Background()
	a, err := b.GenerateNFCData(ctx, 1, contract, 1, nil)
	require.NoError(t, err)
	c, err := b.GenerateNFCData(ctx, 2, contract, 1, nil)
	require.NoError(t, err)
	_, err = b.VerifyNFCTag(ctx, a.TagID, "")
	require.NoError(t, err)
	_, err = b.RevokeTag(ctx, c.TagID)
	require.NoError(t, err)

	stats, err := b.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, Statistics{TotalTags: 2, ActiveTags: 1, VerificationsPerformed: 1, RevokedTags: 1}, stats)

	exported, err := b.ExportTagData(ctx)
	require.NoError(t, err)
	require.Len(t, exported, 1)
	assert.NotEmpty(t, exported[0].EncryptionKey)

	fresh, _ := newBridge(t)
	n, err := fresh.ImportTagData(ctx, exported)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	wd, err := b.PrepareTagForWriting(ctx, a)
	require.NoError(t, err)
	res, err := fresh.VerifyNFCTag(ctx, a.TagID, wd.EncryptedData)
	require.NoError(t, err)
	assert.True(t, res.Valid, "keys travel with the export")

	require.NoError(t, b.ClearAllTags(ctx))
	stats, err = b.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ActiveTags)
}
