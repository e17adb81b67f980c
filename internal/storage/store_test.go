package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/RegistryAccord/registryaccord-phigital-go/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends returns a fresh instance of every embedded backend.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "phigital.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

var created = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func qrRecord(hash string, tokenID int64) model.VerificationRecord {
	return model.VerificationRecord{
		TokenID:          tokenID,
		ContractAddress:  "0xabc",
		NetworkID:        1,
		VerificationHash: hash,
		CreatedAt:        created,
		Metadata:         &model.Metadata{Name: "Asset", Attributes: []model.Attribute{{TraitType: "color", Value: "red"}}},
	}
}

func tagRecord(tagID string, tokenID int64) model.NFCTagRecord {
	return model.NFCTagRecord{
		VerificationRecord: qrRecord("h-"+tagID, tokenID),
		TagID:              tagID,
		EncryptionKey:      "key-" + tagID,
	}
}

func TestQRRecords(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.PutQRRecord(ctx, qrRecord("h1", 7)))
			require.NoError(t, s.PutQRRecord(ctx, qrRecord("h2", 9)))

			got, err := s.GetQRRecord(ctx, "h1")
			require.NoError(t, err)
			assert.Equal(t, int64(7), got.TokenID)
			assert.True(t, created.Equal(got.CreatedAt))
			require.NotNil(t, got.Metadata)
			assert.Equal(t, "red", got.Metadata.Attributes[0].Value)

			_, err = s.GetQRRecord(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			has, err := s.HasQRRecordForToken(ctx, 9)
			require.NoError(t, err)
			assert.True(t, has)
			has, err = s.HasQRRecordForToken(ctx, 10)
			require.NoError(t, err)
			assert.False(t, has)

			n, err := s.CountQRRecords(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			list, err := s.ListQRRecords(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 2)

			require.NoError(t, s.ClearQRRecords(ctx))
			n, err = s.CountQRRecords(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestTagsKeepRecordAndKeyTogether(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.PutTag(ctx, tagRecord("nfc-1", 7)))

			got, err := s.GetTag(ctx, "nfc-1")
			require.NoError(t, err)
			assert.Equal(t, "key-nfc-1", got.EncryptionKey)
			assert.Equal(t, "h-nfc-1", got.VerificationHash)

			key, err := s.GetTagKey(ctx, "nfc-1")
			require.NoError(t, err)
			assert.Equal(t, "key-nfc-1", key)

			require.NoError(t, s.UpdateTagMetadata(ctx, "nfc-1", &model.Metadata{Name: "Renamed"}))
			got, err = s.GetTag(ctx, "nfc-1")
			require.NoError(t, err)
			assert.Equal(t, "Renamed", got.Metadata.Name)
			assert.ErrorIs(t, s.UpdateTagMetadata(ctx, "nfc-x", &model.Metadata{}), ErrNotFound)

			has, err := s.HasTagForToken(ctx, 7)
			require.NoError(t, err)
			assert.True(t, has)

			existed, err := s.DeleteTag(ctx, "nfc-1")
			require.NoError(t, err)
			assert.True(t, existed)

			_, err = s.GetTag(ctx, "nfc-1")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetTagKey(ctx, "nfc-1")
			assert.ErrorIs(t, err, ErrNotFound, "key must go with the record")

			existed, err = s.DeleteTag(ctx, "nfc-1")
			require.NoError(t, err)
			assert.False(t, existed)
		})
	}
}

func TestClearTagsDropsKeys(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.PutTag(ctx, tagRecord("nfc-1", 1)))
			require.NoError(t, s.PutTag(ctx, tagRecord("nfc-2", 2)))

			list, err := s.ListTags(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "key-nfc-2", list[1].EncryptionKey)

			require.NoError(t, s.ClearTags(ctx))
			_, err = s.GetTagKey(ctx, "nfc-2")
			assert.ErrorIs(t, err, ErrNotFound)
			n, err := s.CountTags(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestInspectionReportsReplace(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rep := model.InspectionReport{
				InspectorID: "insp-1", AssetID: 7,
				PhysicalCondition: model.ConditionGood, Authenticity: model.AuthenticityVerified,
				BridgingQuality: model.BridgingSecure, Photos: []string{"a.jpg"},
				Timestamp: created, Signature: "sig-1",
			}
			require.NoError(t, s.PutInspectionReport(ctx, rep))
			rep.Authenticity = model.AuthenticitySuspicious
			rep.Signature = "sig-2"
			require.NoError(t, s.PutInspectionReport(ctx, rep))

			got, err := s.GetInspectionReport(ctx, 7)
			require.NoError(t, err)
			assert.Equal(t, model.AuthenticitySuspicious, got.Authenticity)
			assert.Equal(t, []string{"a.jpg"}, got.Photos)

			list, err := s.ListInspectionReports(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 1)

			_, err = s.GetInspectionReport(ctx, 8)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestHistoryAppendOnly(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := model.PhysicalVerificationResult{ID: "a", Verified: true, VerificationMethod: model.MethodQR, TokenID: 7, Confidence: 0.75, SecurityLevel: model.SecurityMedium, Warnings: []string{}, Timestamp: created}
			b := model.PhysicalVerificationResult{ID: "b", VerificationMethod: model.MethodNone, SecurityLevel: model.SecurityLow, Warnings: []string{"No verification methods provided"}, Timestamp: created.Add(time.Second)}
			require.NoError(t, s.AppendVerification(ctx, a))
			require.NoError(t, s.AppendVerification(ctx, b))
			assert.ErrorIs(t, s.AppendVerification(ctx, a), ErrConflict)

			all, err := s.ListVerifications(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "a", all[0].ID)
			assert.Equal(t, "b", all[1].ID)

			mine, err := s.ListVerificationsForAsset(ctx, 7)
			require.NoError(t, err)
			require.Len(t, mine, 1)
			assert.Equal(t, 0.75, mine[0].Confidence)

			require.NoError(t, s.ClearVerifications(ctx))
			all, err = s.ListVerifications(ctx)
			require.NoError(t, err)
			assert.Empty(t, all)
			require.NoError(t, s.AppendVerification(ctx, a), "cleared ids can be appended again")
		})
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	rec := qrRecord("h1", 1)
	require.NoError(t, s.PutQRRecord(ctx, rec))
	rec.Metadata.Name = "mutated"

	got, err := s.GetQRRecord(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "Asset", got.Metadata.Name)
	got.Metadata.Name = "again"

	got2, err := s.GetQRRecord(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "Asset", got2.Metadata.Name)
}

func TestPing(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, s.Ping(context.Background()))
		})
	}
}
