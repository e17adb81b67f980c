package verifier

import (
	"context"
	"errors"
	"time"

	errordefs "github.com/RegistryAccord/registryaccord-phigital-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/event"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/model"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/schema"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/storage"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/tagcrypto"
	"go.uber.org/zap"
)

// SubmitInspectionReport validates, signs and stores a report, replacing any
// earlier report for the same asset. A zero timestamp defaults to now.
func (v *Verifier) SubmitInspectionReport(ctx context.Context, rep model.InspectionReport) (model.InspectionReport, error) {
	if err := v.validate(schema.InspectionReport, rep); err != nil {
		return model.InspectionReport{}, err
	}
	if rep.Timestamp.IsZero() {
		rep.Timestamp = v.now()
	}
	// Millisecond precision survives every storage backend, so signatures
	// recomputed after a round trip still match.
	rep.Timestamp = rep.Timestamp.UTC().Truncate(time.Millisecond)
	if rep.Photos != nil {
		rep.Photos = append([]string(nil), rep.Photos...)
	}
	rep.Signature = v.hasher.InspectionSignature(rep.InspectorID, rep.AssetID, rep.Timestamp, string(rep.Authenticity))

	if err := v.store.PutInspectionReport(ctx, rep); err != nil {
		return model.InspectionReport{}, err
	}

	v.metrics.InspectionTotal.WithLabelValues(string(rep.Authenticity)).Inc()
	v.publish(ctx, event.TypeInspectionSubmitted, rep.Signature, event.InspectionSubmitted{
		AssetID:      rep.AssetID,
		InspectorID:  rep.InspectorID,
		Authenticity: string(rep.Authenticity),
	})
	v.logger.Info("inspection report submitted",
		zap.Int64("assetId", rep.AssetID),
		zap.String("inspectorId", rep.InspectorID),
		zap.String("authenticity", string(rep.Authenticity)))
	return rep, nil
}

// GetInspectionReport returns the current report for an asset.
func (v *Verifier) GetInspectionReport(ctx context.Context, assetID int64) (model.InspectionReport, error) {
	rep, found, err := v.inspectionFor(ctx, assetID)
	if err != nil {
		return model.InspectionReport{}, err
	}
	if !found {
		return model.InspectionReport{}, errordefs.New(errordefs.PHG_NOT_FOUND, "no inspection report for asset", "")
	}
	return *rep, nil
}

// VerifyInspectionSignature reports whether rep carries a signature issued
// by this verifier's secret.
func (v *Verifier) VerifyInspectionSignature(rep model.InspectionReport) bool {
	if rep.Signature == "" {
		return false
	}
	want := v.hasher.InspectionSignature(rep.InspectorID, rep.AssetID, rep.Timestamp, string(rep.Authenticity))
	return tagcrypto.Equal(want, rep.Signature)
}

func (v *Verifier) inspectionFor(ctx context.Context, assetID int64) (*model.InspectionReport, bool, error) {
	rep, err := v.store.GetInspectionReport(ctx, assetID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rep, true, nil
}

// Security score weights.
const (
	scoreQR           = 25
	scoreNFC          = 35
	scoreInspection   = 20
	scoreLastVerified = 20
)

// GetAssetVerificationStatus summarizes the bridges, inspection and
// verification history known for one asset.
func (v *Verifier) GetAssetVerificationStatus(ctx context.Context, assetID int64) (model.AssetStatus, error) {
	if assetID <= 0 {
		return model.AssetStatus{}, errordefs.Validation("assetId must be positive, got %d", assetID)
	}
	status := model.AssetStatus{AssetID: assetID}

	var err error
	if status.HasQRCode, err = v.store.HasQRRecordForToken(ctx, assetID); err != nil {
		return model.AssetStatus{}, err
	}
	if status.HasNFCTag, err = v.store.HasTagForToken(ctx, assetID); err != nil {
		return model.AssetStatus{}, err
	}
	if _, status.HasInspectionReport, err = v.inspectionFor(ctx, assetID); err != nil {
		return model.AssetStatus{}, err
	}

	history, err := v.store.ListVerificationsForAsset(ctx, assetID)
	if err != nil {
		return model.AssetStatus{}, err
	}
	status.VerificationCount = len(history)
	for i := range history {
		// Ties go to the later append.
		if status.LastVerification == nil || !history[i].Timestamp.Before(status.LastVerification.Timestamp) {
			status.LastVerification = &history[i]
		}
	}

	if status.HasQRCode {
		status.SecurityScore += scoreQR
	}
	if status.HasNFCTag {
		status.SecurityScore += scoreNFC
	}
	if status.HasInspectionReport {
		status.SecurityScore += scoreInspection
	}
	if status.LastVerification != nil && status.LastVerification.Verified {
		status.SecurityScore += scoreLastVerified
	}
	return status, nil
}

// GenerateTamperEvidenceCode issues an advisory code bound to an asset.
func (v *Verifier) GenerateTamperEvidenceCode(assetID int64) (string, error) {
	if assetID <= 0 {
		return "", errordefs.Validation("assetId must be positive, got %d", assetID)
	}
	return tagcrypto.NewTamperCode(assetID, v.now())
}

// VerifyTamperEvidenceCode reports whether code was issued for assetID.
func (v *Verifier) VerifyTamperEvidenceCode(code string, assetID int64) bool {
	return tagcrypto.VerifyTamperCode(code, assetID)
}
