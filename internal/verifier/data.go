package verifier

import (
	"context"
	"errors"

	errordefs "github.com/RegistryAccord/registryaccord-phigital-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/model"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/schema"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/storage"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// GetVerificationAnalytics aggregates the whole history in one pass.
func (v *Verifier) GetVerificationAnalytics(ctx context.Context) (model.Analytics, error) {
	history, err := v.store.ListVerifications(ctx)
	if err != nil {
		return model.Analytics{}, err
	}
	out := model.Analytics{
		TotalVerifications:        len(history),
		MethodDistribution:        map[model.VerificationMethod]int{},
		SecurityLevelDistribution: map[model.SecurityLevel]int{},
	}
	if len(history) == 0 {
		return out, nil
	}

	verified := 0
	var confidence float64
	for _, r := range history {
		if r.Verified {
			verified++
		}
		out.MethodDistribution[r.VerificationMethod]++
		out.SecurityLevelDistribution[r.SecurityLevel]++
		confidence += r.Confidence
	}
	out.SuccessRate = float64(verified) / float64(len(history))
	out.AverageConfidence = confidence / float64(len(history))
	return out, nil
}

// ClearVerificationHistory drops every recorded verdict.
func (v *Verifier) ClearVerificationHistory(ctx context.Context) error {
	if err := v.store.ClearVerifications(ctx); err != nil {
		return err
	}
	v.logger.Info("verification history cleared")
	return nil
}

// ExportVerificationData snapshots every registry, tag keys included.
func (v *Verifier) ExportVerificationData(ctx context.Context) (model.Snapshot, error) {
	var (
		snap model.Snapshot
		err  error
	)
	if snap.QRCodes, err = v.qr.ExportQRData(ctx); err != nil {
		return model.Snapshot{}, err
	}
	if snap.NFCTags, err = v.nfc.ExportTagData(ctx); err != nil {
		return model.Snapshot{}, err
	}
	if snap.InspectionReports, err = v.store.ListInspectionReports(ctx); err != nil {
		return model.Snapshot{}, err
	}
	if snap.VerificationHistory, err = v.store.ListVerifications(ctx); err != nil {
		return model.Snapshot{}, err
	}
	snap.ExportedAt = v.now().UTC()
	return snap, nil
}

// ImportVerificationData merges a snapshot into the registries. Records and
// reports replace entries with the same key; history entries whose id is
// already present are skipped.
func (v *Verifier) ImportVerificationData(ctx context.Context, snap model.Snapshot) (model.ImportSummary, error) {
	var (
		sum model.ImportSummary
		err error
	)
	if sum.QRCodes, err = v.qr.ImportQRData(ctx, snap.QRCodes); err != nil {
		return sum, err
	}
	if sum.NFCTags, err = v.nfc.ImportTagData(ctx, snap.NFCTags); err != nil {
		return sum, err
	}
	for _, rep := range snap.InspectionReports {
		if err := v.validate(schema.InspectionReport, rep); err != nil {
			if errordefs.CodeOf(err) != errordefs.PHG_VALIDATION {
				return sum, err
			}
			v.logger.Warn("skipping invalid inspection report",
				zap.Int64("assetId", rep.AssetID), zap.Error(err))
			sum.SkippedInspectionReports++
			continue
		}
		if err := v.store.PutInspectionReport(ctx, rep); err != nil {
			return sum, err
		}
		sum.InspectionReports++
	}
	for _, res := range snap.VerificationHistory {
		if res.ID == "" {
			res.ID = ulid.Make().String()
		}
		err := v.store.AppendVerification(ctx, res)
		switch {
		case errors.Is(err, storage.ErrConflict):
			sum.SkippedVerifications++
		case err != nil:
			return sum, err
		default:
			sum.Verifications++
		}
	}

	v.logger.Info("imported verification data",
		zap.Int("qrCodes", sum.QRCodes),
		zap.Int("nfcTags", sum.NFCTags),
		zap.Int("inspectionReports", sum.InspectionReports),
		zap.Int("skippedInspectionReports", sum.SkippedInspectionReports),
		zap.Int("verifications", sum.Verifications),
		zap.Int("skipped", sum.SkippedVerifications))
	return sum, nil
}
