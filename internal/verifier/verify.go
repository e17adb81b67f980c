package verifier

import (
	"context"
	"strconv"

	"github.com/RegistryAccord/registryaccord-phigital-go/internal/event"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/model"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Warnings attached to merged verdicts.
const (
	WarnNoMethods        = "No verification methods provided"
	WarnDifferentAssets  = "QR and NFC verification methods point to different assets"
	WarnAllFailed        = "All verification methods failed"
	WarnAuthenticity     = "Physical inspection flagged potential authenticity issues"
	WarnBridgeCompromise = "Physical-digital bridge quality is compromised"
)

// Confidence values and inspection penalties.
const (
	confidenceBoth      = 0.95
	confidenceNFC       = 0.85
	confidenceQR        = 0.75
	confidenceMismatch  = 0.1
	penaltyAuthenticity = 0.7
	penaltyWeakBridging = 0.8
)

// VerifyRequest carries whatever the reader captured from the item.
type VerifyRequest struct {
	QRCode     string `json:"qrCode,omitempty"`
	NFCTagID   string `json:"nfcTagId,omitempty"`
	NFCPayload string `json:"nfcPayload,omitempty"` // encrypted data read from the tag
}

// VerifyPhysicalAsset verifies the supplied channels concurrently and merges
// them into one verdict, which is appended to the history. A cancelled
// context returns its error and leaves the history untouched.
func (v *Verifier) VerifyPhysicalAsset(ctx context.Context, req VerifyRequest) (model.PhysicalVerificationResult, error) {
	ctx, span := v.tracer.Start(ctx, "verifier.VerifyPhysicalAsset")
	defer span.End()

	res := model.PhysicalVerificationResult{
		ID:                 ulid.Make().String(),
		VerificationMethod: model.MethodNone,
		SecurityLevel:      model.SecurityLow,
		Warnings:           []string{},
		Timestamp:          v.now().UTC(),
	}

	if req.QRCode == "" && req.NFCTagID == "" {
		res.Warnings = append(res.Warnings, WarnNoMethods)
	} else {
		var (
			qrRes  *model.QRVerificationResult
			nfcRes *model.NFCVerificationResult
		)
		g, gctx := errgroup.WithContext(ctx)
		if req.QRCode != "" {
			g.Go(func() error {
				r, err := v.qr.VerifyQRCode(gctx, req.QRCode)
				if err != nil {
					return err
				}
				qrRes = &r
				return nil
			})
		}
		if req.NFCTagID != "" {
			g.Go(func() error {
				r, err := v.nfc.VerifyNFCTag(gctx, req.NFCTagID, req.NFCPayload)
				if err != nil {
					return err
				}
				nfcRes = &r
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return model.PhysicalVerificationResult{}, err
		}

		merge(&res, qrRes, nfcRes)
		if res.Verified {
			if err := v.applyInspection(ctx, &res); err != nil {
				return model.PhysicalVerificationResult{}, err
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return model.PhysicalVerificationResult{}, err
	}
	if err := v.store.AppendVerification(ctx, res); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return model.PhysicalVerificationResult{}, err
	}

	span.SetAttributes(
		attribute.String("phigital.method", string(res.VerificationMethod)),
		attribute.Bool("phigital.verified", res.Verified),
		attribute.Float64("phigital.confidence", res.Confidence),
	)
	v.metrics.VerificationTotal.WithLabelValues(string(res.VerificationMethod), strconv.FormatBool(res.Verified)).Inc()
	v.metrics.VerificationConfidence.Observe(res.Confidence)
	v.publish(ctx, event.TypeVerificationCompleted, res.ID, event.VerificationCompleted{
		ID:         res.ID,
		TokenID:    res.TokenID,
		Verified:   res.Verified,
		Method:     string(res.VerificationMethod),
		Confidence: res.Confidence,
	})
	v.logger.Info("physical verification complete",
		zap.String("id", res.ID),
		zap.String("method", string(res.VerificationMethod)),
		zap.Bool("verified", res.Verified))
	return res, nil
}

// merge applies the channel agreement rules to res.
func merge(res *model.PhysicalVerificationResult, qr *model.QRVerificationResult, nfc *model.NFCVerificationResult) {
	res.Details = model.VerificationDetails{QRResult: qr, NFCResult: nfc}
	qrValid := qr != nil && qr.Valid
	nfcValid := nfc != nil && nfc.Valid

	switch {
	case qrValid && nfcValid:
		res.VerificationMethod = model.MethodBoth
		if qr.TokenID == nfc.TokenID {
			res.Verified = true
			res.SecurityLevel = model.SecurityHigh
			res.Confidence = confidenceBoth
		} else {
			res.Warnings = append(res.Warnings, WarnDifferentAssets)
			res.Confidence = confidenceMismatch
		}
	case nfcValid:
		res.Verified = true
		res.VerificationMethod = model.MethodNFC
		res.SecurityLevel = model.SecurityHigh
		res.Confidence = confidenceNFC
	case qrValid:
		res.Verified = true
		res.VerificationMethod = model.MethodQR
		res.SecurityLevel = model.SecurityMedium
		res.Confidence = confidenceQR
	default:
		res.Warnings = append(res.Warnings, WarnAllFailed)
	}

	if !res.Verified {
		return
	}
	// NFC identity wins when both agree; they carry the same token then.
	if nfcValid {
		res.TokenID, res.ContractAddress, res.Metadata = nfc.TokenID, nfc.ContractAddress, nfc.Metadata.Clone()
	} else {
		res.TokenID, res.ContractAddress, res.Metadata = qr.TokenID, qr.ContractAddress, qr.Metadata.Clone()
	}
}

// applyInspection penalizes a verified result when the asset's inspection
// report raised concerns. Penalties compose.
func (v *Verifier) applyInspection(ctx context.Context, res *model.PhysicalVerificationResult) error {
	rep, found, err := v.inspectionFor(ctx, res.TokenID)
	if err != nil || !found {
		return err
	}
	if rep.Authenticity == model.AuthenticitySuspicious || rep.Authenticity == model.AuthenticityCounterfeit {
		res.Warnings = append(res.Warnings, WarnAuthenticity)
		res.Confidence *= penaltyAuthenticity
	}
	if rep.BridgingQuality == model.BridgingWeak {
		res.Warnings = append(res.Warnings, WarnBridgeCompromise)
		res.Confidence *= penaltyWeakBridging
	}
	return nil
}
