// Package verifier coordinates the QR and NFC bridges into a single physical
// asset verdict, and keeps the inspection reports and verification history
// that feed asset status and analytics.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	errordefs "github.com/RegistryAccord/registryaccord-phigital-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/event"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/model"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/nfcbridge"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/oracle"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/qrbridge"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/schema"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/storage"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/tagcrypto"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/telemetry"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Default verification page prefix for whole assets.
const DefaultAssetBaseURL = "https://phigital-nft.com/verify-asset"

// Setup instructions returned with a new bridge.
var (
	qrInstructions = []string{
		"Print the QR code and attach it securely to the physical item",
		"Ensure the QR code is clearly visible and scannable",
		"Consider using tamper-evident materials for the QR code",
	}
	nfcInstructions = []string{
		"Write the provided data to an NFC tag using an NFC writing app",
		"Embed the NFC tag securely within the physical item",
		"Test the NFC tag before finalizing the physical placement",
		"Ensure the NFC tag is protected from physical damage",
	}
	generalInstructions = []string{
		"Test the verification process after setup",
		"Document the physical bridge installation",
		"Store backup verification data securely",
	}
)

// Options tunes a Verifier. Zero values select defaults, except
// NFCReadLatency where zero disables the simulated read delay.
type Options struct {
	QRBaseURL          string
	NFCBaseURL         string
	AssetBaseURL       string
	NFCReadLatency     time.Duration
	ScanSessionTimeout time.Duration
	Prober             nfcbridge.CapabilityProber
	Publisher          event.Publisher
	Metrics            *metrics.Metrics
	TracerProvider     trace.TracerProvider
	Clock              func() time.Time
}

// Verifier owns a QR bridge and an NFC bridge over one store.
type Verifier struct {
	store        storage.Store
	qr           *qrbridge.Bridge
	nfc          *nfcbridge.Bridge
	hasher       *tagcrypto.Hasher
	validator    *schema.Validator
	events       event.Publisher
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	logger       *zap.Logger
	assetBaseURL string
	now          func() time.Time
}

// New builds a Verifier and its bridges.
func New(store storage.Store, hasher *tagcrypto.Hasher, o oracle.Oracle, logger *zap.Logger, opts Options) (*Verifier, error) {
	validator, err := schema.NewValidator()
	if err != nil {
		return nil, err
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	if opts.Publisher == nil {
		opts.Publisher = event.NewNoop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.AssetBaseURL == "" {
		opts.AssetBaseURL = DefaultAssetBaseURL
	}

	qrOpts := []qrbridge.Option{qrbridge.WithBaseURL(opts.QRBaseURL), qrbridge.WithClock(opts.Clock)}
	nfcOpts := []nfcbridge.Option{
		nfcbridge.WithBaseURL(opts.NFCBaseURL),
		nfcbridge.WithReadLatency(opts.NFCReadLatency),
		nfcbridge.WithSessionTimeout(opts.ScanSessionTimeout),
		nfcbridge.WithPublisher(opts.Publisher),
		nfcbridge.WithClock(opts.Clock),
	}
	if opts.Prober != nil {
		nfcOpts = append(nfcOpts, nfcbridge.WithProber(opts.Prober))
	}

	return &Verifier{
		store:        store,
		qr:           qrbridge.New(store, hasher, o, logger.Named("qr"), opts.Metrics, qrOpts...),
		nfc:          nfcbridge.New(store, hasher, o, logger.Named("nfc"), opts.Metrics, nfcOpts...),
		hasher:       hasher,
		validator:    validator,
		events:       opts.Publisher,
		metrics:      opts.Metrics,
		tracer:       telemetry.Tracer(opts.TracerProvider),
		logger:       logger,
		assetBaseURL: opts.AssetBaseURL,
		now:          opts.Clock,
	}, nil
}

// Bridges exposes the owned bridges for direct use.
type Bridges struct {
	QR  *qrbridge.Bridge
	NFC *nfcbridge.Bridge
}

// Bridges returns the QR and NFC bridges.
func (v *Verifier) Bridges() Bridges {
	return Bridges{QR: v.qr, NFC: v.nfc}
}

func (v *Verifier) publish(ctx context.Context, eventType, id string, payload interface{}) {
	if err := v.events.Publish(ctx, eventType, id, payload); err != nil {
		v.logger.Warn("failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}

// CreatePhysicalBridge generates the requested QR and NFC bindings for a token.
func (v *Verifier) CreatePhysicalBridge(ctx context.Context, data model.CreationData) (model.BridgeResult, error) {
	ctx, span := v.tracer.Start(ctx, "verifier.CreatePhysicalBridge",
		trace.WithAttributes(attribute.Int64("phigital.token_id", data.TokenID)))
	defer span.End()

	if data.NetworkID == 0 {
		data.NetworkID = model.DefaultNetworkID
	}
	if err := v.validate(schema.CreationData, data); err != nil {
		return model.BridgeResult{}, err
	}
	if data.Metadata != nil {
		if err := v.validate(schema.Metadata, data.Metadata); err != nil {
			return model.BridgeResult{}, err
		}
	}
	wantQR, wantNFC := false, false
	for _, m := range data.VerificationMethods {
		switch m {
		case model.MethodQR:
			wantQR = true
		case model.MethodNFC:
			wantNFC = true
		}
	}

	result := model.BridgeResult{
		VerificationURL: fmt.Sprintf("%s/%d", v.assetBaseURL, data.TokenID),
	}
	payload := event.BridgeCreated{TokenID: data.TokenID, ContractAddress: data.ContractAddress, NetworkID: data.NetworkID}

	if wantQR {
		qr, err := v.qr.CreatePhysicalQRCode(ctx, data.TokenID, data.ContractAddress, data.NetworkID,
			qrbridge.CreateOptions{Format: qrbridge.FormatJSON, Metadata: data.Metadata})
		if err != nil {
			return model.BridgeResult{}, err
		}
		result.QRCode = &qr
		result.SetupInstructions = append(result.SetupInstructions, qrInstructions...)
		payload.Methods = append(payload.Methods, string(model.MethodQR))
		payload.VerificationHash = qr.Record.VerificationHash
	}

	if wantNFC {
		rec, err := v.nfc.GenerateNFCData(ctx, data.TokenID, data.ContractAddress, data.NetworkID, data.Metadata)
		if err != nil {
			return model.BridgeResult{}, err
		}
		wd, err := v.nfc.PrepareTagForWriting(ctx, rec)
		if err != nil {
			return model.BridgeResult{}, err
		}
		result.NFCTag = &model.PreparedTag{Tag: rec.Public(), WriteData: wd}
		result.SetupInstructions = append(result.SetupInstructions, nfcInstructions...)
		payload.Methods = append(payload.Methods, string(model.MethodNFC))
		payload.TagID = rec.TagID
	}

	result.SetupInstructions = append(result.SetupInstructions, generalInstructions...)

	v.publish(ctx, event.TypeBridgeCreated, ulid.Make().String(), payload)
	v.logger.Info("physical bridge created", zap.Int64("tokenId", data.TokenID), zap.Strings("methods", payload.Methods))
	return result, nil
}

// validate runs a schema check and converts violations into a validation error.
func (v *Verifier) validate(document string, doc interface{}) error {
	err := v.validator.Validate(document, doc)
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		return errordefs.NewWithDetails(errordefs.PHG_VALIDATION, "invalid "+document, "", verr.Problems)
	}
	return err
}
