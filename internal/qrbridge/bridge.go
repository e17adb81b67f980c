// Package qrbridge pairs tokens with printable QR codes and verifies scanned codes.
//
// A QR code carries a verification record either as JSON or as a verification
// URL. Both forms embed a keyed hash over the token's public fields, so a code
// can only be forged by someone holding the service's hash secret.
package qrbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	errordefs "github.com/RegistryAccord/registryaccord-phigital-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/model"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/oracle"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/storage"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/tagcrypto"
	"go.uber.org/zap"
)

// DefaultBaseURL is the verification page encoded into URL-format codes.
const DefaultBaseURL = "https://phigital-nft.com/verify"

// Format selects the QR payload encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatURL  Format = "url"
)

// Result messages.
const (
	msgInvalidFormat = "Invalid QR code data format"
	msgParseFailed   = "Failed to parse QR code"
	msgHashMismatch  = "Invalid verification hash"
	msgNotOnChain    = "Asset not found on blockchain"
	msgUnavailable   = "Chain oracle unavailable"
)

// Bridge generates and verifies QR verification records.
type Bridge struct {
	store   storage.QRStore
	hasher  *tagcrypto.Hasher
	oracle  oracle.Oracle
	logger  *zap.Logger
	metrics *metrics.Metrics
	baseURL string
	now     func() time.Time

	generated atomic.Int64
	attempts  atomic.Int64
	verified  atomic.Int64
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithBaseURL overrides the verification page used by URL-format codes.
func WithBaseURL(base string) Option {
	return func(b *Bridge) {
		if base != "" {
			b.baseURL = base
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

// New creates a Bridge over store. A nil metrics collects into a private registry.
func New(store storage.QRStore, hasher *tagcrypto.Hasher, o oracle.Oracle, logger *zap.Logger, m *metrics.Metrics, opts ...Option) *Bridge {
	if m == nil {
		m = metrics.NewNop()
	}
	b := &Bridge{
		store:   store,
		hasher:  hasher,
		oracle:  o,
		logger:  logger,
		metrics: m,
		baseURL: DefaultBaseURL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// GenerateQRData computes the verification hash for a token and registers the record.
func (b *Bridge) GenerateQRData(ctx context.Context, tokenID int64, contractAddress string, networkID int64, md *model.Metadata) (model.VerificationRecord, error) {
	if err := model.ValidateTokenRef(tokenID, contractAddress, networkID); err != nil {
		return model.VerificationRecord{}, err
	}

	rec := model.VerificationRecord{
		TokenID:          tokenID,
		ContractAddress:  contractAddress,
		NetworkID:        networkID,
		VerificationHash: b.hasher.QRHash(tokenID, contractAddress, networkID),
		CreatedAt:        b.now().UTC(),
		Metadata:         md.Clone(),
	}
	if err := b.store.PutQRRecord(ctx, rec); err != nil {
		return model.VerificationRecord{}, err
	}

	b.generated.Add(1)
	b.metrics.RecordsGeneratedTotal.WithLabelValues("qr").Inc()
	b.logger.Info("generated QR record", zap.Int64("tokenId", tokenID), zap.Int64("networkId", networkID))
	return rec, nil
}

// GenerateQRCodeString encodes rec in the requested format. The result parses
// back to the same record through VerifyQRCode.
func (b *Bridge) GenerateQRCodeString(rec model.VerificationRecord, format Format) (string, error) {
	switch format {
	case FormatURL:
		sep := "?"
		if strings.Contains(b.baseURL, "?") {
			sep = "&"
		}
		return fmt.Sprintf("%s%sh=%s&t=%d&c=%s&n=%d", b.baseURL, sep,
			url.QueryEscape(rec.VerificationHash), rec.TokenID,
			url.QueryEscape(rec.ContractAddress), rec.NetworkID), nil
	case FormatJSON, "":
		raw, err := json.Marshal(rec)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	default:
		return "", errordefs.New(errordefs.PHG_INVALID_FORMAT, fmt.Sprintf("unknown QR format %q", format), "")
	}
}

// payload is a scanned QR code before validation. Pointers distinguish absent fields.
type payload struct {
	VerificationHash *string         `json:"verificationHash"`
	TokenID          *int64          `json:"tokenId"`
	ContractAddress  *string         `json:"contractAddress"`
	NetworkID        *int64          `json:"networkId"`
	Metadata         *model.Metadata `json:"metadata,omitempty"`
}

func isURL(code string) bool {
	lower := strings.ToLower(strings.TrimSpace(code))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func parseURL(code string) (payload, error) {
	u, err := url.Parse(strings.TrimSpace(code))
	if err != nil {
		return payload{}, err
	}
	q := u.Query()
	var p payload
	if h := q.Get("h"); h != "" {
		p.VerificationHash = &h
	}
	if c := q.Get("c"); c != "" {
		p.ContractAddress = &c
	}
	if t := q.Get("t"); t != "" {
		id, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return payload{}, err
		}
		p.TokenID = &id
	}
	if n := q.Get("n"); n != "" {
		id, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return payload{}, err
		}
		p.NetworkID = &id
	}
	return p, nil
}

// VerifyQRCode checks a scanned code. Domain failures are reported in the
// result; the error is reserved for cancellation and storage failures.
//
// A code that no longer parses is PHG_INVALID_FORMAT even when the damage is
// inside the hash, such as a '#' in the URL form or a '"' in the JSON form.
// Such codes are still rejected.
func (b *Bridge) VerifyQRCode(ctx context.Context, code string) (model.QRVerificationResult, error) {
	if err := ctx.Err(); err != nil {
		return model.QRVerificationResult{}, err
	}
	b.attempts.Add(1)

	res, err := b.verify(ctx, code)
	if err != nil {
		return model.QRVerificationResult{}, err
	}

	outcome := "valid"
	if res.Valid {
		b.verified.Add(1)
	} else {
		outcome = string(res.ErrorCode)
		b.logger.Debug("QR verification failed", zap.String("code", outcome), zap.String("reason", res.Error))
	}
	b.metrics.ChannelVerifyTotal.WithLabelValues("qr", outcome).Inc()
	return res, nil
}

func (b *Bridge) verify(ctx context.Context, code string) (model.QRVerificationResult, error) {
	var (
		p   payload
		err error
	)
	if isURL(code) {
		p, err = parseURL(code)
	} else {
		err = json.Unmarshal([]byte(code), &p)
	}
	if err != nil {
		return failure(errordefs.PHG_INVALID_FORMAT, msgParseFailed), nil
	}
	if p.VerificationHash == nil || *p.VerificationHash == "" || p.TokenID == nil ||
		p.ContractAddress == nil || *p.ContractAddress == "" {
		return failure(errordefs.PHG_INVALID_FORMAT, msgInvalidFormat), nil
	}

	networkID := model.DefaultNetworkID
	if p.NetworkID != nil && *p.NetworkID > 0 {
		networkID = *p.NetworkID
	}

	expected := b.hasher.QRHash(*p.TokenID, *p.ContractAddress, networkID)
	if !tagcrypto.Equal(expected, *p.VerificationHash) {
		return failure(errordefs.PHG_HASH_MISMATCH, msgHashMismatch), nil
	}

	stored, err := b.store.GetQRRecord(ctx, expected)
	switch {
	case err == nil:
		return model.QRVerificationResult{
			Valid:           true,
			TokenID:         stored.TokenID,
			ContractAddress: stored.ContractAddress,
			NetworkID:       stored.NetworkID,
			Metadata:        stored.Metadata,
		}, nil
	case !errors.Is(err, storage.ErrNotFound):
		return model.QRVerificationResult{}, err
	}

	exists, err := b.oracle.Exists(ctx, oracle.TokenRef{TokenID: *p.TokenID, ContractAddress: *p.ContractAddress, NetworkID: networkID})
	if err != nil {
		if ctx.Err() != nil {
			return model.QRVerificationResult{}, ctx.Err()
		}
		b.logger.Warn("chain oracle check failed", zap.Int64("tokenId", *p.TokenID), zap.Error(err))
		return failure(errordefs.PHG_UNAVAILABLE, msgUnavailable), nil
	}
	if !exists {
		return failure(errordefs.PHG_NOT_FOUND, msgNotOnChain), nil
	}
	return model.QRVerificationResult{
		Valid:           true,
		TokenID:         *p.TokenID,
		ContractAddress: *p.ContractAddress,
		NetworkID:       networkID,
	}, nil
}

func failure(code errordefs.ErrorCode, msg string) model.QRVerificationResult {
	return model.QRVerificationResult{Valid: false, ErrorCode: code, Error: msg}
}

// CreateOptions tunes CreatePhysicalQRCode.
type CreateOptions struct {
	Format   Format          // json when empty
	Metadata *model.Metadata // stored with the record
}

// CreatePhysicalQRCode generates a record and its printable form with display text.
func (b *Bridge) CreatePhysicalQRCode(ctx context.Context, tokenID int64, contractAddress string, networkID int64, opts CreateOptions) (model.PhysicalQRCode, error) {
	if networkID == 0 {
		networkID = model.DefaultNetworkID
	}
	rec, err := b.GenerateQRData(ctx, tokenID, contractAddress, networkID, opts.Metadata)
	if err != nil {
		return model.PhysicalQRCode{}, err
	}
	qr, err := b.GenerateQRCodeString(rec, opts.Format)
	if err != nil {
		return model.PhysicalQRCode{}, err
	}
	return model.PhysicalQRCode{
		Record:      rec,
		QRString:    qr,
		DisplayInfo: DisplayInfoFor(tokenID),
	}, nil
}

// DisplayInfoFor returns the text printed next to a token's QR code.
func DisplayInfoFor(tokenID int64) model.DisplayInfo {
	return model.DisplayInfo{
		Title:        fmt.Sprintf("Phigital NFT #%d", tokenID),
		Subtitle:     "Scan to verify authenticity",
		Instructions: "Use the Phigital NFT app to scan this code and verify the digital ownership of this physical item.",
	}
}

// AssetDescriptor is one input of BatchGenerateQRCodes.
type AssetDescriptor struct {
	TokenID         int64           `json:"tokenId"`
	ContractAddress string          `json:"contractAddress"`
	NetworkID       int64           `json:"networkId,omitempty"`
	Metadata        *model.Metadata `json:"metadata,omitempty"`
}

// BatchItem is one output of BatchGenerateQRCodes.
type BatchItem struct {
	TokenID  int64                    `json:"tokenId"`
	Record   model.VerificationRecord `json:"record"`
	QRString string                   `json:"qrString"`
}

// BatchGenerateQRCodes generates a JSON-format code per asset. The first
// failure aborts the batch; records generated before it stay registered.
func (b *Bridge) BatchGenerateQRCodes(ctx context.Context, assets []AssetDescriptor) ([]BatchItem, error) {
	out := make([]BatchItem, 0, len(assets))
	for i, a := range assets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		networkID := a.NetworkID
		if networkID == 0 {
			networkID = model.DefaultNetworkID
		}
		rec, err := b.GenerateQRData(ctx, a.TokenID, a.ContractAddress, networkID, a.Metadata)
		if err != nil {
			return nil, fmt.Errorf("asset %d: %w", i, err)
		}
		qr, err := b.GenerateQRCodeString(rec, FormatJSON)
		if err != nil {
			return nil, fmt.Errorf("asset %d: %w", i, err)
		}
		out = append(out, BatchItem{TokenID: a.TokenID, Record: rec, QRString: qr})
	}
	return out, nil
}

// GetAssetInfo verifies code and returns display-ready asset details.
func (b *Bridge) GetAssetInfo(ctx context.Context, code string) (model.AssetInfo, error) {
	res, err := b.VerifyQRCode(ctx, code)
	if err != nil {
		return model.AssetInfo{}, err
	}
	if !res.Valid {
		return model.AssetInfo{Verified: false, Error: res.Error}, nil
	}
	info := model.VerifiedAssetInfo(res.TokenID, res.ContractAddress, res.NetworkID, res.Metadata)
	info.SecurityLevel = model.SecurityMedium
	info.Owner, _ = oracle.Owner(ctx, b.oracle, oracle.TokenRef{TokenID: res.TokenID, ContractAddress: res.ContractAddress, NetworkID: res.NetworkID})
	return info, nil
}

// Statistics reports generation and verification counters.
type Statistics struct {
	TotalGenerated       int64 `json:"totalGenerated"`
	VerificationAttempts int64 `json:"verificationAttempts"`
	TotalVerified        int64 `json:"totalVerified"`
	CacheSize            int   `json:"cacheSize"`
}

// Statistics returns counters since the bridge was created.
func (b *Bridge) Statistics(ctx context.Context) (Statistics, error) {
	size, err := b.store.CountQRRecords(ctx)
	if err != nil {
		return Statistics{}, err
	}
	return Statistics{
		TotalGenerated:       b.generated.Load(),
		VerificationAttempts: b.attempts.Load(),
		TotalVerified:        b.verified.Load(),
		CacheSize:            size,
	}, nil
}

// ClearCache drops every registered QR record.
func (b *Bridge) ClearCache(ctx context.Context) error {
	if err := b.store.ClearQRRecords(ctx); err != nil {
		return err
	}
	b.logger.Info("QR records cleared")
	return nil
}

// ExportQRData returns every registered record.
func (b *Bridge) ExportQRData(ctx context.Context) ([]model.VerificationRecord, error) {
	return b.store.ListQRRecords(ctx)
}

// ImportQRData registers records by hash, replacing any with the same hash.
func (b *Bridge) ImportQRData(ctx context.Context, recs []model.VerificationRecord) (int, error) {
	n := 0
	for _, rec := range recs {
		if rec.VerificationHash == "" {
			continue
		}
		if err := b.store.PutQRRecord(ctx, rec); err != nil {
			return n, err
		}
		n++
	}
	b.logger.Info("imported QR records", zap.Int("count", n))
	return n, nil
}
