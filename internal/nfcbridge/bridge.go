// Package nfcbridge binds tokens to physical NFC tags.
//
// Each tag gets its own random key. The verification hash and metadata are
// sealed under that key before being written to the tag, while the token
// reference and a verification URL stay readable by any phone.
package nfcbridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	errordefs "github.com/RegistryAccord/registryaccord-phigital-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/event"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/model"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/oracle"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/storage"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/tagcrypto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Defaults.
const (
	DefaultBaseURL        = "https://phigital-nft.com/nfc-verify"
	DefaultReadLatency    = 200 * time.Millisecond
	DefaultSessionTimeout = 30 * time.Second
)

const (
	msgNotRegistered   = "NFC tag not registered"
	msgNotFound        = "NFC tag not found"
	msgHashMismatch    = "Tag verification hash mismatch"
	msgKeyMissing      = "Encryption key not found"
	msgDecryptFailed   = "Failed to decrypt tag data"
	msgDecryptMismatch = "Decrypted data verification failed"
	msgNotOnChain      = "Asset not found on blockchain"
	msgUnavailable     = "Chain oracle unavailable"
)

// ReadResult is the outcome of reading a tag.
type ReadResult struct {
	Success   bool                `json:"success"`
	Tag       *model.PublicTag    `json:"tag,omitempty"`
	ErrorCode errordefs.ErrorCode `json:"errorCode,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// Session is an advisory NFC scanning window.
type Session struct {
	SessionID string        `json:"sessionId"`
	Timeout   time.Duration `json:"-"`
	TimeoutMS int64         `json:"timeout"`
	StartedAt time.Time     `json:"startedAt"`
}

// Statistics reports tag counters.
type Statistics struct {
	TotalTags              int64 `json:"totalTags"`
	ActiveTags             int   `json:"activeTags"`
	VerificationsPerformed int64 `json:"verificationsPerformed"`
	RevokedTags            int64 `json:"revokedTags"`
}

// Bridge generates, verifies and revokes NFC tags.
type Bridge struct {
	store          storage.TagStore
	hasher         *tagcrypto.Hasher
	oracle         oracle.Oracle
	logger         *zap.Logger
	metrics        *metrics.Metrics
	events         event.Publisher
	prober         CapabilityProber
	baseURL        string
	readLatency    time.Duration
	sessionTimeout time.Duration
	now            func() time.Time

	mu       sync.Mutex
	sessions map[string]Session

	registered    atomic.Int64
	verifications atomic.Int64
	revoked       atomic.Int64
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithBaseURL overrides the verification URL prefix written to tags.
func WithBaseURL(base string) Option {
	return func(b *Bridge) {
		if base != "" {
			b.baseURL = base
		}
	}
}

// WithReadLatency sets the simulated tag read delay.
func WithReadLatency(d time.Duration) Option {
	return func(b *Bridge) { b.readLatency = d }
}

// WithSessionTimeout sets the advisory scan session timeout.
func WithSessionTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.sessionTimeout = d
		}
	}
}

// WithProber sets the device capability prober.
func WithProber(p CapabilityProber) Option {
	return func(b *Bridge) { b.prober = p }
}

// WithPublisher sets where tag lifecycle events go.
func WithPublisher(p event.Publisher) Option {
	return func(b *Bridge) { b.events = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

// New creates a Bridge over store. A nil metrics collects into a private registry.
func New(store storage.TagStore, hasher *tagcrypto.Hasher, o oracle.Oracle, logger *zap.Logger, m *metrics.Metrics, opts ...Option) *Bridge {
	if m == nil {
		m = metrics.NewNop()
	}
	b := &Bridge{
		store:          store,
		hasher:         hasher,
		oracle:         o,
		logger:         logger,
		metrics:        m,
		events:         event.NewNoop(),
		prober:         StaticProber{Supported: true, Enabled: true},
		baseURL:        DefaultBaseURL,
		readLatency:    DefaultReadLatency,
		sessionTimeout: DefaultSessionTimeout,
		now:            time.Now,
		sessions:       make(map[string]Session),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// GenerateNFCData registers a new tag with a fresh id and key.
func (b *Bridge) GenerateNFCData(ctx context.Context, tokenID int64, contractAddress string, networkID int64, md *model.Metadata) (model.NFCTagRecord, error) {
	if err := model.ValidateTokenRef(tokenID, contractAddress, networkID); err != nil {
		return model.NFCTagRecord{}, err
	}
	key, err := tagcrypto.NewTagKey()
	if err != nil {
		return model.NFCTagRecord{}, err
	}
	tagID := tagcrypto.NewTagID()

	rec := model.NFCTagRecord{
		VerificationRecord: model.VerificationRecord{
			TokenID:          tokenID,
			ContractAddress:  contractAddress,
			NetworkID:        networkID,
			VerificationHash: b.hasher.NFCHash(tokenID, contractAddress, tagID),
			CreatedAt:        b.now().UTC(),
			Metadata:         md.Clone(),
		},
		TagID:         tagID,
		EncryptionKey: key,
	}
	if err := b.store.PutTag(ctx, rec); err != nil {
		return model.NFCTagRecord{}, err
	}

	b.registered.Add(1)
	b.metrics.RecordsGeneratedTotal.WithLabelValues("nfc").Inc()
	b.logger.Info("generated NFC tag", zap.String("tagId", tagID), zap.Int64("tokenId", tokenID))
	return rec, nil
}

// PrepareTagForWriting seals the private bundle of rec under its key. When
// rec carries no key the registered one is used.
func (b *Bridge) PrepareTagForWriting(ctx context.Context, rec model.NFCTagRecord) (model.TagWriteData, error) {
	key := rec.EncryptionKey
	if key == "" {
		var err error
		if key, err = b.store.GetTagKey(ctx, rec.TagID); err != nil {
			return model.TagWriteData{}, err
		}
	}

	secret, err := json.Marshal(model.TagSecret{
		VerificationHash: rec.VerificationHash,
		CreatedAt:        rec.CreatedAt,
		Metadata:         rec.Metadata,
	})
	if err != nil {
		return model.TagWriteData{}, err
	}
	sealed, err := tagcrypto.Seal(key, rec.TagID, secret)
	if err != nil {
		return model.TagWriteData{}, err
	}

	return model.TagWriteData{
		TagID:         rec.TagID,
		EncryptedData: sealed,
		PublicData: model.TagPublicData{
			TokenID:         rec.TokenID,
			ContractAddress: rec.ContractAddress,
			NetworkID:       rec.NetworkID,
			VerificationURL: b.VerificationURL(rec.TagID),
		},
	}, nil
}

// VerificationURL is the public page for a tag.
func (b *Bridge) VerificationURL(tagID string) string {
	return b.baseURL + "/" + tagID
}

// ReadNFCTag looks up a tag, simulating the radio read delay.
func (b *Bridge) ReadNFCTag(ctx context.Context, tagID string) (ReadResult, error) {
	rec, err := b.store.GetTag(ctx, tagID)
	if errors.Is(err, storage.ErrNotFound) {
		return ReadResult{ErrorCode: errordefs.PHG_NOT_FOUND, Error: msgNotFound}, nil
	}
	if err != nil {
		return ReadResult{}, err
	}

	if b.readLatency > 0 {
		timer := time.NewTimer(b.readLatency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ReadResult{}, ctx.Err()
		case <-timer.C:
		}
	}

	pub := rec.Public()
	return ReadResult{Success: true, Tag: &pub}, nil
}

// VerifyNFCTag checks a registered tag and, when encryptedData is given, that
// the payload read from the tag was sealed for it. Domain failures are reported
// in the result; the error is reserved for cancellation and storage failures.
func (b *Bridge) VerifyNFCTag(ctx context.Context, tagID, encryptedData string) (model.NFCVerificationResult, error) {
	if err := ctx.Err(); err != nil {
		return model.NFCVerificationResult{}, err
	}
	b.verifications.Add(1)

	res, err := b.verify(ctx, tagID, encryptedData)
	if err != nil {
		return model.NFCVerificationResult{}, err
	}

	outcome := "valid"
	if !res.Valid {
		outcome = string(res.ErrorCode)
		b.logger.Debug("NFC verification failed", zap.String("tagId", tagID), zap.String("code", outcome))
	}
	b.metrics.ChannelVerifyTotal.WithLabelValues("nfc", outcome).Inc()
	return res, nil
}

func (b *Bridge) verify(ctx context.Context, tagID, encryptedData string) (model.NFCVerificationResult, error) {
	rec, err := b.store.GetTag(ctx, tagID)
	if errors.Is(err, storage.ErrNotFound) {
		return failure(tagID, errordefs.PHG_NOT_FOUND, msgNotRegistered), nil
	}
	if err != nil {
		return model.NFCVerificationResult{}, err
	}

	expected := b.hasher.NFCHash(rec.TokenID, rec.ContractAddress, tagID)
	if !tagcrypto.Equal(expected, rec.VerificationHash) {
		return failure(tagID, errordefs.PHG_HASH_MISMATCH, msgHashMismatch), nil
	}

	if encryptedData != "" {
		if rec.EncryptionKey == "" {
			return failure(tagID, errordefs.PHG_DECRYPTION_FAILURE, msgKeyMissing), nil
		}
		plain, err := tagcrypto.Open(rec.EncryptionKey, tagID, encryptedData)
		if err != nil {
			return failure(tagID, errordefs.PHG_DECRYPTION_FAILURE, msgDecryptFailed), nil
		}
		var secret model.TagSecret
		if err := json.Unmarshal(plain, &secret); err != nil {
			return failure(tagID, errordefs.PHG_DECRYPTION_FAILURE, msgDecryptFailed), nil
		}
		if !tagcrypto.Equal(secret.VerificationHash, rec.VerificationHash) {
			return failure(tagID, errordefs.PHG_DECRYPTION_FAILURE, msgDecryptMismatch), nil
		}
	}

	exists, err := b.oracle.Exists(ctx, oracle.TokenRef{TokenID: rec.TokenID, ContractAddress: rec.ContractAddress, NetworkID: rec.NetworkID})
	if err != nil {
		if ctx.Err() != nil {
			return model.NFCVerificationResult{}, ctx.Err()
		}
		b.logger.Warn("chain oracle check failed", zap.String("tagId", tagID), zap.Error(err))
		return failure(tagID, errordefs.PHG_UNAVAILABLE, msgUnavailable), nil
	}
	if !exists {
		return failure(tagID, errordefs.PHG_NOT_FOUND, msgNotOnChain), nil
	}

	return model.NFCVerificationResult{
		Valid:           true,
		TagID:           tagID,
		TokenID:         rec.TokenID,
		ContractAddress: rec.ContractAddress,
		NetworkID:       rec.NetworkID,
		Metadata:        rec.Metadata,
	}, nil
}

func failure(tagID string, code errordefs.ErrorCode, msg string) model.NFCVerificationResult {
	return model.NFCVerificationResult{Valid: false, TagID: tagID, ErrorCode: code, Error: msg}
}

// GetAssetInfoFromNFC verifies a tag and returns display-ready asset details.
func (b *Bridge) GetAssetInfoFromNFC(ctx context.Context, tagID string) (model.AssetInfo, error) {
	res, err := b.VerifyNFCTag(ctx, tagID, "")
	if err != nil {
		return model.AssetInfo{}, err
	}
	if !res.Valid {
		return model.AssetInfo{Verified: false, SecurityLevel: model.SecurityLow, Error: res.Error}, nil
	}
	info := model.VerifiedAssetInfo(res.TokenID, res.ContractAddress, res.NetworkID, res.Metadata)
	info.SecurityLevel = model.SecurityHigh
	info.Owner, _ = oracle.Owner(ctx, b.oracle, oracle.TokenRef{TokenID: res.TokenID, ContractAddress: res.ContractAddress, NetworkID: res.NetworkID})
	return info, nil
}

// UpdateTagMetadata merges the non-empty fields of md into the tag's
// metadata. It reports false for an unknown tag.
func (b *Bridge) UpdateTagMetadata(ctx context.Context, tagID string, md model.Metadata) (bool, error) {
	rec, err := b.store.GetTag(ctx, tagID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	merged := rec.Metadata.Clone()
	if merged == nil {
		merged = &model.Metadata{}
	}
	if md.Name != "" {
		merged.Name = md.Name
	}
	if md.Description != "" {
		merged.Description = md.Description
	}
	if md.Image != "" {
		merged.Image = md.Image
	}
	if md.Attributes != nil {
		merged.Attributes = append([]model.Attribute(nil), md.Attributes...)
	}

	if err := b.store.UpdateTagMetadata(ctx, tagID, merged); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	b.logger.Info("updated NFC tag metadata", zap.String("tagId", tagID))
	return true, nil
}

// RevokeTag removes a tag and its key. A second call reports false.
func (b *Bridge) RevokeTag(ctx context.Context, tagID string) (bool, error) {
	existed, err := b.store.DeleteTag(ctx, tagID)
	if err != nil || !existed {
		return false, err
	}
	b.revoked.Add(1)
	b.logger.Info("revoked NFC tag", zap.String("tagId", tagID))
	if err := b.events.Publish(ctx, event.TypeTagRevoked, tagID, event.TagRevoked{TagID: tagID}); err != nil {
		b.logger.Warn("failed to publish tag revocation", zap.String("tagId", tagID), zap.Error(err))
	}
	return true, nil
}

// CheckNFCSupport asks the configured prober about the reader.
func (b *Bridge) CheckNFCSupport(ctx context.Context) (Support, error) {
	return b.prober.Probe(ctx)
}

// StartNFCScanning opens an advisory scan session.
func (b *Bridge) StartNFCScanning(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	now := b.now().UTC()
	s := Session{
		SessionID: "nfc-session-" + uuid.NewString(),
		Timeout:   b.sessionTimeout,
		TimeoutMS: b.sessionTimeout.Milliseconds(),
		StartedAt: now,
	}

	b.mu.Lock()
	for id, old := range b.sessions {
		if now.Sub(old.StartedAt) > old.Timeout {
			delete(b.sessions, id)
		}
	}
	b.sessions[s.SessionID] = s
	b.mu.Unlock()

	b.logger.Debug("started NFC scanning session", zap.String("sessionId", s.SessionID))
	return s, nil
}

// StopNFCScanning closes a session and reports whether it was open.
func (b *Bridge) StopNFCScanning(sessionID string) bool {
	b.mu.Lock()
	_, ok := b.sessions[sessionID]
	delete(b.sessions, sessionID)
	b.mu.Unlock()

	if ok {
		b.logger.Debug("stopped NFC scanning session", zap.String("sessionId", sessionID))
	}
	return ok
}

// Statistics returns counters since the bridge was created.
func (b *Bridge) Statistics(ctx context.Context) (Statistics, error) {
	active, err := b.store.CountTags(ctx)
	if err != nil {
		return Statistics{}, err
	}
	return Statistics{
		TotalTags:              b.registered.Load(),
		ActiveTags:             active,
		VerificationsPerformed: b.verifications.Load(),
		RevokedTags:            b.revoked.Load(),
	}, nil
}

// ClearAllTags drops every tag and key.
func (b *Bridge) ClearAllTags(ctx context.Context) error {
	if err := b.store.ClearTags(ctx); err != nil {
		return err
	}
	b.logger.Info("NFC tags cleared")
	return nil
}

// ExportTagData returns every tag with its key.
func (b *Bridge) ExportTagData(ctx context.Context) ([]model.NFCTagRecord, error) {
	return b.store.ListTags(ctx)
}

// ImportTagData registers tags and their keys, replacing tags with the same id.
func (b *Bridge) ImportTagData(ctx context.Context, recs []model.NFCTagRecord) (int, error) {
	n := 0
	for _, rec := range recs {
		if rec.TagID == "" {
			continue
		}
		if err := b.store.PutTag(ctx, rec); err != nil {
			return n, err
		}
		n++
	}
	b.registered.Add(int64(n))
	b.logger.Info("imported NFC tags", zap.Int("count", n))
	return n, nil
}
