package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/RegistryAccord/registryaccord-phigital-go/internal/model"
)

// memory implements the Store interface using in-memory storage.
// It lives for the lifetime of the process and is the default backend.
type memory struct {
	mu         sync.RWMutex                        // Protects concurrent access to maps
	qr         map[string]model.VerificationRecord // Map of verification hash to QR record
	tags       map[string]model.NFCTagRecord       // Map of tag ID to tag record, key stripped
	keys       map[string]string                   // Map of tag ID to private key
	reports    map[int64]model.InspectionReport    // Map of asset ID to latest report
	history    []model.PhysicalVerificationResult  // Append-only verification history
	historyIDs map[string]struct{}                 // Result IDs already in history
}

// NewMemory creates a new in-memory storage implementation.
func NewMemory() Store {
	return &memory{
		qr:         make(map[string]model.VerificationRecord),
		tags:       make(map[string]model.NFCTagRecord),
		keys:       make(map[string]string),
		reports:    make(map[int64]model.InspectionReport),
		historyIDs: make(map[string]struct{}),
	}
}

func copyRecord(r model.VerificationRecord) model.VerificationRecord {
	r.Metadata = r.Metadata.Clone()
	return r
}

func copyReport(r model.InspectionReport) model.InspectionReport {
	if r.Photos != nil {
		r.Photos = append([]string(nil), r.Photos...)
	}
	return r
}

func copyResult(r model.PhysicalVerificationResult) model.PhysicalVerificationResult {
	r.Metadata = r.Metadata.Clone()
	if r.Warnings != nil {
		r.Warnings = append(make([]string, 0, len(r.Warnings)), r.Warnings...)
	}
	if r.Details.QRResult != nil {
		qr := *r.Details.QRResult
		qr.Metadata = qr.Metadata.Clone()
		r.Details.QRResult = &qr
	}
	if r.Details.NFCResult != nil {
		nfc := *r.Details.NFCResult
		nfc.Metadata = nfc.Metadata.Clone()
		r.Details.NFCResult = &nfc
	}
	return r
}

func (m *memory) PutQRRecord(ctx context.Context, rec model.VerificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.qr[rec.VerificationHash] = copyRecord(rec)
	return nil
}

func (m *memory) GetQRRecord(ctx context.Context, hash string) (*model.VerificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.qr[hash]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyRecord(rec)
	return &out, nil
}

func (m *memory) ListQRRecords(ctx context.Context) ([]model.VerificationRecord, error) {
	m.mu.RLock()
	out := make([]model.VerificationRecord, 0, len(m.qr))
	for _, rec := range m.qr {
		out = append(out, copyRecord(rec))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].VerificationHash < out[j].VerificationHash
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *memory) HasQRRecordForToken(ctx context.Context, tokenID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.qr {
		if rec.TokenID == tokenID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memory) CountQRRecords(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.qr), nil
}

func (m *memory) ClearQRRecords(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.qr = make(map[string]model.VerificationRecord)
	return nil
}

func (m *memory) PutTag(ctx context.Context, rec model.NFCTagRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rec.EncryptionKey
	rec.EncryptionKey = ""
	rec.VerificationRecord = copyRecord(rec.VerificationRecord)
	m.tags[rec.TagID] = rec
	m.keys[rec.TagID] = key
	return nil
}

func (m *memory) GetTag(ctx context.Context, tagID string) (*model.NFCTagRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.tags[tagID]
	if !ok {
		return nil, ErrNotFound
	}
	rec.VerificationRecord = copyRecord(rec.VerificationRecord)
	rec.EncryptionKey = m.keys[tagID]
	return &rec, nil
}

func (m *memory) GetTagKey(ctx context.Context, tagID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.keys[tagID]
	if !ok {
		return "", ErrNotFound
	}
	return key, nil
}

func (m *memory) UpdateTagMetadata(ctx context.Context, tagID string, md *model.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tags[tagID]
	if !ok {
		return ErrNotFound
	}
	rec.Metadata = md.Clone()
	m.tags[tagID] = rec
	return nil
}

func (m *memory) DeleteTag(ctx context.Context, tagID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tags[tagID]
	delete(m.tags, tagID)
	delete(m.keys, tagID)
	return ok, nil
}

func (m *memory) ListTags(ctx context.Context) ([]model.NFCTagRecord, error) {
	m.mu.RLock()
	out := make([]model.NFCTagRecord, 0, len(m.tags))
	for id, rec := range m.tags {
		rec.VerificationRecord = copyRecord(rec.VerificationRecord)
		rec.EncryptionKey = m.keys[id]
		out = append(out, rec)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TagID < out[j].TagID })
	return out, nil
}

func (m *memory) HasTagForToken(ctx context.Context, tokenID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.tags {
		if rec.TokenID == tokenID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memory) CountTags(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tags), nil
}

func (m *memory) ClearTags(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags = make(map[string]model.NFCTagRecord)
	m.keys = make(map[string]string)
	return nil
}

func (m *memory) PutInspectionReport(ctx context.Context, rep model.InspectionReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[rep.AssetID] = copyReport(rep)
	return nil
}

func (m *memory) GetInspectionReport(ctx context.Context, assetID int64) (*model.InspectionReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rep, ok := m.reports[assetID]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyReport(rep)
	return &out, nil
}

func (m *memory) ListInspectionReports(ctx context.Context) ([]model.InspectionReport, error) {
	m.mu.RLock()
	out := make([]model.InspectionReport, 0, len(m.reports))
	for _, rep := range m.reports {
		out = append(out, copyReport(rep))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}

func (m *memory) AppendVerification(ctx context.Context, res model.PhysicalVerificationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.historyIDs[res.ID]; dup {
		return ErrConflict
	}
	m.historyIDs[res.ID] = struct{}{}
	m.history = append(m.history, copyResult(res))
	return nil
}

func (m *memory) ListVerifications(ctx context.Context) ([]model.PhysicalVerificationResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.PhysicalVerificationResult, 0, len(m.history))
	for _, res := range m.history {
		out = append(out, copyResult(res))
	}
	return out, nil
}

func (m *memory) ListVerificationsForAsset(ctx context.Context, tokenID int64) ([]model.PhysicalVerificationResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.PhysicalVerificationResult
	for _, res := range m.history {
		if res.TokenID == tokenID {
			out = append(out, copyResult(res))
		}
	}
	return out, nil
}

func (m *memory) ClearVerifications(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
	m.historyIDs = make(map[string]struct{})
	return nil
}

func (m *memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *memory) Close() error { return nil }
