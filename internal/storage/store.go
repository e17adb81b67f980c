// Package storage provides the registries behind the QR and NFC bridges and
// the verifier, with in-memory, SQLite and PostgreSQL backends.
package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/RegistryAccord/registryaccord-phigital-go/internal/model"
	"github.com/rotisserie/eris"
)

// Standard errors returned by the storage layer
var (
	ErrNotFound = errors.New("not found") // Returned when a record is not found
	ErrConflict = errors.New("conflict")  // Returned when a record already exists
)

// QRStore holds QR verification records keyed by verification hash.
type QRStore interface {
	PutQRRecord(ctx context.Context, rec model.VerificationRecord) error             // Insert or replace by hash
	GetQRRecord(ctx context.Context, hash string) (*model.VerificationRecord, error) // ErrNotFound if absent
	ListQRRecords(ctx context.Context) ([]model.VerificationRecord, error)           // Ordered by creation time
	HasQRRecordForToken(ctx context.Context, tokenID int64) (bool, error)            // Per-asset presence
	CountQRRecords(ctx context.Context) (int, error)                                 // Registry size
	ClearQRRecords(ctx context.Context) error                                        // Drop every record
}

// TagStore holds NFC tag records and, in a parallel registry keyed by the
// same tag id, their private keys. Writes and deletes touch both atomically.
type TagStore interface {
	PutTag(ctx context.Context, rec model.NFCTagRecord) error                      // Record and key together
	GetTag(ctx context.Context, tagID string) (*model.NFCTagRecord, error)         // Record with key
	GetTagKey(ctx context.Context, tagID string) (string, error)                   // Key only
	UpdateTagMetadata(ctx context.Context, tagID string, md *model.Metadata) error // ErrNotFound if absent
	DeleteTag(ctx context.Context, tagID string) (bool, error)                     // Reports whether it existed
	ListTags(ctx context.Context) ([]model.NFCTagRecord, error)                    // With keys, for export
	HasTagForToken(ctx context.Context, tokenID int64) (bool, error)               // Per-asset presence
	CountTags(ctx context.Context) (int, error)                                    // Registry size
	ClearTags(ctx context.Context) error                                           // Drop records and keys
}

// InspectionStore holds the latest inspection report per asset.
type InspectionStore interface {
	PutInspectionReport(ctx context.Context, rep model.InspectionReport) error               // Replaces any prior report
	GetInspectionReport(ctx context.Context, assetID int64) (*model.InspectionReport, error) // ErrNotFound if absent
	ListInspectionReports(ctx context.Context) ([]model.InspectionReport, error)             // Ordered by asset id
}

// HistoryStore is the append-only verification history.
type HistoryStore interface {
	AppendVerification(ctx context.Context, res model.PhysicalVerificationResult) error                       // ErrConflict on duplicate id
	ListVerifications(ctx context.Context) ([]model.PhysicalVerificationResult, error)                        // Append order
	ListVerificationsForAsset(ctx context.Context, tokenID int64) ([]model.PhysicalVerificationResult, error) // Append order
	ClearVerifications(ctx context.Context) error                                                             // Drop the history
}

// Store is the full set of registries a verifier needs.
type Store interface {
	QRStore
	TagStore
	InspectionStore
	HistoryStore

	Ping(ctx context.Context) error // Readiness check
	Close() error
}

func marshalJSON(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "storage: marshal")
	}
	return b, nil
}

func unmarshalMetadata(b []byte) (*model.Metadata, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var md model.Metadata
	if err := json.Unmarshal(b, &md); err != nil {
		return nil, eris.Wrap(err, "storage: unmarshal metadata")
	}
	return &md, nil
}
