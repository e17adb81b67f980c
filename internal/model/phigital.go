// Package model defines the data structures used throughout the phigital bridge service.
// These structures represent the records that pair a minted token with a physical object,
// the results of verifying that pairing, and the inspection workflow around it.
package model

import (
	"fmt"
	"strings"
	"time"

	errordefs "github.com/RegistryAccord/registryaccord-phigital-go/internal/errors"
)

// DefaultNetworkID is assumed when a scanned payload omits the network.
const DefaultNetworkID int64 = 1

// Attribute is a single trait of token metadata.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// Metadata is the descriptive token metadata carried alongside a record.
type Metadata struct {
	Name        string      `json:"name,omitempty"`
	Description string      `json:"description,omitempty"`
	Image       string      `json:"image,omitempty"`
	Attributes  []Attribute `json:"attributes,omitempty"`
}

// Clone returns a deep copy, nil-safe.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	out := *m
	if m.Attributes != nil {
		out.Attributes = append([]Attribute(nil), m.Attributes...)
	}
	return &out
}

// VerificationRecord binds a token to a keyed verification hash.
// It is the payload encoded into QR codes and the base of every NFC tag record.
// This corresponds to the qr_records table in storage.
type VerificationRecord struct {
	TokenID          int64     `json:"tokenId" db:"token_id"`                   // Token identifier (non-negative)
	ContractAddress  string    `json:"contractAddress" db:"contract_address"`   // Token contract address, hashed as given
	NetworkID        int64     `json:"networkId" db:"network_id"`               // Chain identifier
	VerificationHash string    `json:"verificationHash" db:"verification_hash"` // Keyed hash over the public fields
	CreatedAt        time.Time `json:"createdAt" db:"created_at"`               // When the record was generated
	Metadata         *Metadata `json:"metadata,omitempty" db:"metadata"`        // Optional token metadata
}

// NFCTagRecord is a verification record bound to a physical NFC tag.
// The encryption key is private to the tag and never leaves the store
// except through an explicit export.
type NFCTagRecord struct {
	VerificationRecord
	TagID         string `json:"tagId" db:"tag_id"`
	EncryptionKey string `json:"encryptionKey,omitempty" db:"encryption_key"`
}

// PublicTag is the view of an NFC tag record that is safe to hand out.
type PublicTag struct {
	VerificationRecord
	TagID string `json:"tagId"`
}

// Public strips the encryption key.
func (r NFCTagRecord) Public() PublicTag {
	return PublicTag{VerificationRecord: r.VerificationRecord, TagID: r.TagID}
}

// TagPublicData is written to the tag in the clear.
type TagPublicData struct {
	TokenID         int64  `json:"tokenId"`
	ContractAddress string `json:"contractAddress"`
	NetworkID       int64  `json:"networkId"`
	VerificationURL string `json:"verificationUrl"`
}

// TagSecret is the bundle sealed into a tag's encrypted payload.
type TagSecret struct {
	VerificationHash string    `json:"verificationHash"`
	CreatedAt        time.Time `json:"createdAt"`
	Metadata         *Metadata `json:"metadata,omitempty"`
}

// TagWriteData is everything an operator writes onto a physical tag.
type TagWriteData struct {
	TagID         string        `json:"tagId"`
	EncryptedData string        `json:"encryptedData"`
	PublicData    TagPublicData `json:"publicData"`
}

// QRVerificationResult is the outcome of verifying a scanned QR payload.
// Failures are reported through Valid, ErrorCode and Error rather than Go errors.
type QRVerificationResult struct {
	Valid           bool                `json:"valid"`
	TokenID         int64               `json:"tokenId,omitempty"`
	ContractAddress string              `json:"contractAddress,omitempty"`
	NetworkID       int64               `json:"networkId,omitempty"`
	Metadata        *Metadata           `json:"metadata,omitempty"`
	ErrorCode       errordefs.ErrorCode `json:"errorCode,omitempty"`
	Error           string              `json:"error,omitempty"`
}

// NFCVerificationResult is the outcome of verifying a tag.
type NFCVerificationResult struct {
	Valid           bool                `json:"valid"`
	TagID           string              `json:"tagId,omitempty"`
	TokenID         int64               `json:"tokenId,omitempty"`
	ContractAddress string              `json:"contractAddress,omitempty"`
	NetworkID       int64               `json:"networkId,omitempty"`
	Metadata        *Metadata           `json:"metadata,omitempty"`
	ErrorCode       errordefs.ErrorCode `json:"errorCode,omitempty"`
	Error           string              `json:"error,omitempty"`
}

// Condition grades the physical state of an inspected item.
type Condition string

const (
	ConditionExcellent Condition = "excellent"
	ConditionGood      Condition = "good"
	ConditionFair      Condition = "fair"
	ConditionPoor      Condition = "poor"
)

// Authenticity is an inspector's verdict on whether the item is genuine.
type Authenticity string

const (
	AuthenticityVerified    Authenticity = "verified"
	AuthenticitySuspicious  Authenticity = "suspicious"
	AuthenticityCounterfeit Authenticity = "counterfeit"
)

// BridgingQuality grades how securely the tag or code is attached.
type BridgingQuality string

const (
	BridgingSecure   BridgingQuality = "secure"
	BridgingAdequate BridgingQuality = "adequate"
	BridgingWeak     BridgingQuality = "weak"
)

// InspectionReport is a signed physical inspection of an asset.
// Reports are keyed by asset; a newer report replaces the older one.
// This corresponds to the inspection_reports table in storage.
type InspectionReport struct {
	InspectorID       string          `json:"inspectorId"`
	AssetID           int64           `json:"assetId"`
	PhysicalCondition Condition       `json:"physicalCondition"`
	Authenticity      Authenticity    `json:"authenticity"`
	BridgingQuality   BridgingQuality `json:"bridgingQuality"`
	Notes             string          `json:"notes"`
	Photos            []string        `json:"photos,omitempty"`
	Timestamp         time.Time       `json:"timestamp"`
	Signature         string          `json:"signature"`
}

// VerificationMethod names which physical channel produced a verdict.
type VerificationMethod string

const (
	MethodQR   VerificationMethod = "qr"
	MethodNFC  VerificationMethod = "nfc"
	MethodBoth VerificationMethod = "both"
	MethodNone VerificationMethod = "none"
)

// SecurityLevel is the coarse trust bucket attached to a verdict.
type SecurityLevel string

const (
	SecurityHigh   SecurityLevel = "high"
	SecurityMedium SecurityLevel = "medium"
	SecurityLow    SecurityLevel = "low"
)

// VerificationDetails keeps the per-channel results behind a merged verdict.
type VerificationDetails struct {
	QRResult  *QRVerificationResult  `json:"qrResult,omitempty"`
	NFCResult *NFCVerificationResult `json:"nfcResult,omitempty"`
}

// PhysicalVerificationResult is a merged verdict. Entries are appended to the
// verification history and never mutated afterwards.
// This corresponds to the verification_history table in storage.
type PhysicalVerificationResult struct {
	ID                 string              `json:"id"`
	Verified           bool                `json:"verified"`
	VerificationMethod VerificationMethod  `json:"verificationMethod"`
	TokenID            int64               `json:"tokenId,omitempty"`
	ContractAddress    string              `json:"contractAddress,omitempty"`
	Metadata           *Metadata           `json:"metadata,omitempty"`
	SecurityLevel      SecurityLevel       `json:"securityLevel"`
	Confidence         float64             `json:"confidence"`
	Details            VerificationDetails `json:"details"`
	Warnings           []string            `json:"warnings"`
	Timestamp          time.Time           `json:"timestamp"`
}

// CreationData describes a bridge to set up for a freshly minted token.
type CreationData struct {
	TokenID             int64                `json:"tokenId"`
	ContractAddress     string               `json:"contractAddress"`
	NetworkID           int64                `json:"networkId"`
	Metadata            *Metadata            `json:"metadata,omitempty"`
	VerificationMethods []VerificationMethod `json:"verificationMethods"`
}

// DisplayInfo is the human-facing text printed next to a QR code.
type DisplayInfo struct {
	Title        string `json:"title"`
	Subtitle     string `json:"subtitle"`
	Instructions string `json:"instructions"`
}

// PhysicalQRCode is a generated QR record together with its printable form.
type PhysicalQRCode struct {
	Record      VerificationRecord `json:"record"`
	QRString    string             `json:"qrString"`
	DisplayInfo DisplayInfo        `json:"displayInfo"`
}

// PreparedTag is a generated NFC tag together with the data to write onto it.
type PreparedTag struct {
	Tag       PublicTag    `json:"tag"`
	WriteData TagWriteData `json:"writeData"`
}

// BridgeResult is returned once a physical bridge has been created.
type BridgeResult struct {
	QRCode            *PhysicalQRCode `json:"qrCode,omitempty"`
	NFCTag            *PreparedTag    `json:"nfcTag,omitempty"`
	VerificationURL   string          `json:"verificationUrl"`
	SetupInstructions []string        `json:"setupInstructions"`
}

// AssetInfo is the display-ready summary of a verified asset.
type AssetInfo struct {
	Verified        bool          `json:"verified"`
	TokenID         int64         `json:"tokenId,omitempty"`
	ContractAddress string        `json:"contractAddress,omitempty"`
	NetworkID       int64         `json:"networkId,omitempty"`
	Name            string        `json:"name,omitempty"`
	Description     string        `json:"description,omitempty"`
	Image           string        `json:"image,omitempty"`
	Owner           string        `json:"owner,omitempty"`
	SecurityLevel   SecurityLevel `json:"securityLevel,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// AssetStatus summarizes every physical bridge and verdict known for an asset.
type AssetStatus struct {
	AssetID             int64                       `json:"assetId"`
	HasQRCode           bool                        `json:"hasQRCode"`
	HasNFCTag           bool                        `json:"hasNFCTag"`
	HasInspectionReport bool                        `json:"hasInspectionReport"`
	LastVerification    *PhysicalVerificationResult `json:"lastVerification,omitempty"`
	VerificationCount   int                         `json:"verificationCount"`
	SecurityScore       int                         `json:"securityScore"`
}

// Analytics aggregates the verification history.
type Analytics struct {
	TotalVerifications        int                        `json:"totalVerifications"`
	SuccessRate               float64                    `json:"successRate"`
	MethodDistribution        map[VerificationMethod]int `json:"methodDistribution"`
	SecurityLevelDistribution map[SecurityLevel]int      `json:"securityLevelDistribution"`
	AverageConfidence         float64                    `json:"averageConfidence"`
}

// Snapshot is the full exportable state of a verifier, keys included.
type Snapshot struct {
	QRCodes             []VerificationRecord         `json:"qrCodes"`
	NFCTags             []NFCTagRecord               `json:"nfcTags"`
	InspectionReports   []InspectionReport           `json:"inspectionReports"`
	VerificationHistory []PhysicalVerificationResult `json:"verificationHistory"`
	ExportedAt          time.Time                    `json:"exportedAt"`
}

// ImportSummary counts what an import added.
type ImportSummary struct {
	QRCodes                  int `json:"qrCodes"`
	NFCTags                  int `json:"nfcTags"`
	InspectionReports        int `json:"inspectionReports"`
	SkippedInspectionReports int `json:"skippedInspectionReports"`
	Verifications            int `json:"verifications"`
	SkippedVerifications     int `json:"skippedVerifications"`
}

// ValidateTokenRef checks the public fields every generated record carries.
func ValidateTokenRef(tokenID int64, contractAddress string, networkID int64) error {
	switch {
	case tokenID < 0:
		return errordefs.Validation("tokenId must be non-negative, got %d", tokenID)
	case strings.TrimSpace(contractAddress) == "":
		return errordefs.Validation("contractAddress is required")
	case networkID <= 0:
		return errordefs.Validation("networkId must be positive, got %d", networkID)
	}
	return nil
}

// VerifiedAssetInfo fills display defaults for a verified token.
func VerifiedAssetInfo(tokenID int64, contractAddress string, networkID int64, md *Metadata) AssetInfo {
	info := AssetInfo{
		Verified:        true,
		TokenID:         tokenID,
		ContractAddress: contractAddress,
		NetworkID:       networkID,
		Name:            fmt.Sprintf("Asset #%d", tokenID),
		Description:     "Phigital NFT Asset",
		Image:           "/placeholder.svg",
	}
	if md != nil {
		if md.Name != "" {
			info.Name = md.Name
		}
		if md.Description != "" {
			info.Description = md.Description
		}
		if md.Image != "" {
			info.Image = md.Image
		}
	}
	return info
}
