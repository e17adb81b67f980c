// Package tagcrypto implements the keyed hashing, tag payload sealing and
// identifier generation used by the QR and NFC bridges.
package tagcrypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"strconv"
	"time"

	"golang.org/x/crypto/hkdf"
)

// MinSecretLen is the shortest master secret NewHasher accepts.
const MinSecretLen = 16

// digestLen is the number of hex characters kept from each HMAC.
const digestLen = 32

var errShortSecret = errors.New("tagcrypto: master secret must be at least 16 bytes")

// Hasher computes verification hashes and inspection signatures.
// Each purpose uses its own HKDF sub-key of the master secret so a QR hash
// can never be replayed as an NFC hash or a report signature.
type Hasher struct {
	qrKey         []byte
	nfcKey        []byte
	inspectionKey []byte
}

// NewHasher derives the purpose keys from secret.
func NewHasher(secret []byte) (*Hasher, error) {
	if len(secret) < MinSecretLen {
		return nil, errShortSecret
	}
	h := &Hasher{}
	for label, dst := range map[string]*[]byte{
		"phigital-qr-hash":         &h.qrKey,
		"phigital-nfc-hash":        &h.nfcKey,
		"phigital-inspection-sign": &h.inspectionKey,
	} {
		key, err := deriveKey(secret, nil, label)
		if err != nil {
			return nil, err
		}
		*dst = key
	}
	return h, nil
}

func deriveKey(ikm, salt []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, []byte(info))
	out := make([]byte, 32)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// QRHash is the verification hash of a QR record. It depends only on the
// public fields, so a record can be re-verified at any later time.
func (h *Hasher) QRHash(tokenID int64, contractAddress string, networkID int64) string {
	mac := hmac.New(sha256.New, h.qrKey)
	writeField(mac, strconv.FormatInt(tokenID, 10))
	writeField(mac, contractAddress)
	writeField(mac, strconv.FormatInt(networkID, 10))
	return digest(mac)
}

// NFCHash is the verification hash of a tag record.
func (h *Hasher) NFCHash(tokenID int64, contractAddress, tagID string) string {
	mac := hmac.New(sha256.New, h.nfcKey)
	writeField(mac, strconv.FormatInt(tokenID, 10))
	writeField(mac, contractAddress)
	writeField(mac, tagID)
	return digest(mac)
}

// InspectionSignature signs the identifying fields of an inspection report.
func (h *Hasher) InspectionSignature(inspectorID string, assetID int64, ts time.Time, authenticity string) string {
	mac := hmac.New(sha256.New, h.inspectionKey)
	writeField(mac, inspectorID)
	writeField(mac, strconv.FormatInt(assetID, 10))
	writeField(mac, ts.UTC().Format(time.RFC3339Nano))
	writeField(mac, authenticity)
	return digest(mac)
}

// Equal compares two digests in constant time.
func Equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// writeField length-prefixes v so that field boundaries are unambiguous.
func writeField(h hash.Hash, v string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(v)))
	h.Write(n[:])
	h.Write([]byte(v))
}

func digest(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))[:digestLen]
}
