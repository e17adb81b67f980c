package tagcrypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// TagKeyLen is the length of a generated per-tag private key.
	TagKeyLen = 32

	tagIDPrefix  = "nfc-"
	tamperPrefix = "TE-"
)

// NewTagID returns a globally unique, time-sortable tag identifier.
func NewTagID() string {
	return tagIDPrefix + ulid.Make().String()
}

// NewTagKey returns a fresh private key for a tag. It is drawn from
// crypto/rand and has no relation to any public field.
func NewTagKey() (string, error) {
	return randomString(TagKeyLen)
}

func randomString(n int) (string, error) {
	limit := big.NewInt(int64(len(alphanumeric)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphanumeric[idx.Int64()])
	}
	return b.String(), nil
}

// NewTamperCode encodes "TE-<assetId>-<unixMillis>-<random>" as unpadded
// base64url. The code is advisory: verification only checks the asset prefix.
func NewTamperCode(assetID int64, now time.Time) (string, error) {
	suffix, err := randomString(9)
	if err != nil {
		return "", err
	}
	raw := fmt.Sprintf("%s%d-%d-%s", tamperPrefix, assetID, now.UnixMilli(), strings.ToLower(suffix))
	return base64.RawURLEncoding.EncodeToString([]byte(raw)), nil
}

// VerifyTamperCode reports whether code was issued for assetID.
func VerifyTamperCode(code string, assetID int64) bool {
	raw, err := base64.RawURLEncoding.DecodeString(code)
	if err != nil {
		return false
	}
	return strings.HasPrefix(string(raw), fmt.Sprintf("%s%d-", tamperPrefix, assetID))
}
