package tagcrypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrDecrypt is returned for any payload that fails to open: wrong key,
// tampered ciphertext, wrong tag, or malformed encoding.
var ErrDecrypt = errors.New("tagcrypto: payload cannot be decrypted")

const payloadInfo = "phigital-nfc-payload"

// Seal encrypts plaintext under a key derived from the tag's private key.
// The tag ID is bound as associated data, so a payload copied onto another
// tag does not open. The result is base64(nonce || ciphertext).
func Seal(tagKey, tagID string, plaintext []byte) (string, error) {
	aead, err := newAEAD(tagKey, tagID)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plaintext, []byte(tagID))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func Open(tagKey, tagID, payload string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrDecrypt
	}
	aead, err := newAEAD(tagKey, tagID)
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrDecrypt
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, []byte(tagID))
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}

func newAEAD(tagKey, tagID string) (cipher.AEAD, error) {
	key, err := deriveKey([]byte(tagKey), []byte(tagID), payloadInfo)
	if err != nil {
		return nil, err
	}
	return chacha20poly1305.NewX(key)
}
