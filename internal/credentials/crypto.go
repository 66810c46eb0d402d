package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
)

var (
	ErrEncryptionKeyMissing = errors.New("credential encryption key missing")
	ErrInvalidEnvelope      = errors.New("invalid credential envelope")
)

type envelope struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// DeriveKey turns the configured secret into a fixed-size AES key.
func DeriveKey(secret string) []byte {
	if secret == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// Encrypt seals a credential bag into a version 1 envelope. Used when a
// partner connects a provider, and by tests and tooling seeding rows.
func Encrypt(key []byte, creds map[string]string) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrEncryptionKeyMissing
	}
	plain, err := json.Marshal(creds)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, nonce, plain, nil)
	return json.Marshal(envelope{
		Version:    1,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(sealed),
	})
}

// Decrypt opens a version 1 envelope back into a credential bag.
func Decrypt(key []byte, encrypted []byte) (map[string]string, error) {
	if len(key) == 0 {
		return nil, ErrEncryptionKeyMissing
	}
	if len(encrypted) == 0 {
		return nil, ErrInvalidEnvelope
	}

	var payload envelope
	if err := json.Unmarshal(encrypted, &payload); err != nil {
		return nil, ErrInvalidEnvelope
	}
	if payload.Version != 1 {
		return nil, ErrInvalidEnvelope
	}

	nonce, err := base64.RawStdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return nil, ErrInvalidEnvelope
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return nil, ErrInvalidEnvelope
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidEnvelope
	}

	var out map[string]string
	if err := json.Unmarshal(plain, &out); err != nil {
		return nil, ErrInvalidEnvelope
	}
	return out, nil
}
