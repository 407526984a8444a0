// File: internal/infra/security/encryption_service.go
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// EncryptionService seals gateway credentials at rest with AES-GCM and a
// random nonce per message.
type EncryptionService struct {
	gcm cipher.AEAD
}

// NewEncryptionService accepts a raw 16/24/32 byte key or the standard base64
// encoding of one.
func NewEncryptionService(key string) (*EncryptionService, error) {
	k, err := parseKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &EncryptionService{gcm: gcm}, nil
}

func validKeyLen(n int) bool { return n == 16 || n == 24 || n == 32 }

func parseKey(key string) ([]byte, error) {
	if validKeyLen(len(key)) {
		return []byte(key), nil
	}
	if b, err := base64.StdEncoding.DecodeString(key); err == nil && validKeyLen(len(b)) {
		return b, nil
	}
	return nil, fmt.Errorf("encryption key must be 16, 24, or 32 bytes (raw or base64); got %d", len(key))
}

// GenerateKey returns a fresh base64-encoded AES-256 key.
func GenerateKey() (string, error) {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(k), nil
}

// Encrypt returns base64(nonce || ciphertext).
func (e *EncryptionService) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}
	ct := e.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ct), nil
}

func (e *EncryptionService) Decrypt(b64 string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	ns := e.gcm.NonceSize()
	if len(data) < ns {
		return "", ErrCiphertextTooShort
	}
	nonce, ct := data[:ns], data[ns:]
	pt, err := e.gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("gcm open: %w", err)
	}
	return string(pt), nil
}

// SealCredentials encrypts a credential map as one JSON document.
func (e *EncryptionService) SealCredentials(creds map[string]string) (string, error) {
	if len(creds) == 0 {
		return "", nil
	}
	b, err := json.Marshal(creds)
	if err != nil {
		return "", err
	}
	return e.Encrypt(string(b))
}

// OpenCredentials reverses SealCredentials. An empty string is an empty map.
func (e *EncryptionService) OpenCredentials(sealed string) (map[string]string, error) {
	creds := map[string]string{}
	if sealed == "" {
		return creds, nil
	}
	pt, err := e.Decrypt(sealed)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(pt), &creds); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	return creds, nil
}
