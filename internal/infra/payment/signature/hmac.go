package signature

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// HMACSHA256 returns the raw MAC of data under secret.
func HMACSHA256(secret, data []byte) []byte {
	m := hmac.New(sha256.New, secret)
	m.Write(data)
	return m.Sum(nil)
}

// HMACSHA256Hex returns the lowercase hex MAC, the format every HMAC gateway uses.
func HMACSHA256Hex(secret, data []byte) string {
	return hex.EncodeToString(HMACSHA256(secret, data))
}

// VerifyHMACSHA256Hex checks a hex signature in constant time.
// Malformed hex or a wrong length is a mismatch, never an error.
func VerifyHMACSHA256Hex(secret, data []byte, signature string) bool {
	sig, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(sig) != sha256.Size {
		return false
	}
	return hmac.Equal(HMACSHA256(secret, data), sig)
}

// Digest hashes data with a named algorithm ("MD5", "SHA-256", "SHA256").
func Digest(algorithm string, data []byte) ([]byte, error) {
	var h hash.Hash
	switch strings.ToUpper(strings.ReplaceAll(algorithm, "-", "")) {
	case "MD5":
		h = md5.New()
	case "SHA256":
		h = sha256.New()
	default:
		return nil, fmt.Errorf("unsupported digest algorithm %q", algorithm)
	}
	h.Write(data)
	return h.Sum(nil), nil
}

// VerifyDigestHex compares hex(hash(data)) with signature in constant time.
func VerifyDigestHex(algorithm string, data []byte, signature string) bool {
	want, err := Digest(algorithm, data)
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(want, got) == 1
}
