// Package crypto implements password hashing and opaque token helpers.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
	saltLen             = 16
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

func derive(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// HashPassword returns salt||Argon2id(password, salt) with a fresh random salt.
func HashPassword(password []byte) ([]byte, error) {
	salt, err := RandBytes(saltLen)
	if err != nil {
		return nil, err
	}
	return append(salt, derive(password, salt)...), nil
}

// VerifyPassword checks password against a value produced by HashPassword.
func VerifyPassword(password, encoded []byte) bool {
	if len(encoded) != saltLen+int(argonKeyLen) {
		return false
	}
	got := derive(password, encoded[:saltLen])
	return subtle.ConstantTimeCompare(got, encoded[saltLen:]) == 1
}

// RandToken returns a URL-safe opaque token carrying 32 random bytes.
func RandToken() (string, error) {
	b, err := RandBytes(32)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns the SHA-256 of an opaque token. Only the hash is persisted.
func HashToken(tok string) []byte {
	h := sha256.Sum256([]byte(tok))
	return h[:]
}
