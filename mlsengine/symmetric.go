package mlsengine

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// AESKeySize is the key size for AES-256.
	AESKeySize = 32
	// NonceSize is the GCM recommended nonce size.
	NonceSize = 12
	// TagSize is the GCM authentication tag size.
	TagSize = 16
)

// HKDFExpand derives length bytes from secret using HKDF-SHA256 with the
// given salt and info, the same construction used throughout the core
// for exporter secrets, epoch advancement, and welcome/media keys.
func HKDFExpand(secret, salt, info []byte, length int) []byte {
	r := hkdf.New(sha256.New, secret, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		panic(fmt.Sprintf("hkdf expand: %v", err))
	}
	return out
}

// AEADEncrypt encrypts plaintext with AES-256-GCM under key, authenticating
// aad, using a freshly generated nonce. Returns (nonce, ciphertext||tag).
func AEADEncrypt(key, aad, plaintext []byte) (nonce, ct []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("aes: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("gcm: %w", err)
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("random nonce: %w", err)
	}
	ct = gcm.Seal(nil, nonce, plaintext, aad)
	return nonce, ct, nil
}

// AEADDecrypt decrypts ciphertext (including its trailing GCM tag) with
// AES-256-GCM under key, authenticating aad.
func AEADDecrypt(key, nonce, aad, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < TagSize {
		return nil, fmt.Errorf("ciphertext too short (missing GCM tag)")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("gcm decrypt: %w", err)
	}
	return plaintext, nil
}
