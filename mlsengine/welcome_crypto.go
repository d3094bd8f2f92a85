package mlsengine

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

const (
	x25519KeySize = 32
	// welcomeOverhead is the minimum ciphertext length: ephPub(32) + nonce(12) + GCM tag(16).
	welcomeOverhead = x25519KeySize + NonceSize + TagSize

	welcomeKDFInfo = "mdk-welcome"
)

func x25519Public(priv []byte) ([]byte, error) {
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive x25519 public key: %w", err)
	}
	return pub, nil
}

// EncryptWelcome HPKE-wraps a serialized Welcome message for a single
// recipient's leaf public key:
//
//  1. Generate an ephemeral X25519 keypair.
//  2. ECDH with the recipient's leaf public key.
//  3. HKDF-SHA256(shared, info="mdk-welcome") -> 32-byte AES key.
//  4. AES-256-GCM seal.
//  5. Return ephPub(32) || nonce(12) || ciphertext+tag.
func EncryptWelcome(recipientLeafPub, plaintext []byte) ([]byte, error) {
	if len(recipientLeafPub) != x25519KeySize {
		return nil, fmt.Errorf("recipient leaf public key must be %d bytes", x25519KeySize)
	}
	ephPriv := make([]byte, x25519KeySize)
	if _, err := rand.Read(ephPriv); err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	ephPub, err := x25519Public(ephPriv)
	if err != nil {
		return nil, err
	}
	shared, err := curve25519.X25519(ephPriv, recipientLeafPub)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}
	aesKey := HKDFExpand(shared, nil, []byte(welcomeKDFInfo), AESKeySize)
	nonce, ct, err := AEADEncrypt(aesKey, nil, plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypt welcome: %w", err)
	}
	out := make([]byte, 0, len(ephPub)+len(nonce)+len(ct))
	out = append(out, ephPub...)
	out = append(out, nonce...)
	out = append(out, ct...)
	return out, nil
}

// DecryptWelcome reverses EncryptWelcome using the recipient's leaf
// private key.
func DecryptWelcome(recipientLeafPriv, encrypted []byte) ([]byte, error) {
	if len(encrypted) < welcomeOverhead {
		return nil, fmt.Errorf("encrypted welcome too short: %d bytes (minimum %d)", len(encrypted), welcomeOverhead)
	}
	ephPub := encrypted[:x25519KeySize]
	nonce := encrypted[x25519KeySize : x25519KeySize+NonceSize]
	ct := encrypted[x25519KeySize+NonceSize:]

	shared, err := curve25519.X25519(recipientLeafPriv, ephPub)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}
	aesKey := HKDFExpand(shared, nil, []byte(welcomeKDFInfo), AESKeySize)
	plaintext, err := AEADDecrypt(aesKey, nonce, nil, ct)
	if err != nil {
		return nil, fmt.Errorf("decrypt welcome: %w", err)
	}
	return plaintext, nil
}
