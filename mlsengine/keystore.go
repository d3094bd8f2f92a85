package mlsengine

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"sync"

	"github.com/youmark/pkcs8"
)

// PassphraseEnv names the environment variable consulted for the
// keystore's PEM passphrase when one isn't supplied by the caller.
const PassphraseEnv = "MDK_KEYSTORE_PASSPHRASE"

// Keystore holds signature keypairs and leaf (HPKE-style) init keypairs
// across sessions, consumed as a capability by the rest of the engine.
// The in-process map mirrors the shared, persistent keystore the spec
// describes; PEM encode/decode lets a host persist it to disk exactly
// as mlsgit persisted its Ed25519 identity key.
type Keystore struct {
	mu    sync.Mutex
	sigs  map[string]ed25519.PrivateKey // keyed by hex-encoded public key
	leafs map[string][]byte             // keyed by hex-encoded init public key
}

// NewKeystore returns an empty in-process keystore.
func NewKeystore() *Keystore {
	return &Keystore{
		sigs:  make(map[string]ed25519.PrivateKey),
		leafs: make(map[string][]byte),
	}
}

func hexKey(b []byte) string { return fmt.Sprintf("%x", b) }

// GenerateSignatureKey creates and stores a fresh Ed25519 signature keypair.
func (k *Keystore) GenerateSignatureKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate signature key: %w", err)
	}
	k.mu.Lock()
	k.sigs[hexKey(pub)] = priv
	k.mu.Unlock()
	return pub, priv, nil
}

// GenerateLeafKeys creates and stores a fresh X25519-style leaf keypair
// used to HPKE-wrap a Welcome for this member.
func (k *Keystore) GenerateLeafKeys() (pub, priv []byte, err error) {
	priv = make([]byte, 32)
	if _, err := rand.Read(priv); err != nil {
		return nil, nil, fmt.Errorf("generate leaf key: %w", err)
	}
	pub, err = x25519Public(priv)
	if err != nil {
		return nil, nil, err
	}
	k.mu.Lock()
	k.leafs[hexKey(pub)] = priv
	k.mu.Unlock()
	return pub, priv, nil
}

// LeafPrivateKey looks up a previously generated leaf private key by its
// public key.
func (k *Keystore) LeafPrivateKey(pub []byte) ([]byte, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	priv, ok := k.leafs[hexKey(pub)]
	return priv, ok
}

// SignatureKey looks up a previously generated signature private key.
func (k *Keystore) SignatureKey(pub ed25519.PublicKey) (ed25519.PrivateKey, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	priv, ok := k.sigs[hexKey(pub)]
	return priv, ok
}

// ImportSignatureKey registers a signature keypair obtained elsewhere
// (e.g. loaded from PEM) with the keystore.
func (k *Keystore) ImportSignatureKey(priv ed25519.PrivateKey) {
	pub := priv.Public().(ed25519.PublicKey)
	k.mu.Lock()
	k.sigs[hexKey(pub)] = priv
	k.mu.Unlock()
}

// PrivateKeyToPEM serializes a signature private key to PKCS8 PEM,
// optionally encrypted under passphrase.
func PrivateKeyToPEM(key ed25519.PrivateKey, passphrase []byte) (string, error) {
	if len(passphrase) > 0 {
		pemBlock, err := pkcs8.MarshalPrivateKey(key, passphrase, nil)
		if err != nil {
			return "", fmt.Errorf("marshal encrypted private key: %w", err)
		}
		return string(pem.EncodeToMemory(&pem.Block{
			Type:  "ENCRYPTED PRIVATE KEY",
			Bytes: pemBlock,
		})), nil
	}
	pkcs8Bytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("marshal private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: pkcs8Bytes,
	})), nil
}

// LoadPrivateKey loads a signature private key from PEM. If passphrase
// is nil, falls back to the MDK_KEYSTORE_PASSPHRASE environment variable.
func LoadPrivateKey(pemStr string, passphrase []byte) (ed25519.PrivateKey, error) {
	if passphrase == nil {
		passphrase = passphraseFromEnv()
	}
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	if block.Type == "ENCRYPTED PRIVATE KEY" {
		key, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, passphrase)
		if err != nil {
			return nil, fmt.Errorf("decrypt private key: %w", err)
		}
		edKey, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not Ed25519")
		}
		return edKey, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	edKey, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is not Ed25519")
	}
	return edKey, nil
}

func passphraseFromEnv() []byte {
	if v := os.Getenv(PassphraseEnv); v != "" {
		return []byte(v)
	}
	return nil
}
