package mlsengine

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// Ciphersuite is the only MLS ciphersuite this engine accepts:
// MLS_128_DHKEMX25519_AES128GCM_SHA256_Ed25519.
const Ciphersuite uint16 = 0x0001

// Extension hex identifiers carried on every freshly built KeyPackage.
const (
	ExtensionLastResort     = "0x000a"
	ExtensionNostrGroupData = "0xf2ee"
)

// Credential binds an identity key to a leaf signature public key.
type Credential struct {
	Identity [32]byte
	SigPub   ed25519.PublicKey
}

// KeyPackagePayload is the JSON-serializable MLS artifact a credential's
// owner publishes to advertise group-joinability. It always carries the
// LastResort and NostrGroupData extensions, matching the fixed
// capability set the core emits.
type KeyPackagePayload struct {
	Ciphersuite uint16
	Credential  Credential
	InitKey     []byte // X25519-style HPKE init public key
	Extensions  []string
	Signature   []byte
}

func (kp *KeyPackagePayload) signingInput() []byte {
	buf, _ := json.Marshal(struct {
		Ciphersuite uint16
		Identity    [32]byte
		SigPub      ed25519.PublicKey
		InitKey     []byte
		Extensions  []string
	}{kp.Ciphersuite, kp.Credential.Identity, kp.Credential.SigPub, kp.InitKey, kp.Extensions})
	return buf
}

// BuildKeyPackage generates a fresh credential + signature keypair bound
// to identity, a fresh leaf init keypair, and returns the signed,
// JSON-serializable key package plus a stable handle the caller can use
// to request deletion without re-parsing the package body.
func BuildKeyPackage(ks *Keystore, identity [32]byte) (*KeyPackagePayload, []byte, error) {
	sigPub, sigPriv, err := ks.GenerateSignatureKey()
	if err != nil {
		return nil, nil, fmt.Errorf("generate credential key: %w", err)
	}
	initPub, _, err := ks.GenerateLeafKeys()
	if err != nil {
		return nil, nil, fmt.Errorf("generate leaf key: %w", err)
	}

	kp := &KeyPackagePayload{
		Ciphersuite: Ciphersuite,
		Credential:  Credential{Identity: identity, SigPub: sigPub},
		InitKey:     initPub,
		Extensions:  []string{ExtensionLastResort, ExtensionNostrGroupData},
	}
	kp.Signature = ed25519.Sign(sigPriv, kp.signingInput())

	handle := HandleForKeyPackage(kp)
	return kp, handle, nil
}

// HandleForKeyPackage derives a stable hash-reference handle for a key
// package, independent of its serialized wire encoding.
func HandleForKeyPackage(kp *KeyPackagePayload) []byte {
	h := sha256.Sum256(kp.signingInput())
	return h[:]
}

// Marshal serializes a key package for wire transmission. The core
// always base64-encodes this output before publishing.
func (kp *KeyPackagePayload) Marshal() ([]byte, error) {
	return json.Marshal(kp)
}

// UnmarshalKeyPackage parses a serialized key package body without
// validating its signature; call ValidateKeyPackage afterward.
func UnmarshalKeyPackage(data []byte) (*KeyPackagePayload, error) {
	var kp KeyPackagePayload
	if err := json.Unmarshal(data, &kp); err != nil {
		return nil, fmt.Errorf("unmarshal key package: %w", err)
	}
	return &kp, nil
}

// ValidateKeyPackage cryptographically validates a key package: correct
// ciphersuite, well-formed credential and init keys, and a valid
// self-signature over the package body.
func ValidateKeyPackage(kp *KeyPackagePayload) error {
	if kp.Ciphersuite != Ciphersuite {
		return fmt.Errorf("unsupported ciphersuite 0x%04x", kp.Ciphersuite)
	}
	if len(kp.Credential.SigPub) != ed25519.PublicKeySize {
		return fmt.Errorf("malformed credential signature key")
	}
	if len(kp.InitKey) != x25519KeySize {
		return fmt.Errorf("malformed init key")
	}
	if !ed25519.Verify(kp.Credential.SigPub, kp.signingInput(), kp.Signature) {
		return fmt.Errorf("key package signature verification failed")
	}
	return nil
}

// HasExtension reports whether the key package carries the named
// extension.
func (kp *KeyPackagePayload) HasExtension(id string) bool {
	for _, e := range kp.Extensions {
		if e == id {
			return true
		}
	}
	return false
}
