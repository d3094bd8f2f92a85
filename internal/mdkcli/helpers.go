package mdkcli

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/suhailsaqan/mdk/mlsengine"
)

func cmdContext() context.Context { return context.Background() }

func identityPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mdkctl", "identity.pem"), nil
}

// loadOrCreateIdentity reads the caller's persisted Ed25519 identity
// key from ~/.mdkctl/identity.pem, generating and saving one on first
// use, and registers it with ks so key-package building can sign
// against it.
func loadOrCreateIdentity(ks *mlsengine.Keystore) (mlsengine.Credential, error) {
	path, err := identityPath()
	if err != nil {
		return mlsengine.Credential{}, err
	}

	if data, err := os.ReadFile(path); err == nil {
		priv, err := mlsengine.LoadPrivateKey(string(data), nil)
		if err != nil {
			return mlsengine.Credential{}, fmt.Errorf("load identity: %w", err)
		}
		ks.ImportSignatureKey(priv)
		return credentialFor(priv), nil
	} else if !os.IsNotExist(err) {
		return mlsengine.Credential{}, err
	}

	pub, priv, err := ks.GenerateSignatureKey()
	_ = pub
	if err != nil {
		return mlsengine.Credential{}, fmt.Errorf("generate identity: %w", err)
	}
	pemStr, err := mlsengine.PrivateKeyToPEM(priv, nil)
	if err != nil {
		return mlsengine.Credential{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return mlsengine.Credential{}, err
	}
	if err := os.WriteFile(path, []byte(pemStr), 0o600); err != nil {
		return mlsengine.Credential{}, err
	}
	return credentialFor(priv), nil
}

func credentialFor(priv ed25519.PrivateKey) mlsengine.Credential {
	pub := priv.Public().(ed25519.PublicKey)
	var identity [32]byte
	copy(identity[:], pub)
	return mlsengine.Credential{Identity: identity, SigPub: pub}
}

func parseIdentityHex(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid hex identity: %w", err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("identity must be 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func parseGroupIDHex(s string) ([32]byte, error) { return parseIdentityHex(s) }
