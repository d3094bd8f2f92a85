package media

import (
	"crypto/ed25519"
	"testing"

	"github.com/suhailsaqan/mdk/storage"
)

func refFor(filename string, mark byte) storage.MediaReference {
	return storage.MediaReference{Filename: filename, OriginalHash: [32]byte{mark}}
}

func TestComputeManifestRootEmpty(t *testing.T) {
	if root := ComputeManifestRoot(nil); root != ([32]byte{}) {
		t.Errorf("empty batch root = %x, want zero", root)
	}
}

func TestComputeManifestRootDeterministicRegardlessOfOrder(t *testing.T) {
	a := refFor("a.png", 1)
	b := refFor("b.png", 2)

	root1 := ComputeManifestRoot([]storage.MediaReference{a, b})
	root2 := ComputeManifestRoot([]storage.MediaReference{b, a})
	if root1 != root2 {
		t.Errorf("roots differ by input order: %x vs %x", root1, root2)
	}
}

func TestComputeManifestRootOddCount(t *testing.T) {
	refs := []storage.MediaReference{refFor("a.png", 1), refFor("b.png", 2), refFor("c.png", 3)}
	if root := ComputeManifestRoot(refs); root == ([32]byte{}) {
		t.Error("odd-count batch root should not be zero")
	}
}

func TestSignVerifyManifestRoundtrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	var author [32]byte
	copy(author[:], pub)

	refs := []storage.MediaReference{refFor("a.png", 1), refFor("b.png", 2)}
	manifest := SignManifest([32]byte{9}, refs, author, priv)

	if err := VerifyManifest(manifest, refs, pub); err != nil {
		t.Fatalf("VerifyManifest: %v", err)
	}
}

func TestVerifyManifestRejectsTamperedSet(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	var author [32]byte
	copy(author[:], pub)

	refs := []storage.MediaReference{refFor("a.png", 1), refFor("b.png", 2)}
	manifest := SignManifest([32]byte{9}, refs, author, priv)

	tampered := []storage.MediaReference{refFor("a.png", 1), refFor("b.png", 0xFF)}
	if err := VerifyManifest(manifest, tampered, pub); err == nil {
		t.Fatal("expected tampered object set to fail verification")
	}
}

func TestVerifyManifestRejectsWrongKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	otherPub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	var author [32]byte

	refs := []storage.MediaReference{refFor("a.png", 1)}
	manifest := SignManifest([32]byte{9}, refs, author, priv)

	if err := VerifyManifest(manifest, refs, otherPub); err == nil {
		t.Fatal("expected wrong verification key to fail")
	}
}
