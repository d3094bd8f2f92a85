package media

import (
	"crypto/ed25519"
	"crypto/sha256"
	"sort"

	"github.com/suhailsaqan/mdk/mdkerr"
	"github.com/suhailsaqan/mdk/storage"
)

// Manifest is a signed commitment to a batch of media objects uploaded
// together (e.g. a gallery or album): a Merkle root over each object's
// (filename, original_hash) pair, signed by the uploader's identity
// key. A member who has already verified the manifest's signature can
// confirm the whole batch arrived intact by recomputing the root from
// the MediaReferences it fetched, without re-verifying each object's
// signature individually.
type Manifest struct {
	NostrGroupID [32]byte
	RootHash     [32]byte
	Signature    []byte
	Author       [32]byte
	ObjectCount  int
}

func manifestLeafHash(ref storage.MediaReference) [32]byte {
	combined := append([]byte(ref.Filename), ref.OriginalHash[:]...)
	return sha256.Sum256(combined)
}

// ComputeManifestRoot builds the Merkle root over refs, sorted by
// filename for deterministic ordering; an odd node out is paired with
// itself. Returns the zero hash for an empty batch.
func ComputeManifestRoot(refs []storage.MediaReference) [32]byte {
	if len(refs) == 0 {
		return [32]byte{}
	}
	sorted := append([]storage.MediaReference(nil), refs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Filename < sorted[j].Filename })

	nodes := make([][32]byte, len(sorted))
	for i, ref := range sorted {
		nodes[i] = manifestLeafHash(ref)
	}
	for len(nodes) > 1 {
		var next [][32]byte
		for i := 0; i < len(nodes); i += 2 {
			left := nodes[i]
			right := left
			if i+1 < len(nodes) {
				right = nodes[i+1]
			}
			combined := make([]byte, 0, 64)
			combined = append(combined, left[:]...)
			combined = append(combined, right[:]...)
			next = append(next, sha256.Sum256(combined))
		}
		nodes = next
	}
	return nodes[0]
}

// SignManifest computes refs's Merkle root and signs it with the
// uploader's Ed25519 identity key.
func SignManifest(nostrGroupID [32]byte, refs []storage.MediaReference, author [32]byte, sigPriv ed25519.PrivateKey) Manifest {
	root := ComputeManifestRoot(refs)
	return Manifest{
		NostrGroupID: nostrGroupID,
		RootHash:     root,
		Signature:    ed25519.Sign(sigPriv, root[:]),
		Author:       author,
		ObjectCount:  len(refs),
	}
}

// VerifyManifest checks m's signature against sigPub, then recomputes
// the root from refs to confirm the set is exactly what was signed.
func VerifyManifest(m Manifest, refs []storage.MediaReference, sigPub ed25519.PublicKey) error {
	if !ed25519.Verify(sigPub, m.RootHash[:], m.Signature) {
		return mdkerr.DecryptionFailed("media manifest signature invalid")
	}
	if got := ComputeManifestRoot(refs); got != m.RootHash {
		return mdkerr.HashVerificationFailed()
	}
	return nil
}
