// Package mlsengine is the narrow cryptographic-provider boundary the
// rest of the core is built against. It is a self-contained MLS-like
// implementation (Ed25519 credentials + HKDF-derived epoch secrets +
// X25519 HPKE-style welcome wrapping) that can be swapped for a vetted
// MLS 1.0 binding without touching any other package, since nothing
// outside this package performs AKE math directly.
package mlsengine

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// GroupData is the NostrGroupData GroupContext extension payload: the
// nostr-layer metadata MLS itself has no notion of.
type GroupData struct {
	Name        string
	Description string
	Admins      [][32]byte
	Relays      []string
	ImageURL    string
	ImageHash   []byte
}

// HasAdmin reports whether identity is in the group's admin set.
func (d GroupData) HasAdmin(identity [32]byte) bool {
	for _, a := range d.Admins {
		if a == identity {
			return true
		}
	}
	return false
}

// LeafEntry is one position in the group's member tree.
type LeafEntry struct {
	Credential Credential
	InitKey    []byte
	Active     bool
}

// GroupState is the serializable MLS-side state for a single group, from
// one member's point of view. The nostr_group_id is the clear-text value
// distributed in the NostrGroupData extension so ciphertext events can
// carry it plaintext in an h tag without breaking confidentiality.
type GroupState struct {
	MLSGroupID   []byte
	NostrGroupID [32]byte
	Epoch        uint64
	EpochSecret  []byte
	Leaves       []LeafEntry
	OwnLeafIndex int
	GroupData    GroupData
}

// OwnLeaf returns this member's current leaf entry.
func (g *GroupState) OwnLeaf() LeafEntry { return g.Leaves[g.OwnLeafIndex] }

// IsMember reports whether the given leaf index is active.
func (g *GroupState) IsMember(leafIndex int) bool {
	return leafIndex >= 0 && leafIndex < len(g.Leaves) && g.Leaves[leafIndex].Active
}

// ActiveLeafOf returns the leaf index whose credential identity matches,
// or -1 if none is active with that identity.
func (g *GroupState) ActiveLeafOf(identity [32]byte) int {
	for i, l := range g.Leaves {
		if l.Active && l.Credential.Identity == identity {
			return i
		}
	}
	return -1
}

// CreateGroup creates a brand-new group with the creator as its sole,
// active member at epoch 0.
func CreateGroup(mlsGroupID []byte, creator Credential, data GroupData) (*GroupState, error) {
	nostrGroupID := [32]byte{}
	if _, err := rand.Read(nostrGroupID[:]); err != nil {
		return nil, fmt.Errorf("generate nostr group id: %w", err)
	}
	epochSecret := make([]byte, 32)
	if _, err := rand.Read(epochSecret); err != nil {
		return nil, fmt.Errorf("generate epoch secret: %w", err)
	}
	return &GroupState{
		MLSGroupID:   mlsGroupID,
		NostrGroupID: nostrGroupID,
		Epoch:        0,
		EpochSecret:  epochSecret,
		Leaves:       []LeafEntry{{Credential: creator, Active: true}},
		OwnLeafIndex: 0,
		GroupData:    data,
	}, nil
}

// ProposalKind enumerates the proposal types a staged commit may carry.
// This is a closed, whitelisted set: the Stage* functions introduce no
// other kind, and Commit.IsPureSelfUpdate treats any kind other than
// Update as disqualifying, so a non-admin commit carrying one is
// rejected by the validation package.
type ProposalKind string

const (
	ProposalAdd    ProposalKind = "add"
	ProposalRemove ProposalKind = "remove"
	ProposalUpdate ProposalKind = "update"
)

// Proposal is one entry in a staged commit.
type Proposal struct {
	Kind          ProposalKind
	LeafIndex     int         // Remove, Update
	KeyPackage    *KeyPackagePayload `json:",omitempty"` // Add
	NewCredential *Credential `json:",omitempty"`         // Update
}

// Commit is the wire-serializable result of staging a change to the
// group. Rather than a transcript of proposals to be replayed, it
// carries the resulting leaf table directly (the same "commit is the
// serialized new state" approach mlsgit used for its own git-committed
// groups), which keeps remote application and local merge identical.
type Commit struct {
	GroupID          []byte
	ParentEpoch      uint64
	NewEpoch         uint64
	CommitterLeaf    int
	Proposals        []Proposal
	ResultingLeaves  []LeafEntry
	GroupDataAfter   *GroupData `json:",omitempty"`
}

func (c *Commit) hash() []byte {
	buf, _ := json.Marshal(c)
	h := sha256.Sum256(buf)
	return h[:]
}

// IsPureSelfUpdate reports whether the commit has at least one proposal
// and every proposal is an Update of the committer's own leaf.
func (c *Commit) IsPureSelfUpdate() bool {
	sawSelfUpdate := false
	for _, p := range c.Proposals {
		if p.Kind != ProposalUpdate || p.LeafIndex != c.CommitterLeaf {
			return false
		}
		sawSelfUpdate = true
	}
	return sawSelfUpdate
}

func cloneLeaves(leaves []LeafEntry) []LeafEntry {
	out := make([]LeafEntry, len(leaves))
	copy(out, leaves)
	return out
}

// StageAddMember stages a commit adding kp as a new active leaf, and
// produces the Welcome the new member needs to join at the resulting
// epoch.
func StageAddMember(gs *GroupState, kp *KeyPackagePayload) (*Commit, *WelcomePayload, error) {
	if err := ValidateKeyPackage(kp); err != nil {
		return nil, nil, fmt.Errorf("invalid key package: %w", err)
	}
	newLeaves := cloneLeaves(gs.Leaves)
	newLeaves = append(newLeaves, LeafEntry{Credential: kp.Credential, InitKey: kp.InitKey, Active: true})
	newLeafIndex := len(newLeaves) - 1

	c := &Commit{
		GroupID:         gs.MLSGroupID,
		ParentEpoch:     gs.Epoch,
		NewEpoch:        gs.Epoch + 1,
		CommitterLeaf:   gs.OwnLeafIndex,
		Proposals:       []Proposal{{Kind: ProposalAdd, LeafIndex: newLeafIndex, KeyPackage: kp}},
		ResultingLeaves: newLeaves,
	}

	newSecret := advanceEpochSecret(gs.EpochSecret, gs.Epoch, c.hash())
	welcome := &WelcomePayload{
		MLSGroupID:   gs.MLSGroupID,
		NostrGroupID: gs.NostrGroupID,
		Epoch:        c.NewEpoch,
		EpochSecret:  newSecret,
		Leaves:       newLeaves,
		LeafIndex:    newLeafIndex,
		GroupData:    gs.GroupData,
	}
	return c, welcome, nil
}

// StageRemoveMember stages a commit deactivating leafIndex.
func StageRemoveMember(gs *GroupState, leafIndex int) (*Commit, error) {
	if !gs.IsMember(leafIndex) {
		return nil, fmt.Errorf("leaf index %d is not an active member", leafIndex)
	}
	if leafIndex == gs.OwnLeafIndex {
		return nil, fmt.Errorf("cannot remove self via RemoveMember; self-eviction is implicit on commit merge")
	}
	newLeaves := cloneLeaves(gs.Leaves)
	newLeaves[leafIndex].Active = false

	return &Commit{
		GroupID:         gs.MLSGroupID,
		ParentEpoch:     gs.Epoch,
		NewEpoch:        gs.Epoch + 1,
		CommitterLeaf:   gs.OwnLeafIndex,
		Proposals:       []Proposal{{Kind: ProposalRemove, LeafIndex: leafIndex}},
		ResultingLeaves: newLeaves,
	}, nil
}

// StageSelfUpdate stages a pure self-update commit: the committer's own
// leaf rotates its credential signature key. The identity embedded in
// newCredential MUST equal the committer's current identity. Staging does
// not check this; the commit processor checks it on receipt via
// validation.ValidateCommitIdentityInvariants.
func StageSelfUpdate(gs *GroupState, newCredential Credential) (*Commit, error) {
	newLeaves := cloneLeaves(gs.Leaves)
	newLeaves[gs.OwnLeafIndex].Credential = newCredential

	return &Commit{
		GroupID:       gs.MLSGroupID,
		ParentEpoch:   gs.Epoch,
		NewEpoch:      gs.Epoch + 1,
		CommitterLeaf: gs.OwnLeafIndex,
		Proposals: []Proposal{{
			Kind:          ProposalUpdate,
			LeafIndex:     gs.OwnLeafIndex,
			NewCredential: &newCredential,
		}},
		ResultingLeaves: newLeaves,
	}, nil
}

// StageGroupDataUpdate stages a commit changing only the NostrGroupData
// extension (name/description/admins/relays/image), with no membership
// change.
func StageGroupDataUpdate(gs *GroupState, data GroupData) (*Commit, error) {
	return &Commit{
		GroupID:         gs.MLSGroupID,
		ParentEpoch:     gs.Epoch,
		NewEpoch:        gs.Epoch + 1,
		CommitterLeaf:   gs.OwnLeafIndex,
		ResultingLeaves: cloneLeaves(gs.Leaves),
		GroupDataAfter:  &data,
	}, nil
}

// advanceEpochSecret derives the next epoch secret. Binding the commit's
// hash into the derivation (rather than only the old secret and epoch
// counter) means two competing commits at the same parent epoch yield
// distinct epoch secrets, which is what makes rollback-and-reapply safe.
func advanceEpochSecret(oldSecret []byte, parentEpoch uint64, commitHash []byte) []byte {
	epochBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(epochBytes, parentEpoch)
	info := append([]byte("mdk-epoch-advance"), commitHash...)
	return HKDFExpand(oldSecret, epochBytes, info, 32)
}

// MergeCommit applies a staged (or received) commit to gs, whether gs is
// the committer's own state or a remote member's. It is the single state
// transition function both the group module's "merge pending commit"
// and the commit processor's "merge the staged commit into the MLS
// group" describe.
func MergeCommit(gs *GroupState, c *Commit) error {
	if c.ParentEpoch != gs.Epoch {
		return fmt.Errorf("commit parent epoch %d does not match current epoch %d", c.ParentEpoch, gs.Epoch)
	}
	newSecret := advanceEpochSecret(gs.EpochSecret, gs.Epoch, c.hash())

	ownIdentity := gs.OwnLeaf().Credential.Identity
	gs.Leaves = cloneLeaves(c.ResultingLeaves)
	gs.Epoch = c.NewEpoch
	gs.EpochSecret = newSecret
	if c.GroupDataAfter != nil {
		gs.GroupData = *c.GroupDataAfter
	}

	// Re-anchor OwnLeafIndex by identity, since a Remove proposal can
	// shift indices relative to how this member last saw the tree.
	if newLeaf := gs.ActiveLeafOf(ownIdentity); newLeaf >= 0 {
		gs.OwnLeafIndex = newLeaf
	}
	// If ownIdentity is no longer active, OwnLeafIndex is left stale;
	// callers detect eviction via gs.ActiveLeafOf(ownIdentity) < 0 (the
	// commit processor captures ownIdentity before calling MergeCommit).
	return nil
}

// ExportSecret derives an application-specific secret from the current
// epoch secret via HKDF-SHA256(epochSecret, salt=context, info=label).
func ExportSecret(gs *GroupState, label string, context []byte, length int) []byte {
	return HKDFExpand(gs.EpochSecret, context, []byte(label), length)
}

// Checkpoint serializes the full group state for snapshot-based
// rollback as JSON; Restore reverses it.
func Checkpoint(gs *GroupState) ([]byte, error) {
	return json.Marshal(gs)
}

// Restore deserializes a group state previously produced by Checkpoint.
func Restore(data []byte) (*GroupState, error) {
	var gs GroupState
	if err := json.Unmarshal(data, &gs); err != nil {
		return nil, fmt.Errorf("restore group state: %w", err)
	}
	return &gs, nil
}

// WelcomePayload is the JSON-serializable MLS Welcome a new member uses
// to instantiate their copy of the group state.
type WelcomePayload struct {
	MLSGroupID   []byte
	NostrGroupID [32]byte
	Epoch        uint64
	EpochSecret  []byte
	Leaves       []LeafEntry
	LeafIndex    int
	GroupData    GroupData
}

// Marshal serializes a Welcome for HPKE wrapping.
func (w *WelcomePayload) Marshal() ([]byte, error) { return json.Marshal(w) }

// UnmarshalWelcome parses a decrypted Welcome body.
func UnmarshalWelcome(data []byte) (*WelcomePayload, error) {
	var w WelcomePayload
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal welcome: %w", err)
	}
	return &w, nil
}

// JoinFromWelcome instantiates the real MLS group from a validated,
// staged Welcome — the group module's "accept" operation.
func JoinFromWelcome(w *WelcomePayload) *GroupState {
	return &GroupState{
		MLSGroupID:   w.MLSGroupID,
		NostrGroupID: w.NostrGroupID,
		Epoch:        w.Epoch,
		EpochSecret:  w.EpochSecret,
		Leaves:       cloneLeaves(w.Leaves),
		OwnLeafIndex: w.LeafIndex,
		GroupData:    w.GroupData,
	}
}
