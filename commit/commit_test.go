package commit

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/suhailsaqan/mdk/mlsengine"
	"github.com/suhailsaqan/mdk/storage"
	"github.com/suhailsaqan/mdk/storage/memstore"
)

func newGroup(t *testing.T, identity byte) (*mlsengine.GroupState, mlsengine.Credential) {
	t.Helper()
	_, priv, _ := ed25519.GenerateKey(nil)
	cred := mlsengine.Credential{Identity: [32]byte{identity}, SigPub: priv.Public().(ed25519.PublicKey)}
	gs, err := mlsengine.CreateGroup([]byte("group-1"), cred, mlsengine.GroupData{Name: "g", Admins: [][32]byte{{identity}}})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	return gs, cred
}

func TestProcessAdminCommitAdvancesEpochAndSyncsMetadata(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	gs, cred := newGroup(t, 1)

	data := gs.GroupData
	data.Name = "renamed"
	c, err := mlsengine.StageGroupDataUpdate(gs, data)
	if err != nil {
		t.Fatalf("StageGroupDataUpdate: %v", err)
	}

	result, err := Process(ctx, store, gs, c, Sender{Identity: cred.Identity, IsMember: true}, [32]byte{7}, 1000, 5)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Outcome != OutcomeProcessedCommit {
		t.Fatalf("outcome = %v", result.Outcome)
	}
	if gs.Epoch != 1 {
		t.Fatalf("epoch = %d, want 1", gs.Epoch)
	}

	g, ok, err := store.GetGroup(ctx, gs.NostrGroupID)
	if err != nil || !ok {
		t.Fatalf("GetGroup: ok=%v err=%v", ok, err)
	}
	if g.Name != "renamed" {
		t.Errorf("group name not synced: %q", g.Name)
	}

	if _, ok, err := store.GetExporterSecret(ctx, gs.NostrGroupID, 1); err != nil || !ok {
		t.Fatalf("expected exporter secret for new epoch: ok=%v err=%v", ok, err)
	}
}

func TestProcessRejectsNonAdminNonSelfUpdate(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	gs, _ := newGroup(t, 1)

	ks := mlsengine.NewKeystore()
	var identityB [32]byte
	identityB[0] = 2
	kpB, _, err := mlsengine.BuildKeyPackage(ks, identityB)
	if err != nil {
		t.Fatalf("BuildKeyPackage: %v", err)
	}
	c, _, err := mlsengine.StageAddMember(gs, kpB)
	if err != nil {
		t.Fatalf("StageAddMember: %v", err)
	}

	// identityB is not in the admin set and this is not a pure
	// self-update, so a commit attributed to it must be rejected.
	if _, err := Process(ctx, store, gs, c, Sender{Identity: identityB, IsMember: true}, [32]byte{3}, 300, 5); err == nil {
		t.Fatal("expected non-admin non-self-update commit to be rejected")
	}
}

func TestProcessDetectsEviction(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	gsA, credA := newGroup(t, 1)

	ks := mlsengine.NewKeystore()
	var identityB [32]byte
	identityB[0] = 2
	kpB, _, err := mlsengine.BuildKeyPackage(ks, identityB)
	if err != nil {
		t.Fatalf("BuildKeyPackage: %v", err)
	}
	credB := kpB.Credential

	addCommit, _, err := mlsengine.StageAddMember(gsA, kpB)
	if err != nil {
		t.Fatalf("StageAddMember: %v", err)
	}
	if _, err := Process(ctx, store, gsA, addCommit, Sender{Identity: credA.Identity, IsMember: true}, [32]byte{1}, 100, 5); err != nil {
		t.Fatalf("Process add: %v", err)
	}

	// Now remove leaf 0 (A) from A's own perspective won't validate (can't
	// remove self), so instead simulate B committing a removal of A. B
	// must be an admin, since a non-admin may only commit a self-update.
	gsA.GroupData.Admins = append(gsA.GroupData.Admins, identityB)
	gsB := &mlsengine.GroupState{
		MLSGroupID:   gsA.MLSGroupID,
		NostrGroupID: gsA.NostrGroupID,
		Epoch:        gsA.Epoch,
		EpochSecret:  append([]byte(nil), gsA.EpochSecret...),
		Leaves:       append([]mlsengine.LeafEntry(nil), gsA.Leaves...),
		OwnLeafIndex: 1,
		GroupData:    gsA.GroupData,
	}
	removeCommit, err := mlsengine.StageRemoveMember(gsB, 0)
	if err != nil {
		t.Fatalf("StageRemoveMember: %v", err)
	}

	result, err := Process(ctx, store, gsA, removeCommit, Sender{Identity: credB.Identity, IsMember: true}, [32]byte{2}, 200, 5)
	if err != nil {
		t.Fatalf("Process remove: %v", err)
	}
	if !result.Evicted {
		t.Fatal("expected A to be evicted")
	}
	g, ok, err := store.GetGroup(ctx, gsA.NostrGroupID)
	if err != nil || !ok || g.State != storage.GroupInactive {
		t.Fatalf("expected group inactive after eviction: ok=%v g=%+v err=%v", ok, g, err)
	}
}
