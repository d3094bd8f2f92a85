package group

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/suhailsaqan/mdk/mlsengine"
	"github.com/suhailsaqan/mdk/storage"
	"github.com/suhailsaqan/mdk/storage/memstore"
)

func testCredential(t *testing.T, identity byte) mlsengine.Credential {
	t.Helper()
	_, priv, _ := ed25519.GenerateKey(nil)
	return mlsengine.Credential{Identity: [32]byte{identity}, SigPub: priv.Public().(ed25519.PublicKey)}
}

func TestCreateTwoPartyGroup(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	alice := testCredential(t, 1)
	ks := mlsengine.NewKeystore()
	var bobIdentity [32]byte
	bobIdentity[0] = 2
	bobKP, _, err := mlsengine.BuildKeyPackage(ks, bobIdentity)
	if err != nil {
		t.Fatalf("BuildKeyPackage: %v", err)
	}

	result, err := Create(ctx, store, []byte("mls-group-1"), alice, []*mlsengine.KeyPackagePayload{bobKP}, CreateConfig{
		Name: "interop", Description: "rust<->rust", Admins: [][32]byte{alice.Identity, bobIdentity},
		Relays: []string{"ws://127.0.0.1:18080"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if result.State.Epoch != 1 {
		t.Fatalf("epoch = %d, want 1 (one Add commit merged)", result.State.Epoch)
	}
	if len(result.Welcomes) != 1 {
		t.Fatalf("welcomes = %d, want 1", len(result.Welcomes))
	}
	if _, ok := result.Welcomes[bobIdentity]; !ok {
		t.Fatal("expected a welcome for Bob")
	}

	g, ok, err := store.GetGroup(ctx, result.State.NostrGroupID)
	if err != nil || !ok {
		t.Fatalf("expected persisted group: ok=%v err=%v", ok, err)
	}
	if g.State != storage.GroupActive {
		t.Errorf("state = %v, want active", g.State)
	}
}

func TestSelfUpdateThenMergeAdvancesEpoch(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	alice := testCredential(t, 1)
	result, err := Create(ctx, store, []byte("mls-group-2"), alice, nil, CreateConfig{Name: "solo"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	gs := result.State

	newCred := testCredential(t, 1)
	c, err := SelfUpdate(gs, newCred)
	if err != nil {
		t.Fatalf("SelfUpdate: %v", err)
	}
	if err := MergePending(ctx, store, gs, c, [32]byte{5}, 100, 5); err != nil {
		t.Fatalf("MergePending: %v", err)
	}
	if gs.Epoch != 1 {
		t.Fatalf("epoch = %d, want 1", gs.Epoch)
	}
	if _, ok, err := store.GetExporterSecret(ctx, gs.NostrGroupID, 1); err != nil || !ok {
		t.Fatalf("expected exporter secret for epoch 1: ok=%v err=%v", ok, err)
	}
}
