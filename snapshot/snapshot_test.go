package snapshot

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/suhailsaqan/mdk/mlsengine"
	"github.com/suhailsaqan/mdk/storage"
	"github.com/suhailsaqan/mdk/storage/memstore"
)

func TestBetterOrdersByTimeThenEventID(t *testing.T) {
	a := CommitRef{CreatedAt: 100, EventID: [32]byte{1}}
	b := CommitRef{CreatedAt: 200, EventID: [32]byte{0}}
	if !Better(a, b) {
		t.Error("expected earlier timestamp to win regardless of event id")
	}

	tieA := CommitRef{CreatedAt: 100, EventID: [32]byte{1}}
	tieB := CommitRef{CreatedAt: 100, EventID: [32]byte{2}}
	if !Better(tieA, tieB) {
		t.Error("expected lexicographically smaller event id to win on tie")
	}
	if Better(tieB, tieA) {
		t.Error("expected larger event id to lose on tie")
	}
	if Better(tieA, tieA) {
		t.Error("identical commit must never be 'better' than itself")
	}
}

func newTestGroup(t *testing.T) *mlsengine.GroupState {
	t.Helper()
	_, priv, _ := ed25519.GenerateKey(nil)
	cred := mlsengine.Credential{Identity: [32]byte{1}, SigPub: priv.Public().(ed25519.PublicKey)}
	gs, err := mlsengine.CreateGroup([]byte("group-1"), cred, mlsengine.GroupData{Name: "race-test"})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	return gs
}

func TestResolveRaceUnprocessableWithoutSnapshot(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	result, err := ResolveRace(ctx, store, store, [32]byte{5}, 0, CommitRef{CreatedAt: 10, EventID: [32]byte{1}})
	if err != nil {
		t.Fatalf("ResolveRace: %v", err)
	}
	if result.Outcome != OutcomeUnprocessable {
		t.Fatalf("outcome = %v, want unprocessable", result.Outcome)
	}
}

func TestResolveRaceRollsBackWhenCandidateIsBetter(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	gs := newTestGroup(t)

	applied := CommitRef{CreatedAt: 100, EventID: [32]byte{9}}
	if err := CreateSnapshot(ctx, store, gs, applied, 5); err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	// A message stored as if it had been decrypted under the losing branch.
	_ = store.SaveMessage(ctx, storage.Message{
		EventID:      [32]byte{20},
		NostrGroupID: gs.NostrGroupID,
		Epoch:        ptr(uint64(1)),
		State:        storage.MessageProcessed,
	})

	candidate := CommitRef{CreatedAt: 50, EventID: [32]byte{2}}
	result, err := ResolveRace(ctx, store, store, gs.NostrGroupID, 0, candidate)
	if err != nil {
		t.Fatalf("ResolveRace: %v", err)
	}
	if result.Outcome != OutcomeRolledBack {
		t.Fatalf("outcome = %v, want rolled_back", result.Outcome)
	}
	if result.RestoredState == nil {
		t.Fatal("expected restored state")
	}
	if len(result.InvalidatedMessages) != 1 {
		t.Fatalf("invalidated messages = %d, want 1", len(result.InvalidatedMessages))
	}
}

func TestResolveRaceUnprocessableWhenCandidateNotBetter(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	gs := newTestGroup(t)

	applied := CommitRef{CreatedAt: 10, EventID: [32]byte{1}}
	if err := CreateSnapshot(ctx, store, gs, applied, 5); err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	candidate := CommitRef{CreatedAt: 500, EventID: [32]byte{2}}
	result, err := ResolveRace(ctx, store, store, gs.NostrGroupID, 0, candidate)
	if err != nil {
		t.Fatalf("ResolveRace: %v", err)
	}
	if result.Outcome != OutcomeUnprocessable {
		t.Fatalf("outcome = %v, want unprocessable", result.Outcome)
	}
}

func ptr[T any](v T) *T { return &v }
