package welcome

import (
	"context"
	"errors"
	"testing"

	"github.com/suhailsaqan/mdk/mdkerr"
	"github.com/suhailsaqan/mdk/mlsengine"
	"github.com/suhailsaqan/mdk/nostrkind"
	"github.com/suhailsaqan/mdk/storage"
	"github.com/suhailsaqan/mdk/storage/memstore"
)

func welcomeRumor(eventRef string) *nostrkind.Event {
	return &nostrkind.Event{
		Kind: nostrkind.KindWelcomeRumor,
		Tags: []nostrkind.Tag{
			{"relays", "wss://relay.example"},
			{"e", eventRef},
			{"client", "mdk-test/0.1"},
			{"encoding", "base64"},
		},
	}
}

func stagedWelcomeBytes(t *testing.T) []byte {
	t.Helper()
	var mlsGroupID = []byte("group-1")
	w := &mlsengine.WelcomePayload{
		MLSGroupID:   mlsGroupID,
		NostrGroupID: [32]byte{9},
		Epoch:        0,
		EpochSecret:  make([]byte, 32),
		Leaves:       []mlsengine.LeafEntry{{Active: true}},
		LeafIndex:    0,
		GroupData:    mlsengine.GroupData{Name: "interop", Relays: []string{"wss://relay.example"}},
	}
	data, err := w.Marshal()
	if err != nil {
		t.Fatalf("marshal welcome: %v", err)
	}
	return data
}

func TestProcessStagesGroupAndWelcome(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	var wrapperID [32]byte
	wrapperID[0] = 1

	rumor := welcomeRumor("deadbeef")
	rumor.ID = [32]byte{2}

	w, err := Process(ctx, store, wrapperID, rumor, stagedWelcomeBytes(t))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if w.State != storage.WelcomePending {
		t.Errorf("state = %v, want pending", w.State)
	}

	g, ok, err := store.GetGroup(ctx, [32]byte{9})
	if err != nil || !ok {
		t.Fatalf("expected pending group to be staged: ok=%v err=%v", ok, err)
	}
	if g.Name != "interop" {
		t.Errorf("group name = %q", g.Name)
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	var wrapperID [32]byte
	wrapperID[0] = 3
	rumor := welcomeRumor("deadbeef")

	first, err := Process(ctx, store, wrapperID, rumor, stagedWelcomeBytes(t))
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	second, err := Process(ctx, store, wrapperID, rumor, stagedWelcomeBytes(t))
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if first.NostrGroupID != second.NostrGroupID {
		t.Error("expected idempotent replay to return the same staged welcome")
	}
}

func TestProcessRejectsMalformedShape(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	var wrapperID [32]byte
	rumor := &nostrkind.Event{Kind: nostrkind.KindWelcomeRumor}
	_, err := Process(ctx, store, wrapperID, rumor, nil)
	var merr *mdkerr.Error
	if !errors.As(err, &merr) {
		t.Fatalf("expected *mdkerr.Error, got %v", err)
	}
}

func TestAcceptActivatesGroup(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	var wrapperID [32]byte
	wrapperID[0] = 5
	rumor := welcomeRumor("deadbeef")

	w, err := Process(ctx, store, wrapperID, rumor, stagedWelcomeBytes(t))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, err := Accept(ctx, store, w); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	g, ok, err := store.GetGroup(ctx, w.NostrGroupID)
	if err != nil || !ok || g.State != storage.GroupActive {
		t.Fatalf("expected group active after accept: ok=%v g=%+v err=%v", ok, g, err)
	}
}

func TestDeclineDeactivatesGroup(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	var wrapperID [32]byte
	wrapperID[0] = 6
	rumor := welcomeRumor("deadbeef")

	w, err := Process(ctx, store, wrapperID, rumor, stagedWelcomeBytes(t))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := Decline(ctx, store, w); err != nil {
		t.Fatalf("Decline: %v", err)
	}
	g, ok, err := store.GetGroup(ctx, w.NostrGroupID)
	if err != nil || !ok || g.State != storage.GroupInactive {
		t.Fatalf("expected group inactive after decline: ok=%v g=%+v err=%v", ok, g, err)
	}
}
