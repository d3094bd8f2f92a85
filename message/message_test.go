package message

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/suhailsaqan/mdk/callback"
	"github.com/suhailsaqan/mdk/mlsengine"
	"github.com/suhailsaqan/mdk/nostrkind"
	"github.com/suhailsaqan/mdk/storage"
	"github.com/suhailsaqan/mdk/storage/memstore"
)

func hexGroupTag(id [32]byte) nostrkind.Tag {
	const hextable = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range id {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return nostrkind.Tag{"h", string(out)}
}

func newGroup(t *testing.T) (*mlsengine.GroupState, mlsengine.Credential) {
	t.Helper()
	_, priv, _ := ed25519.GenerateKey(nil)
	cred := mlsengine.Credential{Identity: [32]byte{1}, SigPub: priv.Public().(ed25519.PublicKey)}
	gs, err := mlsengine.CreateGroup([]byte("group-1"), cred, mlsengine.GroupData{Name: "g"})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	return gs, cred
}

func seedStoredGroup(t *testing.T, store storage.Storage, gs *mlsengine.GroupState) {
	t.Helper()
	if err := store.SaveGroup(context.Background(), storage.Group{NostrGroupID: gs.NostrGroupID, State: storage.GroupActive}); err != nil {
		t.Fatalf("SaveGroup: %v", err)
	}
}

func TestProcessApplicationMessageRoundtrip(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	gs, cred := newGroup(t)
	seedStoredGroup(t, store, gs)

	nonce, ciphertext, err := mlsengine.EncryptApplicationMessage(gs, []byte("hello"), gs.NostrGroupID[:])
	if err != nil {
		t.Fatalf("EncryptApplicationMessage: %v", err)
	}

	event := &nostrkind.Event{
		ID:        [32]byte{42},
		PubKey:    cred.Identity,
		Kind:      nostrkind.KindGroupMessage,
		CreatedAt: time.Now().Unix(),
		Tags:      []nostrkind.Tag{hexGroupTag(gs.NostrGroupID)},
	}
	env := Envelope{RumorPubKey: cred.Identity, Nonce: nonce, Ciphertext: ciphertext}
	cfg := Config{MaxEventAge: 45 * 24 * time.Hour, MaxFutureSkew: 5 * time.Minute, SnapshotRetention: 5}

	result, err := Process(ctx, store, callback.NoOp{}, gs, event, env, nil, cfg)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Outcome != OutcomeApplication {
		t.Fatalf("outcome = %v", result.Outcome)
	}
	if result.Message.Content != "hello" {
		t.Errorf("content = %q", result.Message.Content)
	}
}

func TestProcessDedupReturnsStoredOutcome(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	gs, cred := newGroup(t)
	seedStoredGroup(t, store, gs)

	nonce, ciphertext, err := mlsengine.EncryptApplicationMessage(gs, []byte("hi"), gs.NostrGroupID[:])
	if err != nil {
		t.Fatalf("EncryptApplicationMessage: %v", err)
	}
	event := &nostrkind.Event{
		ID:        [32]byte{9},
		PubKey:    cred.Identity,
		Kind:      nostrkind.KindGroupMessage,
		CreatedAt: time.Now().Unix(),
		Tags:      []nostrkind.Tag{hexGroupTag(gs.NostrGroupID)},
	}
	env := Envelope{RumorPubKey: cred.Identity, Nonce: nonce, Ciphertext: ciphertext}
	cfg := Config{MaxEventAge: 45 * 24 * time.Hour, MaxFutureSkew: 5 * time.Minute, SnapshotRetention: 5}

	first, err := Process(ctx, store, callback.NoOp{}, gs, event, env, nil, cfg)
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	second, err := Process(ctx, store, callback.NoOp{}, gs, event, env, nil, cfg)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if second.Message.Content != first.Message.Content {
		t.Error("expected dedup replay to return the same recorded outcome")
	}
}

func TestProcessRejectsGroupNotFound(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	gs, cred := newGroup(t)
	// Deliberately do not seed the group.

	nonce, ciphertext, err := mlsengine.EncryptApplicationMessage(gs, []byte("hi"), gs.NostrGroupID[:])
	if err != nil {
		t.Fatalf("EncryptApplicationMessage: %v", err)
	}
	event := &nostrkind.Event{
		ID:        [32]byte{1},
		PubKey:    cred.Identity,
		Kind:      nostrkind.KindGroupMessage,
		CreatedAt: time.Now().Unix(),
		Tags:      []nostrkind.Tag{hexGroupTag(gs.NostrGroupID)},
	}
	env := Envelope{RumorPubKey: cred.Identity, Nonce: nonce, Ciphertext: ciphertext}
	cfg := Config{MaxEventAge: 45 * 24 * time.Hour, MaxFutureSkew: 5 * time.Minute, SnapshotRetention: 5}

	if _, err := Process(ctx, store, callback.NoOp{}, gs, event, env, nil, cfg); err == nil {
		t.Fatal("expected GroupNotFound error")
	}
}
