package mdk

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/suhailsaqan/mdk/group"
	"github.com/suhailsaqan/mdk/mdkconfig"
	"github.com/suhailsaqan/mdk/message"
	"github.com/suhailsaqan/mdk/mlsengine"
	"github.com/suhailsaqan/mdk/nostrkind"
	"github.com/suhailsaqan/mdk/storage/memstore"
)

func testCredential(t *testing.T, identity byte) mlsengine.Credential {
	t.Helper()
	_, priv, _ := ed25519.GenerateKey(nil)
	return mlsengine.Credential{Identity: [32]byte{identity}, SigPub: priv.Public().(ed25519.PublicKey)}
}

func newTestCore(t *testing.T) *Core {
	t.Helper()
	core, err := New(memstore.New(), mlsengine.NewKeystore(), mdkconfig.DefaultConfig(), nil, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return core
}

func TestCreateGroupThenProcessMessageEndToEnd(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()
	alice := testCredential(t, 1)

	result, err := core.CreateGroup(ctx, []byte("mls-group-1"), alice, nil, group.CreateConfig{Name: "solo"})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	gs := result.State

	nonce, ciphertext, err := mlsengine.EncryptApplicationMessage(gs, []byte("gm"), gs.NostrGroupID[:])
	if err != nil {
		t.Fatalf("EncryptApplicationMessage: %v", err)
	}
	event := &nostrkind.Event{
		ID:        [32]byte{3},
		PubKey:    alice.Identity,
		Kind:      nostrkind.KindGroupMessage,
		CreatedAt: time.Now().Unix(),
		Tags:      []nostrkind.Tag{{"h", hexString(gs.NostrGroupID)}},
	}
	env := message.Envelope{RumorPubKey: alice.Identity, Nonce: nonce, Ciphertext: ciphertext}

	msgResult, err := core.ProcessMessage(ctx, event, env, nil)
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if msgResult.Message.Content != "gm" {
		t.Errorf("content = %q", msgResult.Message.Content)
	}
}

func hexString(id [32]byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range id {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}
