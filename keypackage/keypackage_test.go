package keypackage

import (
	"errors"
	"testing"

	"github.com/suhailsaqan/mdk/mdkerr"
	"github.com/suhailsaqan/mdk/mlsengine"
	"github.com/suhailsaqan/mdk/nostrkind"
)

func eventFromBuilt(b *Built, identity [32]byte) *nostrkind.Event {
	var tags []nostrkind.Tag
	tags = append(tags, b.Tags...)
	return &nostrkind.Event{
		PubKey:  identity,
		Kind:    nostrkind.KindKeyPackage,
		Content: b.EncodedBody,
		Tags:    tags,
	}
}

func TestBuildThenParseRoundtrip(t *testing.T) {
	ks := mlsengine.NewKeystore()
	var identity [32]byte
	identity[0] = 7

	built, err := Build(ks, identity, []string{"wss://relay.example"}, "mdk-test/0.1", false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	event := eventFromBuilt(built, identity)
	kp, err := Parse(event)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if kp.Credential.Identity != identity {
		t.Errorf("identity = %x, want %x", kp.Credential.Identity, identity)
	}
}

func TestBuildRejectsNoRelays(t *testing.T) {
	ks := mlsengine.NewKeystore()
	var identity [32]byte
	if _, err := Build(ks, identity, nil, "mdk-test/0.1", false); err == nil {
		t.Fatal("expected error for empty relay list")
	}
}

func TestParseRejectsWrongKind(t *testing.T) {
	event := &nostrkind.Event{Kind: nostrkind.KindGroupMessage}
	_, err := Parse(event)
	var merr *mdkerr.Error
	if !errors.As(err, &merr) || merr.Kind != mdkerr.KindUnexpectedEvent {
		t.Fatalf("expected KindUnexpectedEvent, got %v", err)
	}
}

func TestParseRejectsIdentityMismatch(t *testing.T) {
	ks := mlsengine.NewKeystore()
	var identity, impostor [32]byte
	identity[0] = 1
	impostor[0] = 2

	built, err := Build(ks, identity, []string{"wss://relay.example"}, "mdk-test/0.1", false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	event := eventFromBuilt(built, impostor)
	_, err = Parse(event)
	var merr *mdkerr.Error
	if !errors.As(err, &merr) || merr.Kind != mdkerr.KindKeyPackageIdentityMismatch {
		t.Fatalf("expected KindKeyPackageIdentityMismatch, got %v", err)
	}
}

func TestParseRejectsMissingEncoding(t *testing.T) {
	ks := mlsengine.NewKeystore()
	var identity [32]byte
	built, err := Build(ks, identity, []string{"wss://relay.example"}, "mdk-test/0.1", false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var tags []nostrkind.Tag
	for _, tag := range built.Tags {
		if tag.Name() != "encoding" {
			tags = append(tags, tag)
		}
	}
	event := &nostrkind.Event{PubKey: identity, Kind: nostrkind.KindKeyPackage, Content: built.EncodedBody, Tags: tags}
	if _, err := Parse(event); err == nil {
		t.Fatal("expected error for missing encoding tag")
	}
}
