package validation

import (
	"crypto/ed25519"
	"errors"
	"testing"
	"time"

	"github.com/suhailsaqan/mdk/mdkerr"
	"github.com/suhailsaqan/mdk/mlsengine"
	"github.com/suhailsaqan/mdk/nostrkind"
)

func TestValidateEventAcceptsWithinWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	event := &nostrkind.Event{Kind: nostrkind.KindGroupMessage, CreatedAt: now.Unix()}
	if err := ValidateEvent(event, 45*24*time.Hour, 5*time.Minute, now); err != nil {
		t.Fatalf("ValidateEvent: %v", err)
	}
}

func TestValidateEventRejectsStale(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	event := &nostrkind.Event{Kind: nostrkind.KindGroupMessage, CreatedAt: now.Add(-46 * 24 * time.Hour).Unix()}
	err := ValidateEvent(event, 45*24*time.Hour, 5*time.Minute, now)
	var merr *mdkerr.Error
	if !errors.As(err, &merr) || merr.Kind != mdkerr.KindInvalidTimestamp {
		t.Fatalf("expected KindInvalidTimestamp, got %v", err)
	}
}

func TestExtractGroupIDRequiresExactlyOne(t *testing.T) {
	hex64 := "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	event := &nostrkind.Event{Tags: []nostrkind.Tag{{"h", hex64}, {"h", hex64}}}
	_, err := ExtractGroupID(event)
	var merr *mdkerr.Error
	if !errors.As(err, &merr) || merr.Kind != mdkerr.KindMultipleGroupIdTags {
		t.Fatalf("expected KindMultipleGroupIdTags, got %v", err)
	}
}

func TestExtractGroupIDRejectsWrongLength(t *testing.T) {
	event := &nostrkind.Event{Tags: []nostrkind.Tag{{"h", "deadbeef"}}}
	_, err := ExtractGroupID(event)
	var merr *mdkerr.Error
	if !errors.As(err, &merr) || merr.Kind != mdkerr.KindInvalidGroupIdFormat {
		t.Fatalf("expected KindInvalidGroupIdFormat, got %v", err)
	}
}

func TestValidateCommitAuthorizationNonMember(t *testing.T) {
	c := &mlsengine.Commit{}
	err := ValidateCommitAuthorization(c, [32]byte{1}, mlsengine.GroupData{}, false)
	var merr *mdkerr.Error
	if !errors.As(err, &merr) || merr.Kind != mdkerr.KindMessageFromNonMember {
		t.Fatalf("expected KindMessageFromNonMember, got %v", err)
	}
}

func TestValidateCommitAuthorizationNonAdminNonSelfUpdate(t *testing.T) {
	c := &mlsengine.Commit{Proposals: []mlsengine.Proposal{{Kind: mlsengine.ProposalRemove, LeafIndex: 2}}, CommitterLeaf: 1}
	err := ValidateCommitAuthorization(c, [32]byte{1}, mlsengine.GroupData{}, true)
	var merr *mdkerr.Error
	if !errors.As(err, &merr) || merr.Kind != mdkerr.KindCommitFromNonAdmin {
		t.Fatalf("expected KindCommitFromNonAdmin, got %v", err)
	}
}

func TestValidateCommitAuthorizationNonAdminSelfUpdateAllowed(t *testing.T) {
	c := &mlsengine.Commit{
		CommitterLeaf: 1,
		Proposals:     []mlsengine.Proposal{{Kind: mlsengine.ProposalUpdate, LeafIndex: 1}},
	}
	if err := ValidateCommitAuthorization(c, [32]byte{1}, mlsengine.GroupData{}, true); err != nil {
		t.Fatalf("expected pure self-update to be allowed, got %v", err)
	}
}

func TestValidateCommitAuthorizationAdminAnyCommit(t *testing.T) {
	c := &mlsengine.Commit{Proposals: []mlsengine.Proposal{{Kind: mlsengine.ProposalRemove, LeafIndex: 2}}}
	data := mlsengine.GroupData{Admins: [][32]byte{{1}}}
	if err := ValidateCommitAuthorization(c, [32]byte{1}, data, true); err != nil {
		t.Fatalf("expected admin to commit anything, got %v", err)
	}
}

func TestValidateIdentityUnchangedRejectsMismatch(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	original := mlsengine.Credential{Identity: [32]byte{1}, SigPub: priv.Public().(ed25519.PublicKey)}
	proposed := mlsengine.Credential{Identity: [32]byte{2}, SigPub: priv.Public().(ed25519.PublicKey)}
	err := ValidateIdentityUnchanged(original, proposed)
	var merr *mdkerr.Error
	if !errors.As(err, &merr) || merr.Kind != mdkerr.KindIdentityChangeNotAllowed {
		t.Fatalf("expected KindIdentityChangeNotAllowed, got %v", err)
	}
}
