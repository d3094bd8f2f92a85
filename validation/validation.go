// Package validation implements the pre-dispatch gates the message
// pipeline and commit processor run every inbound event and commit
// through: event shape, group-id extraction, rumor authorship, identity
// stability, and commit authorization.
package validation

import (
	"encoding/hex"
	"time"

	"github.com/suhailsaqan/mdk/mdkerr"
	"github.com/suhailsaqan/mdk/mlsengine"
	"github.com/suhailsaqan/mdk/nostrkind"
)

const tagGroupID = "h"

// Clock abstracts "now" so tests can pin it; hosts pass time.Now.
type Clock func() time.Time

// ValidateEvent checks the envelope is a group-message and that
// created_at falls within [now-maxAge, now+maxFutureSkew].
func ValidateEvent(event *nostrkind.Event, maxAge, maxFutureSkew time.Duration, now time.Time) error {
	if event.Kind != nostrkind.KindGroupMessage {
		return mdkerr.UnexpectedEvent(nostrkind.KindGroupMessage.String(), event.Kind.String())
	}
	created := time.Unix(event.CreatedAt, 0)
	earliest := now.Add(-maxAge)
	latest := now.Add(maxFutureSkew)
	if created.Before(earliest) || created.After(latest) {
		return mdkerr.InvalidTimestamp("created_at outside configured age/skew window")
	}
	return nil
}

// ExtractGroupID requires exactly one h-tag whose value is 64 hex chars
// decoding to 32 bytes.
func ExtractGroupID(event *nostrkind.Event) ([32]byte, error) {
	tags := event.TagsNamed(tagGroupID)
	if len(tags) == 0 {
		return [32]byte{}, mdkerr.MissingGroupIdTag()
	}
	if len(tags) > 1 {
		return [32]byte{}, mdkerr.MultipleGroupIdTags(len(tags))
	}
	tag := tags[0]
	if len(tag) < 2 {
		return [32]byte{}, mdkerr.InvalidGroupIdFormat("h tag carries no value")
	}
	value := tag[1]
	if len(value) != 64 {
		return [32]byte{}, mdkerr.InvalidGroupIdFormat("expected 64 hex characters")
	}
	raw, err := hex.DecodeString(value)
	if err != nil {
		return [32]byte{}, mdkerr.InvalidGroupIdFormat("not valid hex")
	}
	var id [32]byte
	copy(id[:], raw)
	return id, nil
}

// VerifyRumorAuthor compares the rumor author to the identity carried
// by the MLS sender's credential.
func VerifyRumorAuthor(rumorPubKey [32]byte, senderCredential mlsengine.Credential) error {
	if rumorPubKey != senderCredential.Identity {
		return mdkerr.AuthorMismatch()
	}
	return nil
}

// ValidateIdentityUnchanged rejects any Update proposal or
// update-path leaf whose new credential identity differs from the
// sender's current identity.
func ValidateIdentityUnchanged(current, proposed mlsengine.Credential) error {
	if current.Identity != proposed.Identity {
		return mdkerr.IdentityChangeNotAllowed(current.Identity[:], proposed.Identity[:])
	}
	return nil
}

// ValidateCommitIdentityInvariants checks every Update proposal in the
// commit, plus the update-path leaf implied by a pure self-update,
// against ValidateIdentityUnchanged.
func ValidateCommitIdentityInvariants(c *mlsengine.Commit, currentLeaves []mlsengine.LeafEntry) error {
	for _, p := range c.Proposals {
		if p.Kind != mlsengine.ProposalUpdate || p.NewCredential == nil {
			continue
		}
		if p.LeafIndex < 0 || p.LeafIndex >= len(currentLeaves) {
			continue
		}
		if err := ValidateIdentityUnchanged(currentLeaves[p.LeafIndex].Credential, *p.NewCredential); err != nil {
			return err
		}
	}
	if c.IsPureSelfUpdate() && c.CommitterLeaf >= 0 && c.CommitterLeaf < len(currentLeaves) && c.CommitterLeaf < len(c.ResultingLeaves) {
		if err := ValidateIdentityUnchanged(currentLeaves[c.CommitterLeaf].Credential, c.ResultingLeaves[c.CommitterLeaf].Credential); err != nil {
			return err
		}
	}
	return nil
}

// IsPureSelfUpdate reports whether the commit contains at least one
// self-update signal and every proposal is an Update authored by the
// sender's own leaf. This delegates to mlsengine.Commit.IsPureSelfUpdate,
// which already enforces the whitelist (any non-Update proposal
// disqualifies).
func IsPureSelfUpdate(c *mlsengine.Commit) bool {
	return c.IsPureSelfUpdate()
}

// ValidateCommitAuthorization enforces: admins may commit anything;
// non-admin members may commit only a pure self-update; non-members
// are rejected outright.
func ValidateCommitAuthorization(c *mlsengine.Commit, senderIdentity [32]byte, groupData mlsengine.GroupData, senderIsMember bool) error {
	if !senderIsMember {
		return mdkerr.MessageFromNonMember()
	}
	if groupData.HasAdmin(senderIdentity) {
		return nil
	}
	if IsPureSelfUpdate(c) {
		return nil
	}
	return mdkerr.CommitFromNonAdmin()
}
