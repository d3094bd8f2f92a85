// Package commit implements the commit processor: authorize, snapshot,
// merge, detect eviction, and otherwise derive the new epoch's exporter
// secret and sync group metadata.
package commit

import (
	"context"

	"github.com/suhailsaqan/mdk/mdkerr"
	"github.com/suhailsaqan/mdk/mlsengine"
	"github.com/suhailsaqan/mdk/snapshot"
	"github.com/suhailsaqan/mdk/storage"
	"github.com/suhailsaqan/mdk/validation"
)

// Outcome classifies how a commit was dispatched, for the message
// pipeline's final classification step.
type Outcome string

const (
	OutcomeProcessed       Outcome = "processed"
	OutcomeProcessedCommit Outcome = "processed_commit"
)

// Result carries the commit processor's disposition back to the
// message pipeline.
type Result struct {
	Outcome Outcome
	Evicted bool
	NewEpoch uint64
}

// Sender identifies the commit's author for authorization purposes.
type Sender struct {
	Identity [32]byte
	IsMember bool
}

// DefaultSnapshotRetention is the number of epoch snapshots commit
// processing keeps per group when Process is given a retention <= 0.
const DefaultSnapshotRetention = 5

// Process runs the full commit-processor sequence (spec 4.5 steps 1-6)
// against gs, mutating it in place when the commit is accepted. eventID
// and createdAt identify the wrapping event, used to key the snapshot
// this step creates.
func Process(ctx context.Context, store storage.Storage, gs *mlsengine.GroupState, c *mlsengine.Commit, sender Sender, eventID [32]byte, createdAt int64, retention int) (*Result, error) {
	// Step 1: authorize and validate identity invariants.
	if err := validation.ValidateCommitAuthorization(c, sender.Identity, gs.GroupData, sender.IsMember); err != nil {
		return nil, err
	}
	if err := validation.ValidateCommitIdentityInvariants(c, gs.Leaves); err != nil {
		return nil, err
	}

	// Step 2: snapshot current state before merging.
	if retention <= 0 {
		retention = DefaultSnapshotRetention
	}
	if err := snapshot.CreateSnapshot(ctx, store, gs, snapshot.CommitRef{EventID: eventID, CreatedAt: createdAt}, retention); err != nil {
		return nil, mdkerr.SnapshotCreationFailed(err.Error())
	}

	previousOwnLeaf := gs.OwnLeafIndex
	wasMember := gs.IsMember(previousOwnLeaf)
	ownIdentity := gs.OwnLeaf().Credential.Identity

	// Step 3: merge the staged/received commit.
	if err := mlsengine.MergeCommit(gs, c); err != nil {
		return nil, mdkerr.Wrap(mdkerr.KindInvalidWelcomeMessage, "merge commit", err)
	}

	// Step 4: eviction check — our identity is no longer an active leaf.
	if wasMember && gs.ActiveLeafOf(ownIdentity) < 0 {
		g, ok, err := store.GetGroup(ctx, gs.NostrGroupID)
		if err != nil {
			return nil, err
		}
		if ok {
			g.State = storage.GroupInactive
			if err := store.SaveGroup(ctx, g); err != nil {
				return nil, err
			}
		}
		if err := store.SaveProcessedMessage(ctx, storage.ProcessedMessage{WrapperEventID: eventID, State: storage.ProcessedMessageProcessed}); err != nil {
			return nil, err
		}
		return &Result{Outcome: OutcomeProcessed, Evicted: true, NewEpoch: gs.Epoch}, nil
	}

	// Step 5: derive and persist the new epoch's exporter secret; sync
	// group metadata from the (possibly updated) NostrGroupData.
	secret := mlsengine.ExportSecret(gs, "mdk-exporter", []byte("application"), 32)
	var es storage.ExporterSecret
	es.NostrGroupID = gs.NostrGroupID
	es.Epoch = gs.Epoch
	copy(es.Secret[:], secret)
	if err := store.SaveExporterSecret(ctx, es); err != nil {
		return nil, err
	}

	g, ok, err := store.GetGroup(ctx, gs.NostrGroupID)
	if err != nil {
		return nil, err
	}
	if !ok {
		g = storage.Group{NostrGroupID: gs.NostrGroupID, MLSGroupID: gs.MLSGroupID, State: storage.GroupActive}
	}
	g.Name = gs.GroupData.Name
	g.Description = gs.GroupData.Description
	g.Relays = gs.GroupData.Relays
	g.Epoch = gs.Epoch
	var admins [][32]byte
	admins = append(admins, gs.GroupData.Admins...)
	g.Admins = admins
	if err := store.SaveGroup(ctx, g); err != nil {
		return nil, err
	}

	// Step 6: record the processed-commit outcome.
	if err := store.SaveProcessedMessage(ctx, storage.ProcessedMessage{WrapperEventID: eventID, State: storage.ProcessedMessageProcessedCommit}); err != nil {
		return nil, err
	}

	return &Result{Outcome: OutcomeProcessedCommit, NewEpoch: gs.Epoch}, nil
}
