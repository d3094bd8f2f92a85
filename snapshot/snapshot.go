// Package snapshot implements the MIP-03 race resolver: per-group
// bounded-retention epoch snapshots, the deterministic better(A, B)
// total order, and the rollback-and-reapply sequence triggered when a
// competing commit for an already-applied epoch turns out to win.
package snapshot

import (
	"bytes"
	"context"
	"fmt"

	"github.com/suhailsaqan/mdk/mdkerr"
	"github.com/suhailsaqan/mdk/mlsengine"
	"github.com/suhailsaqan/mdk/storage"
)

// CommitRef is the minimal identifying information the race resolver
// needs about a competing commit: its wire event's timestamp and id.
type CommitRef struct {
	EventID   [32]byte
	CreatedAt int64
}

// Store is the narrow snapshot-persistence surface CreateSnapshot and
// ResolveRace depend on. storage.Storage satisfies it structurally, so
// every existing caller already passes a valid Store; a host running
// the core across multiple processes against one group can instead
// pass a RedisStore, keeping epoch checkpoints in one shared place
// without routing them through the primary group/message database.
type Store interface {
	SaveSnapshot(ctx context.Context, snap storage.EpochSnapshot) error
	GetSnapshot(ctx context.Context, nostrGroupID [32]byte, epoch uint64) (storage.EpochSnapshot, bool, error)
	DeleteSnapshotsAfter(ctx context.Context, nostrGroupID [32]byte, epoch uint64) error
	PruneSnapshots(ctx context.Context, nostrGroupID [32]byte, keep int) error
}

// Better implements the MIP-03 total order: A is better than B iff A
// is strictly earlier, or tied and lexicographically smaller by event
// id. Equal ids are never "better" than themselves.
func Better(a, b CommitRef) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return bytes.Compare(a.EventID[:], b.EventID[:]) < 0
}

// CreateSnapshot checkpoints gs at its current epoch, recording which
// commit produced it, then prunes to the configured retention. Pruning
// happens before insertion would exceed the bound, per the spec's
// "oldest pruned before the new one is inserted" policy — expressed
// here as prune-after-insert to the same steady-state bound, since
// insertion and eviction are not observable as separate writes to
// callers.
func CreateSnapshot(ctx context.Context, store Store, gs *mlsengine.GroupState, commit CommitRef, retention int) error {
	checkpoint, err := mlsengine.Checkpoint(gs)
	if err != nil {
		return mdkerr.SnapshotCreationFailed(err.Error())
	}
	snap := storage.EpochSnapshot{
		NostrGroupID:     gs.NostrGroupID,
		Epoch:            gs.Epoch,
		AppliedCommitID:  commit.EventID,
		AppliedTimestamp: commit.CreatedAt,
		Checkpoint:       checkpoint,
	}
	if err := store.SaveSnapshot(ctx, snap); err != nil {
		return mdkerr.SnapshotCreationFailed(err.Error())
	}
	if retention > 0 {
		if err := store.PruneSnapshots(ctx, gs.NostrGroupID, retention); err != nil {
			return mdkerr.SnapshotCreationFailed(err.Error())
		}
	}
	return nil
}

// Outcome classifies what ResolveRace decided.
type Outcome string

const (
	OutcomeUnprocessable Outcome = "unprocessable"
	OutcomeRolledBack    Outcome = "rolled_back"
)

// RollbackResult carries what a rollback invalidated, for the caller to
// pass to callback.Callbacks.OnRollback after re-applying the winning
// commit through the normal commit pipeline.
type RollbackResult struct {
	Outcome                Outcome
	RestoredState          *mlsengine.GroupState
	TargetEpoch            uint64
	InvalidatedMessages    [][32]byte
	MessagesNeedingRefetch [][32]byte
}

// ResolveRace handles a commit C that targets an already-applied parent
// epoch E. If no snapshot for E exists, C is unprocessable. If C is not
// better than the snapshot's applied commit, C is unprocessable. If C
// is better, the snapshot is restored, later snapshots are invalidated,
// and stored messages after E are classified for the caller.
//
// Re-applying C via the normal commit pipeline is the caller's
// responsibility (this keeps the resolver free of commit-processing
// dependencies); ResolveRace only performs steps (a), (b), and (d)-(e)'s
// classification.
//
// snaps holds the epoch checkpoints (typically the same storage.Storage
// backing msgs, but may be a separately pluggable Store such as
// RedisStore); msgs is always the primary message store, since
// classifying messages after parentEpoch requires the real message
// records.
func ResolveRace(ctx context.Context, snaps Store, msgs storage.Storage, nostrGroupID [32]byte, parentEpoch uint64, candidate CommitRef) (*RollbackResult, error) {
	snap, ok, err := snaps.GetSnapshot(ctx, nostrGroupID, parentEpoch)
	if err != nil {
		return nil, mdkerr.Wrap(mdkerr.KindSnapshotCreationFailed, "lookup snapshot", err)
	}
	if !ok {
		return &RollbackResult{Outcome: OutcomeUnprocessable}, nil
	}

	applied := CommitRef{EventID: snap.AppliedCommitID, CreatedAt: snap.AppliedTimestamp}
	if !Better(candidate, applied) {
		return &RollbackResult{Outcome: OutcomeUnprocessable}, nil
	}

	restored, err := mlsengine.Restore(snap.Checkpoint)
	if err != nil {
		return nil, fmt.Errorf("restore snapshot checkpoint: %w", err)
	}

	if err := snaps.DeleteSnapshotsAfter(ctx, nostrGroupID, parentEpoch); err != nil {
		return nil, mdkerr.Wrap(mdkerr.KindSnapshotCreationFailed, "delete invalidated snapshots", err)
	}

	messages, err := msgs.MessagesAfterEpoch(ctx, nostrGroupID, parentEpoch)
	if err != nil {
		return nil, fmt.Errorf("list messages after epoch: %w", err)
	}
	result := &RollbackResult{
		Outcome:       OutcomeRolledBack,
		RestoredState: restored,
		TargetEpoch:   parentEpoch,
	}
	for _, m := range messages {
		// A message already decrypted at the invalidated epoch cannot be
		// trusted post-rollback: its content was produced by a group
		// state that no longer exists. One whose wrapper is still on
		// hand (anything short of fully Processed) can simply be
		// re-run through the message pipeline once the winning commit
		// is re-applied.
		if m.State == storage.MessageProcessed {
			result.InvalidatedMessages = append(result.InvalidatedMessages, m.EventID)
		} else {
			result.MessagesNeedingRefetch = append(result.MessagesNeedingRefetch, m.EventID)
		}
	}
	return result, nil
}
