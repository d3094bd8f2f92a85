// Package message implements the message pipeline: validate, resolve
// group, dedup, decrypt (dispatching commits to the commit processor),
// persist application messages, and classify the outcome.
package message

import (
	"context"
	"time"

	"github.com/suhailsaqan/mdk/callback"
	"github.com/suhailsaqan/mdk/commit"
	"github.com/suhailsaqan/mdk/mdkerr"
	"github.com/suhailsaqan/mdk/mlsengine"
	"github.com/suhailsaqan/mdk/nostrkind"
	"github.com/suhailsaqan/mdk/snapshot"
	"github.com/suhailsaqan/mdk/storage"
	"github.com/suhailsaqan/mdk/validation"
)

// Outcome classifies the disposition of one processed event.
type Outcome string

const (
	OutcomeApplication    Outcome = "application"
	OutcomeCommit         Outcome = "commit"
	OutcomeUnprocessable  Outcome = "unprocessable"
	OutcomePreviouslyFailed Outcome = "previously_failed"
)

// Envelope carries the decrypted application-message payload alongside
// the opaque wire envelope it arrived in, since decryption happens
// inside the pipeline rather than before it.
type Envelope struct {
	RumorPubKey [32]byte
	Kind        uint16
	Content     string
	Tags        []nostrkind.Tag
	Nonce       []byte
	Ciphertext  []byte
}

// Result is returned from Process.
type Result struct {
	Outcome Outcome
	Message storage.Message
}

// Config bundles the tunables the pipeline and its collaborators need.
type Config struct {
	MaxEventAge       time.Duration
	MaxFutureSkew     time.Duration
	SnapshotRetention int
	Now               func() time.Time
}

// Process runs the full message pipeline against one group-message
// event. gs is the caller's in-memory group state for the resolved
// group; callers are expected to hold the group's lock (storage's
// GroupLock) for the duration of this call.
func Process(ctx context.Context, store storage.Storage, cb callback.Callbacks, gs *mlsengine.GroupState, event *nostrkind.Event, envelope Envelope, commitCarried *mlsengine.Commit, cfg Config) (*Result, error) {
	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}

	// Step 1: validate_event + extract_group_id.
	if err := validation.ValidateEvent(event, cfg.MaxEventAge, cfg.MaxFutureSkew, now()); err != nil {
		return nil, err
	}
	nostrGroupID, err := validation.ExtractGroupID(event)
	if err != nil {
		return nil, err
	}

	// Step 2: resolve group.
	g, ok, err := store.GetGroup(ctx, nostrGroupID)
	if err != nil {
		return nil, mdkerr.Wrap(mdkerr.KindGroupNotFound, "lookup group", err)
	}
	if !ok {
		return nil, mdkerr.GroupNotFound()
	}

	// Step 3: dedup check.
	if pm, ok, err := store.GetProcessedMessage(ctx, event.ID); err != nil {
		return nil, err
	} else if ok {
		switch pm.State {
		case storage.ProcessedMessageFailed:
			return &Result{Outcome: OutcomePreviouslyFailed}, nil
		case storage.ProcessedMessageProcessed, storage.ProcessedMessageProcessedCommit:
			m, _, err := store.GetMessage(ctx, event.ID)
			if err != nil {
				return nil, err
			}
			outcome := OutcomeApplication
			if pm.State == storage.ProcessedMessageProcessedCommit {
				outcome = OutcomeCommit
			}
			return &Result{Outcome: outcome, Message: m}, nil
		}
	}

	// Step 4: if this event carries a commit, dispatch to the commit
	// processor (possibly via the race resolver, if it targets an
	// already-applied parent epoch).
	if commitCarried != nil {
		return processCommitCarrying(ctx, store, cb, gs, g, event, commitCarried, cfg)
	}

	// Step 5: application message — decrypt, verify authorship, persist.
	plaintext, err := mlsengine.DecryptApplicationMessage(gs.EpochSecret, envelope.Nonce, nostrGroupID[:], envelope.Ciphertext)
	if err != nil {
		_ = store.SaveProcessedMessage(ctx, storage.ProcessedMessage{WrapperEventID: event.ID, State: storage.ProcessedMessageFailed, FailureReason: err.Error()})
		return nil, mdkerr.DecryptionFailed(err.Error())
	}
	senderLeaf := gs.ActiveLeafOf(envelope.RumorPubKey)
	if senderLeaf < 0 {
		_ = store.SaveProcessedMessage(ctx, storage.ProcessedMessage{WrapperEventID: event.ID, State: storage.ProcessedMessageFailed, FailureReason: "sender is not an active member"})
		return nil, mdkerr.MessageFromNonMember()
	}
	if err := validation.VerifyRumorAuthor(envelope.RumorPubKey, gs.Leaves[senderLeaf].Credential); err != nil {
		_ = store.SaveProcessedMessage(ctx, storage.ProcessedMessage{WrapperEventID: event.ID, State: storage.ProcessedMessageFailed, FailureReason: err.Error()})
		return nil, err
	}

	epoch := gs.Epoch
	m := storage.Message{
		EventID:        event.ID,
		NostrGroupID:   nostrGroupID,
		PubKey:         envelope.RumorPubKey,
		Kind:           envelope.Kind,
		Content:        string(plaintext),
		Tags:           tagsToStrings(envelope.Tags),
		WrapperEventID: event.ID,
		Epoch:          &epoch,
		State:          storage.MessageProcessed,
		CreatedAt:      event.CreatedAt,
		ProcessedAt:    now().Unix(),
	}
	if err := store.SaveMessage(ctx, m); err != nil {
		return nil, err
	}
	if err := store.SaveProcessedMessage(ctx, storage.ProcessedMessage{WrapperEventID: event.ID, State: storage.ProcessedMessageProcessed}); err != nil {
		return nil, err
	}

	return &Result{Outcome: OutcomeApplication, Message: m}, nil
}

func tagsToStrings(tags []nostrkind.Tag) [][]string {
	out := make([][]string, len(tags))
	for i, t := range tags {
		out[i] = []string(t)
	}
	return out
}

func processCommitCarrying(ctx context.Context, store storage.Storage, cb callback.Callbacks, gs *mlsengine.GroupState, g storage.Group, event *nostrkind.Event, c *mlsengine.Commit, cfg Config) (*Result, error) {
	if c.ParentEpoch != gs.Epoch {
		if c.ParentEpoch > gs.Epoch {
			return &Result{Outcome: OutcomeUnprocessable}, nil
		}
		// Competing commit for an already-applied epoch: resolve via
		// the race resolver before deciding whether to re-apply.
		rr, err := snapshot.ResolveRace(ctx, store, store, g.NostrGroupID, c.ParentEpoch, snapshot.CommitRef{EventID: event.ID, CreatedAt: event.CreatedAt})
		if err != nil {
			return nil, err
		}
		if rr.Outcome == snapshot.OutcomeUnprocessable {
			return &Result{Outcome: OutcomeUnprocessable}, nil
		}
		*gs = *rr.RestoredState
		sender := commit.Sender{Identity: event.PubKey, IsMember: gs.ActiveLeafOf(event.PubKey) >= 0}
		result, err := commit.Process(ctx, store, gs, c, sender, event.ID, event.CreatedAt, cfg.SnapshotRetention)
		if err != nil {
			return nil, err
		}
		cb.OnRollback(callback.RollbackInfo{
			NostrGroupID:           g.NostrGroupID,
			TargetEpoch:            rr.TargetEpoch,
			NewHeadEventID:         event.ID,
			InvalidatedMessages:    rr.InvalidatedMessages,
			MessagesNeedingRefetch: rr.MessagesNeedingRefetch,
		})
		return &Result{Outcome: OutcomeCommit, Message: storage.Message{Epoch: &result.NewEpoch}}, nil
	}

	sender := commit.Sender{Identity: event.PubKey, IsMember: gs.ActiveLeafOf(event.PubKey) >= 0}
	result, err := commit.Process(ctx, store, gs, c, sender, event.ID, event.CreatedAt, cfg.SnapshotRetention)
	if err != nil {
		return nil, err
	}
	return &Result{Outcome: OutcomeCommit, Message: storage.Message{Epoch: &result.NewEpoch}}, nil
}
