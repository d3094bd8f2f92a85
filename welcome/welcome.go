// Package welcome implements the welcome module: validating and staging
// an incoming welcome rumor, then accepting or declining it.
package welcome

import (
	"context"
	"net/url"

	"github.com/suhailsaqan/mdk/mdkerr"
	"github.com/suhailsaqan/mdk/mlsengine"
	"github.com/suhailsaqan/mdk/nostrkind"
	"github.com/suhailsaqan/mdk/storage"
)

const (
	tagRelays   = "relays"
	tagEvent    = "e"
	tagClient   = "client"
	tagEncoding = "encoding"

	encodingBase64 = "base64"
)

// ValidateShape checks the welcome-rumor's tag set: relays (>=1 URL),
// an event reference, a client identifier, and encoding=base64. Order
// is not enforced.
func ValidateShape(event *nostrkind.Event) error {
	if event.Kind != nostrkind.KindWelcomeRumor {
		return mdkerr.UnexpectedEvent(nostrkind.KindWelcomeRumor.String(), event.Kind.String())
	}
	relaysTag, ok := event.FirstTag(tagRelays)
	if !ok || len(relaysTag) < 2 {
		return mdkerr.InvalidWelcomeMessage("missing relays tag")
	}
	for _, r := range relaysTag[1:] {
		if _, err := url.Parse(r); err != nil || r == "" {
			return mdkerr.InvalidWelcomeMessage("invalid relay url")
		}
	}
	eventTag, ok := event.FirstTag(tagEvent)
	if !ok || len(eventTag) < 2 || eventTag[1] == "" {
		return mdkerr.MissingRumorEventId()
	}
	clientTag, ok := event.FirstTag(tagClient)
	if !ok || len(clientTag) < 2 || clientTag[1] == "" {
		return mdkerr.InvalidWelcomeMessage("missing client tag")
	}
	encodingTag, ok := event.FirstTag(tagEncoding)
	if !ok || len(encodingTag) < 2 || encodingTag[1] != encodingBase64 {
		return mdkerr.InvalidWelcomeMessage("missing or unsupported encoding tag")
	}
	return nil
}

// Process validates and stages an incoming welcome rumor, with
// at-most-once semantics keyed by wrapperEventID. The rumor author is
// recorded as the staged welcome's Welcomer; it is not checked against
// any credential here.
func Process(ctx context.Context, store storage.Storage, wrapperEventID [32]byte, rumor *nostrkind.Event, decryptedWelcome []byte) (storage.Welcome, error) {
	if pw, ok, err := store.GetProcessedWelcome(ctx, wrapperEventID); err != nil {
		return storage.Welcome{}, mdkerr.Wrap(mdkerr.KindInvalidWelcomeMessage, "lookup processed welcome", err)
	} else if ok {
		switch pw.State {
		case storage.ProcessedWelcomeProcessed:
			w, _, err := store.GetWelcome(ctx, wrapperEventID)
			if err != nil {
				return storage.Welcome{}, mdkerr.Wrap(mdkerr.KindInvalidWelcomeMessage, "lookup staged welcome", err)
			}
			return w, nil
		case storage.ProcessedWelcomeFailed:
			return storage.Welcome{}, mdkerr.WelcomePreviouslyFailed(pw.FailureReason)
		}
	}

	w, err := process(ctx, store, wrapperEventID, rumor, decryptedWelcome)
	if err != nil {
		_ = store.SaveProcessedWelcome(ctx, storage.ProcessedWelcome{
			WrapperEventID: wrapperEventID,
			State:          storage.ProcessedWelcomeFailed,
			FailureReason:  err.Error(),
		})
		return storage.Welcome{}, err
	}

	if err := store.SaveProcessedWelcome(ctx, storage.ProcessedWelcome{
		WrapperEventID: wrapperEventID,
		State:          storage.ProcessedWelcomeProcessed,
		WelcomeEventID: rumor.ID,
	}); err != nil {
		return storage.Welcome{}, mdkerr.Wrap(mdkerr.KindInvalidWelcomeMessage, "persist processed welcome", err)
	}
	return w, nil
}

func process(ctx context.Context, store storage.Storage, wrapperEventID [32]byte, rumor *nostrkind.Event, decryptedWelcome []byte) (storage.Welcome, error) {
	if err := ValidateShape(rumor); err != nil {
		return storage.Welcome{}, err
	}

	staged, err := mlsengine.UnmarshalWelcome(decryptedWelcome)
	if err != nil {
		return storage.Welcome{}, mdkerr.InvalidWelcomeMessage(err.Error())
	}

	g := storage.Group{
		NostrGroupID: staged.NostrGroupID,
		MLSGroupID:   staged.MLSGroupID,
		Name:         staged.GroupData.Name,
		Description:  staged.GroupData.Description,
		Relays:       staged.GroupData.Relays,
		Epoch:        staged.Epoch,
		State:        storage.GroupPending,
	}
	for _, a := range staged.GroupData.Admins {
		g.Admins = append(g.Admins, a)
	}
	if err := store.SaveGroup(ctx, g); err != nil {
		return storage.Welcome{}, mdkerr.SnapshotCreationFailed(err.Error())
	}

	w := storage.Welcome{
		WrapperEventID: wrapperEventID,
		MLSGroupID:     staged.MLSGroupID,
		NostrGroupID:   staged.NostrGroupID,
		Welcomer:       rumor.PubKey,
		MemberCount:    len(staged.Leaves),
		State:          storage.WelcomePending,
		Staged:         staged,
	}
	if err := store.SaveWelcome(ctx, w); err != nil {
		return storage.Welcome{}, mdkerr.InvalidWelcomeMessage(err.Error())
	}
	return w, nil
}

// Accept instantiates the real MLS group from the staged welcome,
// marks the welcome accepted and the group active, and returns the
// resulting group state for the caller to keep in memory.
func Accept(ctx context.Context, store storage.Storage, w storage.Welcome) (*mlsengine.GroupState, error) {
	if w.Staged == nil {
		return nil, mdkerr.InvalidWelcomeMessage("welcome has no staged payload")
	}
	gs := mlsengine.JoinFromWelcome(w.Staged)

	w.State = storage.WelcomeAccepted
	if err := store.SaveWelcome(ctx, w); err != nil {
		return nil, mdkerr.InvalidWelcomeMessage(err.Error())
	}

	g, ok, err := store.GetGroup(ctx, w.NostrGroupID)
	if err != nil {
		return nil, mdkerr.Wrap(mdkerr.KindInvalidWelcomeMessage, "lookup group", err)
	}
	if !ok {
		g = storage.Group{NostrGroupID: w.NostrGroupID, MLSGroupID: w.MLSGroupID}
	}
	g.State = storage.GroupActive
	g.Relays = w.Staged.GroupData.Relays
	if err := store.SaveGroup(ctx, g); err != nil {
		return nil, mdkerr.Wrap(mdkerr.KindInvalidWelcomeMessage, "activate group", err)
	}
	return gs, nil
}

// Decline marks the welcome declined and the associated group inactive.
func Decline(ctx context.Context, store storage.Storage, w storage.Welcome) error {
	w.State = storage.WelcomeDeclined
	if err := store.SaveWelcome(ctx, w); err != nil {
		return mdkerr.InvalidWelcomeMessage(err.Error())
	}
	g, ok, err := store.GetGroup(ctx, w.NostrGroupID)
	if err != nil {
		return mdkerr.Wrap(mdkerr.KindInvalidWelcomeMessage, "lookup group", err)
	}
	if ok {
		g.State = storage.GroupInactive
		if err := store.SaveGroup(ctx, g); err != nil {
			return mdkerr.Wrap(mdkerr.KindInvalidWelcomeMessage, "deactivate group", err)
		}
	}
	return nil
}
