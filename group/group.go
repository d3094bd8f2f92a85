// Package group implements the group module: creating new groups,
// staging membership/data-changing commits, self-update, and merging
// the caller's own pending commit (with exporter-secret rotation).
package group

import (
	"context"

	"github.com/suhailsaqan/mdk/mdkerr"
	"github.com/suhailsaqan/mdk/mlsengine"
	"github.com/suhailsaqan/mdk/snapshot"
	"github.com/suhailsaqan/mdk/storage"
)

// CreateConfig bundles the NostrGroupData fields a new group is
// created with.
type CreateConfig struct {
	Name        string
	Description string
	Admins      [][32]byte
	Relays      []string
	ImageURL    string
	ImageHash   []byte
}

// CreateResult is returned from Create: the new in-memory group state
// plus one welcome payload per invited peer, ready for the caller to
// HPKE-wrap and publish as welcome rumors.
type CreateResult struct {
	State    *mlsengine.GroupState
	Welcomes map[[32]byte]*mlsengine.WelcomePayload // keyed by peer identity
}

// Create builds a brand-new MLS group for creator, stages an Add
// commit per peer key package, and persists the resulting Group record
// as Active (the creator is always a member of their own group).
func Create(ctx context.Context, store storage.Storage, mlsGroupID []byte, creator mlsengine.Credential, peers []*mlsengine.KeyPackagePayload, cfg CreateConfig) (*CreateResult, error) {
	data := mlsengine.GroupData{
		Name: cfg.Name, Description: cfg.Description, Admins: cfg.Admins,
		Relays: cfg.Relays, ImageURL: cfg.ImageURL, ImageHash: cfg.ImageHash,
	}
	gs, err := mlsengine.CreateGroup(mlsGroupID, creator, data)
	if err != nil {
		return nil, mdkerr.Wrap(mdkerr.KindKeyPackage, "create group", err)
	}

	welcomes := make(map[[32]byte]*mlsengine.WelcomePayload, len(peers))
	for _, kp := range peers {
		c, welcome, err := mlsengine.StageAddMember(gs, kp)
		if err != nil {
			return nil, mdkerr.Wrap(mdkerr.KindKeyPackage, "stage peer add", err)
		}
		if err := mlsengine.MergeCommit(gs, c); err != nil {
			return nil, mdkerr.Wrap(mdkerr.KindKeyPackage, "merge peer add", err)
		}
		welcomes[kp.Credential.Identity] = welcome
	}

	var admins [][32]byte
	admins = append(admins, cfg.Admins...)
	g := storage.Group{
		NostrGroupID: gs.NostrGroupID,
		MLSGroupID:   gs.MLSGroupID,
		Name:         cfg.Name,
		Description:  cfg.Description,
		Admins:       admins,
		Relays:       cfg.Relays,
		Epoch:        gs.Epoch,
		State:        storage.GroupActive,
	}
	if err := store.SaveGroup(ctx, g); err != nil {
		return nil, mdkerr.Wrap(mdkerr.KindKeyPackage, "persist new group", err)
	}

	secret := mlsengine.ExportSecret(gs, "mdk-exporter", []byte("application"), 32)
	var es storage.ExporterSecret
	es.NostrGroupID = gs.NostrGroupID
	es.Epoch = gs.Epoch
	copy(es.Secret[:], secret)
	if err := store.SaveExporterSecret(ctx, es); err != nil {
		return nil, mdkerr.Wrap(mdkerr.KindKeyPackage, "persist exporter secret", err)
	}

	return &CreateResult{State: gs, Welcomes: welcomes}, nil
}

// StageAddMember produces a pending commit adding kp; the caller
// publishes the commit event carrying the new epoch's ciphertext (and,
// separately, a welcome rumor to the new member).
func StageAddMember(gs *mlsengine.GroupState, kp *mlsengine.KeyPackagePayload) (*mlsengine.Commit, *mlsengine.WelcomePayload, error) {
	return mlsengine.StageAddMember(gs, kp)
}

// StageRemoveMember produces a pending commit deactivating leafIndex.
func StageRemoveMember(gs *mlsengine.GroupState, leafIndex int) (*mlsengine.Commit, error) {
	return mlsengine.StageRemoveMember(gs, leafIndex)
}

// StageGroupDataUpdate produces a pending commit updating only the
// NostrGroupData extension, with no membership change.
func StageGroupDataUpdate(gs *mlsengine.GroupState, data mlsengine.GroupData) (*mlsengine.Commit, error) {
	return mlsengine.StageGroupDataUpdate(gs, data)
}

// SelfUpdate produces a pure self-update commit rotating the caller's
// own leaf credential.
func SelfUpdate(gs *mlsengine.GroupState, newCredential mlsengine.Credential) (*mlsengine.Commit, error) {
	return mlsengine.StageSelfUpdate(gs, newCredential)
}

// MergePending applies the caller's own staged commit: the epoch
// advances, the new exporter secret is derived and persisted, a
// pre-merge snapshot is recorded for the race resolver, and stored
// group metadata is synced.
func MergePending(ctx context.Context, store storage.Storage, gs *mlsengine.GroupState, c *mlsengine.Commit, selfEventID [32]byte, createdAt int64, retention int) error {
	if err := snapshot.CreateSnapshot(ctx, store, gs, snapshot.CommitRef{EventID: selfEventID, CreatedAt: createdAt}, retention); err != nil {
		return mdkerr.SnapshotCreationFailed(err.Error())
	}
	if err := mlsengine.MergeCommit(gs, c); err != nil {
		return mdkerr.Wrap(mdkerr.KindKeyPackage, "merge pending commit", err)
	}

	secret := mlsengine.ExportSecret(gs, "mdk-exporter", []byte("application"), 32)
	var es storage.ExporterSecret
	es.NostrGroupID = gs.NostrGroupID
	es.Epoch = gs.Epoch
	copy(es.Secret[:], secret)
	if err := store.SaveExporterSecret(ctx, es); err != nil {
		return err
	}

	g, ok, err := store.GetGroup(ctx, gs.NostrGroupID)
	if err != nil {
		return err
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
	return store.SaveGroup(ctx, g)
}
