// Package mdk is the top-level facade binding storage, the MLS engine,
// and every protocol module (key-package, welcome, group, message,
// media, snapshot, callback) into the single entry point a host
// embeds. Mirrors how the teacher repo's root package wired its own
// crypto/storage/delta layers behind one client type.
package mdk

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/suhailsaqan/mdk/callback"
	"github.com/suhailsaqan/mdk/group"
	"github.com/suhailsaqan/mdk/keypackage"
	"github.com/suhailsaqan/mdk/mdkconfig"
	"github.com/suhailsaqan/mdk/message"
	"github.com/suhailsaqan/mdk/mlsengine"
	"github.com/suhailsaqan/mdk/nostrkind"
	"github.com/suhailsaqan/mdk/storage"
	"github.com/suhailsaqan/mdk/validation"
	"github.com/suhailsaqan/mdk/welcome"
)

// GroupLocker is satisfied by any Storage implementation that exposes
// per-group mutexes (memstore and pgstore both do); the facade
// serializes every multi-step group operation through it, per the
// concurrency model's "one writer per group_id" rule.
type GroupLocker interface {
	GroupLock(nostrGroupID [32]byte) *sync.Mutex
}

// Core is the facade a host constructs once per identity.
type Core struct {
	Store    storage.Storage
	Keystore *mlsengine.Keystore
	Config   mdkconfig.Config
	Callback callback.Callbacks
	Log      *zap.Logger

	mu     sync.Mutex
	states map[[32]byte]*mlsengine.GroupState // in-memory group states, keyed by nostr_group_id
}

// New constructs a Core. If cb is nil, a no-op callback is used. If log
// is nil, a production zap logger is created.
func New(store storage.Storage, ks *mlsengine.Keystore, cfg mdkconfig.Config, cb callback.Callbacks, log *zap.Logger) (*Core, error) {
	if cb == nil {
		cb = callback.NoOp{}
	}
	if log == nil {
		var err error
		log, err = zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("build default logger: %w", err)
		}
	}
	return &Core{
		Store: store, Keystore: ks, Config: cfg, Callback: cb, Log: log,
		states: make(map[[32]byte]*mlsengine.GroupState),
	}, nil
}

func (c *Core) lockGroup(nostrGroupID [32]byte) func() {
	if locker, ok := c.Store.(GroupLocker); ok {
		m := locker.GroupLock(nostrGroupID)
		m.Lock()
		return m.Unlock
	}
	c.mu.Lock()
	return c.mu.Unlock
}

func (c *Core) stateFor(nostrGroupID [32]byte) (*mlsengine.GroupState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gs, ok := c.states[nostrGroupID]
	return gs, ok
}

func (c *Core) setState(gs *mlsengine.GroupState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[gs.NostrGroupID] = gs
}

// BuildKeyPackage publishes a fresh key package for identity.
func (c *Core) BuildKeyPackage(identity [32]byte, relays []string, clientID string, protected bool) (*keypackage.Built, error) {
	b, err := keypackage.Build(c.Keystore, identity, relays, clientID, protected)
	if err != nil {
		c.Log.Warn("build key package failed", zap.Error(err))
	}
	return b, err
}

// ParseKeyPackage validates and parses a key-package event.
func (c *Core) ParseKeyPackage(event *nostrkind.Event) (*mlsengine.KeyPackagePayload, error) {
	return keypackage.Parse(event)
}

// CreateGroup builds a new group with the given peers and persists it.
func (c *Core) CreateGroup(ctx context.Context, mlsGroupID []byte, creator mlsengine.Credential, peers []*mlsengine.KeyPackagePayload, cfg group.CreateConfig) (*group.CreateResult, error) {
	result, err := group.Create(ctx, c.Store, mlsGroupID, creator, peers, cfg)
	if err != nil {
		c.Log.Error("create group failed", zap.Error(err))
		return nil, err
	}
	c.setState(result.State)
	c.Log.Info("group created", zap.String("nostr_group_id", fmt.Sprintf("%x", result.State.NostrGroupID)), zap.Int("peers", len(peers)))
	return result, nil
}

// ProcessWelcome stages an incoming welcome rumor.
func (c *Core) ProcessWelcome(ctx context.Context, wrapperEventID [32]byte, rumor *nostrkind.Event, decryptedWelcome []byte) (storage.Welcome, error) {
	return welcome.Process(ctx, c.Store, wrapperEventID, rumor, decryptedWelcome)
}

// AcceptWelcome instantiates and tracks the group from a staged welcome.
func (c *Core) AcceptWelcome(ctx context.Context, w storage.Welcome) (*mlsengine.GroupState, error) {
	gs, err := welcome.Accept(ctx, c.Store, w)
	if err != nil {
		return nil, err
	}
	c.setState(gs)
	return gs, nil
}

// DeclineWelcome marks a staged welcome declined.
func (c *Core) DeclineWelcome(ctx context.Context, w storage.Welcome) error {
	return welcome.Decline(ctx, c.Store, w)
}

// ProcessMessage runs the message pipeline against a group-message
// event, serializing against the resolved group.
func (c *Core) ProcessMessage(ctx context.Context, event *nostrkind.Event, env message.Envelope, commitCarried *mlsengine.Commit) (*message.Result, error) {
	nostrGroupID, err := extractGroupIDForLock(event)
	if err != nil {
		return nil, err
	}
	unlock := c.lockGroup(nostrGroupID)
	defer unlock()

	gs, ok := c.stateFor(nostrGroupID)
	if !ok {
		return nil, fmt.Errorf("no in-memory state for group %x; load it via AcceptWelcome or restore a snapshot first", nostrGroupID)
	}

	result, err := message.Process(ctx, c.Store, c.Callback, gs, event, env, commitCarried, message.Config{
		MaxEventAge:       c.Config.MaxEventAge,
		MaxFutureSkew:     c.Config.MaxFutureSkew,
		SnapshotRetention: c.Config.SnapshotRetention,
	})
	if err != nil {
		c.Log.Warn("process message failed", zap.Error(err))
		return nil, err
	}
	c.Log.Debug("processed event", zap.String("outcome", string(result.Outcome)))
	return result, nil
}

// MergePending applies the caller's own staged commit for nostrGroupID.
func (c *Core) MergePending(ctx context.Context, nostrGroupID [32]byte, commitToMerge *mlsengine.Commit, selfEventID [32]byte, createdAt int64) error {
	unlock := c.lockGroup(nostrGroupID)
	defer unlock()

	gs, ok := c.stateFor(nostrGroupID)
	if !ok {
		return fmt.Errorf("no in-memory state for group %x", nostrGroupID)
	}
	return group.MergePending(ctx, c.Store, gs, commitToMerge, selfEventID, createdAt, c.Config.SnapshotRetention)
}

// GroupState returns the caller's in-memory state for a tracked group.
func (c *Core) GroupState(nostrGroupID [32]byte) (*mlsengine.GroupState, bool) {
	return c.stateFor(nostrGroupID)
}

func extractGroupIDForLock(event *nostrkind.Event) ([32]byte, error) {
	return validation.ExtractGroupID(event)
}
