// Package callback defines the host callback surface: on_rollback,
// invoked synchronously whenever a race between competing commits
// resolves in favor of a commit other than the one the caller already
// applied.
package callback

// RollbackInfo describes a completed rollback-and-reapply.
type RollbackInfo struct {
	NostrGroupID           [32]byte
	TargetEpoch            uint64
	NewHeadEventID         [32]byte
	InvalidatedMessages    [][32]byte
	MessagesNeedingRefetch [][32]byte
}

// Callbacks is the host-supplied notification surface. OnRollback is
// the only required method; it is invoked synchronously from the
// goroutine that finished applying the winning commit.
type Callbacks interface {
	OnRollback(info RollbackInfo)
}

// NoOp satisfies Callbacks for hosts that don't need rollback
// notifications.
type NoOp struct{}

func (NoOp) OnRollback(RollbackInfo) {}
