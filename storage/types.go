// Package storage defines the persistence contract the core is built
// against: groups, messages, processed-message/welcome dedup records,
// per-epoch exporter secrets, epoch snapshots, and key-package
// hash-references. The core never touches a database directly — every
// mutation goes through this interface, which is the single shared
// resource the concurrency model (one writer per group_id) is defined
// in terms of.
package storage

import "github.com/suhailsaqan/mdk/mlsengine"

// GroupState is the lifecycle state of a stored Group record.
type GroupState string

const (
	GroupPending  GroupState = "pending"
	GroupActive   GroupState = "active"
	GroupInactive GroupState = "inactive"
)

// Group is the storage-owned record mutated by commit processing and
// group-data updates.
type Group struct {
	MLSGroupID     []byte
	NostrGroupID   [32]byte
	Name           string
	Description    string
	Admins         [][32]byte
	Relays         []string
	Epoch          uint64
	State          GroupState
	LastMessageAt  int64
	LastMessageID  [32]byte
}

// ExporterSecret is keyed by (group, epoch); retention is independent of
// epoch-snapshot retention so media stays decryptable past snapshot
// pruning.
type ExporterSecret struct {
	NostrGroupID [32]byte
	Epoch        uint64
	Secret       [32]byte
}

// MessageState is the lifecycle state of a stored Message record.
type MessageState string

const (
	MessageCreated   MessageState = "created"
	MessageProcessed MessageState = "processed"
	MessageFailed    MessageState = "failed"
)

// Message is a decrypted application-message record.
type Message struct {
	EventID        [32]byte
	NostrGroupID   [32]byte
	PubKey         [32]byte
	Kind           uint16
	Content        string
	Tags           [][]string
	WrapperEventID [32]byte
	Epoch          *uint64
	State          MessageState
	CreatedAt      int64
	ProcessedAt    int64
}

// ProcessedMessageState enumerates outcomes recorded for dedup.
type ProcessedMessageState string

const (
	ProcessedMessageProcessed       ProcessedMessageState = "processed"
	ProcessedMessageProcessedCommit ProcessedMessageState = "processed_commit"
	ProcessedMessageFailed          ProcessedMessageState = "failed"
)

// ProcessedMessage guarantees at-most-once semantics per wrapper event.
type ProcessedMessage struct {
	WrapperEventID [32]byte
	State          ProcessedMessageState
	FailureReason  string
}

// ProcessedWelcomeState enumerates outcomes recorded for welcome dedup.
type ProcessedWelcomeState string

const (
	ProcessedWelcomeProcessed ProcessedWelcomeState = "processed"
	ProcessedWelcomeFailed    ProcessedWelcomeState = "failed"
)

// ProcessedWelcome is the welcome-side analogue of ProcessedMessage.
type ProcessedWelcome struct {
	WrapperEventID  [32]byte
	State           ProcessedWelcomeState
	FailureReason   string
	WelcomeEventID  [32]byte
}

// WelcomeState is the two-phase acceptance state machine.
type WelcomeState string

const (
	WelcomePending  WelcomeState = "pending"
	WelcomeAccepted WelcomeState = "accepted"
	WelcomeDeclined WelcomeState = "declined"
)

// Welcome is the staged invitation record.
type Welcome struct {
	WrapperEventID [32]byte
	MLSGroupID     []byte
	NostrGroupID   [32]byte
	Welcomer       [32]byte
	MemberCount    int
	State          WelcomeState

	// Staged carries the decoded MLS welcome needed to instantiate the
	// group on Accept. Accept and Decline leave it in place.
	Staged *mlsengine.WelcomePayload
}

// EpochSnapshot is a pre-merge checkpoint retained for race resolution.
type EpochSnapshot struct {
	NostrGroupID     [32]byte
	Epoch            uint64
	AppliedCommitID  [32]byte
	AppliedTimestamp int64
	Checkpoint       []byte // mlsengine.Checkpoint output, restorable via mlsengine.Restore
}

// MediaReference is the IMETA-derived record describing an encrypted
// media artifact. Immutable after upload.
type MediaReference struct {
	URL           string
	OriginalHash  [32]byte
	MimeType      string
	Filename      string
	Width, Height int
	SchemeVersion string
	Nonce         [12]byte
	Blurhash      string
}

// KeyPackageHashRef links a published key package event to the handle
// used to request its deletion without re-parsing the package body.
type KeyPackageHashRef struct {
	EventID [32]byte
	Handle  []byte
}
