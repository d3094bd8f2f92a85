package storage

import "context"

// Storage is the persistence contract every mdk operation is built
// against. Implementations MUST guarantee atomic per-record writes;
// concurrent callers are expected to serialize per nostr_group_id
// (typically via a per-group mutex, as memstore and pgstore both do),
// while distinct groups may proceed in parallel.
type Storage interface {
	// Groups.
	SaveGroup(ctx context.Context, g Group) error
	GetGroup(ctx context.Context, nostrGroupID [32]byte) (Group, bool, error)
	ListGroups(ctx context.Context) ([]Group, error)

	// Messages.
	SaveMessage(ctx context.Context, m Message) error
	GetMessage(ctx context.Context, eventID [32]byte) (Message, bool, error)
	MessagesForGroup(ctx context.Context, nostrGroupID [32]byte) ([]Message, error)
	// MessagesAfterEpoch returns messages stored for the group with
	// Epoch > epoch, used by rollback to classify invalidated messages.
	MessagesAfterEpoch(ctx context.Context, nostrGroupID [32]byte, epoch uint64) ([]Message, error)
	// MessageByOriginalHash looks up a message whose tags record an
	// IMETA x=<hex(original_hash)> entry, the media epoch-hint lookup.
	MessageByOriginalHash(ctx context.Context, nostrGroupID [32]byte, originalHash [32]byte) (Message, bool, error)

	// Processed-message dedup.
	SaveProcessedMessage(ctx context.Context, p ProcessedMessage) error
	GetProcessedMessage(ctx context.Context, wrapperEventID [32]byte) (ProcessedMessage, bool, error)

	// Processed-welcome dedup.
	SaveProcessedWelcome(ctx context.Context, p ProcessedWelcome) error
	GetProcessedWelcome(ctx context.Context, wrapperEventID [32]byte) (ProcessedWelcome, bool, error)

	// Welcomes.
	SaveWelcome(ctx context.Context, w Welcome) error
	GetWelcome(ctx context.Context, wrapperEventID [32]byte) (Welcome, bool, error)

	// Exporter secrets, keyed by (group, epoch).
	SaveExporterSecret(ctx context.Context, s ExporterSecret) error
	GetExporterSecret(ctx context.Context, nostrGroupID [32]byte, epoch uint64) (ExporterSecret, bool, error)
	// PruneExporterSecrets removes secrets for epochs older than the
	// retention policy; a retention of 0 is a no-op (unbounded).
	PruneExporterSecrets(ctx context.Context, nostrGroupID [32]byte, retention int) error

	// Epoch snapshots.
	SaveSnapshot(ctx context.Context, s EpochSnapshot) error
	GetSnapshot(ctx context.Context, nostrGroupID [32]byte, epoch uint64) (EpochSnapshot, bool, error)
	// DeleteSnapshotsAfter removes every snapshot with Epoch > epoch,
	// used when a rollback invalidates later checkpoints.
	DeleteSnapshotsAfter(ctx context.Context, nostrGroupID [32]byte, epoch uint64) error
	// PruneSnapshots bounds retained snapshots to the retention highest
	// epochs, evicting the oldest first.
	PruneSnapshots(ctx context.Context, nostrGroupID [32]byte, retention int) error
	CountSnapshots(ctx context.Context, nostrGroupID [32]byte) (int, error)

	// Key-package hash references.
	SaveKeyPackageHashRef(ctx context.Context, ref KeyPackageHashRef) error
	GetKeyPackageHashRef(ctx context.Context, eventID [32]byte) (KeyPackageHashRef, bool, error)
	DeleteKeyPackageHashRef(ctx context.Context, eventID [32]byte) error
}
