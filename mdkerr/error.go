// Package mdkerr defines the unified error taxonomy returned by the
// exported mdk operations for protocol-level failures. A single Kind
// enumerates the category; fields carry whatever structured context the
// category needs. Storage failures and some facade and engine errors
// are returned as plain wrapped errors, not as *Error.
package mdkerr

import "fmt"

// Kind identifies an error category. Every *Error carries one of these.
type Kind string

const (
	KindUnexpectedEvent          Kind = "unexpected_event"
	KindInvalidTimestamp         Kind = "invalid_timestamp"
	KindMissingGroupIdTag        Kind = "missing_group_id_tag"
	KindMultipleGroupIdTags      Kind = "multiple_group_id_tags"
	KindInvalidGroupIdFormat     Kind = "invalid_group_id_format"
	KindGroupNotFound            Kind = "group_not_found"
	KindKeyPackage               Kind = "key_package"
	KindKeyPackageIdentityMismatch Kind = "key_package_identity_mismatch"
	KindInvalidWelcomeMessage    Kind = "invalid_welcome_message"
	KindWelcomePreviouslyFailed  Kind = "welcome_previously_failed"
	KindMissingRumorEventId      Kind = "missing_rumor_event_id"
	KindAuthorMismatch           Kind = "author_mismatch"
	KindIdentityChangeNotAllowed Kind = "identity_change_not_allowed"
	KindMessageFromNonMember     Kind = "message_from_non_member"
	KindCommitFromNonAdmin       Kind = "commit_from_non_admin"
	KindSnapshotCreationFailed   Kind = "snapshot_creation_failed"
	KindHashVerificationFailed   Kind = "hash_verification_failed"
	KindNoExporterSecretForEpoch Kind = "no_exporter_secret_for_epoch"
	KindDecryptionFailed         Kind = "decryption_failed"
	KindUnknownSchemeVersion     Kind = "unknown_scheme_version"
)

// Error is the single error type returned across the mdk public surface.
// It mirrors the taxonomy in one struct rather than one Go type per kind,
// the way os.PathError carries one struct for every path-related errno.
type Error struct {
	Kind Kind

	// Context fields. Only the ones relevant to Kind are populated.
	Expected string
	Received string
	Reason   string
	Count    int
	Original []byte
	New      []byte
	Epoch    uint64
	Version  string

	Wrapped error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUnexpectedEvent:
		return fmt.Sprintf("unexpected event: expected kind %s, received %s", e.Expected, e.Received)
	case KindInvalidTimestamp:
		return fmt.Sprintf("invalid timestamp: %s", e.Reason)
	case KindMissingGroupIdTag:
		return "missing group id (h) tag"
	case KindMultipleGroupIdTags:
		return fmt.Sprintf("multiple group id (h) tags: %d", e.Count)
	case KindInvalidGroupIdFormat:
		return fmt.Sprintf("invalid group id format: %s", e.Reason)
	case KindGroupNotFound:
		return "group not found"
	case KindKeyPackage:
		return fmt.Sprintf("key package: %s", e.Reason)
	case KindKeyPackageIdentityMismatch:
		return fmt.Sprintf("key package identity mismatch: credential identity %x != event signer %x", e.Original, e.New)
	case KindInvalidWelcomeMessage:
		return fmt.Sprintf("invalid welcome message: %s", e.Reason)
	case KindWelcomePreviouslyFailed:
		return fmt.Sprintf("welcome previously failed: %s", e.Reason)
	case KindMissingRumorEventId:
		return "welcome rumor missing event id"
	case KindAuthorMismatch:
		return "rumor author does not match mls sender identity"
	case KindIdentityChangeNotAllowed:
		return fmt.Sprintf("identity change not allowed: %x -> %x", e.Original, e.New)
	case KindMessageFromNonMember:
		return "message from non-member"
	case KindCommitFromNonAdmin:
		return "commit from non-admin"
	case KindSnapshotCreationFailed:
		return fmt.Sprintf("snapshot creation failed: %s", e.Reason)
	case KindHashVerificationFailed:
		return "decrypted media hash verification failed"
	case KindNoExporterSecretForEpoch:
		return fmt.Sprintf("no exporter secret for epoch %d", e.Epoch)
	case KindDecryptionFailed:
		return fmt.Sprintf("decryption failed: %s", e.Reason)
	case KindUnknownSchemeVersion:
		return fmt.Sprintf("unknown media scheme version: %s", e.Version)
	default:
		return fmt.Sprintf("mdk error: %s", e.Reason)
	}
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, mdkerr.New(mdkerr.KindGroupNotFound)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds a bare *Error of the given kind.
func New(kind Kind) *Error { return &Error{Kind: kind} }

func UnexpectedEvent(expected, received string) *Error {
	return &Error{Kind: KindUnexpectedEvent, Expected: expected, Received: received}
}

func InvalidTimestamp(reason string) *Error {
	return &Error{Kind: KindInvalidTimestamp, Reason: reason}
}

func MissingGroupIdTag() *Error { return New(KindMissingGroupIdTag) }

func MultipleGroupIdTags(n int) *Error {
	return &Error{Kind: KindMultipleGroupIdTags, Count: n}
}

func InvalidGroupIdFormat(reason string) *Error {
	return &Error{Kind: KindInvalidGroupIdFormat, Reason: reason}
}

func GroupNotFound() *Error { return New(KindGroupNotFound) }

func KeyPackage(reason string) *Error {
	return &Error{Kind: KindKeyPackage, Reason: reason}
}

func KeyPackageIdentityMismatch(credentialIdentity, eventSigner []byte) *Error {
	return &Error{Kind: KindKeyPackageIdentityMismatch, Original: credentialIdentity, New: eventSigner}
}

func InvalidWelcomeMessage(reason string) *Error {
	return &Error{Kind: KindInvalidWelcomeMessage, Reason: reason}
}

func WelcomePreviouslyFailed(reason string) *Error {
	return &Error{Kind: KindWelcomePreviouslyFailed, Reason: reason}
}

func MissingRumorEventId() *Error { return New(KindMissingRumorEventId) }

func AuthorMismatch() *Error { return New(KindAuthorMismatch) }

func IdentityChangeNotAllowed(original, newID []byte) *Error {
	return &Error{Kind: KindIdentityChangeNotAllowed, Original: original, New: newID}
}

func MessageFromNonMember() *Error { return New(KindMessageFromNonMember) }

func CommitFromNonAdmin() *Error { return New(KindCommitFromNonAdmin) }

func SnapshotCreationFailed(reason string) *Error {
	return &Error{Kind: KindSnapshotCreationFailed, Reason: reason}
}

func HashVerificationFailed() *Error { return New(KindHashVerificationFailed) }

func NoExporterSecretForEpoch(epoch uint64) *Error {
	return &Error{Kind: KindNoExporterSecretForEpoch, Epoch: epoch}
}

func DecryptionFailed(reason string) *Error {
	return &Error{Kind: KindDecryptionFailed, Reason: reason}
}

func UnknownSchemeVersion(v string) *Error {
	return &Error{Kind: KindUnknownSchemeVersion, Version: v}
}

// Wrap attaches an underlying cause without changing the returned Kind.
func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Wrapped: cause}
}
