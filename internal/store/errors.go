package store

import "errors"

// Sentinel errors for errors.Is() checks. The root package re-exports these
// as part of the public error surface.
var (
	// ErrStaleEpoch is returned when a rotation's expected epoch no longer
	// matches the conversation's current epoch. Expected under concurrency;
	// callers must re-observe state and recompute before retrying.
	ErrStaleEpoch = errors.New("stale epoch")

	// ErrConversationNotFound is returned when a conversation does not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrEpochNotFound is returned when an epoch does not exist.
	ErrEpochNotFound = errors.New("epoch not found")

	// ErrMemberNotFound is returned when no matching membership row exists
	// that has not left.
	ErrMemberNotFound = errors.New("member not found")

	// ErrLinkNotFound is returned when a shared link does not exist or has
	// already been revoked.
	ErrLinkNotFound = errors.New("shared link not found")

	// ErrAlreadyMember is returned when an invite targets an identity that
	// already has a membership row that has not left.
	ErrAlreadyMember = errors.New("already a member")

	// ErrMembershipSnapshot is returned when a rotation's wrap set does not
	// exactly match the post-mutation active member set.
	ErrMembershipSnapshot = errors.New("membership snapshot mismatch")
)
