package hushbox

import (
	"fmt"

	"github.com/LOME-AI/hushbox/internal/store"
)

// Sentinel errors for errors.Is() checks
var (
	// ErrStaleEpoch is returned when a rotation's expected epoch no longer
	// matches the conversation's current epoch.
	ErrStaleEpoch = store.ErrStaleEpoch

	// ErrConversationNotFound is returned when a conversation does not exist.
	ErrConversationNotFound = store.ErrConversationNotFound

	// ErrEpochNotFound is returned when an epoch does not exist.
	ErrEpochNotFound = store.ErrEpochNotFound

	// ErrMemberNotFound is returned when the caller or target is not a
	// member of the conversation, or holds no wrap for the current epoch.
	ErrMemberNotFound = store.ErrMemberNotFound

	// ErrLinkNotFound is returned when a shared link does not exist or has
	// already been revoked.
	ErrLinkNotFound = store.ErrLinkNotFound

	// ErrAlreadyMember is returned when adding an identity that already has
	// a membership row that is not left.
	ErrAlreadyMember = store.ErrAlreadyMember

	// ErrMembershipSnapshot is returned when a rotation's wrap set does not
	// exactly match the member set the rotation would leave in place.
	ErrMembershipSnapshot = store.ErrMembershipSnapshot

	// ErrNotAuthorized is returned when the caller's privilege does not
	// permit the operation.
	ErrNotAuthorized = &sentinelError{"not authorized"}

	// ErrInvalidKeyMaterial is returned when submitted key material has the
	// wrong shape (empty wrap, malformed public key, missing chain link).
	ErrInvalidKeyMaterial = &sentinelError{"invalid key material"}

	// ErrInvalidHistoryFloor is returned when a history grant names an epoch
	// outside [1, currentEpoch].
	ErrInvalidHistoryFloor = &sentinelError{"history floor out of range"}

	// ErrOwnerImmutable is returned when attempting to remove the owner;
	// owners leave by deleting the conversation.
	ErrOwnerImmutable = &sentinelError{"conversation owner cannot be removed"}

	// ErrRotationNotAllowed is returned when a rotation accompanies an
	// operation that must not rotate, such as the owner leaving.
	ErrRotationNotAllowed = &sentinelError{"operation does not accept a rotation"}

	// ErrNotInvited is returned when accepting an invite that does not exist.
	ErrNotInvited = &sentinelError{"no pending invite"}
)

// HushBoxError is implemented by all engine errors.
type HushBoxError interface {
	error
	HushBoxError() // marker method
}

type sentinelError struct {
	msg string
}

func (e *sentinelError) Error() string { return e.msg }

// HushBoxError implements the HushBoxError interface.
func (e *sentinelError) HushBoxError() {}

// StaleEpochError reports a rotation rejected by the optimistic-concurrency
// gate, carrying both epoch numbers so the caller can re-observe.
type StaleEpochError struct {
	Expected int64
	Current  int64
}

func (e *StaleEpochError) Error() string {
	return fmt.Sprintf("stale epoch: expected %d, current is %d", e.Expected, e.Current)
}

// Is implements errors.Is for sentinel error matching.
func (e *StaleEpochError) Is(target error) bool {
	return target == ErrStaleEpoch
}

// HushBoxError implements the HushBoxError interface.
func (e *StaleEpochError) HushBoxError() {}

// ValidationError contains multiple validation failures found in a request
// before any write happened.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", e.Errors)
}

// Is implements errors.Is for sentinel error matching.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidKeyMaterial
}

// HushBoxError implements the HushBoxError interface.
func (e *ValidationError) HushBoxError() {}

// IntegrityError reports a violated conversation invariant found by
// VerifyConversation.
type IntegrityError struct {
	ConversationID string
	EpochNumber    int64
	Message        string
}

func (e *IntegrityError) Error() string {
	if e.EpochNumber > 0 {
		return fmt.Sprintf("integrity violation in conversation %s at epoch %d: %s",
			e.ConversationID, e.EpochNumber, e.Message)
	}
	return fmt.Sprintf("integrity violation in conversation %s: %s", e.ConversationID, e.Message)
}

// HushBoxError implements the HushBoxError interface.
func (e *IntegrityError) HushBoxError() {}
