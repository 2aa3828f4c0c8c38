package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// WrapInput is one member's wrapped epoch key as submitted by a rotation
// caller. The authoritative visibility floor is stamped by the store, never
// taken from the caller.
type WrapInput struct {
	MemberPublicKey []byte
	Wrap            []byte
}

// ConversationSeed is the full initial state of a conversation: the
// conversation row at epoch 1, the first epoch, the owner's membership row,
// and the owner's wrap. The store commits all of it in one transaction.
type ConversationSeed struct {
	Conversation *Conversation
	Epoch        *Epoch
	Owner        *ConversationMember
	OwnerWrap    *EpochMember
}

// RotationCommit is the atomic unit of an epoch transition. The store must
// apply it all-or-nothing with the stale-epoch compare-and-swap described in
// the package documentation. At most one of the mutation fields (Join,
// Leave+RevokeLinkID) is used per commit; Link accompanies Join when the
// joining member is a guest link.
type RotationCommit struct {
	ConversationID   uuid.UUID
	ExpectedEpoch    int64
	EpochPublicKey   []byte
	ConfirmationHash []byte
	ChainLink        []byte
	Wraps            []WrapInput
	EncryptedTitle   []byte

	// Join is a membership row to insert inside the commit; its
	// VisibleFromEpoch is overwritten with the new epoch number.
	Join *ConversationMember
	// Link is the shared-link row to insert alongside Join.
	Link *SharedLink
	// Leave marks the referenced member's row as left inside the commit.
	Leave *MemberRef
	// RevokeLinkID stamps RevokedAt on the shared link inside the commit.
	RevokeLinkID *uuid.UUID

	Now time.Time
}

// Store is the persistence contract of the rotation engine.
type Store interface {
	// CreateConversation commits a ConversationSeed in one transaction.
	CreateConversation(ctx context.Context, seed *ConversationSeed) error
	// GetConversation returns the conversation row or ErrConversationNotFound.
	GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error)
	// DeleteConversation removes the conversation and all dependent epochs,
	// wraps, memberships, links, and messages (owner-leave semantics).
	DeleteConversation(ctx context.Context, id uuid.UUID) error

	// CommitRotation applies a RotationCommit atomically and returns the new
	// epoch number. It fails with ErrStaleEpoch when ExpectedEpoch does not
	// match the current epoch at commit time, and with
	// ErrMembershipSnapshot when the wrap set does not exactly equal the
	// post-mutation set of members that have not left.
	CommitRotation(ctx context.Context, commit *RotationCommit) (int64, error)

	// EpochByNumber returns one epoch row or ErrEpochNotFound.
	EpochByNumber(ctx context.Context, conversationID uuid.UUID, epochNumber int64) (*Epoch, error)
	// EpochsInRange returns epoch rows with first <= epochNumber <= last,
	// ascending.
	EpochsInRange(ctx context.Context, conversationID uuid.UUID, first, last int64) ([]*Epoch, error)
	// Epochs returns all epoch rows ascending by epoch number.
	Epochs(ctx context.Context, conversationID uuid.UUID) ([]*Epoch, error)
	// EpochMembers returns the wrap rows of one epoch.
	EpochMembers(ctx context.Context, epochID uuid.UUID) ([]*EpochMember, error)
	// WrapForMember returns the wrap row for one member public key at one
	// epoch, or ErrMemberNotFound.
	WrapForMember(ctx context.Context, conversationID uuid.UUID, epochNumber int64, memberPublicKey []byte) (*EpochMember, error)

	// AddMember inserts a membership row and, when wrap is non-nil, a direct
	// wrap for the current epoch, in one transaction (add-with-history). A
	// non-nil wrap was built against epoch atEpoch; the store verifies inside
	// the transaction that atEpoch is still the current epoch and fails with
	// ErrStaleEpoch otherwise, so a rotation racing the insert cannot leave a
	// member whose only wrap targets a superseded epoch.
	AddMember(ctx context.Context, member *ConversationMember, wrap *EpochMember, atEpoch int64) error
	// AddLink inserts a shared link plus its membership row and optional
	// current-epoch wrap in one transaction, with the same atEpoch guard as
	// AddMember.
	AddLink(ctx context.Context, link *SharedLink, member *ConversationMember, wrap *EpochMember, atEpoch int64) error
	// AcceptInvite transitions an invited membership row to active.
	AcceptInvite(ctx context.Context, conversationID uuid.UUID, ref MemberRef, at time.Time) error
	// PresentMember returns the membership row for ref that has not left, or
	// ErrMemberNotFound.
	PresentMember(ctx context.Context, conversationID uuid.UUID, ref MemberRef) (*ConversationMember, error)
	// PresentMemberByPublicKey is PresentMember keyed by member public key.
	PresentMemberByPublicKey(ctx context.Context, conversationID uuid.UUID, publicKey []byte) (*ConversationMember, error)
	// PresentMembers returns every membership row that has not left.
	PresentMembers(ctx context.Context, conversationID uuid.UUID) ([]*ConversationMember, error)
	// EffectiveFloor returns the authoritative read floor for a public key:
	// the maximum VisibleFromEpoch across all of its membership rows,
	// historical rows included. ErrMemberNotFound when no row exists.
	EffectiveFloor(ctx context.Context, conversationID uuid.UUID, publicKey []byte) (int64, error)
	// GetLink returns a shared link row or ErrLinkNotFound.
	GetLink(ctx context.Context, linkID uuid.UUID) (*SharedLink, error)

	// AppendMessage stamps msg with the conversation's current epoch and the
	// next sequence number, atomically, and persists it.
	AppendMessage(ctx context.Context, msg *Message) error
	// MessagesFrom returns messages with EpochNumber >= floor, ascending by
	// sequence number. floor <= 0 returns all messages.
	MessagesFrom(ctx context.Context, conversationID uuid.UUID, floor int64) ([]*Message, error)
}
