package hushbox

import (
	"time"

	"github.com/google/uuid"

	"github.com/LOME-AI/hushbox/internal/store"
)

// Privilege is a member's capability level within a conversation.
type Privilege string

const (
	PrivilegeOwner Privilege = "owner"
	PrivilegeAdmin Privilege = "admin"
	PrivilegeWrite Privilege = "write"
	PrivilegeRead  Privilege = "read"
)

// Valid reports whether p is a known privilege.
func (p Privilege) Valid() bool {
	switch p {
	case PrivilegeOwner, PrivilegeAdmin, PrivilegeWrite, PrivilegeRead:
		return true
	}
	return false
}

// MemberStatus is a membership lifecycle state. The lifecycle is
// invited -> active -> left, and left is terminal; rejoining creates a new
// membership row.
type MemberStatus string

const (
	StatusInvited MemberStatus = "invited"
	StatusActive  MemberStatus = "active"
	StatusLeft    MemberStatus = "left"
)

// MemberKind distinguishes account members from shared-link guests.
type MemberKind string

const (
	KindUser MemberKind = "user"
	KindLink MemberKind = "link"
)

// MemberRef is a tagged member identity: a user account or a shared link.
type MemberRef struct {
	Kind MemberKind
	ID   uuid.UUID
}

// UserRef returns a MemberRef for a user account.
func UserRef(id uuid.UUID) MemberRef { return MemberRef{Kind: KindUser, ID: id} }

// LinkRef returns a MemberRef for a shared guest link.
func LinkRef(id uuid.UUID) MemberRef { return MemberRef{Kind: KindLink, ID: id} }

// Conversation is the authorized view of a conversation.
type Conversation struct {
	ID               uuid.UUID
	OwnerUserID      uuid.UUID
	CurrentEpoch     int64
	EncryptedTitle   []byte
	TitleEpochNumber int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Member is a membership row, past or present.
type Member struct {
	ID               uuid.UUID
	ConversationID   uuid.UUID
	Ref              MemberRef
	PublicKey        []byte
	Privilege        Privilege
	Status           MemberStatus
	VisibleFromEpoch int64
	InvitedByUserID  *uuid.UUID
	AcceptedAt       *time.Time
	JoinedAt         time.Time
	LeftAt           *time.Time
}

// Link is a shared guest link.
type Link struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	PublicKey      []byte
	Privilege      Privilege
	CreatedAt      time.Time
	RevokedAt      *time.Time
}

// Message is an encrypted message with its epoch and sequence stamps.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	EncryptedBlob  []byte
	SenderType     MemberKind
	SenderID       uuid.UUID
	EpochNumber    int64
	SequenceNumber int64
	CreatedAt      time.Time
}

// EpochWrap is the caller's sealed copy of one epoch's secret key.
type EpochWrap struct {
	EpochNumber int64
	Wrap        []byte
}

// ChainLink is the previous epoch's secret key sealed to the public key of
// the epoch it is stored on. It is usable only by a holder of that epoch's
// secret key and grants nothing by itself.
type ChainLink struct {
	EpochNumber int64
	Link        []byte
}

// KeyChain is everything a member needs to decrypt the conversation within
// their visibility window: the direct wrap for the current epoch plus chain
// links, newest first, reaching back to the member's read floor.
type KeyChain struct {
	ConversationID   uuid.UUID
	CurrentEpoch     int64
	VisibleFromEpoch int64
	Wraps            []EpochWrap
	ChainLinks       []ChainLink
}

// MemberWrap is one member's wrapped epoch key submitted with a rotation.
type MemberWrap struct {
	MemberPublicKey []byte
	Wrap            []byte
}

// RotationRequest is a client-computed epoch transition: the new epoch's
// public key and confirmation hash, the chain link back to the epoch being
// superseded, one wrap per remaining member, and the title re-encrypted
// under the new key.
type RotationRequest struct {
	ExpectedEpoch    int64
	EpochPublicKey   []byte
	ConfirmationHash []byte
	ChainLink        []byte
	EncryptedTitle   []byte
	Wraps            []MemberWrap
}

// CreateConversationParams seeds a conversation at epoch 1.
type CreateConversationParams struct {
	OwnerUserID      uuid.UUID
	OwnerPublicKey   []byte
	OwnerWrap        []byte
	EncryptedTitle   []byte
	EpochPublicKey   []byte
	ConfirmationHash []byte
}

// AddMemberParams invites a user. On the with-history path VisibleFromEpoch
// is the grantor-chosen floor (1 grants full history) and Wrap is the
// invitee's sealed copy of the current epoch key. On the rotating path both
// are ignored; the invitee's wrap rides in the rotation and the floor is the
// new epoch number.
type AddMemberParams struct {
	ConversationID   uuid.UUID
	Actor            MemberRef
	UserID           uuid.UUID
	PublicKey        []byte
	Privilege        Privilege
	VisibleFromEpoch int64
	Wrap             []byte
}

// CreateLinkParams creates a shared guest link, mirroring AddMemberParams.
type CreateLinkParams struct {
	ConversationID   uuid.UUID
	Actor            MemberRef
	PublicKey        []byte
	Privilege        Privilege
	VisibleFromEpoch int64
	Wrap             []byte
}

// RemoveMemberParams removes a member; the accompanying rotation excludes
// the member's key.
type RemoveMemberParams struct {
	ConversationID uuid.UUID
	Actor          MemberRef
	Target         MemberRef
}

// LeaveParams is a member leaving on their own initiative.
type LeaveParams struct {
	ConversationID uuid.UUID
	Actor          MemberRef
}

// RevokeLinkParams revokes a shared link; the accompanying rotation excludes
// the link's key.
type RevokeLinkParams struct {
	ConversationID uuid.UUID
	Actor          MemberRef
	LinkID         uuid.UUID
}

// SendMessageParams appends an encrypted message.
type SendMessageParams struct {
	ConversationID uuid.UUID
	Sender         MemberRef
	EncryptedBlob  []byte
}

func (r MemberRef) toStore() store.MemberRef {
	if r.Kind == KindLink {
		return store.LinkRef(r.ID)
	}
	return store.UserRef(r.ID)
}

func refFromStore(r store.MemberRef) MemberRef {
	if r.Kind == store.KindLink {
		return LinkRef(r.ID)
	}
	return UserRef(r.ID)
}

func conversationFromStore(c *store.Conversation) *Conversation {
	return &Conversation{
		ID:               c.ID,
		OwnerUserID:      c.OwnerUserID,
		CurrentEpoch:     c.CurrentEpoch,
		EncryptedTitle:   c.EncryptedTitle,
		TitleEpochNumber: c.TitleEpochNumber,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

func memberFromStore(m *store.ConversationMember) *Member {
	return &Member{
		ID:               m.ID,
		ConversationID:   m.ConversationID,
		Ref:              refFromStore(m.Ref()),
		PublicKey:        m.PublicKey,
		Privilege:        Privilege(m.Privilege),
		Status:           MemberStatus(m.Status),
		VisibleFromEpoch: m.VisibleFromEpoch,
		InvitedByUserID:  m.InvitedByUserID,
		AcceptedAt:       m.AcceptedAt,
		JoinedAt:         m.JoinedAt,
		LeftAt:           m.LeftAt,
	}
}

func linkFromStore(l *store.SharedLink) *Link {
	return &Link{
		ID:             l.ID,
		ConversationID: l.ConversationID,
		PublicKey:      l.PublicKey,
		Privilege:      Privilege(l.Privilege),
		CreatedAt:      l.CreatedAt,
		RevokedAt:      l.RevokedAt,
	}
}

func messageFromStore(m *store.Message) *Message {
	return &Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		EncryptedBlob:  m.EncryptedBlob,
		SenderType:     MemberKind(m.SenderType),
		SenderID:       m.SenderID,
		EpochNumber:    m.EpochNumber,
		SequenceNumber: m.SequenceNumber,
		CreatedAt:      m.CreatedAt,
	}
}

func wrapInputs(wraps []MemberWrap) []store.WrapInput {
	out := make([]store.WrapInput, len(wraps))
	for i, w := range wraps {
		out[i] = store.WrapInput{MemberPublicKey: w.MemberPublicKey, Wrap: w.Wrap}
	}
	return out
}
