package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Privilege is a member's permission level within a conversation.
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

// CanWrite reports whether p allows sending messages.
func (p Privilege) CanWrite() bool {
	return p == PrivilegeOwner || p == PrivilegeAdmin || p == PrivilegeWrite
}

// CanManageMembers reports whether p allows inviting and removing members.
func (p Privilege) CanManageMembers() bool {
	return p == PrivilegeOwner || p == PrivilegeAdmin
}

// MemberStatus is the lifecycle state of a membership row.
// The state machine is invited -> active -> left; left is terminal and a row
// is never reused (re-joining creates a new row).
type MemberStatus string

const (
	StatusInvited MemberStatus = "invited"
	StatusActive  MemberStatus = "active"
	StatusLeft    MemberStatus = "left"
)

// MemberKind distinguishes user-account members from guest-link members.
type MemberKind string

const (
	KindUser MemberKind = "user"
	KindLink MemberKind = "link"
)

// MemberRef identifies a member as a tagged variant: a user account or a
// shared guest link. Wraps and chain access are always resolved by public
// key, never by ref; refs exist for membership lifecycle operations.
type MemberRef struct {
	Kind MemberKind
	ID   uuid.UUID
}

// UserRef returns a MemberRef for a user account.
func UserRef(id uuid.UUID) MemberRef { return MemberRef{Kind: KindUser, ID: id} }

// LinkRef returns a MemberRef for a shared guest link.
func LinkRef(id uuid.UUID) MemberRef { return MemberRef{Kind: KindLink, ID: id} }

// Conversation is a group conversation and its epoch counter. CurrentEpoch
// starts at 1 and increases by exactly 1 per successful rotation; it is the
// single serialization point for same-conversation rotations.
type Conversation struct {
	bun.BaseModel `bun:"table:conversations,alias:c"`

	ID               uuid.UUID `bun:",pk,type:uuid"`
	OwnerUserID      uuid.UUID `bun:",notnull,type:uuid"`
	CurrentEpoch     int64     `bun:",notnull"`
	EncryptedTitle   []byte    `bun:",notnull,type:bytea"`
	TitleEpochNumber int64     `bun:",notnull"`
	NextSequence     int64     `bun:",notnull,default:0"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

// Epoch is one generation of a conversation's encryption key. Rows are never
// mutated, only superseded by a later epoch.
type Epoch struct {
	bun.BaseModel `bun:"table:epochs,alias:e"`

	ID               uuid.UUID `bun:",pk,type:uuid"`
	ConversationID   uuid.UUID `bun:",notnull,type:uuid"`
	EpochNumber      int64     `bun:",notnull"`
	PublicKey        []byte    `bun:",notnull,type:bytea"`
	ConfirmationHash []byte    `bun:",notnull,type:bytea"`
	// ChainLink lets a holder of this epoch's secret key derive the previous
	// epoch's secret key. Nil exactly for epoch 1.
	ChainLink []byte `bun:",type:bytea"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

// EpochMember is one member's wrapped copy of an epoch's secret key,
// addressed by key material rather than account identity so link-based
// guests are first-class members.
type EpochMember struct {
	bun.BaseModel `bun:"table:epoch_members,alias:em"`

	EpochID         uuid.UUID `bun:",pk,type:uuid"`
	MemberPublicKey []byte    `bun:",pk,type:bytea"`
	Wrap            []byte    `bun:",notnull,type:bytea"`
	// VisibleFromEpoch is copied from the authoritative membership record at
	// wrap-creation time; it is never taken from client input.
	VisibleFromEpoch int64 `bun:",notnull"`
}

// ConversationMember is a membership row. Exactly one of UserID/LinkID is
// set. Rows are soft-revoked (status left + LeftAt), never deleted; a member
// may have several historical rows but at most one that is not left.
type ConversationMember struct {
	bun.BaseModel `bun:"table:conversation_members,alias:cm"`

	ID             uuid.UUID  `bun:",pk,type:uuid"`
	ConversationID uuid.UUID  `bun:",notnull,type:uuid"`
	UserID         *uuid.UUID `bun:",type:uuid"`
	LinkID         *uuid.UUID `bun:",type:uuid"`
	PublicKey      []byte     `bun:",notnull,type:bytea"`

	Privilege Privilege    `bun:",notnull"`
	Status    MemberStatus `bun:",notnull"`
	// VisibleFromEpoch is the authoritative floor for this stint, set once at
	// invite time. 0 means no floor was recorded (legacy rows).
	VisibleFromEpoch int64 `bun:",notnull"`

	InvitedByUserID *uuid.UUID `bun:",type:uuid"`
	AcceptedAt      *time.Time `bun:",nullzero"`
	JoinedAt        time.Time  `bun:",nullzero,notnull,default:current_timestamp"`
	LeftAt          *time.Time `bun:",nullzero"`
}

// Ref returns the tagged identity of the membership row.
func (m *ConversationMember) Ref() MemberRef {
	if m.LinkID != nil {
		return LinkRef(*m.LinkID)
	}
	return UserRef(*m.UserID)
}

// Matches reports whether the row belongs to ref.
func (m *ConversationMember) Matches(ref MemberRef) bool {
	switch ref.Kind {
	case KindUser:
		return m.UserID != nil && *m.UserID == ref.ID
	case KindLink:
		return m.LinkID != nil && *m.LinkID == ref.ID
	}
	return false
}

// SharedLink is a guest-access member identified by a dedicated keypair
// rather than a user account.
type SharedLink struct {
	bun.BaseModel `bun:"table:shared_links,alias:sl"`

	ID             uuid.UUID `bun:",pk,type:uuid"`
	ConversationID uuid.UUID `bun:",notnull,type:uuid"`
	PublicKey      []byte    `bun:",notnull,type:bytea"`
	Privilege      Privilege `bun:",notnull"`

	CreatedAt time.Time  `bun:",nullzero,notnull,default:current_timestamp"`
	RevokedAt *time.Time `bun:",nullzero"`
}

// Message is an encrypted message, stamped at send time with the epoch whose
// key sealed it and a per-conversation strictly increasing sequence number.
type Message struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID             uuid.UUID  `bun:",pk,type:uuid"`
	ConversationID uuid.UUID  `bun:",notnull,type:uuid"`
	EncryptedBlob  []byte     `bun:",notnull,type:bytea"`
	SenderType     MemberKind `bun:",notnull"`
	SenderID       uuid.UUID  `bun:",notnull,type:uuid"`
	EpochNumber    int64      `bun:",notnull"`
	SequenceNumber int64      `bun:",notnull"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}
