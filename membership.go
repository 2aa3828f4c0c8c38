package hushbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/LOME-AI/hushbox/internal/keycrypt"
	"github.com/LOME-AI/hushbox/internal/store"
)

// AddMember invites a user with access to history. The grantor-chosen floor
// must lie in [1, currentEpoch]; 1 grants the full history. The invitee gets
// a direct wrap of the current epoch key and no rotation happens, so the
// epoch counter is untouched. A rotation committing while the invite is in
// flight invalidates the wrap; the commit fails with StaleEpochError and the
// inviter re-wraps against the new epoch.
func (s *Service) AddMember(ctx context.Context, params AddMemberParams) error {
	actor, err := s.requireManager(ctx, params.ConversationID, params.Actor)
	if err != nil {
		return err
	}
	if err := validateNewMember(params.PublicKey, params.Privilege); err != nil {
		return err
	}
	if len(params.Wrap) == 0 {
		return &ValidationError{Errors: []string{"member wrap is empty"}}
	}

	conv, err := s.store.GetConversation(ctx, params.ConversationID)
	if err != nil {
		return err
	}
	if params.VisibleFromEpoch < 1 || params.VisibleFromEpoch > conv.CurrentEpoch {
		return ErrInvalidHistoryFloor
	}
	current, err := s.store.EpochByNumber(ctx, params.ConversationID, conv.CurrentEpoch)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	userID := params.UserID
	member := &store.ConversationMember{
		ID:               uuid.New(),
		ConversationID:   params.ConversationID,
		UserID:           &userID,
		PublicKey:        params.PublicKey,
		Privilege:        store.Privilege(params.Privilege),
		Status:           store.StatusInvited,
		VisibleFromEpoch: params.VisibleFromEpoch,
		InvitedByUserID:  inviterID(actor),
		JoinedAt:         now,
	}
	wrap := &store.EpochMember{
		EpochID:          current.ID,
		MemberPublicKey:  params.PublicKey,
		Wrap:             params.Wrap,
		VisibleFromEpoch: params.VisibleFromEpoch,
	}
	if err := s.store.AddMember(ctx, member, wrap, conv.CurrentEpoch); err != nil {
		if errors.Is(err, store.ErrStaleEpoch) {
			return s.staleEpoch(ctx, params.ConversationID, conv.CurrentEpoch)
		}
		return err
	}

	s.logger.InfoContext(ctx, "member invited",
		"conversation_id", params.ConversationID,
		"user_id", params.UserID,
		"visible_from_epoch", params.VisibleFromEpoch)
	return nil
}

// AddMemberRotating invites a user without access to history: the membership
// row and an epoch rotation commit as one atomic unit, and the invitee's
// floor is the new epoch number. The invitee's wrap rides in the rotation's
// wrap set; the Wrap and VisibleFromEpoch fields of params are ignored.
func (s *Service) AddMemberRotating(ctx context.Context, params AddMemberParams, rotation RotationRequest) (int64, error) {
	if _, err := s.requireManager(ctx, params.ConversationID, params.Actor); err != nil {
		return 0, err
	}
	if err := validateNewMember(params.PublicKey, params.Privilege); err != nil {
		return 0, err
	}
	if err := validateRotation(&rotation); err != nil {
		return 0, err
	}

	actor := params.Actor
	now := s.now().UTC()
	userID := params.UserID
	join := &store.ConversationMember{
		ID:             uuid.New(),
		ConversationID: params.ConversationID,
		UserID:         &userID,
		PublicKey:      params.PublicKey,
		Privilege:      store.Privilege(params.Privilege),
		Status:         store.StatusInvited,
		JoinedAt:       now,
	}
	if actor.Kind == KindUser {
		id := actor.ID
		join.InvitedByUserID = &id
	}

	newEpoch, err := s.commitRotation(ctx, params.ConversationID, &rotation, func(c *store.RotationCommit) {
		c.Join = join
	})
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "member invited without history",
		"conversation_id", params.ConversationID,
		"user_id", params.UserID,
		"epoch", newEpoch)
	return newEpoch, nil
}

// RemoveMember marks the target as left and rotates to an epoch whose wrap
// set excludes the target's key, as one atomic unit. The owner cannot be
// removed.
func (s *Service) RemoveMember(ctx context.Context, params RemoveMemberParams, rotation RotationRequest) (int64, error) {
	if _, err := s.requireManager(ctx, params.ConversationID, params.Actor); err != nil {
		return 0, err
	}
	target, err := s.presentMember(ctx, params.ConversationID, params.Target)
	if err != nil {
		return 0, err
	}
	if target.Privilege == store.PrivilegeOwner {
		return 0, ErrOwnerImmutable
	}
	if err := validateRotation(&rotation); err != nil {
		return 0, err
	}

	ref := params.Target.toStore()
	newEpoch, err := s.commitRotation(ctx, params.ConversationID, &rotation, func(c *store.RotationCommit) {
		c.Leave = &ref
	})
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "member removed",
		"conversation_id", params.ConversationID, "epoch", newEpoch)
	return newEpoch, nil
}

// Leave is the member's own exit. A non-owner leaves exactly like a removal,
// with a rotation that excludes their key. The owner leaving deletes the
// conversation and everything in it; no rotation is accepted on that path.
func (s *Service) Leave(ctx context.Context, params LeaveParams, rotation *RotationRequest) (int64, error) {
	member, err := s.presentMember(ctx, params.ConversationID, params.Actor)
	if err != nil {
		return 0, err
	}

	if member.Privilege == store.PrivilegeOwner {
		if rotation != nil {
			return 0, ErrRotationNotAllowed
		}
		if err := s.store.DeleteConversation(ctx, params.ConversationID); err != nil {
			return 0, err
		}
		s.logger.InfoContext(ctx, "conversation deleted by owner",
			"conversation_id", params.ConversationID)
		return 0, nil
	}

	if rotation == nil {
		return 0, &ValidationError{Errors: []string{"leaving requires a rotation"}}
	}
	if err := validateRotation(rotation); err != nil {
		return 0, err
	}
	ref := params.Actor.toStore()
	newEpoch, err := s.commitRotation(ctx, params.ConversationID, rotation, func(c *store.RotationCommit) {
		c.Leave = &ref
	})
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "member left",
		"conversation_id", params.ConversationID, "epoch", newEpoch)
	return newEpoch, nil
}

// AcceptInvite transitions the caller's membership from invited to active.
func (s *Service) AcceptInvite(ctx context.Context, conversationID uuid.UUID, actor MemberRef) error {
	err := s.store.AcceptInvite(ctx, conversationID, actor.toStore(), s.now().UTC())
	if errors.Is(err, store.ErrMemberNotFound) {
		return ErrNotInvited
	}
	return err
}

// CreateLink creates a shared guest link with access to history, mirroring
// AddMember. The link is a keypair-addressed member and is active
// immediately; there is no invite handshake for links.
func (s *Service) CreateLink(ctx context.Context, params CreateLinkParams) (*Link, error) {
	if _, err := s.requireManager(ctx, params.ConversationID, params.Actor); err != nil {
		return nil, err
	}
	if err := validateNewLink(params.PublicKey, params.Privilege); err != nil {
		return nil, err
	}
	if len(params.Wrap) == 0 {
		return nil, &ValidationError{Errors: []string{"link wrap is empty"}}
	}

	conv, err := s.store.GetConversation(ctx, params.ConversationID)
	if err != nil {
		return nil, err
	}
	if params.VisibleFromEpoch < 1 || params.VisibleFromEpoch > conv.CurrentEpoch {
		return nil, ErrInvalidHistoryFloor
	}
	current, err := s.store.EpochByNumber(ctx, params.ConversationID, conv.CurrentEpoch)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	link, member := s.newLinkRows(params.ConversationID, params.Actor, params.PublicKey, params.Privilege, now)
	member.VisibleFromEpoch = params.VisibleFromEpoch
	wrap := &store.EpochMember{
		EpochID:          current.ID,
		MemberPublicKey:  params.PublicKey,
		Wrap:             params.Wrap,
		VisibleFromEpoch: params.VisibleFromEpoch,
	}
	if err := s.store.AddLink(ctx, link, member, wrap, conv.CurrentEpoch); err != nil {
		if errors.Is(err, store.ErrStaleEpoch) {
			return nil, s.staleEpoch(ctx, params.ConversationID, conv.CurrentEpoch)
		}
		return nil, err
	}

	s.logger.InfoContext(ctx, "shared link created",
		"conversation_id", params.ConversationID,
		"link_id", link.ID,
		"visible_from_epoch", params.VisibleFromEpoch)
	return linkFromStore(link), nil
}

// CreateLinkRotating creates a shared guest link without access to history:
// link plus rotation as one atomic unit, floor = new epoch number. The
// link's wrap rides in the rotation's wrap set.
func (s *Service) CreateLinkRotating(ctx context.Context, params CreateLinkParams, rotation RotationRequest) (*Link, int64, error) {
	if _, err := s.requireManager(ctx, params.ConversationID, params.Actor); err != nil {
		return nil, 0, err
	}
	if err := validateNewLink(params.PublicKey, params.Privilege); err != nil {
		return nil, 0, err
	}
	if err := validateRotation(&rotation); err != nil {
		return nil, 0, err
	}

	now := s.now().UTC()
	link, member := s.newLinkRows(params.ConversationID, params.Actor, params.PublicKey, params.Privilege, now)

	newEpoch, err := s.commitRotation(ctx, params.ConversationID, &rotation, func(c *store.RotationCommit) {
		c.Link = link
		c.Join = member
	})
	if err != nil {
		return nil, 0, err
	}
	s.logger.InfoContext(ctx, "shared link created without history",
		"conversation_id", params.ConversationID,
		"link_id", link.ID,
		"epoch", newEpoch)
	return linkFromStore(link), newEpoch, nil
}

// RevokeLink revokes a shared link: RevokedAt on the link, left on its
// membership row, and a rotation excluding its key, as one atomic unit.
func (s *Service) RevokeLink(ctx context.Context, params RevokeLinkParams, rotation RotationRequest) (int64, error) {
	if _, err := s.requireManager(ctx, params.ConversationID, params.Actor); err != nil {
		return 0, err
	}
	link, err := s.store.GetLink(ctx, params.LinkID)
	if err != nil {
		return 0, err
	}
	if link.ConversationID != params.ConversationID || link.RevokedAt != nil {
		return 0, ErrLinkNotFound
	}
	if err := validateRotation(&rotation); err != nil {
		return 0, err
	}

	ref := store.LinkRef(params.LinkID)
	linkID := params.LinkID
	newEpoch, err := s.commitRotation(ctx, params.ConversationID, &rotation, func(c *store.RotationCommit) {
		c.Leave = &ref
		c.RevokeLinkID = &linkID
	})
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "shared link revoked",
		"conversation_id", params.ConversationID,
		"link_id", params.LinkID,
		"epoch", newEpoch)
	return newEpoch, nil
}

// requireManager resolves the actor and requires member-management rights.
func (s *Service) requireManager(ctx context.Context, conversationID uuid.UUID, actor MemberRef) (*store.ConversationMember, error) {
	member, err := s.activeMember(ctx, conversationID, actor)
	if err != nil {
		return nil, err
	}
	if !member.Privilege.CanManageMembers() {
		return nil, ErrNotAuthorized
	}
	return member, nil
}

func (s *Service) newLinkRows(conversationID uuid.UUID, actor MemberRef, publicKey []byte, privilege Privilege, now time.Time) (*store.SharedLink, *store.ConversationMember) {
	linkID := uuid.New()
	link := &store.SharedLink{
		ID:             linkID,
		ConversationID: conversationID,
		PublicKey:      publicKey,
		Privilege:      store.Privilege(privilege),
		CreatedAt:      now,
	}
	accepted := now
	member := &store.ConversationMember{
		ID:             uuid.New(),
		ConversationID: conversationID,
		LinkID:         &linkID,
		PublicKey:      publicKey,
		Privilege:      store.Privilege(privilege),
		Status:         store.StatusActive,
		AcceptedAt:     &accepted,
		JoinedAt:       now,
	}
	if actor.Kind == KindUser {
		id := actor.ID
		member.InvitedByUserID = &id
	}
	return link, member
}

func inviterID(actor *store.ConversationMember) *uuid.UUID {
	if actor.UserID == nil {
		return nil
	}
	id := *actor.UserID
	return &id
}

func validateNewMember(publicKey []byte, privilege Privilege) error {
	var problems []string
	if !keycrypt.ValidatePublicKey(publicKey) {
		problems = append(problems, "member public key has wrong size")
	}
	if !privilege.Valid() || privilege == PrivilegeOwner {
		problems = append(problems, "privilege must be admin, write, or read")
	}
	if len(problems) > 0 {
		return &ValidationError{Errors: problems}
	}
	return nil
}

func validateNewLink(publicKey []byte, privilege Privilege) error {
	var problems []string
	if !keycrypt.ValidatePublicKey(publicKey) {
		problems = append(problems, "link public key has wrong size")
	}
	if privilege != PrivilegeWrite && privilege != PrivilegeRead {
		problems = append(problems, "link privilege must be write or read")
	}
	if len(problems) > 0 {
		return &ValidationError{Errors: problems}
	}
	return nil
}
