package hushbox

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/LOME-AI/hushbox/internal/keycrypt"
	"github.com/LOME-AI/hushbox/internal/store"
)

// CreateConversation creates a conversation at epoch 1. The owner is its
// first member with the owner privilege, and the seed carries the owner's
// sealed copy of the first epoch key.
func (s *Service) CreateConversation(ctx context.Context, params CreateConversationParams) (*Conversation, error) {
	var problems []string
	if !keycrypt.ValidatePublicKey(params.OwnerPublicKey) {
		problems = append(problems, "owner public key has wrong size")
	}
	if !keycrypt.ValidatePublicKey(params.EpochPublicKey) {
		problems = append(problems, "epoch public key has wrong size")
	}
	if len(params.OwnerWrap) == 0 {
		problems = append(problems, "owner wrap is empty")
	}
	if len(params.ConfirmationHash) == 0 {
		problems = append(problems, "confirmation hash is empty")
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Errors: problems}
	}

	now := s.now().UTC()
	convID := uuid.New()
	ownerID := params.OwnerUserID
	accepted := now

	seed := &store.ConversationSeed{
		Conversation: &store.Conversation{
			ID:               convID,
			OwnerUserID:      ownerID,
			CurrentEpoch:     1,
			EncryptedTitle:   params.EncryptedTitle,
			TitleEpochNumber: 1,
			CreatedAt:        now,
			UpdatedAt:        now,
		},
		Epoch: &store.Epoch{
			ID:               uuid.New(),
			ConversationID:   convID,
			EpochNumber:      1,
			PublicKey:        params.EpochPublicKey,
			ConfirmationHash: params.ConfirmationHash,
			CreatedAt:        now,
		},
		Owner: &store.ConversationMember{
			ID:               uuid.New(),
			ConversationID:   convID,
			UserID:           &ownerID,
			PublicKey:        params.OwnerPublicKey,
			Privilege:        store.PrivilegeOwner,
			Status:           store.StatusActive,
			VisibleFromEpoch: 1,
			AcceptedAt:       &accepted,
			JoinedAt:         now,
		},
		OwnerWrap: &store.EpochMember{
			MemberPublicKey:  params.OwnerPublicKey,
			Wrap:             params.OwnerWrap,
			VisibleFromEpoch: 1,
		},
	}
	if err := s.store.CreateConversation(ctx, seed); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "conversation created",
		"conversation_id", convID, "owner_user_id", ownerID)
	return conversationFromStore(seed.Conversation), nil
}

// GetConversation returns the conversation if the caller is a member. Callers
// that are not members get not-found, never existence confirmation.
func (s *Service) GetConversation(ctx context.Context, conversationID uuid.UUID, caller MemberRef) (*Conversation, error) {
	if _, err := s.presentMember(ctx, conversationID, caller); err != nil {
		if errors.Is(err, store.ErrMemberNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return conversationFromStore(conv), nil
}

// ListMembers returns the conversation's not-left members.
func (s *Service) ListMembers(ctx context.Context, conversationID uuid.UUID, caller MemberRef) ([]*Member, error) {
	if _, err := s.activeMember(ctx, conversationID, caller); err != nil {
		return nil, err
	}
	rows, err := s.store.PresentMembers(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	members := make([]*Member, len(rows))
	for i, row := range rows {
		members[i] = memberFromStore(row)
	}
	return members, nil
}

// VerifyConversation checks a conversation's structural invariants: the
// epoch sequence is contiguous from 1 to the current epoch, the chain link
// is absent exactly on epoch 1, every epoch carries at least one wrap, and
// the current epoch's wrap set matches the present membership.
func (s *Service) VerifyConversation(ctx context.Context, conversationID uuid.UUID) error {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	epochs, err := s.store.Epochs(ctx, conversationID)
	if err != nil {
		return err
	}

	if int64(len(epochs)) != conv.CurrentEpoch {
		return &IntegrityError{
			ConversationID: conversationID.String(),
			Message:        "epoch count does not match the current epoch number",
		}
	}
	for i, epoch := range epochs {
		want := int64(i + 1)
		if epoch.EpochNumber != want {
			return &IntegrityError{
				ConversationID: conversationID.String(),
				EpochNumber:    epoch.EpochNumber,
				Message:        "epoch numbers are not contiguous",
			}
		}
		if want == 1 && epoch.ChainLink != nil {
			return &IntegrityError{
				ConversationID: conversationID.String(),
				EpochNumber:    1,
				Message:        "first epoch must not carry a chain link",
			}
		}
		if want > 1 && len(epoch.ChainLink) == 0 {
			return &IntegrityError{
				ConversationID: conversationID.String(),
				EpochNumber:    want,
				Message:        "epoch is missing its chain link",
			}
		}
		wraps, err := s.store.EpochMembers(ctx, epoch.ID)
		if err != nil {
			return err
		}
		if len(wraps) == 0 {
			return &IntegrityError{
				ConversationID: conversationID.String(),
				EpochNumber:    want,
				Message:        "epoch has no member wraps",
			}
		}
		if want == conv.CurrentEpoch {
			if err := s.verifyCurrentWraps(ctx, conversationID, want, wraps); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) verifyCurrentWraps(ctx context.Context, conversationID uuid.UUID, epochNumber int64, wraps []*store.EpochMember) error {
	members, err := s.store.PresentMembers(ctx, conversationID)
	if err != nil {
		return err
	}
	wrapped := make(map[string]bool, len(wraps))
	for _, w := range wraps {
		wrapped[string(w.MemberPublicKey)] = true
	}
	if len(wrapped) != len(members) {
		return &IntegrityError{
			ConversationID: conversationID.String(),
			EpochNumber:    epochNumber,
			Message:        "current epoch wrap set does not match the membership",
		}
	}
	for _, m := range members {
		if !wrapped[string(m.PublicKey)] {
			return &IntegrityError{
				ConversationID: conversationID.String(),
				EpochNumber:    epochNumber,
				Message:        "member has no wrap for the current epoch",
			}
		}
	}
	return nil
}
