package hushbox

import (
	"context"

	"github.com/google/uuid"

	"github.com/LOME-AI/hushbox/internal/store"
)

// GetKeyChain returns everything the calling member needs to decrypt within
// their visibility window: the direct wrap of the current epoch key plus the
// chain links for every epoch from the current one down to one past the
// member's read floor, newest first. Walking the links from the unwrapped
// current key yields each older epoch key in turn; the walk bottoms out at
// the floor because the floor epoch's own link is not included.
//
// The caller is identified by public key. A key with no wrap for the current
// epoch gets ErrMemberNotFound whether it was removed, left, or never was a
// member.
func (s *Service) GetKeyChain(ctx context.Context, conversationID uuid.UUID, memberPublicKey []byte) (*KeyChain, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	member, err := s.store.PresentMemberByPublicKey(ctx, conversationID, memberPublicKey)
	if err != nil {
		return nil, err
	}
	if member.Status != store.StatusActive {
		return nil, ErrNotAuthorized
	}

	wrap, err := s.store.WrapForMember(ctx, conversationID, conv.CurrentEpoch, memberPublicKey)
	if err != nil {
		return nil, err
	}

	floor, err := s.store.EffectiveFloor(ctx, conversationID, memberPublicKey)
	if err != nil {
		return nil, err
	}
	// A floor of 0 predates floor tracking and is treated permissively.
	if floor <= 0 {
		floor = 1
	}

	chain := &KeyChain{
		ConversationID:   conversationID,
		CurrentEpoch:     conv.CurrentEpoch,
		VisibleFromEpoch: floor,
		Wraps: []EpochWrap{
			{EpochNumber: conv.CurrentEpoch, Wrap: wrap.Wrap},
		},
	}
	if floor >= conv.CurrentEpoch {
		return chain, nil
	}

	epochs, err := s.store.EpochsInRange(ctx, conversationID, floor+1, conv.CurrentEpoch)
	if err != nil {
		return nil, err
	}
	chain.ChainLinks = make([]ChainLink, 0, len(epochs))
	for i := len(epochs) - 1; i >= 0; i-- {
		chain.ChainLinks = append(chain.ChainLinks, ChainLink{
			EpochNumber: epochs[i].EpochNumber,
			Link:        epochs[i].ChainLink,
		})
	}
	return chain, nil
}
