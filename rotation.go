package hushbox

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/LOME-AI/hushbox/internal/keycrypt"
	"github.com/LOME-AI/hushbox/internal/store"
)

// SubmitRotation advances the conversation to the next epoch with membership
// unchanged. The request is accepted only if ExpectedEpoch still matches the
// conversation's current epoch; a concurrent rotation wins the race and this
// one fails with ErrStaleEpoch. There are no automatic retries: the caller
// must re-observe the new state and recompute every wrap before trying again.
func (s *Service) SubmitRotation(ctx context.Context, conversationID uuid.UUID, actor MemberRef, req RotationRequest) (int64, error) {
	member, err := s.activeMember(ctx, conversationID, actor)
	if err != nil {
		return 0, err
	}
	if !member.Privilege.CanWrite() {
		return 0, ErrNotAuthorized
	}
	if err := validateRotation(&req); err != nil {
		return 0, err
	}
	return s.commitRotation(ctx, conversationID, &req, nil)
}

// commitRotation runs a rotation commit with an optional membership mutation
// attached. mutate fills the mutation fields of the commit.
func (s *Service) commitRotation(ctx context.Context, conversationID uuid.UUID, req *RotationRequest, mutate func(*store.RotationCommit)) (int64, error) {
	commit := &store.RotationCommit{
		ConversationID:   conversationID,
		ExpectedEpoch:    req.ExpectedEpoch,
		EpochPublicKey:   req.EpochPublicKey,
		ConfirmationHash: req.ConfirmationHash,
		ChainLink:        req.ChainLink,
		Wraps:            wrapInputs(req.Wraps),
		EncryptedTitle:   req.EncryptedTitle,
		Now:              s.now().UTC(),
	}
	if mutate != nil {
		mutate(commit)
	}

	newEpoch, err := s.store.CommitRotation(ctx, commit)
	if err != nil {
		if errors.Is(err, store.ErrStaleEpoch) {
			return 0, s.staleEpoch(ctx, conversationID, req.ExpectedEpoch)
		}
		return 0, err
	}

	s.logger.InfoContext(ctx, "epoch rotated",
		"conversation_id", conversationID, "epoch", newEpoch)
	return newEpoch, nil
}

// staleEpoch re-observes the conversation to report both epoch numbers. A
// conversation that vanished between the commit and the re-read is reported
// as not found rather than as an epoch mismatch.
func (s *Service) staleEpoch(ctx context.Context, conversationID uuid.UUID, expected int64) error {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	return &StaleEpochError{Expected: expected, Current: conv.CurrentEpoch}
}

// validateRotation rejects malformed key material before any write. Every
// rotation produces an epoch greater than 1, so the chain link is always
// required.
func validateRotation(req *RotationRequest) error {
	var problems []string
	if req.ExpectedEpoch < 1 {
		problems = append(problems, "expected epoch must be at least 1")
	}
	if !keycrypt.ValidatePublicKey(req.EpochPublicKey) {
		problems = append(problems, "epoch public key has wrong size")
	}
	if len(req.ConfirmationHash) == 0 {
		problems = append(problems, "confirmation hash is empty")
	}
	if len(req.ChainLink) == 0 {
		problems = append(problems, "chain link is missing")
	}
	if len(req.Wraps) == 0 {
		problems = append(problems, "wrap set is empty")
	}
	seen := make(map[string]bool, len(req.Wraps))
	for _, w := range req.Wraps {
		if len(w.MemberPublicKey) == 0 || len(w.Wrap) == 0 {
			problems = append(problems, "wrap entry is incomplete")
			continue
		}
		if seen[string(w.MemberPublicKey)] {
			problems = append(problems, "duplicate wrap for the same member key")
		}
		seen[string(w.MemberPublicKey)] = true
	}
	if len(problems) > 0 {
		return &ValidationError{Errors: problems}
	}
	return nil
}
