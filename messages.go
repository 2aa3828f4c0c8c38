package hushbox

import (
	"context"

	"github.com/google/uuid"

	"github.com/LOME-AI/hushbox/internal/store"
)

// SendMessage appends an encrypted message. The store stamps the current
// epoch number and the next sequence number atomically, so a message sent
// concurrently with a rotation lands cleanly on one side of it.
func (s *Service) SendMessage(ctx context.Context, params SendMessageParams) (*Message, error) {
	member, err := s.activeMember(ctx, params.ConversationID, params.Sender)
	if err != nil {
		return nil, err
	}
	if !member.Privilege.CanWrite() {
		return nil, ErrNotAuthorized
	}
	if len(params.EncryptedBlob) == 0 {
		return nil, &ValidationError{Errors: []string{"encrypted blob is empty"}}
	}

	msg := &store.Message{
		ID:             uuid.New(),
		ConversationID: params.ConversationID,
		EncryptedBlob:  params.EncryptedBlob,
		SenderType:     store.MemberKind(params.Sender.Kind),
		SenderID:       params.Sender.ID,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}
	return messageFromStore(msg), nil
}

// ListMessages returns the messages visible to the caller in ascending
// sequence order. Visibility is decided by the caller's effective read
// floor, the maximum VisibleFromEpoch across all of their membership rows,
// never by which epoch keys the caller happens to hold. A floor of 0 is
// permissive and returns everything.
func (s *Service) ListMessages(ctx context.Context, conversationID uuid.UUID, caller MemberRef) ([]*Message, error) {
	member, err := s.activeMember(ctx, conversationID, caller)
	if err != nil {
		return nil, err
	}
	floor, err := s.store.EffectiveFloor(ctx, conversationID, member.PublicKey)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.MessagesFrom(ctx, conversationID, floor)
	if err != nil {
		return nil, err
	}
	messages := make([]*Message, len(rows))
	for i, row := range rows {
		messages[i] = messageFromStore(row)
	}
	return messages, nil
}
