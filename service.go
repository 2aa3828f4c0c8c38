package hushbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/LOME-AI/hushbox/internal/store"
)

// Service is the rotation engine. It owns all epoch, membership, and
// visibility semantics; clients hold the keys and the service never sees a
// plaintext or a secret key.
type Service struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Service. Without options it uses an in-memory store and the
// default slog logger.
func New(opts ...Option) *Service {
	cfg := &serviceConfig{
		store:  store.NewMem(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Service{
		store:  cfg.store,
		logger: cfg.logger,
		now:    cfg.now,
	}
}

// presentMember resolves the caller's membership row, not-left rows only.
func (s *Service) presentMember(ctx context.Context, conversationID uuid.UUID, ref MemberRef) (*store.ConversationMember, error) {
	return s.store.PresentMember(ctx, conversationID, ref.toStore())
}

// activeMember resolves the caller's membership row and requires the active
// status. Invited members hold a wrap but cannot act until they accept.
func (s *Service) activeMember(ctx context.Context, conversationID uuid.UUID, ref MemberRef) (*store.ConversationMember, error) {
	member, err := s.presentMember(ctx, conversationID, ref)
	if err != nil {
		return nil, err
	}
	if member.Status != store.StatusActive {
		return nil, ErrNotAuthorized
	}
	return member, nil
}
