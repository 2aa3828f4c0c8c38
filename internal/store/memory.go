package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mem is an in-memory Store with the same semantics as the Postgres store.
// It backs the unit tests and the WithMemoryStore service option. Each
// conversation has its own mutex, so rotations on different conversations
// never contend.
type Mem struct {
	mu    sync.RWMutex
	convs map[uuid.UUID]*memConversation
}

type memConversation struct {
	mu       sync.Mutex
	conv     Conversation
	epochs   []*Epoch
	wraps    map[uuid.UUID][]*EpochMember
	members  []*ConversationMember
	links    []*SharedLink
	messages []*Message
}

// NewMem creates an empty in-memory store.
func NewMem() *Mem {
	return &Mem{convs: make(map[uuid.UUID]*memConversation)}
}

func (s *Mem) conversation(id uuid.UUID) (*memConversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mc, ok := s.convs[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return mc, nil
}

func (s *Mem) CreateConversation(_ context.Context, seed *ConversationSeed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	epoch := *seed.Epoch
	owner := *seed.Owner
	wrap := *seed.OwnerWrap
	wrap.EpochID = epoch.ID

	mc := &memConversation{
		conv:    *seed.Conversation,
		epochs:  []*Epoch{&epoch},
		wraps:   map[uuid.UUID][]*EpochMember{epoch.ID: {&wrap}},
		members: []*ConversationMember{&owner},
	}
	s.convs[seed.Conversation.ID] = mc
	return nil
}

func (s *Mem) GetConversation(_ context.Context, id uuid.UUID) (*Conversation, error) {
	mc, err := s.conversation(id)
	if err != nil {
		return nil, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	conv := mc.conv
	return &conv, nil
}

func (s *Mem) DeleteConversation(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		return ErrConversationNotFound
	}
	delete(s.convs, id)
	return nil
}

func (s *Mem) CommitRotation(_ context.Context, commit *RotationCommit) (int64, error) {
	mc, err := s.conversation(commit.ConversationID)
	if err != nil {
		return 0, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()

	// Compare-and-swap on the epoch counter. First writer wins; everyone
	// else observes a stale expected epoch.
	if mc.conv.CurrentEpoch != commit.ExpectedEpoch {
		return 0, ErrStaleEpoch
	}
	next := commit.ExpectedEpoch + 1

	// Stage the membership mutation so a failed wrap-set check leaves the
	// conversation untouched.
	staged := make([]*ConversationMember, len(mc.members))
	for i, m := range mc.members {
		cp := *m
		staged[i] = &cp
	}
	stagedLinks := make([]*SharedLink, len(mc.links))
	for i, l := range mc.links {
		cp := *l
		stagedLinks[i] = &cp
	}

	if commit.Leave != nil {
		if err := memMarkLeft(staged, *commit.Leave, commit.Now); err != nil {
			return 0, err
		}
	}
	if commit.RevokeLinkID != nil {
		revoked := false
		for _, l := range stagedLinks {
			if l.ID == *commit.RevokeLinkID && l.RevokedAt == nil {
				at := commit.Now
				l.RevokedAt = &at
				revoked = true
			}
		}
		if !revoked {
			return 0, ErrLinkNotFound
		}
	}
	if commit.Link != nil {
		link := *commit.Link
		stagedLinks = append(stagedLinks, &link)
	}
	if commit.Join != nil {
		for _, m := range staged {
			if m.Status != StatusLeft && m.Matches(commit.Join.Ref()) {
				return 0, ErrAlreadyMember
			}
		}
		join := *commit.Join
		join.VisibleFromEpoch = next
		staged = append(staged, &join)
	}

	var present []*ConversationMember
	for _, m := range staged {
		if m.Status != StatusLeft {
			present = append(present, m)
		}
	}
	if err := checkWrapSet(present, commit.Wraps); err != nil {
		return 0, err
	}

	floors := make(map[string]int64, len(staged))
	for _, m := range staged {
		key := string(m.PublicKey)
		if m.VisibleFromEpoch > floors[key] {
			floors[key] = m.VisibleFromEpoch
		}
	}

	epoch := &Epoch{
		ID:               uuid.New(),
		ConversationID:   commit.ConversationID,
		EpochNumber:      next,
		PublicKey:        commit.EpochPublicKey,
		ConfirmationHash: commit.ConfirmationHash,
		ChainLink:        commit.ChainLink,
		CreatedAt:        commit.Now,
	}
	wrapRows := make([]*EpochMember, 0, len(commit.Wraps))
	for _, w := range commit.Wraps {
		wrapRows = append(wrapRows, &EpochMember{
			EpochID:          epoch.ID,
			MemberPublicKey:  w.MemberPublicKey,
			Wrap:             w.Wrap,
			VisibleFromEpoch: floors[string(w.MemberPublicKey)],
		})
	}

	mc.members = staged
	mc.links = stagedLinks
	mc.epochs = append(mc.epochs, epoch)
	mc.wraps[epoch.ID] = wrapRows
	mc.conv.CurrentEpoch = next
	mc.conv.EncryptedTitle = commit.EncryptedTitle
	mc.conv.TitleEpochNumber = next
	mc.conv.UpdatedAt = commit.Now
	return next, nil
}

func memMarkLeft(members []*ConversationMember, ref MemberRef, at time.Time) error {
	found := false
	for _, m := range members {
		if m.Status != StatusLeft && m.Matches(ref) {
			left := at
			m.Status = StatusLeft
			m.LeftAt = &left
			found = true
		}
	}
	if !found {
		return ErrMemberNotFound
	}
	return nil
}

func (s *Mem) EpochByNumber(_ context.Context, conversationID uuid.UUID, epochNumber int64) (*Epoch, error) {
	mc, err := s.conversation(conversationID)
	if err != nil {
		return nil, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, e := range mc.epochs {
		if e.EpochNumber == epochNumber {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrEpochNotFound
}

func (s *Mem) EpochsInRange(_ context.Context, conversationID uuid.UUID, first, last int64) ([]*Epoch, error) {
	mc, err := s.conversation(conversationID)
	if err != nil {
		return nil, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	var out []*Epoch
	for _, e := range mc.epochs {
		if e.EpochNumber >= first && e.EpochNumber <= last {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Mem) Epochs(_ context.Context, conversationID uuid.UUID) ([]*Epoch, error) {
	mc, err := s.conversation(conversationID)
	if err != nil {
		return nil, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	out := make([]*Epoch, len(mc.epochs))
	for i, e := range mc.epochs {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func (s *Mem) EpochMembers(_ context.Context, epochID uuid.UUID) ([]*EpochMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, mc := range s.convs {
		mc.mu.Lock()
		rows, ok := mc.wraps[epochID]
		if ok {
			out := make([]*EpochMember, len(rows))
			for i, w := range rows {
				cp := *w
				out[i] = &cp
			}
			mc.mu.Unlock()
			return out, nil
		}
		mc.mu.Unlock()
	}
	return nil, ErrEpochNotFound
}

func (s *Mem) WrapForMember(_ context.Context, conversationID uuid.UUID, epochNumber int64, memberPublicKey []byte) (*EpochMember, error) {
	mc, err := s.conversation(conversationID)
	if err != nil {
		return nil, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, e := range mc.epochs {
		if e.EpochNumber != epochNumber {
			continue
		}
		for _, w := range mc.wraps[e.ID] {
			if string(w.MemberPublicKey) == string(memberPublicKey) {
				cp := *w
				return &cp, nil
			}
		}
	}
	return nil, ErrMemberNotFound
}

func (s *Mem) AddMember(_ context.Context, member *ConversationMember, wrap *EpochMember, atEpoch int64) error {
	mc, err := s.conversation(member.ConversationID)
	if err != nil {
		return err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if wrap != nil && mc.conv.CurrentEpoch != atEpoch {
		return ErrStaleEpoch
	}
	return mc.addMemberLocked(member, wrap)
}

func (mc *memConversation) addMemberLocked(member *ConversationMember, wrap *EpochMember) error {
	for _, m := range mc.members {
		if m.Status != StatusLeft && m.Matches(member.Ref()) {
			return ErrAlreadyMember
		}
	}
	cp := *member
	mc.members = append(mc.members, &cp)
	if wrap != nil {
		wcp := *wrap
		mc.wraps[wrap.EpochID] = append(mc.wraps[wrap.EpochID], &wcp)
	}
	return nil
}

func (s *Mem) AddLink(_ context.Context, link *SharedLink, member *ConversationMember, wrap *EpochMember, atEpoch int64) error {
	mc, err := s.conversation(link.ConversationID)
	if err != nil {
		return err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if wrap != nil && mc.conv.CurrentEpoch != atEpoch {
		return ErrStaleEpoch
	}
	cp := *link
	mc.links = append(mc.links, &cp)
	return mc.addMemberLocked(member, wrap)
}

func (s *Mem) AcceptInvite(_ context.Context, conversationID uuid.UUID, ref MemberRef, at time.Time) error {
	mc, err := s.conversation(conversationID)
	if err != nil {
		return err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, m := range mc.members {
		if m.Status == StatusInvited && m.Matches(ref) {
			accepted := at
			m.Status = StatusActive
			m.AcceptedAt = &accepted
			return nil
		}
	}
	return ErrMemberNotFound
}

func (s *Mem) PresentMember(_ context.Context, conversationID uuid.UUID, ref MemberRef) (*ConversationMember, error) {
	mc, err := s.conversation(conversationID)
	if err != nil {
		return nil, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, m := range mc.members {
		if m.Status != StatusLeft && m.Matches(ref) {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrMemberNotFound
}

func (s *Mem) PresentMemberByPublicKey(_ context.Context, conversationID uuid.UUID, publicKey []byte) (*ConversationMember, error) {
	mc, err := s.conversation(conversationID)
	if err != nil {
		return nil, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, m := range mc.members {
		if m.Status != StatusLeft && string(m.PublicKey) == string(publicKey) {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrMemberNotFound
}

func (s *Mem) PresentMembers(_ context.Context, conversationID uuid.UUID) ([]*ConversationMember, error) {
	mc, err := s.conversation(conversationID)
	if err != nil {
		return nil, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	var out []*ConversationMember
	for _, m := range mc.members {
		if m.Status != StatusLeft {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Mem) EffectiveFloor(_ context.Context, conversationID uuid.UUID, publicKey []byte) (int64, error) {
	mc, err := s.conversation(conversationID)
	if err != nil {
		return 0, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	var floor int64
	found := false
	for _, m := range mc.members {
		if string(m.PublicKey) != string(publicKey) {
			continue
		}
		found = true
		if m.VisibleFromEpoch > floor {
			floor = m.VisibleFromEpoch
		}
	}
	if !found {
		return 0, ErrMemberNotFound
	}
	return floor, nil
}

func (s *Mem) GetLink(_ context.Context, linkID uuid.UUID) (*SharedLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, mc := range s.convs {
		mc.mu.Lock()
		for _, l := range mc.links {
			if l.ID == linkID {
				cp := *l
				mc.mu.Unlock()
				return &cp, nil
			}
		}
		mc.mu.Unlock()
	}
	return nil, ErrLinkNotFound
}

func (s *Mem) AppendMessage(_ context.Context, msg *Message) error {
	mc, err := s.conversation(msg.ConversationID)
	if err != nil {
		return err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.conv.NextSequence++
	msg.SequenceNumber = mc.conv.NextSequence
	msg.EpochNumber = mc.conv.CurrentEpoch
	cp := *msg
	mc.messages = append(mc.messages, &cp)
	return nil
}

func (s *Mem) MessagesFrom(_ context.Context, conversationID uuid.UUID, floor int64) ([]*Message, error) {
	mc, err := s.conversation(conversationID)
	if err != nil {
		return nil, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	var out []*Message
	for _, m := range mc.messages {
		if floor > 0 && m.EpochNumber < floor {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

var _ Store = (*Mem)(nil)
