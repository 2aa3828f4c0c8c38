package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// PG is the Postgres-backed Store.
type PG struct {
	db *bun.DB
}

// NewPG creates a Postgres store over an existing bun handle.
func NewPG(db *bun.DB) *PG {
	return &PG{db: db}
}

// CreateTables creates the schema if it does not exist. Used by the server
// binary on startup and by the integration tests.
func (s *PG) CreateTables(ctx context.Context) error {
	models := []interface{}{
		(*Conversation)(nil),
		(*Epoch)(nil),
		(*EpochMember)(nil),
		(*ConversationMember)(nil),
		(*SharedLink)(nil),
		(*Message)(nil),
	}
	for _, m := range models {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return errors.Wrapf(err, "pg.CreateTables %T", m)
		}
	}
	return nil
}

func (s *PG) CreateConversation(ctx context.Context, seed *ConversationSeed) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(seed.Conversation).Exec(ctx); err != nil {
			return errors.Wrap(err, "pg.CreateConversation.insertConversation")
		}
		if _, err := tx.NewInsert().Model(seed.Epoch).Exec(ctx); err != nil {
			return errors.Wrap(err, "pg.CreateConversation.insertEpoch")
		}
		if _, err := tx.NewInsert().Model(seed.Owner).Exec(ctx); err != nil {
			return errors.Wrap(err, "pg.CreateConversation.insertOwner")
		}
		seed.OwnerWrap.EpochID = seed.Epoch.ID
		if _, err := tx.NewInsert().Model(seed.OwnerWrap).Exec(ctx); err != nil {
			return errors.Wrap(err, "pg.CreateConversation.insertOwnerWrap")
		}
		return nil
	})
}

func (s *PG) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	conv := new(Conversation)
	err := s.db.NewSelect().Model(conv).Where("c.id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, errors.Wrap(err, "pg.GetConversation.Scan")
	}
	return conv, nil
}

func (s *PG) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().Model((*Conversation)(nil)).Where("id = ?", id).Exec(ctx)
		if err != nil {
			return errors.Wrap(err, "pg.DeleteConversation.conversation")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrConversationNotFound
		}

		if _, err := tx.NewDelete().Model((*EpochMember)(nil)).
			Where("epoch_id IN (SELECT id FROM epochs WHERE conversation_id = ?)", id).
			Exec(ctx); err != nil {
			return errors.Wrap(err, "pg.DeleteConversation.epochMembers")
		}
		if _, err := tx.NewDelete().Model((*Epoch)(nil)).Where("conversation_id = ?", id).Exec(ctx); err != nil {
			return errors.Wrap(err, "pg.DeleteConversation.epochs")
		}
		if _, err := tx.NewDelete().Model((*ConversationMember)(nil)).Where("conversation_id = ?", id).Exec(ctx); err != nil {
			return errors.Wrap(err, "pg.DeleteConversation.members")
		}
		if _, err := tx.NewDelete().Model((*SharedLink)(nil)).Where("conversation_id = ?", id).Exec(ctx); err != nil {
			return errors.Wrap(err, "pg.DeleteConversation.links")
		}
		if _, err := tx.NewDelete().Model((*Message)(nil)).Where("conversation_id = ?", id).Exec(ctx); err != nil {
			return errors.Wrap(err, "pg.DeleteConversation.messages")
		}
		return nil
	})
}

func (s *PG) CommitRotation(ctx context.Context, commit *RotationCommit) (int64, error) {
	next := commit.ExpectedEpoch + 1

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// Optimistic-concurrency gate. The conditional update also takes the
		// row lock, so same-conversation rotations serialize here while
		// different conversations never contend.
		res, err := tx.NewUpdate().Model((*Conversation)(nil)).
			Set("current_epoch = ?", next).
			Set("encrypted_title = ?", commit.EncryptedTitle).
			Set("title_epoch_number = ?", next).
			Set("updated_at = ?", commit.Now).
			Where("id = ? AND current_epoch = ?", commit.ConversationID, commit.ExpectedEpoch).
			Exec(ctx)
		if err != nil {
			return errors.Wrap(err, "pg.CommitRotation.casUpdate")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			exists, err := tx.NewSelect().Model((*Conversation)(nil)).
				Where("id = ?", commit.ConversationID).Exists(ctx)
			if err != nil {
				return errors.Wrap(err, "pg.CommitRotation.exists")
			}
			if !exists {
				return ErrConversationNotFound
			}
			return ErrStaleEpoch
		}

		if err := applyRotationMutation(ctx, tx, commit, next); err != nil {
			return err
		}

		var present []*ConversationMember
		err = tx.NewSelect().Model(&present).
			Where("cm.conversation_id = ? AND cm.status != ?", commit.ConversationID, StatusLeft).
			Scan(ctx)
		if err != nil {
			return errors.Wrap(err, "pg.CommitRotation.presentMembers")
		}

		if err := checkWrapSet(present, commit.Wraps); err != nil {
			return err
		}

		floors, err := effectiveFloors(ctx, tx, commit.ConversationID)
		if err != nil {
			return err
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
		if _, err := tx.NewInsert().Model(epoch).Exec(ctx); err != nil {
			return errors.Wrap(err, "pg.CommitRotation.insertEpoch")
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
		if len(wrapRows) > 0 {
			if _, err := tx.NewInsert().Model(&wrapRows).Exec(ctx); err != nil {
				return errors.Wrap(err, "pg.CommitRotation.insertWraps")
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// applyRotationMutation applies the membership mutation carried by a
// rotation inside its transaction, before the wrap set is validated.
func applyRotationMutation(ctx context.Context, tx bun.Tx, commit *RotationCommit, next int64) error {
	if commit.Leave != nil {
		if err := markLeft(ctx, tx, commit.ConversationID, *commit.Leave, commit.Now); err != nil {
			return err
		}
	}
	if commit.RevokeLinkID != nil {
		res, err := tx.NewUpdate().Model((*SharedLink)(nil)).
			Set("revoked_at = ?", commit.Now).
			Where("id = ? AND revoked_at IS NULL", *commit.RevokeLinkID).
			Exec(ctx)
		if err != nil {
			return errors.Wrap(err, "pg.CommitRotation.revokeLink")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrLinkNotFound
		}
	}
	if commit.Link != nil {
		if _, err := tx.NewInsert().Model(commit.Link).Exec(ctx); err != nil {
			return errors.Wrap(err, "pg.CommitRotation.insertLink")
		}
	}
	if commit.Join != nil {
		commit.Join.VisibleFromEpoch = next
		if err := insertMember(ctx, tx, commit.Join); err != nil {
			return err
		}
	}
	return nil
}

func markLeft(ctx context.Context, tx bun.Tx, conversationID uuid.UUID, ref MemberRef, at time.Time) error {
	q := tx.NewUpdate().Model((*ConversationMember)(nil)).
		Set("status = ?", StatusLeft).
		Set("left_at = ?", at).
		Where("conversation_id = ? AND status != ?", conversationID, StatusLeft)
	switch ref.Kind {
	case KindUser:
		q = q.Where("user_id = ?", ref.ID)
	case KindLink:
		q = q.Where("link_id = ?", ref.ID)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "pg.markLeft")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// insertMember rejects a second not-left row for the same identity before
// inserting.
func insertMember(ctx context.Context, tx bun.Tx, member *ConversationMember) error {
	q := tx.NewSelect().Model((*ConversationMember)(nil)).
		Where("conversation_id = ? AND status != ?", member.ConversationID, StatusLeft)
	if member.UserID != nil {
		q = q.Where("user_id = ?", *member.UserID)
	} else {
		q = q.Where("link_id = ?", *member.LinkID)
	}
	exists, err := q.Exists(ctx)
	if err != nil {
		return errors.Wrap(err, "pg.insertMember.exists")
	}
	if exists {
		return ErrAlreadyMember
	}
	if _, err := tx.NewInsert().Model(member).Exec(ctx); err != nil {
		return errors.Wrap(err, "pg.insertMember.insert")
	}
	return nil
}

// checkWrapSet enforces exact set equality, by public key, between the
// submitted wraps and the members that have not left.
func checkWrapSet(present []*ConversationMember, wraps []WrapInput) error {
	need := make(map[string]bool, len(present))
	for _, m := range present {
		need[string(m.PublicKey)] = false
	}
	if len(wraps) != len(need) {
		return ErrMembershipSnapshot
	}
	for _, w := range wraps {
		seen, ok := need[string(w.MemberPublicKey)]
		if !ok || seen {
			return ErrMembershipSnapshot
		}
		need[string(w.MemberPublicKey)] = true
	}
	return nil
}

// effectiveFloors returns, per public key, the maximum VisibleFromEpoch
// across every membership row of the conversation, historical rows included.
func effectiveFloors(ctx context.Context, tx bun.Tx, conversationID uuid.UUID) (map[string]int64, error) {
	var rows []struct {
		PublicKey []byte `bun:"public_key"`
		Floor     int64  `bun:"floor"`
	}
	err := tx.NewSelect().Model((*ConversationMember)(nil)).
		ColumnExpr("cm.public_key AS public_key").
		ColumnExpr("max(cm.visible_from_epoch) AS floor").
		Where("cm.conversation_id = ?", conversationID).
		GroupExpr("cm.public_key").
		Scan(ctx, &rows)
	if err != nil {
		return nil, errors.Wrap(err, "pg.effectiveFloors")
	}
	floors := make(map[string]int64, len(rows))
	for _, r := range rows {
		floors[string(r.PublicKey)] = r.Floor
	}
	return floors, nil
}

func (s *PG) EpochByNumber(ctx context.Context, conversationID uuid.UUID, epochNumber int64) (*Epoch, error) {
	epoch := new(Epoch)
	err := s.db.NewSelect().Model(epoch).
		Where("e.conversation_id = ? AND e.epoch_number = ?", conversationID, epochNumber).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEpochNotFound
		}
		return nil, errors.Wrap(err, "pg.EpochByNumber.Scan")
	}
	return epoch, nil
}

func (s *PG) EpochsInRange(ctx context.Context, conversationID uuid.UUID, first, last int64) ([]*Epoch, error) {
	var epochs []*Epoch
	err := s.db.NewSelect().Model(&epochs).
		Where("e.conversation_id = ? AND e.epoch_number BETWEEN ? AND ?", conversationID, first, last).
		Order("epoch_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "pg.EpochsInRange.Scan")
	}
	return epochs, nil
}

func (s *PG) Epochs(ctx context.Context, conversationID uuid.UUID) ([]*Epoch, error) {
	var epochs []*Epoch
	err := s.db.NewSelect().Model(&epochs).
		Where("e.conversation_id = ?", conversationID).
		Order("epoch_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "pg.Epochs.Scan")
	}
	return epochs, nil
}

func (s *PG) EpochMembers(ctx context.Context, epochID uuid.UUID) ([]*EpochMember, error) {
	var wraps []*EpochMember
	err := s.db.NewSelect().Model(&wraps).
		Where("em.epoch_id = ?", epochID).
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "pg.EpochMembers.Scan")
	}
	return wraps, nil
}

func (s *PG) WrapForMember(ctx context.Context, conversationID uuid.UUID, epochNumber int64, memberPublicKey []byte) (*EpochMember, error) {
	wrap := new(EpochMember)
	err := s.db.NewSelect().Model(wrap).
		Join("JOIN epochs AS e ON e.id = em.epoch_id").
		Where("e.conversation_id = ? AND e.epoch_number = ? AND em.member_public_key = ?",
			conversationID, epochNumber, memberPublicKey).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, errors.Wrap(err, "pg.WrapForMember.Scan")
	}
	return wrap, nil
}

func (s *PG) AddMember(ctx context.Context, member *ConversationMember, wrap *EpochMember, atEpoch int64) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if wrap != nil {
			if err := lockCurrentEpoch(ctx, tx, member.ConversationID, atEpoch); err != nil {
				return err
			}
		}
		if err := insertMember(ctx, tx, member); err != nil {
			return err
		}
		if wrap != nil {
			if _, err := tx.NewInsert().Model(wrap).Exec(ctx); err != nil {
				return errors.Wrap(err, "pg.AddMember.insertWrap")
			}
		}
		return nil
	})
}

func (s *PG) AddLink(ctx context.Context, link *SharedLink, member *ConversationMember, wrap *EpochMember, atEpoch int64) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if wrap != nil {
			if err := lockCurrentEpoch(ctx, tx, link.ConversationID, atEpoch); err != nil {
				return err
			}
		}
		if _, err := tx.NewInsert().Model(link).Exec(ctx); err != nil {
			return errors.Wrap(err, "pg.AddLink.insertLink")
		}
		if err := insertMember(ctx, tx, member); err != nil {
			return err
		}
		if wrap != nil {
			if _, err := tx.NewInsert().Model(wrap).Exec(ctx); err != nil {
				return errors.Wrap(err, "pg.AddLink.insertWrap")
			}
		}
		return nil
	})
}

// lockCurrentEpoch takes the conversation row lock and fails with
// ErrStaleEpoch unless the current epoch still equals atEpoch. Rotation
// commits take the same lock through their conditional update, so a wrap
// inserted after this check cannot target a superseded epoch.
func lockCurrentEpoch(ctx context.Context, tx bun.Tx, conversationID uuid.UUID, atEpoch int64) error {
	var current int64
	err := tx.NewSelect().Model((*Conversation)(nil)).
		Column("current_epoch").
		Where("c.id = ?", conversationID).
		For("UPDATE").
		Scan(ctx, &current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrConversationNotFound
		}
		return errors.Wrap(err, "pg.lockCurrentEpoch.Scan")
	}
	if current != atEpoch {
		return ErrStaleEpoch
	}
	return nil
}

func (s *PG) AcceptInvite(ctx context.Context, conversationID uuid.UUID, ref MemberRef, at time.Time) error {
	q := s.db.NewUpdate().Model((*ConversationMember)(nil)).
		Set("status = ?", StatusActive).
		Set("accepted_at = ?", at).
		Where("conversation_id = ? AND status = ?", conversationID, StatusInvited)
	switch ref.Kind {
	case KindUser:
		q = q.Where("user_id = ?", ref.ID)
	case KindLink:
		q = q.Where("link_id = ?", ref.ID)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "pg.AcceptInvite")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMemberNotFound
	}
	return nil
}

func (s *PG) PresentMember(ctx context.Context, conversationID uuid.UUID, ref MemberRef) (*ConversationMember, error) {
	member := new(ConversationMember)
	q := s.db.NewSelect().Model(member).
		Where("cm.conversation_id = ? AND cm.status != ?", conversationID, StatusLeft)
	switch ref.Kind {
	case KindUser:
		q = q.Where("cm.user_id = ?", ref.ID)
	case KindLink:
		q = q.Where("cm.link_id = ?", ref.ID)
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, errors.Wrap(err, "pg.PresentMember.Scan")
	}
	return member, nil
}

func (s *PG) PresentMemberByPublicKey(ctx context.Context, conversationID uuid.UUID, publicKey []byte) (*ConversationMember, error) {
	member := new(ConversationMember)
	err := s.db.NewSelect().Model(member).
		Where("cm.conversation_id = ? AND cm.status != ? AND cm.public_key = ?",
			conversationID, StatusLeft, publicKey).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, errors.Wrap(err, "pg.PresentMemberByPublicKey.Scan")
	}
	return member, nil
}

func (s *PG) PresentMembers(ctx context.Context, conversationID uuid.UUID) ([]*ConversationMember, error) {
	var members []*ConversationMember
	err := s.db.NewSelect().Model(&members).
		Where("cm.conversation_id = ? AND cm.status != ?", conversationID, StatusLeft).
		Order("joined_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "pg.PresentMembers.Scan")
	}
	return members, nil
}

func (s *PG) EffectiveFloor(ctx context.Context, conversationID uuid.UUID, publicKey []byte) (int64, error) {
	var floor sql.NullInt64
	err := s.db.NewSelect().Model((*ConversationMember)(nil)).
		ColumnExpr("max(cm.visible_from_epoch)").
		Where("cm.conversation_id = ? AND cm.public_key = ?", conversationID, publicKey).
		Scan(ctx, &floor)
	if err != nil {
		return 0, errors.Wrap(err, "pg.EffectiveFloor.Scan")
	}
	if !floor.Valid {
		return 0, ErrMemberNotFound
	}
	return floor.Int64, nil
}

func (s *PG) GetLink(ctx context.Context, linkID uuid.UUID) (*SharedLink, error) {
	link := new(SharedLink)
	err := s.db.NewSelect().Model(link).Where("sl.id = ?", linkID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, errors.Wrap(err, "pg.GetLink.Scan")
	}
	return link, nil
}

func (s *PG) AppendMessage(ctx context.Context, msg *Message) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var stamped struct {
			NextSequence int64 `bun:"next_sequence"`
			CurrentEpoch int64 `bun:"current_epoch"`
		}
		_, err := tx.NewUpdate().Model((*Conversation)(nil)).
			Set("next_sequence = next_sequence + 1").
			Where("id = ?", msg.ConversationID).
			Returning("next_sequence, current_epoch").
			Exec(ctx, &stamped)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrConversationNotFound
			}
			return errors.Wrap(err, "pg.AppendMessage.sequence")
		}

		msg.SequenceNumber = stamped.NextSequence
		msg.EpochNumber = stamped.CurrentEpoch
		if _, err := tx.NewInsert().Model(msg).Exec(ctx); err != nil {
			return errors.Wrap(err, "pg.AppendMessage.insert")
		}
		return nil
	})
}

func (s *PG) MessagesFrom(ctx context.Context, conversationID uuid.UUID, floor int64) ([]*Message, error) {
	var messages []*Message
	q := s.db.NewSelect().Model(&messages).
		Where("m.conversation_id = ?", conversationID)
	if floor > 0 {
		q = q.Where("m.epoch_number >= ?", floor)
	}
	err := q.Order("sequence_number ASC").Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "pg.MessagesFrom.Scan")
	}
	return messages, nil
}

var _ Store = (*PG)(nil)
