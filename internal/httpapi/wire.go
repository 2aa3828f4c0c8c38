package httpapi

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/LOME-AI/hushbox"
	"github.com/LOME-AI/hushbox/internal/keycrypt"
)

// Wire payloads carry binary fields as base64url strings.

type wrapPayload struct {
	MemberPublicKey string `json:"memberPublicKey"`
	Wrap            string `json:"wrap"`
}

type rotationPayload struct {
	ExpectedEpoch    int64         `json:"expectedEpoch"`
	EpochPublicKey   string        `json:"epochPublicKey"`
	ConfirmationHash string        `json:"confirmationHash"`
	ChainLink        string        `json:"chainLink"`
	EncryptedTitle   string        `json:"encryptedTitle"`
	Wraps            []wrapPayload `json:"wraps"`
}

type createConversationPayload struct {
	OwnerPublicKey   string `json:"ownerPublicKey"`
	OwnerWrap        string `json:"ownerWrap"`
	EncryptedTitle   string `json:"encryptedTitle"`
	EpochPublicKey   string `json:"epochPublicKey"`
	ConfirmationHash string `json:"confirmationHash"`
}

type addMemberPayload struct {
	UserID           uuid.UUID        `json:"userId"`
	PublicKey        string           `json:"publicKey"`
	Privilege        string           `json:"privilege"`
	VisibleFromEpoch int64            `json:"visibleFromEpoch"`
	Wrap             string           `json:"wrap"`
	Rotation         *rotationPayload `json:"rotation"`
}

type createLinkPayload struct {
	PublicKey        string           `json:"publicKey"`
	Privilege        string           `json:"privilege"`
	VisibleFromEpoch int64            `json:"visibleFromEpoch"`
	Wrap             string           `json:"wrap"`
	Rotation         *rotationPayload `json:"rotation"`
}

type rotationBody struct {
	Rotation *rotationPayload `json:"rotation"`
}

type sendMessagePayload struct {
	EncryptedBlob string `json:"encryptedBlob"`
}

type conversationResponse struct {
	ID               uuid.UUID `json:"id"`
	OwnerUserID      uuid.UUID `json:"ownerUserId"`
	CurrentEpoch     int64     `json:"currentEpoch"`
	EncryptedTitle   string    `json:"encryptedTitle"`
	TitleEpochNumber int64     `json:"titleEpochNumber"`
}

type epochResponse struct {
	NewEpochNumber int64 `json:"newEpochNumber"`
}

type chainLinkResponse struct {
	EpochNumber int64  `json:"epochNumber"`
	Link        string `json:"link"`
}

type epochWrapResponse struct {
	EpochNumber int64  `json:"epochNumber"`
	Wrap        string `json:"wrap"`
}

type keyChainResponse struct {
	ConversationID   uuid.UUID           `json:"conversationId"`
	CurrentEpoch     int64               `json:"currentEpoch"`
	VisibleFromEpoch int64               `json:"visibleFromEpoch"`
	Wraps            []epochWrapResponse `json:"wraps"`
	ChainLinks       []chainLinkResponse `json:"chainLinks"`
}

type linkResponse struct {
	ID             uuid.UUID `json:"id"`
	PublicKey      string    `json:"publicKey"`
	Privilege      string    `json:"privilege"`
	NewEpochNumber int64     `json:"newEpochNumber,omitempty"`
}

type messageResponse struct {
	ID             uuid.UUID `json:"id"`
	SenderType     string    `json:"senderType"`
	SenderID       uuid.UUID `json:"senderId"`
	EncryptedBlob  string    `json:"encryptedBlob"`
	EpochNumber    int64     `json:"epochNumber"`
	SequenceNumber int64     `json:"sequenceNumber"`
}

type memberResponse struct {
	ID               uuid.UUID `json:"id"`
	Kind             string    `json:"kind"`
	RefID            uuid.UUID `json:"refId"`
	PublicKey        string    `json:"publicKey"`
	Privilege        string    `json:"privilege"`
	Status           string    `json:"status"`
	VisibleFromEpoch int64     `json:"visibleFromEpoch"`
}

func decodeB64(field, value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	raw, err := keycrypt.FromBase64URL(value)
	if err != nil {
		return nil, fmt.Errorf("field %s is not valid base64url", field)
	}
	return raw, nil
}

func (p *rotationPayload) toRequest() (hushbox.RotationRequest, error) {
	var req hushbox.RotationRequest
	var err error
	req.ExpectedEpoch = p.ExpectedEpoch
	if req.EpochPublicKey, err = decodeB64("epochPublicKey", p.EpochPublicKey); err != nil {
		return req, err
	}
	if req.ConfirmationHash, err = decodeB64("confirmationHash", p.ConfirmationHash); err != nil {
		return req, err
	}
	if req.ChainLink, err = decodeB64("chainLink", p.ChainLink); err != nil {
		return req, err
	}
	if req.EncryptedTitle, err = decodeB64("encryptedTitle", p.EncryptedTitle); err != nil {
		return req, err
	}
	req.Wraps = make([]hushbox.MemberWrap, len(p.Wraps))
	for i, w := range p.Wraps {
		if req.Wraps[i].MemberPublicKey, err = decodeB64("wraps.memberPublicKey", w.MemberPublicKey); err != nil {
			return req, err
		}
		if req.Wraps[i].Wrap, err = decodeB64("wraps.wrap", w.Wrap); err != nil {
			return req, err
		}
	}
	return req, nil
}

func conversationToWire(c *hushbox.Conversation) conversationResponse {
	return conversationResponse{
		ID:               c.ID,
		OwnerUserID:      c.OwnerUserID,
		CurrentEpoch:     c.CurrentEpoch,
		EncryptedTitle:   keycrypt.ToBase64URL(c.EncryptedTitle),
		TitleEpochNumber: c.TitleEpochNumber,
	}
}

func keyChainToWire(k *hushbox.KeyChain) keyChainResponse {
	resp := keyChainResponse{
		ConversationID:   k.ConversationID,
		CurrentEpoch:     k.CurrentEpoch,
		VisibleFromEpoch: k.VisibleFromEpoch,
		Wraps:            make([]epochWrapResponse, len(k.Wraps)),
		ChainLinks:       make([]chainLinkResponse, len(k.ChainLinks)),
	}
	for i, w := range k.Wraps {
		resp.Wraps[i] = epochWrapResponse{EpochNumber: w.EpochNumber, Wrap: keycrypt.ToBase64URL(w.Wrap)}
	}
	for i, l := range k.ChainLinks {
		resp.ChainLinks[i] = chainLinkResponse{EpochNumber: l.EpochNumber, Link: keycrypt.ToBase64URL(l.Link)}
	}
	return resp
}

func messageToWire(m *hushbox.Message) messageResponse {
	return messageResponse{
		ID:             m.ID,
		SenderType:     string(m.SenderType),
		SenderID:       m.SenderID,
		EncryptedBlob:  keycrypt.ToBase64URL(m.EncryptedBlob),
		EpochNumber:    m.EpochNumber,
		SequenceNumber: m.SequenceNumber,
	}
}

func memberToWire(m *hushbox.Member) memberResponse {
	return memberResponse{
		ID:               m.ID,
		Kind:             string(m.Ref.Kind),
		RefID:            m.Ref.ID,
		PublicKey:        keycrypt.ToBase64URL(m.PublicKey),
		Privilege:        string(m.Privilege),
		Status:           string(m.Status),
		VisibleFromEpoch: m.VisibleFromEpoch,
	}
}
