package httpapi

import (
	"net/http"

	"github.com/LOME-AI/hushbox"
)

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(r)
	if !ok || caller.Kind != hushbox.KindUser {
		s.unauthenticated(w)
		return
	}
	var payload createConversationPayload
	if err := decodeJSON(r, &payload); err != nil {
		s.badRequest(w, "malformed request body")
		return
	}

	params := hushbox.CreateConversationParams{OwnerUserID: caller.ID}
	var err error
	if params.OwnerPublicKey, err = decodeB64("ownerPublicKey", payload.OwnerPublicKey); err != nil {
		s.badRequest(w, err.Error())
		return
	}
	if params.OwnerWrap, err = decodeB64("ownerWrap", payload.OwnerWrap); err != nil {
		s.badRequest(w, err.Error())
		return
	}
	if params.EncryptedTitle, err = decodeB64("encryptedTitle", payload.EncryptedTitle); err != nil {
		s.badRequest(w, err.Error())
		return
	}
	if params.EpochPublicKey, err = decodeB64("epochPublicKey", payload.EpochPublicKey); err != nil {
		s.badRequest(w, err.Error())
		return
	}
	if params.ConfirmationHash, err = decodeB64("confirmationHash", payload.ConfirmationHash); err != nil {
		s.badRequest(w, err.Error())
		return
	}

	conv, err := s.svc.CreateConversation(r.Context(), params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, conversationToWire(conv))
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(r)
	if !ok {
		s.unauthenticated(w)
		return
	}
	convID, err := pathUUID(r, "id")
	if err != nil {
		s.badRequest(w, "invalid conversation id")
		return
	}
	conv, err := s.svc.GetConversation(r.Context(), convID, caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, conversationToWire(conv))
}

func (s *Server) handleSubmitRotation(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(r)
	if !ok {
		s.unauthenticated(w)
		return
	}
	convID, err := pathUUID(r, "id")
	if err != nil {
		s.badRequest(w, "invalid conversation id")
		return
	}
	var payload rotationPayload
	if err := decodeJSON(r, &payload); err != nil {
		s.badRequest(w, "malformed request body")
		return
	}
	req, err := payload.toRequest()
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	newEpoch, err := s.svc.SubmitRotation(r.Context(), convID, caller, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, epochResponse{NewEpochNumber: newEpoch})
}

func (s *Server) handleGetKeyChain(w http.ResponseWriter, r *http.Request) {
	convID, err := pathUUID(r, "id")
	if err != nil {
		s.badRequest(w, "invalid conversation id")
		return
	}
	memberKey, err := decodeB64("member key header", r.Header.Get(headerMemberKey))
	if err != nil || len(memberKey) == 0 {
		s.badRequest(w, "missing or malformed member key header")
		return
	}
	chain, err := s.svc.GetKeyChain(r.Context(), convID, memberKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, keyChainToWire(chain))
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(r)
	if !ok {
		s.unauthenticated(w)
		return
	}
	convID, err := pathUUID(r, "id")
	if err != nil {
		s.badRequest(w, "invalid conversation id")
		return
	}
	members, err := s.svc.ListMembers(r.Context(), convID, caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]memberResponse, len(members))
	for i, m := range members {
		out[i] = memberToWire(m)
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleAddMember serves both invite paths: with a rotation in the body the
// invitee joins without history; without one the invitee gets a direct wrap
// and the grantor-chosen floor.
func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(r)
	if !ok {
		s.unauthenticated(w)
		return
	}
	convID, err := pathUUID(r, "id")
	if err != nil {
		s.badRequest(w, "invalid conversation id")
		return
	}
	var payload addMemberPayload
	if err := decodeJSON(r, &payload); err != nil {
		s.badRequest(w, "malformed request body")
		return
	}

	params := hushbox.AddMemberParams{
		ConversationID:   convID,
		Actor:            caller,
		UserID:           payload.UserID,
		Privilege:        hushbox.Privilege(payload.Privilege),
		VisibleFromEpoch: payload.VisibleFromEpoch,
	}
	if params.PublicKey, err = decodeB64("publicKey", payload.PublicKey); err != nil {
		s.badRequest(w, err.Error())
		return
	}
	if params.Wrap, err = decodeB64("wrap", payload.Wrap); err != nil {
		s.badRequest(w, err.Error())
		return
	}

	if payload.Rotation != nil {
		req, err := payload.Rotation.toRequest()
		if err != nil {
			s.badRequest(w, err.Error())
			return
		}
		newEpoch, err := s.svc.AddMemberRotating(r.Context(), params, req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, epochResponse{NewEpochNumber: newEpoch})
		return
	}

	if err := s.svc.AddMember(r.Context(), params); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, nil)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(r)
	if !ok {
		s.unauthenticated(w)
		return
	}
	convID, err := pathUUID(r, "id")
	if err != nil {
		s.badRequest(w, "invalid conversation id")
		return
	}
	memberID, err := pathUUID(r, "memberId")
	if err != nil {
		s.badRequest(w, "invalid member id")
		return
	}
	var payload rotationBody
	if err := decodeJSON(r, &payload); err != nil || payload.Rotation == nil {
		s.badRequest(w, "removal requires a rotation")
		return
	}
	req, err := payload.Rotation.toRequest()
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	newEpoch, err := s.svc.RemoveMember(r.Context(), hushbox.RemoveMemberParams{
		ConversationID: convID,
		Actor:          caller,
		Target:         hushbox.UserRef(memberID),
	}, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, epochResponse{NewEpochNumber: newEpoch})
}

func (s *Server) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(r)
	if !ok {
		s.unauthenticated(w)
		return
	}
	convID, err := pathUUID(r, "id")
	if err != nil {
		s.badRequest(w, "invalid conversation id")
		return
	}
	if err := s.svc.AcceptInvite(r.Context(), convID, caller); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(r)
	if !ok {
		s.unauthenticated(w)
		return
	}
	convID, err := pathUUID(r, "id")
	if err != nil {
		s.badRequest(w, "invalid conversation id")
		return
	}
	var payload rotationBody
	if err := decodeJSON(r, &payload); err != nil {
		s.badRequest(w, "malformed request body")
		return
	}
	var rotation *hushbox.RotationRequest
	if payload.Rotation != nil {
		req, err := payload.Rotation.toRequest()
		if err != nil {
			s.badRequest(w, err.Error())
			return
		}
		rotation = &req
	}
	newEpoch, err := s.svc.Leave(r.Context(), hushbox.LeaveParams{
		ConversationID: convID,
		Actor:          caller,
	}, rotation)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// The owner leaving deletes the conversation; no new epoch exists.
	if newEpoch == 0 {
		s.writeJSON(w, http.StatusNoContent, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, epochResponse{NewEpochNumber: newEpoch})
}

func (s *Server) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(r)
	if !ok {
		s.unauthenticated(w)
		return
	}
	convID, err := pathUUID(r, "id")
	if err != nil {
		s.badRequest(w, "invalid conversation id")
		return
	}
	var payload createLinkPayload
	if err := decodeJSON(r, &payload); err != nil {
		s.badRequest(w, "malformed request body")
		return
	}

	params := hushbox.CreateLinkParams{
		ConversationID:   convID,
		Actor:            caller,
		Privilege:        hushbox.Privilege(payload.Privilege),
		VisibleFromEpoch: payload.VisibleFromEpoch,
	}
	if params.PublicKey, err = decodeB64("publicKey", payload.PublicKey); err != nil {
		s.badRequest(w, err.Error())
		return
	}
	if params.Wrap, err = decodeB64("wrap", payload.Wrap); err != nil {
		s.badRequest(w, err.Error())
		return
	}

	if payload.Rotation != nil {
		req, err := payload.Rotation.toRequest()
		if err != nil {
			s.badRequest(w, err.Error())
			return
		}
		link, newEpoch, err := s.svc.CreateLinkRotating(r.Context(), params, req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, linkResponse{
			ID:             link.ID,
			PublicKey:      payload.PublicKey,
			Privilege:      string(link.Privilege),
			NewEpochNumber: newEpoch,
		})
		return
	}

	link, err := s.svc.CreateLink(r.Context(), params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, linkResponse{
		ID:        link.ID,
		PublicKey: payload.PublicKey,
		Privilege: string(link.Privilege),
	})
}

func (s *Server) handleRevokeLink(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(r)
	if !ok {
		s.unauthenticated(w)
		return
	}
	convID, err := pathUUID(r, "id")
	if err != nil {
		s.badRequest(w, "invalid conversation id")
		return
	}
	linkID, err := pathUUID(r, "linkId")
	if err != nil {
		s.badRequest(w, "invalid link id")
		return
	}
	var payload rotationBody
	if err := decodeJSON(r, &payload); err != nil || payload.Rotation == nil {
		s.badRequest(w, "revocation requires a rotation")
		return
	}
	req, err := payload.Rotation.toRequest()
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	newEpoch, err := s.svc.RevokeLink(r.Context(), hushbox.RevokeLinkParams{
		ConversationID: convID,
		Actor:          caller,
		LinkID:         linkID,
	}, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, epochResponse{NewEpochNumber: newEpoch})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(r)
	if !ok {
		s.unauthenticated(w)
		return
	}
	convID, err := pathUUID(r, "id")
	if err != nil {
		s.badRequest(w, "invalid conversation id")
		return
	}
	messages, err := s.svc.ListMessages(r.Context(), convID, caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]messageResponse, len(messages))
	for i, m := range messages {
		out[i] = messageToWire(m)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(r)
	if !ok {
		s.unauthenticated(w)
		return
	}
	convID, err := pathUUID(r, "id")
	if err != nil {
		s.badRequest(w, "invalid conversation id")
		return
	}
	var payload sendMessagePayload
	if err := decodeJSON(r, &payload); err != nil {
		s.badRequest(w, "malformed request body")
		return
	}
	blob, err := decodeB64("encryptedBlob", payload.EncryptedBlob)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	msg, err := s.svc.SendMessage(r.Context(), hushbox.SendMessageParams{
		ConversationID: convID,
		Sender:         caller,
		EncryptedBlob:  blob,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, messageToWire(msg))
}
