// Package httpapi exposes the rotation engine over HTTP. Authentication is
// an external concern: the fronting session layer resolves the caller and
// passes the identity in X-HushBox-* headers, which this package trusts.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/LOME-AI/hushbox"
)

const (
	headerUserID    = "X-HushBox-User-Id"
	headerLinkID    = "X-HushBox-Link-Id"
	headerMemberKey = "X-HushBox-Member-Key"
)

// Server serves the engine's HTTP surface.
type Server struct {
	svc    *hushbox.Service
	logger *slog.Logger
}

func New(svc *hushbox.Service, logger *slog.Logger) *Server {
	return &Server{svc: svc, logger: logger}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("POST /conversations/{id}/rotations", s.handleSubmitRotation)
	mux.HandleFunc("GET /conversations/{id}/keychain", s.handleGetKeyChain)
	mux.HandleFunc("GET /conversations/{id}/members", s.handleListMembers)
	mux.HandleFunc("POST /conversations/{id}/members", s.handleAddMember)
	mux.HandleFunc("DELETE /conversations/{id}/members/{memberId}", s.handleRemoveMember)
	mux.HandleFunc("POST /conversations/{id}/accept", s.handleAcceptInvite)
	mux.HandleFunc("POST /conversations/{id}/leave", s.handleLeave)
	mux.HandleFunc("POST /conversations/{id}/links", s.handleCreateLink)
	mux.HandleFunc("DELETE /conversations/{id}/links/{linkId}", s.handleRevokeLink)
	mux.HandleFunc("GET /conversations/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /conversations/{id}/messages", s.handleSendMessage)
	return mux
}

// identity resolves the caller from the trusted identity headers.
func identity(r *http.Request) (hushbox.MemberRef, bool) {
	if raw := r.Header.Get(headerUserID); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return hushbox.MemberRef{}, false
		}
		return hushbox.UserRef(id), true
	}
	if raw := r.Header.Get(headerLinkID); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return hushbox.MemberRef{}, false
		}
		return hushbox.LinkRef(id), true
	}
	return hushbox.MemberRef{}, false
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue(name))
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			s.logger.Error("encode response", "err", err)
		}
	}
}

type errorResponse struct {
	Error         string `json:"error"`
	ExpectedEpoch int64  `json:"expectedEpoch,omitempty"`
	CurrentEpoch  int64  `json:"currentEpoch,omitempty"`
}

// writeError maps engine errors to HTTP statuses: stale epoch is a conflict,
// unknown or inaccessible resources are 404, privilege failures 403, and
// malformed or inconsistent requests 400.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var staleErr *hushbox.StaleEpochError
	if errors.As(err, &staleErr) {
		s.writeJSON(w, http.StatusConflict, errorResponse{
			Error:         "stale epoch",
			ExpectedEpoch: staleErr.Expected,
			CurrentEpoch:  staleErr.Current,
		})
		return
	}

	var status int
	switch {
	case errors.Is(err, hushbox.ErrStaleEpoch):
		status = http.StatusConflict
	case errors.Is(err, hushbox.ErrConversationNotFound),
		errors.Is(err, hushbox.ErrEpochNotFound),
		errors.Is(err, hushbox.ErrMemberNotFound),
		errors.Is(err, hushbox.ErrLinkNotFound),
		errors.Is(err, hushbox.ErrNotInvited):
		status = http.StatusNotFound
	case errors.Is(err, hushbox.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, hushbox.ErrInvalidKeyMaterial),
		errors.Is(err, hushbox.ErrInvalidHistoryFloor),
		errors.Is(err, hushbox.ErrAlreadyMember),
		errors.Is(err, hushbox.ErrMembershipSnapshot),
		errors.Is(err, hushbox.ErrOwnerImmutable),
		errors.Is(err, hushbox.ErrRotationNotAllowed):
		status = http.StatusBadRequest
	default:
		s.logger.Error("request failed",
			"method", r.Method, "path", r.URL.Path, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func (s *Server) unauthenticated(w http.ResponseWriter) {
	s.writeJSON(w, http.StatusForbidden, errorResponse{Error: "missing identity"})
}
