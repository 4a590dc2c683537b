package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"battle-session/internal/domain"
	"battle-session/internal/service"

	"github.com/rs/zerolog"
)

// BattleServer exposes the session core over JSON endpoints plus one
// websocket subscription route.
type BattleServer struct {
	pipeline *service.ActionPipeline
	sessions *service.SessionService
	presence *service.PresenceTracker
	logger   zerolog.Logger
}

func NewBattleServer(
	pipeline *service.ActionPipeline,
	sessions *service.SessionService,
	presence *service.PresenceTracker,
	logger zerolog.Logger,
) *BattleServer {
	return &BattleServer{
		pipeline: pipeline,
		sessions: sessions,
		presence: presence,
		logger:   logger,
	}
}

func (s *BattleServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions/{id}/join", s.handleJoin)
	mux.HandleFunc("POST /v1/sessions/{id}/leave", s.handleLeave)
	mux.HandleFunc("POST /v1/sessions/{id}/actions", s.handleSubmit)
	mux.HandleFunc("POST /v1/sessions/{id}/participation", s.handleGrantParticipation)
	mux.HandleFunc("POST /v1/sessions/{id}/pp", s.handleAdjustPP)
	mux.HandleFunc("POST /v1/sessions/{id}/end", s.handleEnd)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGet)
	mux.HandleFunc("GET /v1/sessions/{id}/actions", s.handleActions)
	mux.HandleFunc("GET /v1/sessions/{id}/summary", s.handleSummary)
	mux.HandleFunc("GET /v1/sessions/{id}/presence", s.handlePresence)
	mux.HandleFunc("GET /v1/sessions/{id}/ws", s.handleSubscribe)
}

func (s *BattleServer) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req service.JoinRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess, err := s.sessions.Join(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *BattleServer) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParticipantID string `json:"participant_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.sessions.Leave(r.Context(), r.PathValue("id"), req.ParticipantID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"left": true})
}

type submitResponse struct {
	ActionID  string               `json:"action_id"`
	Duplicate bool                 `json:"duplicate,omitempty"`
	Result    *domain.ActionResult `json:"result,omitempty"`
}

func (s *BattleServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.SessionID = r.PathValue("id")

	act, err := s.pipeline.Submit(r.Context(), req)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, submitResponse{ActionID: act.ID, Result: act.Result})
	case errors.Is(err, domain.ErrDuplicateNonce):
		// Already applied; tell the client which record it was.
		s.writeJSON(w, http.StatusOK, submitResponse{ActionID: act.ID, Duplicate: true, Result: act.Result})
	default:
		s.writeError(w, r, err)
	}
}

func (s *BattleServer) handleGrantParticipation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParticipantID string `json:"participant_id"`
		Amount        int    `json:"amount"`
		RequestorID   string `json:"requestor_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	err := s.sessions.GrantParticipation(r.Context(), r.PathValue("id"), req.ParticipantID, req.Amount, req.RequestorID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"granted": true})
}

func (s *BattleServer) handleAdjustPP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParticipantID string `json:"participant_id"`
		Delta         int    `json:"delta"`
		RequestorID   string `json:"requestor_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	err := s.sessions.AdjustPP(r.Context(), r.PathValue("id"), req.ParticipantID, req.Delta, req.RequestorID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"adjusted": true})
}

func (s *BattleServer) handleEnd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RequestorID string `json:"requestor_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	ended, err := s.sessions.EndSession(r.Context(), r.PathValue("id"), req.RequestorID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ended": ended})
}

func (s *BattleServer) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *BattleServer) handleActions(w http.ResponseWriter, r *http.Request) {
	actions, err := s.pipeline.History(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func (s *BattleServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.sessions.Summary(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

func (s *BattleServer) handlePresence(w http.ResponseWriter, r *http.Request) {
	online, err := s.presence.Online(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"online": online})
}

func (s *BattleServer) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func (s *BattleServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *BattleServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "reason": ve.Reason})
	case errors.Is(err, domain.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, domain.ErrUnauthorized):
		s.writeJSON(w, http.StatusForbidden, map[string]string{"error": "unauthorized"})
	case errors.Is(err, domain.ErrConflict):
		// Transient: the client may resubmit the same nonce safely.
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict, retry"})
	case errors.Is(err, domain.ErrSessionEnded):
		s.writeJSON(w, http.StatusGone, map[string]string{"error": "session ended"})
	default:
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
	}
}
