package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/sahayak/pkg/auth"
	"github.com/kadirpekel/sahayak/pkg/orchestrator"
	"github.com/kadirpekel/sahayak/pkg/session"
	"github.com/kadirpekel/sahayak/pkg/synthesizer"
)

const maxBodyBytes = 1 << 20

type messageRequest struct {
	Message string            `json:"message"`
	Profile map[string]string `json:"profile,omitempty"`
}

type messageResponse struct {
	SessionID string   `json:"session_id"`
	Answer    string   `json:"answer"`
	Truncated bool     `json:"truncated"`
	Warning   string   `json:"warning,omitempty"`
	Rounds    int      `json:"rounds"`
	Tools     []string `json:"tools"`
}

type sessionResponse struct {
	ID        string            `json:"id"`
	TurnCount int               `json:"turn_count"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Messages  []session.Message `json:"messages"`
}

func newSessionResponse(st *session.State) sessionResponse {
	msgs := st.Messages()
	if msgs == nil {
		msgs = []session.Message{}
	}
	return sessionResponse{
		ID:        st.ID,
		TurnCount: st.TurnCount,
		CreatedAt: st.CreatedAt,
		UpdatedAt: st.UpdatedAt,
		Messages:  msgs,
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.CreateSession(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	slog.Info("Session created", "session", st.ID, "subject", subject(r))
	writeJSON(w, http.StatusCreated, newSessionResponse(st))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(st))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.EndSession(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	slog.Info("Session ended", "session", id, "subject", subject(r))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	profile := claimProfile(req.Profile, auth.ClaimsFromContext(r.Context()), s.cfg.Auth.ProfileClaims)
	ans, err := s.svc.Ask(r.Context(), chi.URLParam(r, "id"), req.Message, profile)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	tools := ans.Decision.Tools
	if ans.Decision.None || tools == nil {
		tools = []string{}
	}
	writeJSON(w, http.StatusOK, messageResponse{
		SessionID: ans.SessionID,
		Answer:    ans.Content,
		Truncated: ans.Truncated,
		Warning:   ans.Warning,
		Rounds:    ans.Rounds,
		Tools:     tools,
	})
}

// claimProfile fills profile entries from the named custom claims.
func claimProfile(profile map[string]string, claims *auth.Claims, keys []string) map[string]string {
	if claims == nil || len(keys) == 0 {
		return profile
	}
	merged := make(map[string]string, len(profile)+len(keys))
	for _, k := range keys {
		if v := claims.GetStringClaim(k); v != "" {
			merged[k] = v
		}
	}
	for k, v := range profile {
		merged[k] = v
	}
	return merged
}

// writeServiceError maps engine errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var synthErr *synthesizer.SynthesisError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, orchestrator.ErrEmptyQuery):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &synthErr):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, err.Error())
}

func subject(r *http.Request) string {
	if c := auth.ClaimsFromContext(r.Context()); c != nil {
		return c.Subject
	}
	return ""
}
