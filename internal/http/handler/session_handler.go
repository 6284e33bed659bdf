package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/secure-session-store/internal/domain"
	"github.com/sandeepkv93/secure-session-store/internal/http/response"
	"github.com/sandeepkv93/secure-session-store/internal/observability"
	"github.com/sandeepkv93/secure-session-store/internal/security"
)

type SessionStore interface {
	Create(ctx context.Context, data map[string]any) (*domain.Session, error)
	Get(ctx context.Context, id string) (*domain.Session, error)
	Delete(ctx context.Context, id string) error
	Save(ctx context.Context, s *domain.Session) error
	Login(ctx context.Context, s *domain.Session, displayName, password string) (*domain.Identity, error)
	Logout(ctx context.Context, s *domain.Session) error
	Lookup(ctx context.Context, id string) (string, bool, error)
	Policy() domain.TTLPolicy
}

type SessionHandler struct {
	sessions SessionStore
	jwt      *security.JWTManager
	tokenTTL time.Duration
}

func NewSessionHandler(sessions SessionStore, jwt *security.JWTManager, tokenTTL time.Duration) *SessionHandler {
	return &SessionHandler{sessions: sessions, jwt: jwt, tokenTTL: tokenTTL}
}

type sessionDataRequest struct {
	Data map[string]any `json:"data"`
}

type loginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type sessionView struct {
	ID           string         `json:"id"`
	IdentityRef  *string        `json:"identity_ref,omitempty"`
	SessionData  map[string]any `json:"session_data"`
	IdentityData map[string]any `json:"identity_data"`
	CreatedAt    int64          `json:"created_at"`
	LastAccessAt int64          `json:"last_access_at"`
	LastUpdateAt int64          `json:"last_update_at"`
	ExpiresAt    *int64         `json:"expires_at,omitempty"`
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req sessionDataRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid payload", nil)
		return
	}
	sess, err := h.sessions.Create(r.Context(), req.Data)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	observability.Audit(r, "session.create", "session_id", sess.ID)
	response.JSON(w, r, http.StatusCreated, h.view(sess))
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, h.view(sess))
}

func (h *SessionHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req sessionDataRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid payload", nil)
		return
	}
	sess, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	if req.Data == nil {
		req.Data = map[string]any{}
	}
	sess.SessionData = req.Data
	if err := h.sessions.Save(r.Context(), sess); err != nil {
		writeSessionError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, h.view(sess))
}

func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sessions.Delete(r.Context(), id); err != nil {
		writeSessionError(w, r, err)
		return
	}
	observability.Audit(r, "session.delete", "session_id", id)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.Password == "" {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "name and password are required", nil)
		return
	}
	sess, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	identity, err := h.sessions.Login(r.Context(), sess, req.Name, req.Password)
	if err != nil {
		if errors.Is(err, security.ErrInvalidCredentials) {
			observability.Audit(r, "session.identity.bind_failed", "session_id", sess.ID)
			response.Error(w, r, http.StatusUnauthorized, response.CodeInvalidCredentials, "invalid credentials", nil)
			return
		}
		writeSessionError(w, r, err)
		return
	}
	token, err := h.jwt.SignIdentityToken(identity.ID, identity.DisplayName, sess.ID, h.tokenTTL)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "failed to issue token", nil)
		return
	}
	observability.Audit(r, "session.identity.bind", "session_id", sess.ID, "identity_id", identity.ID)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"session":      h.view(sess),
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int64(h.tokenTTL.Seconds()),
	})
}

func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	if err := h.sessions.Logout(r.Context(), sess); err != nil {
		writeSessionError(w, r, err)
		return
	}
	observability.Audit(r, "session.identity.clear", "session_id", sess.ID)
	response.JSON(w, r, http.StatusOK, h.view(sess))
}

func (h *SessionHandler) LookupIndex(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name, ok, err := h.sessions.Lookup(r.Context(), id)
	if err != nil {
		response.Error(w, r, http.StatusServiceUnavailable, response.CodeIndexUnavailable, "identity index unavailable", nil)
		return
	}
	if !ok {
		response.Error(w, r, http.StatusNotFound, response.CodeIndexMiss, "session is not bound to an identity", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"session_id": id, "identity_name": name})
}

func (h *SessionHandler) view(s *domain.Session) sessionView {
	v := sessionView{
		ID:           s.ID,
		IdentityRef:  s.IdentityRef,
		SessionData:  s.SessionData,
		IdentityData: s.IdentityData,
		CreatedAt:    s.CreatedAt,
		LastAccessAt: s.LastAccessAt,
		LastUpdateAt: s.LastUpdateAt,
	}
	if at, ok := h.sessions.Policy().ExpiresAt(s); ok {
		v.ExpiresAt = &at
	}
	return v
}

func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		response.Error(w, r, http.StatusNotFound, response.CodeSessionNotFound, "session not found", nil)
	case errors.Is(err, domain.ErrSessionExpired):
		response.Error(w, r, http.StatusUnauthorized, response.CodeSessionExpired, "session expired", nil)
	case errors.Is(err, domain.ErrInvalidSession):
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, err.Error(), nil)
	default:
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "internal error", nil)
	}
}

func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
