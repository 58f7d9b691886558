package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/linetally/peoplecount/internal/auth"
	"github.com/linetally/peoplecount/internal/middleware"
	"github.com/linetally/peoplecount/internal/store"
)

// dummyHash lets CheckPassword run its full comparison even when the
// username doesn't exist, so a login attempt against an unknown user takes
// the same time as one against a wrong password (timing-safety, grounded on
// the teacher's auth_handlers.go "Dummy Verify" step).
const dummyHash = "$argon2id$v=19$m=65536,t=1,p=4$c2FsdHNhbHQ$hashhashhashhashhashhashhashhashhash"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Login authenticates the single admin principal (spec §6, POST
// /api/auth/login). It never leaks whether the username or the password
// was wrong (spec §7, "auth failure -> 401 without leaking details").
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", "")
		return
	}

	locked, err := s.Sessions.CheckLockout(r.Context(), req.Username)
	if err != nil || locked {
		writeUnauthorized(w)
		return
	}

	admin, err := s.Admins.GetByUsername(r.Context(), req.Username)
	if err == store.ErrNotFound {
		_, _ = auth.CheckPassword(req.Password, dummyHash)
		_ = s.Sessions.RecordFailedAttempt(r.Context(), req.Username)
		writeUnauthorized(w)
		return
	}
	if err != nil {
		writeUnauthorized(w)
		return
	}

	match, err := auth.CheckPassword(req.Password, admin.PasswordHash)
	if err != nil || !match {
		_ = s.Sessions.RecordFailedAttempt(r.Context(), req.Username)
		writeUnauthorized(w)
		return
	}

	accessToken, err := s.Tokens.GenerateAccessToken(admin.ID, admin.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to issue token", "")
		return
	}

	sessionID := uuid.New().String()
	if err := s.Sessions.CreateSession(r.Context(), admin.ID, sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to create session", "")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{AccessToken: accessToken, TokenType: "Bearer"})
}

// Me returns the authenticated principal (spec §6, GET /api/auth/me).
func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": ac.UserID, "username": ac.Username})
}
