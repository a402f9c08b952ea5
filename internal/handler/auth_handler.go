package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/wazzap/chat-backend/internal/config"
	"github.com/wazzap/chat-backend/internal/domain"
	"github.com/wazzap/chat-backend/internal/session"
	"github.com/wazzap/chat-backend/internal/store"
	"github.com/wazzap/chat-backend/pkg/log"
)

// AuthHandler is the login flow that feeds the session registry. It is
// deliberately thin: the realtime subsystem only consumes the sessions
// it creates.
type AuthHandler struct {
	users    store.UserStore
	sessions *session.Registry
	authCfg  config.AuthConfig
}

func NewAuthHandler(users store.UserStore, sessions *session.Registry, authCfg config.AuthConfig) *AuthHandler {
	return &AuthHandler{
		users:    users,
		sessions: sessions,
		authCfg:  authCfg,
	}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Pin      string `json:"pin"`
}

type loginResponse struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
}

type logoutRequest struct {
	SessionID string `json:"session_id"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Pin == "" {
		writeJSONError(w, http.StatusBadRequest, "username and pin are required")
		return
	}

	if _, err := h.users.GetUserByUsername(r.Context(), req.Username); err == nil {
		writeJSONError(w, http.StatusBadRequest, "username already exists")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Pin), bcrypt.DefaultCost)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to hash pin")
		return
	}

	user, err := h.users.CreateUser(r.Context(), req.Username, string(hash))
	if err != nil {
		log.L().Error().Err(err).Msg("create user failed")
		writeJSONError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Pin == "" {
		writeJSONError(w, http.StatusBadRequest, "username and pin are required")
		return
	}

	user, err := h.users.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			writeJSONError(w, http.StatusBadRequest, "user not found")
			return
		}
		log.L().Error().Err(err).Msg("login lookup failed")
		writeJSONError(w, http.StatusInternalServerError, "login failed")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PinHash), []byte(req.Pin)); err != nil {
		writeJSONError(w, http.StatusBadRequest, "incorrect pin")
		return
	}

	token, err := h.mintToken(user)
	if err != nil {
		log.L().Error().Err(err).Msg("mint token failed")
		writeJSONError(w, http.StatusInternalServerError, "login failed")
		return
	}

	sessionID := uuid.New().String()
	h.sessions.Create(sessionID, token, user.ID, user.Username)

	writeJSON(w, http.StatusOK, &loginResponse{
		UserID:    user.ID,
		Username:  user.Username,
		Token:     token,
		SessionID: sessionID,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeJSONError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	h.sessions.Invalidate(req.SessionID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *AuthHandler) mintToken(user *domain.User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":      user.ID,
		"username": user.Username,
		"iat":      now.Unix(),
		"exp":      now.Add(h.authCfg.TokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(h.authCfg.JWTSecret))
}

func (h *AuthHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/register", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/api/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/api/logout", h.Logout).Methods(http.MethodPost)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.L().Error().Err(err).Msg("write response failed")
	}
}

func writeJSONError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}
