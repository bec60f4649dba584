package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/mercybot/mercybot/internal/middleware"
	"github.com/mercybot/mercybot/internal/model"
	"github.com/mercybot/mercybot/internal/service"
	"github.com/mercybot/mercybot/pkg/logger"
)

// CookieConfig describes the session cookie.
type CookieConfig struct {
	Name   string
	Secure bool
	TTL    time.Duration
}

// AuthHandler handles the /auth endpoints.
type AuthHandler struct {
	service *service.AuthService
	cookie  CookieConfig
	logger  *logger.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(svc *service.AuthService, cookie CookieConfig, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		service: svc,
		cookie:  cookie,
		logger:  log,
	}
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.CredentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.service.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, model.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "user already exists")
			return
		}
		handleError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Registration successful",
		"user":    user.Public(),
	})
}

// Login handles POST /auth/login and sets the session cookie.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	token, ok := h.login(w, r)
	if !ok {
		return
	}

	http.SetCookie(w, h.sessionCookie(token))
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Login successful",
	})
}

// TokenLogin handles POST /auth/token-login and returns the token in the body.
func (h *AuthHandler) TokenLogin(w http.ResponseWriter, r *http.Request) {
	token, ok := h.login(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Login successful",
		"token":   token,
	})
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req model.CredentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return "", false
	}

	token, _, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrValidation):
			writeError(w, http.StatusBadRequest, "email and password are required")
		case errors.Is(err, model.ErrUnauthorized):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		default:
			handleError(w, r, h.logger, err)
		}
		return "", false
	}
	return token, true
}

// Logout handles POST /auth/logout. Tokens stay valid until expiry; only
// the cookie is cleared.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Logout successful",
	})
}

// Check handles GET /auth/check. It runs behind the auth gate.
func (h *AuthHandler) Check(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, middleware.MsgNoToken)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Token valid",
		"user":    user,
	})
}

func (h *AuthHandler) sessionCookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     h.cookie.Name,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.cookie.TTL.Seconds()),
	}
}
