package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/mercybot/mercybot/internal/middleware"
	"github.com/mercybot/mercybot/internal/model"
	"github.com/mercybot/mercybot/internal/service"
	"github.com/mercybot/mercybot/pkg/logger"
)

// ChatHandler handles the /chat endpoints. All routes run behind the auth gate.
type ChatHandler struct {
	manager *service.ConversationManager
	logger  *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(manager *service.ConversationManager, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		manager: manager,
		logger:  log,
	}
}

// List handles GET /chat
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	convs, err := h.manager.ListConversations(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, convs)
}

// Post handles POST /chat
func (h *ChatHandler) Post(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := h.manager.PostMessage(r.Context(), service.PostMessageInput{
		OwnerID:        middleware.GetUserID(r.Context()),
		ConversationID: req.ChatID,
		Question:       req.Question,
		Language:       req.Language,
		DocumentText:   req.PDFText,
	})
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, model.ChatResponse{Text: reply})
}

// Get handles GET /chat/{chatId}
func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	// chi matches on the escaped path, so ids containing "/" arrive encoded.
	chatID, err := url.PathUnescape(chi.URLParam(r, "chatId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chat ID")
		return
	}
	if err := middleware.ValidateChatID(chatID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.manager.GetConversation(r.Context(), middleware.GetUserID(r.Context()), chatID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		handleError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}
