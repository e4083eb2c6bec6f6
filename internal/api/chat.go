package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/chat-relay/internal/chat"
	"github.com/ashureev/chat-relay/internal/domain"
)

// Greeting is returned by GET /.
const Greeting = "Hello to AI Assistant"

// ChatService is the message pipeline behind the chat endpoints.
type ChatService interface {
	PostMessage(ctx context.Context, text string) (string, error)
	History(ctx context.Context) ([]domain.Turn, error)
}

// MessageRequest is the body of POST /chat/message.
type MessageRequest struct {
	Message string `json:"message"`
}

// MessageResponse is the success body of POST /chat/message.
type MessageResponse struct {
	Status   string `json:"status"`
	Response string `json:"response"`
}

// ChatHandler handles the chat endpoints.
type ChatHandler struct {
	svc     ChatService
	maxBody int64
}

// NewChatHandler creates a chat handler. Request bodies over maxBody bytes are rejected.
func NewChatHandler(svc ChatService, maxBody int64) *ChatHandler {
	return &ChatHandler{svc: svc, maxBody: maxBody}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Root)
	r.Route("/chat", func(r chi.Router) {
		r.Post("/message", h.PostMessage)
		r.Get("/history", h.History)
	})
}

// Root returns the service greeting.
func (h *ChatHandler) Root(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"message": Greeting})
}

// PostMessage stores a user message and returns the generated reply.
func (h *ChatHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Invalid chat message body", "request_id", reqID, "error", err)
		internalError(w)
		return
	}

	reply, err := h.svc.PostMessage(r.Context(), req.Message)
	if err != nil {
		logPostFailure(reqID, err)
		internalError(w)
		return
	}

	JSON(w, http.StatusOK, MessageResponse{Status: "Success", Response: reply})
}

// History returns every stored turn in insertion order.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	turns, err := h.svc.History(r.Context())
	if err != nil {
		slog.Error("Failed to load chat history", "request_id", middleware.GetReqID(r.Context()), "error", err)
		internalError(w)
		return
	}
	JSON(w, http.StatusOK, domain.Views(turns))
}

func logPostFailure(reqID string, err error) {
	var verr *chat.ValidationError
	if errors.As(err, &verr) {
		slog.Warn("Rejected chat message", "request_id", reqID, "reason", verr.Reason)
		return
	}

	var perr *chat.ProcessingError
	if errors.As(err, &perr) {
		slog.Error("Failed to process chat message",
			"request_id", reqID,
			"stage", string(perr.Stage),
			"storage_failure", chat.IsStorageFailure(err),
			"error", perr.Err)
		return
	}
	slog.Error("Failed to process chat message", "request_id", reqID, "error", err)
}
