package chat

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-relay/backend/internal/handler/session"
	"github.com/zhouzirui/z-relay/backend/internal/model/chat"
	"github.com/zhouzirui/z-relay/backend/internal/service/ai"
	chatService "github.com/zhouzirui/z-relay/backend/internal/service/chat"
	"github.com/zhouzirui/z-relay/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册聊天相关的路由。调用方需要先挂载 session.Middleware。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/messages", h.handleListMessages)
	r.Post("/messages", h.handleSaveMessage)
	r.Post("/chat", h.handleChat)
	r.Post("/title", h.handleTitle)
}

// MessageView is the wire form of a stored message.
type MessageView struct {
	Role      chat.Role `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessageView converts a stored message to its wire form.
func NewMessageView(m chat.Message) MessageView {
	return MessageView{Role: m.Role, Content: m.Content, Timestamp: m.CreatedAt}
}

// handleListMessages 返回当前会话的消息
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())

	messages, err := h.chatSvc.Transcript(r.Context(), s.ID)
	if err != nil {
		log.Printf("[chat] failed to load transcript for session=%s: %v", s.ID, err)
		utils.RespondError(w, http.StatusInternalServerError, "could not load messages")
		return
	}

	views := make([]MessageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, NewMessageView(m))
	}
	utils.RespondJSON(w, http.StatusOK, views)
}

// handleSaveMessage 保存消息
func (h *Handler) handleSaveMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s, _ := session.FromContext(r.Context())
	message, err := h.chatSvc.Append(r.Context(), s.ID, chat.Role(payload.Role), payload.Content)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, map[string]string{"status": "saved", "id": message.ID})
}

// handleChat 代理一次补全：保存用户消息、调用模型、保存回复
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Prompt string `json:"prompt"`
	}

	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s, _ := session.FromContext(r.Context())
	reply, err := h.chatSvc.Reply(r.Context(), s.ID, payload.Prompt)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, NewMessageView(reply))
}

// handleTitle 为当前对话生成标题
func (h *Handler) handleTitle(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())

	title, err := h.chatSvc.Title(r.Context(), s.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"title": title})
}

func respondServiceError(w http.ResponseWriter, err error) {
	var validation *chat.ValidationError
	switch {
	case errors.As(err, &validation):
		utils.RespondError(w, http.StatusBadRequest, validation.Error())
	case errors.Is(err, chatService.ErrPromptRequired):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrSessionEnded):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ai.ErrUnavailable):
		utils.RespondError(w, http.StatusServiceUnavailable, "completion unavailable")
	case errors.Is(err, chatService.ErrCompletion):
		log.Printf("[chat] %v", err)
		utils.RespondError(w, http.StatusBadGateway, "completion failed")
	default:
		log.Printf("[chat] unexpected error: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
