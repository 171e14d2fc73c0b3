package session

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	sessionService "github.com/zhouzirui/z-relay/backend/internal/service/session"
	"github.com/zhouzirui/z-relay/backend/pkg/utils"
)

// Handler 会话生命周期的HTTP处理器
type Handler struct {
	manager *sessionService.Manager
	codec   *CookieCodec
}

// New 创建会话处理器
func New(manager *sessionService.Manager, codec *CookieCodec) *Handler {
	return &Handler{manager: manager, codec: codec}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/new-session", h.handleNewSession)
	r.Post("/end-session", h.handleEndSession)
}

// handleNewSession 签发一个不依赖 cookie 的新会话
func (h *Handler) handleNewSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Issue(r.Context())
	if err != nil {
		log.Printf("[session] issue failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "could not create session")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"sessionId": s.ID})
}

// handleEndSession 结束会话并删除其消息。可重复调用；请求体被忽略以兼容 sendBeacon。
func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	token := h.codec.Token(r)
	h.codec.Clear(w)

	if err := h.manager.End(r.Context(), token); err != nil {
		log.Printf("[session] end failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "could not destroy session")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "session ended and messages deleted"})
}
