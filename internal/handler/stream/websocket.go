package stream

import (
	"context"
	"errors"
	"log"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	chatHandler "github.com/zhouzirui/z-relay/backend/internal/handler/chat"
	"github.com/zhouzirui/z-relay/backend/internal/handler/session"
	"github.com/zhouzirui/z-relay/backend/internal/model/chat"
	"github.com/zhouzirui/z-relay/backend/internal/service/ai"
	chatService "github.com/zhouzirui/z-relay/backend/internal/service/chat"
)

const (
	writeTimeout   = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// WebSocketHandler 在一条 WebSocket 连接上承载整个会话
type WebSocketHandler struct {
	chatSvc  *chatService.Service
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器。origins 为空或包含 "*" 时接受任意来源。
func NewWebSocketHandler(chatSvc *chatService.Service, origins []string) *WebSocketHandler {
	return &WebSocketHandler{
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(origins) == 0 || slices.Contains(origins, "*") {
					return true
				}
				return slices.Contains(origins, origin)
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由。调用方需要先挂载 session.Middleware。
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

type outgoingMessage struct {
	Type      string                    `json:"type"`
	SessionID string                    `json:"sessionId,omitempty"`
	Role      chat.Role                 `json:"role,omitempty"`
	Content   string                    `json:"content,omitempty"`
	Messages  []chatHandler.MessageView `json:"messages,omitempty"`
	Error     string                    `json:"error,omitempty"`
	Timestamp int64                     `json:"timestamp"`
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())

	// The upgrade writes its own response, so carry over a freshly minted cookie.
	header := http.Header{}
	for _, c := range w.Header().Values("Set-Cookie") {
		header.Add("Set-Cookie", c)
	}

	conn, err := h.upgrader.Upgrade(w, r, header)
	if err != nil {
		log.Printf("[ws] upgrade failed for session=%s: %v", s.ID, err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	log.Printf("[ws] connection opened for session=%s", s.ID)
	h.serve(r.Context(), conn, s.ID)
	log.Printf("[ws] connection closed for session=%s", s.ID)
}

func (h *WebSocketHandler) serve(ctx context.Context, conn *websocket.Conn, sessionID string) {
	h.send(conn, outgoingMessage{Type: "ready", SessionID: sessionID})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[ws] read error for session=%s: %v", sessionID, err)
			}
			return
		}

		switch msg.Type {
		case "prompt":
			reply, err := h.chatSvc.Reply(ctx, sessionID, msg.Content)
			if err != nil {
				h.sendError(conn, err)
				if errors.Is(err, chat.ErrSessionEnded) {
					return
				}
				continue
			}
			h.send(conn, outgoingMessage{
				Type:      "message",
				SessionID: sessionID,
				Role:      reply.Role,
				Content:   reply.Content,
			})

		case "history":
			messages, err := h.chatSvc.Transcript(ctx, sessionID)
			if err != nil {
				h.sendError(conn, err)
				continue
			}
			views := make([]chatHandler.MessageView, 0, len(messages))
			for _, m := range messages {
				views = append(views, chatHandler.NewMessageView(m))
			}
			h.send(conn, outgoingMessage{Type: "history", SessionID: sessionID, Messages: views})

		case "end":
			if err := h.chatSvc.EndSession(ctx, sessionID); err != nil {
				h.sendError(conn, err)
			} else {
				h.send(conn, outgoingMessage{Type: "ended", SessionID: sessionID})
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
				time.Now().Add(writeTimeout))
			return

		default:
			h.send(conn, outgoingMessage{Type: "error", Error: "unknown message type"})
		}
	}
}

func (h *WebSocketHandler) send(conn *websocket.Conn, msg outgoingMessage) {
	msg.Timestamp = time.Now().UnixMilli()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("[ws] write error: %v", err)
	}
}

func (h *WebSocketHandler) sendError(conn *websocket.Conn, err error) {
	message := "internal error"
	var validation *chat.ValidationError
	switch {
	case errors.As(err, &validation):
		message = validation.Error()
	case errors.Is(err, chatService.ErrPromptRequired), errors.Is(err, chat.ErrSessionEnded):
		message = err.Error()
	case errors.Is(err, ai.ErrUnavailable):
		message = "completion unavailable"
	case errors.Is(err, chatService.ErrCompletion):
		message = "completion failed"
	}
	log.Printf("[ws] %v", err)
	h.send(conn, outgoingMessage{Type: "error", Error: message})
}
