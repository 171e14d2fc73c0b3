package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/z-relay/backend/internal/handler/chat"
	"github.com/zhouzirui/z-relay/backend/internal/handler/session"
	"github.com/zhouzirui/z-relay/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/z-relay/backend/internal/middleware"
	chatService "github.com/zhouzirui/z-relay/backend/internal/service/chat"
	"github.com/zhouzirui/z-relay/backend/pkg/utils"
)

// RouterConfig carries the transport settings the router needs.
type RouterConfig struct {
	AllowedOrigins []string
	Cookies        *session.CookieCodec
}

// NewRouter wires HTTP routes to core services.
func NewRouter(cfg RouterConfig, chatSvc *chatService.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Issuing and ending sessions must not mint one as a side effect.
	session.New(chatSvc.Sessions(), cfg.Cookies).RegisterRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(session.Middleware(chatSvc.Sessions(), cfg.Cookies))

		chat.New(chatSvc).RegisterRoutes(r)
		stream.NewWebSocketHandler(chatSvc, cfg.AllowedOrigins).RegisterRoutes(r)
	})

	return r
}
