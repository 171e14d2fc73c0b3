package session

import (
	"context"
	"log"
	"net/http"

	"github.com/zhouzirui/z-relay/backend/internal/model/chat"
	sessionService "github.com/zhouzirui/z-relay/backend/internal/service/session"
	"github.com/zhouzirui/z-relay/backend/pkg/utils"
)

type ctxKey struct{}

// FromContext returns the session resolved by Middleware.
func FromContext(ctx context.Context) (chat.Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(chat.Session)
	return s, ok
}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s chat.Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// Middleware resolves the caller's session, minting one when the presented
// credential is missing or no longer valid, and issues the cookie for newly
// minted sessions. A cookie naming an ended or expired session does not
// shadow a live session passed in X-Session-ID.
func Middleware(manager *sessionService.Manager, codec *CookieCodec) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := codec.Token(r)
			for _, candidate := range codec.Tokens(r) {
				if manager.Active(r.Context(), candidate) {
					token = candidate
					break
				}
			}

			s, minted, err := manager.Resolve(r.Context(), token)
			if err != nil {
				log.Printf("[session] resolve failed: %v", err)
				utils.RespondError(w, http.StatusInternalServerError, "could not establish session")
				return
			}

			if minted {
				if err := codec.Set(w, s.ID); err != nil {
					log.Printf("[session] failed to sign cookie: %v", err)
					utils.RespondError(w, http.StatusInternalServerError, "could not establish session")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
		})
	}
}
