package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-relay/backend/internal/model/chat"
	sessionService "github.com/zhouzirui/z-relay/backend/internal/service/session"
)

var testSecret = []byte("test-secret")

func setupRouter(messages chat.MessageStore) (*chi.Mux, *sessionService.Manager, *CookieCodec) {
	mgr := sessionService.NewManager(chat.NewMemorySessionStore(nil), messages, sessionService.Config{})
	codec := NewCookieCodec(testSecret, true)

	r := chi.NewRouter()
	New(mgr, codec).RegisterRoutes(r)
	r.With(Middleware(mgr, codec)).Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		s, _ := FromContext(r.Context())
		w.Write([]byte(s.ID))
	})
	return r, mgr, codec
}

func sessionCookie(resp *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range resp.Result().Cookies() {
		if c.Name == CookieName {
			return c
		}
	}
	return nil
}

func TestMiddlewareMintsAndReusesSession(t *testing.T) {
	r, _, _ := setupRouter(chat.NewMemoryMessageStore(0, nil))

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	cookie := sessionCookie(resp)
	if cookie == nil {
		t.Fatal("expected session cookie to be issued")
	}
	if !cookie.HttpOnly || !cookie.Secure || cookie.MaxAge != 0 || cookie.SameSite != http.SameSiteNoneMode {
		t.Fatalf("unexpected cookie attributes: %+v", cookie)
	}
	first := resp.Body.String()

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(cookie)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Body.String() != first {
		t.Fatalf("expected same session %s, got %s", first, resp.Body.String())
	}
	if sessionCookie(resp) != nil {
		t.Fatal("cookie should not be reissued for an existing session")
	}
}

func TestMiddlewareFailsOpenOnTamperedCookie(t *testing.T) {
	r, _, _ := setupRouter(chat.NewMemoryMessageStore(0, nil))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "not.a.jwt"})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if sessionCookie(resp) == nil {
		t.Fatal("expected a fresh session cookie")
	}
}

func TestCookieSignedWithOtherSecretIsIgnored(t *testing.T) {
	codec := NewCookieCodec(testSecret, false)
	forged, _ := NewCookieCodec([]byte("other"), false).encode("f00")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: forged})
	if got := codec.Token(req); got != "" {
		t.Fatalf("forged cookie accepted: %q", got)
	}
}

func TestNewSessionReturnsUsableID(t *testing.T) {
	r, mgr, _ := setupRouter(chat.NewMemoryMessageStore(0, nil))

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/new-session", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if !mgr.Active(context.Background(), body.SessionID) {
		t.Fatal("issued session should be active")
	}

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(HeaderName, body.SessionID)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Body.String() != body.SessionID {
		t.Fatalf("header session not honoured: %s", resp.Body.String())
	}
}

func TestHeaderSessionUsedWhenCookieSessionEnded(t *testing.T) {
	r, mgr, codec := setupRouter(chat.NewMemoryMessageStore(0, nil))
	ctx := context.Background()

	ended, _ := mgr.Issue(ctx)
	if err := mgr.End(ctx, ended.ID); err != nil {
		t.Fatalf("End err: %v", err)
	}
	fresh, _ := mgr.Issue(ctx)

	value, err := codec.encode(ended.ID)
	if err != nil {
		t.Fatalf("encode err: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: value})
	req.Header.Set(HeaderName, fresh.ID)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Body.String() != fresh.ID {
		t.Fatalf("expected header session %s, got %s", fresh.ID, resp.Body.String())
	}
	if sessionCookie(resp) != nil {
		t.Fatal("no cookie should be minted when the header session is live")
	}
}

func TestEndSessionIsIdempotent(t *testing.T) {
	messages := chat.NewMemoryMessageStore(0, nil)
	r, mgr, codec := setupRouter(messages)
	ctx := context.Background()

	s, _ := mgr.Issue(ctx)
	messages.Append(ctx, s.ID, chat.RoleUser, "Hello")
	value, _ := codec.encode(s.ID)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/end-session", nil)
		req.AddCookie(&http.Cookie{Name: CookieName, Value: value})
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)

		if resp.Code != http.StatusOK {
			t.Fatalf("call %d: expected 200, got %d", i, resp.Code)
		}
		if c := sessionCookie(resp); c == nil || c.MaxAge >= 0 {
			t.Fatalf("call %d: expected cookie to be cleared", i)
		}
	}

	if got, _ := messages.ListBySession(ctx, s.ID); len(got) != 0 {
		t.Fatalf("expected messages deleted, got %d", len(got))
	}
	if mgr.Active(ctx, s.ID) {
		t.Fatal("session should be ended")
	}
}

func TestEndSessionWithoutCredential(t *testing.T) {
	r, _, _ := setupRouter(chat.NewMemoryMessageStore(0, nil))

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/end-session", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

type brokenMessages struct {
	chat.MessageStore
}

func (brokenMessages) DeleteBySession(context.Context, string) (int, error) {
	return 0, errors.New("disk full")
}

func TestEndSessionTeardownFailure(t *testing.T) {
	r, mgr, codec := setupRouter(brokenMessages{})

	s, _ := mgr.Issue(context.Background())
	value, _ := codec.encode(s.ID)

	req := httptest.NewRequest(http.MethodPost, "/end-session", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: value})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
}
