package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-relay/backend/internal/handler/session"
	"github.com/zhouzirui/z-relay/backend/internal/model/chat"
	"github.com/zhouzirui/z-relay/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/z-relay/backend/internal/service/chat"
	sessionservice "github.com/zhouzirui/z-relay/backend/internal/service/session"
)

type fakeCompleter struct {
	reply string
	err   error
}

func (f fakeCompleter) Complete(context.Context, []chat.Message, string) (string, error) {
	return f.reply, f.err
}

func setupRouter(completer ai.Completer) (*chi.Mux, *chatservice.Service) {
	messages := chat.NewMemoryMessageStore(30*time.Minute, nil)
	mgr := sessionservice.NewManager(chat.NewMemorySessionStore(nil), messages, sessionservice.Config{})
	chatSvc := chatservice.NewService(messages, mgr, completer)
	codec := session.NewCookieCodec([]byte("secret"), false)

	r := chi.NewRouter()
	session.New(mgr, codec).RegisterRoutes(r)
	r.Group(func(r chi.Router) {
		r.Use(session.Middleware(mgr, codec))
		New(chatSvc).RegisterRoutes(r)
	})
	return r, chatSvc
}

type client struct {
	t      *testing.T
	r      http.Handler
	cookie *http.Cookie
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	resp := httptest.NewRecorder()
	c.r.ServeHTTP(resp, req)

	for _, ck := range resp.Result().Cookies() {
		if ck.Name == session.CookieName && ck.MaxAge >= 0 {
			c.cookie = ck
		}
	}
	return resp
}

func decodeMessages(t *testing.T, resp *httptest.ResponseRecorder) []MessageView {
	t.Helper()
	var views []MessageView
	if err := json.NewDecoder(resp.Body).Decode(&views); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	return views
}

func TestSaveAndListMessages(t *testing.T) {
	r, _ := setupRouter(nil)
	c := &client{t: t, r: r}

	if resp := c.do(http.MethodPost, "/messages", map[string]string{"role": "user", "content": "Hello"}); resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	if resp := c.do(http.MethodPost, "/messages", map[string]string{"role": "assistant", "content": "Hi there"}); resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	resp := c.do(http.MethodGet, "/messages", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	views := decodeMessages(t, resp)
	if len(views) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(views))
	}
	if views[0].Role != chat.RoleUser || views[0].Content != "Hello" || views[1].Role != chat.RoleAssistant || views[1].Content != "Hi there" {
		t.Fatalf("unexpected messages: %+v", views)
	}
}

func TestListMessagesNewSessionIsEmptyArray(t *testing.T) {
	r, _ := setupRouter(nil)
	c := &client{t: t, r: r}

	resp := c.do(http.MethodGet, "/messages", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if body := bytes.TrimSpace(resp.Body.Bytes()); string(body) != "[]" {
		t.Fatalf("expected empty JSON array, got %s", body)
	}
}

func TestSaveMessageValidation(t *testing.T) {
	r, _ := setupRouter(nil)
	c := &client{t: t, r: r}

	bodies := []any{
		map[string]string{"content": "no role"},
		map[string]string{"role": "user"},
		map[string]string{"role": "system", "content": "bad role"},
		nil,
	}
	for i, body := range bodies {
		if resp := c.do(http.MethodPost, "/messages", body); resp.Code != http.StatusBadRequest {
			t.Fatalf("case %d: expected 400, got %d", i, resp.Code)
		}
	}

	if views := decodeMessages(t, c.do(http.MethodGet, "/messages", nil)); len(views) != 0 {
		t.Fatalf("rejected messages were stored: %+v", views)
	}
}

func TestEndSessionThenListIsEmpty(t *testing.T) {
	r, _ := setupRouter(nil)
	c := &client{t: t, r: r}

	c.do(http.MethodPost, "/messages", map[string]string{"role": "user", "content": "Hello"})
	stale := c.cookie

	if resp := c.do(http.MethodPost, "/end-session", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp := c.do(http.MethodPost, "/end-session", nil); resp.Code != http.StatusOK {
		t.Fatalf("second end-session: expected 200, got %d", resp.Code)
	}

	c.cookie = stale
	resp := c.do(http.MethodGet, "/messages", nil)
	if views := decodeMessages(t, resp); len(views) != 0 {
		t.Fatalf("expected no messages after end-session, got %+v", views)
	}
	if c.cookie == stale {
		t.Fatal("expected a new session cookie after the old session ended")
	}
}

func TestChatProxiesCompletion(t *testing.T) {
	r, _ := setupRouter(fakeCompleter{reply: "Hi there"})
	c := &client{t: t, r: r}

	resp := c.do(http.MethodPost, "/chat", map[string]string{"prompt": "Hello"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var reply MessageView
	json.NewDecoder(resp.Body).Decode(&reply)
	if reply.Role != chat.RoleAssistant || reply.Content != "Hi there" {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	views := decodeMessages(t, c.do(http.MethodGet, "/messages", nil))
	if len(views) != 2 {
		t.Fatalf("expected both turns stored, got %d", len(views))
	}
}

func TestChatErrors(t *testing.T) {
	r, _ := setupRouter(nil)
	c := &client{t: t, r: r}
	if resp := c.do(http.MethodPost, "/chat", map[string]string{"prompt": "Hello"}); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without provider, got %d", resp.Code)
	}

	r, _ = setupRouter(fakeCompleter{err: errors.New("boom")})
	c = &client{t: t, r: r}
	if resp := c.do(http.MethodPost, "/chat", map[string]string{"prompt": ""}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty prompt, got %d", resp.Code)
	}
	if resp := c.do(http.MethodPost, "/chat", map[string]string{"prompt": "Hello"}); resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on provider failure, got %d", resp.Code)
	}
}

func TestTitle(t *testing.T) {
	r, _ := setupRouter(fakeCompleter{reply: "# Friendly Greetings"})
	c := &client{t: t, r: r}

	c.do(http.MethodPost, "/messages", map[string]string{"role": "user", "content": "Hello"})
	resp := c.do(http.MethodPost, "/title", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["title"] != "Friendly Greetings" {
		t.Fatalf("unexpected title %q", body["title"])
	}
}
