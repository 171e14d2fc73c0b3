package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zhouzirui/z-relay/backend/internal/model/chat"
	"github.com/zhouzirui/z-relay/backend/internal/service/session"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func setupManager(rolling bool) (*session.Manager, *chat.MemoryMessageStore, *testClock) {
	clock := &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	messages := chat.NewMemoryMessageStore(30*time.Minute, clock.Now)
	sessions := chat.NewMemorySessionStore(clock.Now)
	mgr := session.NewManager(sessions, messages, session.Config{
		TTL:     30 * time.Minute,
		Rolling: rolling,
		Clock:   clock.Now,
	})
	return mgr, messages, clock
}

func TestResolveMintsWithoutToken(t *testing.T) {
	mgr, _, _ := setupManager(false)
	ctx := context.Background()

	s, minted, err := mgr.Resolve(ctx, "")
	if err != nil {
		t.Fatalf("Resolve err: %v", err)
	}
	if !minted || s.ID == "" {
		t.Fatalf("expected a minted session, got %+v minted=%v", s, minted)
	}
}

func TestResolveReturnsActiveSession(t *testing.T) {
	mgr, _, _ := setupManager(false)
	ctx := context.Background()

	first, _, _ := mgr.Resolve(ctx, "")
	again, minted, err := mgr.Resolve(ctx, first.ID)
	if err != nil {
		t.Fatalf("Resolve err: %v", err)
	}
	if minted || again.ID != first.ID {
		t.Fatalf("expected existing session %s, got %s minted=%v", first.ID, again.ID, minted)
	}
}

func TestResolveFailsOpen(t *testing.T) {
	mgr, _, _ := setupManager(false)
	ctx := context.Background()

	for _, token := range []string{"garbage", "not-a-uuid!", "3f1c2c9e-0000-4000-8000-000000000000"} {
		s, minted, err := mgr.Resolve(ctx, token)
		if err != nil {
			t.Fatalf("Resolve(%q) err: %v", token, err)
		}
		if !minted || s.ID == token {
			t.Fatalf("Resolve(%q) should mint a fresh session", token)
		}
	}
}

func TestFixedTTLExpiresRegardlessOfActivity(t *testing.T) {
	mgr, _, clock := setupManager(false)
	ctx := context.Background()

	s, _, _ := mgr.Resolve(ctx, "")
	clock.now = clock.now.Add(20 * time.Minute)
	if _, minted, _ := mgr.Resolve(ctx, s.ID); minted {
		t.Fatal("session should still be active after 20 minutes")
	}

	clock.now = clock.now.Add(10 * time.Minute)
	if _, minted, _ := mgr.Resolve(ctx, s.ID); !minted {
		t.Fatal("session should expire 30 minutes after creation")
	}
}

func TestRollingTTLRenewsOnResolve(t *testing.T) {
	mgr, _, clock := setupManager(true)
	ctx := context.Background()

	s, _, _ := mgr.Resolve(ctx, "")
	for i := 0; i < 3; i++ {
		clock.now = clock.now.Add(20 * time.Minute)
		if _, minted, _ := mgr.Resolve(ctx, s.ID); minted {
			t.Fatalf("rolling session expired on renewal %d", i)
		}
	}
}

func TestEndSessionCascadesAndIsIdempotent(t *testing.T) {
	mgr, messages, _ := setupManager(false)
	ctx := context.Background()

	s, _, _ := mgr.Resolve(ctx, "")
	messages.Append(ctx, s.ID, chat.RoleUser, "Hello")
	messages.Append(ctx, s.ID, chat.RoleAssistant, "Hi there")

	if err := mgr.End(ctx, s.ID); err != nil {
		t.Fatalf("End err: %v", err)
	}
	got, _ := messages.ListBySession(ctx, s.ID)
	if len(got) != 0 {
		t.Fatalf("expected no messages after End, got %d", len(got))
	}
	if mgr.Active(ctx, s.ID) {
		t.Fatal("ended session must not be active")
	}

	if err := mgr.End(ctx, s.ID); err != nil {
		t.Fatalf("second End err: %v", err)
	}
	if err := mgr.End(ctx, "unknown"); err != nil {
		t.Fatalf("End unknown err: %v", err)
	}

	next, minted, _ := mgr.Resolve(ctx, s.ID)
	if !minted || next.ID == s.ID {
		t.Fatal("resolving an ended token must mint a new session")
	}
}

type failingMessages struct {
	chat.MessageStore
}

func (failingMessages) DeleteBySession(context.Context, string) (int, error) {
	return 0, errors.New("store offline")
}

func TestEndReportsTeardownError(t *testing.T) {
	sessions := chat.NewMemorySessionStore(nil)
	mgr := session.NewManager(sessions, failingMessages{}, session.Config{})
	ctx := context.Background()

	s, err := mgr.Issue(ctx)
	if err != nil {
		t.Fatalf("Issue err: %v", err)
	}

	err = mgr.End(ctx, s.ID)
	var teardown *chat.TeardownError
	if !errors.As(err, &teardown) {
		t.Fatalf("expected TeardownError, got %v", err)
	}
	if teardown.SessionID != s.ID {
		t.Fatalf("unexpected session in error: %s", teardown.SessionID)
	}
	if mgr.Active(ctx, s.ID) {
		t.Fatal("session must be invalidated even when cleanup fails")
	}
}

func TestSweepRemovesExpiredSessionsAndMessages(t *testing.T) {
	mgr, messages, clock := setupManager(false)
	ctx := context.Background()

	s, _, _ := mgr.Resolve(ctx, "")
	messages.Append(ctx, s.ID, chat.RoleUser, "bye")

	clock.now = clock.now.Add(31 * time.Minute)
	n, err := mgr.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep err: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired session, got %d", n)
	}
	if left, _ := messages.DeleteBySession(ctx, s.ID); left != 0 {
		t.Fatalf("expected messages removed by sweep, %d left", left)
	}
}
