package main

import (
	"context"
	"crypto/rand"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/z-relay/backend/internal/config"
	"github.com/zhouzirui/z-relay/backend/internal/handler"
	"github.com/zhouzirui/z-relay/backend/internal/handler/session"
	"github.com/zhouzirui/z-relay/backend/internal/model/chat"
	"github.com/zhouzirui/z-relay/backend/internal/service/ai"
	chatService "github.com/zhouzirui/z-relay/backend/internal/service/chat"
	sessionService "github.com/zhouzirui/z-relay/backend/internal/service/session"
	"github.com/zhouzirui/z-relay/backend/internal/storage/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	messages, sessions, closeStore, err := openStores(cfg)
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.Storage.Backend, err)
	}

	manager := sessionService.NewManager(sessions, messages, sessionService.Config{
		TTL:     cfg.Session.TTL,
		Rolling: cfg.Session.Rolling,
	})

	// Initialize completion provider
	var completer ai.Completer
	if cfg.AI.Enabled() {
		completer, err = ai.NewCompleter(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize completion provider: %v", err)
			log.Println("continuing without /chat and /title")
			completer = nil
		} else {
			log.Println("completion provider initialized successfully")
		}
	} else {
		log.Printf("%s credentials not configured, skipping completion provider", cfg.AI.Provider)
	}

	chatSvc := chatService.NewService(messages, manager, completer)
	go chatSvc.RunSweeper(ctx, cfg.Session.SweepInterval)

	router := handler.NewRouter(handler.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Cookies:        session.NewCookieCodec(sessionSecret(cfg.Session.Secret), cfg.Server.CookieSecure),
	}, chatSvc)

	if err := serve(ctx, cfg.Server, router, closeStore); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// serve runs the server and closes the store before returning, whatever the outcome.
func serve(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, closeStore func()) error {
	defer closeStore()
	return startServer(ctx, serverCfg, router)
}

func openStores(cfg *config.Config) (chat.MessageStore, chat.SessionStore, func(), error) {
	if cfg.Storage.Backend == "sqlite" {
		db, err := sqlite.Open(cfg.Storage.DatabasePath)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Printf("using sqlite store at %s", cfg.Storage.DatabasePath)
		closeDB := func() {
			if err := db.Close(); err != nil {
				log.Printf("failed to close sqlite store: %v", err)
			}
		}
		return sqlite.NewMessageStore(db, cfg.Session.MessageTTL, nil), sqlite.NewSessionStore(db, nil), closeDB, nil
	}

	log.Println("using in-memory store")
	return chat.NewMemoryMessageStore(cfg.Session.MessageTTL, nil), chat.NewMemorySessionStore(nil), func() {}, nil
}

// sessionSecret falls back to a per-process random key, which invalidates
// every cookie on restart.
func sessionSecret(configured string) []byte {
	if configured != "" {
		return []byte(configured)
	}

	log.Println("warning: SESSION_SECRET not set, generating an ephemeral secret")
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		log.Fatalf("failed to generate session secret: %v", err)
	}
	return secret
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Z Relay backend listening on %s", addr)
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
