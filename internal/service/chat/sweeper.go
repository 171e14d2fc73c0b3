package chat

import (
	"context"
	"log"
	"time"
)

// RunSweeper periodically removes expired messages and sessions until ctx is
// cancelled. Reads already filter expired records; the sweep reclaims memory
// and storage for clients that never ended their session.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[sweeper] started, interval=%s", interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[sweeper] stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single expiry pass over sessions and messages.
func (s *Service) SweepOnce(ctx context.Context) {
	sessions, err := s.sessions.Sweep(ctx)
	if err != nil {
		log.Printf("[sweeper] session sweep error: %v", err)
	}

	messages, err := s.messages.Sweep(ctx)
	if err != nil {
		log.Printf("[sweeper] message sweep error: %v", err)
	}

	if sessions > 0 || messages > 0 {
		log.Printf("[sweeper] removed %d sessions, %d messages", sessions, messages)
	}
}
