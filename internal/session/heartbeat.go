package session

import (
	"context"
	"time"
)

// heartbeatLoop marks the chat active once on start and then every
// HeartbeatInterval.
func (s *SyncSession) heartbeatLoop(ctx context.Context) error {
	s.heartbeatOnce(ctx)

	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.heartbeatOnce(ctx)
		}
	}
}

// heartbeatOnce is best-effort: failures are logged at debug level and never
// reach the user.
func (s *SyncSession) heartbeatOnce(ctx context.Context) {
	chat := s.currentChat()
	if chat == nil {
		return
	}
	if err := s.client.Heartbeat(ctx, chat.ID); err != nil && ctx.Err() == nil {
		s.logger.Debug("Heartbeat failed", "chat_id", chat.ID, "error", err)
	}
}
