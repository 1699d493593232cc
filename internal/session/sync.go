package session

import (
	"context"
	"time"

	"github.com/ErmakovSemen/ai-goal-tracker/internal/domain"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/transcript"
)

// syncLoop fetches messages newer than the last seen id on every tick.
func (s *SyncSession) syncLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.syncOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("Proactive sync failed", "error", err)
			}
		}
	}
}

// syncOnce runs one proactive sync tick and returns the number of new
// messages merged. The tick is a no-op while a turn is in flight.
func (s *SyncSession) syncOnce(ctx context.Context) (int, error) {
	chat, msgs, err := s.fetchSince(ctx)
	if err != nil || len(msgs) == 0 {
		return 0, err
	}

	known := make(map[int64]struct{})
	for _, m := range s.log.Authoritative() {
		known[m.ID] = struct{}{}
	}
	added := s.log.Merge(msgs)
	if added == 0 {
		return 0, nil
	}
	s.persist(ctx, chat.ID, msgs)
	for _, m := range msgs {
		if _, ok := known[m.ID]; !ok {
			s.audit(chat.ID, m, transcript.EventProactiveMessage)
		}
	}

	s.logger.Info("Proactive sync merged messages", "chat_id", chat.ID, "count", added, "last_seen_id", s.log.LastSeenID())
	s.notifyChange()
	s.detectGoal(ctx)
	// Proactive messages may come with server-side changes.
	s.refreshDerived(ctx)
	return added, nil
}

// fetchSince requests the messages after the last seen id unless a turn is
// in flight. The request holds fetchMu, so Send cannot raise the in-flight
// flag while it is out.
func (s *SyncSession) fetchSince(ctx context.Context) (*domain.Chat, []domain.Message, error) {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	if s.inFlight.Load() {
		s.logger.Debug("Proactive sync skipped, turn in flight")
		return nil, nil, nil
	}
	chat := s.currentChat()
	if chat == nil {
		return nil, nil, nil
	}
	msgs, err := s.client.ListMessagesSince(ctx, chat.ID, s.log.LastSeenID())
	if err != nil {
		return nil, nil, err
	}
	return chat, msgs, nil
}
