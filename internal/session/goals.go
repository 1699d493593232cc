package session

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/ErmakovSemen/ai-goal-tracker/internal/transcript"
)

// Announcement patterns the assistant uses after creating a goal, e.g.
// "Создана новая цель: Run a marathon (ID: 7)".
var goalAnnouncementRegexes = []*regexp.Regexp{
	regexp.MustCompile(`Создана новая цель[^:]*:\s*([^(]+)\s*\(ID:\s*(\d+)\)`),
	regexp.MustCompile(`New goal created[^:]*:\s*([^(]+)\s*\(ID:\s*(\d+)\)`),
}

// ParseGoalAnnouncement extracts the goal title and id from an announcement.
func ParseGoalAnnouncement(body string) (title string, id int64, ok bool) {
	for _, re := range goalAnnouncementRegexes {
		m := re.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		n, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			continue
		}
		return strings.TrimSpace(m[1]), n, true
	}
	return "", 0, false
}

// detectGoal fires OnGoalCreated for an announcement on the latest
// assistant message, at most once per goal id. A failed goal fetch leaves
// the id unprocessed so a later event retries it.
func (s *SyncSession) detectGoal(ctx context.Context) {
	latest, ok := s.log.LatestAssistant()
	if !ok {
		return
	}
	title, goalID, ok := ParseGoalAnnouncement(latest.Body)
	if !ok {
		return
	}

	s.mu.Lock()
	_, done := s.processed[goalID]
	_, busy := s.claiming[goalID]
	if done || busy {
		s.mu.Unlock()
		return
	}
	s.claiming[goalID] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.claiming, goalID)
		s.mu.Unlock()
	}()

	goal, err := s.client.GetGoal(ctx, goalID)
	if err != nil {
		s.logger.Warn("Failed to fetch announced goal", "announced_goal_id", goalID, "title", title, "error", err)
		return
	}

	if s.opts.OnGoalCreated != nil {
		s.opts.OnGoalCreated(goal)
	}

	s.mu.Lock()
	s.processed[goalID] = struct{}{}
	var chatID int64
	if s.chat != nil {
		chatID = s.chat.ID
	}
	s.mu.Unlock()

	s.logger.Info("Goal created via chat", "announced_goal_id", goalID, "title", goal.Title)
	s.opts.Transcript.Log(transcript.Event{
		GoalID:    s.opts.GoalID,
		ChatID:    chatID,
		EventType: transcript.EventGoalCreated,
		MessageID: latest.ID,
		Content:   goal.Title,
		Result:    strconv.FormatInt(goalID, 10),
	})
	if s.opts.Store != nil && chatID != 0 {
		if err := s.opts.Store.MarkGoalProcessed(ctx, chatID, goalID); err != nil {
			s.logger.Warn("Failed to cache processed goal", "announced_goal_id", goalID, "error", err)
		}
	}
}

// MarkGoalProcessed seeds the processed set, for callers that already
// handled a goal elsewhere.
func (s *SyncSession) MarkGoalProcessed(goalID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[goalID] = struct{}{}
}
