package session

import (
	"github.com/ErmakovSemen/ai-goal-tracker/internal/directive"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/domain"
)

// MessageView is a message prepared for display, with its directives and
// the affordances the UI may offer for it.
type MessageView struct {
	ID        int64
	Sender    domain.Sender
	Body      string
	CreatedAt domain.Timestamp
	Local     bool

	// Live marks the latest assistant message with an unresolved batch.
	// Directives on any other message are history.
	Live           bool
	PendingActions []directive.PendingAction
	Previews       []string
	Checklist      *directive.Checklist
	Suggestions    []string

	CanConfirm         bool
	CanSubmitChecklist bool
	// Busy is set while a confirm, cancel or submission for this message
	// is running.
	Busy       bool
	BusyState  ActionState
	Resolution Result
}

// View renders the log. Confirm and cancel are offered only on the live
// message, and never alongside a checklist. Suggestions are offered only on
// the live message.
func (s *SyncSession) View() []MessageView {
	msgs := s.log.Messages()
	latest, hasLatest := s.log.LatestAssistant()

	s.mu.Lock()
	resolved := make(map[int64]Result, len(s.resolved))
	for id, r := range s.resolved {
		resolved[id] = r
	}
	var op actionOp
	if s.action != nil {
		op = *s.action
	}
	s.mu.Unlock()

	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		res := directive.ExtractFor(m)
		v := MessageView{
			ID:             m.ID,
			Sender:         m.Sender,
			Body:           directive.DisplayBody(res, s.opts.Debug),
			CreatedAt:      m.CreatedAt,
			Local:          m.IsLocal(),
			PendingActions: res.PendingActions,
			Previews:       directive.Previews(res.PendingActions),
			Checklist:      res.Checklist,
			Resolution:     resolved[m.ID],
		}

		isLatest := hasLatest && m.ID == latest.ID
		v.Live = isLatest && v.Resolution == ""
		if v.Live {
			v.Suggestions = res.Suggestions
			v.CanSubmitChecklist = res.Checklist != nil
			v.CanConfirm = res.Checklist == nil && len(res.PendingActions) > 0
		}
		if op.messageID != 0 && op.messageID == m.ID {
			v.Busy = true
			v.BusyState = op.state
			v.CanConfirm = false
			v.CanSubmitChecklist = false
		}
		out = append(out, v)
	}
	return out
}
