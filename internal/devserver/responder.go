package devserver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ErmakovSemen/ai-goal-tracker/internal/directive"
)

// SilentResponder never replies.
func SilentResponder(*Server, int64, string) (string, bool) { return "", false }

// EchoResponder replies with the user's text.
func EchoResponder(_ *Server, _ int64, text string) (string, bool) {
	return "You said: " + text, true
}

// StaticResponder always replies with body.
func StaticResponder(body string) Responder {
	return func(*Server, int64, string) (string, bool) { return body, true }
}

// DefaultResponder is a scripted assistant covering every directive kind:
//
//	create goal <title>   announces a new goal
//	создай цель <title>   announces a new goal in Russian
//	milestone <title>     proposes a create_milestone action
//	checklist             asks a weekly checklist
//	anything else         echoes with suggestions
func DefaultResponder(s *Server, chatID int64, text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	switch {
	case strings.HasPrefix(lower, "create goal "):
		title := strings.TrimSpace(trimmed[len("create goal "):])
		g := s.CreateGoal(title, "")
		return fmt.Sprintf("New goal created: %s (ID: %d)", g.Title, g.ID), true

	case strings.HasPrefix(lower, "создай цель "):
		title := strings.TrimSpace(string([]rune(trimmed)[len([]rune("создай цель ")):]))
		g := s.CreateGoal(title, "")
		return fmt.Sprintf("Создана новая цель: %s (ID: %d)", g.Title, g.ID), true

	case strings.HasPrefix(lower, "milestone "):
		title := strings.TrimSpace(trimmed[len("milestone "):])
		actions := []directive.PendingAction{{
			Type: directive.ActionCreateMilestone,
			Data: map[string]any{"title": title},
		}}
		return "I can add that milestone for you." + block(directive.BlockPendingActions, actions), true

	case lower == "checklist":
		cl := directive.Checklist{
			Title: "Weekly check-in",
			Items: []directive.ChecklistItem{
				{ID: directive.IntID(1), Label: "Did you work on the goal this week?", Kind: directive.KindBoolean, Required: true},
				{ID: directive.StringID("hours"), Label: "Hours spent", Kind: directive.KindNumber, Unit: "h"},
				{ID: directive.StringID("notes"), Label: "Notes", Kind: directive.KindText},
			},
		}
		return "Let's do a quick check-in." + block(directive.BlockChecklist, cl), true

	default:
		return "You said: " + trimmed + block(directive.BlockSuggestions, []string{"Tell me more", "checklist"}), true
	}
}

func block(name string, payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return "\n\n<!--" + name + ":" + string(data) + "-->"
}
