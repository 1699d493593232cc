package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ErmakovSemen/ai-goal-tracker/internal/directive"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/domain"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/progress"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/session"
)

// renderer prints each message once. User turns are printed only as history
// on the first render, since the user just typed the later ones.
type renderer struct {
	mu      sync.Mutex
	out     io.Writer
	printed map[int64]struct{}
	started bool
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, printed: make(map[int64]struct{})}
}

func (r *renderer) render(views []session.MessageView) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, v := range views {
		if _, done := r.printed[v.ID]; done {
			continue
		}
		r.printed[v.ID] = struct{}{}

		if v.Sender == domain.SenderUser {
			if !r.started && !v.Local {
				fmt.Fprintf(r.out, "🧑 %s\n", v.Body)
			}
			continue
		}
		r.message(v)
	}
	r.started = true
}

func (r *renderer) message(v session.MessageView) {
	fmt.Fprintf(r.out, "🤖 %s\n", indent(v.Body))
	for _, p := range v.Previews {
		fmt.Fprintf(r.out, "   %s\n", p)
	}
	if v.CanConfirm {
		fmt.Fprintln(r.out, "   → /confirm or /cancel")
	}
	if v.Checklist != nil && v.CanSubmitChecklist {
		r.checklist(*v.Checklist)
	}
	for i, s := range v.Suggestions {
		fmt.Fprintf(r.out, "   💡 /suggest %d: %s\n", i+1, s)
	}
}

func (r *renderer) checklist(cl directive.Checklist) {
	if cl.Title != "" {
		fmt.Fprintf(r.out, "   📋 %s\n", cl.Title)
	}
	for _, it := range cl.Items {
		var b strings.Builder
		fmt.Fprintf(&b, "   [%s] %s", it.ID, it.Label)
		if it.Unit != "" {
			fmt.Fprintf(&b, " (%s)", it.Unit)
		}
		if it.Required {
			b.WriteString(" *")
		}
		fmt.Fprintln(r.out, b.String())
	}
	fmt.Fprintln(r.out, "   → /check id=value; id=value")
}

func (r *renderer) progress(s progress.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "📊 Progress: %s\n", s)
}

func (r *renderer) goalCreated(g domain.Goal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "🎯 Goal created: %s (ID %d)\n", g.Title, g.ID)
}

func (r *renderer) state(st session.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "chat=%d last_seen=%d in_flight=%t processed_goals=%v\n",
		st.ChatID, st.LastSeenMessageID, st.InFlight, st.ProcessedGoalIDs)
}

func (r *renderer) warn(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "⚠️  %v\n", err)
}

func (r *renderer) help() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, "/confirm  /cancel  /check id=value; ...  /suggest N  /refresh  /state  /quit")
}

func indent(s string) string {
	return strings.ReplaceAll(s, "\n", "\n   ")
}
