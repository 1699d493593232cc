// Package directive extracts machine-readable blocks embedded in assistant
// message bodies.
//
// A block has the form
//
//	<!--NAME: <json-payload> -->
//
// and is removed from the body only when its payload decodes. A block whose
// payload is malformed stays in the body verbatim and is logged; extraction
// never fails.
package directive

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ErmakovSemen/ai-goal-tracker/internal/domain"
)

// Block names.
const (
	BlockPendingActions = "PENDING_ACTIONS"
	BlockChecklist      = "CHECKLIST"
	BlockSuggestions    = "SUGGESTIONS"
)

var (
	pendingActionsRegex = blockRegex(BlockPendingActions)
	checklistRegex      = blockRegex(BlockChecklist)
	suggestionsRegex    = blockRegex(BlockSuggestions)

	// debugTrailerRegex matches the sentinel line of box-drawing characters
	// followed by the DEBUG LOG header, through the end of the body.
	debugTrailerRegex = regexp.MustCompile(`(?s)━+\n🔧 DEBUG LOG:.*$`)
)

func blockRegex(name string) *regexp.Regexp {
	return regexp.MustCompile(`<!--\s*` + name + `:([\s\S]*?)-->`)
}

// Result is the outcome of extracting every known block from a body.
type Result struct {
	Body           string
	PendingActions []PendingAction
	Checklist      *Checklist
	Suggestions    []string
}

// HasDirectives reports whether any block was recognized.
func (r Result) HasDirectives() bool {
	return len(r.PendingActions) > 0 || r.Checklist != nil || len(r.Suggestions) > 0
}

// Extract strips all recognized blocks from body. Blocks are processed in a
// fixed order: pending actions, then checklist, then suggestions. The body is
// trimmed only when at least one block was removed, so running Extract on an
// already-cleaned body returns it unchanged.
func Extract(body string) Result {
	res := Result{Body: body}

	var actionsRemoved, checklistRemoved, suggestionsRemoved bool
	res.Body, actionsRemoved = stripBlocks(res.Body, BlockPendingActions, pendingActionsRegex, func(payload []byte) bool {
		actions, ok := decodePendingActions(payload)
		if ok {
			res.PendingActions = append(res.PendingActions, actions...)
		}
		return ok
	})
	res.Body, checklistRemoved = stripBlocks(res.Body, BlockChecklist, checklistRegex, func(payload []byte) bool {
		var cl Checklist
		if err := json.Unmarshal(payload, &cl); err != nil {
			slog.Warn("Malformed directive block", "block", BlockChecklist, "error", err)
			return false
		}
		if res.Checklist == nil {
			res.Checklist = &cl
		}
		return true
	})
	res.Body, suggestionsRemoved = stripBlocks(res.Body, BlockSuggestions, suggestionsRegex, func(payload []byte) bool {
		var s []string
		if err := json.Unmarshal(payload, &s); err != nil {
			slog.Warn("Malformed directive block", "block", BlockSuggestions, "error", err)
			return false
		}
		for _, item := range s {
			if item = strings.TrimSpace(item); item != "" {
				res.Suggestions = append(res.Suggestions, item)
			}
		}
		return true
	})

	if actionsRemoved || checklistRemoved || suggestionsRemoved {
		res.Body = strings.TrimSpace(res.Body)
	}
	return res
}

// ExtractFor extracts blocks from assistant messages. User messages pass
// through unchanged.
func ExtractFor(m domain.Message) Result {
	if !m.IsAssistant() {
		return Result{Body: m.Body}
	}
	return Extract(m.Body)
}

// stripBlocks removes every match of re whose payload is accepted by decode.
// Rejected matches are left in place.
func stripBlocks(body, name string, re *regexp.Regexp, decode func([]byte) bool) (string, bool) {
	matches := re.FindAllStringSubmatchIndex(body, -1)
	if len(matches) == 0 {
		return body, false
	}

	var b strings.Builder
	last := 0
	removed := false
	for _, m := range matches {
		payload := strings.TrimSpace(body[m[2]:m[3]])
		if !decode([]byte(payload)) {
			continue
		}
		b.WriteString(body[last:m[0]])
		last = m[1]
		removed = true
	}
	if !removed {
		return body, false
	}
	b.WriteString(body[last:])
	slog.Debug("Directive block extracted", "block", name)
	return b.String(), true
}

func decodePendingActions(payload []byte) ([]PendingAction, bool) {
	var actions []PendingAction
	if err := json.Unmarshal(payload, &actions); err == nil {
		return actions, true
	}

	// A lone object is accepted as a batch of one.
	var single PendingAction
	if err := json.Unmarshal(payload, &single); err == nil && single.Type != "" {
		return []PendingAction{single}, true
	}

	if json.Valid(payload) {
		slog.Warn("Pending actions block is not a list, ignoring payload", "block", BlockPendingActions)
		return nil, true
	}
	slog.Warn("Malformed directive block", "block", BlockPendingActions)
	return nil, false
}

// StripDebugTrailer removes the diagnostic trailer a debug-mode server
// appends to assistant replies.
func StripDebugTrailer(body string) string {
	loc := debugTrailerRegex.FindStringIndex(body)
	if loc == nil {
		return body
	}
	return strings.TrimSpace(body[:loc[0]])
}

// DisplayBody returns the text shown to the user: cleaned of directive blocks
// and, outside debug mode, of the diagnostic trailer.
func DisplayBody(res Result, debug bool) string {
	if debug {
		return res.Body
	}
	return StripDebugTrailer(res.Body)
}
