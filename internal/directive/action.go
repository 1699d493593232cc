package directive

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Known pending action discriminators.
const (
	ActionCreateMilestone   = "create_milestone"
	ActionCompleteMilestone = "complete_milestone"
	ActionDeleteMilestone   = "delete_milestone"
	ActionUpdateMilestone   = "update_milestone"
	ActionSetDeadline       = "set_deadline"
	ActionCreateTask        = "create_task"
	ActionCompleteTask      = "complete_task"
)

// PendingAction is a proposed mutation as it travels on the wire. It is sent
// back to the server verbatim on confirmation; Decode gives a typed view.
type PendingAction struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Action is the typed form of a pending action.
type Action interface {
	// ActionType returns the wire discriminator.
	ActionType() string
	// Preview returns a one-line human description.
	Preview() string
}

// CreateMilestone proposes a new milestone.
type CreateMilestone struct {
	Title       string
	Description string
	TargetDate  string
}

// CompleteMilestone proposes marking a milestone done.
type CompleteMilestone struct {
	MilestoneID int64
	Title       string
}

// DeleteMilestone proposes removing a milestone.
type DeleteMilestone struct {
	MilestoneID int64
	Title       string
}

// UpdateMilestone proposes changing fields of a milestone.
type UpdateMilestone struct {
	MilestoneID int64
	Title       string
	Fields      map[string]any
}

// SetDeadline proposes a target date for a milestone.
type SetDeadline struct {
	MilestoneID int64
	Title       string
	TargetDate  string
}

// CreateTask proposes a new task.
type CreateTask struct {
	Title       string
	MilestoneID int64
	DueDate     string
}

// CompleteTask proposes marking a task done.
type CompleteTask struct {
	TaskID int64
	Title  string
}

// Unknown holds an action this client has no typed form for. It previews as
// raw JSON and is still confirmable.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (CreateMilestone) ActionType() string   { return ActionCreateMilestone }
func (CompleteMilestone) ActionType() string { return ActionCompleteMilestone }
func (DeleteMilestone) ActionType() string   { return ActionDeleteMilestone }
func (UpdateMilestone) ActionType() string   { return ActionUpdateMilestone }
func (SetDeadline) ActionType() string       { return ActionSetDeadline }
func (CreateTask) ActionType() string        { return ActionCreateTask }
func (CompleteTask) ActionType() string      { return ActionCompleteTask }
func (u Unknown) ActionType() string         { return u.Type }

func (a CreateMilestone) Preview() string {
	if a.TargetDate != "" {
		return fmt.Sprintf("📌 Create milestone: %s (until %s)", a.Title, a.TargetDate)
	}
	return "📌 Create milestone: " + a.Title
}

func (a CompleteMilestone) Preview() string {
	return "✅ Complete milestone: " + labelOr(a.Title, a.MilestoneID)
}

func (a DeleteMilestone) Preview() string {
	return "🗑 Delete milestone: " + labelOr(a.Title, a.MilestoneID)
}

func (a UpdateMilestone) Preview() string {
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return fmt.Sprintf("✏️ Update milestone %s: %s", labelOr(a.Title, a.MilestoneID), strings.Join(keys, ", "))
}

func (a SetDeadline) Preview() string {
	return fmt.Sprintf("⏰ Set deadline for %s: %s", labelOr(a.Title, a.MilestoneID), a.TargetDate)
}

func (a CreateTask) Preview() string {
	if a.DueDate != "" {
		return fmt.Sprintf("📌 Create task: %s (due %s)", a.Title, a.DueDate)
	}
	return "📌 Create task: " + a.Title
}

func (a CompleteTask) Preview() string {
	return "✅ Complete task: " + labelOr(a.Title, a.TaskID)
}

func (u Unknown) Preview() string {
	return fmt.Sprintf("%s: %s", u.Type, u.Raw)
}

// Decode returns the typed form of the action. Unrecognized discriminators
// yield Unknown.
func (p PendingAction) Decode() Action {
	d := p.Data
	switch p.Type {
	case ActionCreateMilestone:
		return CreateMilestone{
			Title:       stringField(d, "title"),
			Description: stringField(d, "description"),
			TargetDate:  stringField(d, "target_date", "deadline"),
		}
	case ActionCompleteMilestone:
		return CompleteMilestone{MilestoneID: idField(d, "milestone_id", "id"), Title: stringField(d, "title")}
	case ActionDeleteMilestone:
		return DeleteMilestone{MilestoneID: idField(d, "milestone_id", "id"), Title: stringField(d, "title")}
	case ActionUpdateMilestone:
		fields := make(map[string]any, len(d))
		for k, v := range d {
			if k != "milestone_id" && k != "id" {
				fields[k] = v
			}
		}
		return UpdateMilestone{MilestoneID: idField(d, "milestone_id", "id"), Title: stringField(d, "title"), Fields: fields}
	case ActionSetDeadline:
		return SetDeadline{
			MilestoneID: idField(d, "milestone_id", "id"),
			Title:       stringField(d, "title"),
			TargetDate:  stringField(d, "target_date", "deadline"),
		}
	case ActionCreateTask:
		return CreateTask{
			Title:       stringField(d, "title"),
			MilestoneID: idField(d, "milestone_id"),
			DueDate:     stringField(d, "due_date"),
		}
	case ActionCompleteTask:
		return CompleteTask{TaskID: idField(d, "task_id", "id"), Title: stringField(d, "title")}
	default:
		raw, err := json.Marshal(p.Data)
		if err != nil {
			raw = json.RawMessage(`{}`)
		}
		return Unknown{Type: p.Type, Raw: raw}
	}
}

// Previews renders one line per action.
func Previews(actions []PendingAction) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Decode().Preview())
	}
	return out
}

func stringField(d map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := d[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func idField(d map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := d[k].(type) {
		case float64:
			return int64(v)
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return n
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

func labelOr(title string, id int64) string {
	if title != "" {
		return title
	}
	return "#" + strconv.FormatInt(id, 10)
}
