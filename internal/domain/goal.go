package domain

// Goal is the tracked objective a chat is about. Goals are owned by the
// server; the client only reads them.
type Goal struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	UserID      int64     `json:"user_id,omitempty"`
	Status      string    `json:"status,omitempty"`
	Progress    float64   `json:"progress,omitempty"`
	CreatedAt   Timestamp `json:"created_at"`
}

// Milestone is a step of a goal.
type Milestone struct {
	ID          int64     `json:"id"`
	GoalID      int64     `json:"goal_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	IsCompleted bool      `json:"is_completed"`
	Completed   *bool     `json:"completed,omitempty"`
	TargetDate  string    `json:"target_date,omitempty"`
	CreatedAt   Timestamp `json:"created_at"`
}

// Done reports completion, honouring either of the backend's field names.
func (m Milestone) Done() bool {
	if m.Completed != nil && *m.Completed {
		return true
	}
	return m.IsCompleted
}

// Task is a unit of work under a goal, optionally attached to a milestone.
type Task struct {
	ID          int64     `json:"id"`
	GoalID      int64     `json:"goal_id"`
	MilestoneID *int64    `json:"milestone_id,omitempty"`
	Title       string    `json:"title"`
	IsCompleted bool      `json:"is_completed"`
	Priority    string    `json:"priority,omitempty"`
	DueDate     string    `json:"due_date,omitempty"`
	CreatedAt   Timestamp `json:"created_at"`
}
