// Package progress derives goal progress from milestones and tasks.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/ErmakovSemen/ai-goal-tracker/internal/domain"
)

// Source reads the derived state of a goal.
type Source interface {
	ListMilestones(ctx context.Context, goalID int64) ([]domain.Milestone, error)
	ListTasks(ctx context.Context, goalID int64) ([]domain.Task, error)
}

// Snapshot is the progress of a goal at one refresh.
type Snapshot struct {
	GoalID              int64
	Milestones          []domain.Milestone
	Tasks               []domain.Task
	MilestonesCompleted int
	TasksCompleted      int
	// Percent is the share of completed milestones, rounded.
	Percent int
}

// Compute builds a snapshot from raw lists.
func Compute(goalID int64, milestones []domain.Milestone, tasks []domain.Task) Snapshot {
	s := Snapshot{GoalID: goalID, Milestones: milestones, Tasks: tasks}
	for _, m := range milestones {
		if m.Done() {
			s.MilestonesCompleted++
		}
	}
	for _, t := range tasks {
		if t.IsCompleted {
			s.TasksCompleted++
		}
	}
	if len(milestones) > 0 {
		s.Percent = int(math.Round(float64(s.MilestonesCompleted) / float64(len(milestones)) * 100))
	}
	return s
}

// String renders a one-line summary.
func (s Snapshot) String() string {
	return fmt.Sprintf("%d%% (%d/%d milestones, %d/%d tasks)",
		s.Percent, s.MilestonesCompleted, len(s.Milestones), s.TasksCompleted, len(s.Tasks))
}

// Tracker refreshes and caches the latest snapshot of one goal.
type Tracker struct {
	source Source
	goalID int64
	logger *slog.Logger

	mu       sync.RWMutex
	snapshot Snapshot
	onChange func(Snapshot)
}

// NewTracker creates a tracker. onChange, if set, is called after each
// successful refresh.
func NewTracker(source Source, goalID int64, onChange func(Snapshot), logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{source: source, goalID: goalID, onChange: onChange, logger: logger}
}

// Refresh re-reads milestones and tasks. A failed read keeps the previous
// snapshot.
func (t *Tracker) Refresh(ctx context.Context) (Snapshot, error) {
	milestones, err := t.source.ListMilestones(ctx, t.goalID)
	if err != nil {
		return t.Snapshot(), fmt.Errorf("list milestones: %w", err)
	}
	tasks, err := t.source.ListTasks(ctx, t.goalID)
	if err != nil {
		return t.Snapshot(), fmt.Errorf("list tasks: %w", err)
	}

	snap := Compute(t.goalID, milestones, tasks)
	t.mu.Lock()
	t.snapshot = snap
	t.mu.Unlock()

	t.logger.Debug("Progress refreshed", "goal_id", t.goalID, "percent", snap.Percent)
	if t.onChange != nil {
		t.onChange(snap)
	}
	return snap, nil
}

// Snapshot returns the last refreshed snapshot.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot
}
