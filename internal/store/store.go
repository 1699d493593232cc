// Package store provides the local cache of chat state.
package store

import (
	"context"
	"time"

	"github.com/ErmakovSemen/ai-goal-tracker/internal/domain"
)

// Repository persists what a reopened session needs to render immediately.
type Repository interface {
	// SaveChat records the chat bound to a goal.
	SaveChat(ctx context.Context, chat domain.Chat) error

	// ChatForGoal returns the cached chat for a goal, or nil if none is cached.
	ChatForGoal(ctx context.Context, goalID int64) (*domain.Chat, error)

	// SaveMessages upserts server messages of a chat. Client-synthesized
	// messages are ignored.
	SaveMessages(ctx context.Context, chatID int64, msgs []domain.Message) error

	// LoadMessages returns the cached messages of a chat ordered by id.
	LoadMessages(ctx context.Context, chatID int64) ([]domain.Message, error)

	// MarkGoalProcessed records that the goal-created callback ran for goalID.
	MarkGoalProcessed(ctx context.Context, chatID, goalID int64) error

	// ProcessedGoals returns the goal ids whose callback already ran.
	ProcessedGoals(ctx context.Context, chatID int64) ([]int64, error)

	// CleanupStaleChats removes chats not touched within ttl, with their
	// messages and processed goals.
	CleanupStaleChats(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
