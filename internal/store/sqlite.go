package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ErmakovSemen/ai-goal-tracker/internal/domain"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	maxRetries = 3
	baseDelay  = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets the sync loops read while a merge is being written.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS chats (
		chat_id INTEGER PRIMARY KEY,
		goal_id INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chats_goal ON chats(goal_id, chat_id);

	CREATE TABLE IF NOT EXISTS messages (
		chat_id INTEGER NOT NULL,
		message_id INTEGER NOT NULL,
		sender TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER,
		PRIMARY KEY (chat_id, message_id)
	);

	CREATE TABLE IF NOT EXISTS processed_goals (
		chat_id INTEGER NOT NULL,
		goal_id INTEGER NOT NULL,
		processed_at INTEGER NOT NULL,
		PRIMARY KEY (chat_id, goal_id)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// withRetry runs fn, retrying SQLITE_BUSY and lock errors with exponential
// backoff: 100ms, 200ms.
func withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("SQLite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		if sleepErr := shared.SleepContext(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// SaveChat records the chat bound to a goal.
func (s *SQLiteStore) SaveChat(ctx context.Context, chat domain.Chat) error {
	query := `
	INSERT INTO chats (chat_id, goal_id, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(chat_id) DO UPDATE SET
		goal_id = excluded.goal_id,
		updated_at = excluded.updated_at`

	now := time.Now().UnixMicro()
	createdAt := now
	if !chat.CreatedAt.IsZero() {
		createdAt = chat.CreatedAt.UnixMicro()
	}
	return withRetry(ctx, "save chat", func() error {
		_, err := s.db.ExecContext(ctx, query, chat.ID, chat.GoalID, createdAt, now)
		return err
	})
}

// ChatForGoal returns the lowest-id cached chat for a goal.
func (s *SQLiteStore) ChatForGoal(ctx context.Context, goalID int64) (*domain.Chat, error) {
	query := `
		SELECT chat_id, goal_id, created_at, updated_at
		FROM chats WHERE goal_id = ? ORDER BY chat_id LIMIT 1`

	var chat domain.Chat
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, goalID).Scan(&chat.ID, &chat.GoalID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat row: %w", err)
	}
	chat.CreatedAt = fromMicro(createdAt)
	chat.UpdatedAt = fromMicro(updatedAt)
	return &chat, nil
}

// SaveMessages upserts server messages of a chat in one transaction and
// touches the chat so CleanupStaleChats keeps it.
func (s *SQLiteStore) SaveMessages(ctx context.Context, chatID int64, msgs []domain.Message) error {
	return withRetry(ctx, "save messages", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO messages (chat_id, message_id, sender, content, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(chat_id, message_id) DO UPDATE SET
				sender = excluded.sender,
				content = excluded.content,
				created_at = excluded.created_at`)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := stmt.Close(); closeErr != nil {
				slog.Warn("failed to close message statement", "error", closeErr)
			}
		}()

		for _, m := range msgs {
			if m.IsLocal() {
				continue
			}
			if _, err := stmt.ExecContext(ctx, chatID, m.ID, string(m.Sender), m.Body, unixMicro(m.CreatedAt)); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE chat_id = ?`, time.Now().UnixMicro(), chatID); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// LoadMessages returns the cached messages of a chat ordered by id.
func (s *SQLiteStore) LoadMessages(ctx context.Context, chatID int64) ([]domain.Message, error) {
	query := `
		SELECT message_id, sender, content, created_at
		FROM messages WHERE chat_id = ? ORDER BY message_id`

	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var msgs []domain.Message
	for rows.Next() {
		m := domain.Message{ChatID: chatID}
		var sender string
		var createdAt sql.NullInt64
		if err := rows.Scan(&m.ID, &sender, &m.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Sender = domain.Sender(sender)
		if createdAt.Valid {
			m.CreatedAt = fromMicro(createdAt.Int64)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// MarkGoalProcessed records that the goal-created callback ran for goalID.
func (s *SQLiteStore) MarkGoalProcessed(ctx context.Context, chatID, goalID int64) error {
	query := `
	INSERT INTO processed_goals (chat_id, goal_id, processed_at)
	VALUES (?, ?, ?)
	ON CONFLICT(chat_id, goal_id) DO NOTHING`

	return withRetry(ctx, "mark goal processed", func() error {
		_, err := s.db.ExecContext(ctx, query, chatID, goalID, time.Now().UnixMicro())
		return err
	})
}

// ProcessedGoals returns the goal ids whose callback already ran.
func (s *SQLiteStore) ProcessedGoals(ctx context.Context, chatID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT goal_id FROM processed_goals WHERE chat_id = ? ORDER BY goal_id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query processed goals: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close processed goal rows", "error", closeErr)
		}
	}()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan processed goal: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate processed goals: %w", err)
	}
	return ids, nil
}

// CleanupStaleChats removes chats not touched within ttl.
func (s *SQLiteStore) CleanupStaleChats(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).UnixMicro()
	var removed int64

	err := withRetry(ctx, "cleanup stale chats", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		for _, q := range []string{
			`DELETE FROM messages WHERE chat_id IN (SELECT chat_id FROM chats WHERE updated_at < ?)`,
			`DELETE FROM processed_goals WHERE chat_id IN (SELECT chat_id FROM chats WHERE updated_at < ?)`,
		} {
			if _, err := tx.ExecContext(ctx, q, threshold); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE updated_at < ?`, threshold)
		if err != nil {
			return err
		}
		if removed, err = res.RowsAffected(); err != nil {
			return err
		}
		return tx.Commit()
	})
	return removed, err
}

func unixMicro(ts domain.Timestamp) any {
	if ts.IsZero() {
		return nil
	}
	return ts.UnixMicro()
}

func fromMicro(v int64) domain.Timestamp {
	if v == 0 {
		return domain.Timestamp{}
	}
	return domain.Timestamp{Time: time.UnixMicro(v).UTC()}
}
