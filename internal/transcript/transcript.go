// Package transcript writes an NDJSON audit trail of each chat session, one
// file per chat under <dir>/<goal_id>/<chat_id>.ndjson.
package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/ErmakovSemen/ai-goal-tracker/internal/directive"
)

// Event types.
const (
	EventUserTurn         = "user_turn"
	EventAssistantMessage = "assistant_message"
	EventProactiveMessage = "proactive_message"
	EventActionOutcome    = "action_outcome"
	EventFailure          = "failure"
	EventGoalCreated      = "goal_created"
)

// Config controls the file logger.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Event is one line of a transcript.
type Event struct {
	Timestamp  time.Time                 `json:"ts"`
	GoalID     int64                     `json:"goal_id"`
	ChatID     int64                     `json:"chat_id"`
	EventType  string                    `json:"event_type"`
	MessageID  int64                     `json:"message_id,omitempty"`
	Sender     string                    `json:"sender,omitempty"`
	ContentRaw string                    `json:"content_raw,omitempty"`
	Content    string                    `json:"content,omitempty"`
	Actions    []directive.PendingAction `json:"actions,omitempty"`
	Result     string                    `json:"result,omitempty"`
	Error      string                    `json:"error,omitempty"`
}

// Logger records transcript events. Log never blocks the caller.
type Logger interface {
	Log(ev Event)
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Log(Event)    {}
func (Nop) Close() error { return nil }

// FileLogger appends events to per-chat NDJSON files from a single writer
// goroutine.
type FileLogger struct {
	dir    string
	logger *slog.Logger
	queue  chan Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
	files  map[string]*os.File
}

// New returns a FileLogger, or Nop when cfg is disabled.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled || cfg.Dir == "" {
		return Nop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	l := &FileLogger{
		dir:    cfg.Dir,
		logger: logger,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
		files:  make(map[string]*os.File),
	}
	go l.run()
	return l, nil
}

// Log enqueues ev. Events are dropped with a warning when the queue is full
// or the logger is closed.
func (l *FileLogger) Log(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Content == "" && ev.ContentRaw != "" {
		ev.Content = cleanForReadability(ev.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- ev:
	default:
		l.logger.Warn("Transcript queue full, dropping event", "chat_id", ev.ChatID, "event_type", ev.EventType)
	}
}

// Close drains the queue and closes every file.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done

	var firstErr error
	for path, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close transcript %s: %w", path, err)
		}
	}
	return firstErr
}

func (l *FileLogger) run() {
	defer close(l.done)
	for ev := range l.queue {
		if err := l.write(ev); err != nil {
			l.logger.Warn("Failed to write transcript event", "chat_id", ev.ChatID, "error", err)
		}
	}
}

func (l *FileLogger) write(ev Event) error {
	path := filepath.Join(l.dir, strconv.FormatInt(ev.GoalID, 10), strconv.FormatInt(ev.ChatID, 10)+".ndjson")
	f, ok := l.files[path]
	if !ok {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		l.files[path] = f
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

// cleanForReadability removes directive blocks, the debug trailer and
// non-printing control characters.
func cleanForReadability(raw string) string {
	body := directive.StripDebugTrailer(directive.Extract(raw).Body)
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			return r
		}
		return -1
	}, body)
}
