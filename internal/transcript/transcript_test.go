package transcript

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileLoggerWritesPerChatNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := New(Config{Enabled: true, Dir: dir, QueueSize: 16}, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Log(Event{
		GoalID:     4,
		ChatID:     11,
		EventType:  EventAssistantMessage,
		MessageID:  3,
		Sender:     "ai",
		ContentRaw: "Add it? <!--PENDING_ACTIONS:[{\"type\":\"create_milestone\",\"data\":{\"title\":\"x\"}}]-->",
	})

	path := filepath.Join(dir, "4", "11.ndjson")
	line := waitForLogLine(t, path)
	var got Event
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.MessageID != 3 || got.EventType != EventAssistantMessage {
		t.Fatalf("unexpected event: %+v", got)
	}
	if got.Content != "Add it?" {
		t.Fatalf("expected cleaned content, got %q", got.Content)
	}
	if got.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be populated")
	}
}

func TestFileLoggerCloseDrainsQueue(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := New(Config{Enabled: true, Dir: dir, QueueSize: 64}, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		logger.Log(Event{GoalID: 1, ChatID: 1, EventType: EventUserTurn, ContentRaw: "hi"})
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Logging after close is a no-op.
	logger.Log(Event{GoalID: 1, ChatID: 1, EventType: EventUserTurn})

	data, err := os.ReadFile(filepath.Join(dir, "1", "1.ndjson"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if n := len(strings.Split(strings.TrimSpace(string(data)), "\n")); n != 10 {
		t.Errorf("Expected 10 lines, got %d", n)
	}
}

func TestNewDisabledReturnsNop(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Enabled: false, Dir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := logger.(Nop); !ok {
		t.Fatalf("Expected Nop logger, got %T", logger)
	}
}

func TestCleanForReadabilityStripsTrailerAndControls(t *testing.T) {
	t.Parallel()

	raw := "answer\x07 text\n\n━━━━\n🔧 DEBUG LOG:\ntokens=5"
	clean := cleanForReadability(raw)
	if clean != "answer text" {
		t.Fatalf("unexpected cleaned text %q", clean)
	}
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) > 0 {
				return lines[len(lines)-1]
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log file %s", path)
	return ""
}
