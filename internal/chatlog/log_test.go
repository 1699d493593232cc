package chatlog

import (
	"math/rand"
	"testing"

	"github.com/ErmakovSemen/ai-goal-tracker/internal/domain"
	"github.com/google/go-cmp/cmp"
)

func msg(id int64, sender domain.Sender) domain.Message {
	return domain.Message{ID: id, Sender: sender, Body: "m"}
}

func ids(msgs []domain.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestMergeKeepsSortedUniqueAndMonotonicLastSeen(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		l := New(nil)
		var maxSeen int64
		for step := 0; step < 20; step++ {
			batch := make([]domain.Message, rng.Intn(6))
			for i := range batch {
				batch[i] = msg(int64(rng.Intn(40)+1), domain.SenderAssistant)
				if batch[i].ID > maxSeen {
					maxSeen = batch[i].ID
				}
			}
			prev := l.LastSeenID()
			l.Merge(batch)

			got := ids(l.Messages())
			for i := 1; i < len(got); i++ {
				if got[i] <= got[i-1] {
					t.Fatalf("round %d step %d: log not strictly ascending: %v", round, step, got)
				}
			}
			if l.LastSeenID() < prev {
				t.Fatalf("LastSeenID decreased from %d to %d", prev, l.LastSeenID())
			}
			if l.LastSeenID() != maxSeen {
				t.Fatalf("LastSeenID = %d, want %d", l.LastSeenID(), maxSeen)
			}
		}
	}
}

func TestMergeReturnsNewCount(t *testing.T) {
	l := New([]domain.Message{msg(1, domain.SenderUser), msg(2, domain.SenderAssistant)})

	added := l.Merge([]domain.Message{msg(2, domain.SenderAssistant), msg(3, domain.SenderAssistant)})

	if added != 1 {
		t.Errorf("Expected 1 new message, got %d", added)
	}
	if diff := cmp.Diff([]int64{1, 2, 3}, ids(l.Messages())); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendIsNotDeduplicated(t *testing.T) {
	l := New([]domain.Message{msg(1, domain.SenderAssistant)})

	local := l.NewLocal(domain.SenderUser, "hello")
	if local.ID >= 0 {
		t.Fatalf("expected negative local id, got %d", local.ID)
	}

	// The server echoes the same turn; both renders are kept until Replace.
	l.Merge([]domain.Message{{ID: 2, Sender: domain.SenderUser, Body: "hello"}})
	if l.Len() != 3 {
		t.Fatalf("Expected optimistic entry to survive merge, len=%d", l.Len())
	}

	l.Replace([]domain.Message{msg(1, domain.SenderAssistant), {ID: 2, Sender: domain.SenderUser, Body: "hello"}})
	if diff := cmp.Diff([]int64{1, 2}, ids(l.Messages())); diff != "" {
		t.Errorf("Replace should drop optimistic entries (-want +got):\n%s", diff)
	}
}

func TestLocalIDsAreDistinct(t *testing.T) {
	l := New(nil)

	a := l.NewLocal(domain.SenderUser, "a")
	b := l.NewLocal(domain.SenderAssistant, "b")
	c := l.Append(domain.Message{ID: 5, Sender: domain.SenderUser})

	if a.ID == b.ID || a.ID >= 0 || b.ID >= 0 {
		t.Errorf("unexpected local ids %d %d", a.ID, b.ID)
	}
	if c.ID != -5 {
		t.Errorf("positive id should be negated, got %d", c.ID)
	}
	if l.LastSeenID() != 0 {
		t.Errorf("local messages must not move LastSeenID, got %d", l.LastSeenID())
	}
}

func TestReplaceNeverLowersLastSeen(t *testing.T) {
	l := New([]domain.Message{msg(10, domain.SenderAssistant)})

	l.Replace([]domain.Message{msg(3, domain.SenderAssistant)})

	if l.LastSeenID() != 10 {
		t.Errorf("Expected LastSeenID 10, got %d", l.LastSeenID())
	}
}

func TestReplaceDeduplicates(t *testing.T) {
	l := New(nil)

	l.Replace([]domain.Message{
		{ID: 2, Sender: domain.SenderAssistant, Body: "old"},
		msg(1, domain.SenderUser),
		{ID: 2, Sender: domain.SenderAssistant, Body: "new"},
	})

	got := l.Messages()
	if diff := cmp.Diff([]int64{1, 2}, ids(got)); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	if got[1].Body != "new" {
		t.Errorf("Expected last duplicate to win, got %q", got[1].Body)
	}
}

func TestLatestAssistant(t *testing.T) {
	l := New([]domain.Message{msg(1, domain.SenderAssistant), msg(2, domain.SenderUser)})

	latest, ok := l.LatestAssistant()
	if !ok || latest.ID != 1 {
		t.Fatalf("Expected message 1, got %+v ok=%v", latest, ok)
	}

	l.NewLocal(domain.SenderAssistant, "failed")
	latest, _ = l.LatestAssistant()
	if latest.ID != 1 {
		t.Errorf("local failure must not become the latest assistant message, got %d", latest.ID)
	}

	l.Merge([]domain.Message{msg(3, domain.SenderAssistant)})
	latest, _ = l.LatestAssistant()
	if latest.ID != 3 {
		t.Errorf("Expected merged message 3 to be latest, got %d", latest.ID)
	}

	if _, ok := New(nil).LatestAssistant(); ok {
		t.Error("empty log should have no latest assistant message")
	}
}

func TestLocalIDsNotReusedAfterReplace(t *testing.T) {
	l := New(nil)
	first := l.NewLocal(domain.SenderAssistant, "failed")
	l.Replace([]domain.Message{msg(1, domain.SenderAssistant)})
	second := l.NewLocal(domain.SenderAssistant, "failed")

	if second.ID >= first.ID {
		t.Errorf("local id after Replace = %d, want below %d", second.ID, first.ID)
	}
}
