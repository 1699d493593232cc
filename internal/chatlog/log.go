// Package chatlog holds the locally rendered message log of a chat.
//
// The log keeps two regions. Authoritative messages carry server ids and are
// always sorted ascending with no duplicate ids. Optimistic messages are
// client-synthesized (negative ids) and sit in a tail after the authoritative
// region until the next full Replace drops them.
package chatlog

import (
	"slices"
	"sync"

	"github.com/ErmakovSemen/ai-goal-tracker/internal/domain"
)

// Log is an ordered, id-keyed message collection. It is safe for concurrent use.
type Log struct {
	mu        sync.RWMutex
	entries   []domain.Message
	local     []domain.Message
	lastSeen  int64
	nextLocal int64
}

// New returns a log seeded with msgs.
func New(msgs []domain.Message) *Log {
	l := &Log{}
	l.Replace(msgs)
	return l
}

// Merge unions incoming server messages into the authoritative region by id.
// An incoming message replaces a stored one with the same id. Optimistic
// entries are kept. It returns the number of ids that were not already present.
func (l *Log) Merge(incoming []domain.Message) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	added := 0
	for _, m := range incoming {
		if m.IsLocal() {
			continue
		}
		i, found := slices.BinarySearchFunc(l.entries, m.ID, compareID)
		if found {
			l.entries[i] = m
			continue
		}
		l.entries = slices.Insert(l.entries, i, m)
		added++
		l.observe(m.ID)
	}
	return added
}

// Replace swaps the authoritative region for msgs and discards every
// optimistic entry. Local ids are not reused afterwards. LastSeenID never decreases, even if msgs is shorter than
// what was seen before.
func (l *Log) Replace(msgs []domain.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.IsLocal() {
			entries = append(entries, m)
		}
	}
	slices.SortStableFunc(entries, func(a, b domain.Message) int { return compareID(a, b.ID) })
	// Keep the last occurrence of a duplicated id.
	deduped := entries[:0]
	for i, m := range entries {
		if i+1 < len(entries) && entries[i+1].ID == m.ID {
			continue
		}
		deduped = append(deduped, m)
		l.observe(m.ID)
	}
	l.entries = deduped
	l.local = nil
}

// Append adds a client-synthesized message to the optimistic tail. A zero id
// is replaced by the next free negative id. Append does not deduplicate
// against authoritative rows that may later carry the same content.
func (l *Log) Append(m domain.Message) domain.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	if m.ID == 0 {
		m.ID = l.allocLocalID()
	} else if m.ID > 0 {
		m.ID = -m.ID
	}
	l.local = append(l.local, m)
	return m
}

// NewLocal builds and appends a client-synthesized message.
func (l *Log) NewLocal(sender domain.Sender, body string) domain.Message {
	return l.Append(domain.NewLocalMessage(0, sender, body))
}

func (l *Log) allocLocalID() int64 {
	l.nextLocal--
	for _, m := range l.local {
		if m.ID <= l.nextLocal {
			l.nextLocal = m.ID - 1
		}
	}
	return l.nextLocal
}

func (l *Log) observe(id int64) {
	if id > l.lastSeen {
		l.lastSeen = id
	}
}

// Messages returns a copy of the rendered log: authoritative messages in id
// order followed by optimistic ones in insertion order.
func (l *Log) Messages() []domain.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Message, 0, len(l.entries)+len(l.local))
	out = append(out, l.entries...)
	return append(out, l.local...)
}

// Authoritative returns a copy of the server-backed region only.
func (l *Log) Authoritative() []domain.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.entries)
}

// Len returns the number of rendered messages, optimistic ones included.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries) + len(l.local)
}

// LastSeenID returns the highest server id ever observed.
func (l *Log) LastSeenID() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastSeen
}

// LatestAssistant returns the highest-id server message authored by the
// assistant. Client-synthesized messages never qualify: they carry no
// directives and must not retire a server batch.
func (l *Log) LatestAssistant() (domain.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].IsAssistant() {
			return l.entries[i], true
		}
	}
	return domain.Message{}, false
}

func compareID(m domain.Message, id int64) int {
	switch {
	case m.ID < id:
		return -1
	case m.ID > id:
		return 1
	default:
		return 0
	}
}
