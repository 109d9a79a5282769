// Package history keeps a bounded in-memory tail of recent messages per
// chat stream. It backs both the analysis snapshot and the
// recent-speakers fallback used when building injections.
package history

import (
	"sort"
	"sync"
	"time"

	"github.com/aomori/sobriquet/internal/identity"
)

type Buffer struct {
	mu       sync.RWMutex
	capacity int
	streams  map[string][]identity.Message
}

func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 100
	}
	return &Buffer{
		capacity: capacity,
		streams:  map[string][]identity.Message{},
	}
}

// Append records one message at the tail of a stream, evicting the
// oldest entry once the stream is at capacity.
func (b *Buffer) Append(streamID string, message identity.Message) {
	if streamID == "" {
		return
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	messages := append(b.streams[streamID], message)
	if len(messages) > b.capacity {
		messages = messages[len(messages)-b.capacity:]
	}
	b.streams[streamID] = messages
}

// MessagesBefore returns up to limit messages with timestamps strictly
// before the cutoff, oldest first.
func (b *Buffer) MessagesBefore(streamID string, before time.Time, limit int) []identity.Message {
	if limit < 1 {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	messages := b.streams[streamID]

	eligible := make([]identity.Message, 0, len(messages))
	for _, message := range messages {
		if message.Timestamp.Before(before) {
			eligible = append(eligible, message)
		}
	}
	sort.SliceStable(eligible, func(a, c int) bool {
		return eligible[a].Timestamp.Before(eligible[c].Timestamp)
	})
	if len(eligible) > limit {
		eligible = eligible[len(eligible)-limit:]
	}
	return eligible
}

// RecentSpeakers lists distinct user ids seen in a stream, most recent
// first, capped at limit.
func (b *Buffer) RecentSpeakers(streamID string, limit int) []string {
	if limit < 1 {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	messages := b.streams[streamID]

	seen := map[string]bool{}
	speakers := make([]string, 0, limit)
	for i := len(messages) - 1; i >= 0 && len(speakers) < limit; i-- {
		userID := messages[i].UserID
		if userID == "" || seen[userID] {
			continue
		}
		seen[userID] = true
		speakers = append(speakers, userID)
	}
	return speakers
}
