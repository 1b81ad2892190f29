package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raterudder/homedash/pkg/types"
)

// DefaultActivityLogSize is how many bus messages are kept by default.
const DefaultActivityLogSize = 50

// ActivityLog is a bounded list of bus messages, most recent first.
type ActivityLog struct {
	mu      sync.Mutex
	size    int
	entries []types.ActivityEntry
}

// NewActivityLog returns a log keeping at most size entries. A non-positive
// size uses DefaultActivityLogSize.
func NewActivityLog(size int) *ActivityLog {
	if size <= 0 {
		size = DefaultActivityLogSize
	}
	return &ActivityLog{size: size}
}

// Add records a message and drops the oldest entry once the log is full.
func (l *ActivityLog) Add(topic, message string, ts time.Time) types.ActivityEntry {
	e := types.ActivityEntry{
		ID:        uuid.NewString(),
		Topic:     topic,
		Message:   message,
		Timestamp: ts,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append([]types.ActivityEntry{e}, l.entries...)
	if len(l.entries) > l.size {
		l.entries = l.entries[:l.size]
	}
	return e
}

// Entries returns a copy of the log, most recent first.
func (l *ActivityLog) Entries() []types.ActivityEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]types.ActivityEntry, len(l.entries))
	copy(entries, l.entries)
	return entries
}

// Len returns the number of entries.
func (l *ActivityLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
