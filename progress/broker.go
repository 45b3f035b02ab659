// Package progress implements the Progress Broker: per-user in-memory
// state polled by the UI. No history is kept and state resets on process
// restart, matching the teacher's preference for simple in-memory
// structures over a persisted queue for ephemeral UI state.
package progress

import (
	"sync"

	"github.com/myjobmatch/matchengine/models"
)

// Broker holds the latest ProgressEvent per user.
type Broker struct {
	mu     sync.RWMutex
	events map[string]models.ProgressEvent
}

func NewBroker() *Broker {
	return &Broker{events: make(map[string]models.ProgressEvent)}
}

// Set records the latest progress event for a user, overwriting any
// prior value. Callers (the Matching Engine) are responsible for only
// ever moving stages forward within a run.
func (b *Broker) Set(userID string, event models.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.events[userID]; ok && event.StartedAt.IsZero() {
		event.StartedAt = existing.StartedAt
	}
	b.events[userID] = event
}

// Get returns the current progress for a user, and whether any run has
// ever been recorded for them.
func (b *Broker) Get(userID string) (models.ProgressEvent, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	event, ok := b.events[userID]
	return event, ok
}
