package tracking

import (
	"context"
	"sync"

	"github.com/tinywideclouds/go-geooffers-sdk/pkg/model"
)

// DefaultDebugLimit caps the debug mirror.
const DefaultDebugLimit = 5000

// DebugPersister is the slice of storage.Store the mirror needs.
type DebugPersister interface {
	Load(ctx context.Context) *[]model.TrackingEvent
	Save(value *[]model.TrackingEvent)
}

// DebugMirror keeps the most recent events, including ones never uploaded,
// for diagnostics. The oldest events are trimmed first. The persister holds
// a pointer to the live slice, so its encoding must share the lock that
// serialises Add.
type DebugMirror struct {
	mu        sync.Mutex
	events    []model.TrackingEvent
	limit     int
	persister DebugPersister
}

// NewDebugMirror loads previously mirrored events when persister is non-nil.
func NewDebugMirror(ctx context.Context, limit int, persister DebugPersister) *DebugMirror {
	if limit <= 0 {
		limit = DefaultDebugLimit
	}
	m := &DebugMirror{limit: limit, persister: persister}
	if persister != nil {
		if loaded := persister.Load(ctx); loaded != nil {
			m.events = *loaded
			m.trim()
		}
	}
	return m
}

func (m *DebugMirror) Add(events ...model.TrackingEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	m.trim()
	if m.persister != nil {
		m.persister.Save(&m.events)
	}
}

// Events returns a copy, oldest first.
func (m *DebugMirror) Events() []model.TrackingEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.TrackingEvent(nil), m.events...)
}

func (m *DebugMirror) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// trim reslices so the dropped prefix is released on the next append that
// reallocates.
func (m *DebugMirror) trim() {
	if over := len(m.events) - m.limit; over > 0 {
		m.events = m.events[over:]
	}
}
