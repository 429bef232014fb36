// Package observer keeps a list of callbacks fired when a cache changes.
package observer

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

type subscription struct {
	seq int
	fn  func()
}

// Registry maps subscription IDs to callbacks. Callbacks run in subscription
// order, outside the registry lock, so a callback may unsubscribe itself.
type Registry struct {
	mu   sync.RWMutex
	next int
	subs map[string]subscription
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]subscription)}
}

// Subscribe registers fn and returns the ID needed to remove it.
func (r *Registry) Subscribe(fn func()) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.NewString()
	r.subs[id] = subscription{seq: r.next, fn: fn}
	r.next++
	return id
}

func (r *Registry) Unsubscribe(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return false
	}
	delete(r.subs, id)
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Notify calls every registered callback.
func (r *Registry) Notify() {
	r.mu.RLock()
	subs := make([]subscription, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].seq < subs[j].seq })
	for _, s := range subs {
		s.fn()
	}
}
