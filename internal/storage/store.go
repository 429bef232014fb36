// Package storage persists a single snapshot of application state through a
// pluggable Backend, coalescing saves onto a periodic write.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultSavePeriod is how often a dirty snapshot is written.
const DefaultSavePeriod = 30 * time.Second

// ErrNotFound is returned by a Backend that holds no snapshot yet.
var ErrNotFound = errors.New("snapshot not found")

// Backend reads and writes one opaque snapshot.
type Backend interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
}

type Option func(*options)

type options struct {
	savePeriod time.Duration
	locker     sync.Locker
}

// WithSavePeriod overrides DefaultSavePeriod. Tests typically use a second or less.
func WithSavePeriod(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.savePeriod = d
		}
	}
}

// WithLocker guards encoding with the lock the value's owner holds while
// mutating it. Without one the caller must not mutate during Flush.
func WithLocker(l sync.Locker) Option {
	return func(o *options) { o.locker = l }
}

// Store is a debounced, last-writer-wins container for one value of T.
//
// Save only records the value and marks it dirty. The value is encoded once
// per write, in Flush, under the configured locker.
type Store[T any] struct {
	backend Backend
	period  time.Duration
	locker  sync.Locker
	logger  *slog.Logger

	mu      sync.Mutex
	pending *T
	dirty   bool
	encodes int

	// writeMu admits one physical write at a time.
	writeMu sync.Mutex

	lifecycleMu sync.Mutex
	stop        chan struct{}
	done        chan struct{}
}

func New[T any](backend Backend, logger *slog.Logger, opts ...Option) *Store[T] {
	o := options{savePeriod: DefaultSavePeriod}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[T]{
		backend: backend,
		period:  o.savePeriod,
		locker:  o.locker,
		logger:  logger.With("component", "PersistentStore"),
	}
}

// Load returns the stored value, or nil when nothing is stored or the stored
// bytes cannot be read or decoded.
func (s *Store[T]) Load(ctx context.Context) *T {
	data, err := s.backend.Read(ctx)
	if errors.Is(err, ErrNotFound) {
		s.logger.Debug("No snapshot stored yet")
		return nil
	}
	if err != nil {
		s.logger.Warn("Failed to read snapshot, starting empty", "err", err)
		return nil
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		s.logger.Error("Failed to decode snapshot, starting empty", "err", err, "bytes", len(data))
		return nil
	}
	return &value
}

// Save records value as the next snapshot to write.
func (s *Store[T]) Save(value *T) {
	s.mu.Lock()
	s.pending = value
	s.dirty = true
	s.mu.Unlock()
}

// Dirty reports whether a saved snapshot is waiting to be written.
func (s *Store[T]) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Encodes reports how many snapshots have been encoded for writing.
func (s *Store[T]) Encodes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encodes
}

// Flush writes the pending snapshot, if any, before returning. A failed write
// leaves the snapshot pending for the next tick.
func (s *Store[T]) Flush(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	value := s.pending
	s.dirty = false
	s.encodes++
	s.mu.Unlock()

	data, err := s.encode(value)
	if err != nil {
		s.logger.Error("Failed to encode snapshot", "err", err)
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := s.backend.Write(ctx, data); err != nil {
		s.mu.Lock()
		if !s.dirty {
			s.pending = value
			s.dirty = true
		}
		s.mu.Unlock()
		s.logger.Warn("Failed to write snapshot, will retry", "err", err)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	s.logger.Debug("Snapshot written", "bytes", len(data))
	return nil
}

func (s *Store[T]) encode(value *T) ([]byte, error) {
	if s.locker != nil {
		s.locker.Lock()
		defer s.locker.Unlock()
	}
	return json.Marshal(value)
}

// Start launches the periodic writer. It stops when ctx is cancelled or
// Close is called. Calling Start on a running store is a no-op.
func (s *Store[T]) Start(ctx context.Context) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				_ = s.Flush(ctx)
			}
		}
	}(s.stop, s.done)
	s.logger.Debug("Periodic writer started", "period", s.period)
}

// Close stops the periodic writer and synchronously writes any pending snapshot.
func (s *Store[T]) Close(ctx context.Context) error {
	s.lifecycleMu.Lock()
	if s.stop != nil {
		close(s.stop)
		<-s.done
		s.stop = nil
		s.done = nil
	}
	s.lifecycleMu.Unlock()
	return s.Flush(ctx)
}
