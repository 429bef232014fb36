// Package tracking queues analytics events for batch upload.
package tracking

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-geooffers-sdk/internal/cache"
	"github.com/tinywideclouds/go-geooffers-sdk/pkg/model"
)

// DefaultBatchSize is how many events PopCachedEvents returns by default.
const DefaultBatchSize = 50

type Option func(*Cache)

// WithDebugMirror copies every added event into mirror.
func WithDebugMirror(mirror *DebugMirror) Option {
	return func(c *Cache) { c.debug = mirror }
}

func WithBatchSize(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// Cache is a FIFO queue of outbound events. Upload retries are the caller's
// job: events that fail to upload must be re-added.
type Cache struct {
	core      *cache.Core
	debug     *DebugMirror
	batchSize int
	logger    *slog.Logger

	// queued indexes the IDs in indexed.TrackingEvents. It is rebuilt when
	// the core swaps its data (hydration, ClearCache).
	queued  map[string]struct{}
	indexed *cache.CacheData
}

func New(core *cache.Core, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		core:      core,
		batchSize: DefaultBatchSize,
		logger:    logger.With("component", "TrackingCache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add appends events. An event whose ID is already queued is skipped, so a
// failed upload can be re-added without duplicating the rest of the queue.
func (c *Cache) Add(events ...model.TrackingEvent) {
	if len(events) == 0 {
		return
	}
	data := c.core.Data()
	queued := c.index(data)

	added := make([]model.TrackingEvent, 0, len(events))
	for _, e := range events {
		if e.ID != "" {
			if _, dup := queued[e.ID]; dup {
				continue
			}
			queued[e.ID] = struct{}{}
		}
		added = append(added, e)
	}
	if len(added) == 0 {
		return
	}
	data.TrackingEvents = append(data.TrackingEvents, added...)
	c.core.CacheUpdated()
	if c.debug != nil {
		c.debug.Add(added...)
	}
	c.logger.Debug("Tracking events queued", "added", len(added), "queued", len(data.TrackingEvents))
}

// Requeue puts events that failed to upload back at the front of the queue.
func (c *Cache) Requeue(events []model.TrackingEvent) {
	if len(events) == 0 {
		return
	}
	data := c.core.Data()
	queued := c.index(data)
	front := make([]model.TrackingEvent, 0, len(events)+len(data.TrackingEvents))
	for _, e := range events {
		if e.ID != "" {
			if _, dup := queued[e.ID]; dup {
				continue
			}
			queued[e.ID] = struct{}{}
		}
		front = append(front, e)
	}
	data.TrackingEvents = append(front, data.TrackingEvents...)
	c.core.CacheUpdated()
}

func (c *Cache) HasCachedEvents() bool {
	return len(c.core.Data().TrackingEvents) > 0
}

func (c *Cache) Len() int {
	return len(c.core.Data().TrackingEvents)
}

// PopCachedEvents removes and returns up to n of the oldest events. n <= 0
// uses the configured batch size.
func (c *Cache) PopCachedEvents(n int) []model.TrackingEvent {
	if n <= 0 {
		n = c.batchSize
	}
	data := c.core.Data()
	if len(data.TrackingEvents) == 0 {
		return nil
	}
	if n > len(data.TrackingEvents) {
		n = len(data.TrackingEvents)
	}
	queued := c.index(data)
	batch := make([]model.TrackingEvent, n)
	copy(batch, data.TrackingEvents[:n])
	for _, e := range batch {
		delete(queued, e.ID)
	}
	data.TrackingEvents = append([]model.TrackingEvent{}, data.TrackingEvents[n:]...)
	c.core.CacheUpdated()
	return batch
}

func (c *Cache) index(data *cache.CacheData) map[string]struct{} {
	if c.indexed == data && c.queued != nil {
		return c.queued
	}
	c.queued = make(map[string]struct{}, len(data.TrackingEvents))
	for _, e := range data.TrackingEvents {
		if e.ID != "" {
			c.queued[e.ID] = struct{}{}
		}
	}
	c.indexed = data
	return c.queued
}

// BuildUploadPayload wraps the server-bound events of a batch. ok is false
// when none of the events is sent to the server.
func BuildUploadPayload(deviceID, timezone string, events []model.TrackingEvent) (payload []byte, ok bool, err error) {
	wrapper := model.TrackingWrapper{DeviceID: deviceID, Timezone: timezone}
	for _, e := range events {
		if e.Type.ShouldSendToServer() {
			wrapper.Events = append(wrapper.Events, e)
		}
	}
	if len(wrapper.Events) == 0 {
		return nil, false, nil
	}
	payload, err = json.Marshal(wrapper)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode tracking upload: %w", err)
	}
	return payload, true, nil
}
