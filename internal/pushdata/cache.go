package pushdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/tinywideclouds/go-geooffers-sdk/internal/cache"
	"github.com/tinywideclouds/go-geooffers-sdk/pkg/model"
)

// DefaultFragmentTTL is how long an incomplete message is kept.
const DefaultFragmentTTL = 24 * time.Hour

var (
	// ErrIncomplete means not every fragment of a message has arrived.
	ErrIncomplete = errors.New("push message incomplete")
	// ErrInconsistent means a message's fragments disagree on their layout.
	ErrInconsistent = errors.New("push message fragments inconsistent")
)

// ListingMerger applies a complete push update.
type ListingMerger interface {
	MergeUpdate(update model.PushUpdate)
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithFragmentTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

type Cache struct {
	core   *cache.Core
	merger ListingMerger
	now    func() time.Time
	ttl    time.Duration
	logger *slog.Logger
}

func New(core *cache.Core, merger ListingMerger, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		core:   core,
		merger: merger,
		now:    time.Now,
		ttl:    DefaultFragmentTTL,
		logger: logger.With("component", "PushNotificationCache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add stores a fragment. A redelivered fragment replaces the stored copy.
func (c *Cache) Add(fragment model.PushFragment) {
	data := c.core.Data()
	for i, existing := range data.PushMessages {
		if existing.MessageID == fragment.MessageID && existing.MessageIndex == fragment.MessageIndex {
			data.PushMessages[i] = fragment
			c.core.CacheUpdated()
			return
		}
	}
	data.PushMessages = append(data.PushMessages, fragment)
	c.core.CacheUpdated()
}

// Count is the number of stored fragments for messageID.
func (c *Cache) Count(messageID string) int {
	n := 0
	for _, f := range c.core.Data().PushMessages {
		if f.MessageID == messageID {
			n++
		}
	}
	return n
}

// Messages returns the fragments for messageID sorted by index.
func (c *Cache) Messages(messageID string) []model.PushFragment {
	var out []model.PushFragment
	for _, f := range c.core.Data().PushMessages {
		if f.MessageID == messageID {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MessageIndex < out[j].MessageIndex })
	return out
}

// Assemble concatenates a complete message in index order.
func (c *Cache) Assemble(messageID string) (string, error) {
	fragments := c.Messages(messageID)
	if len(fragments) == 0 {
		return "", ErrIncomplete
	}
	if !consistent(fragments) {
		return "", ErrInconsistent
	}
	if len(fragments) < fragments[0].TotalParts {
		return "", ErrIncomplete
	}
	var payload []byte
	for _, f := range fragments {
		payload = append(payload, f.Message...)
	}
	return string(payload), nil
}

// Remove evicts every fragment of messageID.
func (c *Cache) Remove(messageID string) {
	data := c.core.Data()
	kept := data.PushMessages[:0]
	removed := 0
	for _, f := range data.PushMessages {
		if f.MessageID == messageID {
			removed++
			continue
		}
		kept = append(kept, f)
	}
	if removed == 0 {
		return
	}
	data.PushMessages = kept
	c.core.CacheUpdated()
}

func (c *Cache) RemoveAllPushMessages() {
	data := c.core.Data()
	if len(data.PushMessages) == 0 {
		return
	}
	data.PushMessages = []model.PushFragment{}
	c.core.CacheUpdated()
}

// CleanUpMessages drops stale fragments and every fragment of a message whose
// layout is inconsistent. It returns how many fragments were dropped.
func (c *Cache) CleanUpMessages() int {
	data := c.core.Data()
	now := c.now()

	fresh := make([]model.PushFragment, 0, len(data.PushMessages))
	for _, f := range data.PushMessages {
		if f.IsOutOfDate(now, c.ttl) {
			continue
		}
		fresh = append(fresh, f)
	}

	groups := make(map[string][]model.PushFragment)
	for _, f := range fresh {
		groups[f.MessageID] = append(groups[f.MessageID], f)
	}
	kept := make([]model.PushFragment, 0, len(fresh))
	for _, f := range fresh {
		if consistent(groups[f.MessageID]) {
			kept = append(kept, f)
		}
	}

	dropped := len(data.PushMessages) - len(kept)
	if dropped == 0 {
		return 0
	}
	data.PushMessages = kept
	c.core.CacheUpdated()
	c.logger.Info("Push fragments cleaned up", "dropped", dropped, "remaining", len(kept))
	return dropped
}

// UpdateCache stores a fragment and, once its message is complete, merges
// the decoded update into the listing. It reports whether an update was
// applied.
func (c *Cache) UpdateCache(fragment model.PushFragment) (bool, error) {
	if fragment.IsOutOfDate(c.now(), c.ttl) {
		c.logger.Warn("Discarding stale push fragment", "message_id", fragment.MessageID, "timestamp_ms", fragment.TimestampMs)
		return false, nil
	}

	payload := fragment.Message
	if fragment.IsSplit() {
		c.Add(fragment)
		assembled, err := c.Assemble(fragment.MessageID)
		if errors.Is(err, ErrIncomplete) {
			c.logger.Debug("Waiting for more fragments",
				"message_id", fragment.MessageID,
				"received", c.Count(fragment.MessageID),
				"total", fragment.TotalParts,
			)
			return false, nil
		}
		if err != nil {
			c.Remove(fragment.MessageID)
			return false, fmt.Errorf("message %s: %w", fragment.MessageID, err)
		}
		payload = assembled
		defer c.Remove(fragment.MessageID)
	}

	var update model.PushUpdate
	if err := json.Unmarshal([]byte(payload), &update); err != nil {
		return false, fmt.Errorf("failed to decode push update for schedule %d: %w", fragment.ScheduleID, err)
	}
	if update.Type != model.PushUpdateType {
		c.logger.Warn("Ignoring unknown push update type", "type", update.Type)
		return false, nil
	}
	c.merger.MergeUpdate(update)
	return true, nil
}

// HandlePayload decodes and applies a raw push payload. It returns false
// when the payload is not ours or could not be decoded.
func (c *Cache) HandlePayload(ctx context.Context, payload []byte) bool {
	fragment, skip, err := FragmentTransformer(ctx, payload)
	if err != nil {
		c.logger.Warn("Discarding push payload", "err", err)
		return false
	}
	if skip {
		return false
	}
	if _, err := c.UpdateCache(*fragment); err != nil {
		c.logger.Warn("Failed to apply push update", "err", err)
		return false
	}
	return true
}

// consistent reports whether fragments agree on their total, have distinct
// in-range indices and do not outnumber the total.
func consistent(fragments []model.PushFragment) bool {
	if len(fragments) == 0 {
		return true
	}
	total := fragments[0].TotalParts
	if total < 1 || len(fragments) > total {
		return false
	}
	seen := make(map[int]struct{}, len(fragments))
	for _, f := range fragments {
		if f.TotalParts != total || f.MessageIndex < 0 || f.MessageIndex >= total {
			return false
		}
		if _, dup := seen[f.MessageIndex]; dup {
			return false
		}
		seen[f.MessageIndex] = struct{}{}
	}
	return true
}
