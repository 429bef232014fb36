// Package cache holds the in-memory cache schema and the single mutation
// hook every sub-cache reports through.
package cache

import (
	"encoding/json"

	"github.com/tinywideclouds/go-geooffers-sdk/pkg/model"
)

// CacheData is the root of everything persisted. Maps are keyed by offer key
// ("{scheduleID}_{scheduleDeviceID}").
type CacheData struct {
	Listing              *model.Listing                  `json:"listing,omitempty"`
	PushMessages         []model.PushFragment            `json:"pushNotificationSplitMessages"`
	TrackingEvents       []model.TrackingEvent           `json:"trackingEvents"`
	PendingOffers        map[string]model.PendingOffer   `json:"pendingOffers"`
	Offers               map[string]model.ConfirmedOffer `json:"offers"`
	PendingNotifications map[string]model.RegionCacheItem `json:"pendingNotifications"`
	EnteredRegions       map[string]model.RegionCacheItem `json:"enteredRegions"`
}

// NewCacheData returns empty data with every collection initialised.
func NewCacheData() *CacheData {
	d := &CacheData{}
	d.normalize()
	return d
}

// UnmarshalJSON tolerates missing fields and drops individual push fragments
// that no longer decode.
func (d *CacheData) UnmarshalJSON(data []byte) error {
	type plain CacheData
	var raw struct {
		plain
		PushMessages []json.RawMessage `json:"pushNotificationSplitMessages"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = CacheData(raw.plain)
	d.PushMessages = make([]model.PushFragment, 0, len(raw.PushMessages))
	for _, item := range raw.PushMessages {
		var fragment model.PushFragment
		if err := json.Unmarshal(item, &fragment); err == nil {
			d.PushMessages = append(d.PushMessages, fragment)
		}
	}
	d.normalize()
	return nil
}

func (d *CacheData) normalize() {
	if d.PushMessages == nil {
		d.PushMessages = []model.PushFragment{}
	}
	if d.TrackingEvents == nil {
		d.TrackingEvents = []model.TrackingEvent{}
	}
	if d.PendingOffers == nil {
		d.PendingOffers = map[string]model.PendingOffer{}
	}
	if d.Offers == nil {
		d.Offers = map[string]model.ConfirmedOffer{}
	}
	if d.PendingNotifications == nil {
		d.PendingNotifications = map[string]model.RegionCacheItem{}
	}
	if d.EnteredRegions == nil {
		d.EnteredRegions = map[string]model.RegionCacheItem{}
	}
}
