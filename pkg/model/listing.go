package model

import (
	"encoding/json"
	"sort"
	"strconv"
)

// Listing is the merchant catalog for the registered client.
type Listing struct {
	ClientID           int                   `json:"clientId"`
	CampaignID         int                   `json:"campaignId"`
	CatchmentRadius    float64               `json:"catchmentRadius"`
	Timezone           string                `json:"timezone"`
	Regions            map[string][]GeoFence `json:"geofencesByRewardScheduleId"`
	Schedules          []Schedule            `json:"offerRuns"`
	DeliveredSchedules []DeliveredSchedule   `json:"deliveredOfferRuns"`
	ScheduleDeviceIDs  []string              `json:"scheduleDeviceUids"`
	Campaigns          map[string]Campaign   `json:"campaigns"`
}

// NewListing returns a listing with every collection initialised.
func NewListing() *Listing {
	l := &Listing{}
	l.Normalize()
	return l
}

func (l *Listing) UnmarshalJSON(data []byte) error {
	type plain Listing
	var raw struct {
		plain
		ClientID           json.RawMessage `json:"clientId"`
		CampaignID         json.RawMessage `json:"campaignId"`
		CatchmentRadius    json.RawMessage `json:"catchmentRadius"`
		Regions            json.RawMessage `json:"geofencesByRewardScheduleId"`
		Schedules          json.RawMessage `json:"offerRuns"`
		DeliveredSchedules json.RawMessage `json:"deliveredOfferRuns"`
		ScheduleDeviceIDs  json.RawMessage `json:"scheduleDeviceUids"`
		Campaigns          json.RawMessage `json:"campaigns"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = Listing(raw.plain)
	if v, err := flexInt(raw.ClientID); err == nil {
		l.ClientID = int(v)
	}
	if v, err := flexInt(raw.CampaignID); err == nil {
		l.CampaignID = int(v)
	}
	if v, err := flexFloat(raw.CatchmentRadius); err == nil {
		l.CatchmentRadius = v
	}
	decodeLenientMap(raw.Regions, &l.Regions)
	decodeLenientSlice(raw.Schedules, &l.Schedules)
	decodeLenientSlice(raw.DeliveredSchedules, &l.DeliveredSchedules)
	decodeLenientSlice(raw.ScheduleDeviceIDs, &l.ScheduleDeviceIDs)
	decodeLenientMap(raw.Campaigns, &l.Campaigns)
	l.Normalize()
	return nil
}

// Normalize replaces nil collections with empty ones.
func (l *Listing) Normalize() {
	if l.Regions == nil {
		l.Regions = map[string][]GeoFence{}
	}
	if l.Schedules == nil {
		l.Schedules = []Schedule{}
	}
	if l.DeliveredSchedules == nil {
		l.DeliveredSchedules = []DeliveredSchedule{}
	}
	if l.ScheduleDeviceIDs == nil {
		l.ScheduleDeviceIDs = []string{}
	}
	if l.Campaigns == nil {
		l.Campaigns = map[string]Campaign{}
	}
}

// AllRegions flattens the regions map in schedule-key order.
func (l *Listing) AllRegions() []GeoFence {
	var out []GeoFence
	for _, key := range SortedKeys(l.Regions) {
		out = append(out, l.Regions[key]...)
	}
	return out
}

// RegionCount is the number of fences across every schedule.
func (l *Listing) RegionCount() int {
	n := 0
	for _, fences := range l.Regions {
		n += len(fences)
	}
	return n
}

// Schedule returns the schedule with the given ID.
func (l *Listing) Schedule(scheduleID int) (Schedule, bool) {
	for _, s := range l.Schedules {
		if s.ScheduleID == scheduleID {
			return s, true
		}
	}
	return Schedule{}, false
}

// ScheduleIDs returns the distinct schedule IDs in ascending order.
func (l *Listing) ScheduleIDs() []int {
	seen := make(map[int]struct{}, len(l.Schedules))
	ids := make([]int, 0, len(l.Schedules))
	for _, s := range l.Schedules {
		if _, ok := seen[s.ScheduleID]; ok {
			continue
		}
		seen[s.ScheduleID] = struct{}{}
		ids = append(ids, s.ScheduleID)
	}
	sort.Ints(ids)
	return ids
}

// CampaignForSchedule finds the campaign whose offer runs on scheduleID.
func (l *Listing) CampaignForSchedule(scheduleID int) (Campaign, bool) {
	for _, key := range SortedKeys(l.Campaigns) {
		c := l.Campaigns[key]
		if c.Offer.ScheduleID != nil && *c.Offer.ScheduleID == scheduleID {
			return c, true
		}
	}
	if s, ok := l.Schedule(scheduleID); ok {
		c, found := l.Campaigns[strconv.Itoa(s.CampaignID)]
		return c, found
	}
	return Campaign{}, false
}

// IsDelivered reports whether the pair is recorded as delivered.
func (l *Listing) IsDelivered(scheduleID int, scheduleDeviceID string) bool {
	for _, d := range l.DeliveredSchedules {
		if d.ScheduleID == scheduleID && d.ScheduleDeviceID == scheduleDeviceID {
			return true
		}
	}
	return false
}
