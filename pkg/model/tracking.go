package model

import (
	"time"

	"github.com/google/uuid"
)

type TrackingEventType string

const (
	EventGeofenceEntry         TrackingEventType = "GeofenceEntry"
	EventGeofenceExit          TrackingEventType = "GeofenceExit"
	EventOfferDelivered        TrackingEventType = "Delivered"
	EventGeofenceDwell         TrackingEventType = "GeofenceDwell"
	EventPolledForNearbyOffers TrackingEventType = "PolledForNearbyOffers"
	EventCouponOpened          TrackingEventType = "CouponOpened"
)

// ShouldSendToServer reports whether the server accepts this event type.
// The other types are kept locally for diagnostics only.
func (t TrackingEventType) ShouldSendToServer() bool {
	switch t {
	case EventGeofenceEntry, EventOfferDelivered, EventCouponOpened:
		return true
	}
	return false
}

// TrackingEvent is one analytics record queued for upload.
type TrackingEvent struct {
	ID               string            `json:"eventId,omitempty"`
	Type             TrackingEventType `json:"type"`
	TimestampMs      int64             `json:"timestampMs"`
	ScheduleDeviceID string            `json:"deviceUid"`
	ScheduleID       int               `json:"rewardScheduleId"`
	Latitude         float64           `json:"userLatitude"`
	Longitude        float64           `json:"userLongitude"`
	ClientCouponHash *string           `json:"clientCouponHashIfApplicable,omitempty"`
}

// NewTrackingEvent stamps a new event with a fresh ID.
func NewTrackingEvent(eventType TrackingEventType, scheduleID int, scheduleDeviceID string, loc Location, at time.Time) TrackingEvent {
	return TrackingEvent{
		ID:               uuid.NewString(),
		Type:             eventType,
		TimestampMs:      at.UnixMilli(),
		ScheduleDeviceID: scheduleDeviceID,
		ScheduleID:       scheduleID,
		Latitude:         loc.Latitude,
		Longitude:        loc.Longitude,
	}
}

// NewRegionEvent records an event for a fence, falling back to the fence
// centre when no device location is known.
func NewRegionEvent(eventType TrackingEventType, fence GeoFence, loc *Location, at time.Time) TrackingEvent {
	where := Location{Latitude: fence.Latitude, Longitude: fence.Longitude}
	if loc != nil {
		where = *loc
	}
	return NewTrackingEvent(eventType, fence.ScheduleID, fence.ScheduleDeviceID, where, at)
}

// TrackingWrapper is the upload body for a batch of events.
type TrackingWrapper struct {
	DeviceID string          `json:"endUserUid"`
	Timezone string          `json:"endUserTimezone"`
	Events   []TrackingEvent `json:"events"`
}
