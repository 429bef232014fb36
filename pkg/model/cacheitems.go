package model

import "time"

// PendingOffer is an offer waiting for its dwell delay to elapse.
// CreatedMs is Unix epoch milliseconds.
type PendingOffer struct {
	ScheduleID       int     `json:"scheduleId"`
	ScheduleDeviceID string  `json:"scheduleDeviceId"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	CreatedMs        int64   `json:"createdDateMs"`
	DwellDelayMs     int64   `json:"notificationDwellDelayMs"`
}

func (p PendingOffer) Key() string {
	return OfferKey(p.ScheduleID, p.ScheduleDeviceID)
}

// DwellElapsed reports whether the device has stayed long enough at now.
func (p PendingOffer) DwellElapsed(now time.Time) bool {
	return now.UnixMilli()-p.CreatedMs >= p.DwellDelayMs
}

// ConfirmedOffer is a pending offer whose dwell delay elapsed.
type ConfirmedOffer struct {
	PendingOffer
	ConfirmedMs int64 `json:"confirmedDateMs"`
}

// RegionCacheItem records a fence together with when it was cached and,
// for scheduled notifications, when it becomes due.
type RegionCacheItem struct {
	Region    GeoFence `json:"region"`
	CreatedMs int64    `json:"createdDateMs"`
	DueMs     int64    `json:"dueDateMs,omitempty"`
}

// LocalNotification is raised on the device when an offer is confirmed.
type LocalNotification struct {
	ID               string `json:"id"`
	ScheduleID       int    `json:"scheduleId"`
	ScheduleDeviceID string `json:"scheduleDeviceId"`
	Title            string `json:"title"`
	Body             string `json:"body"`
	Silent           bool   `json:"silent"`
}
