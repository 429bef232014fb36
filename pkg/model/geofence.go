package model

import (
	"strconv"
	"time"
)

// GeoFence is one circular region attached to a schedule.
type GeoFence struct {
	Latitude            float64 `json:"lat"`
	Longitude           float64 `json:"lng"`
	RadiusKm            float64 `json:"radiusKm"`
	ScheduleDeviceID    string  `json:"deviceUid"`
	ScheduleID          int     `json:"scheduleId"`
	LoiteringDelayMs    int64   `json:"loiteringDelayMs"`
	DeliveryDelayMs     int64   `json:"deliveryDelayMs"`
	DoesNotNotify       bool    `json:"doesNotNotify"`
	NotifiesSilently    bool    `json:"notifiesSilently"`
	LogoImageURL        string  `json:"logoImageUrl"`
	NotificationTitle   string  `json:"customEntryNotificationTitle"`
	NotificationMessage string  `json:"customEntryNotificationMessage"`
}

// Key identifies the fence in the entered-region and notification caches.
func (g GeoFence) Key() string {
	return OfferKey(g.ScheduleID, g.ScheduleDeviceID)
}

// ScheduleKey is the key of the fence's bucket in Listing.Regions.
func (g GeoFence) ScheduleKey() string {
	return strconv.Itoa(g.ScheduleID)
}

func (g GeoFence) RadiusMeters() float64 {
	return g.RadiusKm * 1000
}

func (g GeoFence) DwellDelay() time.Duration {
	return time.Duration(g.LoiteringDelayMs) * time.Millisecond
}

func (g GeoFence) DeliveryDelay() time.Duration {
	return time.Duration(g.DeliveryDelayMs) * time.Millisecond
}

// Location is a WGS84 coordinate.
type Location struct {
	Latitude  float64 `json:"lat" toml:"latitude"`
	Longitude float64 `json:"lng" toml:"longitude"`
}
