package listing

import (
	"math"

	"github.com/tinywideclouds/go-geooffers-sdk/pkg/model"
)

const earthRadiusMeters = 6371000.0

// Distance is the great-circle distance between a and b in meters.
func Distance(a, b model.Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Contains reports whether loc lies inside the fence.
func Contains(fence model.GeoFence, loc model.Location) bool {
	center := model.Location{Latitude: fence.Latitude, Longitude: fence.Longitude}
	return Distance(center, loc) <= fence.RadiusMeters()
}
