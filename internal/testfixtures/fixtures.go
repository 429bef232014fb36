// Package testfixtures embeds the payloads shared by package tests.
package testfixtures

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-geooffers-sdk/pkg/model"
)

//go:embed data/listing.json
var listingJSON []byte

//go:embed data/push_update.json
var pushUpdateJSON []byte

// Fixture listing shape.
const (
	ClientID           = 40
	CampaignID         = 4354
	ScheduleCount      = 4
	RegionCount        = 13
	DeliveredCount     = 8
	ScheduleDeviceIDs  = 10
	CampaignCount      = 4
	FirstScheduleID    = 5139
	FirstDeviceID      = "5c0f9a4443e23"
	DeliveredDeviceID  = "5c0f9a4443e24"
	FirstLatitude      = 51.506012
	FirstLongitude     = -0.463213
	FirstTitle         = "Sainsbury's sale"
	PushScheduleID     = 5143
	PushCampaignKey    = "4358"
	SilentScheduleID   = 5142
	NoNotifyScheduleID = 5141
)

func ListingJSON() []byte {
	return append([]byte(nil), listingJSON...)
}

func Listing(t testing.TB) model.Listing {
	t.Helper()
	var listing model.Listing
	require.NoError(t, json.Unmarshal(listingJSON, &listing))
	return listing
}

func PushUpdateJSON() []byte {
	return append([]byte(nil), pushUpdateJSON...)
}

// SplitPush cuts payload into parts fragments sharing messageID, in index order.
func SplitPush(payload []byte, messageID string, scheduleID, parts int, timestampMs int64) []model.PushFragment {
	size := (len(payload) + parts - 1) / parts
	fragments := make([]model.PushFragment, 0, parts)
	for i := 0; i < parts; i++ {
		start := i * size
		end := start + size
		if end > len(payload) {
			end = len(payload)
		}
		fragments = append(fragments, model.PushFragment{
			Message:      string(payload[start:end]),
			TotalParts:   parts,
			ScheduleID:   scheduleID,
			MessageIndex: i,
			MessageID:    messageID,
			TimestampMs:  timestampMs,
		})
	}
	return fragments
}

// FragmentPayload encodes a fragment the way the push provider delivers it,
// with numeric fields as strings.
func FragmentPayload(f model.PushFragment) []byte {
	payload, _ := json.Marshal(map[string]string{
		"geoRewardsPushMessageJson":                f.Message,
		"splitMessageTotalPortionsCount":           strconv.Itoa(f.TotalParts),
		"offerScheduleId":                          strconv.Itoa(f.ScheduleID),
		"splitMessagePortionIndex":                 strconv.Itoa(f.MessageIndex),
		"splitMessageId":                           f.MessageID,
		"splitOrSingleMessageInitiatedTimestampMs": fmt.Sprintf("%d", f.TimestampMs),
	})
	return payload
}
