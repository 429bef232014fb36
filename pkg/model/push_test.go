package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-geooffers-sdk/pkg/model"
)

func TestPushFragment_Decoding(t *testing.T) {
	testCases := []struct {
		name        string
		payload     string
		expectError bool
		expected    model.PushFragment
	}{
		{
			name: "Numeric strings",
			payload: `{"geoRewardsPushMessageJson": "abc", "splitMessageTotalPortionsCount": "2",
				"offerScheduleId": "5129", "splitMessagePortionIndex": "1", "splitMessageId": "m1",
				"splitOrSingleMessageInitiatedTimestampMs": "1555000000000"}`,
			expected: model.PushFragment{Message: "abc", TotalParts: 2, ScheduleID: 5129, MessageIndex: 1, MessageID: "m1", TimestampMs: 1555000000000},
		},
		{
			name: "Numbers with defaults for split fields",
			payload: `{"geoRewardsPushMessageJson": "{}", "offerScheduleId": 7,
				"splitOrSingleMessageInitiatedTimestampMs": 1555000000000.0}`,
			expected: model.PushFragment{Message: "{}", TotalParts: 1, ScheduleID: 7, TimestampMs: 1555000000000},
		},
		{
			name:        "Missing message",
			payload:     `{"offerScheduleId": 7, "splitOrSingleMessageInitiatedTimestampMs": 1}`,
			expectError: true,
		},
		{
			name:        "Non numeric schedule",
			payload:     `{"geoRewardsPushMessageJson": "x", "offerScheduleId": "seven", "splitOrSingleMessageInitiatedTimestampMs": 1}`,
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var fragment model.PushFragment
			err := json.Unmarshal([]byte(tc.payload), &fragment)
			if tc.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, fragment)
		})
	}
}

func TestPushFragment_IsOutOfDate(t *testing.T) {
	now := time.Date(2019, 5, 1, 12, 0, 0, 0, time.UTC)
	fragment := model.PushFragment{TimestampMs: now.Add(-23 * time.Hour).UnixMilli()}
	assert.False(t, fragment.IsOutOfDate(now, 24*time.Hour))

	fragment.TimestampMs = now.Add(-25 * time.Hour).UnixMilli()
	assert.True(t, fragment.IsOutOfDate(now, 24*time.Hour))

	fragment.TimestampMs = now.Add(25 * time.Hour).UnixMilli()
	assert.True(t, fragment.IsOutOfDate(now, 24*time.Hour))
}

func TestPushUpdate_Decoding(t *testing.T) {
	t.Run("Success - Schedule ID falls back to the offer run", func(t *testing.T) {
		var update model.PushUpdate
		err := json.Unmarshal([]byte(`{"type": "REWARD_REMOVED_ADDED_OR_EDITED",
			"geofences": [{"scheduleId": 9, "deviceUid": "d9", "lat": 1, "lng": 2, "radiusKm": 0.1}],
			"offerRun": {"scheduleId": 9, "campaignId": 3}}`), &update)
		require.NoError(t, err)
		assert.Equal(t, 9, update.ScheduleID)
		assert.Len(t, update.Regions, 1)
		assert.Nil(t, update.Campaign)
	})

	t.Run("Failure - Missing offer run", func(t *testing.T) {
		var update model.PushUpdate
		assert.Error(t, json.Unmarshal([]byte(`{"type": "REWARD_REMOVED_ADDED_OR_EDITED"}`), &update))
	})
}
