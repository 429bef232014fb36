package pushdata_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/pushdata"
)

func TestFragmentTransformer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	testCases := []struct {
		name                  string
		payload               []byte
		expectSkip            bool
		expectError           bool
		expectedErrorContains string
	}{
		{
			name:    "Happy Path - String encoded numbers",
			payload: []byte(`{"geoRewardsPushMessageJson": "{}", "offerScheduleId": "12", "splitOrSingleMessageInitiatedTimestampMs": "1555000000000"}`),
		},
		{
			name:       "Skip - Not a GeoOffers payload",
			payload:    []byte(`{"aps": {"alert": "hello"}}`),
			expectSkip: true,
		},
		{
			name:                  "Failure - Malformed JSON",
			payload:               []byte("not-json"),
			expectSkip:            true,
			expectError:           true,
			expectedErrorContains: "failed to unmarshal push payload",
		},
		{
			name:                  "Failure - Missing schedule",
			payload:               []byte(`{"geoRewardsPushMessageJson": "{}", "splitOrSingleMessageInitiatedTimestampMs": 1}`),
			expectSkip:            true,
			expectError:           true,
			expectedErrorContains: "failed to unmarshal push fragment",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fragment, skip, err := pushdata.FragmentTransformer(ctx, tc.payload)

			assert.Equal(t, tc.expectSkip, skip)
			if tc.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectedErrorContains)
				assert.Nil(t, fragment)
				return
			}
			require.NoError(t, err)
			if tc.expectSkip {
				assert.Nil(t, fragment)
				return
			}
			require.NotNil(t, fragment)
			assert.Equal(t, 12, fragment.ScheduleID)
			assert.Equal(t, 1, fragment.TotalParts)
		})
	}
}

func TestFragmentFromNotification(t *testing.T) {
	userInfo := map[string]any{
		"geoRewardsPushMessageJson":                "{}",
		"offerScheduleId":                          "7",
		"splitMessageTotalPortionsCount":           "2",
		"splitMessagePortionIndex":                 "1",
		"splitMessageId":                           "abc",
		"splitOrSingleMessageInitiatedTimestampMs": 1555000000000,
	}
	require.True(t, pushdata.ShouldProcess(userInfo))
	assert.False(t, pushdata.ShouldProcess(map[string]any{"aps": "x"}))

	fragment, skip, err := pushdata.FragmentFromNotification(context.Background(), userInfo)
	require.NoError(t, err)
	require.False(t, skip)
	assert.Equal(t, 2, fragment.TotalParts)
	assert.Equal(t, 1, fragment.MessageIndex)
	assert.Equal(t, "abc", fragment.MessageID)
}
