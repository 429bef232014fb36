// --- File: internal/pushdata/transformer.go ---
// Package pushdata reassembles split push payloads and feeds complete
// updates into the listing.
package pushdata

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tinywideclouds/go-geooffers-sdk/pkg/model"
)

// MessageKey marks a push payload as carrying GeoOffers data.
const MessageKey = "geoRewardsPushMessageJson"

// ShouldProcess reports whether a platform notification payload is ours.
func ShouldProcess(userInfo map[string]any) bool {
	_, ok := userInfo[MessageKey]
	return ok
}

// FragmentTransformer safely unmarshals and validates a raw push payload
// into a model.PushFragment.
//
// skip is true when the payload is not a GeoOffers push (nothing to do) or
// when it is malformed, in which case err says why.
func FragmentTransformer(_ context.Context, payload []byte) (fragment *model.PushFragment, skip bool, err error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal push payload: %w", err)
	}
	if _, ok := probe[MessageKey]; !ok {
		return nil, true, nil
	}

	var native model.PushFragment
	if err := json.Unmarshal(payload, &native); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal push fragment: %w", err)
	}
	return &native, false, nil
}

// FragmentFromNotification runs FragmentTransformer over a decoded platform
// notification dictionary.
func FragmentFromNotification(ctx context.Context, userInfo map[string]any) (*model.PushFragment, bool, error) {
	payload, err := json.Marshal(userInfo)
	if err != nil {
		return nil, true, fmt.Errorf("failed to encode notification payload: %w", err)
	}
	return FragmentTransformer(ctx, payload)
}
