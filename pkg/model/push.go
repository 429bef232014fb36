package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PushUpdateType is the only update kind the server sends through push.
const PushUpdateType = "REWARD_REMOVED_ADDED_OR_EDITED"

const (
	pushMessageKey    = "geoRewardsPushMessageJson"
	pushTotalPartsKey = "splitMessageTotalPortionsCount"
	pushScheduleIDKey = "offerScheduleId"
	pushIndexKey      = "splitMessagePortionIndex"
	pushMessageIDKey  = "splitMessageId"
	pushTimestampKey  = "splitOrSingleMessageInitiatedTimestampMs"
)

// PushFragment is one part of a push payload that may have been split across
// several notifications. TimestampMs is Unix epoch milliseconds.
type PushFragment struct {
	Message      string `json:"geoRewardsPushMessageJson"`
	TotalParts   int    `json:"splitMessageTotalPortionsCount"`
	ScheduleID   int    `json:"offerScheduleId"`
	MessageIndex int    `json:"splitMessagePortionIndex"`
	MessageID    string `json:"splitMessageId"`
	TimestampMs  int64  `json:"splitOrSingleMessageInitiatedTimestampMs"`
}

// UnmarshalJSON accepts numeric fields as numbers or numeric strings.
func (p *PushFragment) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	raw, ok := fields[pushMessageKey]
	if !ok {
		return fmt.Errorf("missing %s", pushMessageKey)
	}
	var message string
	if err := json.Unmarshal(raw, &message); err != nil {
		return fmt.Errorf("invalid %s: %w", pushMessageKey, err)
	}
	scheduleID, err := flexInt(fields[pushScheduleIDKey])
	if err != nil {
		return fmt.Errorf("invalid %s: %w", pushScheduleIDKey, err)
	}
	timestamp, err := flexInt(fields[pushTimestampKey])
	if err != nil {
		return fmt.Errorf("invalid %s: %w", pushTimestampKey, err)
	}
	fragment := PushFragment{
		Message:     message,
		TotalParts:  1,
		ScheduleID:  int(scheduleID),
		TimestampMs: timestamp,
	}
	if raw, ok := fields[pushTotalPartsKey]; ok {
		if v, err := flexInt(raw); err == nil {
			fragment.TotalParts = int(v)
		}
	}
	if raw, ok := fields[pushIndexKey]; ok {
		if v, err := flexInt(raw); err == nil {
			fragment.MessageIndex = int(v)
		}
	}
	if raw, ok := fields[pushMessageIDKey]; ok {
		_ = json.Unmarshal(raw, &fragment.MessageID)
	}
	*p = fragment
	return nil
}

// IsOutOfDate reports whether the fragment is further than ttl from now in
// either direction.
func (p PushFragment) IsOutOfDate(now time.Time, ttl time.Duration) bool {
	delta := now.UnixMilli() - p.TimestampMs
	if delta < 0 {
		delta = -delta
	}
	return delta > ttl.Milliseconds()
}

// IsSplit reports whether the fragment is part of a multi-part message.
func (p PushFragment) IsSplit() bool {
	return p.MessageID != "" && p.TotalParts > 1
}

// PushUpdate is the decoded payload of a complete push message.
type PushUpdate struct {
	Type       string     `json:"type"`
	ScheduleID int        `json:"scheduleId"`
	Campaign   *Campaign  `json:"campaign,omitempty"`
	Regions    []GeoFence `json:"geofences"`
	Schedule   Schedule   `json:"offerRun"`
}

func (u *PushUpdate) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type       string          `json:"type"`
		ScheduleID json.RawMessage `json:"scheduleId"`
		Campaign   *Campaign       `json:"campaign"`
		Regions    json.RawMessage `json:"geofences"`
		Schedule   *Schedule       `json:"offerRun"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Type == "" {
		return errors.New("push update has no type")
	}
	if raw.Schedule == nil {
		return errors.New("push update has no offerRun")
	}
	update := PushUpdate{
		Type:     raw.Type,
		Campaign: raw.Campaign,
		Schedule: *raw.Schedule,
	}
	if id, err := flexInt(raw.ScheduleID); err == nil {
		update.ScheduleID = int(id)
	} else {
		update.ScheduleID = raw.Schedule.ScheduleID
	}
	decodeLenientSlice(raw.Regions, &update.Regions)
	*u = update
	return nil
}
