package model

import (
	"encoding/json"
	"strconv"
)

const (
	offerScheduleIDKey = "scheduleId"
	offerDeviceIDKey   = "deviceUid"
	offerCountdownKey  = "countdownToExpiryStartedTimestampMsOrNull"
	offerCouponHashKey = "clientCouponHash"
)

// Offer is the presentable part of a campaign. Only the fields the SDK acts
// on are typed; every other attribute is kept verbatim for the web view.
type Offer struct {
	ScheduleID                *int
	ScheduleDeviceID          string
	CountdownStartedTimestamp *int64
	ClientCouponHash          *string
	Attributes                map[string]json.RawMessage
}

func (o *Offer) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*o = Offer{}
	if raw, ok := fields[offerScheduleIDKey]; ok {
		if id, err := flexInt(raw); err == nil {
			v := int(id)
			o.ScheduleID = &v
		}
		delete(fields, offerScheduleIDKey)
	}
	if raw, ok := fields[offerDeviceIDKey]; ok {
		_ = json.Unmarshal(raw, &o.ScheduleDeviceID)
		delete(fields, offerDeviceIDKey)
	}
	if raw, ok := fields[offerCountdownKey]; ok {
		if ts, err := flexInt(raw); err == nil {
			o.CountdownStartedTimestamp = &ts
		}
		delete(fields, offerCountdownKey)
	}
	if raw, ok := fields[offerCouponHashKey]; ok {
		var hash *string
		if err := json.Unmarshal(raw, &hash); err == nil {
			o.ClientCouponHash = hash
		}
		delete(fields, offerCouponHashKey)
	}
	if len(fields) > 0 {
		o.Attributes = fields
	}
	return nil
}

func (o Offer) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(o.Attributes)+4)
	for k, v := range o.Attributes {
		out[k] = v
	}
	if o.ScheduleID != nil {
		out[offerScheduleIDKey] = *o.ScheduleID
	}
	if o.ScheduleDeviceID != "" {
		out[offerDeviceIDKey] = o.ScheduleDeviceID
	}
	out[offerCountdownKey] = o.CountdownStartedTimestamp
	if o.ClientCouponHash != nil {
		out[offerCouponHashKey] = *o.ClientCouponHash
	}
	return json.Marshal(out)
}

// Campaign wraps the offer shown for a campaign.
type Campaign struct {
	CampaignID int   `json:"campaignId"`
	Offer      Offer `json:"offer"`
}

// Key is the campaign's entry in Listing.Campaigns.
func (c Campaign) Key() string {
	return strconv.Itoa(c.CampaignID)
}
