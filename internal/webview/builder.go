// Package webview serialises cache state into the JSON blobs injected into
// the offer list web view.
package webview

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tinywideclouds/go-geooffers-sdk/pkg/dispatch"
	"github.com/tinywideclouds/go-geooffers-sdk/pkg/model"
)

const emptyJSON = "{}"

type Option func(*Builder)

func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithCountdownHook registers fn to receive the coupon hashes whose expiry
// countdown was started by a listing request.
func WithCountdownHook(fn func(couponHashes []string)) Option {
	return func(b *Builder) { b.onCountdownsStarted = fn }
}

// WithRegistrationCode identifies the app in the offer list page fragment.
func WithRegistrationCode(code string) Option {
	return func(b *Builder) { b.registrationCode = code }
}

type Builder struct {
	listing             dispatch.ListingCache
	offers              dispatch.OffersReader
	now                 func() time.Time
	onCountdownsStarted func([]string)
	registrationCode    string
	logger              *slog.Logger
}

func New(listing dispatch.ListingCache, offers dispatch.OffersReader, logger *slog.Logger, opts ...Option) *Builder {
	b := &Builder{
		listing: listing,
		offers:  offers,
		now:     time.Now,
		logger:  logger.With("component", "WebViewBuilder"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CouponRequestJSON returns the offer of the campaign running scheduleID.
func (b *Builder) CouponRequestJSON(scheduleID int) string {
	listing := b.listing.Listing()
	if listing == nil {
		return emptyJSON
	}
	campaign, ok := listing.CampaignForSchedule(scheduleID)
	if !ok {
		return emptyJSON
	}
	return b.encode(campaign.Offer, "coupon")
}

// ListingRequestJSON returns the whole listing. The first request after a
// campaign arrives starts its expiry countdown and the stamp is persisted, so
// later requests report the same countdown.
func (b *Builder) ListingRequestJSON() string {
	if b.listing.Listing() == nil {
		return emptyJSON
	}
	hashes := b.listing.StartCampaignCountdowns(b.now().UnixMilli())
	if len(hashes) > 0 && b.onCountdownsStarted != nil {
		b.onCountdownsStarted(hashes)
	}
	return b.encode(b.listing.Listing(), "listing")
}

// AlreadyDeliveredOfferJSON returns the members of a JSON object (without
// braces) marking each delivered schedule ID, e.g. `"5139":true, "5140":true`.
func (b *Builder) AlreadyDeliveredOfferJSON() string {
	delivered := b.listing.DeliveredSchedules()
	seen := make(map[int]struct{}, len(delivered))
	items := make([]string, 0, len(delivered))
	for _, d := range delivered {
		if _, dup := seen[d.ScheduleID]; dup {
			continue
		}
		seen[d.ScheduleID] = struct{}{}
		items = append(items, strconv.Quote(strconv.Itoa(d.ScheduleID))+":true")
	}
	return strings.Join(items, ", ")
}

// DeliveredIdsAndTimestampsJSON maps each schedule with a confirmed offer to
// the earliest confirmation time in Unix milliseconds.
func (b *Builder) DeliveredIdsAndTimestampsJSON() string {
	out := make(map[string]int64)
	for _, offer := range b.offers.Offers() {
		key := strconv.Itoa(offer.ScheduleID)
		if ts, ok := out[key]; !ok || offer.ConfirmedMs < ts {
			out[key] = offer.ConfirmedMs
		}
	}
	return b.encode(out, "delivered ids")
}

// OfferListFragment is the URL fragment that opens the offer list page,
// "#<registrationCode>,<lat>,<lng>". The coordinates are empty when loc is nil.
func (b *Builder) OfferListFragment(loc *model.Location) string {
	lat, lng := "", ""
	if loc != nil {
		lat = strconv.FormatFloat(loc.Latitude, 'f', -1, 64)
		lng = strconv.FormatFloat(loc.Longitude, 'f', -1, 64)
	}
	return "#" + b.registrationCode + "," + lat + "," + lng
}

func (b *Builder) encode(v any, what string) string {
	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("Failed to encode web view payload", "payload", what, "err", err)
		return emptyJSON
	}
	return string(data)
}
