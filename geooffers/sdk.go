// --- File: geooffers/sdk.go ---
// Package geooffers is the SDK entry point. It assembles the caches, the
// location pipeline and persistence, and serialises every call so the host
// can invoke it from any goroutine.
package geooffers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-geooffers-sdk/geooffers/config"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/cache"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/devicestate"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/listing"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/offers"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/pipeline"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/pushdata"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/regions"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/storage"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/tracking"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/webview"
	"github.com/tinywideclouds/go-geooffers-sdk/pkg/dispatch"
	"github.com/tinywideclouds/go-geooffers-sdk/pkg/model"
)

type Option func(*options)

type options struct {
	now    func() time.Time
	device *devicestate.DeviceState
}

// WithClock replaces time.Now in every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithDeviceState injects device state instead of loading it from
// cfg.DeviceStatePath.
func WithDeviceState(d *devicestate.DeviceState) Option {
	return func(o *options) { o.device = d }
}

type SDK struct {
	mu sync.Mutex

	cfg     *config.Config
	now     func() time.Time
	backend *Backends

	store      *storage.Store[cache.CacheData]
	debugStore *storage.Store[[]model.TrackingEvent]

	core     *cache.Core
	listing  *listing.Cache
	offers   *offers.Cache
	push     *pushdata.Cache
	tracking *tracking.Cache
	debug    *tracking.DebugMirror
	entered  *regions.EnteredRegions
	pending  *regions.PendingNotifications
	webview  *webview.Builder
	process  pipeline.LocationProcessor
	device   *devicestate.DeviceState

	logger *slog.Logger
}

// Open opens the configured backends and assembles the SDK. Shutdown closes
// the backends.
func Open(ctx context.Context, cfg *config.Config, dispatcher dispatch.Dispatcher, logger *slog.Logger, opts ...Option) (*SDK, error) {
	backends, err := OpenBackends(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open backends: %w", err)
	}
	return New(ctx, cfg, backends, dispatcher, logger, opts...), nil
}

// New assembles the SDK over already opened backends and hydrates the cache.
func New(ctx context.Context, cfg *config.Config, backends *Backends, dispatcher dispatch.Dispatcher, logger *slog.Logger, opts ...Option) *SDK {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	s := &SDK{
		cfg:     cfg,
		now:     o.now,
		backend: backends,
		logger:  logger.With("component", "GeoOffersSDK"),
	}

	// 1. Persistence
	// Snapshots are encoded under the same lock that serialises every call.
	s.store = storage.New[cache.CacheData](backends.Cache, logger,
		storage.WithSavePeriod(cfg.Cache.SavePeriod),
		storage.WithLocker(&s.mu),
	)
	s.core = cache.NewCore(ctx, s.store, logger)

	// 2. Caches
	s.offers = offers.New(s.core, logger, offers.WithClock(o.now))
	s.entered = regions.NewEnteredRegions(s.core, logger, regions.WithClock(o.now))
	s.pending = regions.NewPendingNotifications(s.core, logger, regions.WithClock(o.now))
	s.listing = listing.New(s.core, s.offers, logger,
		listing.WithClock(o.now),
		listing.WithMinimumMovementDistance(cfg.Location.MinimumMovementDistance),
		listing.WithScheduleRemovers(s.entered, s.pending),
	)
	s.offers.SetDeliveryRecorder(s.listing)
	s.push = pushdata.New(s.core, s.listing, logger,
		pushdata.WithClock(o.now),
		pushdata.WithFragmentTTL(cfg.Push.FragmentTTL),
	)

	trackingOpts := []tracking.Option{tracking.WithBatchSize(cfg.Tracking.BatchSize)}
	if cfg.Tracking.DebugMirror {
		var persister tracking.DebugPersister
		if backends.Debug != nil {
			s.debugStore = storage.New[[]model.TrackingEvent](backends.Debug, logger,
				storage.WithSavePeriod(cfg.Cache.SavePeriod),
				storage.WithLocker(&s.mu),
			)
			persister = s.debugStore
		}
		s.debug = tracking.NewDebugMirror(ctx, cfg.Tracking.DebugLimit, persister)
		trackingOpts = append(trackingOpts, tracking.WithDebugMirror(s.debug))
	}
	s.tracking = tracking.New(s.core, logger, trackingOpts...)

	s.webview = webview.New(s.listing, s.offers, logger,
		webview.WithClock(o.now),
		webview.WithRegistrationCode(cfg.RegistrationCode),
		webview.WithCountdownHook(func(hashes []string) {
			s.logger.Info("Coupon countdowns started", "coupons", len(hashes))
		}),
	)

	// 3. Pipeline
	s.process = pipeline.NewProcessor(pipeline.Stages{
		Listing:       s.listing,
		Offers:        s.offers,
		Regions:       s.entered,
		Notifications: s.pending,
		Tracking:      s.tracking,
		Dispatcher:    dispatcher,
		Now:           o.now,
	}, logger)

	// 4. Device state
	s.device = o.device
	if s.device == nil {
		s.device = devicestate.Load(cfg.DeviceStatePath, logger)
	}

	return s
}

// --- Lifecycle ---

// Lifecycle methods do not take s.mu: the stores take it while encoding.

// Start launches the periodic snapshot writers.
func (s *SDK) Start(ctx context.Context) {
	s.store.Start(ctx)
	if s.debugStore != nil {
		s.debugStore.Start(ctx)
	}
	s.logger.Info("SDK started", "device_id", s.device.DeviceID(), "save_period", s.cfg.Cache.SavePeriod)
}

// EnterBackground writes pending snapshots now.
func (s *SDK) EnterBackground(ctx context.Context) error {
	return s.flush(ctx)
}

// Shutdown stops the writers, writes pending snapshots and closes the
// backends.
func (s *SDK) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down SDK components...")

	var finalErr error
	if err := s.store.Close(ctx); err != nil {
		s.logger.Error("Cache snapshot write failed.", "err", err)
		finalErr = err
	}
	if s.debugStore != nil {
		if err := s.debugStore.Close(ctx); err != nil {
			s.logger.Error("Debug snapshot write failed.", "err", err)
			finalErr = errors.Join(finalErr, err)
		}
	}
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			s.logger.Error("Backend close failed.", "err", err)
			finalErr = errors.Join(finalErr, err)
		}
	}
	s.logger.Info("SDK shutdown complete.")
	return finalErr
}

func (s *SDK) flush(ctx context.Context) error {
	err := s.store.Flush(ctx)
	if s.debugStore != nil {
		err = errors.Join(err, s.debugStore.Flush(ctx))
	}
	return err
}

// --- Listing and push ---

// ReplaceListing applies a full nearby-offers response.
func (s *SDK) ReplaceListing(l model.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listing.ReplaceCache(l)
	if l.ClientID != 0 {
		s.device.SetClientID(l.ClientID)
	}
}

// ReplaceListingJSON decodes a nearby-offers response and applies it.
func (s *SDK) ReplaceListingJSON(data []byte) error {
	var l model.Listing
	if err := json.Unmarshal(data, &l); err != nil {
		return fmt.Errorf("failed to decode listing: %w", err)
	}
	s.ReplaceListing(l)
	return nil
}

// HandlePushPayload applies one raw push payload. It returns true when the
// payload was ours and was accepted.
func (s *SDK) HandlePushPayload(ctx context.Context, payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.push.HandlePayload(ctx, payload)
}

// HandlePushNotification applies a decoded platform notification dictionary.
func (s *SDK) HandlePushNotification(ctx context.Context, userInfo map[string]any) bool {
	if !pushdata.ShouldProcess(userInfo) {
		return false
	}
	fragment, skip, err := pushdata.FragmentFromNotification(ctx, userInfo)
	if err != nil {
		s.logger.Warn("Discarding push notification", "err", err)
		return false
	}
	if skip {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.push.UpdateCache(*fragment); err != nil {
		s.logger.Warn("Failed to apply push update", "err", err)
		return false
	}
	return true
}

// CleanUp drops stale and inconsistent push fragments.
func (s *SDK) CleanUp() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.push.CleanUpMessages()
}

// ClearCache drops every cached value. Device state is kept.
func (s *SDK) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listing.ClearCache()
}

// --- Location ---

// ProcessLocation runs the location pipeline for one fix.
func (s *SDK) ProcessLocation(ctx context.Context, loc model.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.device.SetLastKnownLocation(loc)
	return s.process(ctx, loc)
}

// ShouldPollNearbyOffers reports whether the host should request a fresh
// listing at loc: on the first request, once the minimum wait has passed or
// after moving the minimum distance.
func (s *SDK) ShouldPollNearbyOffers(loc model.Location) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, at, ok := s.device.LastRefresh()
	if !ok {
		return true
	}
	waited := s.now().Sub(at)
	if waited < 0 {
		waited = -waited
	}
	if waited >= s.cfg.Location.MinimumRefreshWait {
		return true
	}
	return listing.Distance(last, loc) >= s.listing.MinimumMovementDistance()
}

// MarkRefreshed records a nearby-offers request made at loc.
func (s *SDK) MarkRefreshed(loc model.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at := s.now()
	s.device.MarkRefreshed(loc, at)
	s.tracking.Add(model.NewTrackingEvent(model.EventPolledForNearbyOffers, 0, "", loc, at))
}

// MarkRefreshFailed lets the next poll through without waiting.
func (s *SDK) MarkRefreshFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.device.ResetRefreshTime()
}

// RegionsToMonitor returns the nearest live fences, capped at the configured
// number of monitored regions.
func (s *SDK) RegionsToMonitor(loc model.Location) []model.GeoFence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listing.RegionsNear(loc, s.cfg.Location.MaxMonitoredRegions)
}

func (s *SDK) DebugRegionLocations() []listing.DebugRegion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listing.DebugRegionLocations()
}

// --- Device and push token ---

func (s *SDK) DeviceID() string {
	return s.device.DeviceID()
}

// SetPushToken stores a token awaiting registration with the server.
func (s *SDK) SetPushToken(token string) {
	s.device.SetPendingPushToken(token)
}

func (s *SDK) PendingPushToken() string {
	return s.device.PendingPushToken()
}

// ConfirmPushToken is called after the server accepted the pending token.
func (s *SDK) ConfirmPushToken() bool {
	return s.device.ConfirmPushToken()
}

// --- Offers ---

func (s *SDK) Offers() []model.ConfirmedOffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offers.Offers()
}

// SubscribeOffers registers fn to run after offers change. fn runs on the
// caller's goroutine with the SDK locked and must not call back into it.
func (s *SDK) SubscribeOffers(fn func()) string {
	return s.offers.Subscribe(fn)
}

func (s *SDK) UnsubscribeOffers(id string) bool {
	return s.offers.Unsubscribe(id)
}

// SubscribeListing registers fn to run after the listing changes, with the
// same constraints as SubscribeOffers.
func (s *SDK) SubscribeListing(fn func()) string {
	return s.listing.Subscribe(fn)
}

func (s *SDK) UnsubscribeListing(id string) bool {
	return s.listing.Unsubscribe(id)
}

// CouponOpened records that the coupon for scheduleID was shown.
func (s *SDK) CouponOpened(scheduleID int, scheduleDeviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, _ := s.device.LastKnownLocation()
	event := model.NewTrackingEvent(model.EventCouponOpened, scheduleID, scheduleDeviceID, loc, s.now())
	if l := s.listing.Listing(); l != nil {
		if campaign, ok := l.CampaignForSchedule(scheduleID); ok {
			event.ClientCouponHash = campaign.Offer.ClientCouponHash
		}
	}
	s.tracking.Add(event)
}

// --- Web view ---

// OfferListFragment returns the URL fragment for the offer list page at the
// last known location.
func (s *SDK) OfferListFragment() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if loc, ok := s.device.LastKnownLocation(); ok {
		return s.webview.OfferListFragment(&loc)
	}
	return s.webview.OfferListFragment(nil)
}

func (s *SDK) CouponJSON(scheduleID int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.webview.CouponRequestJSON(scheduleID)
}

func (s *SDK) ListingJSON() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.webview.ListingRequestJSON()
}

func (s *SDK) AlreadyDeliveredOfferJSON() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.webview.AlreadyDeliveredOfferJSON()
}

func (s *SDK) DeliveredIdsAndTimestampsJSON() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.webview.DeliveredIdsAndTimestampsJSON()
}

// --- Tracking ---

func (s *SDK) HasCachedEvents() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracking.HasCachedEvents()
}

// PopTrackingEvents removes up to n of the oldest events. n <= 0 uses the
// configured batch size. Events that fail to upload go back through
// RequeueTrackingEvents.
func (s *SDK) PopTrackingEvents(n int) []model.TrackingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracking.PopCachedEvents(n)
}

func (s *SDK) RequeueTrackingEvents(events []model.TrackingEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracking.Requeue(events)
}

// TrackingUploadPayload wraps events for upload. ok is false when none of
// them is sent to the server.
func (s *SDK) TrackingUploadPayload(events []model.TrackingEvent) (payload []byte, ok bool, err error) {
	return tracking.BuildUploadPayload(s.device.DeviceID(), s.cfg.Timezone, events)
}

// DebugTrackingEvents returns the debug mirror, or nil when it is disabled.
func (s *SDK) DebugTrackingEvents() []model.TrackingEvent {
	if s.debug == nil {
		return nil
	}
	return s.debug.Events()
}
