// Package devicestate persists the per-install values the SDK needs across
// launches: the device ID, the last known location and the refresh and push
// token bookkeeping. State is stored as TOML.
package devicestate

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/storage/file"
	"github.com/tinywideclouds/go-geooffers-sdk/pkg/model"
)

const defaultStatePath = "~/.geooffers/device.toml"

// State is the on-disk document.
type State struct {
	DeviceID            string          `toml:"device_id"`
	ClientID            int             `toml:"client_id,omitempty"`
	LastKnownLocation   *model.Location `toml:"last_known_location,omitempty"`
	LastRefreshLocation *model.Location `toml:"last_refresh_location,omitempty"`
	LastRefreshMs       int64           `toml:"last_refresh_ms,omitempty"`
	PushToken           string          `toml:"push_token,omitempty"`
	PendingPushToken    string          `toml:"pending_push_token,omitempty"`
}

// DeviceState guards State and writes it back on every change. Write
// failures are logged; the in-memory value stays authoritative.
type DeviceState struct {
	mu     sync.Mutex
	path   string
	state  State
	logger *slog.Logger
}

// Load reads the state at path, falling back to an empty state when the file
// is missing or unreadable. A device ID is generated and saved when none is
// stored yet.
func Load(path string, logger *slog.Logger) *DeviceState {
	logger = logger.With("component", "DeviceState")
	d := &DeviceState{logger: logger}

	resolved, err := resolvePath(path)
	if err != nil {
		logger.Warn("Cannot resolve device state path, state will not persist", "path", path, "err", err)
	}
	d.path = resolved

	if resolved != "" {
		d.state = read(resolved, logger)
	}
	if strings.TrimSpace(d.state.DeviceID) == "" {
		d.state.DeviceID = uuid.NewString()
		logger.Info("Generated device ID", "device_id", d.state.DeviceID)
		d.persist()
	}
	return d
}

func read(path string, logger *slog.Logger) State {
	var state State
	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Failed to open device state", "path", path, "err", err)
		}
		return state
	}
	defer func() { _ = f.Close() }()

	bytes, err := io.ReadAll(f)
	if err != nil {
		logger.Warn("Failed to read device state", "path", path, "err", err)
		return state
	}
	if err := toml.Unmarshal(bytes, &state); err != nil {
		logger.Warn("Device state is corrupt, starting fresh", "path", path, "err", err)
		return State{}
	}
	return state
}

// Save writes state to path, creating directories as needed.
func Save(path string, state State) error {
	resolved, err := resolvePath(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	bytes, err := toml.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.WriteFile(resolved, bytes, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Path is the resolved file path, empty when the state is memory-only.
func (d *DeviceState) Path() string {
	return d.path
}

// Snapshot returns a copy of the current state.
func (d *DeviceState) Snapshot() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *DeviceState) DeviceID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.DeviceID
}

func (d *DeviceState) ClientID() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.ClientID
}

func (d *DeviceState) SetClientID(id int) {
	d.update(func(s *State) { s.ClientID = id })
}

func (d *DeviceState) LastKnownLocation() (model.Location, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state.LastKnownLocation == nil {
		return model.Location{}, false
	}
	return *d.state.LastKnownLocation, true
}

func (d *DeviceState) SetLastKnownLocation(loc model.Location) {
	d.update(func(s *State) { s.LastKnownLocation = &loc })
}

// LastRefresh reports where and when nearby offers were last requested. ok
// is false before the first request.
func (d *DeviceState) LastRefresh() (loc model.Location, at time.Time, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state.LastRefreshLocation == nil {
		return model.Location{}, time.Time{}, false
	}
	return *d.state.LastRefreshLocation, time.UnixMilli(d.state.LastRefreshMs), true
}

func (d *DeviceState) MarkRefreshed(loc model.Location, at time.Time) {
	d.update(func(s *State) {
		s.LastRefreshLocation = &loc
		s.LastRefreshMs = at.UnixMilli()
	})
}

// ResetRefreshTime clears the refresh time so the minimum wait no longer
// holds the next poll back.
func (d *DeviceState) ResetRefreshTime() {
	d.update(func(s *State) { s.LastRefreshMs = 0 })
}

func (d *DeviceState) PushToken() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.PushToken
}

func (d *DeviceState) PendingPushToken() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.PendingPushToken
}

// SetPendingPushToken stores a token that still has to be registered with
// the server. Re-submitting the registered token is a no-op.
func (d *DeviceState) SetPendingPushToken(token string) {
	d.update(func(s *State) {
		if token == s.PushToken {
			s.PendingPushToken = ""
			return
		}
		s.PendingPushToken = token
	})
}

// ConfirmPushToken promotes the pending token after a successful
// registration. It returns false when nothing was pending.
func (d *DeviceState) ConfirmPushToken() bool {
	confirmed := false
	d.update(func(s *State) {
		if s.PendingPushToken == "" {
			return
		}
		s.PushToken = s.PendingPushToken
		s.PendingPushToken = ""
		confirmed = true
	})
	return confirmed
}

func (d *DeviceState) update(fn func(*State)) {
	d.mu.Lock()
	fn(&d.state)
	d.mu.Unlock()
	d.persist()
}

func (d *DeviceState) persist() {
	if d.path == "" {
		return
	}
	if err := Save(d.path, d.Snapshot()); err != nil {
		d.logger.Warn("Failed to save device state", "path", d.path, "err", err)
	}
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return file.ExpandPath(defaultStatePath)
	}
	return file.ExpandPath(path)
}
