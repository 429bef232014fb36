package devicestate_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/devicestate"
	"github.com/tinywideclouds/go-geooffers-sdk/pkg/model"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoad_MissingFileGeneratesDeviceID(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	state := devicestate.Load("", newTestLogger())

	_, err := uuid.Parse(state.DeviceID())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".geooffers", "device.toml"), state.Path())

	reloaded := devicestate.Load("", newTestLogger())
	assert.Equal(t, state.DeviceID(), reloaded.DeviceID(), "the generated ID is persisted")
}

func TestLoad_ReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.toml")
	doc := `device_id = "device-1"
client_id = 40
last_refresh_ms = 1559390400000
push_token = "token-a"

[last_refresh_location]
latitude = 51.5
longitude = -0.12
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	state := devicestate.Load(path, newTestLogger())

	assert.Equal(t, "device-1", state.DeviceID())
	assert.Equal(t, 40, state.ClientID())
	assert.Equal(t, "token-a", state.PushToken())
	loc, at, ok := state.LastRefresh()
	require.True(t, ok)
	assert.Equal(t, model.Location{Latitude: 51.5, Longitude: -0.12}, loc)
	assert.Equal(t, int64(1559390400000), at.UnixMilli())
}

func TestLoad_CorruptFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.toml")
	require.NoError(t, os.WriteFile(path, []byte("device_id = [unterminated"), 0o600))

	state := devicestate.Load(path, newTestLogger())

	assert.NotEmpty(t, state.DeviceID())
	_, _, ok := state.LastRefresh()
	assert.False(t, ok)
}

func TestDeviceState_Mutations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "device.toml")
	state := devicestate.Load(path, newTestLogger())
	at := time.Date(2019, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Refresh bookkeeping", func(t *testing.T) {
		state.MarkRefreshed(model.Location{Latitude: 1, Longitude: 2}, at)
		loc, got, ok := state.LastRefresh()
		require.True(t, ok)
		assert.Equal(t, model.Location{Latitude: 1, Longitude: 2}, loc)
		assert.True(t, at.Equal(got))

		state.ResetRefreshTime()
		_, got, ok = state.LastRefresh()
		require.True(t, ok)
		assert.Equal(t, int64(0), got.UnixMilli())
	})

	t.Run("Push token lifecycle", func(t *testing.T) {
		assert.False(t, state.ConfirmPushToken(), "nothing pending")

		state.SetPendingPushToken("token-a")
		assert.Equal(t, "token-a", state.PendingPushToken())
		assert.True(t, state.ConfirmPushToken())
		assert.Equal(t, "token-a", state.PushToken())
		assert.Empty(t, state.PendingPushToken())

		state.SetPendingPushToken("token-a")
		assert.Empty(t, state.PendingPushToken(), "already registered")
	})

	t.Run("Changes are written through", func(t *testing.T) {
		state.SetClientID(40)
		state.SetLastKnownLocation(model.Location{Latitude: 3, Longitude: 4})

		reloaded := devicestate.Load(path, newTestLogger())
		assert.Equal(t, state.Snapshot(), reloaded.Snapshot())
	})
}
