package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/meteocat-sync/internal/config"
	"github.com/i474232898/meteocat-sync/internal/store"
	"github.com/i474232898/meteocat-sync/internal/weather"
)

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	return &config.AppConfig{
		APIKey:               "config-key-123456",
		BaseURL:              "http://127.0.0.1:1",
		EntryID:              "default",
		StationID:            "X4",
		UpdateTimes:          []string{"06:00", "14:00"},
		EnableDailyForecast:  true,
		EnableHourlyForecast: true,
		Timezone:             "UTC",
		HTTPTimeout:          time.Second,
		CycleTimeout:         5 * time.Second,
		RetryDelay:           time.Minute,
		StoreBackend:         store.BackendFile,
		StorePath:            t.TempDir(),
		HistoryMax:           5,
		Port:                 "0",
		LogLevel:             "error",
	}
}

func TestLoadEntryCreatesFromConfig(t *testing.T) {
	cfg := testConfig(t)
	entries, err := store.NewFileStore(cfg.StorePath)
	require.NoError(t, err)

	e, err := loadEntry(context.Background(), entries, cfg)
	require.NoError(t, err)
	assert.Equal(t, "config-key-123456", e.APIKey)
	assert.Equal(t, "X4", e.StationID)
	assert.False(t, e.UpdatedAt.IsZero())

	saved, err := entries.Load(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, e.UpdateTimes, saved.UpdateTimes)
}

func TestLoadEntryKeepsRuntimeState(t *testing.T) {
	cfg := testConfig(t)
	entries, err := store.NewFileStore(cfg.StorePath)
	require.NoError(t, err)

	stored := cfg.Entry()
	stored.APIKey = "reauthenticated-key-99"
	stored.UpdateTimes = []string{"07:30"}
	stored.Station = &weather.StationRecord{Code: "X4", Name: "Barcelona - el Raval"}
	require.NoError(t, entries.Save(context.Background(), stored))

	e, err := loadEntry(context.Background(), entries, cfg)
	require.NoError(t, err)
	assert.Equal(t, "reauthenticated-key-99", e.APIKey)
	assert.Equal(t, []string{"07:30"}, e.UpdateTimes)
	require.NotNil(t, e.Station)
}

func TestReconcileEntry(t *testing.T) {
	cfg := testConfig(t)

	stored := cfg.Entry()
	stored.Station = &weather.StationRecord{Code: "X4"}
	e, changed := reconcileEntry(stored, cfg)
	assert.False(t, changed)
	assert.NotNil(t, e.Station)

	// A new station invalidates the cached record.
	cfg.StationID = "YM"
	cfg.EnableHourlyForecast = false
	e, changed = reconcileEntry(stored, cfg)
	assert.True(t, changed)
	assert.Equal(t, "YM", e.StationID)
	assert.Nil(t, e.Station)
	assert.False(t, e.EnableHourlyForecast)
	assert.NotNil(t, stored.Station)

	stored.APIKey = ""
	e, changed = reconcileEntry(stored, cfg)
	assert.True(t, changed)
	assert.Equal(t, "config-key-123456", e.APIKey)
}

func TestNewWiresRoutes(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		a.scheduler.Stop()
		a.timers.Close()
		a.entries.Close()
	})

	resp, err := a.server.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = a.server.Test(httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = a.server.Test(httptest.NewRequest(http.MethodGet, "/api/v1/snapshot", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.True(t, a.coordinator.Status().FirstRefreshPending)
}
