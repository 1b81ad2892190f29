package server

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/homedash/pkg/common"
	"github.com/raterudder/homedash/pkg/insight"
	"github.com/raterudder/homedash/pkg/storage/storagemock"
	"github.com/raterudder/homedash/pkg/types"
)

func TestSnapshotEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, newUpstream(t, "{}"), nil)
	h := srv.setupHandler()

	t.Run("Snapshot", func(t *testing.T) {
		w := do(t, h, "GET", "/api/snapshot", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, types.DefaultSnapshot(), decode[types.DashboardSnapshot](t, w))
	})

	t.Run("Readings", func(t *testing.T) {
		w := do(t, h, "GET", "/api/readings", "")
		require.Equal(t, http.StatusOK, w.Code)
		r := decode[types.Readings](t, w)
		assert.Equal(t, 1450.0, r.GridWatts)
		assert.Equal(t, 64.0, r.BatterySOC)
		assert.Contains(t, r.Vehicles, "tesla")
	})

	t.Run("Activity", func(t *testing.T) {
		w := do(t, h, "GET", "/api/activity", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"entries":[]}`, w.Body.String())
	})
}

func TestInsightsEndpoint(t *testing.T) {
	t.Run("Uses Settings", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything).Return(types.Settings{
			GridAlertWatts: 1000,
			LowBatterySOC:  20,
			Location:       "UTC",
		}, types.CurrentSettingsVersion, nil)
		srv, _ := newTestServer(t, newUpstream(t, "{}"), db)

		w := do(t, srv.setupHandler(), "GET", "/api/insights", "")
		require.Equal(t, http.StatusOK, w.Code)
		in := decode[insight.Insights](t, w)
		assert.Equal(t, insight.StatusAlert, in.GridStatus)
		assert.Equal(t, insight.StatusOnline, in.BatteryStatus)
		assert.Equal(t, insight.BatteryCharging, in.BatteryFlow)
		require.Len(t, in.Alerts, 1)
		assert.Equal(t, "grid", in.Alerts[0].Metric)
		// 13:00 UTC is off-peak
		assert.False(t, in.PeakNow)
		db.AssertExpectations(t)
	})

	t.Run("Storage Error", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything).Return(types.Settings{}, 0, errors.New("unavailable"))
		srv, _ := newTestServer(t, newUpstream(t, "{}"), db)

		w := do(t, srv.setupHandler(), "GET", "/api/insights", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "failed to get settings", errorMessage(t, w))
	})
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, newUpstream(t, "{}"), nil)

	w := do(t, srv.setupHandler(), "GET", "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[StatusRes](t, w)
	assert.Equal(t, common.Version(), res.Version)
	assert.Equal(t, types.ModeSimulated, res.Connectivity.Mode)
	assert.Equal(t, types.LoopNone, res.Connectivity.ActiveLoop)
	assert.Zero(t, res.Activity)
}

func TestModeEndpoint(t *testing.T) {
	t.Run("Not Started", func(t *testing.T) {
		srv, _ := newTestServer(t, newUpstream(t, "{}"), nil)
		w := do(t, srv.setupHandler(), "POST", "/api/mode", `{"mode":"live"}`)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	srv, p := newTestServer(t, newUpstream(t, `{"grid":{"watts":500,"sens":"export"}}`), nil)
	startProvider(t, p)
	h := srv.setupHandler()

	t.Run("Invalid Body", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, do(t, h, "POST", "/api/mode", `{`).Code)
	})

	t.Run("Invalid Mode", func(t *testing.T) {
		w := do(t, h, "POST", "/api/mode", `{"mode":"turbo"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "mode must be live or simulated", errorMessage(t, w))
	})

	t.Run("Live", func(t *testing.T) {
		w := do(t, h, "POST", "/api/mode", `{"mode":"live"}`)
		require.Equal(t, http.StatusOK, w.Code)
		res := decode[StatusRes](t, w)
		assert.Equal(t, types.ModeLive, res.Connectivity.Mode)
		assert.Equal(t, types.StateLiveConnected, res.Connectivity.State)
		assert.Equal(t, types.LoopPoll, res.Connectivity.ActiveLoop)
		assert.Equal(t, 500.0, p.Snapshot().GridWatts())
	})

	t.Run("Simulated", func(t *testing.T) {
		w := do(t, h, "POST", "/api/mode", `{"mode":"simulated"}`)
		require.Equal(t, http.StatusOK, w.Code)
		res := decode[StatusRes](t, w)
		assert.Equal(t, types.StateSimulated, res.Connectivity.State)
		assert.Equal(t, types.LoopSimulate, res.Connectivity.ActiveLoop)
	})
}

func TestRefreshEndpoint(t *testing.T) {
	srv, p := newTestServer(t, newUpstream(t, "{}"), nil)
	h := srv.setupHandler()

	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, "POST", "/api/refresh", "").Code)

	startProvider(t, p)
	before := p.Snapshot()
	w := do(t, h, "POST", "/api/refresh", "")
	require.Equal(t, http.StatusOK, w.Code)
	// a simulation step derives a new snapshot
	assert.NotEqual(t, before, p.Snapshot())

	p.Close()
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, "POST", "/api/refresh", "").Code)
}
