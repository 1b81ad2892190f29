package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/homedash/pkg/insight"
	"github.com/raterudder/homedash/pkg/types"
)

func TestRangeSeriesEndpoint(t *testing.T) {
	srv, p := newTestServer(t, newUpstream(t, "{}"), nil)
	h := srv.setupHandler()

	t.Run("Default Range", func(t *testing.T) {
		w := do(t, h, "GET", "/api/series/range", "")
		require.Equal(t, http.StatusOK, w.Code)
		res := decode[struct {
			types.TimeSeriesChartData
			Totals types.SeriesTotals `json:"totals"`
		}](t, w)
		assert.Len(t, res.Labels, 24)
		assert.True(t, res.Aligned())
		assert.Equal(t, res.TimeSeriesChartData.Totals(), res.Totals)
	})

	t.Run("Explicit Range", func(t *testing.T) {
		w := do(t, h, "GET", "/api/series/range?start=2024-06-10T00:00:00Z&end=2024-06-10T06:00:00Z", "")
		require.Equal(t, http.StatusOK, w.Code)
		res := decode[types.TimeSeriesChartData](t, w)
		assert.Equal(t, []string{"00:00", "01:00", "02:00", "03:00", "04:00", "05:00"}, res.Labels)
	})

	badRequests := map[string]string{
		"/api/series/range?start=yesterday":                                     "invalid start time",
		"/api/series/range?end=2024-13-01T00:00:00Z":                            "invalid end time",
		"/api/series/range?start=2024-06-10T06:00:00Z&end=2024-06-10T00:00:00Z": "start must be before end",
		"/api/series/range?start=2024-04-01T00:00:00Z&end=2024-06-01T00:00:00Z": "range cannot exceed 31 days",
	}
	for target, msg := range badRequests {
		t.Run(msg, func(t *testing.T) {
			w := do(t, h, "GET", target, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, msg, errorMessage(t, w))
		})
	}

	t.Run("Live Without Data", func(t *testing.T) {
		startProvider(t, p)
		require.NoError(t, p.SetMode(t.Context(), true))

		// the upstream has no range endpoint and nothing was cached
		w := do(t, h, "GET", "/api/series/range", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "no data available yet", errorMessage(t, w))
		assert.NotEmpty(t, p.Connectivity().LastError)
	})
}

func TestForecastEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, newUpstream(t, "{}"), nil)

	w := do(t, srv.setupHandler(), "GET", "/api/series/forecast", "")
	require.Equal(t, http.StatusOK, w.Code)
	f := decode[types.ForecastSeries](t, w)
	assert.NotEmpty(t, f.Labels)
	assert.Len(t, f.Today, len(f.Labels))
	assert.Len(t, f.Tomorrow, len(f.Labels))
}

func TestAnnualEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, newUpstream(t, "{}"), nil)

	w := do(t, srv.setupHandler(), "GET", "/api/annual", "")
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[AnnualRes](t, w)
	for _, metric := range types.AnnualMetrics {
		require.Contains(t, res.Summary, metric)
		assert.Equal(t, []string{"2023", "2024"}, res.Summary[metric].Years())
	}
	assert.Equal(t, insight.AnnualTrends(res.Summary), res.Trends)
	assert.NotEmpty(t, res.Trends)
}

func TestDailyHistoryEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, newUpstream(t, "{}"), nil)
	h := srv.setupHandler()

	t.Run("All Tables", func(t *testing.T) {
		w := do(t, h, "GET", "/api/history/daily", "")
		require.Equal(t, http.StatusOK, w.Code)
		history := decode[types.DailyHistory](t, w)
		assert.NotEmpty(t, history.UnGroup.ByKWH)
		assert.NotEmpty(t, history.Group.ByKWH)
	})

	t.Run("Single Table", func(t *testing.T) {
		w := do(t, h, "GET", "/api/history/daily?grouped=false&percent=true", "")
		require.Equal(t, http.StatusOK, w.Code)
		res := decode[struct {
			Rows []types.DailyHistoryRow `json:"rows"`
		}](t, w)
		assert.NotEmpty(t, res.Rows)
	})

	t.Run("Invalid Parameter", func(t *testing.T) {
		w := do(t, h, "GET", "/api/history/daily?grouped=maybe", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestTotalsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, newUpstream(t, "{}"), nil)

	w := do(t, srv.setupHandler(), "GET", "/api/history/totals", "")
	require.Equal(t, http.StatusOK, w.Code)
	totals := decode[types.TotalsSample](t, w)
	assert.Positive(t, totals.Production)
}
