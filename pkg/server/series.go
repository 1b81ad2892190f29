package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/raterudder/homedash/pkg/insight"
	"github.com/raterudder/homedash/pkg/types"
)

const (
	defaultRange = 24 * time.Hour
	maxRange     = 31 * 24 * time.Hour
)

func writeNoData(w http.ResponseWriter) {
	writeJSONError(w, "no data available yet", http.StatusServiceUnavailable)
}

func parseTimeParam(r *http.Request, name string) (time.Time, bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// handleRangeSeries returns the flow series between the start and end query
// parameters (RFC 3339). end defaults to now and start to a day before end.
func (s *Server) handleRangeSeries(w http.ResponseWriter, r *http.Request) {
	end, ok, err := parseTimeParam(r, "end")
	if err != nil {
		writeJSONError(w, "invalid end time", http.StatusBadRequest)
		return
	}
	if !ok {
		end = s.clock.Now()
	}
	start, ok, err := parseTimeParam(r, "start")
	if err != nil {
		writeJSONError(w, "invalid start time", http.StatusBadRequest)
		return
	}
	if !ok {
		start = end.Add(-defaultRange)
	}
	if !start.Before(end) {
		writeJSONError(w, "start must be before end", http.StatusBadRequest)
		return
	}
	if end.Sub(start) > maxRange {
		writeJSONError(w, "range cannot exceed 31 days", http.StatusBadRequest)
		return
	}

	series, ok := s.telemetry.RangeSeries(r.Context(), start, end)
	if !ok {
		writeNoData(w)
		return
	}
	writeJSON(w, struct {
		types.TimeSeriesChartData
		Totals types.SeriesTotals `json:"totals"`
	}{
		TimeSeriesChartData: series,
		Totals:              series.Totals(),
	})
}

func (s *Server) handleForecastSeries(w http.ResponseWriter, r *http.Request) {
	forecast, ok := s.telemetry.ForecastSeries(r.Context())
	if !ok {
		writeNoData(w)
		return
	}
	writeJSON(w, forecast)
}

// AnnualRes is the response type for the annual summary.
type AnnualRes struct {
	Summary types.AnnualSummary   `json:"summary"`
	Trends  []insight.AnnualTrend `json:"trends"`
}

func (s *Server) handleAnnual(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.telemetry.AnnualSummary(r.Context())
	if !ok {
		writeNoData(w)
		return
	}
	trends := insight.AnnualTrends(summary)
	if trends == nil {
		trends = []insight.AnnualTrend{}
	}
	writeJSON(w, AnnualRes{Summary: summary, Trends: trends})
}

// handleDailyHistory returns every history table, or only the one selected by
// the grouped and percent query parameters when either is set.
func (s *Server) handleDailyHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var grouped, percent bool
	var err error
	if v := q.Get("grouped"); v != "" {
		if grouped, err = strconv.ParseBool(v); err != nil {
			writeJSONError(w, "invalid grouped parameter", http.StatusBadRequest)
			return
		}
	}
	if v := q.Get("percent"); v != "" {
		if percent, err = strconv.ParseBool(v); err != nil {
			writeJSONError(w, "invalid percent parameter", http.StatusBadRequest)
			return
		}
	}

	history, ok := s.telemetry.DailyHistory(r.Context())
	if !ok {
		writeNoData(w)
		return
	}
	if !q.Has("grouped") && !q.Has("percent") {
		writeJSON(w, history)
		return
	}
	rows := history.Table(grouped, percent)
	if rows == nil {
		rows = []types.DailyHistoryRow{}
	}
	writeJSON(w, struct {
		Rows []types.DailyHistoryRow `json:"rows"`
	}{Rows: rows})
}

func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	totals, ok := s.telemetry.Totals(r.Context())
	if !ok {
		writeNoData(w)
		return
	}
	writeJSON(w, totals)
}
