package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/homedash/pkg/common"
	"github.com/raterudder/homedash/pkg/log"
	"github.com/raterudder/homedash/pkg/types"
)

// maxBodySize bounds how much of an upstream response is read.
const maxBodySize = 8 << 20

// Paths are the upstream endpoint paths, relative to the base URL.
type Paths struct {
	Snapshot     string
	DailyHistory string
	Totals       string
	Range        string
	Forecast     string
	Annual       string
}

// DefaultPaths are the endpoint paths used when none are configured.
var DefaultPaths = Paths{
	Snapshot:     "/api/dashboard",
	DailyHistory: "/api/history/daily",
	Totals:       "/api/history/totals",
	Range:        "/api/solar/range",
	Forecast:     "/api/solcast",
	Annual:       "/api/annual",
}

// StatusError is returned for a non-2xx upstream response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d", e.Code)
}

// HTTPSource polls a local HTTP JSON endpoint.
type HTTPSource struct {
	client  *http.Client
	baseURL string
	paths   Paths
}

// NewHTTPSource returns a source polling baseURL.
func NewHTTPSource(client *http.Client, baseURL string, paths Paths) *HTTPSource {
	if client == nil {
		client = common.HTTPClient(time.Minute)
	}
	return &HTTPSource{
		client:  client,
		baseURL: baseURL,
		paths:   paths,
	}
}

func configuredHTTP() *HTTPSource {
	h := NewHTTPSource(nil, "", DefaultPaths)
	baseURL := lflag.String("upstream-url", "", "Base URL of the upstream JSON endpoint (e.g. http://192.168.0.3:1880)")
	snapshot := lflag.String("snapshot-path", DefaultPaths.Snapshot, "Upstream path of the snapshot endpoint")
	history := lflag.String("history-path", DefaultPaths.DailyHistory, "Upstream path of the daily history endpoint")
	totals := lflag.String("totals-path", DefaultPaths.Totals, "Upstream path of the cumulative totals endpoint")
	rangePath := lflag.String("range-path", DefaultPaths.Range, "Upstream path of the range series endpoint")
	forecast := lflag.String("forecast-path", DefaultPaths.Forecast, "Upstream path of the solar forecast endpoint")
	annual := lflag.String("annual-path", DefaultPaths.Annual, "Upstream path of the annual summary endpoint")

	lflag.Do(func() {
		h.baseURL = *baseURL
		h.paths = Paths{
			Snapshot:     *snapshot,
			DailyHistory: *history,
			Totals:       *totals,
			Range:        *rangePath,
			Forecast:     *forecast,
			Annual:       *annual,
		}
	})

	return h
}

// Validate ensures the configuration is valid.
func (h *HTTPSource) Validate() error {
	if h.baseURL == "" {
		return errors.New("upstream-url is required")
	}
	u, err := url.Parse(h.baseURL)
	if err != nil {
		return fmt.Errorf("failed to parse upstream url (%s): %w", h.baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream url must be http or https: %s", h.baseURL)
	}
	return nil
}

func (h *HTTPSource) newGetRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	if h.baseURL == "" {
		return nil, errors.New("upstream-url is not configured")
	}
	u, err := url.Parse(h.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}
	u.RawQuery = params.Encode()
	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}

// get fetches endpoint and returns the body of a 2xx response.
func (h *HTTPSource) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	req, err := h.newGetRequest(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Ctx(ctx).DebugContext(
			ctx,
			"upstream returned error status",
			slog.String("url", req.URL.String()),
			slog.Int("status", resp.StatusCode),
		)
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream body: %w", err)
	}
	return body, nil
}

// FetchSnapshot implements Source.
func (h *HTTPSource) FetchSnapshot(ctx context.Context, prev types.DashboardSnapshot) (types.DashboardSnapshot, error) {
	body, err := h.get(ctx, h.paths.Snapshot, nil)
	if err != nil {
		return types.DashboardSnapshot{}, err
	}
	return DecodeSnapshot(ctx, body, prev)
}

// RangeSeries implements Source.
func (h *HTTPSource) RangeSeries(ctx context.Context, start, end time.Time) (types.TimeSeriesChartData, error) {
	params := url.Values{}
	params.Set("start", start.Format(time.RFC3339))
	params.Set("end", end.Format(time.RFC3339))
	body, err := h.get(ctx, h.paths.Range, params)
	if err != nil {
		return types.TimeSeriesChartData{}, err
	}
	return DecodeRangeSeries(body)
}

// ForecastSeries implements Source.
func (h *HTTPSource) ForecastSeries(ctx context.Context) (types.ForecastSeries, error) {
	body, err := h.get(ctx, h.paths.Forecast, nil)
	if err != nil {
		return types.ForecastSeries{}, err
	}
	return DecodeForecastSeries(body)
}

// AnnualSummary implements Source.
func (h *HTTPSource) AnnualSummary(ctx context.Context) (types.AnnualSummary, error) {
	body, err := h.get(ctx, h.paths.Annual, nil)
	if err != nil {
		return nil, err
	}
	return DecodeAnnualSummary(body)
}

// DailyHistory implements Source.
func (h *HTTPSource) DailyHistory(ctx context.Context) (types.DailyHistory, error) {
	body, err := h.get(ctx, h.paths.DailyHistory, nil)
	if err != nil {
		return types.DailyHistory{}, err
	}
	return DecodeDailyHistory(body)
}

// Totals implements Source.
func (h *HTTPSource) Totals(ctx context.Context) (types.TotalsSample, error) {
	body, err := h.get(ctx, h.paths.Totals, nil)
	if err != nil {
		return types.TotalsSample{}, err
	}
	return DecodeTotals(body)
}
