package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/homedash/pkg/types"
)

var (
	// ErrUnsupported is returned by operations the configured source cannot
	// perform, like topic management on an HTTP source.
	ErrUnsupported = errors.New("operation not supported by source")
	// ErrNotConnected is returned when the bus is not connected.
	ErrNotConnected = errors.New("not connected")
	// ErrNoData is returned when a source has not received anything yet.
	ErrNoData = errors.New("no data received yet")
	// ErrNoSource is returned by every call of the source used when live data
	// is disabled.
	ErrNoSource = errors.New("no live source configured")
)

// Source is a live telemetry source.
type Source interface {
	// FetchSnapshot returns the current snapshot. prev is the last snapshot the
	// caller published and supplies values for malformed sections.
	FetchSnapshot(ctx context.Context, prev types.DashboardSnapshot) (types.DashboardSnapshot, error)

	// RangeSeries returns the aligned flow series between start and end.
	RangeSeries(ctx context.Context, start, end time.Time) (types.TimeSeriesChartData, error)

	// ForecastSeries returns the aligned solar forecast for today and tomorrow.
	ForecastSeries(ctx context.Context) (types.ForecastSeries, error)

	// AnnualSummary returns the month-by-year tables for every metric.
	AnnualSummary(ctx context.Context) (types.AnnualSummary, error)

	// DailyHistory returns the per-day history tables.
	DailyHistory(ctx context.Context) (types.DailyHistory, error)

	// Totals returns the lifetime cumulative figures.
	Totals(ctx context.Context) (types.TotalsSample, error)
}

// Message is a message received on the bus. Snapshot is set when the message
// arrived on the data topic and decoded successfully, Err when it did not
// decode.
type Message struct {
	Topic    string
	Payload  []byte
	Received time.Time
	Snapshot *types.DashboardSnapshot
	Err      error
}

// Streamer is a Source that holds a connection and pushes messages as they
// arrive.
type Streamer interface {
	Source

	// Connect establishes the connection. An error means the live channel
	// could not be established at all.
	Connect(ctx context.Context) error

	// OnMessage registers fn to be called for every received message. It must
	// be called before Connect.
	OnMessage(fn func(Message))

	// Close disconnects.
	Close()
}

// TopicManager manages the topic subscriptions of a bus.
type TopicManager interface {
	Topics() []string
	AddTopic(ctx context.Context, topic string) error
	RemoveTopic(ctx context.Context, topic string) error
	Publish(ctx context.Context, topic string, payload []byte) error
}

// TopicStore persists the subscribed topics.
type TopicStore interface {
	GetTopics(ctx context.Context) ([]string, error)
	SetTopics(ctx context.Context, topics []string) error
}

// selected holds the source chosen by flags once they are parsed.
type selected struct{ Source }

// Resolve returns the concrete source behind one returned by Configured so
// callers can check for Streamer and TopicManager. Other sources are returned
// as is.
func Resolve(s Source) Source {
	if sel, ok := s.(*selected); ok && sel.Source != nil {
		return sel.Source
	}
	return s
}

// Offline is the source used when live data is disabled. Every call fails with
// ErrNoSource so the provider can only serve simulated data.
type Offline struct{}

func (Offline) FetchSnapshot(context.Context, types.DashboardSnapshot) (types.DashboardSnapshot, error) {
	return types.DashboardSnapshot{}, ErrNoSource
}

func (Offline) RangeSeries(context.Context, time.Time, time.Time) (types.TimeSeriesChartData, error) {
	return types.TimeSeriesChartData{}, ErrNoSource
}

func (Offline) ForecastSeries(context.Context) (types.ForecastSeries, error) {
	return types.ForecastSeries{}, ErrNoSource
}

func (Offline) AnnualSummary(context.Context) (types.AnnualSummary, error) {
	return nil, ErrNoSource
}

func (Offline) DailyHistory(context.Context) (types.DailyHistory, error) {
	return types.DailyHistory{}, ErrNoSource
}

func (Offline) Totals(context.Context) (types.TotalsSample, error) {
	return types.TotalsSample{}, ErrNoSource
}

// sourceKind resolves the auto live source.
func sourceKind(kind, baseURL string) string {
	if kind != "auto" {
		return kind
	}
	if baseURL == "" {
		return "none"
	}
	return "http"
}

// Configured sets up the live source selected by flags. store is used by the
// bus to load and persist its topic subscriptions.
func Configured(store TopicStore) Source {
	kind := lflag.String("live-source", "auto", "Live data source (available: auto, http, mqtt, none). auto uses http when upstream-url is set and none otherwise")

	var s selected

	h := configuredHTTP()
	b := configuredBus(store)

	lflag.Do(func() {
		switch sourceKind(*kind, h.baseURL) {
		case "http":
			if err := h.Validate(); err != nil {
				panic(fmt.Sprintf("http source validation failed: %v", err))
			}
			s.Source = h
		case "mqtt":
			if err := b.Validate(); err != nil {
				panic(fmt.Sprintf("mqtt source validation failed: %v", err))
			}
			// secondary queries are only served over http
			if h.baseURL != "" {
				b.secondary = h
			}
			s.Source = b
		case "none":
			s.Source = Offline{}
		default:
			panic(fmt.Sprintf("unknown live source: %s", *kind))
		}
	})

	return &s
}
