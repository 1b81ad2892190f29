package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/homedash/pkg/simulate"
	"github.com/raterudder/homedash/pkg/types"
	"github.com/raterudder/homedash/pkg/upstream"
)

type fakeSource struct {
	mu       sync.Mutex
	calls    int
	fetch    func(ctx context.Context, call int) (types.DashboardSnapshot, error)
	forecast func() (types.ForecastSeries, error)
	series   func(start, end time.Time) (types.TimeSeriesChartData, error)
}

func (s *fakeSource) FetchSnapshot(ctx context.Context, _ types.DashboardSnapshot) (types.DashboardSnapshot, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	fetch := s.fetch
	s.mu.Unlock()
	if fetch == nil {
		return gridSnapshot(1), nil
	}
	return fetch(ctx, call)
}

func (s *fakeSource) fetchCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeSource) RangeSeries(_ context.Context, start, end time.Time) (types.TimeSeriesChartData, error) {
	if s.series == nil {
		return types.TimeSeriesChartData{}, upstream.ErrUnsupported
	}
	return s.series(start, end)
}

func (s *fakeSource) ForecastSeries(context.Context) (types.ForecastSeries, error) {
	if s.forecast == nil {
		return types.ForecastSeries{}, upstream.ErrUnsupported
	}
	return s.forecast()
}

func (s *fakeSource) AnnualSummary(context.Context) (types.AnnualSummary, error) {
	return nil, upstream.ErrUnsupported
}

func (s *fakeSource) DailyHistory(context.Context) (types.DailyHistory, error) {
	return types.DailyHistory{}, upstream.ErrUnsupported
}

func (s *fakeSource) Totals(context.Context) (types.TotalsSample, error) {
	return types.TotalsSample{}, upstream.ErrUnsupported
}

type fakeStreamer struct {
	fakeSource
	connectErr error
	connects   atomic.Int32
	closed     atomic.Bool
	handler    func(upstream.Message)
	topics     []string
}

func (s *fakeStreamer) Connect(context.Context) error {
	s.connects.Add(1)
	return s.connectErr
}

func (s *fakeStreamer) OnMessage(fn func(upstream.Message)) { s.handler = fn }
func (s *fakeStreamer) Close()                              { s.closed.Store(true) }

func (s *fakeStreamer) Topics() []string { return s.topics }

func (s *fakeStreamer) AddTopic(_ context.Context, topic string) error {
	s.topics = append(s.topics, topic)
	return nil
}

func (s *fakeStreamer) RemoveTopic(context.Context, string) error { return nil }

func (s *fakeStreamer) Publish(context.Context, string, []byte) error { return nil }

func gridSnapshot(watts float64) types.DashboardSnapshot {
	return types.DashboardSnapshot{Grid: &types.GridFlow{Watts: watts, Direction: "import"}}
}

func newTestProvider(t *testing.T, src upstream.Source, cfg Config) (*Provider, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	cfg.Clock = clock
	cfg.Generator = simulate.NewGenerator(1)
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.SimulateInterval == 0 {
		cfg.SimulateInterval = time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = time.Second
	}
	p := New(src, cfg)
	t.Cleanup(p.Close)
	return p, clock
}

func blockUntilTicker(t *testing.T, clock *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
}

func TestProviderDefaults(t *testing.T) {
	p, _ := newTestProvider(t, &fakeSource{}, Config{})

	assert.Equal(t, types.DefaultSnapshot(), p.Snapshot())
	c := p.Connectivity()
	assert.Equal(t, types.ModeSimulated, c.Mode)
	assert.Equal(t, types.LoopNone, c.ActiveLoop)

	assert.ErrorIs(t, p.SetMode(context.Background(), true), ErrNotStarted)
	assert.ErrorIs(t, p.Refresh(context.Background()), ErrNotStarted)
}

func TestProviderSimulated(t *testing.T) {
	src := &fakeSource{}
	p, clock := newTestProvider(t, src, Config{})
	require.NoError(t, p.Start(context.Background()))

	c := p.Connectivity()
	assert.Equal(t, types.StateSimulated, c.State)
	assert.Equal(t, types.LoopSimulate, c.ActiveLoop)

	blockUntilTicker(t, clock)
	before := p.Snapshot()
	clock.Advance(time.Second)
	assert.Eventually(t, func() bool {
		return p.Snapshot().GridWatts() != before.GridWatts()
	}, time.Second, time.Millisecond)

	// the source is never polled while simulated
	assert.Zero(t, src.fetchCalls())
}

func TestProviderSetMode(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	p, clock := newTestProvider(t, src, Config{})
	require.NoError(t, p.Start(ctx))
	blockUntilTicker(t, clock)

	require.NoError(t, p.SetMode(ctx, true))
	// switching to live fetches before returning
	assert.Equal(t, 1, src.fetchCalls())
	assert.Equal(t, 1.0, p.Snapshot().GridWatts())
	c := p.Connectivity()
	assert.Equal(t, types.ModeLive, c.Mode)
	assert.Equal(t, types.StateLiveConnected, c.State)
	assert.Equal(t, types.LoopPoll, c.ActiveLoop)

	// the same mode again is a no-op
	require.NoError(t, p.SetMode(ctx, true))
	assert.Equal(t, 1, src.fetchCalls())

	// only the poll loop is left running
	blockUntilTicker(t, clock)
	clock.Advance(10 * time.Second)
	assert.Eventually(t, func() bool {
		return src.fetchCalls() == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1.0, p.Snapshot().GridWatts())

	require.NoError(t, p.SetMode(ctx, false))
	c = p.Connectivity()
	assert.Equal(t, types.StateSimulated, c.State)
	assert.Equal(t, types.LoopSimulate, c.ActiveLoop)
	assert.Empty(t, c.LastError)

	blockUntilTicker(t, clock)
	clock.Advance(10 * time.Second)
	assert.Eventually(t, func() bool {
		return p.Snapshot().GridWatts() != 1.0
	}, time.Second, time.Millisecond)
	assert.Equal(t, 2, src.fetchCalls())
}

func TestProviderLiveError(t *testing.T) {
	ctx := context.Background()
	var fail atomic.Bool
	fail.Store(true)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"grid": {"watts": 420}, "voiture": {"tesla": {"battery_level": 80}}}`))
	}))
	defer ts.Close()

	src := upstream.NewHTTPSource(ts.Client(), ts.URL, upstream.DefaultPaths)
	p, _ := newTestProvider(t, src, Config{StartLive: true})
	require.NoError(t, p.Start(ctx))

	c := p.Connectivity()
	assert.Equal(t, types.ModeLive, c.Mode)
	assert.Equal(t, types.StateLiveError, c.State)
	assert.Contains(t, c.LastError, "500")
	// the last good snapshot is kept
	assert.Equal(t, types.DefaultSnapshot(), p.Snapshot())

	fail.Store(false)
	require.NoError(t, p.Refresh(ctx))
	c = p.Connectivity()
	assert.Equal(t, types.StateLiveConnected, c.State)
	assert.Empty(t, c.LastError)

	snap := p.Snapshot()
	assert.Equal(t, 420.0, snap.GridWatts())
	require.NotNil(t, snap.Vehicles["tesla"].BatteryLevel)
	assert.Equal(t, 80.0, *snap.Vehicles["tesla"].BatteryLevel)
	assert.False(t, snap.Has(types.SectionBattery))

	fail.Store(true)
	require.NoError(t, p.Refresh(ctx))
	assert.Equal(t, types.StateLiveError, p.Connectivity().State)
	assert.Equal(t, 420.0, p.Snapshot().GridWatts())
}

func TestProviderRequestTimeout(t *testing.T) {
	src := &fakeSource{
		fetch: func(ctx context.Context, _ int) (types.DashboardSnapshot, error) {
			<-ctx.Done()
			return types.DashboardSnapshot{}, ctx.Err()
		},
	}
	p, _ := newTestProvider(t, src, Config{StartLive: true, RequestTimeout: 20 * time.Millisecond})
	require.NoError(t, p.Start(context.Background()))

	c := p.Connectivity()
	assert.Equal(t, types.StateLiveError, c.State)
	assert.Contains(t, c.LastError, context.DeadlineExceeded.Error())
}

func TestProviderCancelAndReplace(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	src := &fakeSource{
		fetch: func(ctx context.Context, call int) (types.DashboardSnapshot, error) {
			switch call {
			case 2:
				close(started)
				<-ctx.Done()
				return types.DashboardSnapshot{}, ctx.Err()
			case 3:
				return gridSnapshot(777), nil
			}
			return gridSnapshot(1), nil
		},
	}
	p, _ := newTestProvider(t, src, Config{StartLive: true, RequestTimeout: time.Minute})
	require.NoError(t, p.Start(ctx))
	assert.Equal(t, 1.0, p.Snapshot().GridWatts())

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, p.Refresh(ctx))
	}()
	<-started

	require.NoError(t, p.Refresh(ctx))
	<-done

	// the cancelled fetch neither wrote nor flagged an error
	c := p.Connectivity()
	assert.Equal(t, types.StateLiveConnected, c.State)
	assert.Empty(t, c.LastError)
	assert.Equal(t, 777.0, p.Snapshot().GridWatts())
}

func TestProviderNoWriteAfterClose(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	src := &fakeSource{
		fetch: func(_ context.Context, call int) (types.DashboardSnapshot, error) {
			if call == 2 {
				close(started)
				// ignores cancellation on purpose
				<-release
				return gridSnapshot(999), nil
			}
			return gridSnapshot(1), nil
		},
	}
	p, _ := newTestProvider(t, src, Config{StartLive: true, RequestTimeout: time.Minute})
	require.NoError(t, p.Start(context.Background()))

	updates, cancel := p.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Refresh(context.Background())
	}()
	<-started

	p.Close()
	close(release)
	<-done

	assert.Equal(t, 1.0, p.Snapshot().GridWatts())
	assert.Equal(t, types.LoopNone, p.Connectivity().ActiveLoop)
	assert.ErrorIs(t, p.Refresh(context.Background()), ErrClosed)
	assert.ErrorIs(t, p.SetMode(context.Background(), false), ErrClosed)

	// subscribers are released
	for range updates {
	}
}

func TestProviderFallback(t *testing.T) {
	t.Run("falls back to simulated", func(t *testing.T) {
		src := &fakeStreamer{connectErr: errors.New("connection refused")}
		p, _ := newTestProvider(t, src, Config{StartLive: true, FallbackToSimulated: true})
		require.NoError(t, p.Start(context.Background()))

		c := p.Connectivity()
		assert.Equal(t, types.ModeSimulated, c.Mode)
		assert.Equal(t, types.StateSimulated, c.State)
		assert.Equal(t, types.LoopSimulate, c.ActiveLoop)
		assert.Contains(t, c.LastError, "connection refused")
		assert.EqualValues(t, 1, src.connects.Load())

		// an explicit switch to live tries to connect again and does not
		// fall back
		require.NoError(t, p.SetMode(context.Background(), true))
		assert.EqualValues(t, 2, src.connects.Load())
		c = p.Connectivity()
		assert.Equal(t, types.ModeLive, c.Mode)
		assert.Equal(t, types.StateLiveError, c.State)
		assert.Equal(t, types.LoopPoll, c.ActiveLoop)
		assert.Contains(t, c.LastError, "connection refused")
	})

	t.Run("stays live without fallback", func(t *testing.T) {
		src := &fakeStreamer{connectErr: errors.New("connection refused")}
		p, _ := newTestProvider(t, src, Config{StartLive: true})
		require.NoError(t, p.Start(context.Background()))

		c := p.Connectivity()
		assert.Equal(t, types.ModeLive, c.Mode)
		assert.Equal(t, types.StateLiveError, c.State)
		assert.Equal(t, types.LoopPoll, c.ActiveLoop)
		assert.Contains(t, c.LastError, "connection refused")
		assert.Zero(t, src.fetchCalls())

		// the next fetch reconnects
		src.connectErr = nil
		require.NoError(t, p.Refresh(context.Background()))
		assert.Equal(t, types.StateLiveConnected, p.Connectivity().State)
		assert.Equal(t, 1, src.fetchCalls())
	})
}

func TestProviderBusMessages(t *testing.T) {
	ctx := context.Background()
	src := &fakeStreamer{}
	p, _ := newTestProvider(t, src, Config{})
	require.NoError(t, p.Start(ctx))
	require.NotNil(t, src.handler)

	snap := gridSnapshot(321)
	src.handler(upstream.Message{Topic: "home/sensors/temp", Payload: []byte("21.5")})
	src.handler(upstream.Message{Topic: upstream.DefaultDataTopic, Payload: []byte(`{}`), Snapshot: &snap})

	// every message is logged, most recent first
	entries := p.Activity()
	require.Len(t, entries, 2)
	assert.Equal(t, upstream.DefaultDataTopic, entries[0].Topic)
	assert.Equal(t, "home/sensors/temp", entries[1].Topic)
	assert.Equal(t, "21.5", entries[1].Message)
	assert.NotEmpty(t, entries[0].ID)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)

	// snapshots are ignored while simulated
	assert.NotEqual(t, 321.0, p.Snapshot().GridWatts())

	require.NoError(t, p.SetMode(ctx, true))
	snap = gridSnapshot(654)
	src.handler(upstream.Message{Topic: upstream.DefaultDataTopic, Snapshot: &snap})
	assert.Equal(t, 654.0, p.Snapshot().GridWatts())
	assert.Equal(t, types.StateLiveConnected, p.Connectivity().State)

	src.handler(upstream.Message{Topic: upstream.DefaultDataTopic, Err: errors.New("bad json")})
	assert.Equal(t, types.StateLiveError, p.Connectivity().State)
	assert.Equal(t, 654.0, p.Snapshot().GridWatts())

	p.Close()
	assert.True(t, src.closed.Load())
	src.handler(upstream.Message{Topic: "late"})
	assert.Len(t, p.Activity(), 4)
}

func TestProviderSubscribe(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t, &fakeSource{}, Config{})
	updates, cancel := p.Subscribe()
	require.NoError(t, p.Start(ctx))

	u := <-updates
	assert.Equal(t, types.UpdateConnectivity, u.Kind)
	assert.Equal(t, types.LoopSimulate, u.Connectivity.ActiveLoop)

	require.NoError(t, p.Refresh(ctx))
	require.NoError(t, p.Refresh(ctx))
	u = <-updates
	assert.Equal(t, types.UpdateSnapshot, u.Kind)
	// only the latest update is kept
	assert.Equal(t, p.Snapshot(), u.Snapshot)
	select {
	case <-updates:
		t.Fatal("expected no pending update")
	default:
	}

	cancel()
	_, ok := <-updates
	assert.False(t, ok)
	cancel()
}

func TestProviderQueries(t *testing.T) {
	ctx := context.Background()

	t.Run("simulated returns mock data", func(t *testing.T) {
		p, _ := newTestProvider(t, &fakeSource{}, Config{})
		require.NoError(t, p.Start(ctx))

		f, ok := p.ForecastSeries(ctx)
		require.True(t, ok)
		assert.Equal(t, simulate.ForecastSeries(), f)

		a, ok := p.AnnualSummary(ctx)
		require.True(t, ok)
		assert.Len(t, a, len(types.AnnualMetrics))

		start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		r, ok := p.RangeSeries(ctx, start, start.Add(24*time.Hour))
		require.True(t, ok)
		assert.Len(t, r.Labels, 24)

		_, ok = p.DailyHistory(ctx)
		assert.True(t, ok)
		_, ok = p.Totals(ctx)
		assert.True(t, ok)
	})

	t.Run("live caches the last good value", func(t *testing.T) {
		var fail atomic.Bool
		fail.Store(true)
		src := &fakeSource{
			forecast: func() (types.ForecastSeries, error) {
				if fail.Load() {
					return types.ForecastSeries{}, errors.New("forecast unavailable")
				}
				return types.ForecastSeries{Labels: []string{"12:00"}, Today: []float64{2}, Tomorrow: []float64{3}}, nil
			},
		}
		p, _ := newTestProvider(t, src, Config{StartLive: true})
		require.NoError(t, p.Start(ctx))

		_, ok := p.ForecastSeries(ctx)
		assert.False(t, ok)
		c := p.Connectivity()
		assert.Equal(t, "forecast unavailable", c.LastError)
		// secondary failures do not move the state machine
		assert.Equal(t, types.StateLiveConnected, c.State)

		fail.Store(false)
		f, ok := p.ForecastSeries(ctx)
		require.True(t, ok)
		assert.Equal(t, []float64{2}, f.Today)

		fail.Store(true)
		f, ok = p.ForecastSeries(ctx)
		require.True(t, ok)
		assert.Equal(t, []float64{2}, f.Today)
		assert.Equal(t, []float64{3}, f.Tomorrow)

		// unsupported queries are not flagged as errors
		require.NoError(t, p.Refresh(ctx))
		_, ok = p.AnnualSummary(ctx)
		assert.False(t, ok)
		assert.Empty(t, p.Connectivity().LastError)
	})

	t.Run("live range cache is keyed by range", func(t *testing.T) {
		var fail atomic.Bool
		src := &fakeSource{
			series: func(start, end time.Time) (types.TimeSeriesChartData, error) {
				if fail.Load() {
					return types.TimeSeriesChartData{}, errors.New("series unavailable")
				}
				return types.TimeSeriesChartData{Labels: []string{start.Format("15:04")}}, nil
			},
		}
		p, _ := newTestProvider(t, src, Config{StartLive: true})
		require.NoError(t, p.Start(ctx))

		day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		r, ok := p.RangeSeries(ctx, day, day.Add(time.Hour))
		require.True(t, ok)
		assert.Equal(t, []string{"00:00"}, r.Labels)

		fail.Store(true)
		r, ok = p.RangeSeries(ctx, day, day.Add(time.Hour))
		require.True(t, ok)
		assert.Equal(t, []string{"00:00"}, r.Labels)

		// a different window never gets the cached series
		_, ok = p.RangeSeries(ctx, day.Add(time.Hour), day.Add(2*time.Hour))
		assert.False(t, ok)
		assert.Equal(t, "series unavailable", p.Connectivity().LastError)
	})
}

func TestProviderTopics(t *testing.T) {
	ctx := context.Background()

	p, _ := newTestProvider(t, &fakeSource{}, Config{})
	_, err := p.Topics()
	assert.ErrorIs(t, err, upstream.ErrUnsupported)
	assert.ErrorIs(t, p.AddTopic(ctx, "a"), upstream.ErrUnsupported)
	assert.ErrorIs(t, p.RemoveTopic(ctx, "a"), upstream.ErrUnsupported)
	assert.ErrorIs(t, p.Publish(ctx, "a", nil), upstream.ErrUnsupported)

	src := &fakeStreamer{topics: []string{upstream.DefaultDataTopic}}
	p, _ = newTestProvider(t, src, Config{})
	require.NoError(t, p.AddTopic(ctx, "home/garage/#"))
	topics, err := p.Topics()
	require.NoError(t, err)
	assert.Equal(t, []string{upstream.DefaultDataTopic, "home/garage/#"}, topics)
	assert.NoError(t, p.RemoveTopic(ctx, "home/garage/#"))
	assert.NoError(t, p.Publish(ctx, "home/cmd", []byte("on")))
}
