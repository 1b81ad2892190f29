// Package telemetry keeps the current dashboard snapshot and decides where it
// comes from: a live upstream source or the synthetic generator.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/homedash/pkg/log"
	"github.com/raterudder/homedash/pkg/simulate"
	"github.com/raterudder/homedash/pkg/types"
	"github.com/raterudder/homedash/pkg/upstream"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("telemetry provider closed")
	// ErrNotStarted is returned by operations that need Start first.
	ErrNotStarted = errors.New("telemetry provider not started")
)

// Config holds the provider settings.
type Config struct {
	PollInterval        time.Duration
	SimulateInterval    time.Duration
	RequestTimeout      time.Duration
	StartLive           bool
	FallbackToSimulated bool
	ActivityLogSize     int

	// Clock defaults to the real clock.
	Clock clockwork.Clock
	// Generator defaults to a randomly seeded one.
	Generator *simulate.Generator
}

// DefaultConfig is used for zero fields of the Config passed to New.
var DefaultConfig = Config{
	PollInterval:     10 * time.Second,
	SimulateInterval: 2 * time.Second,
	RequestTimeout:   5 * time.Second,
	ActivityLogSize:  DefaultActivityLogSize,
}

// Validate ensures the configuration is valid.
func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return errors.New("poll-interval must be positive")
	}
	if c.SimulateInterval <= 0 {
		return errors.New("simulate-interval must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request-timeout must be positive")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.PollInterval == 0 {
		c.PollInterval = DefaultConfig.PollInterval
	}
	if c.SimulateInterval == 0 {
		c.SimulateInterval = DefaultConfig.SimulateInterval
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultConfig.RequestTimeout
	}
	if c.ActivityLogSize == 0 {
		c.ActivityLogSize = DefaultConfig.ActivityLogSize
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Generator == nil {
		c.Generator = simulate.New()
	}
	return c
}

// cached is the last successful result of a secondary query. key identifies
// the parameters it was fetched with.
type cached[T any] struct {
	key   string
	value T
	ok    bool
}

// Provider owns the update loops and the current snapshot. Exactly one loop
// runs at a time: polling in live mode or the generator in simulated mode.
// Every loop and fetch carries the generation it was started in and its
// results are dropped once the generation moved on.
type Provider struct {
	source   upstream.Source
	cfg      Config
	activity *ActivityLog

	// modeMu serializes mode changes
	modeMu sync.Mutex

	mu          sync.Mutex
	baseCtx     context.Context
	started     bool
	closed      bool
	generation  uint64
	loopCtx     context.Context
	stopLoop    context.CancelFunc
	loopDone    chan struct{}
	fetchSeq    uint64
	cancelFetch context.CancelFunc
	connected   bool
	snapshot    types.DashboardSnapshot
	conn        types.ConnectivityState
	subs        map[int]chan types.Update
	nextSub     int

	rangeSeries cached[types.TimeSeriesChartData]
	forecast    cached[types.ForecastSeries]
	annual      cached[types.AnnualSummary]
	history     cached[types.DailyHistory]
	totals      cached[types.TotalsSample]
}

// New returns a provider reading from source. Zero fields of cfg take their
// value from DefaultConfig.
func New(source upstream.Source, cfg Config) *Provider {
	cfg = cfg.withDefaults()
	return &Provider{
		source:   source,
		cfg:      cfg,
		activity: NewActivityLog(cfg.ActivityLogSize),
		snapshot: types.DefaultSnapshot(),
		conn: types.ConnectivityState{
			Mode:       types.ModeSimulated,
			State:      types.StateSimulated,
			ActiveLoop: types.LoopNone,
			UpdatedAt:  cfg.Clock.Now(),
		},
		subs: make(map[int]chan types.Update),
	}
}

// Configured sets up a provider reading from source with settings from flags.
func Configured(source upstream.Source) *Provider {
	p := New(source, Config{})

	pollInterval := lflag.Duration("poll-interval", DefaultConfig.PollInterval, "How often to poll the live source")
	simulateInterval := lflag.Duration("simulate-interval", DefaultConfig.SimulateInterval, "How often to generate a simulated snapshot")
	requestTimeout := lflag.Duration("request-timeout", DefaultConfig.RequestTimeout, "Timeout for every request to the live source")
	startLive := lflag.Bool("start-live", false, "Start in live mode instead of simulated")
	fallback := lflag.Bool("fallback-to-simulated", true, "Start in simulated mode when the live source cannot connect at startup")
	activityLogSize := lflag.Int("activity-log-size", DefaultActivityLogSize, "Number of bus messages kept in the activity log")

	lflag.Do(func() {
		p.cfg.PollInterval = *pollInterval
		p.cfg.SimulateInterval = *simulateInterval
		p.cfg.RequestTimeout = *requestTimeout
		p.cfg.StartLive = *startLive
		p.cfg.FallbackToSimulated = *fallback
		p.cfg.ActivityLogSize = *activityLogSize
		if err := p.cfg.Validate(); err != nil {
			panic(fmt.Sprintf("telemetry validation failed: %v", err))
		}
		p.activity = NewActivityLog(p.cfg.ActivityLogSize)
	})

	return p
}

func (p *Provider) src() upstream.Source {
	return upstream.Resolve(p.source)
}

func (p *Provider) streamer() (upstream.Streamer, bool) {
	s, ok := p.src().(upstream.Streamer)
	return s, ok
}

// Start connects the bus, if the source is one, and starts the loop of the
// configured initial mode. The provider stops when ctx is cancelled or Close
// is called.
func (p *Provider) Start(ctx context.Context) error {
	ctx = log.Component(ctx, "telemetry")

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.started {
		p.mu.Unlock()
		return errors.New("telemetry provider already started")
	}
	p.started = true
	p.baseCtx = ctx
	p.mu.Unlock()

	p.modeMu.Lock()
	defer p.modeMu.Unlock()

	live := p.cfg.StartLive
	var connectErr error
	if s, ok := p.streamer(); ok {
		s.OnMessage(p.handleMessage)
		connectErr = p.connect(ctx, s)
		live = p.fallback(ctx, live, connectErr)
	}

	log.Ctx(ctx).InfoContext(ctx, "starting telemetry provider", slog.Bool("live", live))
	p.enter(live, connectErr)
	return nil
}

// Run starts the provider and blocks until ctx is done, then closes it.
func (p *Provider) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	p.Close()
	return nil
}

// Close stops every loop and in-flight request. Results arriving afterwards are
// discarded and subscriber channels are closed.
func (p *Provider) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.generation++
	p.stopLoopLocked()
	p.conn.ActiveLoop = types.LoopNone
	for id, ch := range p.subs {
		close(ch)
		delete(p.subs, id)
	}
	p.mu.Unlock()

	if s, ok := p.streamer(); ok {
		s.Close()
	}
}

func (p *Provider) connect(ctx context.Context, s upstream.Streamer) error {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()
	if err := s.Connect(cctx); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to connect to live source", slog.Any("error", err))
		return err
	}
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	return nil
}

func (p *Provider) isConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// stopLoopLocked cancels the running loop and any in-flight fetch.
func (p *Provider) stopLoopLocked() {
	if p.cancelFetch != nil {
		p.cancelFetch()
		p.cancelFetch = nil
	}
	if p.stopLoop != nil {
		p.stopLoop()
		p.stopLoop = nil
	}
}

// fallback returns the mode to enter after trying to connect the bus.
func (p *Provider) fallback(ctx context.Context, live bool, connectErr error) bool {
	if live && connectErr != nil && p.cfg.FallbackToSimulated {
		log.Ctx(ctx).WarnContext(ctx, "falling back to simulated mode", slog.Any("error", connectErr))
		return false
	}
	return live
}

// enter replaces the running loop with the one of the requested mode. Entering
// live mode fetches once before returning. connectErr is the error of a failed
// bus connection attempt, if any.
func (p *Provider) enter(live bool, connectErr error) {
	p.mu.Lock()
	p.generation++
	p.stopLoopLocked()
	done := p.loopDone
	p.loopDone = nil
	p.mu.Unlock()

	// only one loop may run at a time
	if done != nil {
		<-done
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	gen := p.generation
	loopCtx, stop := context.WithCancel(p.baseCtx)
	p.loopCtx = loopCtx
	p.stopLoop = stop
	done = make(chan struct{})
	p.loopDone = done

	now := p.cfg.Clock.Now()
	if live {
		p.conn = types.ConnectivityState{
			Mode:       types.ModeLive,
			State:      types.StateLiveConnected,
			ActiveLoop: types.LoopPoll,
			UpdatedAt:  now,
		}
		if connectErr != nil {
			p.conn.State = types.StateLiveError
			p.conn.LastError = connectErr.Error()
		}
	} else {
		p.conn = types.ConnectivityState{
			Mode:       types.ModeSimulated,
			State:      types.StateSimulated,
			ActiveLoop: types.LoopSimulate,
			UpdatedAt:  now,
		}
		if connectErr != nil {
			p.conn.LastError = connectErr.Error()
		}
	}
	p.publishLocked(types.UpdateConnectivity)
	p.mu.Unlock()

	go p.loop(loopCtx, gen, live, done)
	if live {
		p.fetch(gen)
	}
}

func (p *Provider) loop(ctx context.Context, gen uint64, live bool, done chan struct{}) {
	defer close(done)

	interval := p.cfg.SimulateInterval
	if live {
		interval = p.cfg.PollInterval
	}
	ticker := p.cfg.Clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if live {
				p.fetch(gen)
			} else {
				p.step(gen)
			}
		}
	}
}

// fetch polls the live source once. It cancels the previous in-flight fetch
// and is itself cancelled by the next one.
func (p *Provider) fetch(gen uint64) {
	p.mu.Lock()
	if p.closed || p.generation != gen {
		p.mu.Unlock()
		return
	}
	if p.cancelFetch != nil {
		p.cancelFetch()
	}
	p.fetchSeq++
	seq := p.fetchSeq
	ctx, cancel := context.WithTimeout(p.loopCtx, p.cfg.RequestTimeout)
	p.cancelFetch = cancel
	prev := p.snapshot
	p.mu.Unlock()
	defer cancel()

	snap, err := p.fetchSnapshot(ctx, prev)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fetchSeq == seq {
		p.cancelFetch = nil
	}
	if p.closed || p.generation != gen || p.fetchSeq != seq || errors.Is(ctx.Err(), context.Canceled) {
		return
	}

	if err != nil {
		if errors.Is(err, upstream.ErrNoData) {
			return
		}
		log.Ctx(ctx).WarnContext(ctx, "failed to fetch snapshot", slog.Any("error", err))
		p.conn.State = types.StateLiveError
		p.conn.LastError = err.Error()
		p.conn.UpdatedAt = p.cfg.Clock.Now()
		p.publishLocked(types.UpdateConnectivity)
		return
	}

	p.snapshot = snap
	p.conn.State = types.StateLiveConnected
	p.conn.LastError = ""
	p.conn.UpdatedAt = p.cfg.Clock.Now()
	p.publishLocked(types.UpdateSnapshot)
}

func (p *Provider) fetchSnapshot(ctx context.Context, prev types.DashboardSnapshot) (types.DashboardSnapshot, error) {
	if s, ok := p.streamer(); ok && !p.isConnected() {
		if err := p.connect(ctx, s); err != nil {
			return types.DashboardSnapshot{}, err
		}
	}
	return p.src().FetchSnapshot(ctx, prev)
}

// step derives the next simulated snapshot.
func (p *Provider) step(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.generation != gen {
		return
	}
	p.snapshot = p.cfg.Generator.Next(p.snapshot)
	p.conn.UpdatedAt = p.cfg.Clock.Now()
	p.publishLocked(types.UpdateSnapshot)
}

func (p *Provider) handleMessage(m upstream.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	ts := m.Received
	if ts.IsZero() {
		ts = p.cfg.Clock.Now()
	}
	p.activity.Add(m.Topic, string(m.Payload), ts)
	p.publishLocked(types.UpdateActivity)

	if !p.conn.Live() {
		return
	}
	switch {
	case m.Snapshot != nil:
		p.snapshot = m.Snapshot.Clone()
		p.conn.State = types.StateLiveConnected
		p.conn.LastError = ""
		p.conn.UpdatedAt = ts
		p.publishLocked(types.UpdateSnapshot)
	case m.Err != nil:
		p.conn.State = types.StateLiveError
		p.conn.LastError = m.Err.Error()
		p.conn.UpdatedAt = ts
		p.publishLocked(types.UpdateConnectivity)
	}
}

// publishLocked pushes the current state to every subscriber. A subscriber
// that has not read the previous update only gets the latest one.
func (p *Provider) publishLocked(kind types.UpdateKind) {
	if len(p.subs) == 0 {
		return
	}
	u := types.Update{
		Kind:         kind,
		Snapshot:     p.snapshot.Clone(),
		Connectivity: p.conn,
	}
	for _, ch := range p.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- u:
		default:
		}
	}
}

// Snapshot returns a copy of the current snapshot. It is the default snapshot
// until the first update.
func (p *Provider) Snapshot() types.DashboardSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot.Clone()
}

// Connectivity returns the current connectivity state.
func (p *Provider) Connectivity() types.ConnectivityState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

// Activity returns the bus messages seen so far, most recent first.
func (p *Provider) Activity() []types.ActivityEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activity.Entries()
}

// Subscribe returns a channel receiving every state change. Only the latest
// unread update is kept. The channel is closed by cancel or Close.
func (p *Provider) Subscribe() (<-chan types.Update, func()) {
	ch := make(chan types.Update, 1)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		close(ch)
		return ch, func() {}
	}
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch

	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(c)
		}
	}
}

// SetMode switches between live and simulated mode. Switching to live fetches
// once before returning. Setting the current mode again does nothing.
// FallbackToSimulated only applies to Start.
func (p *Provider) SetMode(ctx context.Context, live bool) error {
	p.modeMu.Lock()
	defer p.modeMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	same := p.conn.Live() == live && p.conn.ActiveLoop != types.LoopNone
	p.mu.Unlock()
	if same {
		return nil
	}

	// an explicit switch never falls back, a failed connect shows as live error
	var connectErr error
	if s, ok := p.streamer(); ok && live && !p.isConnected() {
		connectErr = p.connect(ctx, s)
	}

	log.Ctx(ctx).InfoContext(ctx, "switching mode", slog.Bool("live", live))
	p.enter(live, connectErr)
	return nil
}

// Refresh fetches once in live mode, without resetting the poll interval, or
// generates one snapshot in simulated mode. Failures only show up in the
// connectivity state.
func (p *Provider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	gen := p.generation
	live := p.conn.Live()
	p.mu.Unlock()

	if live {
		p.fetch(gen)
	} else {
		p.step(gen)
	}
	return nil
}
