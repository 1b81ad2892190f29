package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/raterudder/homedash/pkg/log"
	"github.com/raterudder/homedash/pkg/simulate"
	"github.com/raterudder/homedash/pkg/types"
	"github.com/raterudder/homedash/pkg/upstream"
)

// query runs a secondary query. In simulated mode it returns mock. In live mode
// it returns the fetched value and caches it under key; on failure it records
// the error and returns the value cached for the same key. ok is false when
// nothing was loaded for key.
func query[T any](
	ctx context.Context,
	p *Provider,
	name string,
	key string,
	c *cached[T],
	mock func() T,
	fetch func(upstream.Source, context.Context) (T, error),
	clone func(T) T,
) (T, bool) {
	p.mu.Lock()
	if !p.conn.Live() {
		p.mu.Unlock()
		return mock(), true
	}
	gen := p.generation
	p.mu.Unlock()

	fctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()
	v, err := fetch(p.src(), fctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to fetch "+name, slog.Any("error", err))
		// the state machine only follows snapshot fetches
		if !p.closed && p.generation == gen && !errors.Is(err, upstream.ErrUnsupported) && ctx.Err() == nil {
			p.conn.LastError = err.Error()
			p.conn.UpdatedAt = p.cfg.Clock.Now()
			p.publishLocked(types.UpdateConnectivity)
		}
		if !c.ok || c.key != key {
			var zero T
			return zero, false
		}
		return clone(c.value), true
	}
	if !p.closed && p.generation == gen {
		c.key = key
		c.value = clone(v)
		c.ok = true
	}
	return v, true
}

// RangeSeries returns the flow series between start and end.
func (p *Provider) RangeSeries(ctx context.Context, start, end time.Time) (types.TimeSeriesChartData, bool) {
	key := start.UTC().Format(time.RFC3339) + "/" + end.UTC().Format(time.RFC3339)
	return query(ctx, p, "range series", key, &p.rangeSeries,
		func() types.TimeSeriesChartData {
			return simulate.RangeSeries(start, end)
		},
		func(s upstream.Source, ctx context.Context) (types.TimeSeriesChartData, error) {
			return s.RangeSeries(ctx, start, end)
		},
		types.TimeSeriesChartData.Clone,
	)
}

// ForecastSeries returns the solar forecast for today and tomorrow.
func (p *Provider) ForecastSeries(ctx context.Context) (types.ForecastSeries, bool) {
	return query(ctx, p, "forecast series", "", &p.forecast,
		simulate.ForecastSeries,
		upstream.Source.ForecastSeries,
		types.ForecastSeries.Clone,
	)
}

// AnnualSummary returns the month-by-year tables.
func (p *Provider) AnnualSummary(ctx context.Context) (types.AnnualSummary, bool) {
	return query(ctx, p, "annual summary", "", &p.annual,
		simulate.AnnualSummary,
		upstream.Source.AnnualSummary,
		types.AnnualSummary.Clone,
	)
}

// DailyHistory returns the per-day history tables.
func (p *Provider) DailyHistory(ctx context.Context) (types.DailyHistory, bool) {
	return query(ctx, p, "daily history", "", &p.history,
		func() types.DailyHistory {
			return simulate.DailyHistory(p.cfg.Clock.Now())
		},
		upstream.Source.DailyHistory,
		types.DailyHistory.Clone,
	)
}

// Totals returns the lifetime figures.
func (p *Provider) Totals(ctx context.Context) (types.TotalsSample, bool) {
	return query(ctx, p, "totals", "", &p.totals,
		simulate.Totals,
		upstream.Source.Totals,
		func(t types.TotalsSample) types.TotalsSample { return t },
	)
}

func (p *Provider) topicManager() (upstream.TopicManager, error) {
	tm, ok := p.src().(upstream.TopicManager)
	if !ok {
		return nil, upstream.ErrUnsupported
	}
	return tm, nil
}

// Topics returns the bus subscriptions.
func (p *Provider) Topics() ([]string, error) {
	tm, err := p.topicManager()
	if err != nil {
		return nil, err
	}
	return tm.Topics(), nil
}

// AddTopic subscribes to a topic and persists the subscription.
func (p *Provider) AddTopic(ctx context.Context, topic string) error {
	tm, err := p.topicManager()
	if err != nil {
		return err
	}
	return tm.AddTopic(ctx, topic)
}

// RemoveTopic unsubscribes from a topic.
func (p *Provider) RemoveTopic(ctx context.Context, topic string) error {
	tm, err := p.topicManager()
	if err != nil {
		return err
	}
	return tm.RemoveTopic(ctx, topic)
}

// Publish sends payload to topic on the bus.
func (p *Provider) Publish(ctx context.Context, topic string, payload []byte) error {
	tm, err := p.topicManager()
	if err != nil {
		return err
	}
	return tm.Publish(ctx, topic, payload)
}
