package insight

import (
	"math"

	"github.com/raterudder/homedash/pkg/types"
)

// Trend is the change of a metric against a previous value.
type Trend struct {
	// Percent is the absolute change, rounded to one decimal.
	Percent  float64 `json:"percent"`
	Increase bool    `json:"increase"`
	// Good is true when the change is desirable for the metric: more
	// production and self consumption, less purchase and sale.
	Good bool `json:"good"`
}

// NewTrend compares current to previous. It returns nil when there is no
// previous value or it is zero.
func NewTrend(metric types.AnnualMetric, current float64, previous *float64) *Trend {
	if previous == nil || *previous == 0 {
		return nil
	}
	prev := *previous
	increase := current > prev
	t := &Trend{
		Percent:  round1(math.Abs((current - prev) / prev * 100)),
		Increase: increase,
	}
	switch metric {
	case types.AnnualMetricProduction, types.AnnualMetricSelfConsumption:
		t.Good = increase
	default:
		t.Good = !increase
	}
	return t
}

// AnnualTrend is the trend of one cell of an annual table against the same
// month of the preceding year column.
type AnnualTrend struct {
	Metric       types.AnnualMetric `json:"metric"`
	Label        string             `json:"label"`
	Year         string             `json:"year"`
	PreviousYear string             `json:"previousYear"`
	Trend        Trend              `json:"trend"`
}

// AnnualTrends computes the year over year trend of every cell of the
// summary that has a usable previous year value. Metrics are visited in
// display order and rows in table order.
func AnnualTrends(summary types.AnnualSummary) []AnnualTrend {
	var trends []AnnualTrend
	for _, metric := range types.AnnualMetrics {
		table, ok := summary[metric]
		if !ok {
			continue
		}
		years := table.Years()
		for _, row := range table.Rows {
			for i := 1; i < len(years); i++ {
				cur, ok := row.Values[years[i]]
				if !ok {
					continue
				}
				prev, ok := row.Values[years[i-1]]
				if !ok {
					continue
				}
				t := NewTrend(metric, cur, &prev)
				if t == nil {
					continue
				}
				trends = append(trends, AnnualTrend{
					Metric:       metric,
					Label:        row.Label,
					Year:         years[i],
					PreviousYear: years[i-1],
					Trend:        *t,
				})
			}
		}
	}
	return trends
}
