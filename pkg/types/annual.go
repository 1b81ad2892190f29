package types

import (
	"maps"
	"slices"
)

// AnnualMetric names one of the summarized quantities.
type AnnualMetric string

const (
	AnnualMetricProduction      AnnualMetric = "production"
	AnnualMetricPurchase        AnnualMetric = "achat"
	AnnualMetricSale            AnnualMetric = "vente"
	AnnualMetricSelfConsumption AnnualMetric = "autoConsommation"
)

// AnnualMetrics lists every metric in display order.
var AnnualMetrics = []AnnualMetric{
	AnnualMetricProduction,
	AnnualMetricPurchase,
	AnnualMetricSale,
	AnnualMetricSelfConsumption,
}

// AnnualRowTotal is the label of the aggregate row preceding the months.
const AnnualRowTotal = "TOTAL"

// AnnualRowLabels is the fixed row order of every AnnualTable.
var AnnualRowLabels = []string{
	AnnualRowTotal,
	"01", "02", "03", "04", "05", "06",
	"07", "08", "09", "10", "11", "12",
}

// AnnualRow holds one value (kWh) per year for a single month label.
type AnnualRow struct {
	Label  string             `json:"label"`
	Values map[string]float64 `json:"values"`
}

// AnnualTable is the month-by-year table of one metric.
type AnnualTable struct {
	Rows []AnnualRow `json:"rows"`
}

// AnnualSummary maps each metric to its table.
type AnnualSummary map[AnnualMetric]AnnualTable

// Years is the sorted union of the year keys present in this table's rows.
// Year columns are never shared across metrics.
func (t AnnualTable) Years() []string {
	seen := make(map[string]struct{})
	for _, row := range t.Rows {
		for year := range row.Values {
			seen[year] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// Row returns the row with the given label.
func (t AnnualTable) Row(label string) (AnnualRow, bool) {
	for _, row := range t.Rows {
		if row.Label == label {
			return row, true
		}
	}
	return AnnualRow{}, false
}

// Value returns the value for a month label and year.
func (t AnnualTable) Value(label, year string) (float64, bool) {
	row, ok := t.Row(label)
	if !ok {
		return 0, false
	}
	v, ok := row.Values[year]
	return v, ok
}

// NewAnnualTable builds a table from a year -> month -> value mapping, emitting
// rows in AnnualRowLabels order. Rows with no value for any year are omitted
// and unknown month labels are ignored.
func NewAnnualTable(byYear map[string]map[string]float64) AnnualTable {
	var t AnnualTable
	for _, label := range AnnualRowLabels {
		var values map[string]float64
		for year, months := range byYear {
			v, ok := months[label]
			if !ok {
				continue
			}
			if values == nil {
				values = make(map[string]float64)
			}
			values[year] = v
		}
		if values != nil {
			t.Rows = append(t.Rows, AnnualRow{Label: label, Values: values})
		}
	}
	return t
}

// Clone returns a deep copy.
func (s AnnualSummary) Clone() AnnualSummary {
	if s == nil {
		return nil
	}
	c := make(AnnualSummary, len(s))
	for metric, table := range s {
		rows := make([]AnnualRow, len(table.Rows))
		for i, row := range table.Rows {
			rows[i] = AnnualRow{Label: row.Label, Values: maps.Clone(row.Values)}
		}
		c[metric] = AnnualTable{Rows: rows}
	}
	return c
}
