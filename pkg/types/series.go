package types

import "math"

// TimeSeriesChartData holds parallel arrays indexed by Labels. Index i of every
// array describes the same time bucket once Align has been called.
type TimeSeriesChartData struct {
	Labels           []string  `json:"Label"`
	Purchase         []float64 `json:"Achat"`
	Sale             []float64 `json:"Vente"`
	SelfConsumption  []float64 `json:"AutoConsommation"`
	Production       []float64 `json:"Production"`
	BatteryCharge    []float64 `json:"BatterieCharge"`
	BatteryDischarge []float64 `json:"BatterieDecharge"`
	Forecast         []float64 `json:"Estimation"`
	SOC              []float64 `json:"SOC"`

	// off-peak and peak purchase totals (kWh) for the whole range
	TotalOffPeak float64 `json:"TotalHC"`
	TotalPeak    float64 `json:"TotalHP"`
}

// SeriesTotals are the per-quantity sums of a TimeSeriesChartData.
type SeriesTotals struct {
	Purchase         float64 `json:"purchase"`
	Sale             float64 `json:"sale"`
	SelfConsumption  float64 `json:"selfConsumption"`
	Production       float64 `json:"production"`
	BatteryCharge    float64 `json:"batteryCharge"`
	BatteryDischarge float64 `json:"batteryDischarge"`
	Forecast         float64 `json:"forecast"`
	OffPeak          float64 `json:"offPeak"`
	Peak             float64 `json:"peak"`
}

// alignTo pads vals with zeros or truncates it to exactly n entries. The
// result never shares a backing array with vals.
func alignTo(vals []float64, n int) []float64 {
	out := make([]float64, n)
	copy(out, vals)
	return out
}

func sumAbs(vals []float64) float64 {
	var total float64
	for _, v := range vals {
		total += math.Abs(v)
	}
	return total
}

// Align makes every array the same length as Labels. Missing trailing values
// become 0 and extra values are dropped.
func (d *TimeSeriesChartData) Align() {
	n := len(d.Labels)
	d.Purchase = alignTo(d.Purchase, n)
	d.Sale = alignTo(d.Sale, n)
	d.SelfConsumption = alignTo(d.SelfConsumption, n)
	d.Production = alignTo(d.Production, n)
	d.BatteryCharge = alignTo(d.BatteryCharge, n)
	d.BatteryDischarge = alignTo(d.BatteryDischarge, n)
	d.Forecast = alignTo(d.Forecast, n)
	d.SOC = alignTo(d.SOC, n)
}

// Aligned reports whether every array has the length of Labels.
func (d TimeSeriesChartData) Aligned() bool {
	n := len(d.Labels)
	for _, vals := range [][]float64{
		d.Purchase, d.Sale, d.SelfConsumption, d.Production,
		d.BatteryCharge, d.BatteryDischarge, d.Forecast, d.SOC,
	} {
		if len(vals) != n {
			return false
		}
	}
	return true
}

// Totals sums the magnitude of every quantity. Sale and battery charge may be
// reported negative upstream; both count toward their totals as positive.
func (d TimeSeriesChartData) Totals() SeriesTotals {
	return SeriesTotals{
		Purchase:         sumAbs(d.Purchase),
		Sale:             sumAbs(d.Sale),
		SelfConsumption:  sumAbs(d.SelfConsumption),
		Production:       sumAbs(d.Production),
		BatteryCharge:    sumAbs(d.BatteryCharge),
		BatteryDischarge: sumAbs(d.BatteryDischarge),
		Forecast:         sumAbs(d.Forecast),
		OffPeak:          d.TotalOffPeak,
		Peak:             d.TotalPeak,
	}
}

// Clone returns a deep copy.
func (d TimeSeriesChartData) Clone() TimeSeriesChartData {
	c := d
	c.Labels = append([]string(nil), d.Labels...)
	c.Purchase = append([]float64(nil), d.Purchase...)
	c.Sale = append([]float64(nil), d.Sale...)
	c.SelfConsumption = append([]float64(nil), d.SelfConsumption...)
	c.Production = append([]float64(nil), d.Production...)
	c.BatteryCharge = append([]float64(nil), d.BatteryCharge...)
	c.BatteryDischarge = append([]float64(nil), d.BatteryDischarge...)
	c.Forecast = append([]float64(nil), d.Forecast...)
	c.SOC = append([]float64(nil), d.SOC...)
	return c
}

// ForecastSeries is the solar production estimate (kWh) per time bucket for
// today and tomorrow.
type ForecastSeries struct {
	Labels   []string  `json:"labels"`
	Today    []float64 `json:"today"`
	Tomorrow []float64 `json:"tomorrow"`
}

// Align makes Today and Tomorrow the same length as Labels.
func (f *ForecastSeries) Align() {
	f.Today = alignTo(f.Today, len(f.Labels))
	f.Tomorrow = alignTo(f.Tomorrow, len(f.Labels))
}

// Totals returns the summed estimate for today and tomorrow.
func (f ForecastSeries) Totals() (today, tomorrow float64) {
	return sumAbs(f.Today), sumAbs(f.Tomorrow)
}

// Clone returns a deep copy.
func (f ForecastSeries) Clone() ForecastSeries {
	return ForecastSeries{
		Labels:   append([]string(nil), f.Labels...),
		Today:    append([]float64(nil), f.Today...),
		Tomorrow: append([]float64(nil), f.Tomorrow...),
	}
}
