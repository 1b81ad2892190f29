package simulate

import (
	"math"
	"time"

	"github.com/raterudder/homedash/pkg/tariff"
	"github.com/raterudder/homedash/pkg/types"
)

const (
	capacityKWH = 10.0
	maxRateKW   = 5.0
	minSOC      = 10.0

	// hourly buckets past this many are dropped
	maxRangeBuckets = 24 * 31
)

// homeLoadKW is a predictable 1.5 - 2.5 kW load on a sine wave that peaks
// every 2 hours.
func homeLoadKW(hour float64) float64 {
	return math.Max(1.0, 1.5+0.5*math.Sin(hour*math.Pi))
}

// solarKW is a bell curve between 06:00 and 19:00 peaking at 3 kW.
func solarKW(hour float64) float64 {
	if hour < 6 || hour > 19 {
		return 0
	}
	return 3.0 * math.Sin((hour-6)/13*math.Pi)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func pct(v, of float64) float64 {
	if of == 0 {
		return 0
	}
	return round2(v / of * 100)
}

// RangeSeries returns hourly flows between start and end from a simulated
// 10 kWh battery that absorbs surplus solar and covers the deficit down to
// 10% state of charge. The result is aligned.
func RangeSeries(start, end time.Time) types.TimeSeriesChartData {
	var d types.TimeSeriesChartData
	format := "15:04"
	if end.Sub(start) > 24*time.Hour {
		format = "01-02 15:04"
	}

	soc := 50.0
	for t := start.Truncate(time.Hour); t.Before(end) && len(d.Labels) < maxRangeBuckets; t = t.Add(time.Hour) {
		hour := float64(t.Hour())
		solar := solarKW(hour)
		home := homeLoadKW(hour)
		net := solar - home

		var charge, discharge, sale, purchase float64
		if net > 0 {
			charge = math.Min(math.Min(net, maxRateKW), (100-soc)/100*capacityKWH)
			sale = net - charge
		} else {
			discharge = math.Min(math.Min(-net, maxRateKW), math.Max(soc-minSOC, 0)/100*capacityKWH)
			purchase = -net - discharge
		}
		soc = clamp(soc+(charge-discharge)/capacityKWH*100, 0, 100)

		d.Labels = append(d.Labels, t.Format(format))
		d.Purchase = append(d.Purchase, round2(purchase))
		d.Sale = append(d.Sale, round2(sale))
		d.SelfConsumption = append(d.SelfConsumption, round2(math.Min(solar, home)))
		d.Production = append(d.Production, round2(solar))
		d.BatteryCharge = append(d.BatteryCharge, round2(charge))
		d.BatteryDischarge = append(d.BatteryDischarge, round2(discharge))
		d.Forecast = append(d.Forecast, round2(solar*1.05))
		d.SOC = append(d.SOC, round2(soc))

		if tariff.DefaultSchedule.IsPeak(t) {
			d.TotalPeak += purchase
		} else {
			d.TotalOffPeak += purchase
		}
	}
	d.TotalPeak = round2(d.TotalPeak)
	d.TotalOffPeak = round2(d.TotalOffPeak)
	d.Align()
	return d
}

// ForecastSeries returns an hourly bell-curve forecast scaled so its totals
// match the default solar forecast.
func ForecastSeries() types.ForecastSeries {
	var f types.ForecastSeries
	var bell float64
	for h := 6; h <= 19; h++ {
		bell += solarKW(float64(h))
	}
	sc := types.DefaultSnapshot().SolarForecast
	for h := 6; h <= 19; h++ {
		f.Labels = append(f.Labels, time.Date(0, 1, 1, h, 0, 0, 0, time.UTC).Format("15:04"))
		f.Today = append(f.Today, solarKW(float64(h))*sc.Today/bell)
		f.Tomorrow = append(f.Tomorrow, solarKW(float64(h))*sc.Tomorrow/bell)
	}
	f.Align()
	return f
}

var (
	monthlyProductionKWH = []float64{180, 250, 390, 480, 560, 600, 620, 560, 430, 300, 190, 150}
	monthlyPurchaseKWH   = []float64{520, 430, 340, 250, 190, 160, 150, 170, 230, 340, 450, 540}
)

// annualYears are the years covered by AnnualSummary, with their scale
// relative to the base monthly figures.
var annualYears = map[string]struct{ production, purchase float64 }{
	"2023": {production: 1, purchase: 1},
	"2024": {production: 1.06, purchase: 0.92},
}

// AnnualSummary returns month-by-year tables for 2023 and 2024.
func AnnualSummary() types.AnnualSummary {
	byMetric := make(map[types.AnnualMetric]map[string]map[string]float64)
	for _, metric := range types.AnnualMetrics {
		byMetric[metric] = make(map[string]map[string]float64)
	}
	for year, scale := range annualYears {
		totals := make(map[types.AnnualMetric]float64)
		for _, metric := range types.AnnualMetrics {
			byMetric[metric][year] = make(map[string]float64)
		}
		for i, label := range types.AnnualRowLabels[1:] {
			production := round2(monthlyProductionKWH[i] * scale.production)
			sale := round2(production * 0.25)
			values := map[types.AnnualMetric]float64{
				types.AnnualMetricProduction:      production,
				types.AnnualMetricPurchase:        round2(monthlyPurchaseKWH[i] * scale.purchase),
				types.AnnualMetricSale:            sale,
				types.AnnualMetricSelfConsumption: round2(production - sale),
			}
			for metric, v := range values {
				byMetric[metric][year][label] = v
				totals[metric] += v
			}
		}
		for metric, v := range totals {
			byMetric[metric][year][types.AnnualRowTotal] = round2(v)
		}
	}

	s := make(types.AnnualSummary, len(byMetric))
	for metric, byYear := range byMetric {
		s[metric] = types.NewAnnualTable(byYear)
	}
	return s
}

// historyDays is how many days DailyHistory covers, ending yesterday.
const historyDays = 14

// DailyHistory returns the history of the days before now, ungrouped and
// grouped by month.
func DailyHistory(now time.Time) types.DailyHistory {
	var h types.DailyHistory
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var months []types.DailyHistoryRow
	for i := historyDays; i >= 1; i-- {
		row := historyRow(today.AddDate(0, 0, -i))
		h.UnGroup.ByKWH = append(h.UnGroup.ByKWH, row)
		h.UnGroup.ByPercent = append(h.UnGroup.ByPercent, percentRow(row))

		month := row.Date[:7]
		if len(months) == 0 || months[len(months)-1].Date != month {
			months = append(months, types.DailyHistoryRow{Year: row.Year, Date: month})
		}
		addRow(&months[len(months)-1], row)
	}
	for _, m := range months {
		m = roundRow(m)
		h.Group.ByKWH = append(h.Group.ByKWH, m)
		h.Group.ByPercent = append(h.Group.ByPercent, percentRow(m))
	}
	return h
}

func historyRow(day time.Time) types.DailyHistoryRow {
	yday := day.YearDay()
	// 0 in midwinter, 1 in midsummer
	season := 0.5 + 0.5*math.Sin(float64(yday-80)/365*2*math.Pi)

	production := 8 + 22*season + float64((yday*37)%7-3)*0.8
	forecast := production * (1 + float64((yday*13)%5-2)*0.05)
	charger := 0.0
	if yday%3 == 0 {
		charger = 7.5
	}
	consumption := 18 + (1-season)*10 + charger
	self := math.Min(production*0.7, consumption)
	sale := production - self
	purchase := consumption - self
	batteryCharge := math.Min(sale*0.4, capacityKWH*0.8)
	batteryDischarge := batteryCharge * 0.9
	house := (consumption - charger) * 0.8

	tier := tariff.TierEco
	if yday%9 == 0 {
		tier = tariff.TierSobriety
	}

	return roundRow(types.DailyHistoryRow{
		Year:                day.Format("2006"),
		Date:                day.Format("2006-01-02"),
		Color:               tier.Color(),
		SunHours:            production / 3,
		ProductionSolarEdge: production * 0.65,
		ProductionECU:       production * 0.35,
		ProductionTotal:     production,
		Forecast:            forecast,
		Purchase:            purchase,
		PurchaseOffPeak:     purchase * 0.6,
		PurchasePeak:        purchase * 0.4,
		Consumption:         consumption,
		SelfConsumption:     self,
		Sale:                sale,
		Charger:             charger,
		ConsumptionHouse:    house,
		ConsumptionAnnex:    consumption - charger - house,
		BatteryCharge:       batteryCharge,
		BatteryDischarge:    batteryDischarge,
		BatteryTotal:        batteryCharge - batteryDischarge,
		PurchaseHouse:       purchase * 0.8,
		PurchaseAnnex:       purchase * 0.2,
	})
}

func addRow(dst *types.DailyHistoryRow, r types.DailyHistoryRow) {
	dst.SunHours += r.SunHours
	dst.ProductionSolarEdge += r.ProductionSolarEdge
	dst.ProductionECU += r.ProductionECU
	dst.ProductionTotal += r.ProductionTotal
	dst.Forecast += r.Forecast
	dst.Purchase += r.Purchase
	dst.PurchaseOffPeak += r.PurchaseOffPeak
	dst.PurchasePeak += r.PurchasePeak
	dst.Consumption += r.Consumption
	dst.SelfConsumption += r.SelfConsumption
	dst.Sale += r.Sale
	dst.Charger += r.Charger
	dst.ConsumptionHouse += r.ConsumptionHouse
	dst.ConsumptionAnnex += r.ConsumptionAnnex
	dst.BatteryCharge += r.BatteryCharge
	dst.BatteryDischarge += r.BatteryDischarge
	dst.BatteryTotal += r.BatteryTotal
	dst.PurchaseHouse += r.PurchaseHouse
	dst.PurchaseAnnex += r.PurchaseAnnex
}

func roundRow(r types.DailyHistoryRow) types.DailyHistoryRow {
	for _, v := range []*float64{
		&r.SunHours, &r.ProductionSolarEdge, &r.ProductionECU, &r.ProductionTotal,
		&r.Forecast, &r.Purchase, &r.PurchaseOffPeak, &r.PurchasePeak,
		&r.Consumption, &r.SelfConsumption, &r.Sale, &r.Charger,
		&r.ConsumptionHouse, &r.ConsumptionAnnex, &r.BatteryCharge,
		&r.BatteryDischarge, &r.BatteryTotal, &r.PurchaseHouse, &r.PurchaseAnnex,
	} {
		*v = round2(*v)
	}
	return r
}

// percentRow expresses production figures as a share of total production and
// consumption figures as a share of total consumption. Forecast becomes the
// share of the forecast that was produced.
func percentRow(r types.DailyHistoryRow) types.DailyHistoryRow {
	p := r
	p.ProductionSolarEdge = pct(r.ProductionSolarEdge, r.ProductionTotal)
	p.ProductionECU = pct(r.ProductionECU, r.ProductionTotal)
	p.ProductionTotal = pct(r.ProductionTotal, r.ProductionTotal)
	p.Forecast = pct(r.ProductionTotal, r.Forecast)
	p.Sale = pct(r.Sale, r.ProductionTotal)
	p.BatteryCharge = pct(r.BatteryCharge, r.ProductionTotal)
	p.BatteryDischarge = pct(r.BatteryDischarge, r.ProductionTotal)
	p.BatteryTotal = pct(r.BatteryTotal, r.ProductionTotal)
	p.Purchase = pct(r.Purchase, r.Consumption)
	p.SelfConsumption = pct(r.SelfConsumption, r.Consumption)
	p.Charger = pct(r.Charger, r.Consumption)
	p.ConsumptionHouse = pct(r.ConsumptionHouse, r.Consumption)
	p.ConsumptionAnnex = pct(r.ConsumptionAnnex, r.Consumption)
	p.Consumption = pct(r.Consumption, r.Consumption)
	p.PurchaseOffPeak = pct(r.PurchaseOffPeak, r.Purchase)
	p.PurchasePeak = pct(r.PurchasePeak, r.Purchase)
	p.PurchaseHouse = pct(r.PurchaseHouse, r.Purchase)
	p.PurchaseAnnex = pct(r.PurchaseAnnex, r.Purchase)
	return p
}

// Totals returns fixed lifetime figures. Consumed is production minus sold
// plus purchased.
func Totals() types.TotalsSample {
	return types.TotalsSample{EnergyFigures: types.EnergyFigures{
		Production:   41250.6,
		Purchased:    28640.2,
		Sold:         9875.3,
		Consumed:     60015.5,
		SelfConsumed: 31375.3,
	}}
}
