package insight

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/raterudder/homedash/pkg/log"
	"github.com/raterudder/homedash/pkg/tariff"
	"github.com/raterudder/homedash/pkg/types"
)

// idleBatteryWatts is the battery power under which the battery is considered
// idle. Inverters report a few watts of noise even at rest.
const idleBatteryWatts = 50

// Status is the badge of a single metric.
type Status string

const (
	StatusOnline Status = "online"
	StatusAlert  Status = "alert"
)

// BatteryFlow is the direction energy moves through the battery.
type BatteryFlow string

const (
	BatteryCharging    BatteryFlow = "charging"
	BatteryDischarging BatteryFlow = "discharging"
	BatteryIdle        BatteryFlow = "idle"
)

// Alert describes a metric that crossed its configured threshold.
type Alert struct {
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Message   string  `json:"message"`
}

// Insights are the indicators derived from a snapshot for display.
type Insights struct {
	GridStatus    Status      `json:"gridStatus"`
	BatteryStatus Status      `json:"batteryStatus"`
	Alerts        []Alert     `json:"alerts"`
	BatteryFlow   BatteryFlow `json:"batteryFlow"`

	// HouseShare and AnnexShare are percentages of the total consumption.
	HouseShare float64 `json:"houseShare"`
	AnnexShare float64 `json:"annexShare"`

	// ForecastTrend compares tomorrow's solar forecast to today's. It is nil
	// when today's forecast is unknown or zero.
	ForecastTrend *Trend `json:"forecastTrend,omitempty"`

	Tariff  tariff.Outlook `json:"tariff"`
	PeakNow bool           `json:"peakNow"`
}

// Compute derives the display indicators of a snapshot. Thresholds and the
// peak hours time zone come from settings.
func Compute(ctx context.Context, snap types.DashboardSnapshot, settings types.Settings, now time.Time) Insights {
	in := Insights{
		GridStatus:    StatusOnline,
		BatteryStatus: StatusOnline,
		Alerts:        []Alert{},
		BatteryFlow:   batteryFlow(snap.BatteryWatts()),
		Tariff:        tariff.Describe(snap.Tariff),
	}

	if grid := snap.GridWatts(); grid > settings.GridAlertWatts {
		in.GridStatus = StatusAlert
		in.Alerts = append(in.Alerts, Alert{
			Metric:    "grid",
			Value:     grid,
			Threshold: settings.GridAlertWatts,
			Message:   "grid draw is above the alert threshold",
		})
	}
	// an absent battery is unknown, not empty
	if snap.Battery != nil && snap.Battery.SOC < settings.LowBatterySOC {
		in.BatteryStatus = StatusAlert
		in.Alerts = append(in.Alerts, Alert{
			Metric:    "battery",
			Value:     snap.Battery.SOC,
			Threshold: settings.LowBatterySOC,
			Message:   "battery charge is below the alert threshold",
		})
	}

	in.HouseShare, in.AnnexShare = shares(snap.Consumption())

	if f := snap.SolarForecast; f != nil {
		today := f.Today
		in.ForecastTrend = NewTrend(types.AnnualMetricProduction, f.Tomorrow, &today)
	}

	schedule := tariff.DefaultSchedule
	schedule.Location = settings.TimeLocation()
	in.PeakNow = schedule.IsPeak(now)

	log.Ctx(ctx).DebugContext(
		ctx,
		"computed insights",
		slog.String("gridStatus", string(in.GridStatus)),
		slog.String("batteryStatus", string(in.BatteryStatus)),
		slog.String("batteryFlow", string(in.BatteryFlow)),
		slog.Bool("peakNow", in.PeakNow),
	)
	return in
}

func batteryFlow(watts float64) BatteryFlow {
	switch {
	case watts > idleBatteryWatts:
		return BatteryCharging
	case watts < -idleBatteryWatts:
		return BatteryDischarging
	}
	return BatteryIdle
}

// shares returns the house and annex percentages of the total. A zero total
// yields zero shares rather than dividing by zero.
func shares(z types.EnergyZones) (house, annex float64) {
	if z.All <= 0 {
		return 0, 0
	}
	return round1(z.House / z.All * 100), round1(z.Annex / z.All * 100)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
