package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raterudder/homedash/pkg/log"
	"github.com/raterudder/homedash/pkg/types"
)

// APIError is returned when the upstream answers with a JSON body carrying an
// explicit error field.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return "upstream error: " + e.Message
}

// checkAPIError inspects an object body for a non-empty "error" field.
func checkAPIError(fields map[string]json.RawMessage) error {
	raw, ok := fields["error"]
	if !ok || isNull(raw) {
		return nil
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil {
		// not a string, report the raw value
		msg = string(raw)
	}
	if msg == "" || msg == "false" {
		return nil
	}
	return &APIError{Message: msg}
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// vehiclePayload is every field name a vehicle has been reported under. The
// upstream renamed its vehicle fields between versions and still mixes both
// spellings.
type vehiclePayload struct {
	Name          *string  `json:"name,omitempty"`
	Model         *string  `json:"model,omitempty"`
	BatteryLevel  *float64 `json:"batteryLevel,omitempty"`
	RangeKM       *float64 `json:"rangeKm,omitempty"`
	Odometer      *float64 `json:"odometer,omitempty"`
	ChargingState *string  `json:"chargingState,omitempty"`
	PluggedIn     *bool    `json:"pluggedIn,omitempty"`
	InsideTemp    *float64 `json:"insideTemp,omitempty"`

	LegacyDisplayName   *string  `json:"display_name,omitempty"`
	LegacyBatteryLevel  *float64 `json:"battery_level,omitempty"`
	LegacyRangeKM       *float64 `json:"est_battery_range_km,omitempty"`
	LegacyChargingState *string  `json:"charging_state,omitempty"`
	LegacyPluggedIn     *bool    `json:"plugged_in,omitempty"`
	LegacyInsideTemp    *float64 `json:"inside_temp,omitempty"`
}

func coalesce[T any](canonical, legacy *T) *T {
	if canonical != nil {
		return canonical
	}
	return legacy
}

// normalizeVehicle fills each canonical field from its legacy alias when the
// canonical one is absent. Legacy fields are left untouched so applying it
// again is a no-op.
func normalizeVehicle(v vehiclePayload) vehiclePayload {
	v.Name = coalesce(v.Name, v.LegacyDisplayName)
	v.BatteryLevel = coalesce(v.BatteryLevel, v.LegacyBatteryLevel)
	v.RangeKM = coalesce(v.RangeKM, v.LegacyRangeKM)
	v.ChargingState = coalesce(v.ChargingState, v.LegacyChargingState)
	v.PluggedIn = coalesce(v.PluggedIn, v.LegacyPluggedIn)
	v.InsideTemp = coalesce(v.InsideTemp, v.LegacyInsideTemp)
	return v
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	return types.Float(*f)
}

func (v vehiclePayload) vehicle() types.Vehicle {
	n := normalizeVehicle(v)
	out := types.Vehicle{
		Name:          derefString(n.Name),
		Model:         derefString(n.Model),
		BatteryLevel:  copyFloat(n.BatteryLevel),
		RangeKM:       copyFloat(n.RangeKM),
		Odometer:      copyFloat(n.Odometer),
		ChargingState: derefString(n.ChargingState),
		InsideTemp:    copyFloat(n.InsideTemp),
	}
	if n.PluggedIn != nil {
		out.PluggedIn = types.Bool(*n.PluggedIn)
	}
	return out
}

// numericMap keeps only the numeric entries of an object. Per-inverter and
// per-zone details are loosely typed upstream.
func numericMap(raw map[string]json.RawMessage) map[string]float64 {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		var f float64
		if err := json.Unmarshal(v, &f); err == nil {
			out[k] = f
		}
	}
	return out
}

type productionPayload struct {
	Total  float64                    `json:"total"`
	Detail map[string]json.RawMessage `json:"detail"`
}

type energyPayload struct {
	Total  types.EnergyZones          `json:"total"`
	Detail map[string]json.RawMessage `json:"detail"`
}

// decodeSection decodes one top-level section into next. next is left
// untouched when the section is malformed.
func decodeSection(name string, raw json.RawMessage, next *types.DashboardSnapshot) error {
	var err error
	switch name {
	case types.SectionMeter:
		var m types.MeterReading
		if err = json.Unmarshal(raw, &m); err == nil {
			next.Meter = &m
		}
	case types.SectionWater:
		var w types.WaterUsage
		if err = json.Unmarshal(raw, &w); err == nil {
			next.Water = &w
		}
	case types.SectionGrid:
		var g types.GridFlow
		if err = json.Unmarshal(raw, &g); err == nil {
			next.Grid = &g
		}
	case types.SectionProduction:
		var p productionPayload
		if err = json.Unmarshal(raw, &p); err == nil {
			next.Production = &types.Production{Total: p.Total, Detail: numericMap(p.Detail)}
		}
	case types.SectionBattery:
		var b types.BatteryStatus
		if err = json.Unmarshal(raw, &b); err == nil {
			next.Battery = &b
		}
	case types.SectionVehicles:
		var vs map[string]vehiclePayload
		if err = json.Unmarshal(raw, &vs); err == nil {
			next.Vehicles = make(map[string]types.Vehicle, len(vs))
			for id, v := range vs {
				next.Vehicles[id] = v.vehicle()
			}
		}
	case types.SectionEnergy:
		var e energyPayload
		if err = json.Unmarshal(raw, &e); err == nil {
			next.Energy = &types.EnergyUsage{Total: e.Total, Detail: numericMap(e.Detail)}
		}
	case types.SectionTariff:
		var t types.TariffIndicator
		if err = json.Unmarshal(raw, &t); err == nil {
			next.Tariff = &t
		}
	case types.SectionSolarForecast:
		var f types.SolarForecast
		if err = json.Unmarshal(raw, &f); err == nil {
			next.SolarForecast = &f
		}
	case types.SectionWaterHeater:
		var h types.WaterHeater
		if err = json.Unmarshal(raw, &h); err == nil {
			next.WaterHeater = &h
		}
	}
	return err
}

// keepSection copies a single section from prev into next.
func keepSection(name string, prev types.DashboardSnapshot, next *types.DashboardSnapshot) {
	p := prev.Clone()
	switch name {
	case types.SectionMeter:
		next.Meter = p.Meter
	case types.SectionWater:
		next.Water = p.Water
	case types.SectionGrid:
		next.Grid = p.Grid
	case types.SectionProduction:
		next.Production = p.Production
	case types.SectionBattery:
		next.Battery = p.Battery
	case types.SectionVehicles:
		next.Vehicles = p.Vehicles
	case types.SectionEnergy:
		next.Energy = p.Energy
	case types.SectionTariff:
		next.Tariff = p.Tariff
	case types.SectionSolarForecast:
		next.SolarForecast = p.SolarForecast
	case types.SectionWaterHeater:
		next.WaterHeater = p.WaterHeater
	}
}

// DecodeSnapshot turns an upstream snapshot body into a new snapshot. The
// result replaces prev wholesale: sections absent from the body are unknown.
// A section that is present but malformed is logged and keeps its value from
// prev. A body that is not a JSON object, or one carrying an error field,
// fails.
func DecodeSnapshot(ctx context.Context, body []byte, prev types.DashboardSnapshot) (types.DashboardSnapshot, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return types.DashboardSnapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if fields == nil {
		return types.DashboardSnapshot{}, errors.New("failed to decode snapshot: body is null")
	}
	if err := checkAPIError(fields); err != nil {
		return types.DashboardSnapshot{}, err
	}

	var next types.DashboardSnapshot
	for _, name := range types.Sections {
		raw, ok := fields[name]
		if !ok || isNull(raw) {
			continue
		}
		if err := decodeSection(name, raw, &next); err != nil {
			log.Ctx(ctx).WarnContext(
				ctx,
				"malformed snapshot section, keeping previous value",
				slog.String("section", name),
				slog.Any("error", err),
			)
			keepSection(name, prev, &next)
		}
	}
	return next, nil
}

// decodeObject unmarshals an object body after checking it for an upstream
// error field.
func decodeObject(body []byte, dest any) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err == nil {
		if err := checkAPIError(fields); err != nil {
			return err
		}
	}
	return json.Unmarshal(body, dest)
}

// DecodeRangeSeries decodes the hour-by-hour flow series. The series is
// wrapped in a "multi" object and is aligned before being returned.
func DecodeRangeSeries(body []byte) (types.TimeSeriesChartData, error) {
	var payload struct {
		Multi *types.TimeSeriesChartData `json:"multi"`
	}
	if err := decodeObject(body, &payload); err != nil {
		return types.TimeSeriesChartData{}, fmt.Errorf("failed to decode range series: %w", err)
	}
	if payload.Multi == nil {
		return types.TimeSeriesChartData{}, errors.New("failed to decode range series: missing multi")
	}
	series := *payload.Multi
	series.Align()
	return series, nil
}

// DecodeForecastSeries decodes the three element forecast array: labels
// followed by today's and tomorrow's estimates.
func DecodeForecastSeries(body []byte) (types.ForecastSeries, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err == nil {
		if err := checkAPIError(fields); err != nil {
			return types.ForecastSeries{}, err
		}
	}
	var parts []struct {
		Label  []string  `json:"Label"`
		Energy []float64 `json:"Energy"`
	}
	if err := json.Unmarshal(body, &parts); err != nil {
		return types.ForecastSeries{}, fmt.Errorf("failed to decode forecast: %w", err)
	}
	if len(parts) == 0 {
		return types.ForecastSeries{}, errors.New("failed to decode forecast: empty")
	}
	f := types.ForecastSeries{Labels: parts[0].Label}
	if len(parts) > 1 {
		f.Today = parts[1].Energy
	}
	if len(parts) > 2 {
		f.Tomorrow = parts[2].Energy
	}
	f.Align()
	return f, nil
}

// DecodeAnnualSummary decodes the metric -> year -> month table.
func DecodeAnnualSummary(body []byte) (types.AnnualSummary, error) {
	var payload map[string]map[string]map[string]float64
	if err := decodeObject(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode annual summary: %w", err)
	}
	summary := make(types.AnnualSummary, len(payload))
	for metric, byYear := range payload {
		summary[types.AnnualMetric(metric)] = types.NewAnnualTable(byYear)
	}
	return summary, nil
}

// DecodeDailyHistory decodes the grouped and ungrouped per-day tables.
func DecodeDailyHistory(body []byte) (types.DailyHistory, error) {
	var h types.DailyHistory
	if err := decodeObject(body, &h); err != nil {
		return types.DailyHistory{}, fmt.Errorf("failed to decode daily history: %w", err)
	}
	return h, nil
}

type totalsPayload struct {
	Production      float64 `json:"production"`
	Purchase        float64 `json:"achat"`
	Sale            float64 `json:"vente"`
	Consumption     float64 `json:"consommation"`
	SelfConsumption float64 `json:"autoConsommation"`
}

// DecodeTotals decodes the lifetime cumulative figures.
func DecodeTotals(body []byte) (types.TotalsSample, error) {
	var p totalsPayload
	if err := decodeObject(body, &p); err != nil {
		return types.TotalsSample{}, fmt.Errorf("failed to decode totals: %w", err)
	}
	return types.TotalsSample{EnergyFigures: types.EnergyFigures{
		Production:   p.Production,
		Purchased:    p.Purchase,
		Sold:         p.Sale,
		Consumed:     p.Consumption,
		SelfConsumed: p.SelfConsumption,
	}}, nil
}
