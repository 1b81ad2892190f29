package types

import "slices"

// Section names as they appear in the upstream payload.
const (
	SectionMeter         = "compteurEdf"
	SectionWater         = "eau"
	SectionGrid          = "grid"
	SectionProduction    = "production"
	SectionBattery       = "battery"
	SectionVehicles      = "voiture"
	SectionEnergy        = "energy"
	SectionTariff        = "zenFlex"
	SectionSolarForecast = "solCast"
	SectionWaterHeater   = "chauffeEau"
)

// Sections lists every top-level snapshot section in payload order.
var Sections = []string{
	SectionMeter,
	SectionWater,
	SectionGrid,
	SectionProduction,
	SectionBattery,
	SectionVehicles,
	SectionEnergy,
	SectionTariff,
	SectionSolarForecast,
	SectionWaterHeater,
}

// GridWatts returns the grid draw or 0 when unknown.
func (s DashboardSnapshot) GridWatts() float64 {
	if s.Grid == nil {
		return 0
	}
	return s.Grid.Watts
}

// ProductionWatts returns the total solar output or 0 when unknown.
func (s DashboardSnapshot) ProductionWatts() float64 {
	if s.Production == nil {
		return 0
	}
	return s.Production.Total
}

// BatterySOC returns the battery state of charge or 0 when unknown.
func (s DashboardSnapshot) BatterySOC() float64 {
	if s.Battery == nil {
		return 0
	}
	return s.Battery.SOC
}

// BatteryWatts returns the battery power flow or 0 when unknown.
func (s DashboardSnapshot) BatteryWatts() float64 {
	if s.Battery == nil {
		return 0
	}
	return s.Battery.Watts
}

// Consumption returns the per-zone consumption, zero valued when unknown.
func (s DashboardSnapshot) Consumption() EnergyZones {
	if s.Energy == nil {
		return EnergyZones{}
	}
	return s.Energy.Total
}

// Has reports whether the named section carries a real reading.
func (s DashboardSnapshot) Has(section string) bool {
	switch section {
	case SectionMeter:
		return s.Meter != nil
	case SectionWater:
		return s.Water != nil
	case SectionGrid:
		return s.Grid != nil
	case SectionProduction:
		return s.Production != nil
	case SectionBattery:
		return s.Battery != nil
	case SectionVehicles:
		return len(s.Vehicles) > 0
	case SectionEnergy:
		return s.Energy != nil
	case SectionTariff:
		return s.Tariff != nil
	case SectionSolarForecast:
		return s.SolarForecast != nil
	case SectionWaterHeater:
		return s.WaterHeater != nil
	}
	return false
}

// Readings is a flattened view of a snapshot where every absent value has been
// replaced by its display default. Missing names the sections that were
// defaulted so a consumer can tell a default apart from a real zero.
type Readings struct {
	GridWatts        float64                    `json:"gridWatts"`
	GridDirection    string                     `json:"gridDirection"`
	ProductionWatts  float64                    `json:"productionWatts"`
	BatterySOC       float64                    `json:"batterySOC"`
	BatteryWatts     float64                    `json:"batteryWatts"`
	BatteryVoltage   float64                    `json:"batteryVoltage"`
	BatteryTemp      float64                    `json:"batteryTemperature"`
	BatteryState     string                     `json:"batteryState"`
	ConsumptionAll   float64                    `json:"consumptionAll"`
	ConsumptionHouse float64                    `json:"consumptionHouse"`
	ConsumptionAnnex float64                    `json:"consumptionAnnex"`
	WaterTotal       float64                    `json:"waterTotal"`
	WaterHouse       float64                    `json:"waterHouse"`
	WaterAnnex       float64                    `json:"waterAnnex"`
	WaterHeaterWatts float64                    `json:"waterHeaterWatts"`
	MeterIndexWH     float64                    `json:"meterIndexWH"`
	SubscribedAmps   float64                    `json:"subscribedAmps"`
	TariffToday      string                     `json:"tariffToday"`
	TariffTomorrow   string                     `json:"tariffTomorrow"`
	ContractColor    string                     `json:"contractColor"`
	ForecastToday    float64                    `json:"forecastTodayKWH"`
	ForecastTomorrow float64                    `json:"forecastTomorrowKWH"`
	Vehicles         map[string]VehicleReadings `json:"vehicles"`
	Missing          []string                   `json:"missing,omitempty"`
}

// VehicleReadings is the defaulted view of a Vehicle.
type VehicleReadings struct {
	Name          string  `json:"name"`
	Model         string  `json:"model"`
	BatteryLevel  float64 `json:"batteryLevel"`
	RangeKM       float64 `json:"rangeKm"`
	Odometer      float64 `json:"odometer"`
	ChargingState string  `json:"chargingState"`
	PluggedIn     bool    `json:"pluggedIn"`
	InsideTemp    float64 `json:"insideTemp"`
}

// Readings returns the vehicle with defaults substituted for absent values.
func (v Vehicle) Readings() VehicleReadings {
	r := VehicleReadings{
		Name:          v.Name,
		Model:         v.Model,
		BatteryLevel:  floatOr(v.BatteryLevel),
		RangeKM:       floatOr(v.RangeKM),
		Odometer:      floatOr(v.Odometer),
		ChargingState: v.ChargingState,
		InsideTemp:    floatOr(v.InsideTemp),
	}
	if v.PluggedIn != nil {
		r.PluggedIn = *v.PluggedIn
	}
	return r
}

// Readings flattens the snapshot. It never fails, even on a zero snapshot.
func (s DashboardSnapshot) Readings() Readings {
	var r Readings
	if s.Grid != nil {
		r.GridWatts = s.Grid.Watts
		r.GridDirection = s.Grid.Direction
	}
	r.ProductionWatts = s.ProductionWatts()
	if b := s.Battery; b != nil {
		r.BatterySOC = b.SOC
		r.BatteryWatts = b.Watts
		r.BatteryVoltage = b.Voltage
		r.BatteryTemp = b.Temperature
		r.BatteryState = b.StateLabel
	}
	c := s.Consumption()
	r.ConsumptionAll = c.All
	r.ConsumptionHouse = c.House
	r.ConsumptionAnnex = c.Annex
	if s.Water != nil {
		r.WaterTotal = s.Water.Total
		r.WaterHouse = s.Water.House
		r.WaterAnnex = s.Water.Annex
	}
	if s.WaterHeater != nil {
		r.WaterHeaterWatts = s.WaterHeater.Total
	}
	if s.Meter != nil {
		r.MeterIndexWH = s.Meter.BaseIndexWH
		r.SubscribedAmps = s.Meter.SubscribedAmps
	}
	if s.Tariff != nil {
		r.TariffToday = s.Tariff.Today
		r.TariffTomorrow = s.Tariff.Tomorrow
		r.ContractColor = s.Tariff.ContractColor
	}
	if s.SolarForecast != nil {
		r.ForecastToday = s.SolarForecast.Today
		r.ForecastTomorrow = s.SolarForecast.Tomorrow
	}
	r.Vehicles = make(map[string]VehicleReadings, len(s.Vehicles))
	for id, v := range s.Vehicles {
		r.Vehicles[id] = v.Readings()
	}
	for _, section := range Sections {
		if !s.Has(section) {
			r.Missing = append(r.Missing, section)
		}
	}
	return r
}

// VehicleIDs returns the vehicle identifiers in sorted order.
func (s DashboardSnapshot) VehicleIDs() []string {
	ids := make([]string, 0, len(s.Vehicles))
	for id := range s.Vehicles {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
