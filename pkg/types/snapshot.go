package types

import "maps"

// DashboardSnapshot is the latest known state of the monitored home. Every
// sub-record is optional: a nil pointer means the value is unknown, not zero.
// Published snapshots are never mutated; use Clone before deriving a new one.
type DashboardSnapshot struct {
	Meter         *MeterReading      `json:"compteurEdf,omitempty"`
	Water         *WaterUsage        `json:"eau,omitempty"`
	Grid          *GridFlow          `json:"grid,omitempty"`
	Production    *Production        `json:"production,omitempty"`
	Battery       *BatteryStatus     `json:"battery,omitempty"`
	Vehicles      map[string]Vehicle `json:"voiture,omitempty"`
	Energy        *EnergyUsage       `json:"energy,omitempty"`
	Tariff        *TariffIndicator   `json:"zenFlex,omitempty"`
	SolarForecast *SolarForecast     `json:"solCast,omitempty"`
	WaterHeater   *WaterHeater       `json:"chauffeEau,omitempty"`
}

// MeterReading is the utility meter's cumulative index.
type MeterReading struct {
	BaseIndexWH    float64 `json:"conso_base"`
	SubscribedAmps float64 `json:"isousc"`
}

// WaterUsage holds cumulative water totals (m³) for the whole site and per zone.
type WaterUsage struct {
	Total float64 `json:"total"`
	House float64 `json:"maison"`
	Annex float64 `json:"annexe"`
}

// GridFlow is the instantaneous grid draw (W) and its direction.
type GridFlow struct {
	Watts     float64 `json:"watts"`
	Direction string  `json:"sens"`
}

// Production is the instantaneous solar output (W), itemized by inverter.
type Production struct {
	Total  float64            `json:"total"`
	Detail map[string]float64 `json:"detail,omitempty"`
}

// BatteryStatus describes the home battery. Watts is positive while charging.
type BatteryStatus struct {
	Watts       float64 `json:"watts"`
	SOC         float64 `json:"soc"` // 0-100
	StateLabel  string  `json:"stateLabel"`
	Voltage     float64 `json:"voltage"`
	Temperature float64 `json:"temperature"`
}

// EnergyUsage is whole-house and per-zone consumption.
type EnergyUsage struct {
	Total  EnergyZones        `json:"total"`
	Detail map[string]float64 `json:"detail,omitempty"`
}

// EnergyZones splits consumption between the main house and the annex.
type EnergyZones struct {
	All   float64 `json:"all"`
	House float64 `json:"maison"`
	Annex float64 `json:"annexe"`
}

// TariffIndicator carries the tariff tier label for today and tomorrow.
type TariffIndicator struct {
	Today         string `json:"couleurJourJ"`
	Tomorrow      string `json:"couleurJourJ1"`
	ContractColor string `json:"contratColor"`
}

// SolarForecast is the estimated production (kWh) for today and tomorrow.
type SolarForecast struct {
	Today    float64 `json:"today"`
	Tomorrow float64 `json:"tomorrow"`
}

// WaterHeater is the water heater's instantaneous load (W).
type WaterHeater struct {
	Total float64 `json:"total"`
}

// Vehicle is the canonical vehicle record. Numeric fields are pointers so an
// absent reading stays distinguishable from zero.
type Vehicle struct {
	Name          string   `json:"name,omitempty"`
	Model         string   `json:"model,omitempty"`
	BatteryLevel  *float64 `json:"batteryLevel,omitempty"` // 0-100
	RangeKM       *float64 `json:"rangeKm,omitempty"`
	Odometer      *float64 `json:"odometer,omitempty"`
	ChargingState string   `json:"chargingState,omitempty"`
	PluggedIn     *bool    `json:"pluggedIn,omitempty"`
	InsideTemp    *float64 `json:"insideTemp,omitempty"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Bool returns a pointer to v.
func Bool(v bool) *bool {
	return &v
}

func floatOr(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return Float(*p)
}

// Clone returns a deep copy of the vehicle.
func (v Vehicle) Clone() Vehicle {
	c := v
	c.BatteryLevel = cloneFloat(v.BatteryLevel)
	c.RangeKM = cloneFloat(v.RangeKM)
	c.Odometer = cloneFloat(v.Odometer)
	c.InsideTemp = cloneFloat(v.InsideTemp)
	if v.PluggedIn != nil {
		c.PluggedIn = Bool(*v.PluggedIn)
	}
	return c
}

// Clone returns a deep copy of the snapshot so the result can be modified
// without affecting readers of the original.
func (s DashboardSnapshot) Clone() DashboardSnapshot {
	var c DashboardSnapshot
	if s.Meter != nil {
		m := *s.Meter
		c.Meter = &m
	}
	if s.Water != nil {
		w := *s.Water
		c.Water = &w
	}
	if s.Grid != nil {
		g := *s.Grid
		c.Grid = &g
	}
	if s.Production != nil {
		p := *s.Production
		p.Detail = maps.Clone(s.Production.Detail)
		c.Production = &p
	}
	if s.Battery != nil {
		b := *s.Battery
		c.Battery = &b
	}
	if s.Vehicles != nil {
		c.Vehicles = make(map[string]Vehicle, len(s.Vehicles))
		for id, v := range s.Vehicles {
			c.Vehicles[id] = v.Clone()
		}
	}
	if s.Energy != nil {
		e := *s.Energy
		e.Detail = maps.Clone(s.Energy.Detail)
		c.Energy = &e
	}
	if s.Tariff != nil {
		t := *s.Tariff
		c.Tariff = &t
	}
	if s.SolarForecast != nil {
		f := *s.SolarForecast
		c.SolarForecast = &f
	}
	if s.WaterHeater != nil {
		h := *s.WaterHeater
		c.WaterHeater = &h
	}
	return c
}

// DefaultSnapshot is the built-in value shown before any update arrives so a
// consumer never renders an empty state.
func DefaultSnapshot() DashboardSnapshot {
	return DashboardSnapshot{
		Meter: &MeterReading{BaseIndexWH: 24_512_300, SubscribedAmps: 45},
		Water: &WaterUsage{Total: 1432.6, House: 1180.2, Annex: 252.4},
		Grid:  &GridFlow{Watts: 1450, Direction: "import"},
		Production: &Production{
			Total: 3200,
			Detail: map[string]float64{
				"solarEdge": 2100,
				"apsystems": 1100,
			},
		},
		Battery: &BatteryStatus{
			Watts:       850,
			SOC:         64,
			StateLabel:  "charging",
			Voltage:     52.4,
			Temperature: 24.5,
		},
		Vehicles: map[string]Vehicle{
			"tesla": {
				Name:          "Tesla",
				Model:         "Y",
				BatteryLevel:  Float(72),
				RangeKM:       Float(318),
				Odometer:      Float(42_180),
				ChargingState: "Stopped",
				PluggedIn:     Bool(true),
				InsideTemp:    Float(19.5),
			},
		},
		Energy: &EnergyUsage{
			Total: EnergyZones{All: 2600, House: 2050, Annex: 550},
		},
		Tariff: &TariffIndicator{
			Today:         "Jour Eco",
			Tomorrow:      "Jour Eco",
			ContractColor: "bg-green-500",
		},
		SolarForecast: &SolarForecast{Today: 18.4, Tomorrow: 21.7},
		WaterHeater:   &WaterHeater{Total: 0},
	}
}
