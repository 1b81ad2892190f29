package simulate

import (
	"maps"
	"math"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/raterudder/homedash/pkg/types"
)

// bound is the random-walk step and the range a field is clamped to.
type bound struct {
	step float64
	lo   float64
	hi   float64
}

var (
	gridBound         = bound{step: 200, lo: 0, hi: 12000}
	inverterBound     = bound{step: 50, lo: 0, hi: 6000}
	socBound          = bound{step: 0.5, lo: 0, hi: 100}
	batteryWattsBound = bound{step: 100, lo: -5000, hi: 5000}
	voltageBound      = bound{step: 0.2, lo: 40, hi: 60}
	batteryTempBound  = bound{step: 0.2, lo: -20, hi: 60}
	houseBound        = bound{step: 50, lo: 0, hi: 9000}
	annexBound        = bound{step: 30, lo: 0, hi: 6000}
	zoneDetailBound   = bound{step: 20, lo: 0, hi: 6000}
	waterHeaterBound  = bound{step: 50, lo: 0, hi: 3000}
	vehicleLevelBound = bound{step: 0.5, lo: 0, hi: 100}
	vehicleTempBound  = bound{step: 0.2, lo: -20, hi: 50}
	meterStepWH       = 5.0
	waterHouseStepM3  = 0.002
	waterAnnexStepM3  = 0.001
	odometerStepKM    = 0.5
	kmPerBatteryPct   = 4.5
)

// Generator derives each simulated snapshot from the previous one with a
// bounded random walk. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewGenerator returns a generator seeded from seed so runs are repeatable.
func NewGenerator(seed uint64) *Generator {
	return &Generator{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// New returns a randomly seeded generator.
func New() *Generator {
	return NewGenerator(rand.Uint64())
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// walk returns clamp(prev + (r-0.5)*step, lo, hi).
func (g *Generator) walk(prev float64, b bound) float64 {
	return clamp(prev+(g.rnd.Float64()-0.5)*b.step, b.lo, b.hi)
}

// grow returns prev increased by up to step. Cumulative counters only ever
// move forward.
func (g *Generator) grow(prev, step float64) float64 {
	return math.Max(prev, 0) + g.rnd.Float64()*step
}

func batteryLabel(watts float64) string {
	switch {
	case watts > 0:
		return "charging"
	case watts < 0:
		return "discharging"
	}
	return "idle"
}

// Next returns the snapshot following prev. Sections missing from prev are
// seeded from the default snapshot. prev is not modified.
func (g *Generator) Next(prev types.DashboardSnapshot) types.DashboardSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	seed := types.DefaultSnapshot()
	next := prev.Clone()

	if next.Meter == nil {
		next.Meter = seed.Meter
	}
	next.Meter.BaseIndexWH = g.grow(next.Meter.BaseIndexWH, meterStepWH)

	if next.Water == nil {
		next.Water = seed.Water
	}
	house := g.grow(next.Water.House, waterHouseStepM3)
	annex := g.grow(next.Water.Annex, waterAnnexStepM3)
	delta := (house - math.Max(next.Water.House, 0)) + (annex - math.Max(next.Water.Annex, 0))
	next.Water.House = house
	next.Water.Annex = annex
	next.Water.Total = math.Max(next.Water.Total, 0) + delta

	if next.Grid == nil {
		next.Grid = seed.Grid
	}
	next.Grid.Watts = g.walk(next.Grid.Watts, gridBound)

	if next.Production == nil {
		next.Production = seed.Production
	}
	if len(next.Production.Detail) > 0 {
		var total float64
		for _, name := range slices.Sorted(maps.Keys(next.Production.Detail)) {
			v := g.walk(next.Production.Detail[name], inverterBound)
			next.Production.Detail[name] = v
			total += v
		}
		next.Production.Total = total
	} else {
		next.Production.Total = g.walk(next.Production.Total, bound{step: 50, lo: 0, hi: 12000})
	}

	if next.Battery == nil {
		next.Battery = seed.Battery
	}
	next.Battery.SOC = g.walk(next.Battery.SOC, socBound)
	next.Battery.Watts = g.walk(next.Battery.Watts, batteryWattsBound)
	next.Battery.Voltage = g.walk(next.Battery.Voltage, voltageBound)
	next.Battery.Temperature = g.walk(next.Battery.Temperature, batteryTempBound)
	next.Battery.StateLabel = batteryLabel(next.Battery.Watts)

	if next.Energy == nil {
		next.Energy = seed.Energy
	}
	next.Energy.Total.House = g.walk(next.Energy.Total.House, houseBound)
	next.Energy.Total.Annex = g.walk(next.Energy.Total.Annex, annexBound)
	next.Energy.Total.All = next.Energy.Total.House + next.Energy.Total.Annex
	for _, zone := range slices.Sorted(maps.Keys(next.Energy.Detail)) {
		next.Energy.Detail[zone] = g.walk(next.Energy.Detail[zone], zoneDetailBound)
	}

	if next.WaterHeater == nil {
		next.WaterHeater = seed.WaterHeater
	}
	next.WaterHeater.Total = g.walk(next.WaterHeater.Total, waterHeaterBound)

	if next.Tariff == nil {
		next.Tariff = seed.Tariff
	}
	if next.SolarForecast == nil {
		next.SolarForecast = seed.SolarForecast
	}

	if len(next.Vehicles) == 0 {
		next.Vehicles = seed.Vehicles
	}
	defaultVehicle := types.DefaultSnapshot().Vehicles["tesla"]
	for _, id := range slices.Sorted(maps.Keys(next.Vehicles)) {
		next.Vehicles[id] = g.nextVehicle(next.Vehicles[id], defaultVehicle)
	}

	return next
}

func (g *Generator) nextVehicle(v, seed types.Vehicle) types.Vehicle {
	level := *seed.BatteryLevel
	if v.BatteryLevel != nil {
		level = *v.BatteryLevel
	}
	level = g.walk(level, vehicleLevelBound)
	v.BatteryLevel = types.Float(level)
	v.RangeKM = types.Float(math.Round(level * kmPerBatteryPct))

	odometer := *seed.Odometer
	if v.Odometer != nil {
		odometer = *v.Odometer
	}
	v.Odometer = types.Float(g.grow(odometer, odometerStepKM))

	temp := *seed.InsideTemp
	if v.InsideTemp != nil {
		temp = *v.InsideTemp
	}
	v.InsideTemp = types.Float(g.walk(temp, vehicleTempBound))

	if v.PluggedIn == nil {
		v.PluggedIn = types.Bool(*seed.PluggedIn)
	}
	if v.ChargingState == "" {
		v.ChargingState = seed.ChargingState
	}
	return v
}
