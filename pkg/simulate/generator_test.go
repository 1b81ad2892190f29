package simulate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/homedash/pkg/types"
)

func TestGeneratorBounds(t *testing.T) {
	g := NewGenerator(42)
	snap := types.DefaultSnapshot()
	// start at the edges so the walk has to clamp
	snap.Battery.SOC = 99.9
	snap.Vehicles["tesla"] = func() types.Vehicle {
		v := snap.Vehicles["tesla"]
		v.BatteryLevel = types.Float(0.1)
		return v
	}()

	prev := snap
	for i := 0; i < 5000; i++ {
		next := g.Next(prev)

		require.NotNil(t, next.Battery)
		assert.GreaterOrEqual(t, next.Battery.SOC, 0.0)
		assert.LessOrEqual(t, next.Battery.SOC, 100.0)

		v := next.Vehicles["tesla"]
		require.NotNil(t, v.BatteryLevel)
		assert.GreaterOrEqual(t, *v.BatteryLevel, 0.0)
		assert.LessOrEqual(t, *v.BatteryLevel, 100.0)
		assert.Equal(t, float64(int(*v.RangeKM)), *v.RangeKM)

		assert.GreaterOrEqual(t, *v.Odometer, *prev.Vehicles["tesla"].Odometer)
		assert.GreaterOrEqual(t, next.Meter.BaseIndexWH, prev.Meter.BaseIndexWH)
		assert.GreaterOrEqual(t, next.Water.Total, prev.Water.Total)
		assert.GreaterOrEqual(t, next.Water.House, prev.Water.House)
		assert.GreaterOrEqual(t, next.Water.Annex, prev.Water.Annex)

		assert.GreaterOrEqual(t, next.Grid.Watts, 0.0)
		assert.GreaterOrEqual(t, next.Production.Total, 0.0)
		assert.GreaterOrEqual(t, next.Energy.Total.House, 0.0)
		assert.GreaterOrEqual(t, next.Energy.Total.Annex, 0.0)
		assert.InDelta(t, next.Energy.Total.House+next.Energy.Total.Annex, next.Energy.Total.All, 1e-9)
		assert.GreaterOrEqual(t, next.WaterHeater.Total, 0.0)

		var detail float64
		for _, w := range next.Production.Detail {
			detail += w
		}
		assert.InDelta(t, detail, next.Production.Total, 1e-9)

		prev = next
	}
}

func TestGeneratorStepSize(t *testing.T) {
	g := NewGenerator(7)
	prev := types.DefaultSnapshot()
	for i := 0; i < 500; i++ {
		next := g.Next(prev)
		assert.LessOrEqual(t, next.Battery.SOC-prev.Battery.SOC, 0.25)
		assert.GreaterOrEqual(t, next.Battery.SOC-prev.Battery.SOC, -0.25)
		assert.LessOrEqual(t, next.Grid.Watts-prev.Grid.Watts, 100.0)
		assert.GreaterOrEqual(t, next.Grid.Watts-prev.Grid.Watts, -100.0)
		prev = next
	}
}

func TestGeneratorSeedsMissingSections(t *testing.T) {
	g := NewGenerator(1)
	next := g.Next(types.DashboardSnapshot{})

	for _, section := range types.Sections {
		assert.True(t, next.Has(section), section)
	}
	assert.Contains(t, next.Vehicles, "tesla")
}

func TestGeneratorDoesNotModifyPrev(t *testing.T) {
	g := NewGenerator(3)
	prev := types.DefaultSnapshot()
	before := prev.Clone()

	_ = g.Next(prev)
	assert.Equal(t, before, prev)
}

func TestGeneratorRepeatable(t *testing.T) {
	a := NewGenerator(99).Next(types.DefaultSnapshot())
	b := NewGenerator(99).Next(types.DefaultSnapshot())
	assert.Equal(t, a, b)
}

func TestGeneratorVehicleDefaults(t *testing.T) {
	g := NewGenerator(5)
	prev := types.DefaultSnapshot()
	prev.Vehicles = map[string]types.Vehicle{"zoe": {Name: "Zoe"}}

	next := g.Next(prev)
	v := next.Vehicles["zoe"]
	assert.Equal(t, "Zoe", v.Name)
	require.NotNil(t, v.BatteryLevel)
	require.NotNil(t, v.Odometer)
	require.NotNil(t, v.PluggedIn)
	assert.NotEmpty(t, v.ChargingState)
}

func TestBatteryLabel(t *testing.T) {
	assert.Equal(t, "charging", batteryLabel(10))
	assert.Equal(t, "discharging", batteryLabel(-10))
	assert.Equal(t, "idle", batteryLabel(0))
}
