package recorder

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/bca/internal/enginetest"
	"github.com/boristopalov/bca/pkg/core"
	"github.com/boristopalov/bca/pkg/registry"
	"github.com/boristopalov/bca/pkg/timing"
)

type mapHandles map[string]core.Handle

func (m mapHandles) Handle(name string) (core.Handle, error) {
	h, ok := m[name]
	if !ok {
		return core.InvalidHandle, core.ErrUnknownMetric
	}
	return h, nil
}

type stubClock struct {
	total  int
	fields map[string][]float64
}

func (c *stubClock) TotalTimesteps() int { return c.total }

func (c *stubClock) Field(name string) ([]float64, bool) {
	vs, ok := c.fields[name]
	return vs, ok
}

type fixture struct {
	engine *enginetest.Fake
	clock  *stubClock
	rec    *Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Declare("zn0_temp", core.Variable, core.LookupKey{"Zone Mean Air Temperature", "Zone 1"}))
	require.NoError(t, reg.Declare("oa_temp", core.Variable, core.LookupKey{"Site Outdoor Air Drybulb Temperature", "Environment"}))
	require.NoError(t, reg.Declare("floor_area", core.InternalVariable, core.LookupKey{"Zone Floor Area", "Zone 1"}))
	require.NoError(t, reg.Declare("htg_sp", core.Actuator, core.LookupKey{"Zone Temperature Control", "Heating Setpoint", "Zone 1"}))
	require.NoError(t, reg.Declare("oa_db", core.Weather, core.LookupKey{"outdoor_dry_bulb"}))

	engine := enginetest.New()
	engine.Values[1] = 20
	engine.Values[2] = 5
	engine.Values[3] = 100
	engine.Weather[core.OutdoorDryBulb] = 4.5

	clock := &stubClock{fields: map[string][]float64{}}
	handles := mapHandles{"zn0_temp": 1, "oa_temp": 2, "floor_area": 3, "htg_sp": 4}
	return &fixture{engine: engine, clock: clock, rec: New(engine, reg, handles, clock)}
}

// step advances the clock and reads the given zone temperature.
func (f *fixture) step(t *testing.T, zoneTemp float64) {
	t.Helper()
	f.clock.total++
	f.engine.Values[1] = zoneTemp
	_, err := f.rec.UpdateMetrics(0, []string{"zn0_temp", "oa_temp"})
	require.NoError(t, err)
}

func TestUpdateMetrics(t *testing.T) {
	t.Run("appends one reading per timestep", func(t *testing.T) {
		f := newFixture(t)
		for _, v := range []float64{10, 11, 12} {
			f.step(t, v)
		}
		got, err := f.rec.Series("zn0_temp")
		require.NoError(t, err)
		assert.Equal(t, []float64{10, 11, 12}, got)
	})

	t.Run("repeat in the same timestep overwrites", func(t *testing.T) {
		f := newFixture(t)
		f.step(t, 10)
		f.engine.Values[1] = 10.5
		_, err := f.rec.UpdateMetrics(0, []string{"zn0_temp"})
		require.NoError(t, err)

		got, _ := f.rec.Series("zn0_temp")
		assert.Equal(t, []float64{10.5}, got)
	})

	t.Run("reads before the first timestep collapse", func(t *testing.T) {
		f := newFixture(t)
		for _, v := range []float64{7, 8, 9} {
			f.engine.Values[1] = v
			_, err := f.rec.UpdateMetrics(0, []string{"zn0_temp"})
			require.NoError(t, err)
		}
		got, _ := f.rec.Series("zn0_temp")
		assert.Equal(t, []float64{9}, got)

		f.step(t, 10)
		f.step(t, 11)
		got, _ = f.rec.Series("zn0_temp")
		assert.Equal(t, []float64{10, 11}, got)
	})

	t.Run("internal variables are read once", func(t *testing.T) {
		f := newFixture(t)
		for i := 0; i < 3; i++ {
			f.clock.total++
			vs, err := f.rec.UpdateMetrics(0, []string{"floor_area"})
			require.NoError(t, err)
			assert.Equal(t, []float64{100}, vs)
		}
		assert.Equal(t, 1, f.engine.ReadCalls[3])
	})

	t.Run("weather uses today with a clamped hour", func(t *testing.T) {
		f := newFixture(t)
		f.engine.Time.Hour = 24
		f.engine.Time.ZoneTimestep = 3
		f.clock.total = 1
		vs, err := f.rec.UpdateMetrics(0, []string{"oa_db"})
		require.NoError(t, err)
		assert.Equal(t, []float64{4.5}, vs)
		require.Len(t, f.engine.WeatherQueries, 1)
		q := f.engine.WeatherQueries[0]
		assert.Equal(t, core.Today, q.When)
		assert.Equal(t, 23, q.Hour)
		assert.Equal(t, 3, q.ZoneTimestep)
	})

	t.Run("unknown name", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.rec.UpdateMetrics(0, []string{"nope"})
		assert.ErrorIs(t, err, core.ErrUnknownMetric)
	})

	t.Run("latest snapshot", func(t *testing.T) {
		f := newFixture(t)
		f.step(t, 21)
		assert.Equal(t, map[string]float64{"zn0_temp": 21, "oa_temp": 5}, f.rec.Latest())
	})
}

func TestFetch(t *testing.T) {
	f := newFixture(t)
	for _, v := range []float64{10, 11, 12} {
		f.step(t, v)
	}

	t.Run("single name single offset is a bare value", func(t *testing.T) {
		got, err := f.rec.Fetch([]string{"zn0_temp"}, []int{0})
		require.NoError(t, err)
		assert.Equal(t, 12.0, got)
	})

	t.Run("single name full history", func(t *testing.T) {
		got, err := f.rec.Fetch([]string{"zn0_temp"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []float64{10, 11, 12}, got)
	})

	t.Run("single name several offsets", func(t *testing.T) {
		got, err := f.rec.Fetch([]string{"zn0_temp"}, []int{0, 2})
		require.NoError(t, err)
		assert.Equal(t, []float64{12, 10}, got)
	})

	t.Run("several names one offset", func(t *testing.T) {
		got, err := f.rec.Fetch([]string{"zn0_temp", "oa_temp"}, []int{1})
		require.NoError(t, err)
		assert.Equal(t, []float64{11, 5}, got)
	})

	t.Run("several names full history", func(t *testing.T) {
		got, err := f.rec.Fetch([]string{"zn0_temp", "oa_temp"}, nil)
		require.NoError(t, err)
		assert.Equal(t, [][]float64{{10, 11, 12}, {5, 5, 5}}, got)
	})

	t.Run("category keeps one entry per metric", func(t *testing.T) {
		got, err := f.rec.Fetch([]string{"var"}, []int{0})
		require.NoError(t, err)
		assert.Equal(t, []float64{12, 5}, got)
	})

	t.Run("offset beyond history", func(t *testing.T) {
		_, err := f.rec.Fetch([]string{"zn0_temp"}, []int{5})
		assert.ErrorIs(t, err, core.ErrInsufficientHistory)
	})

	t.Run("mixed category request", func(t *testing.T) {
		_, err := f.rec.Fetch([]string{"var", "zn0_temp"}, nil)
		assert.ErrorIs(t, err, core.ErrMixedCategoryRequest)
	})

	t.Run("empty request", func(t *testing.T) {
		_, err := f.rec.Fetch(nil, nil)
		assert.ErrorIs(t, err, core.ErrConfiguration)
	})

	t.Run("time fields come from the clock", func(t *testing.T) {
		f.clock.fields["hour"] = []float64{0, 0, 1}
		got, err := f.rec.Fetch([]string{"hour"}, []int{0})
		require.NoError(t, err)
		assert.Equal(t, 1.0, got)

		_, err = f.rec.Fetch([]string{"datetime"}, nil)
		assert.ErrorIs(t, err, core.ErrUnknownMetric)
	})
}

func TestSetpoints(t *testing.T) {
	f := newFixture(t)
	f.clock.total = 1
	require.NoError(t, f.rec.RecordSetpoint("htg_sp", core.Float(21)))
	f.clock.total = 2
	require.NoError(t, f.rec.RecordSetpoint("htg_sp", nil))

	sps, err := f.rec.Setpoints("htg_sp")
	require.NoError(t, err)
	require.Len(t, sps, 2)
	assert.Equal(t, 21.0, *sps[0])
	assert.Nil(t, sps[1])

	assert.ErrorIs(t, f.rec.RecordSetpoint("zn0_temp", core.Float(1)), core.ErrUnknownActuator)
	assert.ErrorIs(t, f.rec.RecordSetpoint("missing", core.Float(1)), core.ErrUnknownActuator)
}

func TestRecordSets(t *testing.T) {
	t.Run("declaration checks", func(t *testing.T) {
		f := newFixture(t)
		cp := core.EndZoneTimestepAfterZoneReporting
		assert.ErrorIs(t, f.rec.DeclareRecordSet("", cp, 1, []string{"zn0_temp"}), core.ErrConfiguration)
		assert.ErrorIs(t, f.rec.DeclareRecordSet("var", cp, 1, []string{"zn0_temp"}), core.ErrNameCollision)
		assert.ErrorIs(t, f.rec.DeclareRecordSet("t", "callback_nowhere", 1, []string{"zn0_temp"}), core.ErrConfiguration)
		assert.ErrorIs(t, f.rec.DeclareRecordSet("t", cp, 0, []string{"zn0_temp"}), core.ErrConfiguration)
		assert.ErrorIs(t, f.rec.DeclareRecordSet("t", cp, 1, []string{"ghost"}), core.ErrUnknownMetric)
		assert.ErrorIs(t, f.rec.DeclareRecordSet("t", cp, 1, []string{"datetime"}), core.ErrConfiguration)
		require.NoError(t, f.rec.DeclareRecordSet("t", cp, 1, []string{"zn0_temp", "hour"}))
		assert.ErrorIs(t, f.rec.DeclareRecordSet("t", cp, 1, []string{"zn0_temp"}), core.ErrNameCollision)
	})

	t.Run("stride and point gating", func(t *testing.T) {
		f := newFixture(t)
		cp := core.EndZoneTimestepAfterZoneReporting
		require.NoError(t, f.rec.DeclareRecordSet("every2", cp, 2, []string{"zn0_temp", "zone_timestep", "floor_area"}))

		tr, err := timing.New(4)
		require.NoError(t, err)
		for zts := 1; zts <= 4; zts++ {
			f.engine.Step(zts, 4)
			sample, _, err := tr.Record(f.engine.Time)
			require.NoError(t, err)
			f.clock.total = sample.TotalTimesteps
			f.engine.Values[1] = float64(20 + zts)
			_, err = f.rec.UpdateMetrics(0, []string{"zn0_temp"})
			require.NoError(t, err)

			assert.Zero(t, f.rec.UpdateRecordSets(core.BeginNewEnvironment, sample))
			f.rec.UpdateRecordSets(cp, sample)
			// a second callback in the same timestep does not add a row
			f.rec.UpdateRecordSets(cp, sample)
		}

		tbl, err := f.rec.Materialize("every2")
		require.NoError(t, err)
		require.Equal(t, 2, tbl.Len())
		temps, _ := tbl.Column("zn0_temp")
		assert.Equal(t, []float64{22, 24}, temps)
		zts, _ := tbl.Column("zone_timestep")
		assert.Equal(t, []float64{2, 4}, zts)
		area, _ := tbl.Column("floor_area")
		assert.True(t, math.IsNaN(area[0]))
		assert.Equal(t, 30, tbl.Times[0].Minute())
	})

	t.Run("unknown set", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.rec.Materialize("ghost")
		assert.ErrorIs(t, err, core.ErrUnknownMetric)
	})
}

func TestCategoryTable(t *testing.T) {
	f := newFixture(t)
	tr, err := timing.New(4)
	require.NoError(t, err)

	for zts := 1; zts <= 3; zts++ {
		f.engine.Step(zts, 4)
		sample, _, err := tr.Record(f.engine.Time)
		require.NoError(t, err)
		f.clock.total = sample.TotalTimesteps
		names := []string{"zn0_temp", "floor_area"}
		if zts == 2 {
			names = names[1:]
		}
		_, err = f.rec.UpdateMetrics(0, names)
		require.NoError(t, err)
	}

	vars := f.rec.CategoryTable(core.Variable, tr.Samples())
	assert.Equal(t, []string{"zn0_temp", "oa_temp"}, vars.Columns)
	temps, _ := vars.Column("zn0_temp")
	require.Len(t, temps, 3)
	assert.Equal(t, 20.0, temps[0])
	assert.True(t, math.IsNaN(temps[1]))

	intvars := f.rec.CategoryTable(core.InternalVariable, tr.Samples())
	area, _ := intvars.Column("floor_area")
	assert.Equal(t, []float64{100, 100, 100}, area)
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.rec.DeclareRecordSet("t", core.EndZoneTimestepAfterZoneReporting, 1, []string{"zn0_temp"}))
	f.step(t, 10)
	f.rec.UpdateRecordSets(core.EndZoneTimestepAfterZoneReporting, timing.Sample{TotalTimesteps: 1})
	require.NoError(t, f.rec.RecordSetpoint("htg_sp", core.Float(20)))

	f.rec.Reset()

	vs, err := f.rec.Series("zn0_temp")
	require.NoError(t, err)
	assert.Empty(t, vs)
	sps, _ := f.rec.Setpoints("htg_sp")
	assert.Empty(t, sps)
	tbl, _ := f.rec.Materialize("t")
	assert.Zero(t, tbl.Len())
	assert.Equal(t, []string{"t"}, f.rec.RecordSetNames())
}
