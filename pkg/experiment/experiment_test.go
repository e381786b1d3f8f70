package experiment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/bca/internal/enginetest"
	"github.com/boristopalov/bca/pkg/core"
	"github.com/boristopalov/bca/pkg/environment"
)

const point = core.EndZoneTimestepAfterZoneReporting

func newExperiment(t *testing.T, opts ...Option) (*Experiment, *enginetest.Fake) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := enginetest.New()
	engine.AddHandle(core.Meter, core.LookupKey{"Electricity:HVAC"}, 3, 0)

	env, err := environment.New(engine, environment.WithLogger(log), environment.WithRunID("run-test"))
	require.NoError(t, err)
	require.NoError(t, env.DeclareMetric("hvac_elec", core.Meter, "Electricity:HVAC"))
	require.NoError(t, env.BindCallingPoint(point))

	engine.Script = func(f *enginetest.Fake) error {
		for zts := 1; zts <= 4; zts++ {
			f.Step(zts, 4)
			f.Values[3] = float64(100 * zts)
			f.Fire(point)
		}
		return nil
	}
	x := New("office", engine, env, append([]Option{WithLogger(log)}, opts...)...)
	t.Cleanup(func() { x.Close() })
	return x, engine
}

func TestRun(t *testing.T) {
	x, engine := newExperiment(t, WithArgs("-w", "weather.epw"))

	before := x.Status()
	assert.False(t, before.Running)
	assert.Equal(t, "run-test", before.RunID)

	_, err := x.Export()
	assert.ErrorIs(t, err, core.ErrNotRun)

	require.NoError(t, x.Run(context.Background()))

	st := x.Status()
	assert.False(t, st.Running)
	assert.Equal(t, 1, st.Runs)
	assert.Equal(t, 4, st.Callbacks)
	assert.Equal(t, 4, st.TotalTimesteps)
	assert.Empty(t, st.Error)
	assert.False(t, st.EndTime.Before(st.StartTime))

	tables, err := x.Export("meter")
	require.NoError(t, err)
	require.Len(t, tables, 1)
	col, _ := tables[0].Column("hvac_elec")
	assert.Equal(t, []float64{100, 200, 300, 400}, col)

	require.NoError(t, x.Close())
	assert.Len(t, engine.Released, 1)
	assert.Error(t, x.Run(context.Background()))
}

func TestRunTwiceResetsState(t *testing.T) {
	x, engine := newExperiment(t)
	require.NoError(t, x.Run(context.Background()))
	require.NoError(t, x.Run(context.Background()))

	assert.Equal(t, 1, engine.ResetCalls)
	st := x.Status()
	assert.Equal(t, 2, st.Runs)
	assert.Equal(t, 4, st.TotalTimesteps)

	vs, err := x.Environment().History("hvac_elec")
	require.NoError(t, err)
	assert.Len(t, vs, 4)
}

func TestRunFailures(t *testing.T) {
	t.Run("engine error", func(t *testing.T) {
		x, engine := newExperiment(t)
		engine.Script = func(f *enginetest.Fake) error { return errors.New("model failed to parse") }
		err := x.Run(context.Background())
		assert.ErrorContains(t, err, "model failed to parse")
		assert.Contains(t, x.Status().Error, "model failed to parse")
	})

	t.Run("non-zero exit", func(t *testing.T) {
		x, engine := newExperiment(t)
		engine.ExitCode = 1
		assert.ErrorContains(t, x.Run(context.Background()), "exited with code 1")
		assert.Equal(t, 1, x.Status().ExitCode)
	})

	t.Run("fatal callback error wins", func(t *testing.T) {
		x, engine := newExperiment(t)
		engine.Script = func(f *enginetest.Fake) error {
			f.Time.ZoneTimestep = 9
			f.Fire(point)
			return nil
		}
		assert.ErrorIs(t, x.Run(context.Background()), core.ErrConfiguration)
		assert.True(t, engine.Stopped)
	})
}
