// Package environment is the caller-facing side of the callback layer: it
// owns the declarations, series and reward of one engine run and dispatches
// the engine's calling-point callbacks to the controller.
package environment

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/boristopalov/bca/pkg/core"
	"github.com/boristopalov/bca/pkg/messaging"
	"github.com/boristopalov/bca/pkg/recorder"
	"github.com/boristopalov/bca/pkg/registry"
	"github.com/boristopalov/bca/pkg/resolver"
	"github.com/boristopalov/bca/pkg/reward"
	"github.com/boristopalov/bca/pkg/timing"
)

// Environment binds one engine run to a controller. It is not safe for
// concurrent use; the engine serializes every callback. Progress may be
// read from other goroutines.
type Environment struct {
	engine core.Engine
	runID  string
	log    *slog.Logger
	broker messaging.Broker

	registry *registry.Registry
	resolver *resolver.Resolver
	tracker  *timing.Tracker
	recorder *recorder.Recorder
	rewards  *reward.Accumulator

	bindings  map[core.CallingPoint]*binding
	bindOrder []core.CallingPoint

	state      core.State
	registered bool
	completed  bool
	err        error

	callbacks   int
	callbackAt  []float64
	progressCbs atomic.Int64
	progressTS  atomic.Int64
}

// New creates an environment over engine.
func New(engine core.Engine, opts ...Option) (*Environment, error) {
	params := defaultParams()
	for _, opt := range opts {
		opt(params)
	}
	if params.Logger == nil {
		params.Logger = slog.Default()
	}

	tracker, err := timing.New(params.TimestepsPerHour)
	if err != nil {
		return nil, err
	}

	log := params.Logger.With("run_id", params.RunID)
	reg := registry.New()
	e := &Environment{
		engine:   engine,
		runID:    params.RunID,
		log:      log,
		broker:   params.Broker,
		registry: reg,
		resolver: resolver.New(engine, reg, log),
		tracker:  tracker,
		rewards:  reward.NewAccumulator(),
		bindings: make(map[core.CallingPoint]*binding),
	}
	e.recorder = recorder.New(engine, reg, e.resolver, e)
	return e, nil
}

func (e *Environment) RunID() string {
	return e.runID
}

func (e *Environment) TimestepsPerHour() int {
	return e.tracker.TimestepsPerHour()
}

// DeclareMetric adds a sensor, actuator or weather metric. Declarations are
// closed once the environment is registered with the engine.
func (e *Environment) DeclareMetric(name string, category core.Category, key ...string) error {
	if err := e.registry.Declare(name, category, core.LookupKey(key)); err != nil {
		return err
	}
	e.recorder.Track(name)
	return nil
}

// Declarations returns every declared metric in declaration order.
func (e *Environment) Declarations() []core.MetricDeclaration {
	return e.registry.Declarations()
}

// BindCallingPoint attaches observation and actuation functions to a calling
// point. Each calling point can be bound once.
func (e *Environment) BindCallingPoint(point core.CallingPoint, opts ...BindingOption) error {
	if e.registered {
		return fmt.Errorf("%w: cannot bind %q after the environment is registered", core.ErrConfiguration, point)
	}
	if !core.IsCallingPoint(string(point)) {
		return fmt.Errorf("%w: %q is not a valid calling point, choose one of %v", core.ErrConfiguration, point, core.CallingPoints)
	}
	if _, exists := e.bindings[point]; exists {
		return fmt.Errorf("%w: calling point %q is already bound", core.ErrConfiguration, point)
	}

	p := defaultBindingParams()
	for _, opt := range opts {
		opt(p)
	}
	if p.stateStride < 1 || p.actuationStride < 1 {
		return fmt.Errorf("%w: %q strides must be >= 1, got state %d and actuation %d",
			core.ErrConfiguration, point, p.stateStride, p.actuationStride)
	}
	if p.actuate != nil && p.updateState && p.actuationStride < p.stateStride {
		e.log.Warn("actuation stride is finer than state stride, actions will repeat on stale state",
			"calling_point", point, "state_stride", p.stateStride, "actuation_stride", p.actuationStride)
	}

	e.bindings[point] = newBinding(point, p)
	e.bindOrder = append(e.bindOrder, point)
	return nil
}

// BoundCallingPoints returns the bound calling points in binding order.
func (e *Environment) BoundCallingPoints() []core.CallingPoint {
	return slices.Clone(e.bindOrder)
}

// Phase reports the dispatch state of a bound calling point.
func (e *Environment) Phase(point core.CallingPoint) (Phase, bool) {
	b, ok := e.bindings[point]
	if !ok {
		return 0, false
	}
	return b.phase, true
}

// DeclareRecordSet adds a table sampled at a bound calling point every
// stride total timesteps.
func (e *Environment) DeclareRecordSet(name string, point core.CallingPoint, stride int, metrics ...string) error {
	if _, ok := e.bindings[point]; !ok {
		return fmt.Errorf("%w: record set %q uses calling point %q which is not bound", core.ErrConfiguration, name, point)
	}
	if e.registry.Has(name) || registry.IsTimeField(name) {
		return fmt.Errorf("%w: record set %q shares a metric name", core.ErrNameCollision, name)
	}
	return e.recorder.DeclareRecordSet(name, point, stride, metrics)
}

// Register binds every calling point to the engine for state and closes the
// declarations.
func (e *Environment) Register(state core.State) error {
	if len(e.bindOrder) == 0 {
		e.log.Warn("no calling points bound, the simulation will run without control")
	}
	for _, point := range e.bindOrder {
		if err := e.engine.RegisterCallback(state, point, e.callback(point)); err != nil {
			return fmt.Errorf("%w: registering %q: %v", core.ErrConfiguration, point, err)
		}
	}
	e.registry.Seal()
	e.state = state
	e.registered = true
	e.log.Info("environment registered",
		"metrics", e.registry.Len(), "calling_points", len(e.bindOrder), "timesteps_per_hour", e.tracker.TimestepsPerHour())
	return nil
}

// Run registers with the engine, blocks until the simulation ends and marks
// the run complete. The first fatal error raised inside a callback is
// returned even when the engine exits cleanly.
func (e *Environment) Run(ctx context.Context, state core.State, args []string) (int, error) {
	if err := e.Register(state); err != nil {
		return -1, err
	}
	code, err := e.engine.Run(ctx, state, args)
	e.completed = true
	if e.err != nil {
		return code, e.err
	}
	if err != nil {
		return code, fmt.Errorf("engine run: %w", err)
	}
	if code != 0 {
		return code, fmt.Errorf("engine exited with code %d", code)
	}
	e.log.Info("simulation complete", "callbacks", e.callbacks, "total_timesteps", e.tracker.TotalTimesteps())
	return code, nil
}

// Err returns the fatal error that aborted the run, if any.
func (e *Environment) Err() error {
	return e.err
}

// Completed reports whether the engine run has returned.
func (e *Environment) Completed() bool {
	return e.completed
}

// Fetch returns recorded history for metrics or time fields. See
// recorder.Recorder.Fetch for the result shapes.
func (e *Environment) Fetch(names []string, offsets ...int) (any, error) {
	return e.recorder.Fetch(names, offsets)
}

// At returns the value of one metric offset samples back from the most
// recent one.
func (e *Environment) At(name string, offset int) (float64, error) {
	return e.recorder.At(name, offset)
}

// History returns the full series of one metric or time field.
func (e *Environment) History(name string) ([]float64, error) {
	return e.recorder.Series(name)
}

// FetchWeather queries the engine's weather for declared weather metrics at
// an arbitrary day, hour and zone timestep. It is only usable from inside a
// callback, once handles are resolved.
func (e *Environment) FetchWeather(names []string, when core.Day, hour, zoneTimestep int) ([]float64, error) {
	if !e.registered {
		return nil, fmt.Errorf("%w: weather can only be queried during a run", core.ErrConfiguration)
	}
	if when != core.Today && when != core.Tomorrow {
		return nil, fmt.Errorf("%w: weather day must be %q or %q, got %q", core.ErrConfiguration, core.Today, core.Tomorrow, when)
	}
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("%w: weather hour must be in [0, 23], got %d", core.ErrConfiguration, hour)
	}
	if zoneTimestep < 1 || zoneTimestep > e.tracker.TimestepsPerHour() {
		return nil, fmt.Errorf("%w: zone timestep must be in [1, %d], got %d",
			core.ErrConfiguration, e.tracker.TimestepsPerHour(), zoneTimestep)
	}
	expanded, _, err := e.registry.Expand(names)
	if err != nil {
		return nil, err
	}

	out := make([]float64, 0, len(expanded))
	for _, name := range expanded {
		d, err := e.registry.Lookup(name)
		if err != nil {
			return nil, err
		}
		if d.Category != core.Weather {
			return nil, fmt.Errorf("%w: %q is a %s, not a weather metric", core.ErrInvalidWeatherMetric, name, d.Category)
		}
		out = append(out, e.engine.WeatherForecast(e.state, core.WeatherMetric(d.Key[0]), when, hour, zoneTimestep))
	}
	return out, nil
}

// UpdateMetrics reads the named metrics now, outside the regular state
// update. A single category name reads every metric of that category.
func (e *Environment) UpdateMetrics(names []string, returnValues bool) ([]float64, error) {
	if !e.resolver.Resolved() {
		return nil, fmt.Errorf("%w: metrics cannot be read before handles are resolved", core.ErrConfiguration)
	}
	expanded, _, err := e.registry.Expand(names)
	if err != nil {
		return nil, err
	}
	vs, err := e.recorder.UpdateMetrics(e.state, expanded)
	if err != nil || !returnValues {
		return nil, err
	}
	return vs, nil
}

// Setpoints returns the commanded values of an actuator. Nil entries are
// relinquishes.
func (e *Environment) Setpoints(name string) ([]*float64, error) {
	return e.recorder.Setpoints(name)
}

// Rewards returns every recorded reward signal's components.
func (e *Environment) Rewards() [][]float64 {
	return e.rewards.All()
}

// RewardTotal returns the component-wise sum of all rewards.
func (e *Environment) RewardTotal() []float64 {
	return e.rewards.Total()
}

// Latest returns the most recent value of every metric read so far.
func (e *Environment) Latest() map[string]float64 {
	return e.recorder.Latest()
}

// CallbackCount returns the number of Active callback invocations.
func (e *Environment) CallbackCount() int {
	return e.callbacks
}

// TotalTimesteps returns the number of distinct timesteps recorded.
func (e *Environment) TotalTimesteps() int {
	return e.tracker.TotalTimesteps()
}

// Progress returns the callback and timestep counters. It is safe to call
// while the engine is running.
func (e *Environment) Progress() (callbacks, totalTimesteps int) {
	return int(e.progressCbs.Load()), int(e.progressTS.Load())
}

// Field serves the reserved time fields to the recorder.
func (e *Environment) Field(name string) ([]float64, bool) {
	if name == registry.FieldCallbacks {
		return slices.Clone(e.callbackAt), true
	}
	return e.tracker.Field(name)
}

// Samples returns every recorded time sample.
func (e *Environment) Samples() []timing.Sample {
	return e.tracker.Samples()
}

// RecordSetNames returns the declared record sets.
func (e *Environment) RecordSetNames() []string {
	return e.recorder.RecordSetNames()
}

// Export builds the finished tables. Each name is a category name, giving
// the default table of that category, or a record set name. With no names,
// every non-empty category and every record set is exported.
func (e *Environment) Export(names ...string) ([]recorder.Table, error) {
	if !e.completed {
		return nil, core.ErrNotRun
	}
	if len(names) == 0 {
		for _, c := range core.Categories {
			if len(e.registry.AllNamesFor(c)) > 0 {
				names = append(names, string(c))
			}
		}
		names = append(names, e.recorder.RecordSetNames()...)
	}

	samples := e.tracker.Samples()
	tables := make([]recorder.Table, 0, len(names))
	for _, name := range names {
		if core.IsCategoryName(name) {
			tables = append(tables, e.recorder.CategoryTable(core.Category(name), samples))
			continue
		}
		t, err := e.recorder.Materialize(name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// Snapshot returns the current state of the run.
func (e *Environment) Snapshot(point core.CallingPoint) messaging.Snapshot {
	snap := messaging.Snapshot{
		RunID:          e.runID,
		CallingPoint:   string(point),
		TotalTimesteps: e.tracker.TotalTimesteps(),
		Callbacks:      e.callbacks,
		Values:         e.recorder.Latest(),
	}
	if s, ok := e.tracker.Last(); ok {
		snap.Time = s.Time
		snap.ZoneTimestep = s.ZoneTimestep
	}
	if r, ok := e.rewards.Last(); ok {
		snap.Reward = r.Values()
	}
	return snap
}

// Reset clears every recorded value, counter and binding state so the
// environment can drive a fresh run with the same declarations.
func (e *Environment) Reset() {
	e.resolver.Reset()
	e.tracker.Reset()
	e.recorder.Reset()
	e.rewards.Reset()
	for _, b := range e.bindings {
		b.phase = AwaitingHandles
	}
	e.registered = false
	e.completed = false
	e.err = nil
	e.callbacks = 0
	e.callbackAt = nil
	e.progressCbs.Store(0)
	e.progressTS.Store(0)
}
