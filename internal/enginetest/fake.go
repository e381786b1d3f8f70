// Package enginetest provides a scriptable in-memory engine for tests.
package enginetest

import (
	"context"
	"fmt"
	"strings"

	"github.com/boristopalov/bca/pkg/core"
)

// Write records one WriteActuator call.
type Write struct {
	Handle core.Handle
	Value  *float64
}

// WeatherQuery records one WeatherForecast call.
type WeatherQuery struct {
	Metric       core.WeatherMetric
	When         core.Day
	Hour         int
	ZoneTimestep int
}

// Fake implements core.Engine. Tests set its fields directly and fire calling
// points by hand, or give it a Script to play from Run.
type Fake struct {
	Ready    bool
	InWarmup bool
	Time     core.TimeFields

	Values  map[core.Handle]float64
	Weather map[core.WeatherMetric]float64

	Writes         []Write
	WeatherQueries []WeatherQuery
	ReadCalls      map[core.Handle]int
	ResolveCalls   int
	Stopped        bool
	Released       []core.State
	ResetCalls     int

	// Script runs inside Run; it usually sets Time/Values and calls Fire.
	Script func(f *Fake) error
	// ExitCode is returned by Run.
	ExitCode int

	handles   map[string]core.Handle
	callbacks map[core.CallingPoint]core.Callback
	state     core.State
}

// New returns a fake that is ready for handle resolution and out of warmup.
func New() *Fake {
	return &Fake{
		Ready:     true,
		Values:    make(map[core.Handle]float64),
		Weather:   make(map[core.WeatherMetric]float64),
		ReadCalls: make(map[core.Handle]int),
		handles:   make(map[string]core.Handle),
		callbacks: make(map[core.CallingPoint]core.Callback),
		Time:      core.TimeFields{Year: 2021, Month: 1, Day: 1, Hour: 0, Minute: 15, ZoneTimestep: 1},
	}
}

func handleKey(category core.Category, key core.LookupKey) string {
	return string(category) + "|" + strings.Join(key, "|")
}

// AddHandle makes key resolvable to h with an initial value.
func (f *Fake) AddHandle(category core.Category, key core.LookupKey, h core.Handle, value float64) {
	f.handles[handleKey(category, key)] = h
	f.Values[h] = value
}

// Fire invokes the callback registered at point, if any. It reports whether
// a callback was registered.
func (f *Fake) Fire(point core.CallingPoint) bool {
	cb, ok := f.callbacks[point]
	if !ok {
		return false
	}
	cb(f.state)
	return true
}

// Registered reports whether a callback is bound at point.
func (f *Fake) Registered(point core.CallingPoint) bool {
	_, ok := f.callbacks[point]
	return ok
}

func (f *Fake) NewState() (core.State, error) {
	f.state++
	return f.state, nil
}

func (f *Fake) ResetState(state core.State) error {
	f.ResetCalls++
	f.callbacks = make(map[core.CallingPoint]core.Callback)
	return nil
}

func (f *Fake) DeleteState(state core.State) error {
	f.Released = append(f.Released, state)
	return nil
}

func (f *Fake) RegisterCallback(state core.State, point core.CallingPoint, fn core.Callback) error {
	if !core.IsCallingPoint(string(point)) {
		return fmt.Errorf("unknown calling point %q", point)
	}
	f.callbacks[point] = fn
	return nil
}

func (f *Fake) ResolveHandle(state core.State, category core.Category, key core.LookupKey) core.Handle {
	f.ResolveCalls++
	h, ok := f.handles[handleKey(category, key)]
	if !ok {
		return core.InvalidHandle
	}
	return h
}

func (f *Fake) ReadValue(state core.State, category core.Category, h core.Handle) float64 {
	f.ReadCalls[h]++
	return f.Values[h]
}

func (f *Fake) WriteActuator(state core.State, h core.Handle, value *float64) {
	f.Writes = append(f.Writes, Write{Handle: h, Value: value})
	if value != nil {
		f.Values[h] = *value
	}
}

func (f *Fake) ReadyForHandles(state core.State) bool { return f.Ready }

func (f *Fake) Warmup(state core.State) bool { return f.InWarmup }

func (f *Fake) TimeFields(state core.State) core.TimeFields { return f.Time }

func (f *Fake) WeatherForecast(state core.State, metric core.WeatherMetric, when core.Day, hour, zoneTimestep int) float64 {
	f.WeatherQueries = append(f.WeatherQueries, WeatherQuery{Metric: metric, When: when, Hour: hour, ZoneTimestep: zoneTimestep})
	return f.Weather[metric]
}

func (f *Fake) StopSimulation(state core.State) {
	f.Stopped = true
}

func (f *Fake) Run(ctx context.Context, state core.State, args []string) (int, error) {
	if f.Script != nil {
		if err := f.Script(f); err != nil {
			return 1, err
		}
	}
	return f.ExitCode, nil
}

// Step sets the clock to the given zone timestep within the current hour,
// using the engine convention of reporting the minute at the end of the
// timestep.
func (f *Fake) Step(zoneTimestep, timestepsPerHour int) {
	f.Time.ZoneTimestep = zoneTimestep
	f.Time.Minute = zoneTimestep * (60 / timestepsPerHour)
}
