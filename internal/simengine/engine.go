// Package simengine is a single-zone building engine that runs in process.
// It implements core.Engine so runs can be driven end to end without an
// external simulation binary.
package simengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/boristopalov/bca/pkg/core"
	"github.com/boristopalov/bca/pkg/timing"
)

// ExitStopped is the exit code of a run stopped through StopSimulation.
const ExitStopped = 1

// ErrUnknownState is returned for a state that was never created or has
// been deleted.
var ErrUnknownState = errors.New("unknown engine state")

// Handles of the objects the model exposes.
const (
	handleZoneTemp core.Handle = iota + 1
	handleOutdoorTemp
	handleFloorArea
	handleHVACElectricity
	handleHeatingSetpoint
	handleCoolingSetpoint
)

const (
	minSetpoint = 10.0
	maxSetpoint = 35.0
)

type object struct {
	category core.Category
	key      core.LookupKey
	handle   core.Handle
}

var objects = []object{
	{core.Variable, core.LookupKey{"Zone Mean Air Temperature", "Zone 1"}, handleZoneTemp},
	{core.Variable, core.LookupKey{"Site Outdoor Air Drybulb Temperature", "Environment"}, handleOutdoorTemp},
	{core.InternalVariable, core.LookupKey{"Zone Floor Area", "Zone 1"}, handleFloorArea},
	{core.Meter, core.LookupKey{"Electricity:HVAC"}, handleHVACElectricity},
	{core.Actuator, core.LookupKey{"Zone Temperature Control", "Heating Setpoint", "Zone 1"}, handleHeatingSetpoint},
	{core.Actuator, core.LookupKey{"Zone Temperature Control", "Cooling Setpoint", "Zone 1"}, handleCoolingSetpoint},
}

// CallingPoints fired around every zone timestep, in order. The system
// timestep runs once per zone timestep.
var zoneTimestepPoints = []core.CallingPoint{
	core.BeginZoneTimestepBeforeSetWeather,
	core.BeginZoneTimestepBeforeInitHeatBalance,
	core.BeginZoneTimestepAfterInitHeatBalance,
	core.BeginSystemTimestepBeforePredictor,
	core.AfterPredictorBeforeHVACManagers,
	core.AfterPredictorAfterHVACManagers,
	core.InsideSystemIterationLoop,
	core.EndSystemTimestepBeforeHVACReporting,
	core.EndSystemTimestepAfterHVACReporting,
	core.EndZoneTimestepBeforeZoneReporting,
	core.EndZoneTimestepAfterZoneReporting,
}

// run is the per-state simulation context. It is only touched from the
// goroutine inside Engine.Run and the callbacks it makes, but status reads
// may come from elsewhere, so fields are guarded by mu.
type run struct {
	id        core.State
	mu        sync.Mutex
	callbacks map[core.CallingPoint]core.Callback

	ready   bool
	warmup  bool
	stopped bool
	running bool

	clock   core.TimeFields
	day     int // index into the run period
	tIn     float64
	tOut    float64
	heating *float64
	cooling *float64
	// energy of the last zone timestep, in joules
	hvacJ float64
}

// Engine implements core.Engine.
type Engine struct {
	params Params
	log    *slog.Logger

	mu     sync.Mutex
	runs   map[core.State]*run
	nextID core.State
}

func New(opts ...Option) (*Engine, error) {
	params := defaultParams()
	for _, opt := range opts {
		opt(params)
	}
	if err := timing.ValidateTimestepsPerHour(params.TimestepsPerHour); err != nil {
		return nil, err
	}
	if params.RunDays < 1 {
		return nil, fmt.Errorf("%w: run days must be at least 1, got %d", core.ErrConfiguration, params.RunDays)
	}
	if params.WarmupDays < 0 {
		return nil, fmt.Errorf("%w: negative warmup days", core.ErrConfiguration)
	}
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	return &Engine{
		params: *params,
		log:    params.Logger.With("component", "simengine"),
		runs:   make(map[core.State]*run),
	}, nil
}

func (e *Engine) newRun(id core.State) *run {
	r := &run{
		id:        id,
		callbacks: make(map[core.CallingPoint]core.Callback),
		tIn:       e.params.InitialTemp,
	}
	r.clock = e.startOfDay(0)
	r.tOut = e.params.outdoorDryBulb(0, 0)
	return r
}

func (e *Engine) lookup(state core.State) *run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs[state]
}

func (e *Engine) NewState() (core.State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.runs[e.nextID] = e.newRun(e.nextID)
	return e.nextID, nil
}

func (e *Engine) ResetState(state core.State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[state]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownState, state)
	}
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()
	if running {
		return fmt.Errorf("cannot reset state %d while it is running", state)
	}
	e.runs[state] = e.newRun(state)
	return nil
}

func (e *Engine) DeleteState(state core.State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.runs[state]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownState, state)
	}
	delete(e.runs, state)
	return nil
}

func (e *Engine) RegisterCallback(state core.State, point core.CallingPoint, fn core.Callback) error {
	if !core.IsCallingPoint(string(point)) {
		return fmt.Errorf("%w: unknown calling point %q", core.ErrConfiguration, point)
	}
	r := e.lookup(state)
	if r == nil {
		return fmt.Errorf("%w: %d", ErrUnknownState, state)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[point] = fn
	return nil
}

// ResolveHandle matches keys case-insensitively.
func (e *Engine) ResolveHandle(state core.State, category core.Category, key core.LookupKey) core.Handle {
	for _, o := range objects {
		if o.category != category || len(o.key) != len(key) {
			continue
		}
		match := true
		for i := range key {
			if !strings.EqualFold(strings.TrimSpace(key[i]), o.key[i]) {
				match = false
				break
			}
		}
		if match {
			return o.handle
		}
	}
	return core.InvalidHandle
}

func (e *Engine) ReadValue(state core.State, category core.Category, handle core.Handle) float64 {
	r := e.lookup(state)
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch handle {
	case handleZoneTemp:
		return r.tIn
	case handleOutdoorTemp:
		return r.tOut
	case handleFloorArea:
		return e.params.FloorArea
	case handleHVACElectricity:
		return r.hvacJ
	case handleHeatingSetpoint:
		return e.heatingSetpoint(r)
	case handleCoolingSetpoint:
		return e.coolingSetpoint(r)
	}
	return 0
}

// WriteActuator clamps setpoints to [10, 35] degC.
func (e *Engine) WriteActuator(state core.State, handle core.Handle, value *float64) {
	r := e.lookup(state)
	if r == nil {
		return
	}
	var v *float64
	if value != nil {
		c := math.Min(math.Max(*value, minSetpoint), maxSetpoint)
		v = &c
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch handle {
	case handleHeatingSetpoint:
		r.heating = v
	case handleCoolingSetpoint:
		r.cooling = v
	}
}

func (e *Engine) ReadyForHandles(state core.State) bool {
	r := e.lookup(state)
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

func (e *Engine) Warmup(state core.State) bool {
	r := e.lookup(state)
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.warmup
}

func (e *Engine) TimeFields(state core.State) core.TimeFields {
	r := e.lookup(state)
	if r == nil {
		return core.TimeFields{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clock
}

func (e *Engine) WeatherForecast(state core.State, metric core.WeatherMetric, when core.Day, hour, zoneTimestep int) float64 {
	r := e.lookup(state)
	if r == nil {
		return 0
	}
	r.mu.Lock()
	day := r.day
	r.mu.Unlock()
	if when == core.Tomorrow {
		day++
	}
	h := float64(hour) + float64(zoneTimestep)/float64(e.params.TimestepsPerHour)
	return e.params.forecast(metric, day, h)
}

func (e *Engine) StopSimulation(state core.State) {
	r := e.lookup(state)
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
}

// Run simulates the warmup days and then the run period. args are accepted
// for parity with external engines and only logged.
func (e *Engine) Run(ctx context.Context, state core.State, args []string) (int, error) {
	r := e.lookup(state)
	if r == nil {
		return 1, fmt.Errorf("%w: %d", ErrUnknownState, state)
	}
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return 1, fmt.Errorf("state %d is already running", state)
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	p := e.params
	e.log.Info("simulation starting",
		"start", p.Start.Format(time.DateOnly), "run_days", p.RunDays, "warmup_days", p.WarmupDays,
		"timesteps_per_hour", p.TimestepsPerHour, "args", args)

	e.fire(r, core.AfterComponentGetInput)
	e.fire(r, core.EndZoneSizing)
	e.fire(r, core.EndSystemSizing)

	if p.WarmupDays > 0 {
		r.mu.Lock()
		r.warmup = true
		r.mu.Unlock()
		e.fire(r, core.BeginNewEnvironment)
		for d := 0; d < p.WarmupDays; d++ {
			if stopped, err := e.simulateDay(ctx, r, 0); err != nil || stopped {
				return exitCode(err), err
			}
		}
		r.mu.Lock()
		r.warmup = false
		r.clock = e.startOfDay(0)
		r.mu.Unlock()
		e.log.Debug("warmup complete")
		e.fire(r, core.AfterNewEnvironmentWarmupComplete)
	}

	e.fire(r, core.BeginNewEnvironment)
	for d := 0; d < p.RunDays; d++ {
		if stopped, err := e.simulateDay(ctx, r, d); err != nil || stopped {
			return exitCode(err), err
		}
	}

	e.log.Info("simulation complete")
	return 0, nil
}

func exitCode(err error) int {
	if err != nil {
		return 1
	}
	return ExitStopped
}

// simulateDay runs every zone timestep of one day. It reports whether
// StopSimulation was called.
func (e *Engine) simulateDay(ctx context.Context, r *run, day int) (bool, error) {
	tph := e.params.TimestepsPerHour
	for hour := 0; hour < 24; hour++ {
		for ts := 1; ts <= tph; ts++ {
			if err := ctx.Err(); err != nil {
				return false, err
			}

			r.mu.Lock()
			r.ready = true
			r.day = day
			r.clock = e.clockAt(day, hour, ts)
			r.tOut = e.params.outdoorDryBulb(day, float64(hour)+float64(ts)/float64(tph))
			r.mu.Unlock()

			for _, point := range zoneTimestepPoints {
				// Heat balance is solved after HVAC managers have run.
				if point == core.InsideSystemIterationLoop {
					e.integrate(r)
				}
				e.fire(r, point)
				if e.stopped(r) {
					e.log.Info("simulation stopped", "day", day, "hour", hour, "zone_timestep", ts, "calling_point", point)
					return true, nil
				}
			}
		}
	}
	return false, nil
}

// integrate advances the zone temperature by one zone timestep: first-order
// coupling to outdoor air plus ideal heating or cooling up to the active
// setpoint, limited by the plant's power.
func (e *Engine) integrate(r *run) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := e.params
	dtH := 1.0 / float64(p.TimestepsPerHour)
	dtS := dtH * 3600

	r.tIn += p.Alpha * (r.tOut - r.tIn) * dtS

	var kWh float64
	heat, cool := e.heatingSetpoint(r), e.coolingSetpoint(r)
	switch {
	case r.tIn < heat:
		maxGain := p.HeatPowerW / 1000.0 * dtH * 0.5
		gain := math.Min(heat-r.tIn, maxGain)
		r.tIn += gain
		kWh = p.HeatPowerW * dtH / 1000.0 * (gain / maxGain)
	case r.tIn > cool:
		maxLoss := p.CoolPowerW / 1000.0 * dtH * 0.5
		loss := math.Min(r.tIn-cool, maxLoss)
		r.tIn -= loss
		kWh = p.CoolPowerW * dtH / 1000.0 * (loss / maxLoss)
	}
	r.hvacJ = kWh * 3.6e6
}

// heatingSetpoint and coolingSetpoint expect r.mu held.
func (e *Engine) heatingSetpoint(r *run) float64 {
	if r.heating != nil {
		return *r.heating
	}
	return e.params.DefaultHeating
}

func (e *Engine) coolingSetpoint(r *run) float64 {
	if r.cooling != nil {
		return *r.cooling
	}
	return e.params.DefaultCooling
}

func (e *Engine) stopped(r *run) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// fire invokes the callback at point without holding r.mu, so the callback
// may call back into the engine.
func (e *Engine) fire(r *run, point core.CallingPoint) {
	r.mu.Lock()
	cb, ok := r.callbacks[point]
	r.mu.Unlock()
	if !ok {
		return
	}
	cb(r.id)
}

// clockAt reports zone timestep ts of the given hour the way the engine
// does: the minute is the end of the timestep, so the last one reads 60.
func (e *Engine) clockAt(day, hour, ts int) core.TimeFields {
	f := e.startOfDay(day)
	f.Hour = hour
	f.Minute = ts * (60 / e.params.TimestepsPerHour)
	f.ZoneTimestep = ts
	return f
}

// startOfDay is the clock between environments, before the first zone
// timestep of day has run.
func (e *Engine) startOfDay(day int) core.TimeFields {
	d := e.params.Start.AddDate(0, 0, day)
	return core.TimeFields{
		Year:         d.Year(),
		Month:        int(d.Month()),
		Day:          d.Day(),
		ZoneTimestep: 1,
	}
}
