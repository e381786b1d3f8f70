// Package recorder reads metric values from the engine and keeps their
// history, the commanded actuator setpoints and user-defined record sets.
package recorder

import (
	"fmt"
	"math"
	"time"

	"github.com/boristopalov/bca/pkg/core"
	"github.com/boristopalov/bca/pkg/registry"
	"github.com/boristopalov/bca/pkg/timing"
)

// HandleSource hands out resolved engine handles.
type HandleSource interface {
	Handle(name string) (core.Handle, error)
}

// Clock exposes the run's timestep counter and the reserved time-field
// series.
type Clock interface {
	TotalTimesteps() int
	Field(name string) ([]float64, bool)
}

// Recorder owns every metric series of one run.
type Recorder struct {
	engine   core.Engine
	registry *registry.Registry
	handles  HandleSource
	clock    Clock

	series     map[string]*Series
	setpoints  map[string][]Setpoint
	latest     map[string]float64
	staticRead map[string]bool

	recordSets map[string]*RecordSet
	setOrder   []string
}

// New creates a recorder. Storage for already-declared metrics is allocated
// immediately; later declarations call Track.
func New(engine core.Engine, reg *registry.Registry, handles HandleSource, clock Clock) *Recorder {
	r := &Recorder{
		engine:     engine,
		registry:   reg,
		handles:    handles,
		clock:      clock,
		series:     make(map[string]*Series),
		setpoints:  make(map[string][]Setpoint),
		latest:     make(map[string]float64),
		staticRead: make(map[string]bool),
		recordSets: make(map[string]*RecordSet),
	}
	for _, name := range reg.Names() {
		r.Track(name)
	}
	return r
}

// Track allocates empty storage for a declared metric.
func (r *Recorder) Track(name string) {
	if _, ok := r.series[name]; !ok {
		r.series[name] = &Series{}
	}
}

// UpdateMetrics reads every named metric from the engine, appends it to its
// series and refreshes the latest-value snapshot. Internal variables are
// static and only read once per run. The returned values follow names.
func (r *Recorder) UpdateMetrics(state core.State, names []string) ([]float64, error) {
	step := r.clock.TotalTimesteps()
	out := make([]float64, 0, len(names))
	for _, name := range names {
		d, err := r.registry.Lookup(name)
		if err != nil {
			return nil, err
		}
		s := r.series[name]

		var v float64
		switch d.Category {
		case core.Weather:
			f := r.engine.TimeFields(state)
			v = r.engine.WeatherForecast(state, core.WeatherMetric(d.Key[0]), core.Today, min(f.Hour, 23), max(f.ZoneTimestep, 1))
		case core.InternalVariable:
			if r.staticRead[name] {
				v, _ = s.Last()
				out = append(out, v)
				continue
			}
			fallthrough
		default:
			h, err := r.handles.Handle(name)
			if err != nil {
				return nil, err
			}
			v = r.engine.ReadValue(state, d.Category, h)
		}

		if d.Category == core.InternalVariable {
			r.staticRead[name] = true
		}
		s.put(step, v)
		r.latest[name] = v
		out = append(out, v)
	}
	return out, nil
}

// RecordSetpoint appends a commanded value to an actuator's setpoint series.
// A nil value records a relinquish.
func (r *Recorder) RecordSetpoint(name string, value *float64) error {
	d, err := r.registry.Lookup(name)
	if err != nil || d.Category != core.Actuator {
		return fmt.Errorf("%w: %q is not a declared actuator", core.ErrUnknownActuator, name)
	}
	var v *float64
	if value != nil {
		v = core.Float(*value)
	}
	r.setpoints[name] = append(r.setpoints[name], Setpoint{Step: r.clock.TotalTimesteps(), Value: v})
	return nil
}

// Setpoints returns the commanded values recorded for an actuator.
func (r *Recorder) Setpoints(name string) ([]*float64, error) {
	d, err := r.registry.Lookup(name)
	if err != nil || d.Category != core.Actuator {
		return nil, fmt.Errorf("%w: %q is not a declared actuator", core.ErrUnknownActuator, name)
	}
	sps := r.setpoints[name]
	out := make([]*float64, len(sps))
	for i, sp := range sps {
		out[i] = sp.Value
	}
	return out, nil
}

// Latest returns a copy of the most recent value of every metric read so far.
func (r *Recorder) Latest() map[string]float64 {
	out := make(map[string]float64, len(r.latest))
	for k, v := range r.latest {
		out[k] = v
	}
	return out
}

// Series returns the full history of a metric or numeric time field.
func (r *Recorder) Series(name string) ([]float64, error) {
	if s, ok := r.series[name]; ok {
		return s.Values(), nil
	}
	if registry.IsTimeField(name) {
		if vs, ok := r.clock.Field(name); ok {
			return vs, nil
		}
		return nil, fmt.Errorf("%w: time field %q is not numeric", core.ErrUnknownMetric, name)
	}
	return nil, fmt.Errorf("%w: %q", core.ErrUnknownMetric, name)
}

// At returns the value of name offset samples back from the most recent.
func (r *Recorder) At(name string, offset int) (float64, error) {
	vs, err := r.Series(name)
	if err != nil {
		return 0, err
	}
	v, err := backIndex(vs, offset)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", name, err)
	}
	return v, nil
}

// Fetch returns history for the requested names. With no offsets each name
// yields its full series; otherwise each offset (0 = most recent) yields one
// value. Unneeded nesting is collapsed:
//
//	one name, one offset       -> float64
//	one name                   -> []float64
//	many names, one offset     -> []float64 (one value per name)
//	many names                 -> [][]float64
//
// A lone category name expands to every metric of that category and always
// keeps one entry per metric. An offset beyond the recorded history fails
// with core.ErrInsufficientHistory.
func (r *Recorder) Fetch(names []string, offsets []int) (any, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no metrics requested", core.ErrConfiguration)
	}
	expanded, isCategory, err := r.registry.Expand(names)
	if err != nil {
		return nil, err
	}

	perName := make([][]float64, 0, len(expanded))
	for _, name := range expanded {
		vs, err := r.Series(name)
		if err != nil {
			return nil, err
		}
		if len(offsets) == 0 {
			perName = append(perName, vs)
			continue
		}
		picked := make([]float64, 0, len(offsets))
		for _, off := range offsets {
			v, err := backIndex(vs, off)
			if err != nil {
				return nil, fmt.Errorf("%q: %w", name, err)
			}
			picked = append(picked, v)
		}
		perName = append(perName, picked)
	}

	single := len(offsets) == 1
	switch {
	case !isCategory && len(expanded) == 1 && single:
		return perName[0][0], nil
	case !isCategory && len(expanded) == 1:
		return perName[0], nil
	case single:
		flat := make([]float64, len(perName))
		for i, vs := range perName {
			flat[i] = vs[0]
		}
		return flat, nil
	default:
		return perName, nil
	}
}

// CategoryTable builds the default table of every metric in category,
// aligned with samples. Static internal variables are repeated on every row.
func (r *Recorder) CategoryTable(category core.Category, samples []timing.Sample) Table {
	cols := r.registry.AllNamesFor(category)
	t := Table{
		Name:    string(category),
		Columns: cols,
		Times:   make([]time.Time, len(samples)),
		Rows:    make([][]float64, len(samples)),
	}
	for i, sample := range samples {
		t.Times[i] = sample.Time
		row := make([]float64, len(cols))
		for j, name := range cols {
			s := r.series[name]
			v, ok := s.atStep(sample.TotalTimesteps)
			if !ok && category == core.InternalVariable {
				v, ok = s.Last()
			}
			if !ok {
				v = math.NaN()
			}
			row[j] = v
		}
		t.Rows[i] = row
	}
	return t
}

// Reset clears every recorded value and record-set row while keeping the
// declarations.
func (r *Recorder) Reset() {
	for name := range r.series {
		r.series[name] = &Series{}
	}
	r.setpoints = make(map[string][]Setpoint)
	r.latest = make(map[string]float64)
	r.staticRead = make(map[string]bool)
	for _, rs := range r.recordSets {
		rs.reset()
	}
}
