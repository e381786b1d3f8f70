package recorder

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/boristopalov/bca/pkg/core"
	"github.com/boristopalov/bca/pkg/registry"
	"github.com/boristopalov/bca/pkg/timing"
)

// RecordSet is a user-defined table sampled at one calling point every
// Stride total timesteps.
type RecordSet struct {
	Name         string
	CallingPoint core.CallingPoint
	Stride       int
	Metrics      []string

	times    []time.Time
	rows     [][]float64
	lastStep int
}

func (rs *RecordSet) reset() {
	rs.times = nil
	rs.rows = nil
	rs.lastStep = 0
}

// DeclareRecordSet adds a record set. Metrics may be declared names or
// numeric time fields.
func (r *Recorder) DeclareRecordSet(name string, point core.CallingPoint, stride int, metrics []string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: record set name must not be empty", core.ErrConfiguration)
	case core.IsCategoryName(name):
		return fmt.Errorf("%w: record set name %q is a category name", core.ErrNameCollision, name)
	case !core.IsCallingPoint(string(point)):
		return fmt.Errorf("%w: unknown calling point %q", core.ErrConfiguration, point)
	case stride < 1:
		return fmt.Errorf("%w: record set %q stride must be >= 1, got %d", core.ErrConfiguration, name, stride)
	case len(metrics) == 0:
		return fmt.Errorf("%w: record set %q has no metrics", core.ErrConfiguration, name)
	}
	if _, exists := r.recordSets[name]; exists {
		return fmt.Errorf("%w: record set %q already declared", core.ErrNameCollision, name)
	}
	for _, m := range metrics {
		if m == registry.FieldDatetime {
			return fmt.Errorf("%w: %q is always the row index of a record set", core.ErrConfiguration, m)
		}
		if !r.registry.Has(m) && !registry.IsTimeField(m) {
			return fmt.Errorf("%w: record set %q references %q", core.ErrUnknownMetric, name, m)
		}
	}

	r.recordSets[name] = &RecordSet{
		Name:         name,
		CallingPoint: point,
		Stride:       stride,
		Metrics:      slices.Clone(metrics),
	}
	r.setOrder = append(r.setOrder, name)
	return nil
}

// RecordSetNames returns the declared record sets in declaration order.
func (r *Recorder) RecordSetNames() []string {
	return slices.Clone(r.setOrder)
}

// UpdateRecordSets appends a row to every record set attached to point
// whose stride divides the sample's total timestep. Each set records at
// most once per timestep. Metrics not read yet are NaN.
func (r *Recorder) UpdateRecordSets(point core.CallingPoint, sample timing.Sample) int {
	if sample.TotalTimesteps == 0 {
		return 0
	}
	n := 0
	for _, name := range r.setOrder {
		rs := r.recordSets[name]
		if rs.CallingPoint != point || sample.TotalTimesteps%rs.Stride != 0 || rs.lastStep == sample.TotalTimesteps {
			continue
		}
		row := make([]float64, len(rs.Metrics))
		for i, m := range rs.Metrics {
			row[i] = r.currentValue(m, sample)
		}
		rs.times = append(rs.times, sample.Time)
		rs.rows = append(rs.rows, row)
		rs.lastStep = sample.TotalTimesteps
		n++
	}
	return n
}

func (r *Recorder) currentValue(name string, sample timing.Sample) float64 {
	switch name {
	case registry.FieldYear:
		return float64(sample.Time.Year())
	case registry.FieldMonth:
		return float64(sample.Time.Month())
	case registry.FieldDay:
		return float64(sample.Time.Day())
	case registry.FieldHour:
		return float64(sample.Time.Hour())
	case registry.FieldMinute:
		return float64(sample.Time.Minute())
	case registry.FieldZoneTimestep:
		return float64(sample.ZoneTimestep)
	case registry.FieldTotalTimesteps:
		return float64(sample.TotalTimesteps)
	case registry.FieldCallbacks:
		if vs, ok := r.clock.Field(name); ok && len(vs) > 0 {
			return vs[len(vs)-1]
		}
		return math.NaN()
	}
	if v, ok := r.latest[name]; ok {
		return v
	}
	return math.NaN()
}

// Materialize returns the rows recorded so far for a record set.
func (r *Recorder) Materialize(name string) (Table, error) {
	rs, ok := r.recordSets[name]
	if !ok {
		return Table{}, fmt.Errorf("%w: record set %q", core.ErrUnknownMetric, name)
	}
	t := Table{
		Name:    rs.Name,
		Columns: slices.Clone(rs.Metrics),
		Times:   slices.Clone(rs.times),
		Rows:    make([][]float64, len(rs.rows)),
	}
	for i, row := range rs.rows {
		t.Rows[i] = slices.Clone(row)
	}
	return t, nil
}
