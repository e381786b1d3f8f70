// Package timing converts the engine's raw clock fields into a monotonic
// timeline and a repeating zone-timestep counter.
package timing

import (
	"fmt"
	"slices"
	"time"

	"github.com/boristopalov/bca/pkg/core"
)

// Sample is one recorded point on the run's timeline.
type Sample struct {
	Raw            core.TimeFields
	Time           time.Time
	ZoneTimestep   int
	TotalTimesteps int
}

// ValidateTimestepsPerHour rejects resolutions that do not divide an hour.
func ValidateTimestepsPerHour(n int) error {
	if !slices.Contains(core.TimestepsPerHour, n) {
		return fmt.Errorf("%w: %d timesteps per hour must divide evenly into 60 minutes, choose one of %v",
			core.ErrConfiguration, n, core.TimestepsPerHour)
	}
	return nil
}

// Tracker records time samples for one run.
type Tracker struct {
	perHour int
	samples []Sample
	total   int
}

// New creates a tracker for a model simulated at timestepsPerHour.
func New(timestepsPerHour int) (*Tracker, error) {
	if err := ValidateTimestepsPerHour(timestepsPerHour); err != nil {
		return nil, err
	}
	return &Tracker{perHour: timestepsPerHour}, nil
}

func (t *Tracker) TimestepsPerHour() int {
	return t.perHour
}

// Period is the length of one zone timestep.
func (t *Tracker) Period() time.Duration {
	return time.Hour / time.Duration(t.perHour)
}

// Timestamp builds a calendar time from raw engine fields. An hour of 24 is
// read as 23 plus one hour and a minute of 60 as 59 plus one minute; the two
// carries add up.
func Timestamp(f core.TimeFields) time.Time {
	hour, minute := f.Hour, f.Minute
	var carry time.Duration
	if hour >= 24 {
		hour = 23
		carry += time.Hour
	}
	if minute >= 60 {
		minute = 59
		carry += time.Minute
	}
	return time.Date(f.Year, time.Month(f.Month), f.Day, hour, minute, 0, 0, time.UTC).Add(carry)
}

// ZoneTimestep validates the engine's zone timestep index against the
// declared resolution.
func (t *Tracker) ZoneTimestep(f core.TimeFields) (int, error) {
	if f.ZoneTimestep < 1 || f.ZoneTimestep > t.perHour {
		return 0, fmt.Errorf("%w: engine reported zone timestep %d outside [1, %d], the model's timesteps per hour disagree with the declared value",
			core.ErrConfiguration, f.ZoneTimestep, t.perHour)
	}
	return f.ZoneTimestep, nil
}

// Record builds a sample from raw fields. The total-timestep counter only
// advances when (timestamp, zone timestep) differs from the previous sample;
// a repeat returns the previous sample and false.
func (t *Tracker) Record(f core.TimeFields) (Sample, bool, error) {
	zts, err := t.ZoneTimestep(f)
	if err != nil {
		return Sample{}, false, err
	}
	ts := Timestamp(f)
	if n := len(t.samples); n > 0 {
		last := t.samples[n-1]
		if last.Time.Equal(ts) && last.ZoneTimestep == zts {
			return last, false, nil
		}
	}

	t.total++
	s := Sample{
		Raw:            f,
		Time:           ts,
		ZoneTimestep:   zts,
		TotalTimesteps: t.total,
	}
	t.samples = append(t.samples, s)
	return s, true, nil
}

// CurrentZoneTimestep returns the latest recorded zone timestep, or 0 before
// the first sample.
func (t *Tracker) CurrentZoneTimestep() int {
	if s, ok := t.Last(); ok {
		return s.ZoneTimestep
	}
	return 0
}

// TotalTimesteps returns the number of distinct timesteps recorded.
func (t *Tracker) TotalTimesteps() int {
	return t.total
}

func (t *Tracker) Last() (Sample, bool) {
	if len(t.samples) == 0 {
		return Sample{}, false
	}
	return t.samples[len(t.samples)-1], true
}

// Samples returns a copy of every recorded sample.
func (t *Tracker) Samples() []Sample {
	return slices.Clone(t.samples)
}

func (t *Tracker) Len() int {
	return len(t.samples)
}

// Times returns the timestamp of every sample.
func (t *Tracker) Times() []time.Time {
	out := make([]time.Time, len(t.samples))
	for i, s := range t.samples {
		out[i] = s.Time
	}
	return out
}

// Field returns a numeric series for a calendar or counter field of the
// recorded samples. ok is false for names the tracker does not keep.
func (t *Tracker) Field(name string) ([]float64, bool) {
	var pick func(Sample) int
	switch name {
	case "year":
		pick = func(s Sample) int { return s.Time.Year() }
	case "month":
		pick = func(s Sample) int { return int(s.Time.Month()) }
	case "day":
		pick = func(s Sample) int { return s.Time.Day() }
	case "hour":
		pick = func(s Sample) int { return s.Time.Hour() }
	case "minute":
		pick = func(s Sample) int { return s.Time.Minute() }
	case "zone_timestep":
		pick = func(s Sample) int { return s.ZoneTimestep }
	case "total_timesteps":
		pick = func(s Sample) int { return s.TotalTimesteps }
	default:
		return nil, false
	}
	out := make([]float64, len(t.samples))
	for i, s := range t.samples {
		out[i] = float64(pick(s))
	}
	return out, true
}

// Reset clears every sample and counter.
func (t *Tracker) Reset() {
	t.samples = nil
	t.total = 0
}
