package recorder

import (
	"fmt"

	"github.com/boristopalov/bca/pkg/core"
)

// Reading is one value tagged with the total timestep it was read at.
// Step 0 means no time sample existed yet.
type Reading struct {
	Step  int
	Value float64
}

// Series is the append-only history of one metric.
type Series struct {
	readings []Reading
}

// put appends a reading, or overwrites the last one when it belongs to the
// same recorded timestep, so a series holds one reading per timestep. A
// reading taken before the first time sample is held at most once and is
// replaced by the next reading.
func (s *Series) put(step int, v float64) {
	if n := len(s.readings); n > 0 && (s.readings[n-1].Step == 0 || s.readings[n-1].Step == step) {
		s.readings[n-1].Value = v
		return
	}
	s.readings = append(s.readings, Reading{Step: step, Value: v})
}

func (s *Series) Len() int {
	return len(s.readings)
}

// Values returns a copy of the recorded values, oldest first.
func (s *Series) Values() []float64 {
	out := make([]float64, len(s.readings))
	for i, r := range s.readings {
		out[i] = r.Value
	}
	return out
}

// Readings returns a copy of the recorded readings.
func (s *Series) Readings() []Reading {
	out := make([]Reading, len(s.readings))
	copy(out, s.readings)
	return out
}

// At returns the value offset readings back from the most recent (0).
func (s *Series) At(offset int) (float64, error) {
	return backIndex(s.Values(), offset)
}

// Last returns the most recent value.
func (s *Series) Last() (float64, bool) {
	if len(s.readings) == 0 {
		return 0, false
	}
	return s.readings[len(s.readings)-1].Value, true
}

// atStep returns the reading recorded for step, searching from the end.
func (s *Series) atStep(step int) (float64, bool) {
	for i := len(s.readings) - 1; i >= 0; i-- {
		r := s.readings[i]
		if r.Step == step {
			return r.Value, true
		}
		if r.Step < step {
			break
		}
	}
	return 0, false
}

func backIndex(values []float64, offset int) (float64, error) {
	if offset < 0 {
		return 0, fmt.Errorf("%w: negative time offset %d", core.ErrConfiguration, offset)
	}
	if offset >= len(values) {
		return 0, fmt.Errorf("%w: offset %d requested, only %d samples recorded", core.ErrInsufficientHistory, offset, len(values))
	}
	return values[len(values)-1-offset], nil
}

// Setpoint is one commanded actuator value. A nil Value relinquishes
// control to the engine.
type Setpoint struct {
	Step  int
	Value *float64
}
