// Package reward accumulates the reward signals returned by observation
// functions. The first non-empty signal fixes the shape for the whole run.
package reward

import (
	"fmt"
	"slices"

	"github.com/boristopalov/bca/pkg/core"
)

// Signal is a scalar reward, a fixed-arity vector reward, or nothing.
// The zero value is "no reward".
type Signal struct {
	values []float64
	vector bool
}

// None returns an empty signal.
func None() Signal {
	return Signal{}
}

func Scalar(v float64) Signal {
	return Signal{values: []float64{v}}
}

// Vector returns a vector signal. A vector with no elements is treated as
// no reward.
func Vector(vs ...float64) Signal {
	if len(vs) == 0 {
		return Signal{}
	}
	return Signal{values: slices.Clone(vs), vector: true}
}

func (s Signal) IsNone() bool {
	return len(s.values) == 0
}

func (s Signal) IsVector() bool {
	return s.vector
}

func (s Signal) Arity() int {
	return len(s.values)
}

// Values returns a copy of the signal's components.
func (s Signal) Values() []float64 {
	return slices.Clone(s.values)
}

func (s Signal) String() string {
	switch {
	case s.IsNone():
		return "none"
	case s.vector:
		return fmt.Sprintf("vector%v", s.values)
	default:
		return fmt.Sprintf("scalar(%g)", s.values[0])
	}
}

func shapeName(vector bool, arity int) string {
	if !vector {
		return "scalar"
	}
	return fmt.Sprintf("vector of %d", arity)
}

// Accumulator stores every non-empty signal of one run.
type Accumulator struct {
	values [][]float64
	shaped bool
	vector bool
	arity  int
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Append records s. Empty signals are ignored. A signal whose kind or arity
// differs from the first recorded one fails with core.ErrRewardShape.
func (a *Accumulator) Append(s Signal) error {
	if s.IsNone() {
		return nil
	}
	if !a.shaped {
		a.shaped = true
		a.vector = s.vector
		a.arity = len(s.values)
	} else if s.vector != a.vector || len(s.values) != a.arity {
		return fmt.Errorf("%w: got %s, run was established as %s",
			core.ErrRewardShape, shapeName(s.vector, len(s.values)), shapeName(a.vector, a.arity))
	}
	a.values = append(a.values, slices.Clone(s.values))
	return nil
}

// Shape returns the established arity and kind. ok is false until the first
// signal arrives.
func (a *Accumulator) Shape() (arity int, vector bool, ok bool) {
	return a.arity, a.vector, a.shaped
}

func (a *Accumulator) Len() int {
	return len(a.values)
}

// Last returns the most recent signal.
func (a *Accumulator) Last() (Signal, bool) {
	if len(a.values) == 0 {
		return Signal{}, false
	}
	return Signal{values: slices.Clone(a.values[len(a.values)-1]), vector: a.vector}, true
}

// All returns a copy of every recorded signal's components.
func (a *Accumulator) All() [][]float64 {
	out := make([][]float64, len(a.values))
	for i, v := range a.values {
		out[i] = slices.Clone(v)
	}
	return out
}

// Total returns the component-wise sum of every recorded signal.
func (a *Accumulator) Total() []float64 {
	sum := make([]float64, a.arity)
	for _, v := range a.values {
		for i, x := range v {
			sum[i] += x
		}
	}
	return sum
}

// Reset forgets every signal and the established shape.
func (a *Accumulator) Reset() {
	*a = Accumulator{}
}
