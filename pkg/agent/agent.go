// Package agent provides the controllers that observe a running simulation
// and write actuator setpoints back into it.
package agent

import (
	"context"

	"github.com/boristopalov/bca/pkg/environment"
	"github.com/boristopalov/bca/pkg/reward"
)

// Controller decides rewards and setpoints from the recorded history.
type Controller interface {
	ID() string
	Observe(ctx context.Context) (reward.Signal, error)
	Act(ctx context.Context) (map[string]*float64, error)
}

// Reader is the read side of an environment that controllers need.
// *environment.Environment satisfies it.
type Reader interface {
	At(name string, offset int) (float64, error)
	TotalTimesteps() int
}

// Bind returns the binding options that route a calling point's observation
// and actuation to c. ctx is captured for the lifetime of the run.
func Bind(ctx context.Context, c Controller, observe, act bool) []environment.BindingOption {
	var opts []environment.BindingOption
	if observe {
		opts = append(opts, environment.WithObserver(func() (reward.Signal, error) {
			return c.Observe(ctx)
		}))
	}
	if act {
		opts = append(opts, environment.WithActuator(func() (map[string]*float64, error) {
			return c.Act(ctx)
		}))
	}
	return opts
}

func ptr(v float64) *float64 {
	return &v
}
