package environment

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/boristopalov/bca/pkg/messaging"
	"github.com/boristopalov/bca/pkg/reward"
)

type Params struct {
	TimestepsPerHour int
	RunID            string
	Logger           *slog.Logger
	Broker           messaging.Broker
}

type Option func(*Params)

// WithTimestepsPerHour declares the model's zone timestep resolution. It
// must match the Timestep object of the building model.
func WithTimestepsPerHour(n int) Option {
	return func(p *Params) {
		p.TimestepsPerHour = n
	}
}

func WithRunID(id string) Option {
	return func(p *Params) {
		p.RunID = id
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Params) {
		p.Logger = l
	}
}

// WithBroker publishes a Snapshot after every Active callback.
func WithBroker(b messaging.Broker) Option {
	return func(p *Params) {
		p.Broker = b
	}
}

func defaultParams() *Params {
	return &Params{
		TimestepsPerHour: 4,
		RunID:            "run-" + uuid.New().String(),
		Logger:           slog.Default(),
	}
}

// ObserveFunc runs after the state update of a calling point. It may return
// reward.None() when there is nothing to report.
type ObserveFunc func() (reward.Signal, error)

// ActuateFunc returns the setpoints to apply, keyed by actuator name. A nil
// value relinquishes the actuator; an empty map is a no-op.
type ActuateFunc func() (map[string]*float64, error)

type bindingParams struct {
	observe         ObserveFunc
	actuate         ActuateFunc
	updateState     bool
	stateStride     int
	actuationStride int
}

type BindingOption func(*bindingParams)

func WithObserver(fn ObserveFunc) BindingOption {
	return func(p *bindingParams) {
		p.observe = fn
	}
}

func WithActuator(fn ActuateFunc) BindingOption {
	return func(p *bindingParams) {
		p.actuate = fn
	}
}

// WithoutStateUpdate skips time sampling, metric reads and observation at
// this calling point. Actuation still runs.
func WithoutStateUpdate() BindingOption {
	return func(p *bindingParams) {
		p.updateState = false
	}
}

// WithStateStride updates state only on zone timesteps divisible by n.
func WithStateStride(n int) BindingOption {
	return func(p *bindingParams) {
		p.stateStride = n
	}
}

// WithActuationStride actuates only on zone timesteps divisible by n.
func WithActuationStride(n int) BindingOption {
	return func(p *bindingParams) {
		p.actuationStride = n
	}
}

func defaultBindingParams() *bindingParams {
	return &bindingParams{
		updateState:     true,
		stateStride:     1,
		actuationStride: 1,
	}
}
