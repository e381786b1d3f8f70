package core

import (
	"context"
)

// Callback is invoked by the engine at a registered calling point, on the
// engine's own thread.
type Callback func(state State)

// Engine is the capability set of the building simulation engine.
// Implementations are driven from a single goroutine: the engine serializes
// every callback it makes.
type Engine interface {
	// NewState creates a run context. ResetState clears it for reuse and
	// DeleteState releases it.
	NewState() (State, error)
	ResetState(state State) error
	DeleteState(state State) error

	// RegisterCallback binds fn to a calling point for the given run context.
	RegisterCallback(state State, point CallingPoint, fn Callback) error

	// ResolveHandle returns InvalidHandle when no object matches key.
	ResolveHandle(state State, category Category, key LookupKey) Handle

	// ReadValue reads a variable, internal variable, meter or actuator by handle.
	ReadValue(state State, category Category, handle Handle) float64

	// WriteActuator sets an actuator. A nil value relinquishes control back
	// to the engine.
	WriteActuator(state State, handle Handle, value *float64)

	ReadyForHandles(state State) bool
	Warmup(state State) bool
	TimeFields(state State) TimeFields

	// WeatherForecast reads a weather metric for today or tomorrow at the
	// given hour (0-23) and zone timestep.
	WeatherForecast(state State, metric WeatherMetric, when Day, hour, zoneTimestep int) float64

	// StopSimulation asks the engine to abort the current run at the next
	// opportunity.
	StopSimulation(state State)

	// Run blocks until the simulation completes and returns the engine's
	// exit code.
	Run(ctx context.Context, state State, args []string) (int, error)
}
