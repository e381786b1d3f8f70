// Package experiment drives the lifecycle of simulation runs: it owns the
// engine run context, runs the engine with an environment attached and
// reports status while the run is in progress.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/boristopalov/bca/pkg/core"
	"github.com/boristopalov/bca/pkg/environment"
	"github.com/boristopalov/bca/pkg/recorder"
)

// Status is a point-in-time view of an experiment.
type Status struct {
	Name           string    `json:"name"`
	RunID          string    `json:"run_id"`
	Runs           int       `json:"runs"`
	Running        bool      `json:"running"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time,omitempty"`
	ExitCode       int       `json:"exit_code"`
	Callbacks      int       `json:"callbacks"`
	TotalTimesteps int       `json:"total_timesteps"`
	Error          string    `json:"error,omitempty"`
}

type Params struct {
	Args   []string
	Logger *slog.Logger
}

type Option func(*Params)

// WithArgs passes command-line arguments to the engine's Run.
func WithArgs(args ...string) Option {
	return func(p *Params) {
		p.Args = args
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Params) {
		p.Logger = l
	}
}

// Experiment runs an engine with one environment attached. The engine run
// context is created on the first Run, reset before every later Run and
// released by Close.
type Experiment struct {
	name   string
	engine core.Engine
	env    *environment.Environment
	args   []string
	log    *slog.Logger

	mu       sync.RWMutex
	status   Status
	state    core.State
	hasState bool
	closed   bool
}

func New(name string, engine core.Engine, env *environment.Environment, opts ...Option) *Experiment {
	params := &Params{Logger: slog.Default()}
	for _, opt := range opts {
		opt(params)
	}
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	return &Experiment{
		name:   name,
		engine: engine,
		env:    env,
		args:   params.Args,
		log:    params.Logger.With("experiment", name, "run_id", env.RunID()),
		status: Status{Name: name, RunID: env.RunID()},
	}
}

// Run blocks until the engine finishes. It returns the first fatal callback
// error, an engine failure or a non-zero exit code as an error.
func (x *Experiment) Run(ctx context.Context) error {
	state, err := x.acquire()
	if err != nil {
		return err
	}

	x.mu.Lock()
	x.status.Running = true
	x.status.StartTime = time.Now()
	x.status.EndTime = time.Time{}
	x.status.Error = ""
	x.status.Runs++
	x.mu.Unlock()

	x.log.Info("simulation starting", "args", x.args)
	code, runErr := x.env.Run(ctx, state, x.args)

	callbacks, total := x.env.Progress()
	x.mu.Lock()
	x.status.Running = false
	x.status.EndTime = time.Now()
	x.status.ExitCode = code
	x.status.Callbacks = callbacks
	x.status.TotalTimesteps = total
	if runErr != nil {
		x.status.Error = runErr.Error()
	}
	elapsed := x.status.EndTime.Sub(x.status.StartTime)
	x.mu.Unlock()

	if runErr != nil {
		x.log.Error("simulation failed", "exit_code", code, "error", runErr)
		return runErr
	}
	x.log.Info("simulation finished", "elapsed", elapsed, "callbacks", callbacks, "total_timesteps", total)
	return nil
}

// acquire returns a fresh run context, resetting the existing one when a
// previous run used it.
func (x *Experiment) acquire() (core.State, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	switch {
	case x.closed:
		return 0, errors.New("experiment is closed")
	case x.status.Running:
		return 0, errors.New("experiment is already running")
	case !x.hasState:
		state, err := x.engine.NewState()
		if err != nil {
			return 0, fmt.Errorf("create run context: %w", err)
		}
		x.state = state
		x.hasState = true
		return state, nil
	}

	if err := x.engine.ResetState(x.state); err != nil {
		return 0, fmt.Errorf("reset run context: %w", err)
	}
	x.env.Reset()
	return x.state, nil
}

// Status returns the current status. Counters are live while running.
func (x *Experiment) Status() Status {
	x.mu.RLock()
	s := x.status
	x.mu.RUnlock()
	if s.Running {
		s.Callbacks, s.TotalTimesteps = x.env.Progress()
	}
	return s
}

// Export returns the finished tables of the last run.
func (x *Experiment) Export(names ...string) ([]recorder.Table, error) {
	return x.env.Export(names...)
}

func (x *Experiment) Environment() *environment.Environment {
	return x.env
}

// Close releases the engine run context.
func (x *Experiment) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	if !x.hasState {
		return nil
	}
	x.hasState = false
	return x.engine.DeleteState(x.state)
}
