package environment

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/boristopalov/bca/pkg/core"
	"github.com/boristopalov/bca/pkg/messaging"
	"github.com/boristopalov/bca/pkg/metrics"
)

// Phase is the dispatch state of one calling-point binding.
type Phase int

const (
	AwaitingHandles Phase = iota
	AwaitingWarmupExit
	Active
)

func (p Phase) String() string {
	switch p {
	case AwaitingHandles:
		return "awaiting_handles"
	case AwaitingWarmupExit:
		return "awaiting_warmup_exit"
	case Active:
		return "active"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

type binding struct {
	point core.CallingPoint
	phase Phase

	observe         ObserveFunc
	actuate         ActuateFunc
	updateState     bool
	stateStride     int
	actuationStride int
}

func newBinding(point core.CallingPoint, p *bindingParams) *binding {
	return &binding{
		point:           point,
		phase:           AwaitingHandles,
		observe:         p.observe,
		actuate:         p.actuate,
		updateState:     p.updateState,
		stateStride:     p.stateStride,
		actuationStride: p.actuationStride,
	}
}

func (e *Environment) callback(point core.CallingPoint) core.Callback {
	return func(state core.State) {
		e.dispatch(point, state)
	}
}

// dispatch runs one engine invocation of a calling point. Readiness and
// warmup are polled on every call and skipped invocations return at once.
func (e *Environment) dispatch(point core.CallingPoint, state core.State) {
	label := string(point)
	if e.err != nil {
		metrics.CallbacksSkipped.WithLabelValues(label, metrics.ReasonAborted).Inc()
		return
	}
	b := e.bindings[point]

	if b.phase == AwaitingHandles {
		ok, err := e.resolver.ResolveAll(state)
		if err != nil {
			e.abort(state, point, err)
			return
		}
		if !ok {
			metrics.CallbacksSkipped.WithLabelValues(label, metrics.ReasonHandles).Inc()
			return
		}
		b.phase = AwaitingWarmupExit
	}
	if b.phase == AwaitingWarmupExit {
		if e.engine.Warmup(state) {
			metrics.CallbacksSkipped.WithLabelValues(label, metrics.ReasonWarmup).Inc()
			return
		}
		b.phase = Active
		e.log.Info("warmup complete, calling point active", "calling_point", point)
	}

	start := time.Now()
	if err := e.step(b, state); err != nil {
		if core.IsFatal(err) {
			e.abort(state, point, err)
			return
		}
		e.log.Warn("callback error", "calling_point", point, "error", err)
	}

	e.callbacks++
	e.progressCbs.Store(int64(e.callbacks))
	metrics.Callbacks.WithLabelValues(label).Inc()
	metrics.CallbackDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	e.publish(point)
}

// step is one Active invocation: state update, actuation, record sets.
// A fatal error returns at once. Recoverable ones are collected and the
// remaining stages still run.
func (e *Environment) step(b *binding, state core.State) error {
	zts, err := e.tracker.ZoneTimestep(e.engine.TimeFields(state))
	if err != nil {
		return err
	}

	var soft []error
	if b.updateState && zts%b.stateStride == 0 {
		if err := e.updateState(b, state); err != nil {
			if core.IsFatal(err) {
				return err
			}
			soft = append(soft, err)
		}
	}

	if b.actuate != nil && zts%b.actuationStride == 0 {
		if err := e.applyActions(b, state); err != nil {
			if core.IsFatal(err) {
				return err
			}
			soft = append(soft, err)
		}
	}

	if sample, ok := e.tracker.Last(); ok {
		e.recorder.UpdateRecordSets(b.point, sample)
	}
	return errors.Join(soft...)
}

func (e *Environment) updateState(b *binding, state core.State) error {
	sample, isNew, err := e.tracker.Record(e.engine.TimeFields(state))
	if err != nil {
		return err
	}
	if isNew {
		// the counter is bumped once the invocation completes, so the
		// first recorded timestep belongs to callback 1
		e.callbackAt = append(e.callbackAt, float64(e.callbacks+1))
		e.progressTS.Store(int64(sample.TotalTimesteps))
		metrics.Timesteps.Inc()
		e.log.Debug("timestep", "time", sample.Time, "zone_timestep", sample.ZoneTimestep, "total", sample.TotalTimesteps)
	}

	if _, err := e.recorder.UpdateMetrics(state, e.registry.Names()); err != nil {
		return err
	}

	if b.observe == nil {
		return nil
	}
	sig, err := b.observe()
	if err != nil {
		return fmt.Errorf("observation at %s: %w", b.point, err)
	}
	return e.rewards.Append(sig)
}

// applyActions validates every actuator name before writing any of them so
// an unknown name never leaves a partial write behind.
func (e *Environment) applyActions(b *binding, state core.State) error {
	actions, err := b.actuate()
	if err != nil {
		return fmt.Errorf("actuation at %s: %w", b.point, err)
	}
	if len(actions) == 0 {
		return nil
	}

	names := make([]string, 0, len(actions))
	for name := range actions {
		if c, err := e.registry.CategoryOf(name); err != nil || c != core.Actuator {
			return fmt.Errorf("%w: %q returned by the actuation function at %s", core.ErrUnknownActuator, name, b.point)
		}
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		h, err := e.resolver.Handle(name)
		if err != nil {
			return err
		}
		v := actions[name]
		e.engine.WriteActuator(state, h, v)
		if err := e.recorder.RecordSetpoint(name, v); err != nil {
			return err
		}
		kind := "set"
		if v == nil {
			kind = "relinquish"
		}
		metrics.Actuations.WithLabelValues(name, kind).Inc()
	}
	return nil
}

// abort latches the first fatal error and asks the engine to stop.
func (e *Environment) abort(state core.State, point core.CallingPoint, err error) {
	e.err = err
	metrics.RunErrors.WithLabelValues(errorKind(err)).Inc()
	e.log.Error("fatal error, stopping simulation", "calling_point", point, "error", err)
	e.engine.StopSimulation(state)
}

func (e *Environment) publish(point core.CallingPoint) {
	if e.broker == nil {
		return
	}
	msg := messaging.Message{
		From:      e.runID,
		Content:   e.Snapshot(point),
		Timestamp: time.Now(),
	}
	if err := e.broker.Publish(msg); err != nil {
		e.log.Debug("snapshot dropped", "error", err)
	}
}

func errorKind(err error) string {
	kinds := []struct {
		target error
		kind   string
	}{
		{core.ErrHandleNotFound, "handle_not_found"},
		{core.ErrUnknownActuator, "unknown_actuator"},
		{core.ErrUnknownMetric, "unknown_metric"},
		{core.ErrRewardShape, "reward_shape"},
		{core.ErrMalformedDeclaration, "malformed_declaration"},
		{core.ErrConfiguration, "configuration"},
	}
	for _, k := range kinds {
		if errors.Is(err, k.target) {
			return k.kind
		}
	}
	return "other"
}
