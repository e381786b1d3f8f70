package agent

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/boristopalov/bca/pkg/core"
	"github.com/boristopalov/bca/pkg/reward"
)

type ThermostatParams struct {
	ID       string
	ZoneTemp string
	Heating  string
	Cooling  string
	Target   float64
	Deadband float64
}

type ThermostatOption func(*ThermostatParams)

func WithThermostatID(id string) ThermostatOption {
	return func(p *ThermostatParams) {
		p.ID = id
	}
}

// WithZoneTemp names the metric the thermostat tracks.
func WithZoneTemp(name string) ThermostatOption {
	return func(p *ThermostatParams) {
		p.ZoneTemp = name
	}
}

// WithSetpoints names the heating and cooling actuators.
func WithSetpoints(heating, cooling string) ThermostatOption {
	return func(p *ThermostatParams) {
		p.Heating = heating
		p.Cooling = cooling
	}
}

func WithTarget(target, deadband float64) ThermostatOption {
	return func(p *ThermostatParams) {
		p.Target = target
		p.Deadband = deadband
	}
}

func defaultThermostatParams() *ThermostatParams {
	return &ThermostatParams{
		ID:       "thermostat-" + uuid.New().String(),
		ZoneTemp: "zn0_temp",
		Heating:  "htg_sp",
		Cooling:  "clg_sp",
		Target:   21,
		Deadband: 1,
	}
}

// ThermostatAgent is a deadband controller around a single zone temperature.
// Its reward is the negative distance from the target.
type ThermostatAgent struct {
	params ThermostatParams
	reader Reader
}

func NewThermostatAgent(reader Reader, opts ...ThermostatOption) (*ThermostatAgent, error) {
	params := defaultThermostatParams()
	for _, opt := range opts {
		opt(params)
	}
	if reader == nil {
		return nil, errors.New("thermostat needs a reader")
	}
	if params.ZoneTemp == "" || params.Heating == "" || params.Cooling == "" {
		return nil, fmt.Errorf("%w: thermostat needs a zone temperature and both setpoints", core.ErrConfiguration)
	}
	if params.Deadband < 0 {
		return nil, fmt.Errorf("%w: negative deadband %g", core.ErrConfiguration, params.Deadband)
	}
	return &ThermostatAgent{params: *params, reader: reader}, nil
}

func (a *ThermostatAgent) ID() string {
	return a.params.ID
}

func (a *ThermostatAgent) Observe(ctx context.Context) (reward.Signal, error) {
	t, err := a.reader.At(a.params.ZoneTemp, 0)
	if errors.Is(err, core.ErrInsufficientHistory) {
		return reward.None(), nil
	}
	if err != nil {
		return reward.None(), err
	}
	return reward.Scalar(-math.Abs(t - a.params.Target)), nil
}

func (a *ThermostatAgent) Act(ctx context.Context) (map[string]*float64, error) {
	p := a.params
	t, err := a.reader.At(p.ZoneTemp, 0)
	if errors.Is(err, core.ErrInsufficientHistory) {
		return map[string]*float64{p.Heating: nil, p.Cooling: nil}, nil
	}
	if err != nil {
		return nil, err
	}

	switch {
	case t < p.Target-p.Deadband:
		return map[string]*float64{
			p.Heating: ptr(p.Target),
			p.Cooling: ptr(p.Target + p.Deadband),
		}, nil
	case t > p.Target+p.Deadband:
		return map[string]*float64{
			p.Heating: ptr(p.Target - p.Deadband),
			p.Cooling: ptr(p.Target),
		}, nil
	default:
		// hold
		return map[string]*float64{}, nil
	}
}
