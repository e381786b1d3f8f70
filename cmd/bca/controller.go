package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/boristopalov/bca/pkg/agent"
	"github.com/boristopalov/bca/pkg/config"
	"github.com/boristopalov/bca/pkg/core"
	"github.com/boristopalov/bca/pkg/environment"
	"github.com/boristopalov/bca/pkg/providers"
)

// newController builds the configured controller reading from env. It
// returns nil when the configuration has none.
func newController(ctx context.Context, cfg *config.Config, env *environment.Environment, log *slog.Logger) (agent.Controller, error) {
	cc := cfg.Controller
	switch cc.Type {
	case "", "none":
		return nil, nil
	case "thermostat":
		opts := []agent.ThermostatOption{agent.WithTarget(cc.Target, cc.Deadband)}
		if cc.ZoneTemp != "" {
			opts = append(opts, agent.WithZoneTemp(cc.ZoneTemp))
		}
		if cc.Heating != "" || cc.Cooling != "" {
			opts = append(opts, agent.WithSetpoints(cc.Heating, cc.Cooling))
		}
		t, err := agent.NewThermostatAgent(env, opts...)
		if err != nil {
			return nil, err
		}
		return t, nil
	case "llm":
		client, err := providers.New(ctx, cc.Provider,
			providers.WithBaseURL(cc.BaseURL),
			providers.WithAPIKey(cc.APIKey),
		)
		if err != nil {
			return nil, err
		}

		var observed, actuators []string
		for _, m := range cfg.Metrics {
			cat, err := core.ParseCategory(m.Category)
			if err != nil {
				return nil, err
			}
			switch cat {
			case core.Actuator:
				actuators = append(actuators, m.Name)
			case core.InternalVariable:
			default:
				observed = append(observed, m.Name)
			}
		}
		if cc.Heating != "" || cc.Cooling != "" {
			actuators = actuators[:0]
			for _, name := range []string{cc.Heating, cc.Cooling} {
				if name != "" {
					actuators = append(actuators, name)
				}
			}
		}

		opts := []agent.AgentOption{
			agent.WithClient(client),
			agent.WithObserved(observed...),
			agent.WithActuators(actuators...),
			agent.WithMemoryCapacity(cc.MemoryCapacity),
			agent.WithAgentLogger(log),
		}
		if model := modelFor(cc); model != "" {
			opts = append(opts, agent.WithModel(agent.ModelInfo{Id: model, Config: make(map[string]any)}))
		}
		a, err := agent.NewLLMAgent(env, opts...)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	return nil, fmt.Errorf("%w: unknown controller type %q", core.ErrConfiguration, cc.Type)
}

func modelFor(cc config.ControllerConfig) string {
	if cc.Model != "" {
		return cc.Model
	}
	if cc.Provider == "gemini" {
		return "gemini-1.5-flash"
	}
	return ""
}

// controllerFunc routes each binding's observe and actuate flags to c.
func controllerFunc(ctx context.Context, c agent.Controller) config.ControllerFunc {
	return func(b config.BindingConfig) ([]environment.BindingOption, error) {
		if !b.Observe && !b.Actuate {
			return nil, nil
		}
		if c == nil {
			return nil, fmt.Errorf("%w: calling point %s observes or actuates but no controller is configured",
				core.ErrConfiguration, b.Point)
		}
		return agent.Bind(ctx, c, b.Observe, b.Actuate), nil
	}
}
