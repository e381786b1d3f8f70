package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/boristopalov/bca/pkg/core"
	"github.com/boristopalov/bca/pkg/memory"
	"github.com/boristopalov/bca/pkg/providers"
	"github.com/boristopalov/bca/pkg/reward"
)

const systemPrompt = `You are operating the HVAC system of a building during a simulation.
Each step you are shown the latest readings and your recent decisions.
Decide the setpoints to write, in degrees Celsius. Use null to hand an
actuator back to the building's own schedule, and leave an actuator out to
keep its current value.

End your reply with a line of the form
ANSWER: {"<actuator>": <value or null>, ...}`

// The answer object sits on one line; prose after it is ignored.
var answerRe = regexp.MustCompile(`ANSWER:\s*(\{[^\n]*\})`)

type ModelInfo struct {
	Id     string         // e.g. "gpt-4o-mini"
	Config map[string]any // model-specific configuration
}

type AgentParams struct {
	AgentID        string
	Model          ModelInfo
	Client         providers.Client
	Observed       []string
	Actuators      []string
	MemoryCapacity int
	Logger         *slog.Logger
}

type AgentOption func(*AgentParams)

func WithAgentId(id string) AgentOption {
	return func(p *AgentParams) {
		p.AgentID = id
	}
}

func WithModel(model ModelInfo) AgentOption {
	return func(p *AgentParams) {
		p.Model = model
	}
}

func WithClient(c providers.Client) AgentOption {
	return func(p *AgentParams) {
		p.Client = c
	}
}

// WithObserved lists the metrics shown to the model each step.
func WithObserved(names ...string) AgentOption {
	return func(p *AgentParams) {
		p.Observed = names
	}
}

// WithActuators lists the actuators the model may write. Anything else it
// answers with is dropped.
func WithActuators(names ...string) AgentOption {
	return func(p *AgentParams) {
		p.Actuators = names
	}
}

func WithMemoryCapacity(n int) AgentOption {
	return func(p *AgentParams) {
		p.MemoryCapacity = n
	}
}

func WithAgentLogger(l *slog.Logger) AgentOption {
	return func(p *AgentParams) {
		p.Logger = l
	}
}

func defaultAgentParams() *AgentParams {
	return &AgentParams{
		AgentID: "agent-" + uuid.New().String(),
		Model: ModelInfo{
			Id:     "gpt-4o-mini",
			Config: make(map[string]any),
		},
		MemoryCapacity: 24,
		Logger:         slog.Default(),
	}
}

// LLMAgent asks a language model for setpoints at every actuation step.
type LLMAgent struct {
	id        string
	model     ModelInfo
	client    providers.Client
	reader    Reader
	observed  []string
	actuators []string
	memory    *memory.Memory
	log       *slog.Logger
}

func NewLLMAgent(reader Reader, opts ...AgentOption) (*LLMAgent, error) {
	params := defaultAgentParams()
	for _, opt := range opts {
		opt(params)
	}
	if reader == nil {
		return nil, errors.New("llm agent needs a reader")
	}
	if params.Client == nil {
		return nil, fmt.Errorf("%w: llm agent needs a client", core.ErrConfiguration)
	}
	if len(params.Actuators) == 0 {
		return nil, fmt.Errorf("%w: llm agent needs at least one actuator", core.ErrConfiguration)
	}

	return &LLMAgent{
		id:        params.AgentID,
		model:     params.Model,
		client:    params.Client,
		reader:    reader,
		observed:  slices.Clone(params.Observed),
		actuators: slices.Clone(params.Actuators),
		memory:    memory.NewMemory(params.MemoryCapacity),
		log:       params.Logger.With("agent", params.AgentID),
	}, nil
}

func (a *LLMAgent) ID() string {
	return a.id
}

func (a *LLMAgent) GetModel() ModelInfo {
	return a.model
}

func (a *LLMAgent) Memory() *memory.Memory {
	return a.memory
}

// Observe reports no reward. The model is judged by whatever else observes
// the same calling point.
func (a *LLMAgent) Observe(ctx context.Context) (reward.Signal, error) {
	return reward.None(), nil
}

// Act prompts the model and returns its setpoints. A reply that cannot be
// parsed after one retry is logged and treated as "hold"; client errors are
// returned.
func (a *LLMAgent) Act(ctx context.Context) (map[string]*float64, error) {
	prompt, err := a.buildPrompt()
	if err != nil {
		return nil, err
	}

	response, err := a.client.Complete(ctx, a.model.Id, prompt)
	if err != nil {
		return nil, fmt.Errorf("completing prompt: %w", err)
	}

	actions, err := parseActions(response)
	if err != nil {
		retryPrompt := fmt.Sprintf(`Your previous response did not include the required answer line. Here was your response:

%s

Reply again, ending with exactly one line of the form ANSWER: {"<actuator>": <value or null>}`, response)

		response, err = a.client.Complete(ctx, a.model.Id, retryPrompt)
		if err != nil {
			return nil, fmt.Errorf("completing retry prompt: %w", err)
		}
		actions, err = parseActions(response)
		if err != nil {
			a.log.Warn("no usable answer from model, holding setpoints", "error", err)
			return map[string]*float64{}, nil
		}
	}

	for name := range actions {
		if !slices.Contains(a.actuators, name) {
			a.log.Warn("model wrote an actuator it does not control", "actuator", name)
			delete(actions, name)
		}
	}

	a.memory.Store(a.reader.TotalTimesteps(), describe(actions))
	return actions, nil
}

func (a *LLMAgent) buildPrompt() (string, error) {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nCurrent readings:\n")
	for _, name := range a.observed {
		v, err := a.reader.At(name, 0)
		if errors.Is(err, core.ErrInsufficientHistory) {
			fmt.Fprintf(&b, "- %s: no reading yet\n", name)
			continue
		}
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "- %s: %.2f\n", name, v)
	}
	fmt.Fprintf(&b, "\nActuators you control: %s\n", strings.Join(a.actuators, ", "))
	if a.memory.Len() > 0 {
		b.WriteString("\nYour recent decisions:\n")
		b.WriteString(a.memory.Render())
	}
	return b.String(), nil
}

func parseActions(response string) (map[string]*float64, error) {
	matches := answerRe.FindStringSubmatch(response)
	if len(matches) < 2 {
		return nil, fmt.Errorf("could not find answer in response: %s", response)
	}
	var actions map[string]*float64
	if err := json.Unmarshal([]byte(matches[1]), &actions); err != nil {
		return nil, fmt.Errorf("could not parse answer %q: %w", matches[1], err)
	}
	if actions == nil {
		actions = map[string]*float64{}
	}
	return actions, nil
}

func describe(actions map[string]*float64) string {
	if len(actions) == 0 {
		return "hold"
	}
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	slices.Sort(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		if v := actions[name]; v != nil {
			parts = append(parts, fmt.Sprintf("%s=%.2f", name, *v))
		} else {
			parts = append(parts, name+"=relinquish")
		}
	}
	return strings.Join(parts, " ")
}
