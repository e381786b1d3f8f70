package messaging

import (
	"time"
)

// Message is one item routed through the broker.
type Message struct {
	From      string    // publisher ID
	To        []string  // subscriber IDs (empty means broadcast)
	Content   any       // usually a Snapshot
	Timestamp time.Time // when the message was published
}

// Snapshot is the state of a run after one Active callback.
type Snapshot struct {
	RunID          string             `json:"run_id"`
	CallingPoint   string             `json:"calling_point"`
	Time           time.Time          `json:"time"`
	ZoneTimestep   int                `json:"zone_timestep"`
	TotalTimesteps int                `json:"total_timesteps"`
	Callbacks      int                `json:"callbacks"`
	Values         map[string]float64 `json:"values"`
	Reward         []float64          `json:"reward,omitempty"`
}

// Broker routes messages from publishers to subscribers.
type Broker interface {
	// Publish sends a message to specified recipients
	Publish(msg Message) error
	// Subscribe registers a channel under id
	Subscribe(id string, ch chan<- Message) error
	// Unsubscribe removes a subscription
	Unsubscribe(id string) error
}
