package messaging

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/boristopalov/bca/pkg/metrics"
)

// SimpleBroker fans messages out to subscriber channels. It never blocks a
// publisher: the dispatcher publishes from inside engine callbacks.
type SimpleBroker struct {
	subscribers map[string]chan<- Message
	mu          sync.RWMutex
}

// NewBroker creates a new message broker
func NewBroker() *SimpleBroker {
	return &SimpleBroker{
		subscribers: make(map[string]chan<- Message),
	}
}

// Publish sends msg to its recipients without blocking. A recipient whose
// channel is full misses the message; every miss is reported in the
// returned error, the other recipients still receive it.
func (b *SimpleBroker) Publish(msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	recipients := msg.To
	if len(recipients) == 0 {
		for id := range b.subscribers {
			if id != msg.From {
				recipients = append(recipients, id)
			}
		}
		slices.Sort(recipients)
	}

	var errs []error
	for _, recipientID := range recipients {
		ch, ok := b.subscribers[recipientID]
		if !ok {
			continue
		}

		select {
		case ch <- msg:
		default:
			metrics.MessagesDropped.WithLabelValues(recipientID).Inc()
			errs = append(errs, fmt.Errorf("subscriber %s's channel is full", recipientID))
		}
	}

	return errors.Join(errs...)
}

// Subscribe registers ch to receive messages under id
func (b *SimpleBroker) Subscribe(id string, ch chan<- Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; exists {
		return fmt.Errorf("%s is already subscribed", id)
	}

	b.subscribers[id] = ch
	return nil
}

// Unsubscribe removes a subscription
func (b *SimpleBroker) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; !exists {
		return fmt.Errorf("%s is not subscribed", id)
	}

	delete(b.subscribers, id)
	return nil
}

// Subscribers returns the number of registered subscribers.
func (b *SimpleBroker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *SimpleBroker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[string]chan<- Message)
}
