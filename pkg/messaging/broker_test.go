package messaging

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/boristopalov/bca/pkg/metrics"
)

func TestBroker(t *testing.T) {
	t.Run("test direct message", func(t *testing.T) {
		broker := NewBroker()
		t.Cleanup(func() {
			broker.Reset()
		})
		ch1 := make(chan Message, 1)
		ch2 := make(chan Message, 1)

		if err := broker.Subscribe("influx", ch1); err != nil {
			t.Fatalf("Failed to subscribe influx: %v", err)
		}
		if err := broker.Subscribe("kafka", ch2); err != nil {
			t.Fatalf("Failed to subscribe kafka: %v", err)
		}

		msg := Message{
			From:      "environment",
			To:        []string{"kafka"},
			Content:   Snapshot{TotalTimesteps: 3, Values: map[string]float64{"oa_temp": 12}},
			Timestamp: time.Now(),
		}

		if err := broker.Publish(msg); err != nil {
			t.Fatalf("Failed to publish message: %v", err)
		}

		select {
		case received := <-ch2:
			snap, ok := received.Content.(Snapshot)
			if !ok || received.From != "environment" || snap.Values["oa_temp"] != 12 {
				t.Errorf("Unexpected message received: %+v", received)
			}
		case <-time.After(time.Second):
			t.Error("Timeout waiting for message")
		}

		select {
		case msg := <-ch1:
			t.Errorf("influx should not receive message but got: %+v", msg)
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("test broadcast message", func(t *testing.T) {
		broker := NewBroker()
		t.Cleanup(func() {
			broker.Reset()
		})

		subs := map[string]chan Message{
			"environment": make(chan Message, 1),
			"httpapi":     make(chan Message, 1),
			"kafka":       make(chan Message, 1),
		}
		for id, ch := range subs {
			if err := broker.Subscribe(id, ch); err != nil {
				t.Fatalf("Failed to subscribe %s: %v", id, err)
			}
		}

		msg := Message{
			From:      "environment",
			Content:   Snapshot{Callbacks: 1},
			Timestamp: time.Now(),
		}
		if err := broker.Publish(msg); err != nil {
			t.Fatalf("Failed to publish broadcast message: %v", err)
		}

		for id, ch := range subs {
			if id == "environment" {
				select {
				case msg := <-ch:
					t.Errorf("Publisher received its own broadcast: %+v", msg)
				case <-time.After(100 * time.Millisecond):
				}
				continue
			}
			select {
			case received := <-ch:
				if received.From != "environment" {
					t.Errorf("Unexpected message received by %s: %+v", id, received)
				}
			case <-time.After(time.Second):
				t.Errorf("Timeout waiting for broadcast message on %s", id)
			}
		}
	})

	t.Run("test subscription management", func(t *testing.T) {
		broker := NewBroker()
		t.Cleanup(func() {
			broker.Reset()
		})
		ch := make(chan Message, 1)

		if err := broker.Subscribe("httpapi", ch); err != nil {
			t.Fatalf("Failed to subscribe: %v", err)
		}
		if err := broker.Subscribe("httpapi", ch); err == nil {
			t.Error("Expected error for duplicate subscription, got nil")
		}
		if got := broker.Subscribers(); got != 1 {
			t.Errorf("Subscribers() = %d, want 1", got)
		}
		if err := broker.Unsubscribe("httpapi"); err != nil {
			t.Fatalf("Failed to unsubscribe: %v", err)
		}
		if err := broker.Unsubscribe("httpapi"); err == nil {
			t.Error("Expected error for unsubscribing missing subscriber, got nil")
		}
	})

	t.Run("test full channel does not block other subscribers", func(t *testing.T) {
		broker := NewBroker()
		t.Cleanup(func() {
			broker.Reset()
		})
		slow := make(chan Message, 1)
		fast := make(chan Message, 2)

		if err := broker.Subscribe("slow", slow); err != nil {
			t.Fatalf("Failed to subscribe: %v", err)
		}
		if err := broker.Subscribe("fast", fast); err != nil {
			t.Fatalf("Failed to subscribe: %v", err)
		}

		msg := Message{From: "environment", Content: Snapshot{Callbacks: 1}, Timestamp: time.Now()}
		if err := broker.Publish(msg); err != nil {
			t.Fatalf("Failed to publish first message: %v", err)
		}

		dropped := testutil.ToFloat64(metrics.MessagesDropped.WithLabelValues("slow"))
		msg.Content = Snapshot{Callbacks: 2}
		if err := broker.Publish(msg); err == nil {
			t.Error("Expected error when publishing to full channel, got nil")
		}
		if got := len(fast); got != 2 {
			t.Errorf("fast subscriber has %d messages, want 2", got)
		}
		if got := testutil.ToFloat64(metrics.MessagesDropped.WithLabelValues("slow")); got != dropped+1 {
			t.Errorf("dropped counter = %v, want %v", got, dropped+1)
		}
	})
}
