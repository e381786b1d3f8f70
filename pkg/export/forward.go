package export

import (
	"context"
	"log/slog"

	"github.com/boristopalov/bca/pkg/messaging"
)

// SnapshotSink receives live snapshots.
type SnapshotSink interface {
	WriteSnapshot(ctx context.Context, snap messaging.Snapshot) error
}

// Forward subscribes sink to broker under id and copies every snapshot to it
// until ctx is cancelled. Messages still buffered at cancellation are
// flushed with a background context. The returned channel closes once the
// subscription is gone.
func Forward(ctx context.Context, broker messaging.Broker, id string, sink SnapshotSink, log *slog.Logger) (<-chan struct{}, error) {
	if log == nil {
		log = slog.Default()
	}
	ch := make(chan messaging.Message, 256)
	if err := broker.Subscribe(id, ch); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	deliver := func(ctx context.Context, msg messaging.Message) {
		snap, ok := msg.Content.(messaging.Snapshot)
		if !ok {
			return
		}
		if err := sink.WriteSnapshot(ctx, snap); err != nil {
			log.Warn("snapshot export failed", "sink", id, "error", err)
		}
	}

	go func() {
		defer close(done)
		defer broker.Unsubscribe(id)
		for {
			select {
			case msg := <-ch:
				deliver(ctx, msg)
			case <-ctx.Done():
				for {
					select {
					case msg := <-ch:
						deliver(context.Background(), msg)
					default:
						return
					}
				}
			}
		}
	}()
	return done, nil
}
