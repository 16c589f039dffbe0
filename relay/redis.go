// Package relay fans presence events out across server instances over
// Redis pub/sub, so pull-stream subscribers on one instance see
// activity that happened on another.
package relay

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jmfields/cowrite/presence"
)

const channel = "cowrite:presence"

// envelope wraps a presence event with its origin instance, so an
// instance never re-consumes its own traffic.
type envelope struct {
	Origin string          `json:"origin"`
	Doc    string          `json:"documentId"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
}

// Bridge publishes local presence events and injects remote ones into
// the local tracker's subscriber delivery. Remote events never mutate
// presence state, only fan out.
type Bridge struct {
	client   *redis.Client
	tracker  *presence.Tracker
	instance string
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewBridge wires a bridge to the tracker's relay hook. Call Run to
// start consuming.
func NewBridge(client *redis.Client, tracker *presence.Tracker) *Bridge {
	b := &Bridge{
		client:   client,
		tracker:  tracker,
		instance: uuid.NewString(),
		done:     make(chan struct{}),
	}
	tracker.SetRelay(b.publish)
	return b
}

func (b *Bridge) publish(ev presence.Event) {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		log.Printf("relay: failed to encode event: %v", err)
		return
	}
	msg, err := json.Marshal(envelope{
		Origin: b.instance,
		Doc:    ev.DocumentID,
		Type:   string(ev.Type),
		Data:   data,
	})
	if err != nil {
		log.Printf("relay: failed to encode envelope: %v", err)
		return
	}
	if err := b.client.Publish(context.Background(), channel, msg).Err(); err != nil {
		log.Printf("relay: publish failed: %v", err)
	}
}

// Run consumes remote events until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	pubsub := b.client.Subscribe(ctx, channel)

	go func() {
		defer close(b.done)
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				b.handle(msg.Payload)
			}
		}
	}()
}

func (b *Bridge) handle(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		log.Printf("relay: dropping malformed message: %v", err)
		return
	}
	if env.Origin == b.instance {
		return
	}
	b.tracker.DeliverRemote(presence.Event{
		DocumentID: env.Doc,
		Type:       presence.EventType(env.Type),
		Payload:    env.Data,
	})
}

// Close stops the consumer.
func (b *Bridge) Close() {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
}
