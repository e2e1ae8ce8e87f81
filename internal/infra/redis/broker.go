package redis

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Broker is an app.Notifier over Redis pub/sub, so a push client connected to
// one instance sees changes applied by another.
type Broker struct {
	client *redis.Client
}

func NewBroker(client *redis.Client) *Broker {
	return &Broker{client: client}
}

func (b *Broker) Publish(ctx context.Context, code string) error {
	return b.client.Publish(ctx, channel(code), "changed").Err()
}

func (b *Broker) Subscribe(ctx context.Context, code string) (<-chan struct{}, func(), error) {
	pubsub := b.client.Subscribe(ctx, channel(code))
	// wait for the confirmation so no publish after Subscribe returns is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	out := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(out)
		messages := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case _, ok := <-messages:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}
	return out, cancel, nil
}

func channel(code string) string {
	return "battle:{" + code + "}:events"
}
