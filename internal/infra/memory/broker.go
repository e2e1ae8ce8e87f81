package memory

import (
	"context"
	"sync"
)

// Broker is an in-process app.Notifier. Each subscriber holds at most one
// pending signal; a signal only means "read the battle again".
type Broker struct {
	mu          sync.Mutex
	subscribers map[string]map[chan struct{}]struct{}
}

func NewBroker() *Broker {
	return &Broker{subscribers: make(map[string]map[chan struct{}]struct{})}
}

func (b *Broker) Publish(_ context.Context, code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers[code] {
		select {
		case ch <- struct{}{}:
		default:
			// a signal is already pending; slow readers never block publishers
		}
	}
	return nil
}

func (b *Broker) Subscribe(_ context.Context, code string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	subs, ok := b.subscribers[code]
	if !ok {
		subs = make(map[chan struct{}]struct{})
		b.subscribers[code] = subs
	}
	subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if subs, ok := b.subscribers[code]; ok {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.subscribers, code)
				}
			}
			close(ch)
		})
	}
	return ch, cancel, nil
}
