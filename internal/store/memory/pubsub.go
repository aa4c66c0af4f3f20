package memory

import (
	"context"
	"sync"
)

// PubSub is an in-process stand-in for the Redis pub/sub used in
// development mode. Slow subscribers drop messages rather than block
// publishers.
type PubSub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

type subscriber struct {
	ch   chan []byte
	once sync.Once
}

func NewPubSub() *PubSub {
	return &PubSub{subs: make(map[string]map[*subscriber]struct{})}
}

func (ps *PubSub) Publish(_ context.Context, channel string, payload []byte) error {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	for sub := range ps.subs[channel] {
		msg := append([]byte(nil), payload...)
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

func (ps *PubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := &subscriber{ch: make(chan []byte, 64)}

	ps.mu.Lock()
	if ps.subs[channel] == nil {
		ps.subs[channel] = make(map[*subscriber]struct{})
	}
	ps.subs[channel][sub] = struct{}{}
	ps.mu.Unlock()

	cleanup := func() {
		sub.once.Do(func() {
			ps.mu.Lock()
			delete(ps.subs[channel], sub)
			if len(ps.subs[channel]) == 0 {
				delete(ps.subs, channel)
			}
			close(sub.ch)
			ps.mu.Unlock()
		})
	}

	go func() {
		<-ctx.Done()
		cleanup()
	}()

	return sub.ch, cleanup, nil
}

func (ps *PubSub) Close() error { return nil }
