package bus

import (
	"context"
	"sync"
)

// LocalBus is the single-worker bus variant: envelopes loop straight back
// to the local gateway and the census is the local connection count. It
// backs tests and fleetless deployments; the gateway is written against
// Bus and never knows which variant it got.
type LocalBus struct {
	deliver    DeliverFunc
	localCount LocalCountFunc

	mu    sync.Mutex
	rooms map[string]bool
}

func NewLocalBus(deliver DeliverFunc, localCount LocalCountFunc) *LocalBus {
	return &LocalBus{
		deliver:    deliver,
		localCount: localCount,
		rooms:      make(map[string]bool),
	}
}

func (b *LocalBus) JoinRoom(room string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rooms[room] = true
	return nil
}

func (b *LocalBus) LeaveRoom(room string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rooms, room)
	return nil
}

func (b *LocalBus) PublishRoom(_ context.Context, room string, env Envelope) error {
	b.mu.Lock()
	joined := b.rooms[room]
	b.mu.Unlock()
	if !joined {
		// nobody here holds a connection for that room
		return nil
	}
	env.Room = room
	b.deliver(env)
	return nil
}

func (b *LocalBus) Broadcast(_ context.Context, env Envelope) error {
	b.deliver(env)
	return nil
}

func (b *LocalBus) LiveConnections(_ context.Context, userID string) (int, error) {
	return b.localCount(userID), nil
}

func (b *LocalBus) Close() error { return nil }
