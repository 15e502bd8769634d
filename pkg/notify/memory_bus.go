package notify

import (
	"context"
	"sync"
)

// MemoryBus is an in-process fan-out Bus for tests and single-process
// deployments. Like RedisBus, it is at-most-once: a subscriber that
// isn't listening when Publish runs simply misses the reference.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[string][]*memorySubscription
}

// NewMemoryBus constructs an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memorySubscription)}
}

// Publish fans ref out to every current subscriber of its container,
// dropping it for any subscriber whose buffer is full rather than
// blocking the publisher.
func (b *MemoryBus) Publish(ctx context.Context, ref Reference) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs[ref.ContainerID] {
		select {
		case s.out <- ref:
		default:
		}
	}
	return nil
}

// Subscribe registers a new listener for containerID.
func (b *MemoryBus) Subscribe(ctx context.Context, containerID string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &memorySubscription{bus: b, containerID: containerID, out: make(chan Reference, 64)}
	b.subs[containerID] = append(b.subs[containerID], sub)
	return sub, nil
}

type memorySubscription struct {
	bus         *MemoryBus
	containerID string
	out         chan Reference
}

func (s *memorySubscription) Channel() <-chan Reference { return s.out }

func (s *memorySubscription) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subs[s.containerID]
	for i, candidate := range subs {
		if candidate == s {
			s.bus.subs[s.containerID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	close(s.out)
	return nil
}
