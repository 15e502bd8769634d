// Package notify implements the notify bus (C8, §4.8): on every
// successful append it publishes a small reference so subscribers know
// to fetch the new entry, without shipping the entry itself over a
// possibly payload-capped transport.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// dedupScript guards against publishing the same (container_id, sequence)
// reference twice — a retried append after a transport hiccup must not
// fan a second notification out to every subscriber. KEYS[1] is the
// dedup key, ARGV[1] the TTL in seconds; it returns 1 the first time a
// key is seen and 0 on every repeat within the TTL.
var dedupScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("SET", KEYS[1], "1", "EX", ARGV[1])
return 1
`)

const dedupTTL = 5 * time.Minute

func dedupKey(ref Reference) string {
	return fmt.Sprintf("ledger:notify:dedup:%s:%d", ref.ContainerID, ref.Sequence)
}

// Reference is the payload published on commit. It is deliberately
// small — well under the 200-byte budget called out in §4.8 — so it
// fits lightweight pub/sub transports that cap message size.
type Reference struct {
	ContainerID string `json:"container_id"`
	Sequence    uint64 `json:"sequence,string"`
}

// Bus publishes references on commit and lets subscribers listen for new
// ones per container. Delivery is at-most-once and may drop messages
// under broker pressure; subscribers are expected to reconcile by
// replaying from their last acknowledged sequence (§4.9), never to treat
// the bus itself as the durable record.
type Bus interface {
	Publish(ctx context.Context, ref Reference) error
	Subscribe(ctx context.Context, containerID string) (Subscription, error)
}

// Subscription delivers references for one container until Close is
// called or its context is done.
type Subscription interface {
	Channel() <-chan Reference
	Close() error
}

func channelName(containerID string) string {
	return fmt.Sprintf("ledger:notify:%s", containerID)
}

// RedisBus implements Bus over Redis pub/sub.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus wraps an existing Redis client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

// Publish sends ref on the container's channel. It does not wait for or
// report subscriber delivery — Redis pub/sub has none to report.
func (b *RedisBus) Publish(ctx context.Context, ref Reference) error {
	first, err := dedupScript.Run(ctx, b.client, []string{dedupKey(ref)}, int(dedupTTL.Seconds())).Int()
	if err != nil {
		return fmt.Errorf("notify: dedup check: %w", err)
	}
	if first == 0 {
		return nil
	}

	payload, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("notify: encode reference: %w", err)
	}
	if err := b.client.Publish(ctx, channelName(ref.ContainerID), payload).Err(); err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	return nil
}

// Subscribe opens a Redis pub/sub subscription for containerID and
// decodes references as they arrive.
func (b *RedisBus) Subscribe(ctx context.Context, containerID string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channelName(containerID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("notify: subscribe: %w", err)
	}

	out := make(chan Reference, 64)
	sub := &redisSubscription{pubsub: pubsub, out: out}
	go sub.pump()
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan Reference
}

func (s *redisSubscription) pump() {
	defer close(s.out)
	ch := s.pubsub.Channel()
	for msg := range ch {
		var ref Reference
		if err := json.Unmarshal([]byte(msg.Payload), &ref); err != nil {
			continue // malformed message from a misbehaving publisher; drop and keep listening
		}
		s.out <- ref
	}
}

func (s *redisSubscription) Channel() <-chan Reference { return s.out }
func (s *redisSubscription) Close() error               { return s.pubsub.Close() }
