// Package tail implements the tail subscriber (C9, §4.9): a long-lived,
// per-container stream that first replays backlog entries since a caller's
// cursor, then switches to the live notify bus, interleaving periodic
// keep-alives so callers can detect a silently dead channel.
package tail

import (
	"context"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
	"github.com/Mindburn-Labs/helm/core/pkg/ledger"
	"github.com/Mindburn-Labs/helm/core/pkg/notify"
)

// DefaultReplayWindow is the page size of backlog replay: each read fetches
// at most this many entries, and replay keeps paging until it reaches the
// tail before switching to the live stream.
const DefaultReplayWindow = 500

// DefaultKeepAliveInterval is how often a KeepAlive event is emitted once
// live streaming has begun, whether or not entries are arriving.
const DefaultKeepAliveInterval = 15 * time.Second

// EventKind distinguishes the three things a Subscriber can emit.
type EventKind int

const (
	EventEntry EventKind = iota
	EventKeepAlive
	EventError
)

// Event is one message on a tail stream. Only the field matching Kind is
// populated.
type Event struct {
	Kind  EventKind
	Entry contracts.Entry
	Err   error
}

// Cursor identifies where a subscriber left off.
type Cursor struct {
	ContainerID   string
	SinceSequence uint64
}

// Subscriber combines backlog replay with the live notify bus.
type Subscriber struct {
	reads        *ledger.ReadAPI
	bus          notify.Bus
	replayWindow int
	keepAlive    time.Duration
}

// New constructs a Subscriber over reads (for backlog replay) and bus (for
// live references).
func New(reads *ledger.ReadAPI, bus notify.Bus) *Subscriber {
	return &Subscriber{
		reads:        reads,
		bus:          bus,
		replayWindow: DefaultReplayWindow,
		keepAlive:    DefaultKeepAliveInterval,
	}
}

// WithReplayWindow overrides the backlog batch size.
func (s *Subscriber) WithReplayWindow(n int) *Subscriber {
	s.replayWindow = n
	return s
}

// WithKeepAliveInterval overrides the keep-alive cadence.
func (s *Subscriber) WithKeepAliveInterval(d time.Duration) *Subscriber {
	s.keepAlive = d
	return s
}

// Stream opens a channel that first replays entries with sequence >
// cursor.SinceSequence, bounded to the replay window per pass, then
// streams live references as they arrive on the notify bus, resolving
// each to its full entry. The returned channel is closed when ctx is
// done or the underlying subscription ends; the caller should track the
// sequence of the last EventEntry it processed and resume with that as
// the next call's cursor.
func (s *Subscriber) Stream(ctx context.Context, cursor Cursor) (<-chan Event, error) {
	sub, err := s.bus.Subscribe(ctx, cursor.ContainerID)
	if err != nil {
		return nil, fmt.Errorf("tail: subscribe: %w", err)
	}

	out := make(chan Event, 64)
	go s.run(ctx, cursor, sub, out)
	return out, nil
}

func (s *Subscriber) run(ctx context.Context, cursor Cursor, sub notify.Subscription, out chan<- Event) {
	defer close(out)
	defer sub.Close()

	last := cursor.SinceSequence
	if !s.replayBacklog(ctx, cursor.ContainerID, &last, out) {
		return
	}

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !emit(ctx, out, Event{Kind: EventKeepAlive}) {
				return
			}
		case ref, ok := <-sub.Channel():
			if !ok {
				return
			}
			if ref.Sequence <= last {
				continue // already delivered during replay or an earlier reference
			}
			if ref.Sequence > last+1 {
				// A gap: one or more references were dropped by the bus.
				// Replay the missing range before resuming live delivery.
				if !s.replayBacklog(ctx, cursor.ContainerID, &last, out) {
					return
				}
				if ref.Sequence <= last {
					continue
				}
			}
			entry, err := s.reads.Entry(ctx, cursor.ContainerID, ref.Sequence)
			if err != nil {
				if !emit(ctx, out, Event{Kind: EventError, Err: err}) {
					return
				}
				continue
			}
			last = entry.Sequence
			if !emit(ctx, out, Event{Kind: EventEntry, Entry: entry}) {
				return
			}
		}
	}
}

// replayBacklog fetches and emits entries with sequence > *last, advancing
// *last as it goes, paging through the store replayWindow entries at a
// time until it catches up to the tail. Returns false if the caller should
// stop (context cancelled or the consumer disappeared).
func (s *Subscriber) replayBacklog(ctx context.Context, containerID string, last *uint64, out chan<- Event) bool {
	for {
		batch, err := s.reads.Since(ctx, containerID, *last, s.replayWindow)
		if err != nil {
			return emit(ctx, out, Event{Kind: EventError, Err: err})
		}
		for _, entry := range batch {
			if !emit(ctx, out, Event{Kind: EventEntry, Entry: entry}) {
				return false
			}
			*last = entry.Sequence
		}
		if len(batch) < s.replayWindow {
			return true
		}
	}
}

func emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
