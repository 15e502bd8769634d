package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm/core/pkg/notify"
)

func TestMemoryBus_PublishDeliversToSubscriber(t *testing.T) {
	bus := notify.NewMemoryBus()
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, "C.Jobs")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, bus.Publish(ctx, notify.Reference{ContainerID: "C.Jobs", Sequence: 1}))

	select {
	case ref := <-sub.Channel():
		assert.Equal(t, uint64(1), ref.Sequence)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reference")
	}
}

func TestMemoryBus_IsolatesContainers(t *testing.T) {
	bus := notify.NewMemoryBus()
	ctx := context.Background()

	subJobs, err := bus.Subscribe(ctx, "C.Jobs")
	require.NoError(t, err)
	defer subJobs.Close()

	require.NoError(t, bus.Publish(ctx, notify.Reference{ContainerID: "C.Other", Sequence: 1}))

	select {
	case <-subJobs.Channel():
		t.Fatal("subscriber to C.Jobs should not receive C.Other references")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBus_CloseStopsDelivery(t *testing.T) {
	bus := notify.NewMemoryBus()
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, "C.Jobs")
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	_, ok := <-sub.Channel()
	assert.False(t, ok, "channel should be closed after Close")
}
