package tail_test

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm/core/pkg/authz"
	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
	"github.com/Mindburn-Labs/helm/core/pkg/crypto"
	"github.com/Mindburn-Labs/helm/core/pkg/ledger"
	"github.com/Mindburn-Labs/helm/core/pkg/membrane"
	"github.com/Mindburn-Labs/helm/core/pkg/notify"
	"github.com/Mindburn-Labs/helm/core/pkg/pact"
	"github.com/Mindburn-Labs/helm/core/pkg/tail"
)

func zeroHash() string { return hex.EncodeToString(make([]byte, 32)) }

func newTestFixture(t *testing.T) (*ledger.Engine, *ledger.ReadAPI, *crypto.Ed25519Signer) {
	t.Helper()
	signer, err := crypto.NewEd25519Signer("author-1")
	require.NoError(t, err)

	guard := authz.NewGuard()
	verifier := &crypto.Ed25519Verifier{}
	registry := pact.NewRegistry()
	agg := pact.NewAggregator(registry, verifier)
	m := membrane.New(guard, verifier, agg)

	store := ledger.NewMemoryStore()
	engine := ledger.NewEngine(store, m)
	reads := ledger.NewReadAPI(store)
	return engine, reads, signer
}

func observationLink(t *testing.T, signer *crypto.Ed25519Signer, containerID string, seq uint64, prev string) *contracts.Link {
	t.Helper()
	l := &contracts.Link{
		Version:          1,
		ContainerID:      containerID,
		ExpectedSequence: seq,
		PreviousHash:     prev,
		AtomHash:         zeroHash(),
		IntentClass:      contracts.IntentObservation,
		PhysicsDelta:     "0",
	}
	require.NoError(t, signer.SignLink(l))
	return l
}

func ascForContainer(signer *crypto.Ed25519Signer, containerID string) contracts.ASC {
	now := time.Now()
	return contracts.ASC{
		Subject:       signer.PublicKey(),
		Containers:    []string{containerID},
		IntentClasses: []contracts.IntentClass{contracts.IntentObservation},
		NotBefore:     now.Add(-time.Hour),
		NotAfter:      now.Add(time.Hour),
	}
}

func TestSubscriber_ReplaysExistingBacklog(t *testing.T) {
	engine, reads, signer := newTestFixture(t)
	ctx := context.Background()
	asc := ascForContainer(signer, "C.Jobs")
	authCtx := membrane.AuthContext{ASC: &asc}

	link1 := observationLink(t, signer, "C.Jobs", 1, contracts.GenesisHash)
	entry1, err := engine.Append(ctx, link1, authCtx)
	require.NoError(t, err)

	link2 := observationLink(t, signer, "C.Jobs", 2, entry1.EntryHash)
	entry2, err := engine.Append(ctx, link2, authCtx)
	require.NoError(t, err)

	bus := notify.NewMemoryBus()
	sub := tail.New(reads, bus)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := sub.Stream(streamCtx, tail.Cursor{ContainerID: "C.Jobs", SinceSequence: 0})
	require.NoError(t, err)

	var got []contracts.Entry
	for len(got) < 2 {
		select {
		case ev := <-events:
			require.Equal(t, tail.EventEntry, ev.Kind)
			got = append(got, ev.Entry)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for backlog replay")
		}
	}
	assert.Equal(t, entry1.EntryHash, got[0].EntryHash)
	assert.Equal(t, entry2.EntryHash, got[1].EntryHash)
}

func TestSubscriber_StreamsLiveEntriesFromNotifyBus(t *testing.T) {
	engine, reads, signer := newTestFixture(t)
	ctx := context.Background()
	asc := ascForContainer(signer, "C.Jobs")
	authCtx := membrane.AuthContext{ASC: &asc}

	link1 := observationLink(t, signer, "C.Jobs", 1, contracts.GenesisHash)
	entry1, err := engine.Append(ctx, link1, authCtx)
	require.NoError(t, err)

	bus := notify.NewMemoryBus()
	sub := tail.New(reads, bus)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := sub.Stream(streamCtx, tail.Cursor{ContainerID: "C.Jobs", SinceSequence: entry1.Sequence})
	require.NoError(t, err)

	link2 := observationLink(t, signer, "C.Jobs", 2, entry1.EntryHash)
	entry2, err := engine.Append(ctx, link2, authCtx)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, notify.Reference{ContainerID: "C.Jobs", Sequence: entry2.Sequence}))

	select {
	case ev := <-events:
		require.Equal(t, tail.EventEntry, ev.Kind)
		assert.Equal(t, entry2.EntryHash, ev.Entry.EntryHash)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live entry")
	}
}

func TestSubscriber_EmitsKeepAlives(t *testing.T) {
	_, reads, _ := newTestFixture(t)
	bus := notify.NewMemoryBus()
	sub := tail.New(reads, bus).WithKeepAliveInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := sub.Stream(ctx, tail.Cursor{ContainerID: "C.Empty", SinceSequence: 0})
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, tail.EventKeepAlive, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for keep-alive")
	}
}
