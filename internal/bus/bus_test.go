package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"hivemind/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newStartedBus(t *testing.T, maxQueue int) *Bus {
	t.Helper()
	b := New(maxQueue, 100)
	b.Start(context.Background())
	t.Cleanup(b.Close)
	return b
}

func TestPriorityOrdering(t *testing.T) {
	b := New(10, 100)

	delivered := make(chan string, 3)
	b.Subscribe("worker", func(ctx context.Context, msg types.Message) (map[string]any, error) {
		delivered <- msg.ID
		return nil, nil
	})

	// Publish before starting so the heap orders all three.
	require.NoError(t, b.Publish(types.Message{ID: "m1", Recipient: "worker", Kind: types.MessageUpdate, Priority: 0.2}))
	require.NoError(t, b.Publish(types.Message{ID: "m2", Recipient: "worker", Kind: types.MessageUpdate, Priority: 0.9}))
	require.NoError(t, b.Publish(types.Message{ID: "m3", Recipient: "worker", Kind: types.MessageUpdate, Priority: 0.5}))

	b.Start(context.Background())
	defer b.Close()

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case id := <-delivered:
			got = append(got, id)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}
	assert.Equal(t, []string{"m2", "m3", "m1"}, got)
}

func TestPublishClampsPriorityRange(t *testing.T) {
	b := New(10, 100)
	delivered := make(chan types.Message, 3)
	b.Subscribe("worker", func(ctx context.Context, msg types.Message) (map[string]any, error) {
		delivered <- msg
		return nil, nil
	})

	require.NoError(t, b.Publish(types.Message{ID: "hot", Recipient: "worker", Priority: 9.0}))
	require.NoError(t, b.Publish(types.Message{ID: "mid", Recipient: "worker", Priority: 0.5}))
	require.NoError(t, b.Publish(types.Message{ID: "cold", Recipient: "worker", Priority: -3.0}))

	b.Start(context.Background())
	defer b.Close()

	var got []types.Message
	for i := 0; i < 3; i++ {
		select {
		case m := <-delivered:
			got = append(got, m)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}
	require.Len(t, got, 3)
	assert.Equal(t, "hot", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)
	assert.Equal(t, "cold", got[2].ID)
	for _, m := range got {
		assert.GreaterOrEqual(t, m.Priority, 0.0)
		assert.LessOrEqual(t, m.Priority, 1.0)
	}
}

func TestFIFOWithinEqualPriority(t *testing.T) {
	b := New(10, 100)
	delivered := make(chan string, 3)
	b.Subscribe("x", func(ctx context.Context, msg types.Message) (map[string]any, error) {
		delivered <- msg.ID
		return nil, nil
	})
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, b.Publish(types.Message{ID: id, Recipient: "x", Priority: 0.5}))
	}
	b.Start(context.Background())
	defer b.Close()

	var got []string
	for i := 0; i < 3; i++ {
		got = append(got, <-delivered)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestFanOutExactlyOnce(t *testing.T) {
	b := newStartedBus(t, 10)

	var mu sync.Mutex
	counts := map[string]int{}
	var wg sync.WaitGroup
	wg.Add(2)
	for _, name := range []string{"h1", "h2"} {
		name := name
		b.Subscribe("shared", func(ctx context.Context, msg types.Message) (map[string]any, error) {
			mu.Lock()
			counts[name]++
			mu.Unlock()
			wg.Done()
			return nil, nil
		})
	}

	require.NoError(t, b.Publish(types.Message{Recipient: "shared", Kind: types.MessageAlert, Priority: 0.5}))
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, counts["h1"])
	assert.Equal(t, 1, counts["h2"])
}

func TestQueueFullDrops(t *testing.T) {
	b := New(2, 100) // not started: nothing drains
	defer b.Close()

	require.NoError(t, b.Publish(types.Message{Recipient: "x", Priority: 0.1}))
	require.NoError(t, b.Publish(types.Message{Recipient: "x", Priority: 0.1}))
	err := b.Publish(types.Message{Recipient: "x", Priority: 0.9})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, uint64(1), b.GetStats().Dropped)
}

func TestSendRequestResponse(t *testing.T) {
	b := newStartedBus(t, 10)

	b.Subscribe("echo", func(ctx context.Context, msg types.Message) (map[string]any, error) {
		return map[string]any{"echo": msg.Payload["text"]}, nil
	})

	payload, err := b.SendRequest(context.Background(), types.Message{
		Sender:    "tester",
		Recipient: "echo",
		Priority:  0.5,
		Payload:   map[string]any{"text": "hello"},
		Timeout:   2 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", payload["echo"])
	assert.Equal(t, 0, b.GetStats().PendingWaiters)
}

func TestSendRequestHandlerError(t *testing.T) {
	b := newStartedBus(t, 10)

	b.Subscribe("broken", func(ctx context.Context, msg types.Message) (map[string]any, error) {
		return nil, errors.New("boom")
	})

	payload, err := b.SendRequest(context.Background(), types.Message{
		Recipient: "broken",
		Priority:  0.5,
		Timeout:   2 * time.Second,
	})
	require.NoError(t, err) // handler errors become error payloads, not transport errors
	assert.Equal(t, "boom", payload["error"])
}

func TestSendRequestTimeout(t *testing.T) {
	b := newStartedBus(t, 10)

	b.Subscribe("slow", func(ctx context.Context, msg types.Message) (map[string]any, error) {
		time.Sleep(500 * time.Millisecond)
		return map[string]any{}, nil
	})

	start := time.Now()
	payload, err := b.SendRequest(context.Background(), types.Message{
		Recipient: "slow",
		Priority:  0.5,
		Timeout:   50 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, payload["error"], "timed out")
	assert.Less(t, time.Since(start), 400*time.Millisecond)

	// Late response after timeout must be a no-op.
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, 0, b.GetStats().PendingWaiters)
}

func TestSendResponseNoWaiter(t *testing.T) {
	b := newStartedBus(t, 10)
	b.SendResponse("unknown-correlation", map[string]any{"x": 1}) // must not panic
}

func TestRecentMessagesRing(t *testing.T) {
	b := New(100, 10)
	defer b.Close()
	for i := 0; i < 25; i++ {
		_ = b.Publish(types.Message{Recipient: "x", Priority: 0.5})
	}
	recent := b.RecentMessages(0)
	assert.LessOrEqual(t, len(recent), 10)
}

func TestPublishAfterClose(t *testing.T) {
	b := New(10, 100)
	b.Start(context.Background())
	b.Close()
	err := b.Publish(types.Message{Recipient: "x"})
	assert.ErrorIs(t, err, ErrClosed)
}
