package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func named(name string) WorkItem[*testState] {
	return &ItemFunc[*testState]{Name: name}
}

func nameOf(t *testing.T, item WorkItem[*testState]) string {
	t.Helper()
	f, ok := item.(*ItemFunc[*testState])
	require.True(t, ok)
	return f.Name
}

func TestWorkQueue_EnqueueDequeue(t *testing.T) {
	q := newWorkQueue[*testState]()

	require.True(t, q.Enqueue(named("item-1")))

	got, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "item-1", nameOf(t, got))
}

func TestWorkQueue_FIFO(t *testing.T) {
	q := newWorkQueue[*testState]()
	for _, n := range []string{"A", "B", "C"} {
		q.Enqueue(named(n))
	}

	for _, want := range []string{"A", "B", "C"} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, nameOf(t, got))
	}
}

func TestWorkQueue_TryDequeue_Empty(t *testing.T) {
	q := newWorkQueue[*testState]()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestWorkQueue_Close_ReturnsRemaining(t *testing.T) {
	q := newWorkQueue[*testState]()
	q.Enqueue(named("left-1"))
	q.Enqueue(named("left-2"))

	remaining := q.Close()
	require.Len(t, remaining, 2)
	assert.Equal(t, "left-1", nameOf(t, remaining[0]))
	assert.Equal(t, "left-2", nameOf(t, remaining[1]))

	assert.Nil(t, q.Close(), "second close is a no-op")

	// A wake-up buffered by the enqueues may come first; the channel must
	// report closed once it is drained.
	deadline := time.After(100 * time.Millisecond)
	for open := true; open; {
		select {
		case _, open = <-q.Wait():
		case <-deadline:
			t.Fatal("wait channel not closed")
		}
	}
}

func TestWorkQueue_Enqueue_AfterClose(t *testing.T) {
	q := newWorkQueue[*testState]()
	q.Close()

	assert.False(t, q.Enqueue(named("too-late")), "enqueue after close should return false")
}

func TestWorkQueue_Len(t *testing.T) {
	q := newWorkQueue[*testState]()

	assert.Equal(t, 0, q.Len())
	q.Enqueue(named("1"))
	q.Enqueue(named("2"))
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())
	q.TryDequeue()
	assert.Equal(t, 0, q.Len())
}

func TestWorkQueue_ThreadSafe(t *testing.T) {
	q := newWorkQueue[*testState]()

	const producers = 10
	const itemsPerProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(producerID int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				q.Enqueue(named(fmt.Sprintf("%d-%03d", producerID, i)))
			}
		}(p)
	}
	wg.Wait()

	// Per-producer order survives interleaving.
	last := make(map[string]string)
	count := 0
	for {
		item, ok := q.TryDequeue()
		if !ok {
			break
		}
		count++
		name := nameOf(t, item)
		var producer, seq string
		_, err := fmt.Sscanf(name, "%1s-%3s", &producer, &seq)
		require.NoError(t, err)
		assert.Greater(t, seq, last[producer], "producer %s out of order", producer)
		last[producer] = seq
	}
	assert.Equal(t, producers*itemsPerProducer, count)
}
