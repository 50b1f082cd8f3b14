package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClock_Sequence(t *testing.T) {
	tests := []struct {
		name  string
		clock *Clock
		want  []int64
	}{
		{name: "fresh", clock: NewClock(), want: []int64{1, 2, 3}},
		{name: "resumed", clock: ResumeClock(41), want: []int64{42, 43, 44}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := tt.clock.Last()
			for _, want := range tt.want {
				assert.Equal(t, want, tt.clock.Next())
			}
			assert.Equal(t, tt.want[len(tt.want)-1], tt.clock.Last())
			assert.Equal(t, tt.want[0]-1, start, "Last before Next is the resume point")
		})
	}
}

func TestClock_SharedAcrossGoroutines(t *testing.T) {
	c := NewClock()
	const workers, perWorker = 50, 200

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]struct{}, workers*perWorker)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perWorker)
			for j := 0; j < perWorker; j++ {
				local = append(local, c.Next())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, seq := range local {
				_, dup := seen[seq]
				assert.False(t, dup, "seq %d handed out twice", seq)
				seen[seq] = struct{}{}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
	assert.Equal(t, int64(workers*perWorker), c.Last())
}
