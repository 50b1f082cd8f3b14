package transport

import "sync"

// dispatcher runs callbacks one at a time, in submission order, on its own
// goroutine. Submission never blocks.
type dispatcher struct {
	mu      sync.Mutex
	idle    *sync.Cond
	pending []func()
	running int
	signal  chan struct{}
	done    chan struct{}
	closed  bool
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	d.idle = sync.NewCond(&d.mu)
	go d.loop()
	return d
}

func (d *dispatcher) submit(fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.pending = append(d.pending, fn)
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

// close runs what is already queued and then stops the loop.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	close(d.done)
}

// wait blocks until every submitted callback has run.
func (d *dispatcher) wait() {
	d.mu.Lock()
	for len(d.pending) > 0 || d.running > 0 {
		d.idle.Wait()
	}
	d.mu.Unlock()
}

func (d *dispatcher) loop() {
	for {
		d.mu.Lock()
		batch := d.pending
		d.pending = nil
		d.running = len(batch)
		closed := d.closed
		d.mu.Unlock()

		for _, fn := range batch {
			fn()
		}

		d.mu.Lock()
		d.running = 0
		if len(d.pending) == 0 {
			d.idle.Broadcast()
		}
		d.mu.Unlock()

		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}

		select {
		case <-d.signal:
		case <-d.done:
		}
	}
}
