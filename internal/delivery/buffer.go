package delivery

import "github.com/roach88/waypoint/internal/model"

// Buffer is the delivery state of one trackable.
//
// The zero value is ready to use.
type Buffer struct {
	inFlight *Send
	pending  []model.Location
	failures int
	seq      uint64
}

// Exhausted describes a batch dropped after its retry budget ran out.
type Exhausted struct {
	Batch    Batch
	Attempts int
}

// InFlight reports whether a send is outstanding.
func (b *Buffer) InFlight() bool {
	return b.inFlight != nil
}

// Pending returns the number of samples waiting behind the in-flight send.
func (b *Buffer) Pending() int {
	return len(b.pending)
}

// Offer accepts a sample. If no send is outstanding, it starts one carrying
// every sample accumulated so far and returns it. Otherwise the sample is
// queued behind the in-flight send and ok is false.
func (b *Buffer) Offer(sample model.Location) (send Send, ok bool) {
	b.pending = append(b.pending, sample)
	if b.inFlight != nil {
		return Send{}, false
	}
	return b.start(1), true
}

// Succeeded resolves the in-flight send identified by seq. When samples
// accumulated meanwhile, the next send is started and returned.
//
// delivered is false when seq does not name the in-flight send.
func (b *Buffer) Succeeded(seq uint64) (next Send, hasNext bool, delivered bool) {
	if !b.owns(seq) {
		return Send{}, false, false
	}
	b.inFlight = nil
	b.failures = 0
	if len(b.pending) == 0 {
		return Send{}, false, true
	}
	return b.start(1), true, true
}

// Failed records a failed attempt for the send identified by seq.
//
// While fewer than maxRetryCount retries have been made, the returned send
// retries the failed samples together with any accumulated since. Once the
// budget is spent the batch is dropped and reported through exhausted, the
// counter is reset and the next accumulated batch, if any, is started.
//
// Both results are zero when seq does not name the in-flight send.
func (b *Buffer) Failed(seq uint64, maxRetryCount int) (next Send, hasNext bool, exhausted *Exhausted) {
	if !b.owns(seq) {
		return Send{}, false, nil
	}

	failed := *b.inFlight
	b.inFlight = nil
	b.failures++

	if b.failures <= maxRetryCount {
		b.pending = append(failed.Batch.Samples(), b.pending...)
		return b.start(failed.Attempt + 1), true, nil
	}

	b.failures = 0
	exhausted = &Exhausted{Batch: failed.Batch, Attempts: failed.Attempt}
	if len(b.pending) == 0 {
		return Send{}, false, exhausted
	}
	return b.start(1), true, exhausted
}

// Reset forgets the in-flight send and every pending sample. Outcomes of the
// forgotten send are ignored afterwards.
func (b *Buffer) Reset() {
	b.inFlight = nil
	b.pending = nil
	b.failures = 0
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	out := &Buffer{failures: b.failures, seq: b.seq}
	if b.inFlight != nil {
		s := *b.inFlight
		s.Batch = s.Batch.clone()
		out.inFlight = &s
	}
	if b.pending != nil {
		out.pending = append([]model.Location(nil), b.pending...)
	}
	return out
}

func (b *Buffer) owns(seq uint64) bool {
	return b.inFlight != nil && b.inFlight.Seq == seq
}

func (b *Buffer) start(attempt int) Send {
	b.seq++
	s := Send{Seq: b.seq, Attempt: attempt, Batch: newBatch(b.pending)}
	b.pending = nil
	b.inFlight = &s
	return s
}
