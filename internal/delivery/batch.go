package delivery

import "github.com/roach88/waypoint/internal/model"

// Batch is the payload of one send: the newest sample plus the samples
// skipped before it, in capture order.
type Batch struct {
	Location         model.Location
	SkippedLocations []model.Location
}

// newBatch builds a batch from samples in capture order. samples must not be
// empty.
func newBatch(samples []model.Location) Batch {
	last := len(samples) - 1
	b := Batch{Location: samples[last]}
	if last > 0 {
		b.SkippedLocations = append([]model.Location(nil), samples[:last]...)
	}
	return b
}

// Samples returns every sample in the batch in capture order.
func (b Batch) Samples() []model.Location {
	out := make([]model.Location, 0, len(b.SkippedLocations)+1)
	out = append(out, b.SkippedLocations...)
	return append(out, b.Location)
}

// Len is the number of samples in the batch.
func (b Batch) Len() int {
	return len(b.SkippedLocations) + 1
}

func (b Batch) clone() Batch {
	if b.SkippedLocations != nil {
		b.SkippedLocations = append([]model.Location(nil), b.SkippedLocations...)
	}
	return b
}

// Send is one publish attempt handed to the caller.
type Send struct {
	// Seq identifies the attempt. Outcomes reported with a different Seq are
	// stale and ignored.
	Seq uint64
	// Attempt counts from 1 for the first send of a batch.
	Attempt int
	Batch   Batch
}
