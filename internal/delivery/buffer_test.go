package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/waypoint/internal/model"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sample(n int) model.Location {
	return model.Location{
		Coordinate: model.Coordinate{Latitude: 51.5 + float64(n)/1000, Longitude: -0.12},
		Accuracy:   5,
		Timestamp:  epoch.Add(time.Duration(n) * time.Second),
	}
}

func TestOffer_StartsSendWhenIdle(t *testing.T) {
	var b Buffer

	send, ok := b.Offer(sample(1))
	require.True(t, ok)
	assert.Equal(t, 1, send.Attempt)
	assert.Equal(t, sample(1), send.Batch.Location)
	assert.Empty(t, send.Batch.SkippedLocations)
	assert.True(t, b.InFlight())
}

func TestOffer_BatchesBehindInFlight(t *testing.T) {
	var b Buffer
	first, _ := b.Offer(sample(1))

	_, ok := b.Offer(sample(2))
	assert.False(t, ok, "only one send may be outstanding")
	_, ok = b.Offer(sample(3))
	assert.False(t, ok)
	assert.Equal(t, 2, b.Pending())

	next, hasNext, delivered := b.Succeeded(first.Seq)
	require.True(t, delivered)
	require.True(t, hasNext)
	assert.Equal(t, sample(3), next.Batch.Location)
	assert.Equal(t, []model.Location{sample(2)}, next.Batch.SkippedLocations)
	assert.Equal(t, 0, b.Pending())

	_, hasNext, delivered = b.Succeeded(next.Seq)
	assert.True(t, delivered)
	assert.False(t, hasNext)
	assert.False(t, b.InFlight())
}

func TestFailed_RetryCarriesAccumulatedSamples(t *testing.T) {
	const maxRetryCount = 2
	var b Buffer
	var publishes []Batch

	send, _ := b.Offer(sample(1))

	// Attempt 1 fails.
	send, hasNext, exhausted := b.Failed(send.Seq, maxRetryCount)
	require.True(t, hasNext)
	require.Nil(t, exhausted)
	assert.Equal(t, 2, send.Attempt)

	// S2 arrives while the first retry is outstanding.
	_, ok := b.Offer(sample(2))
	require.False(t, ok)

	// Attempt 2 fails.
	send, hasNext, exhausted = b.Failed(send.Seq, maxRetryCount)
	require.True(t, hasNext)
	require.Nil(t, exhausted)
	assert.Equal(t, 3, send.Attempt)

	// Attempt 3 succeeds.
	publishes = append(publishes, send.Batch)
	_, hasNext, delivered := b.Succeeded(send.Seq)
	require.True(t, delivered)
	assert.False(t, hasNext)

	require.Len(t, publishes, 1)
	assert.Equal(t, Batch{Location: sample(2), SkippedLocations: []model.Location{sample(1)}}, publishes[0])
}

func TestFailed_ExhaustsThenResumesWithNextBatch(t *testing.T) {
	const maxRetryCount = 1
	var b Buffer

	send, _ := b.Offer(sample(1))
	send, _, exhausted := b.Failed(send.Seq, maxRetryCount)
	require.Nil(t, exhausted)

	var notifications []*Exhausted
	next, hasNext, exhausted := b.Failed(send.Seq, maxRetryCount)
	if exhausted != nil {
		notifications = append(notifications, exhausted)
	}
	assert.False(t, hasNext, "nothing accumulated behind the dropped batch")
	require.Len(t, notifications, 1)
	assert.Equal(t, 2, notifications[0].Attempts)
	assert.Equal(t, []model.Location{sample(1)}, notifications[0].Batch.Samples())
	assert.False(t, b.InFlight())
	assert.Equal(t, Send{}, next)

	// The buffer keeps delivering after an exhausted batch, with a fresh budget.
	send, ok := b.Offer(sample(2))
	require.True(t, ok)
	assert.Equal(t, 1, send.Attempt)
	send, hasNext, exhausted = b.Failed(send.Seq, maxRetryCount)
	assert.True(t, hasNext)
	assert.Nil(t, exhausted)
	_, _, delivered := b.Succeeded(send.Seq)
	assert.True(t, delivered)
}

func TestFailed_ExhaustedStartsAccumulatedBatch(t *testing.T) {
	var b Buffer

	send, _ := b.Offer(sample(1))
	b.Offer(sample(2))

	next, hasNext, exhausted := b.Failed(send.Seq, 0)
	require.NotNil(t, exhausted)
	assert.Equal(t, []model.Location{sample(1)}, exhausted.Batch.Samples())
	require.True(t, hasNext)
	assert.Equal(t, 1, next.Attempt)
	assert.Equal(t, Batch{Location: sample(2)}, next.Batch)
}

func TestOutcomes_StaleSeqIgnored(t *testing.T) {
	var b Buffer
	first, _ := b.Offer(sample(1))
	b.Reset()
	second, _ := b.Offer(sample(2))

	_, _, delivered := b.Succeeded(first.Seq)
	assert.False(t, delivered)
	_, hasNext, exhausted := b.Failed(first.Seq, 0)
	assert.False(t, hasNext)
	assert.Nil(t, exhausted)

	assert.True(t, b.InFlight())
	_, _, delivered = b.Succeeded(second.Seq)
	assert.True(t, delivered)
}

func TestClone_IsIndependent(t *testing.T) {
	b := &Buffer{}
	send, _ := b.Offer(sample(1))
	b.Offer(sample(2))

	c := b.Clone()
	c.Succeeded(send.Seq)
	c.Offer(sample(3))

	assert.True(t, b.InFlight())
	assert.Equal(t, 1, b.Pending())
	_, hasNext, delivered := b.Succeeded(send.Seq)
	assert.True(t, delivered)
	assert.True(t, hasNext)
}

func TestBatch_Samples(t *testing.T) {
	b := newBatch([]model.Location{sample(1), sample(2), sample(3)})
	assert.Equal(t, sample(3), b.Location)
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []model.Location{sample(1), sample(2), sample(3)}, b.Samples())
}
