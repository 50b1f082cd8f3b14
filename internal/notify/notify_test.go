package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/waypoint/internal/delivery"
	"github.com/roach88/waypoint/internal/model"
	"github.com/roach88/waypoint/internal/presence"
)

func TestMulti_FansOutInOrderAndSkipsNil(t *testing.T) {
	var got []string
	a := ObserverFunc(func(e Event) { got = append(got, "a"+string(e.Kind)) })
	b := ObserverFunc(func(e Event) { got = append(got, "b"+string(e.Kind)) })

	Multi(a, nil, b).Notify(Event{Kind: KindRetry})
	assert.Equal(t, []string{"aretry", "bretry"}, got)
}

func TestEvent_String(t *testing.T) {
	r := model.Resolution{Accuracy: model.AccuracyHigh, DesiredInterval: time.Second, MinimumDisplacement: 5}
	tests := []struct {
		ev   Event
		want string
	}{
		{
			Event{Seq: 1, Kind: KindTrackableState, Trackable: "a", State: &presence.StateChange{Previous: presence.Offline, Current: presence.Online}},
			"#1 trackable_state a offline->online",
		},
		{
			Event{Seq: 2, Kind: KindAggregateResolution, Resolution: &r},
			"#2 aggregate_resolution high/1s/5m",
		},
		{
			Event{Seq: 3, Kind: KindExhausted, Trackable: "a", Batch: &delivery.Batch{}, Attempt: 2, Err: errors.New("down")},
			`#3 exhausted a locations=1 attempt=2 error="down"`,
		},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.ev.String())
	}
}
