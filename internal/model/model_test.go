package model

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseAccuracy(t *testing.T) {
	tests := []struct {
		in   string
		want Accuracy
	}{
		{"minimum", AccuracyMinimum},
		{"LOW", AccuracyLow},
		{" balanced ", AccuracyBalanced},
		{"high", AccuracyHigh},
		{"maximum", AccuracyMaximum},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAccuracy(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseAccuracy("extreme")
	assert.Error(t, err)
}

func TestAccuracyOrdering(t *testing.T) {
	assert.True(t, AccuracyMaximum > AccuracyHigh)
	assert.True(t, AccuracyHigh > AccuracyBalanced)
	assert.True(t, AccuracyLow > AccuracyMinimum)
	assert.False(t, Accuracy(0).Valid())
}

func TestResolution_YAMLAndJSON(t *testing.T) {
	var r Resolution
	err := yaml.Unmarshal([]byte("accuracy: high\ndesired_interval: 5s\nminimum_displacement: 10\n"), &r)
	require.NoError(t, err)
	assert.Equal(t, Resolution{Accuracy: AccuracyHigh, DesiredInterval: 5 * time.Second, MinimumDisplacement: 10}, r)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"accuracy":"high"`)
	assert.Contains(t, string(data), `"minimum_displacement":10`)
}

func TestResolution_MoreDemanding(t *testing.T) {
	base := Resolution{Accuracy: AccuracyBalanced, DesiredInterval: time.Second, MinimumDisplacement: 5}

	faster := base
	faster.DesiredInterval = 500 * time.Millisecond
	assert.True(t, faster.MoreDemanding(base))
	assert.False(t, base.MoreDemanding(faster))

	closer := base
	closer.MinimumDisplacement = 1
	assert.True(t, closer.MoreDemanding(base))

	precise := base
	precise.Accuracy = AccuracyMaximum
	assert.True(t, precise.MoreDemanding(base))

	assert.False(t, base.MoreDemanding(base), "identical resolutions do not beat each other")
}

func TestResolution_WithIntervalMultiplied(t *testing.T) {
	r := Resolution{Accuracy: AccuracyHigh, DesiredInterval: 2 * time.Second, MinimumDisplacement: 3}
	got := r.WithIntervalMultiplied(2.5)
	assert.Equal(t, 5*time.Second, got.DesiredInterval)
	assert.Equal(t, r.Accuracy, got.Accuracy)
	assert.Equal(t, r.MinimumDisplacement, got.MinimumDisplacement)
	assert.Equal(t, 2*time.Second, r.DesiredInterval, "receiver is not modified")
}

func TestResolution_WithIntervalMultipliedSaturates(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		m        float64
	}{
		{"huge multiplier", time.Hour, 1e12},
		{"huge interval", time.Duration(math.MaxInt64 / 2), 3},
		{"infinite multiplier", time.Second, math.Inf(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolution{Accuracy: AccuracyLow, DesiredInterval: tt.interval}.WithIntervalMultiplied(tt.m)
			assert.Equal(t, time.Duration(math.MaxInt64), got.DesiredInterval)
			assert.NoError(t, got.Validate())
		})
	}
}

func TestResolutionSet_Select(t *testing.T) {
	mk := func(ms int) Resolution {
		return Resolution{Accuracy: AccuracyBalanced, DesiredInterval: time.Duration(ms) * time.Millisecond}
	}
	set := ResolutionSet{
		FarWithoutSubscriber:  mk(1),
		FarWithSubscriber:     mk(2),
		NearWithoutSubscriber: mk(3),
		NearWithSubscriber:    mk(4),
	}
	assert.Equal(t, mk(1), set.Select(false, false))
	assert.Equal(t, mk(2), set.Select(false, true))
	assert.Equal(t, mk(3), set.Select(true, false))
	assert.Equal(t, mk(4), set.Select(true, true))
}

func TestConstraints_Validate(t *testing.T) {
	good := Constraints{
		Resolutions:           UniformResolutionSet(Resolution{Accuracy: AccuracyBalanced, DesiredInterval: time.Second}),
		ProximityThreshold:    SpatialProximity(100),
		BatteryLevelThreshold: 20,
		LowBatteryMultiplier:  2,
	}
	require.NoError(t, good.Validate())

	bad := good
	bad.BatteryLevelThreshold = 120
	bad.LowBatteryMultiplier = 0
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "battery level threshold")
	assert.Contains(t, err.Error(), "low battery multiplier")

	missing := good
	missing.Resolutions.NearWithSubscriber = Resolution{}
	err = missing.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "near_with_subscriber")
}

func TestLocation_Validate(t *testing.T) {
	ok := Location{Coordinate: Coordinate{Latitude: 51.5, Longitude: -0.12}, Accuracy: 4}
	require.NoError(t, ok.Validate())

	tests := []struct {
		name  string
		loc   Location
		field string
	}{
		{"latitude too high", Location{Coordinate: Coordinate{Latitude: 90.1}}, "latitude"},
		{"latitude too low", Location{Coordinate: Coordinate{Latitude: -91}}, "latitude"},
		{"longitude too high", Location{Coordinate: Coordinate{Longitude: 180.5}}, "longitude"},
		{"negative accuracy", Location{Accuracy: -1}, "accuracy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.loc.Validate()
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	edges := Location{Coordinate: Coordinate{Latitude: -90, Longitude: 180}}
	assert.NoError(t, edges.Validate(), "bounds are inclusive")
}

func TestDistance(t *testing.T) {
	a := Coordinate{Latitude: 0, Longitude: 0}
	b := Coordinate{Latitude: 1, Longitude: 0}
	assert.InDelta(t, 111195.08, Distance(a, b), 1)
	assert.Equal(t, 0.0, Distance(a, a))
	assert.InDelta(t, Distance(a, b), Distance(b, a), 1e-9)
}

func TestNewTrackable(t *testing.T) {
	tr, err := NewTrackable("  order-1 ")
	require.NoError(t, err)
	assert.Equal(t, "order-1", tr.ID)
	assert.Equal(t, "tracking:order-1", tr.ChannelName())

	composed, err := NewTrackable("cafe\u0301")
	require.NoError(t, err)
	assert.Equal(t, "caf\u00e9", composed.ID)

	_, err = NewTrackable("   ")
	assert.ErrorIs(t, err, ErrEmptyTrackableID)
}

func TestTrackable_Validate(t *testing.T) {
	tr := Trackable{ID: "t1", Destination: &Coordinate{Latitude: 100}}
	err := tr.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "latitude")

	assert.ErrorIs(t, Trackable{}.Validate(), ErrEmptyTrackableID)
}
