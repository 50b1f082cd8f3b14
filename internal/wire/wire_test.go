package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/waypoint/internal/delivery"
	"github.com/roach88/waypoint/internal/model"
	"github.com/roach88/waypoint/internal/presence"
)

var (
	s1 = model.Location{
		Coordinate: model.Coordinate{Latitude: 51.5, Longitude: -0.12},
		Altitude:   11.5,
		Accuracy:   5,
		Bearing:    90,
		Speed:      1.25,
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	s2 = model.Location{
		Coordinate: model.Coordinate{Latitude: 51.501, Longitude: -0.121},
		Altitude:   12,
		Accuracy:   4.5,
		Bearing:    92.5,
		Speed:      1.5,
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 1, 250_000_000, time.UTC),
	}
)

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestEnvelope_Golden(t *testing.T) {
	tests := []struct {
		name  string
		batch delivery.Batch
	}{
		{"envelope_single", delivery.Batch{Location: s1}},
		{"envelope_with_skipped", delivery.Batch{Location: s2, SkippedLocations: []model.Location{s1}}},
	}

	g := newGoldie(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := EnvelopeFromBatch(tt.batch)
			require.NoError(t, err)

			data, err := json.MarshalIndent(env, "", "  ")
			require.NoError(t, err)
			g.Assert(t, tt.name, data)
		})
	}
}

func TestPresence_Golden(t *testing.T) {
	r := model.Resolution{Accuracy: model.AccuracyHigh, DesiredInterval: time.Second, MinimumDisplacement: 5}
	tests := []struct {
		name string
		data presence.Data
	}{
		{"presence_publisher", presence.Data{Type: presence.ClientPublisher}},
		{"presence_subscriber", presence.Data{Type: presence.ClientSubscriber, Resolution: &r}},
	}

	g := newGoldie(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodePresence(JSON, tt.data)
			require.NoError(t, err)
			g.Assert(t, tt.name, data)
		})
	}
}

func TestFeature_CoordinatesAreLonLat(t *testing.T) {
	f, err := FeatureFromLocation(s1)
	require.NoError(t, err)
	assert.Equal(t, "Feature", f.Type)
	assert.Equal(t, "Point", f.Geometry.Type)
	assert.Equal(t, []float64{-0.12, 51.5}, f.Geometry.Coordinates)
}

func TestFeatureFromLocation_RejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(*model.Location)
		field string
	}{
		{"longitude high", func(l *model.Location) { l.Longitude = 180.5 }, "longitude"},
		{"longitude low", func(l *model.Location) { l.Longitude = -181 }, "longitude"},
		{"latitude high", func(l *model.Location) { l.Latitude = 90.01 }, "latitude"},
		{"latitude low", func(l *model.Location) { l.Latitude = -95 }, "latitude"},
		{"negative accuracy", func(l *model.Location) { l.Accuracy = -1 }, "accuracy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := s1
			tt.mod(&l)
			_, err := FeatureFromLocation(l)
			require.Error(t, err)
			assert.True(t, model.IsValidationError(err))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestFeatureFromLocation_AcceptsBounds(t *testing.T) {
	l := s1
	l.Latitude, l.Longitude, l.Accuracy = -90, 180, 0
	_, err := FeatureFromLocation(l)
	assert.NoError(t, err)
}

func TestEncodeBatch_RejectsInvalidSkippedLocation(t *testing.T) {
	bad := s1
	bad.Latitude = 120
	_, err := EncodeBatch(JSON, delivery.Batch{Location: s2, SkippedLocations: []model.Location{bad}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "skipped location 0")
}

func TestDecodeBatch_RejectsMalformedFeature(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not a feature", `{"location":{"type":"FeatureCollection","geometry":{"type":"Point","coordinates":[0,0]}}}`},
		{"not a point", `{"location":{"type":"Feature","geometry":{"type":"LineString","coordinates":[0,0]}}}`},
		{"short coordinates", `{"location":{"type":"Feature","geometry":{"type":"Point","coordinates":[0]}}}`},
		{"latitude out of range", `{"location":{"type":"Feature","geometry":{"type":"Point","coordinates":[0,91]}}}`},
		{"not json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBatch(JSON, []byte(tt.payload))
			assert.Error(t, err)
		})
	}
}

func TestBatchRoundTrip(t *testing.T) {
	batch := delivery.Batch{Location: s2, SkippedLocations: []model.Location{s1}}
	for _, c := range []Codec{JSON, CBOR} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := EncodeBatch(c, batch)
			require.NoError(t, err)

			got, err := DecodeBatch(c, data)
			require.NoError(t, err)
			assert.Equal(t, batch, got)
		})
	}
}

func TestPresenceRoundTrip(t *testing.T) {
	r := model.Resolution{Accuracy: model.AccuracyBalanced, DesiredInterval: 2500 * time.Millisecond, MinimumDisplacement: 10}
	want := presence.Data{Type: presence.ClientSubscriber, Resolution: &r}
	for _, c := range []Codec{JSON, CBOR} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := EncodePresence(c, want)
			require.NoError(t, err)

			got, err := DecodePresence(c, data)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestDecodePresence_Empty(t *testing.T) {
	got, err := DecodePresence(JSON, nil)
	require.NoError(t, err)
	assert.Equal(t, presence.Data{}, got)
}

func TestDecodePresence_RejectsUnknownAccuracy(t *testing.T) {
	_, err := DecodePresence(JSON, []byte(`{"type":"subscriber","resolution":{"accuracy":"extreme","desiredInterval":1000}}`))
	assert.Error(t, err)
}

func TestCBOR_Deterministic(t *testing.T) {
	batch := delivery.Batch{Location: s2, SkippedLocations: []model.Location{s1}}
	first, err := EncodeBatch(CBOR, batch)
	require.NoError(t, err)
	second, err := EncodeBatch(CBOR, batch)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	asJSON, err := EncodeBatch(JSON, batch)
	require.NoError(t, err)
	assert.Less(t, len(first), len(asJSON), "CBOR payload should be more compact")
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())

	c, err = CodecByName("cbor")
	require.NoError(t, err)
	assert.Equal(t, "cbor", c.Name())

	_, err = CodecByName("xml")
	assert.Error(t, err)
}
