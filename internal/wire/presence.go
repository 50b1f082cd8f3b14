package wire

import (
	"fmt"
	"time"

	"github.com/roach88/waypoint/internal/model"
	"github.com/roach88/waypoint/internal/presence"
)

// PresenceData is the presence payload on the wire.
type PresenceData struct {
	Type       string      `json:"type"`
	Resolution *Resolution `json:"resolution,omitempty"`
}

// Resolution is a resolution on the wire. DesiredInterval is in
// milliseconds and MinimumDisplacement in meters.
type Resolution struct {
	Accuracy            model.Accuracy `json:"accuracy"`
	DesiredInterval     int64          `json:"desiredInterval"`
	MinimumDisplacement float64        `json:"minimumDisplacement"`
}

func resolutionToWire(r model.Resolution) *Resolution {
	return &Resolution{
		Accuracy:            r.Accuracy,
		DesiredInterval:     r.DesiredInterval.Milliseconds(),
		MinimumDisplacement: r.MinimumDisplacement,
	}
}

func (r Resolution) model() model.Resolution {
	return model.Resolution{
		Accuracy:            r.Accuracy,
		DesiredInterval:     time.Duration(r.DesiredInterval) * time.Millisecond,
		MinimumDisplacement: r.MinimumDisplacement,
	}
}

// EncodePresence marshals presence data.
func EncodePresence(c Codec, d presence.Data) ([]byte, error) {
	p := PresenceData{Type: string(d.Type)}
	if d.Resolution != nil {
		if err := d.Resolution.Validate(); err != nil {
			return nil, fmt.Errorf("encode presence: %w", err)
		}
		p.Resolution = resolutionToWire(*d.Resolution)
	}
	data, err := c.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal presence: %w", err)
	}
	return data, nil
}

// DecodePresence unmarshals presence data. An empty payload decodes to the
// zero Data; an unrecognised client type is passed through so callers can
// ignore it.
func DecodePresence(c Codec, data []byte) (presence.Data, error) {
	if len(data) == 0 {
		return presence.Data{}, nil
	}
	var p PresenceData
	if err := c.Unmarshal(data, &p); err != nil {
		return presence.Data{}, fmt.Errorf("unmarshal presence: %w", err)
	}
	d := presence.Data{Type: presence.ClientType(p.Type)}
	if p.Resolution != nil {
		r := p.Resolution.model()
		if err := r.Validate(); err != nil {
			return presence.Data{}, fmt.Errorf("decode presence: %w", err)
		}
		d.Resolution = &r
	}
	return d, nil
}
