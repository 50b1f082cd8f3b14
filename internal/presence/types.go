package presence

import (
	"fmt"
	"strings"

	"github.com/roach88/waypoint/internal/model"
)

// ConnectionState is the derived state of a trackable or of a whole
// publisher/subscriber instance.
type ConnectionState int

const (
	// Offline is the initial state.
	Offline ConnectionState = iota
	Online
	// Failed is terminal for delivery until the trackable is added again.
	Failed
	// Closed is terminal; it is reached when the instance stops.
	Closed
)

func (s ConnectionState) String() string {
	switch s {
	case Offline:
		return "offline"
	case Online:
		return "online"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Action is a presence message action.
type Action int

const (
	ActionUnknown Action = iota
	ActionEnter
	ActionUpdate
	ActionLeave
	ActionPresent
	ActionAbsent
)

var actionNames = map[Action]string{
	ActionUnknown: "unknown",
	ActionEnter:   "enter",
	ActionUpdate:  "update",
	ActionLeave:   "leave",
	ActionPresent: "present",
	ActionAbsent:  "absent",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction maps a wire name onto an Action. Names it does not know map to
// ActionUnknown rather than failing, so newer peers do not break older ones.
func ParseAction(s string) Action {
	want := strings.ToLower(strings.TrimSpace(s))
	for a, name := range actionNames {
		if name == want {
			return a
		}
	}
	return ActionUnknown
}

// ClientType is the role announced in presence data.
type ClientType string

const (
	ClientPublisher  ClientType = "publisher"
	ClientSubscriber ClientType = "subscriber"
)

// Data is the payload a participant attaches to its presence.
type Data struct {
	Type       ClientType        `json:"type"`
	Resolution *model.Resolution `json:"resolution,omitempty"`
}

// Event is a presence message for one trackable channel.
type Event struct {
	Action   Action
	ClientID string
	Data     Data
}

// ChannelState is the raw state of a trackable's transport channel.
type ChannelState int

const (
	ChannelInitialized ChannelState = iota
	ChannelAttaching
	ChannelAttached
	ChannelDetaching
	ChannelDetached
	ChannelSuspended
	ChannelFailed
)

// TransportState is the raw state of the transport connection.
type TransportState int

const (
	TransportInitialized TransportState = iota
	TransportConnecting
	TransportConnected
	TransportDisconnected
	TransportSuspended
	TransportClosing
	TransportClosed
	TransportFailed
)

// StateChange is a genuine transition, surfaced to observers.
type StateChange struct {
	Previous ConnectionState
	Current  ConnectionState
	// Err is set when the transition was caused by a failure.
	Err error
}
