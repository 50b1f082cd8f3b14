package presence

// FromChannelState maps a channel state: attached is online, failed is
// failed, anything else is offline.
func FromChannelState(s ChannelState) ConnectionState {
	switch s {
	case ChannelAttached:
		return Online
	case ChannelFailed:
		return Failed
	default:
		return Offline
	}
}

// FromTransportState maps a transport connection state: connected is online,
// failed is failed, anything else is offline.
func FromTransportState(s TransportState) ConnectionState {
	switch s {
	case TransportConnected:
		return Online
	case TransportFailed:
		return Failed
	default:
		return Offline
	}
}

// FromAction maps a presence action. ok is false for actions that carry no
// state information.
func FromAction(a Action) (state ConnectionState, ok bool) {
	switch a {
	case ActionEnter, ActionPresent, ActionUpdate:
		return Online, true
	case ActionLeave, ActionAbsent:
		return Offline, true
	default:
		return Offline, false
	}
}
