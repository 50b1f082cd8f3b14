package presence

import (
	"sort"

	"github.com/roach88/waypoint/internal/model"
)

// Subscriber is a remote subscriber seen through presence.
type Subscriber struct {
	ClientID   string
	Resolution *model.Resolution
}

// SubscriberSet is the publisher's view of the subscribers on one
// trackable's channel, keyed by client ID.
type SubscriberSet map[string]Subscriber

// Apply folds a presence event into the set and reports whether the set (or
// a subscriber's requested resolution) changed. Enter, present and update
// events count only when they come from a subscriber; leave and absent
// remove the client whatever data they carry. Unknown actions are ignored.
func (s SubscriberSet) Apply(ev Event) bool {
	if ev.ClientID == "" {
		return false
	}

	switch ev.Action {
	case ActionEnter, ActionPresent, ActionUpdate:
		if ev.Data.Type != ClientSubscriber {
			return false
		}
		next := Subscriber{ClientID: ev.ClientID, Resolution: copyResolution(ev.Data.Resolution)}
		prev, existed := s[ev.ClientID]
		s[ev.ClientID] = next
		return !existed || !sameResolution(prev.Resolution, next.Resolution)

	case ActionLeave, ActionAbsent:
		if _, existed := s[ev.ClientID]; !existed {
			return false
		}
		delete(s, ev.ClientID)
		return true

	default:
		return false
	}
}

// Requests returns the resolutions requested by subscribers, ordered by
// client ID. Subscribers without a preference do not contribute.
func (s SubscriberSet) Requests() []model.Resolution {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []model.Resolution
	for _, id := range ids {
		if r := s[id].Resolution; r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// Clone returns a deep copy.
func (s SubscriberSet) Clone() SubscriberSet {
	out := make(SubscriberSet, len(s))
	for id, sub := range s {
		out[id] = Subscriber{ClientID: sub.ClientID, Resolution: copyResolution(sub.Resolution)}
	}
	return out
}

func copyResolution(r *model.Resolution) *model.Resolution {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

func sameResolution(a, b *model.Resolution) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
