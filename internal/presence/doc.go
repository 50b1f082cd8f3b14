// Package presence derives connection state from transport events.
//
// Raw events come from three sources: the transport connection, the
// trackable's channel, and presence messages from other participants. The
// Tracker folds them into a single ConnectionState per trackable and reports
// only genuine changes. SubscriberSet keeps the publisher's view of remote
// subscribers and the resolutions they request.
//
// All types here are plain values; they are owned by the executor state and
// copied on Clone.
package presence
