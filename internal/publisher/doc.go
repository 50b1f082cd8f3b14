// Package publisher is the publishing side of the tracking engine.
//
// A Publisher owns one transport connection and a set of trackables. Every
// public operation, transport callback and location sample becomes a work
// item on a single engine.Executor; nothing else mutates publisher state.
//
// Per trackable it keeps a presence.Tracker, the set of remote subscribers,
// the resolution computed by the policy and a delivery.Buffer. Accepted
// samples are published as wire envelopes with bounded retry; the aggregate
// of all trackable resolutions configures the Sampler.
package publisher
