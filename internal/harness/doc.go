// Package harness runs scripted tracking scenarios against a publisher and
// its subscribers on the in-memory transport.
//
// A scenario is a YAML file listing steps (track a trackable, feed a
// location, inject publish failures, connect a subscriber, ...) and
// assertions over the resulting trace. After every step the harness waits
// until the hub and every engine are idle, so a step's effects, retries
// included, are complete before the next step starts.
//
// # Trace determinism
//
// One step can fan out into callbacks that race each other (a channel
// attach and its state listener, for instance). Each instance's own events
// are totally ordered, but the interleaving across instances and across
// independent callbacks is not. The trace therefore orders the events of a
// step canonically: by source, then trackable, then event group, keeping
// emission order inside a group. Sequence numbers in the trace are trace
// positions, not engine sequence numbers.
//
// Every event is also written to a journal (an in-memory SQLite store unless
// one is supplied), and outcome assertions are evaluated against it.
//
// To regenerate golden traces:
//
//	go test ./internal/harness -update
package harness
