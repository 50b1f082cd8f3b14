// Package wire encodes the payloads exchanged over a trackable's channel:
// location samples as GeoJSON Point features, delivery envelopes carrying
// skipped locations, and presence data.
//
// Location bounds are enforced here, at the encoding boundary, in both
// directions. Payloads can be written as JSON or as deterministic CBOR.
package wire
