// Package config loads waypoint configuration files.
//
// A configuration is a YAML document. Before it is decoded it is unified
// with the embedded CUE schema (schema.cue), so out-of-range thresholds,
// unknown accuracies, malformed durations and unknown keys are reported with
// their file position instead of surfacing later as engine behavior.
//
// Example:
//
//	default_resolution:
//	  accuracy: balanced
//	  desired_interval: 5s
//	  minimum_displacement: 10
//	max_retry_count: 3
//	codec: json
//	battery: 80
//	trackables:
//	  - id: order-1
//	    destination: {latitude: 51.5, longitude: -0.12}
//	    constraints:
//	      resolutions:
//	        far_without_subscriber:  {accuracy: low, desired_interval: 30s, minimum_displacement: 100}
//	        far_with_subscriber:     {accuracy: balanced, desired_interval: 10s, minimum_displacement: 50}
//	        near_without_subscriber: {accuracy: balanced, desired_interval: 10s, minimum_displacement: 20}
//	        near_with_subscriber:    {accuracy: high, desired_interval: 1s, minimum_displacement: 5}
//	      proximity_threshold: {spatial: 200}
//	      battery_level_threshold: 20
//	      low_battery_multiplier: 2
package config
