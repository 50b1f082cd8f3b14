package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/waypoint/internal/config"
	"github.com/roach88/waypoint/internal/model"
	"github.com/roach88/waypoint/internal/resolution"
)

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	Config    string
	Trackable string        // empty resolves every configured trackable
	Distance  float64       // meters to destination
	ETA       time.Duration // time to arrival
	Battery   float64
	Remote    []string // subscriber requests, e.g. "high/1s/5m"

	// Subscribers counts subscribers present without a preference.
	Subscribers int

	// now anchors the ETA. Tests pin it.
	now func() time.Time
}

// TrackableResolution is the resolution chosen for one trackable.
type TrackableResolution struct {
	ID          string `json:"id"`
	Constrained bool   `json:"constrained"`
	Near        bool   `json:"near"`
	Resolution  string `json:"resolution"`
}

// ResolveResult holds the per-trackable resolutions and their aggregate.
type ResolveResult struct {
	Trackables []TrackableResolution `json:"trackables"`
	Aggregate  string                `json:"aggregate"`
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts, now: time.Now}

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Compute resolutions for a situation",
		Long: `Compute the resolution the publisher would choose for configured
trackables, given a distance or ETA to the destination, a battery level
and the resolutions requested by subscribers.

Resolutions are written as accuracy/interval/displacement, the same form
the publisher logs them in.

Examples:
  waypoint resolve --config ./waypoint.yaml
  waypoint resolve --config ./waypoint.yaml --trackable order-1 --distance 150
  waypoint resolve --trackable order-1 --remote high/1s/5m --battery 10
  waypoint resolve --config ./waypoint.yaml --subscribers 1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "configuration file (default: built-in defaults)")
	cmd.Flags().StringVar(&opts.Trackable, "trackable", "", "trackable to resolve (default: all configured)")
	cmd.Flags().Float64Var(&opts.Distance, "distance", 0, "distance to destination in meters")
	cmd.Flags().DurationVar(&opts.ETA, "eta", 0, "estimated time to arrival")
	cmd.Flags().Float64Var(&opts.Battery, "battery", 0, "battery level in percent (default: configured)")
	cmd.Flags().StringArrayVar(&opts.Remote, "remote", nil, "resolution requested by a subscriber (repeatable)")
	cmd.Flags().IntVar(&opts.Subscribers, "subscribers", 0, "subscribers present without a requested resolution")

	return cmd
}

func runResolve(opts *ResolveOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = loaded
	}

	remote := make([]model.Resolution, len(opts.Remote))
	for i, s := range opts.Remote {
		r, err := ParseResolution(s)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --remote", err)
		}
		remote[i] = r
	}

	now := opts.now()
	var reading resolution.Reading
	if cmd.Flags().Changed("distance") {
		d := opts.Distance
		reading.DistanceToDestination = &d
	}
	if cmd.Flags().Changed("eta") {
		eta := now.Add(opts.ETA)
		reading.EstimatedArrival = &eta
	}

	policyOpts := []resolution.PolicyOption{resolution.WithClock(func() time.Time { return now })}
	if cmd.Flags().Changed("battery") {
		level := opts.Battery
		policyOpts = append(policyOpts, resolution.WithBattery(resolution.BatteryFunc(func() (float64, bool) {
			return level, true
		})))
	}
	policy := cfg.Policy(policyOpts...)

	trackables := cfg.Trackables
	if opts.Trackable != "" {
		t, ok := cfg.Trackable(opts.Trackable)
		if !ok {
			formatter.VerboseLog("%s is not configured, resolving without constraints", opts.Trackable)
			t = model.Trackable{ID: model.NormalizeID(opts.Trackable)}
		}
		trackables = []model.Trackable{t}
	}
	if len(trackables) == 0 {
		msg := "no trackables to resolve: pass --trackable or configure trackables"
		_ = formatter.Error(ErrCodeNoTrackables, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	result := ResolveResult{Trackables: make([]TrackableResolution, 0, len(trackables))}
	resolved := make([]model.Resolution, 0, len(trackables))
	for _, t := range trackables {
		r := policy.Resolve(resolution.Request{
			Trackable:      t,
			Subscribers:    opts.Subscribers + len(remote),
			RemoteRequests: remote,
			Reading:        reading,
		})
		resolved = append(resolved, r)

		tr := TrackableResolution{ID: t.ID, Constrained: t.Constraints != nil, Resolution: r.String()}
		if t.Constraints != nil {
			tr.Near = resolution.IsNear(t.Constraints.ProximityThreshold, reading, now)
		}
		result.Trackables = append(result.Trackables, tr)
	}
	agg, err := policy.ResolveSet(resolved)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to aggregate", err)
	}
	result.Aggregate = agg.String()

	if formatter.JSON() {
		return formatter.Success(result)
	}
	w := formatter.Writer
	for _, tr := range result.Trackables {
		proximity := "unconstrained"
		if tr.Constrained {
			proximity = "far"
			if tr.Near {
				proximity = "near"
			}
		}
		fmt.Fprintf(w, "%s: %s (%s)\n", tr.ID, tr.Resolution, proximity)
	}
	fmt.Fprintf(w, "aggregate: %s\n", result.Aggregate)
	return nil
}

// ParseResolution parses the accuracy/interval/displacement form produced
// by model.Resolution.String, e.g. "high/1s/5m".
func ParseResolution(s string) (model.Resolution, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return model.Resolution{}, fmt.Errorf("resolution %q: want accuracy/interval/displacement", s)
	}
	accuracy, err := model.ParseAccuracy(parts[0])
	if err != nil {
		return model.Resolution{}, fmt.Errorf("resolution %q: %w", s, err)
	}
	interval, err := time.ParseDuration(parts[1])
	if err != nil {
		return model.Resolution{}, fmt.Errorf("resolution %q: %w", s, err)
	}
	displacement, err := strconv.ParseFloat(strings.TrimSuffix(parts[2], "m"), 64)
	if err != nil {
		return model.Resolution{}, fmt.Errorf("resolution %q: invalid displacement %q", s, parts[2])
	}

	r := model.Resolution{Accuracy: accuracy, DesiredInterval: interval, MinimumDisplacement: displacement}
	if err := r.Validate(); err != nil {
		return model.Resolution{}, err
	}
	return r, nil
}
