package testutil

import (
	"sync"

	"github.com/roach88/waypoint/internal/model"
)

// RecordingSampler records every resolution it is configured with.
type RecordingSampler struct {
	mu         sync.Mutex
	configured []model.Resolution
}

// Configure implements publisher.Sampler.
func (s *RecordingSampler) Configure(r model.Resolution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configured = append(s.configured, r)
}

// Configured returns the resolutions seen so far, oldest first.
func (s *RecordingSampler) Configured() []model.Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Resolution(nil), s.configured...)
}

// Last returns the latest resolution, if any.
func (s *RecordingSampler) Last() (model.Resolution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.configured) == 0 {
		return model.Resolution{}, false
	}
	return s.configured[len(s.configured)-1], true
}
