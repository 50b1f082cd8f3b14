package testutil

import "sync"

// FakeBattery reports a settable battery level.
type FakeBattery struct {
	mu          sync.Mutex
	level       float64
	unavailable bool
}

// NewFakeBattery creates a battery reporting level.
func NewFakeBattery(level float64) *FakeBattery {
	return &FakeBattery{level: level}
}

// Set changes the reported level and makes it available.
func (b *FakeBattery) Set(level float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.level = level
	b.unavailable = false
}

// SetUnavailable makes the battery report no reading.
func (b *FakeBattery) SetUnavailable() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unavailable = true
}

// CurrentBatteryPercentage implements resolution.Battery.
func (b *FakeBattery) CurrentBatteryPercentage() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unavailable {
		return 0, false
	}
	return b.level, true
}
