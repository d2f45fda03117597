package engine

import (
	"sync"
	"time"

	"github.com/me/slotq/pkg/model"
)

// Clock maps the present moment onto a slot. The engine never reads
// wall time directly so tests can drive slots by hand.
type Clock interface {
	Now() model.Slot
}

// WallClock derives the current slot from wall time: slot N covers
// [genesis + N*d, genesis + (N+1)*d).
type WallClock struct {
	Genesis      time.Time
	SlotDuration time.Duration
}

// Now returns the slot covering the current instant. Instants before
// genesis map to slot zero.
func (c WallClock) Now() model.Slot {
	elapsed := time.Since(c.Genesis)
	if elapsed < 0 {
		return 0
	}
	return model.Slot(elapsed / c.SlotDuration)
}

// ManualClock is a fixed clock advanced explicitly. Tests use it to
// reach target slots without sleeping.
type ManualClock struct {
	mu   sync.Mutex
	slot model.Slot
}

// NewManualClock creates a manual clock positioned at slot.
func NewManualClock(slot model.Slot) *ManualClock {
	return &ManualClock{slot: slot}
}

// Now returns the clock's current slot.
func (c *ManualClock) Now() model.Slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slot
}

// Set moves the clock to slot. The clock never moves backwards.
func (c *ManualClock) Set(slot model.Slot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slot > c.slot {
		c.slot = slot
	}
}

// Advance moves the clock forward by n slots.
func (c *ManualClock) Advance(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slot += model.Slot(n)
}
