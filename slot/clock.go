// Package slot maps wall-clock time to slot numbers for the delegate
// election schedule.
package slot

import "time"

// Clock answers questions about the fixed-duration time buckets ("slots")
// that bound at most one block proposal each, and the static parameters
// that derive from the active delegate set.
type Clock struct {
	epoch      time.Time
	slotLength time.Duration
	delegates  uint32
	leading    uint8
	powTimeout time.Duration
}

// Config carries the values the node configuration supplies for slot
// scheduling; see config.Config for the on-disk representation.
type Config struct {
	Epoch      time.Time
	SlotLength time.Duration
	Delegates  uint32
	Leading    uint8
	PowTimeout time.Duration
}

// New constructs a Clock from cfg. SlotLength and Delegates must be
// positive; Leading is the PoW prefix length in bytes (spec §4.1/§4.3,
// typically 2-4).
func New(cfg Config) *Clock {
	if cfg.SlotLength <= 0 {
		cfg.SlotLength = 3 * time.Second
	}
	if cfg.Delegates == 0 {
		cfg.Delegates = 1
	}
	if cfg.PowTimeout <= 0 {
		cfg.PowTimeout = 2 * time.Second
	}
	return &Clock{
		epoch:      cfg.Epoch,
		slotLength: cfg.SlotLength,
		delegates:  cfg.Delegates,
		leading:    cfg.Leading,
		powTimeout: cfg.PowTimeout,
	}
}

// SlotOf is a pure function of the configured epoch and slot length; the
// returned number is the "same round" predicate callers use to compare
// two timestamps for membership in one slot.
func (c *Clock) SlotOf(ts time.Time) uint64 {
	delta := ts.Sub(c.epoch)
	if delta < 0 {
		return 0
	}
	return uint64(delta / c.slotLength)
}

// Leading returns the PoW difficulty prefix length in bytes.
func (c *Clock) Leading() uint8 { return c.leading }

// Delegates returns the active delegate set size.
func (c *Clock) Delegates() uint32 { return c.delegates }

// PowTimeout returns the wall-clock deadline given to the PoW oracle for a
// single mint attempt.
func (c *Clock) PowTimeout() time.Duration { return c.powTimeout }

// SlotLength returns the configured slot duration.
func (c *Clock) SlotLength() time.Duration { return c.slotLength }

// SlotStart returns the wall-clock instant at which slot n begins.
func (c *Clock) SlotStart(n uint64) time.Time {
	return c.epoch.Add(time.Duration(n) * c.slotLength)
}
