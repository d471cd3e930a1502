package domain

import "time"

// CooldownTracker remembers when each device was last notified about.
// Like LimitStore it relies on its owner for synchronization.
type CooldownTracker struct {
	period time.Duration
	last   map[string]time.Time
}

// NewCooldownTracker creates a tracker; a non-positive period falls back to DefaultCooldown.
func NewCooldownTracker(period time.Duration) *CooldownTracker {
	if period <= 0 {
		period = DefaultCooldown
	}
	return &CooldownTracker{period: period, last: map[string]time.Time{}}
}

// Period returns the cooldown duration.
func (c *CooldownTracker) Period() time.Duration {
	return c.period
}

// SetPeriod changes the cooldown for subsequent checks.
func (c *CooldownTracker) SetPeriod(d time.Duration) error {
	if d <= 0 {
		return ErrInvalidCooldown
	}
	c.period = d
	return nil
}

// LastNotified returns the zero time when id was never notified.
func (c *CooldownTracker) LastNotified(id string) time.Time {
	return c.last[id]
}

// Elapsed reports whether a notification for id is allowed at now.
func (c *CooldownTracker) Elapsed(id string, now time.Time) bool {
	last, ok := c.last[id]
	if !ok {
		return true
	}
	return now.Sub(last) >= c.period
}

// MarkNotified records a notification for id at now.
func (c *CooldownTracker) MarkNotified(id string, now time.Time) {
	c.last[id] = now
}

// Reset forgets id so its next violation is notified immediately.
func (c *CooldownTracker) Reset(id string) {
	delete(c.last, id)
}
