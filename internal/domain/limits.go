package domain

import "maps"

// LimitStore maps stable identifiers to volume ceilings.
//
// It is not safe for concurrent use; the enforcement engine owns it and guards every
// access with its own lock.
type LimitStore struct {
	limits map[string]float64
}

// NewLimitStore copies initial, clamping every value.
func NewLimitStore(initial map[string]float64) *LimitStore {
	s := &LimitStore{limits: make(map[string]float64, len(initial))}
	for id, limit := range initial {
		s.limits[id] = ClampFraction(limit)
	}
	return s
}

// Set stores fraction (clamped to [0, 1]) for id and returns the stored value.
func (s *LimitStore) Set(id string, fraction float64) float64 {
	v := ClampFraction(fraction)
	s.limits[id] = v
	return v
}

// Get returns the limit for id, if any.
func (s *LimitStore) Get(id string) (float64, bool) {
	v, ok := s.limits[id]
	return v, ok
}

// Remove deletes the limit for id. Removing an unknown id is a no-op.
func (s *LimitStore) Remove(id string) {
	delete(s.limits, id)
}

// Len returns the number of configured limits.
func (s *LimitStore) Len() int {
	return len(s.limits)
}

// Snapshot returns a copy of all limits.
func (s *LimitStore) Snapshot() map[string]float64 {
	return maps.Clone(s.limits)
}
