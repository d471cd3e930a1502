package domain

// DeviceState is the per-tick classification of one device.
type DeviceState int

const (
	StateUnconstrained DeviceState = iota
	StateWithinLimit
	StateViolation
)

func (s DeviceState) String() string {
	switch s {
	case StateUnconstrained:
		return "unconstrained"
	case StateWithinLimit:
		return "within-limit"
	case StateViolation:
		return "violation"
	default:
		return "unknown"
	}
}

// Decision is what the engine must do for one device on one tick.
type Decision struct {
	State DeviceState
	// Notify is set when a violation notification should be emitted now.
	Notify bool
	// Correct is set when the device volume must be clamped to Limit.
	Correct   bool
	Attempted float64
	Limit     float64
}

// EnforcementService provides pure domain logic for the enforcement engine.
// This service has no side effects and no dependencies on external concerns.
type EnforcementService struct{}

// NewEnforcementService creates a new enforcement service.
func NewEnforcementService() *EnforcementService {
	return &EnforcementService{}
}

// Classify determines the state of dev against an optional limit.
// A device without a volume reading is unconstrained for this tick.
func (s *EnforcementService) Classify(dev Device, limit float64, hasLimit bool) DeviceState {
	volume, ok := dev.LiveVolume()
	if !hasLimit || !ok {
		return StateUnconstrained
	}
	// Strict comparison: a limit of 1.0 is never violated.
	if volume > limit {
		return StateViolation
	}
	return StateWithinLimit
}

// Decide combines classification, mode and cooldown into a Decision.
// cooldownElapsed must be true when the device was never notified.
func (s *EnforcementService) Decide(dev Device, limit float64, hasLimit bool, mode EnforcementMode, cooldownElapsed bool) Decision {
	state := s.Classify(dev, limit, hasLimit)
	d := Decision{State: state, Attempted: dev.Volume, Limit: limit}
	if state != StateViolation {
		return d
	}
	d.Notify = cooldownElapsed
	d.Correct = mode == ModeHardCap
	return d
}
