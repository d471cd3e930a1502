package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Handle is the numeric device id assigned by the host for the current session.
// It is never persisted.
type Handle uint32

// TransportClass describes how an output endpoint is attached to the machine.
type TransportClass string

const (
	TransportBuiltIn     TransportClass = "built-in"
	TransportBluetooth   TransportClass = "bluetooth"
	TransportUSB         TransportClass = "usb"
	TransportHDMI        TransportClass = "hdmi"
	TransportDisplayPort TransportClass = "displayport"
	TransportThunderbolt TransportClass = "thunderbolt"
	TransportOther       TransportClass = "other"
)

// ParseTransportClass maps a loose label onto a TransportClass. Unknown labels map to TransportOther.
func ParseTransportClass(s string) TransportClass {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "built-in", "builtin", "built_in", "internal":
		return TransportBuiltIn
	case "bluetooth", "bt":
		return TransportBluetooth
	case "usb":
		return TransportUSB
	case "hdmi":
		return TransportHDMI
	case "displayport", "display-port", "dp":
		return TransportDisplayPort
	case "thunderbolt", "tb":
		return TransportThunderbolt
	default:
		return TransportOther
	}
}

// Device is one output endpoint as seen by the latest snapshot.
// Two devices with the same StableID are the same logical device even if Handle differs.
type Device struct {
	Handle    Handle
	StableID  string
	Name      string
	Transport TransportClass
	// Volume is only meaningful when HasVolume is true.
	Volume    float64
	HasVolume bool
}

// LiveVolume returns the volume reading, or false when the device exposes no volume control.
func (d Device) LiveVolume() (float64, bool) {
	return d.Volume, d.HasVolume
}

// EnforcementMode decides what happens when a device exceeds its limit.
type EnforcementMode string

const (
	ModeHardCap EnforcementMode = "hardCap"
	ModeWarning EnforcementMode = "warning"
)

// ParseMode accepts the canonical names plus a few spellings used on the command line.
func ParseMode(s string) (EnforcementMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hardcap", "hard-cap", "hard_cap", "cap":
		return ModeHardCap, nil
	case "warning", "warn":
		return ModeWarning, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Valid reports whether m is one of the known modes.
func (m EnforcementMode) Valid() bool {
	return m == ModeHardCap || m == ModeWarning
}

const (
	// DefaultCooldown is the minimum gap between two notifications for the same device.
	DefaultCooldown = 30 * time.Second
	// DefaultLimitSuggestion is offered by UIs when a device has no limit yet.
	DefaultLimitSuggestion = 0.75
)

// Settings is the persisted user configuration for the enforcement engine.
type Settings struct {
	Mode     EnforcementMode
	Cooldown time.Duration
	Limits   map[string]float64
}

// DefaultSettings returns hard-cap mode, the default cooldown and no limits.
func DefaultSettings() Settings {
	return Settings{
		Mode:     ModeHardCap,
		Cooldown: DefaultCooldown,
		Limits:   map[string]float64{},
	}
}

// Validate checks if the settings can be used as-is.
func (s Settings) Validate() error {
	if !s.Mode.Valid() {
		return ErrInvalidMode
	}
	if s.Cooldown <= 0 {
		return ErrInvalidCooldown
	}
	for id := range s.Limits {
		if strings.TrimSpace(id) == "" {
			return ErrInvalidIdentifier
		}
	}
	return nil
}

// Normalize repairs whatever it can: unknown mode falls back to hard cap, a
// non-positive cooldown to the default, limits are clamped and empty ids dropped.
func (s Settings) Normalize() Settings {
	out := Settings{
		Mode:     s.Mode,
		Cooldown: s.Cooldown,
		Limits:   make(map[string]float64, len(s.Limits)),
	}
	if !out.Mode.Valid() {
		out.Mode = ModeHardCap
	}
	if out.Cooldown <= 0 {
		out.Cooldown = DefaultCooldown
	}
	for id, limit := range s.Limits {
		if strings.TrimSpace(id) == "" {
			continue
		}
		out.Limits[id] = ClampFraction(limit)
	}
	return out
}

// ClampFraction forces f into [0, 1]. NaN becomes 0.
func ClampFraction(f float64) float64 {
	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

// Percent renders a fraction as a whole percentage, the way the menu shows it.
func Percent(f float64) int {
	return int(math.Round(ClampFraction(f) * 100))
}

// Violation is the payload of a limit violation notification.
type Violation struct {
	Device    Device
	Attempted float64
	Limit     float64
	Mode      EnforcementMode
}
