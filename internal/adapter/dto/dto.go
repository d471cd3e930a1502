// Package dto holds the JSON shapes shared by the web API, the websocket feed and the
// MQTT publisher.
package dto

import (
	"time"

	"tinnicap/internal/domain"
	"tinnicap/internal/usecase"
)

// Device is one row of the device listing.
type Device struct {
	ID            string  `json:"id"`
	Handle        uint32  `json:"handle"`
	Name          string  `json:"name"`
	Transport     string  `json:"transport"`
	HardwareUID   bool    `json:"hardwareUid"`
	Volume        float64 `json:"volume"`
	VolumePercent int     `json:"volumePercent"`
	HasVolume     bool    `json:"hasVolume"`
	Limit         float64 `json:"limit,omitempty"`
	LimitPercent  int     `json:"limitPercent,omitempty"`
	HasLimit      bool    `json:"hasLimit"`
	State         string  `json:"state,omitempty"`
}

// FromDevice converts a bare snapshot entry.
func FromDevice(d domain.Device) Device {
	return Device{
		ID:            d.StableID,
		Handle:        uint32(d.Handle),
		Name:          d.Name,
		Transport:     string(d.Transport),
		HardwareUID:   domain.HasHardwareUID(d.StableID),
		Volume:        d.Volume,
		VolumePercent: domain.Percent(d.Volume),
		HasVolume:     d.HasVolume,
	}
}

// FromStatus converts a snapshot entry annotated with its limit.
func FromStatus(s usecase.DeviceStatus) Device {
	out := FromDevice(s.Device)
	out.HasLimit = s.HasLimit
	if s.HasLimit {
		out.Limit = s.Limit
		out.LimitPercent = domain.Percent(s.Limit)
	}
	out.State = s.State.String()
	return out
}

// FromStatuses converts a whole listing.
func FromStatuses(statuses []usecase.DeviceStatus) []Device {
	out := make([]Device, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, FromStatus(s))
	}
	return out
}

// Violation is the payload of a limitViolationNotified event.
type Violation struct {
	Device           Device  `json:"device"`
	Attempted        float64 `json:"attempted"`
	AttemptedPercent int     `json:"attemptedPercent"`
	Limit            float64 `json:"limit"`
	LimitPercent     int     `json:"limitPercent"`
	Mode             string  `json:"mode"`
}

// Event is an engine event on the wire.
type Event struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	At        time.Time  `json:"at"`
	Violation *Violation `json:"violation,omitempty"`
}

// FromEvent converts an engine event.
func FromEvent(ev usecase.Event) Event {
	out := Event{ID: ev.ID, Kind: string(ev.Kind), At: ev.At}
	if v := ev.Violation; v != nil {
		out.Violation = &Violation{
			Device:           FromDevice(v.Device),
			Attempted:        v.Attempted,
			AttemptedPercent: domain.Percent(v.Attempted),
			Limit:            v.Limit,
			LimitPercent:     domain.Percent(v.Limit),
			Mode:             string(v.Mode),
		}
	}
	return out
}

// Settings mirrors domain.Settings with the same keys as the settings file.
type Settings struct {
	EnforcementMode string             `json:"enforcementMode"`
	CooldownSeconds float64            `json:"cooldownSeconds"`
	DeviceLimits    map[string]float64 `json:"deviceLimits"`
}

// FromSettings converts engine settings.
func FromSettings(s domain.Settings) Settings {
	limits := s.Limits
	if limits == nil {
		limits = map[string]float64{}
	}
	return Settings{
		EnforcementMode: string(s.Mode),
		CooldownSeconds: s.Cooldown.Seconds(),
		DeviceLimits:    limits,
	}
}

// Notice is returned after a user mutation, mirroring the confirmation banners.
type Notice struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}
