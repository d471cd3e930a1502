package domain

import "errors"

var (
	// ErrInvalidIdentifier indicates an empty stable identifier.
	ErrInvalidIdentifier = errors.New("stable identifier must not be empty")

	// ErrInvalidMode indicates an unknown enforcement mode.
	ErrInvalidMode = errors.New("enforcement mode must be hardCap or warning")

	// ErrInvalidCooldown indicates a non-positive cooldown period.
	ErrInvalidCooldown = errors.New("cooldown must be positive")

	// ErrAlreadyRunning is returned when the monitor is started twice.
	ErrAlreadyRunning = errors.New("monitor is already running")

	// ErrDeviceNotFound is returned by hosts for handles that are no longer enumerated.
	ErrDeviceNotFound = errors.New("audio device not found")

	// ErrNoVolumeControl is returned when setting the volume of a device without one.
	ErrNoVolumeControl = errors.New("audio device has no volume control")

	// ErrBackendUnavailable indicates the requested host backend cannot run here.
	ErrBackendUnavailable = errors.New("audio backend unavailable on this platform")
)
